package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.securetalk/config.toml.
type Config struct {
	DefaultSession string       `toml:"default_session"`
	Server         ServerConfig `toml:"server"`
	Store          StoreConfig  `toml:"store"`
	Stream         StreamConfig `toml:"stream"`
	Log            LogConfig    `toml:"log"`
}

// ServerConfig locates the SecureTalk backend.
type ServerConfig struct {
	APIURL         string   `toml:"api_url"`
	StreamURL      string   `toml:"stream_url"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// StoreConfig selects the cache backend.
type StoreConfig struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// StreamConfig controls event-stream reconnection and keepalive.
type StreamConfig struct {
	Reconnect    bool     `toml:"reconnect"`
	BaseDelay    Duration `toml:"base_delay"`
	MaxDelay     Duration `toml:"max_delay"`
	MaxAttempts  int      `toml:"max_attempts"`
	PingInterval Duration `toml:"ping_interval"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Duration is a time.Duration written as "1s", "250ms" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server: ServerConfig{
			APIURL:         "http://127.0.0.1:8000/securetalk/api",
			StreamURL:      "ws://127.0.0.1:8000",
			RequestTimeout: Duration{15 * time.Second},
		},
		Store: StoreConfig{Backend: BackendSQLite},
		Stream: StreamConfig{
			Reconnect:    true,
			BaseDelay:    Duration{time.Second},
			MaxDelay:     Duration{30 * time.Second},
			MaxAttempts:  10,
			PingInterval: Duration{54 * time.Second},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		d := Default()
		return &d, nil
	}
	return cfg, err
}

// ApplyEnv loads envPath (if present) into the process environment and
// overrides config fields from TALK_* variables. Variables already set in
// the environment win over the file.
func (c *Config) ApplyEnv(envPath string) error {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	setString(&c.Server.APIURL, "TALK_API_URL")
	setString(&c.Server.StreamURL, "TALK_STREAM_URL")
	setString(&c.Store.Backend, "TALK_STORE_BACKEND")
	setString(&c.Store.RedisAddr, "TALK_REDIS_ADDR")
	setString(&c.Store.RedisPassword, "TALK_REDIS_PASSWORD")
	setString(&c.Log.Level, "TALK_LOG_LEVEL")
	if v := os.Getenv("TALK_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TALK_REDIS_DB: %w", err)
		}
		c.Store.RedisDB = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	for key, raw := range map[string]string{"server.api_url": c.Server.APIURL, "server.stream_url": c.Server.StreamURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: invalid URL %q", key, raw)
		}
	}
	switch c.Store.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Stream.BaseDelay.Duration <= 0 || c.Stream.MaxDelay.Duration < c.Stream.BaseDelay.Duration {
		return fmt.Errorf("stream: need 0 < base_delay <= max_delay, got %s and %s", c.Stream.BaseDelay, c.Stream.MaxDelay)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Stream.MaxDelay = Duration{time.Minute}
	if err := Save(path, &cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Stream.MaxDelay.Duration != time.Minute {
		t.Errorf("MaxDelay = %s, want 1m", loaded.Stream.MaxDelay)
	}
}

func TestLoadKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "default_session = \"work\"\n\n[stream]\nbase_delay = \"250ms\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stream.BaseDelay.Duration != 250*time.Millisecond {
		t.Errorf("BaseDelay = %s, want 250ms", cfg.Stream.BaseDelay)
	}
	if !cfg.Stream.Reconnect {
		t.Error("Reconnect default lost")
	}
	if cfg.Server.APIURL != Default().Server.APIURL {
		t.Errorf("APIURL = %q, want default", cfg.Server.APIURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Store.Backend != BackendSQLite {
		t.Errorf("backend = %q, want sqlite", cfg.Store.Backend)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestApplyEnv(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "TALK_API_URL=http://from-file:9000/securetalk/api\nTALK_STORE_BACKEND=redis\nTALK_REDIS_ADDR=localhost:6379\n"
	if err := os.WriteFile(envPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TALK_API_URL", "http://from-env:8000/securetalk/api")
	t.Setenv("TALK_REDIS_DB", "3")
	// godotenv sets these in the process; make sure they are restored.
	t.Setenv("TALK_STORE_BACKEND", "")
	t.Setenv("TALK_REDIS_ADDR", "")
	_ = os.Unsetenv("TALK_STORE_BACKEND")
	_ = os.Unsetenv("TALK_REDIS_ADDR")

	cfg := Default()
	if err := cfg.ApplyEnv(envPath); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.APIURL != "http://from-env:8000/securetalk/api" {
		t.Errorf("APIURL = %q, environment should win over .env", cfg.Server.APIURL)
	}
	if cfg.Store.Backend != BackendRedis || cfg.Store.RedisAddr != "localhost:6379" || cfg.Store.RedisDB != 3 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	if err := cfg.ApplyEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad api url", func(c *Config) { c.Server.APIURL = "not a url" }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }},
		{"redis without addr", func(c *Config) { c.Store.Backend = BackendRedis }},
		{"max below base", func(c *Config) { c.Stream.MaxDelay = Duration{time.Millisecond} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
	d := Default()
	if err := d.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

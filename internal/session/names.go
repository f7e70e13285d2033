package session

import (
	"fmt"
	"os"
	"strings"

	"github.com/matheus3301/securetalk/internal/config"
)

// DefaultSessionName is used when neither a flag, TALK_SESSION nor the
// config file names a session.
const DefaultSessionName = "main"

const maxNameLen = 64

// ValidateName checks that name can be used as a directory and as a redis
// key segment: 1 to 64 lowercase letters, digits, '-' or '_', starting with a
// letter or digit.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("invalid session name %q: length must be 1 to %d", name, maxNameLen)
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case (r == '-' || r == '_') && i > 0:
		default:
			return fmt.Errorf("invalid session name %q: unexpected %q at %d", name, r, i)
		}
	}
	return nil
}

// Resolve picks the session name: the flag, then $TALK_SESSION, then the
// config file's default_session, then "main". The result is validated.
func Resolve(flagOverride string) (string, error) {
	name := flagOverride
	if name == "" {
		name = strings.TrimSpace(os.Getenv("TALK_SESSION"))
	}
	if name == "" {
		if cfg, err := config.Load(ConfigPath()); err == nil {
			name = cfg.DefaultSession
		}
	}
	if name == "" {
		name = DefaultSessionName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

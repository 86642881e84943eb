package credentials

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoCredentials is returned by Load when the source holds nothing
var ErrNoCredentials = errors.New("no credentials found")

// Tokens is the persisted first-party OAuth credential
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt is a unix timestamp in milliseconds. Zero means unknown.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// Expiry returns ExpiresAt as a time, or the zero time when unknown
func (t *Tokens) Expiry() time.Time {
	if t.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.ExpiresAt)
}

// Source loads and persists Tokens
type Source interface {
	Load() (*Tokens, error)
	Save(tokens *Tokens) error
	Name() string
}

// Open returns the Source named by kind ("fs", "env" or "keychain")
func Open(kind, path string, logger zerolog.Logger) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "fs", "":
		if path == "" {
			return nil, errors.New("fs credentials source requires a path")
		}
		return NewFSSource(path), nil
	case "env":
		return NewEnvSource(), nil
	case "keychain":
		return NewKeychainSource(logger), nil
	default:
		return nil, fmt.Errorf("unknown credentials source %q", kind)
	}
}

package credentials

import (
	"strconv"
	"sync"

	"github.com/dvcrn/studio-bridge/internal/env"
)

const (
	EnvAccessToken  = "STUDIO_ACCESS_TOKEN"
	EnvRefreshToken = "STUDIO_REFRESH_TOKEN"
	EnvExpiresAt    = "STUDIO_TOKEN_EXPIRES_AT"
)

// EnvSource reads tokens from the environment. Saved tokens live in memory
// for the rest of the process.
type EnvSource struct {
	mu    sync.RWMutex
	saved *Tokens
}

func NewEnvSource() *EnvSource {
	return &EnvSource{}
}

func (e *EnvSource) Name() string {
	return "env"
}

func (e *EnvSource) Load() (*Tokens, error) {
	e.mu.RLock()
	if e.saved != nil {
		t := *e.saved
		e.mu.RUnlock()
		return &t, nil
	}
	e.mu.RUnlock()

	access, _ := env.Get(EnvAccessToken)
	if access == "" {
		return nil, ErrNoCredentials
	}
	t := &Tokens{AccessToken: access}
	t.RefreshToken, _ = env.Get(EnvRefreshToken)
	if v, ok := env.Get(EnvExpiresAt); ok && v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.ExpiresAt = ms
		}
	}
	return t, nil
}

func (e *EnvSource) Save(tokens *Tokens) error {
	t := *tokens
	e.mu.Lock()
	e.saved = &t
	e.mu.Unlock()
	return nil
}

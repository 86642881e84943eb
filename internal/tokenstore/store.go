package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/dvcrn/studio-bridge/internal/logger"
)

// AuthTokenConfigKey is the engine configuration key that carries the
// first-party access token.
const AuthTokenConfigKey = "authToken"

var (
	ErrNotInitialized      = errors.New("token store used before initialization")
	ErrAlreadyInitialized  = errors.New("token store already initialized")
	ErrRefreshNotSupported = errors.New("refresh not supported")
	ErrEmptyToken          = errors.New("empty token")
)

// GetterFunc supplies the initial access token.
type GetterFunc func(ctx context.Context) (string, error)

// RefreshFunc obtains a new access token.
type RefreshFunc func(ctx context.Context) (string, error)

// ConfigSetter receives the new token after every successful refresh so that
// requests issued by the engine use it too.
type ConfigSetter interface {
	SetConfigValue(ctx context.Context, key, value string) error
}

// Credential is the single live access credential.
type Credential struct {
	Value    string
	IssuedAt time.Time
	Source   string
}

type setterHolder struct {
	setter ConfigSetter
}

// Store owns the current credential. The zero value is not usable; create one
// with New and call Initialize exactly once.
type Store struct {
	initMu      sync.Mutex
	initialized atomic.Bool

	current atomic.Pointer[Credential]
	refresh RefreshFunc
	setter  atomic.Pointer[setterHolder]

	group  singleflight.Group
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Store)

// WithConfigSetter sets the engine configuration channel at construction time
func WithConfigSetter(setter ConfigSetter) Option {
	return func(s *Store) {
		s.SetConfigSetter(setter)
	}
}

// WithClock overrides time.Now for issuance timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		logger: logger.Component(log, "tokenstore"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads the initial token and records the optional refresh
// operation. It may succeed only once.
func (s *Store) Initialize(ctx context.Context, getInitial GetterFunc, refresh RefreshFunc) error {
	if getInitial == nil {
		return errors.New("token store requires an initial token getter")
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized.Load() {
		return ErrAlreadyInitialized
	}

	token, err := getInitial(ctx)
	if err != nil {
		return fmt.Errorf("failed to get initial token: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("failed to get initial token: %w", ErrEmptyToken)
	}

	s.refresh = refresh
	s.current.Store(&Credential{Value: token, IssuedAt: s.now(), Source: "initial"})
	s.initialized.Store(true)

	s.logger.Info().
		Str("token_preview", logger.TokenPreview(token)).
		Bool("refresh_supported", refresh != nil).
		Msg("✅ Token store initialized")
	return nil
}

// SetConfigSetter replaces the engine configuration channel. A nil setter
// disables the push.
func (s *Store) SetConfigSetter(setter ConfigSetter) {
	s.setter.Store(&setterHolder{setter: setter})
}

// Initialized reports whether Initialize has succeeded
func (s *Store) Initialized() bool {
	return s.initialized.Load()
}

// Token returns the current access token
func (s *Store) Token() (string, error) {
	c, err := s.Credential()
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// Credential returns a copy of the current credential
func (s *Store) Credential() (Credential, error) {
	if !s.initialized.Load() {
		return Credential{}, ErrNotInitialized
	}
	return *s.current.Load(), nil
}

// OAuth2Token returns the current credential as a bearer oauth2.Token
func (s *Store) OAuth2Token() (*oauth2.Token, error) {
	token, err := s.Token()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

// Refresh obtains a new token through the configured RefreshFunc and swaps it
// in. Concurrent callers share one in-flight refresh. On failure the current
// credential is left untouched.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	if !s.initialized.Load() {
		return "", ErrNotInitialized
	}
	if s.refresh == nil {
		return "", ErrRefreshNotSupported
	}

	ch := s.group.DoChan("refresh", func() (interface{}, error) {
		return s.doRefresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			s.logger.Debug().Msg("Joined in-flight token refresh")
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Store) doRefresh(ctx context.Context) (string, error) {
	s.logger.Info().Msg("🔄 Refreshing access token...")

	token, err := s.refresh(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("❌ Token refresh failed, keeping current token")
		return "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		s.logger.Error().Msg("❌ Token refresh returned an empty token, keeping current token")
		return "", fmt.Errorf("token refresh failed: %w", ErrEmptyToken)
	}

	s.current.Store(&Credential{Value: token, IssuedAt: s.now(), Source: "refresh"})

	s.logger.Info().
		Str("token_preview", logger.TokenPreview(token)).
		Msg("✅ Access token refreshed")

	if h := s.setter.Load(); h != nil && h.setter != nil {
		if err := h.setter.SetConfigValue(ctx, AuthTokenConfigKey, token); err != nil {
			s.logger.Warn().Err(err).Msg("⚠️  Failed to push refreshed token to engine configuration")
		}
	}

	return token, nil
}

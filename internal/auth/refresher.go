package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/dvcrn/studio-bridge/internal/credentials"
	"github.com/dvcrn/studio-bridge/internal/logger"
	"github.com/dvcrn/studio-bridge/internal/tokenstore"
)

// Refresher exchanges the stored refresh token for a new access token and
// persists the result back to the credentials source.
type Refresher struct {
	source     credentials.Source
	config     *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
	logger     zerolog.Logger

	mu sync.Mutex
}

type Option func(*Refresher)

// WithHTTPClient sets the client used to call the token endpoint
func WithHTTPClient(c *http.Client) Option {
	return func(r *Refresher) {
		r.httpClient = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		r.now = now
	}
}

func NewRefresher(source credentials.Source, cfg Config, log zerolog.Logger, opts ...Option) *Refresher {
	r := &Refresher{
		source: source,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		now:    time.Now,
		logger: logger.Component(log, "auth"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initial returns the stored access token, refreshing first when it is
// about to expire. A failed proactive refresh falls back to the stored
// token; the first 401 will retry.
func (r *Refresher) Initial(ctx context.Context) (string, error) {
	creds, err := r.source.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load credentials from %s: %w", r.source.Name(), err)
	}

	if !TokenExpired(creds.ExpiresAt, r.now()) || creds.RefreshToken == "" {
		return creds.AccessToken, nil
	}

	r.logger.Info().
		Int64("minutes_until_expiry", MinutesUntilExpiry(creds.ExpiresAt, r.now())).
		Msg("🔄 Stored token expired or expiring soon, refreshing...")

	token, err := r.Refresh(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("⚠️  Startup refresh failed, using stored token")
		return creds.AccessToken, nil
	}
	return token, nil
}

// Refresh performs a refresh_token grant. It has the shape of
// tokenstore.RefreshFunc.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.source.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if current.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token stored in %s", tokenstore.ErrRefreshNotSupported, r.source.Name())
	}

	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	next := &credentials.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    ExpiresAtMillis(tok.Expiry),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	if err := r.source.Save(next); err != nil {
		// The new token is still usable for this process.
		r.logger.Error().Err(err).Str("source", r.source.Name()).Msg("❌ Failed to update tokens in storage")
	}

	r.logger.Info().
		Int64("minutes_until_expiry", MinutesUntilExpiry(next.ExpiresAt, r.now())).
		Msg("✅ OAuth token refreshed successfully")
	return tok.AccessToken, nil
}

// Status reports the state of the stored credential
func (r *Refresher) Status() (*Status, error) {
	creds, err := r.source.Load()
	if err != nil {
		return nil, err
	}
	now := r.now()
	s := &Status{
		Source:          r.source.Name(),
		HasRefreshToken: creds.RefreshToken != "",
		ExpiresAt:       creds.Expiry(),
		Expired:         creds.ExpiresAt != 0 && now.UnixMilli() >= creds.ExpiresAt,
	}
	if creds.ExpiresAt != 0 {
		s.MinutesUntilExpiry = MinutesUntilExpiry(creds.ExpiresAt, now)
	}
	return s, nil
}

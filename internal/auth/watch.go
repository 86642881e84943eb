package auth

import (
	"context"
	"time"
)

// TokenRefresher is the store-level refresh entry point, so background
// refreshes share the single-flight path with 401 retries.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Watch periodically checks the stored expiry and refreshes through store
// when the token is about to expire. It returns when ctx is done.
func (r *Refresher) Watch(ctx context.Context, store TokenRefresher, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.checkAndRefresh(ctx, store)
		case <-ctx.Done():
			r.logger.Debug().Msg("Background token refresh stopped")
			return
		}
	}
}

func (r *Refresher) checkAndRefresh(ctx context.Context, store TokenRefresher) bool {
	creds, err := r.source.Load()
	if err != nil {
		r.logger.Error().Err(err).Msg("Background refresh: failed to get credentials")
		return false
	}

	minutes := MinutesUntilExpiry(creds.ExpiresAt, r.now())
	if !TokenExpired(creds.ExpiresAt, r.now()) {
		r.logger.Debug().Int64("minutes_until_expiry", minutes).Msg("Background refresh: token still valid")
		return false
	}
	if creds.RefreshToken == "" {
		r.logger.Warn().Msg("⚠️  Background refresh: token expiring but no refresh token stored")
		return false
	}

	r.logger.Info().
		Int64("minutes_until_expiry", minutes).
		Msg("🔄 Background refresh: token expiring soon, refreshing...")

	if _, err := store.Refresh(ctx); err != nil {
		r.logger.Error().Err(err).Msg("❌ Background refresh: failed to refresh token")
		return false
	}
	return true
}

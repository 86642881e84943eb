package auth

import "time"

const (
	// TokenExpiryBuffer is how long before expiry a token counts as expired
	TokenExpiryBuffer = 5 * time.Minute
	// DefaultWatchInterval is how often the background watcher checks expiry
	DefaultWatchInterval = 5 * time.Minute
)

// TokenExpired checks if the token is expired or will expire soon. An
// unknown expiry (zero) never counts as expired.
func TokenExpired(expiresAtMs int64, now time.Time) bool {
	if expiresAtMs == 0 {
		return false
	}
	return now.UnixMilli() >= expiresAtMs-TokenExpiryBuffer.Milliseconds()
}

// ExpiresAtMillis converts an oauth2 expiry into unix milliseconds
func ExpiresAtMillis(expiry time.Time) int64 {
	if expiry.IsZero() {
		return 0
	}
	return expiry.UnixMilli()
}

// MinutesUntilExpiry is negative once the token has expired
func MinutesUntilExpiry(expiresAtMs int64, now time.Time) int64 {
	return (expiresAtMs - now.UnixMilli()) / 1000 / 60
}

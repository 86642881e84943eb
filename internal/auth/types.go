package auth

import "time"

// Config describes the OAuth token endpoint used for refresh_token grants
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Status summarizes the stored credential for diagnostics
type Status struct {
	Source             string    `json:"source"`
	HasRefreshToken    bool      `json:"hasRefreshToken"`
	ExpiresAt          time.Time `json:"expiresAt,omitzero"`
	MinutesUntilExpiry int64     `json:"minutesUntilExpiry"`
	Expired            bool      `json:"expired"`
}

package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dvcrn/studio-bridge/internal/auth"
	"github.com/dvcrn/studio-bridge/internal/env"
	"github.com/dvcrn/studio-bridge/internal/logger"
	"github.com/dvcrn/studio-bridge/internal/tokenstore"
)

// adminMiddleware checks for valid admin API key from either
// 'Authorization: Bearer <key>' or 'X-API-Key: <key>' headers.
func (s *Server) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminKey, ok := env.Get("ADMIN_API_KEY")
		if !ok || adminKey == "" {
			s.logger.Error().Msg("ADMIN_API_KEY environment variable not set")
			http.Error(w, "Admin API not configured", http.StatusInternalServerError)
			return
		}

		var providedToken string
		authHeader := r.Header.Get("Authorization")
		xAPIKeyHeader := r.Header.Get("X-API-Key")

		if authHeader != "" {
			// Expect "Bearer <token>" format, case-insensitive
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				s.logger.Warn().
					Str("method", r.Method).
					Str("uri", r.RequestURI).
					Str("remote_addr", r.RemoteAddr).
					Msg("Invalid Authorization header format for admin endpoint")
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}
			providedToken = parts[1]
		} else if xAPIKeyHeader != "" {
			// Use the key from X-API-Key header directly
			providedToken = xAPIKeyHeader
		} else {
			s.logger.Warn().
				Str("method", r.Method).
				Str("uri", r.RequestURI).
				Str("remote_addr", r.RemoteAddr).
				Msg("Missing required Authorization or X-API-Key header for admin endpoint")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Verify admin key
		if subtle.ConstantTimeCompare([]byte(providedToken), []byte(adminKey)) != 1 {
			s.logger.Warn().
				Str("method", r.Method).
				Str("uri", r.RequestURI).
				Str("remote_addr", r.RemoteAddr).
				Msg("Invalid admin API key provided")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Admin authorized
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Msg("Admin request authorized")

		next(w, r)
	}
}

type tokenStatusResponse struct {
	Initialized  bool         `json:"initialized"`
	Source       string       `json:"source,omitempty"`
	IssuedAt     time.Time    `json:"issuedAt,omitzero"`
	TokenPreview string       `json:"tokenPreview,omitempty"`
	Stored       *auth.Status `json:"stored,omitempty"`
	StoredError  string       `json:"storedError,omitempty"`
}

// tokenStatusHandler handles GET /admin/token/status
func (s *Server) tokenStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := tokenStatusResponse{Initialized: s.deps.Tokens.Initialized()}
	if cred, err := s.deps.Tokens.Credential(); err == nil {
		resp.Source = cred.Source
		resp.IssuedAt = cred.IssuedAt
		resp.TokenPreview = logger.TokenPreview(cred.Value)
	}

	if s.deps.TokenStatus != nil {
		status, err := s.deps.TokenStatus()
		if err != nil {
			resp.StoredError = err.Error()
		} else {
			resp.Stored = status
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// tokenRefreshHandler handles POST /admin/token/refresh
func (s *Server) tokenRefreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token, err := s.deps.Tokens.Refresh(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, tokenstore.ErrRefreshNotSupported):
			status = http.StatusBadRequest
		case errors.Is(err, tokenstore.ErrNotInitialized):
			status = http.StatusServiceUnavailable
		}
		s.logger.Error().Err(err).Msg("❌ Admin token refresh failed")
		s.writeJSON(w, status, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	s.logger.Info().Msg("Access token refreshed via admin endpoint")
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":       "success",
		"tokenPreview": logger.TokenPreview(token),
	})
}

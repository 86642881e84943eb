package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/studio-bridge/internal/auth"
	"github.com/dvcrn/studio-bridge/internal/connectorauth"
	"github.com/dvcrn/studio-bridge/internal/output"
	"github.com/dvcrn/studio-bridge/internal/tokenstore"
)

// TokenStore is the first-party token handle the admin endpoints use
type TokenStore interface {
	Initialized() bool
	Credential() (tokenstore.Credential, error)
	Refresh(ctx context.Context) (string, error)
}

// Generator renders outputs
type Generator interface {
	Generate(ctx context.Context, req output.Request) (*output.Output, error)
}

// DocumentAPI is the authenticated remote API used by the document proxy
type DocumentAPI interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Put(ctx context.Context, url string, body interface{}) ([]byte, error)
}

// Deps are the components the HTTP surface exposes
type Deps struct {
	Tokens       TokenStore
	TokenStatus  func() (*auth.Status, error)
	Orchestrator *connectorauth.Orchestrator
	Outputs      Generator
	API          DocumentAPI
	BaseURL      string
}

// DefaultLongPollTimeout caps how long GET /v1/auth/processes?wait=1 blocks
const DefaultLongPollTimeout = 25 * time.Second

type Server struct {
	deps            Deps
	mux             *http.ServeMux
	longPollTimeout time.Duration
	logger          zerolog.Logger
}

func New(logger zerolog.Logger, deps Deps) *Server {
	s := &Server{
		deps:            deps,
		mux:             http.NewServeMux(),
		longPollTimeout: DefaultLongPollTimeout,
		logger:          logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/v1/auth/processes", s.processesHandler)
	s.mux.HandleFunc("/v1/auth/processes/{remoteConnectorId}/start", s.processStartHandler)
	s.mux.HandleFunc("/v1/auth/processes/{remoteConnectorId}/cancel", s.processCancelHandler)
	s.mux.HandleFunc("/v1/outputs", s.outputsHandler)
	s.mux.HandleFunc("/v1/projects/{projectId}/document", s.documentHandler)
	s.mux.HandleFunc("/admin/token/status", s.adminMiddleware(s.tokenStatusHandler))
	s.mux.HandleFunc("/admin/token/refresh", s.adminMiddleware(s.tokenRefreshHandler))
	s.mux.HandleFunc("/", s.notFoundHandler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.loggingMiddleware(s.mux).ServeHTTP(w, r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("Incoming request")
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).
			Msg("Finished request")
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn().
		Str("method", r.Method).
		Str("uri", r.RequestURI).
		Str("remote_addr", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Msg("Unhandled route")
	http.NotFound(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	if status < 100 || status > 599 {
		s.logger.Warn().Int("status", status).Msg("Invalid response status, using 500")
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

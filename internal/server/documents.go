package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dvcrn/studio-bridge/internal/apiclient"
)

// documentHandler proxies GET and PUT /v1/projects/{projectId}/document to
// the remote API through the authenticated client.
func (s *Server) documentHandler(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimRight(s.deps.BaseURL, "/") + "/projects/" + url.PathEscape(r.PathValue("projectId")) + "/document"

	var (
		body []byte
		err  error
	)
	switch r.Method {
	case http.MethodGet:
		body, err = s.deps.API.Get(r.Context(), target)
	case http.MethodPut:
		raw, readErr := io.ReadAll(r.Body)
		if readErr != nil {
			s.logger.Error().Err(readErr).Msg("Error reading request body")
			http.Error(w, "Failed to read request body", http.StatusInternalServerError)
			return
		}
		defer r.Body.Close()
		if !json.Valid(raw) {
			http.Error(w, "Failed to parse request body", http.StatusBadRequest)
			return
		}
		body, err = s.deps.API.Put(r.Context(), target, json.RawMessage(raw))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err != nil {
		var se *apiclient.StatusError
		if errors.As(err, &se) {
			s.logger.Warn().Int("status_code", se.StatusCode).Str("url", target).Msg("Upstream error for document request")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(se.StatusCode)
			w.Write(se.Body)
			return
		}
		s.logger.Error().Err(err).Str("url", target).Msg("Error making document request")
		http.Error(w, "Failed to communicate with upstream API: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

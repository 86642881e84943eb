package server

import (
	"context"
	"net/http"
	"time"

	"github.com/dvcrn/studio-bridge/internal/connectorauth"
)

type processView struct {
	ID                string              `json:"id"`
	RemoteConnectorID string              `json:"remoteConnectorId"`
	ConnectorName     string              `json:"connectorName"`
	State             connectorauth.State `json:"state"`
}

func viewOf(p *connectorauth.Process) processView {
	return processView{
		ID:                p.ID,
		RemoteConnectorID: p.RemoteConnectorID,
		ConnectorName:     p.ConnectorName,
		State:             p.State(),
	}
}

// processesHandler handles GET /v1/auth/processes. With ?wait set it holds
// the request until the pending set changes or the long-poll timeout passes,
// then answers with the current list.
func (s *Server) processesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Query().Get("wait") != "" {
		changed, unsubscribe := s.deps.Orchestrator.Subscribe()
		timer := time.NewTimer(s.longPollTimeout)
		select {
		case <-changed:
		case <-timer.C:
		case <-r.Context().Done():
		}
		timer.Stop()
		unsubscribe()
	}

	pending := s.deps.Orchestrator.Pending()
	views := make([]processView, 0, len(pending))
	for _, p := range pending {
		views = append(views, viewOf(p))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// processStartHandler handles POST /v1/auth/processes/{remoteConnectorId}/start.
// The flow runs in the background; its outcome reaches the engine through
// the waiting bridge call.
func (s *Server) processStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	p, ok := s.lookupProcess(w, r)
	if !ok {
		return
	}

	s.logger.Info().
		Str("process_id", p.ID).
		Str("connector", p.ConnectorName).
		Msg("▶️  Starting connector authentication")

	go p.Start(context.WithoutCancel(r.Context()))
	s.writeJSON(w, http.StatusAccepted, viewOf(p))
}

// processCancelHandler handles POST /v1/auth/processes/{remoteConnectorId}/cancel
func (s *Server) processCancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	p, ok := s.lookupProcess(w, r)
	if !ok {
		return
	}

	p.Cancel()
	s.logger.Info().
		Str("process_id", p.ID).
		Str("connector", p.ConnectorName).
		Msg("Connector authentication cancelled by user")
	s.writeJSON(w, http.StatusOK, viewOf(p))
}

func (s *Server) lookupProcess(w http.ResponseWriter, r *http.Request) (*connectorauth.Process, bool) {
	id := r.PathValue("remoteConnectorId")
	p, ok := s.deps.Orchestrator.GetProcess(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no pending process for connector " + id})
		return nil, false
	}
	return p, true
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dvcrn/studio-bridge/internal/output"
)

// outputsHandler handles POST /v1/outputs. Success streams the rendered
// file; failure answers {success:false, status, error} with that status.
func (s *Server) outputsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req output.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Error().Err(err).Msg("Error unmarshalling request body")
		s.writeJSON(w, http.StatusBadRequest, output.Result{Success: false, Status: http.StatusBadRequest, Error: "Failed to parse request body"})
		return
	}
	defer r.Body.Close()

	out, err := s.deps.Outputs.Generate(r.Context(), req)
	if err != nil {
		res := output.ResultFromError(err)
		s.logger.Warn().
			Int("status", res.Status).
			Str("error", res.Error).
			Str("format", req.Format).
			Msg("Output generation failed")
		s.writeJSON(w, res.Status, res)
		return
	}

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="output.%s"`, out.ExtensionType))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.OutputData)))
	w.WriteHeader(http.StatusOK)
	w.Write(out.OutputData)
}

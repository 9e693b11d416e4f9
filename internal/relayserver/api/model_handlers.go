package api

import (
	"net/http"

	"github.com/devpmagent/relay/relay"
)

// handleGetModels returns the process-level model inventory last synced
// by an executor.
func (s *Server) handleGetModels(w http.ResponseWriter, r *http.Request) {
	s.modelsMu.RLock()
	models := append([]string(nil), s.models...)
	s.modelsMu.RUnlock()
	writeJSON(w, http.StatusOK, relay.ModelsResponse{Models: models})
}

// handleSetModels replaces the model inventory wholesale.
func (s *Server) handleSetModels(w http.ResponseWriter, r *http.Request) {
	var req relay.ModelsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Models) == 0 {
		writeError(w, http.StatusBadRequest, "models must be non-empty")
		return
	}
	s.modelsMu.Lock()
	s.models = append([]string(nil), req.Models...)
	s.modelsMu.Unlock()
	writeJSON(w, http.StatusOK, relay.ModelsResponse{Models: req.Models})
}

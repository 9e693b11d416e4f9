package api

import (
	"net/http"

	"github.com/devpmagent/relay/relay"
)

// handleListRepos returns the admin's registered repo paths.
func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	repos, err := s.Store.ListRepos(r.Context(), p.AdminID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	out := make([]relay.RepoResponse, len(repos))
	for i, rp := range repos {
		out[i] = relay.RepoFromModel(rp)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAddRepo validates and inserts a single repo path.
func (s *Server) handleAddRepo(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	var req relay.AddRepoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	validated, err := s.Store.AddRepo(r.Context(), s.NewID(), p.AdminID, req.Path, req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "repo path must be under ~/repos/")
		return
	}
	writeJSON(w, http.StatusOK, relay.RepoResponse{Path: validated, Name: req.Name})
}

// handleSyncRepos replaces the admin's repo set wholesale; called by the
// executor at startup with its discovered workspace list.
func (s *Server) handleSyncRepos(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	var req relay.SyncReposRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.Store.ReplaceRepos(r.Context(), p.AdminID, req.Paths, s.NewID); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	repos, err := s.Store.ListRepos(r.Context(), p.AdminID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	out := make([]relay.RepoResponse, len(repos))
	for i, rp := range repos {
		out[i] = relay.RepoFromModel(rp)
	}
	writeJSON(w, http.StatusOK, out)
}

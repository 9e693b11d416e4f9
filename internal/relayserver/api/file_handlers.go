package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/devpmagent/relay/internal/relayserver/hub"
	"github.com/devpmagent/relay/internal/relayserver/rpcwait"
	"github.com/devpmagent/relay/relay"
)

const (
	fileReadDeadline   = 15 * time.Second
	fileSearchDeadline = 120 * time.Second
)

// handleFileRead registers a waiter, broadcasts a read request to
// connected executors, and blocks up to 15 s for the response.
func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request) {
	repoPath := r.URL.Query().Get("repo_path")
	filePath := r.URL.Query().Get("file_path")
	if repoPath == "" || filePath == "" {
		writeError(w, http.StatusBadRequest, "repo_path and file_path are required")
		return
	}

	id := s.NewID()
	s.FileReads.Register(id)

	s.Hub.Publish(hub.Event{Type: hub.EventFileReadRequest, Payload: relay.WsFileReadRequestPayload{
		RequestID: id,
		RepoPath:  repoPath,
		FilePath:  filePath,
	}})

	ctx, cancel := context.WithTimeout(r.Context(), fileReadDeadline)
	defer cancel()
	content, err := s.FileReads.Wait(ctx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "no executor response within deadline")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, relay.FileReadResult{Content: content})
}

// handleFileReadResponse resolves a pending read waiter with the
// executor's content or error.
func (s *Server) handleFileReadResponse(w http.ResponseWriter, r *http.Request) {
	var req relay.FileReadResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result := rpcwait.Result[string]{}
	if req.Error != nil {
		result.Err = errors.New(*req.Error)
	} else if req.Content != nil {
		result.Value = *req.Content
	}
	if err := s.FileReads.Resolve(req.RequestID, result); err == rpcwait.ErrExpired {
		writeError(w, http.StatusNotFound, "request id expired or unknown")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleFileSearch registers a waiter, broadcasts a search request, and
// blocks up to 120 s for the response.
func (s *Server) handleFileSearch(w http.ResponseWriter, r *http.Request) {
	repoPath := r.URL.Query().Get("repo_path")
	fileName := r.URL.Query().Get("file_name")
	if repoPath == "" || fileName == "" {
		writeError(w, http.StatusBadRequest, "repo_path and file_name are required")
		return
	}

	id := s.NewID()
	s.FileSearches.Register(id)

	s.Hub.Publish(hub.Event{Type: hub.EventFileSearchRequest, Payload: relay.WsFileSearchRequestPayload{
		RequestID: id,
		RepoPath:  repoPath,
		FileName:  fileName,
	}})

	ctx, cancel := context.WithTimeout(r.Context(), fileSearchDeadline)
	defer cancel()
	matches, err := s.FileSearches.Wait(ctx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "no executor response within deadline")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, relay.FileSearchResult{Matches: matches})
}

// handleFileSearchResponse resolves a pending search waiter with the
// executor's matches or error.
func (s *Server) handleFileSearchResponse(w http.ResponseWriter, r *http.Request) {
	var req relay.FileSearchResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result := rpcwait.Result[[]relay.FileSearchMatch]{}
	if req.Error != nil {
		result.Err = errors.New(*req.Error)
	} else {
		result.Value = req.Matches
	}
	if err := s.FileSearches.Resolve(req.RequestID, result); err == rpcwait.ErrExpired {
		writeError(w, http.StatusNotFound, "request id expired or unknown")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

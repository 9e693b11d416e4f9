package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devpmagent/relay/internal/relayserver/hub"
	"github.com/devpmagent/relay/internal/relayserver/store"
	"github.com/devpmagent/relay/relay"
)

const maxCommandInputBytes = 4096

// handleCreateCommand inserts a pending command and broadcasts command_new,
// attaching prior chat turns when the creator asks to resume a chat.
func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	var req relay.CreateCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Input) == 0 || len(req.Input) > maxCommandInputBytes {
		writeError(w, http.StatusBadRequest, "input must be 1-4096 bytes")
		return
	}

	cmd := relay.Command{
		ID:              s.NewID(),
		DeviceID:        p.DeviceID,
		Input:           req.Input,
		Status:          relay.StatusPending,
		RepoPath:        req.RepoPath,
		ContextMode:     req.ContextMode,
		TranslatorModel: req.TranslatorModel,
		WorkloadModel:   req.WorkloadModel,
		CursorChatID:    req.CursorChatID,
	}
	if err := s.Store.CreateCommand(r.Context(), cmd); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	stored, err := s.Store.GetCommand(r.Context(), cmd.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}

	var chatHistory []relay.ChatTurn
	if req.CursorChatID != nil && *req.CursorChatID != "" {
		chatHistory, err = s.Store.ListCommandsByCursorChatID(r.Context(), p.DeviceID, *req.CursorChatID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store failure")
			return
		}
	}

	s.Hub.Publish(hub.Event{Type: hub.EventCommandNew, Payload: relay.WsCommandNewPayload{
		ID:              stored.ID,
		Input:           stored.Input,
		RepoPath:        stored.RepoPath,
		ContextMode:     stored.ContextMode,
		TranslatorModel: stored.TranslatorModel,
		WorkloadModel:   stored.WorkloadModel,
		CursorChatID:    stored.CursorChatID,
		ChatHistory:     chatHistory,
	}})

	writeJSON(w, http.StatusOK, relay.CommandFromModel(stored))
}

// handleListCommands returns the admin's most recent 100 commands.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	cmds, err := s.Store.ListCommands(r.Context(), p.AdminID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	out := make([]relay.CommandResponse, len(cmds))
	for i, c := range cmds {
		out[i] = relay.CommandFromModel(c)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetCommand returns a single command by id.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cmd, err := s.Store.GetCommand(r.Context(), id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	writeJSON(w, http.StatusOK, relay.CommandFromModel(cmd))
}

// handleUpdateCommand applies the executor's progress or terminal PATCH
// and broadcasts command_update. Only reachable via requireExecutor.
func (s *Server) handleUpdateCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req relay.UpdateCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	found, err := s.Store.UpdateCommand(r.Context(), id, req.Status, req.Output, req.Summary, req.CursorChatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}

	cmd, err := s.Store.GetCommand(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}

	s.Hub.Publish(hub.Event{Type: hub.EventCommandUpdate, Payload: relay.WsCommandUpdatePayload{
		ID:           cmd.ID,
		Status:       cmd.Status,
		Output:       cmd.Output,
		Summary:      cmd.Summary,
		CursorChatID: cmd.CursorChatID,
	}})

	writeJSON(w, http.StatusOK, relay.CommandFromModel(cmd))
}

// handleDeleteCommand removes a command owned by the caller's admin.
func (s *Server) handleDeleteCommand(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	deleted, err := s.Store.DeleteCommand(r.Context(), id, p.AdminID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleCancelCommand transitions a pending or running command straight
// to cancelled. This resolves spec's open question over the unused
// cancelled state by giving controllers an explicit way to reach it.
func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	id := chi.URLParam(r, "id")

	cmd, err := s.Store.GetCommand(r.Context(), id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	owningAdmin, err := s.Store.AdminIDForDevice(r.Context(), cmd.DeviceID)
	if err != nil || owningAdmin != p.AdminID {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	if cmd.Status != relay.StatusPending && cmd.Status != relay.StatusRunning {
		writeError(w, http.StatusBadRequest, "command is already terminal")
		return
	}

	cancelled := relay.StatusCancelled
	if _, err := s.Store.UpdateCommand(r.Context(), id, &cancelled, nil, nil, nil); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	updated, err := s.Store.GetCommand(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}

	s.Hub.Publish(hub.Event{Type: hub.EventCommandUpdate, Payload: relay.WsCommandUpdatePayload{
		ID:           updated.ID,
		Status:       updated.Status,
		Output:       updated.Output,
		Summary:      updated.Summary,
		CursorChatID: updated.CursorChatID,
	}})

	writeJSON(w, http.StatusOK, relay.CommandFromModel(updated))
}

// Package api implements the relayer's HTTP and WebSocket surface: setup
// and auth, command CRUD, repo and model inventory, file RPCs, and the
// authenticated event stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/devpmagent/relay/internal/relayserver/config"
	"github.com/devpmagent/relay/internal/relayserver/hub"
	"github.com/devpmagent/relay/internal/relayserver/rpcwait"
	"github.com/devpmagent/relay/internal/relayserver/store"
	"github.com/devpmagent/relay/relay"
)

// Server holds everything a handler needs: the store, the event hub,
// the pending file RPC tables, and process-level model inventory.
type Server struct {
	Store  *store.Store
	Hub    *hub.Hub
	Config config.Config

	FileReads   *rpcwait.Table[string]
	FileSearches *rpcwait.Table[[]relay.FileSearchMatch]

	modelsMu sync.RWMutex
	models   []string

	NewID func() string

	clock func() time.Time
}

// NewServer wires a Server from its dependencies. newID mints fresh
// opaque identifiers (normally uuid.NewString); it is a parameter so
// tests can supply deterministic ids.
func NewServer(st *store.Store, h *hub.Hub, cfg config.Config, newID func() string) *Server {
	return &Server{
		Store:        st,
		Hub:          h,
		Config:       cfg,
		FileReads:    rpcwait.New[string](),
		FileSearches: rpcwait.New[[]relay.FileSearchMatch](),
		NewID:        newID,
		clock:        time.Now,
	}
}

// principal identifies the authenticated caller of a request.
type principal struct {
	DeviceID   string
	AdminID    string
	Role       relay.DeviceRole
	IsExecutor bool
}

type ctxKey int

const principalKey ctxKey = iota

func principalFromContext(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey).(principal)
	return p, ok
}

// writeJSON writes v as a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard {reason} error body.
func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, relay.ErrorBody{Reason: reason})
}

package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-limiter/httplimit"
	"github.com/sethvargo/go-limiter/memorystore"

	"github.com/devpmagent/relay/internal/relayserver/auth"
	"github.com/devpmagent/relay/relay"
)

// authRateLimiter builds the token-bucket middleware guarding /auth/*:
// burst 5, with 5 tokens per 75 s interval (one per 15 s on average),
// keyed by remote IP.
func authRateLimiter() (func(http.Handler) http.Handler, error) {
	store, err := memorystore.New(&memorystore.Config{
		Tokens:   5,
		Interval: 5 * 15 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	mw, err := httplimit.NewMiddleware(store, remoteIPKeyFunc)
	if err != nil {
		return nil, err
	}
	return mw.Handle, nil
}

func remoteIPKeyFunc(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, nil
	}
	return host, nil
}

// bearerAuth resolves the Authorization header into a principal: either
// the shared executor key or a valid controller session token. Requests
// with no or invalid credentials are rejected with 401 before reaching
// the handler.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		if token == s.Config.ExecutorAPIKey {
			adminID, _ := s.Store.SingleAdminID(r.Context())
			p := principal{Role: relay.RoleExecutor, AdminID: adminID, IsExecutor: true}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
			return
		}

		claims, ok := auth.ValidateToken(s.Config.JWTSecret, token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		p := principal{DeviceID: claims.DeviceID, AdminID: claims.AdminID, Role: relay.DeviceRole(claims.Role)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// requireExecutor rejects any caller that did not authenticate with the
// shared executor key, per spec.md §4.5's "executor key only" routes.
func requireExecutor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFromContext(r.Context())
		if !ok || !p.IsExecutor {
			writeError(w, http.StatusForbidden, "executor credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

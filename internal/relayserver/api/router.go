package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Router assembles the full chi mux: CORS, request logging/recovery, the
// auth-endpoint rate limiter, bearer auth, and every route in spec.md
// §4.5's table plus the WebSocket endpoint. There is deliberately no
// blanket request timeout: /files/search alone waits up to
// fileSearchDeadline (120s), and a parent-context timeout shorter than
// that would silently clip it (a child context's deadline is the
// earlier of its own and its parent's). Each handler that needs a
// deadline sets its own via context.WithTimeout.
func (s *Server) Router() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	corsMW := cors.New(cors.Options{
		AllowedOrigins:   s.Config.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	r.Use(corsMW.Handler)

	r.Get("/health", s.handleHealth)

	rateLimit, err := authRateLimiter()
	if err != nil {
		return nil, err
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(a chi.Router) {
			a.Use(rateLimit)
			a.With(s.bearerAuth, requireExecutor).Post("/bootstrap-device", s.handleBootstrapDevice)
			a.Post("/verify-bootstrap", s.handleVerifyBootstrap)
			a.Post("/setup", s.handleSetup)
			a.Post("/login", s.handleLogin)
			a.Post("/refresh", s.handleRefresh)
			a.With(s.bearerAuth, requireExecutor).Post("/register-device", s.handleRegisterDevice)
		})

		api.Group(func(authed chi.Router) {
			authed.Use(s.bearerAuth)

			authed.Post("/devices/reserve-code", s.handleReserveCode)

			authed.Post("/commands", s.handleCreateCommand)
			authed.Get("/commands", s.handleListCommands)
			authed.Get("/commands/{id}", s.handleGetCommand)
			authed.With(requireExecutor).Patch("/commands/{id}", s.handleUpdateCommand)
			authed.Delete("/commands/{id}", s.handleDeleteCommand)
			authed.Post("/commands/{id}/cancel", s.handleCancelCommand)

			authed.Get("/repos", s.handleListRepos)
			authed.Post("/repos", s.handleAddRepo)
			authed.With(requireExecutor).Post("/repos/sync", s.handleSyncRepos)

			authed.Get("/models", s.handleGetModels)
			authed.With(requireExecutor).Post("/models", s.handleSetModels)

			authed.Get("/files/read", s.handleFileRead)
			authed.With(requireExecutor).Post("/files/read/response", s.handleFileReadResponse)
			authed.Get("/files/search", s.handleFileSearch)
			authed.With(requireExecutor).Post("/files/search/response", s.handleFileSearchResponse)
		})

		api.Get("/ws", s.handleWebSocket)
	})

	return r, nil
}

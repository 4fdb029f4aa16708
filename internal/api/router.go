package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/draycott/session-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/auth", func(r chi.Router) {
			// Session lifecycle (no auth required — these endpoints ARE auth)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh-token", s.handleRefreshToken)
			r.Post("/logout", s.handleLogout)

			// Push channel (auth via in-band authenticate frame)
			r.Get("/ws", s.handleChannel)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/user", s.handleCurrentUser)
			})
		})

		// Admin session management
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.requireRole(auth.RoleAdmin))

			r.Post("/users/{id}/force-logout", s.handleForceLogout)
			r.Post("/users/{id}/permissions-updated", s.handlePermissionsUpdated)
			r.Get("/audit", s.handleAuditList)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

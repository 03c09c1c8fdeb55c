// Package web provides the HTTP API and session pages of the intake service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinicops/intake/internal/config"
	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/logging"
	intakemw "github.com/clinicops/intake/internal/web/middleware"
)

// Server is the HTTP server of the intake service.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(intakemw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(intakemw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestContext)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Pages
	s.router.Get("/sessions/{id}", s.handleSessionPage)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(intakemw.APIKeyAuth(&s.cfg.Security))

		// Progress streams outlive the request timeout.
		r.Get("/sessions/{id}/progress", s.handleProgress)

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
			}
			r.Use(middleware.Compress(5))

			// Tables and fields
			r.Get("/tables", s.handleListTables)
			r.Get("/tables/{table}/fields", s.handleListFields)
			r.Post("/fields", s.handleRegisterField)
			r.Delete("/fields/{key}", s.handleUnregisterField)

			// Mapping templates
			r.Get("/tables/{table}/templates", s.handleListTemplates)
			r.Delete("/tables/{table}/templates/{name}", s.handleDeleteTemplate)

			// Import sessions
			r.Post("/sessions", s.handleOpenSession)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Delete("/sessions/{id}", s.handleCancelSession)
			r.Put("/sessions/{id}/mapping", s.handleOverrideMapping)
			r.Post("/sessions/{id}/preview", s.handlePreview)
			r.Post("/sessions/{id}/import", s.handleStartImport)
			r.Get("/sessions/{id}/result", s.handleResult)
			r.Get("/sessions/{id}/templates", s.handleMatchTemplates)
			r.Post("/sessions/{id}/templates", s.handleSaveTemplate)
			r.Post("/sessions/{id}/templates/{name}/apply", s.handleApplyTemplate)

			// Rosters
			r.Post("/schedules", s.handleImportSchedule)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestContext hands chi's request id to the import service so session
// logs can be correlated with the request that started them.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(core.ContextWithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeError writes a plain JSON error for failures that are not service
// errors, such as malformed requests.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logging.FromContext(r.Context()).Warn("request rejected",
		"status", status,
		"path", r.URL.Path,
		"reason", message,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Message: message})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

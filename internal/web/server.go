// Package web provides the HTTP server for case intake: the import-session
// API used by the review UI and the import/case endpoints the submitter
// talks to.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/intake/internal/config"
	"github.com/JonMunkholm/intake/internal/core"
	"github.com/JonMunkholm/intake/internal/web/middleware"
)

// CaseStore backs the import and case endpoints.
type CaseStore interface {
	core.CaseGateway
	GetImport(ctx context.Context, id string) (core.Import, error)
	CaseHistory(ctx context.Context, caseID string) ([]core.HistoryEntry, error)
	Ping(ctx context.Context) error
}

// Authenticator resolves operators and issues tokens.
type Authenticator interface {
	middleware.OperatorResolver
	ResolveAPIKey(key string) (core.Operator, error)
	IssueToken(op core.Operator) (string, time.Time, error)
}

// Server is the HTTP server for the intake application.
type Server struct {
	cfg     *config.Config
	service *core.Service
	store   CaseStore
	auth    Authenticator
	router  *chi.Mux
	server  *http.Server

	limiters []*rateLimiter
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, service *core.Service, store CaseStore, auth Authenticator) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		store:   store,
		auth:    auth,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))

	// Security hardening
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newLimiter(s.cfg.Rate.RequestsPerMinute).middleware)
	}
}

func (s *Server) newLimiter(perMinute int) *rateLimiter {
	rl := newRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	timeout := chimw.Timeout(s.cfg.Server.RequestTimeout)

	s.router.Get("/", s.handleHome)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/auth/token", s.handleIssueToken)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Authenticate(s.auth, s.cfg.Security.RequireAuth))

		r.Route("/session", func(r chi.Router) {
			upload := []func(http.Handler) http.Handler{timeout}
			if s.cfg.Rate.Enabled {
				upload = append(upload, s.newLimiter(s.cfg.Rate.UploadLimit).middleware)
			}
			r.With(upload...).Post("/", s.handleStartSession)

			r.Route("/{id}", func(r chi.Router) {
				// Long-lived; bounded by the client, not the request timeout.
				r.Get("/events", s.handleSessionEvents)

				r.Group(func(r chi.Router) {
					r.Use(timeout)
					r.Get("/", s.handleSessionSummary)
					r.Delete("/", s.handleDropSession)
					r.Get("/rows", s.handleRows)
					r.Post("/cells", s.handleUpdateCells)
					r.Post("/fix/{op}", s.handleFix)
					r.Post("/submit", s.handleSubmit)
					r.Post("/cancel", s.handleCancel)
					r.Post("/retry", s.handleRetry)
					r.Get("/failures.csv", s.handleFailuresCSV)
					r.Get("/failures.xlsx", s.handleFailuresXLSX)
				})
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(timeout)
			r.Get("/status", s.handleStatus)

			// Import and case endpoints
			r.Post("/imports", s.handleCreateImport)
			r.Get("/imports/{id}", s.handleGetImport)
			r.Patch("/imports/{id}", s.handleUpdateImport)
			r.Post("/cases/batch", s.handleCreateCases)
			r.Get("/cases/{caseID}/history", s.handleCaseHistory)
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

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
			}
			next.ServeHTTP(w, r)
		})
	}
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

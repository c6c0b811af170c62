// Package gateway wires the webhook gateway's HTTP routes.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fieldops/internal/gateway/handlers"
	"fieldops/internal/gateway/middleware"
	"fieldops/internal/jobs"
	"fieldops/internal/observability"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Options configures the router beyond the handlers themselves.
type Options struct {
	// AdminToken protects /admin. Empty leaves the admin routes unmounted.
	AdminToken string

	// Per-source webhook rate limit; zero disables limiting.
	RateLimit float64
	RateBurst int

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Logger   *slog.Logger
	Counters *observability.Metrics
}

// Server is the HTTP server for the webhook gateway.
type Server struct {
	httpServer *http.Server
}

// NewRouter builds the gateway routes.
func NewRouter(h *handlers.Handlers, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	limiter := middleware.NewSourceLimiter(opts.RateLimit, opts.RateBurst, opts.Counters)

	r.Route("/webhooks", func(r chi.Router) {
		r.With(limiter.Limit(middleware.URLParamKey("source"))).
			Post("/{source}/event", h.ReceiveEvent)

		r.Group(func(r chi.Router) {
			r.Use(middleware.CaptureRawBody(middleware.DefaultMaxBodyBytes))

			r.With(limiter.Limit(middleware.StaticKey(jobs.SourceAccounting))).
				Post("/accounting", h.Signed(jobs.SourceAccounting, handlers.HeaderAccountingSignature))
			r.With(limiter.Limit(middleware.StaticKey(jobs.SourceReports))).
				Post("/reports", h.Signed(jobs.SourceReports, handlers.HeaderReportSignature))
			r.With(limiter.Limit(middleware.StaticKey(jobs.SourceProjects))).
				Post("/projects", h.Signed(jobs.SourceProjects, handlers.HeaderProjectSignature))
		})
	})

	if opts.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdminToken(opts.AdminToken))

			r.Get("/jobs", h.ListJobs)
			r.Get("/jobs/{id}", h.GetJob)
			r.Post("/jobs/{id}/retry", h.RetryJob)
			r.Post("/webhook-events/{id}/enqueue", h.EnqueueEvent)
		})
	}

	return r
}

// New creates a new gateway server.
func New(addr string, h *handlers.Handlers, opts Options) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(h, opts),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

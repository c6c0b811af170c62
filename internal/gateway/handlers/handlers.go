// Package handlers contains HTTP handlers for the webhook gateway.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"fieldops/internal/jobs"
	"fieldops/internal/logger"
	"fieldops/internal/observability"
	"fieldops/internal/store"
	"fieldops/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Enqueuer schedules the job that processes an accepted event.
type Enqueuer interface {
	Enqueue(ctx context.Context, tx store.DBTransaction, jobType string, payload any, opts ...jobs.Option) (uuid.UUID, error)
}

// Pinger reports database reachability for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the gateway's webhook settings.
type Config struct {
	// Sources accepted on /webhooks/{source}/event.
	AllowedSources []string
	// Secrets for the signed sources, keyed by source.
	Secrets map[string]string
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	events   store.WebhookStore
	jobs     store.JobStore
	enqueuer Enqueuer
	db       Pinger
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer

	allowed map[string]bool
	secrets map[string]string
}

// New creates a Handlers instance. metrics may be nil.
func New(events store.WebhookStore, jobStore store.JobStore, enqueuer Enqueuer, db Pinger, cfg Config, log *slog.Logger, metrics *observability.Metrics) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	allowed := make(map[string]bool, len(cfg.AllowedSources))
	for _, s := range cfg.AllowedSources {
		allowed[strings.ToLower(strings.TrimSpace(s))] = true
	}
	secrets := make(map[string]string, len(cfg.Secrets))
	for k, v := range cfg.Secrets {
		secrets[strings.ToLower(k)] = v
	}

	return &Handlers{
		events:   events,
		jobs:     jobStore,
		enqueuer: enqueuer,
		db:       db,
		logger:   log,
		metrics:  metrics,
		tracer:   otel.Tracer("fieldops/gateway"),
		allowed:  allowed,
		secrets:  secrets,
	}
}

func (h *Handlers) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, h.logger)
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, status int, code string) {
	h.respondJson(w, status, api.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

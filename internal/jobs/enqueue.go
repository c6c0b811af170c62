package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldops/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceKey is the payload field carrying the W3C trace context of the enqueuer.
const TraceKey = "trace"

// Option customizes an enqueued job.
type Option func(*store.Job)

// WithRunAfter defers eligibility until t.
func WithRunAfter(t time.Time) Option {
	return func(j *store.Job) { j.RunAfter = t }
}

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(j *store.Job) { j.MaxAttempts = n }
}

// Enqueuer serializes payloads into jobs.
type Enqueuer struct {
	store       store.JobStore
	maxAttempts int
}

func NewEnqueuer(s store.JobStore, defaultMaxAttempts int) *Enqueuer {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = store.DefaultMaxAttempts
	}
	return &Enqueuer{store: s, maxAttempts: defaultMaxAttempts}
}

// Enqueue inserts a job of jobType. payload must marshal to a JSON object.
// tx may be nil; when set, the job commits or rolls back with the caller's work.
func (e *Enqueuer) Enqueue(ctx context.Context, tx store.DBTransaction, jobType string, payload any, opts ...Option) (uuid.UUID, error) {
	body, err := encodePayload(ctx, payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode %s payload: %w", jobType, err)
	}

	job := &store.Job{
		JobType:     jobType,
		Payload:     body,
		MaxAttempts: e.maxAttempts,
	}
	for _, opt := range opts {
		opt(job)
	}

	if err := e.store.Enqueue(ctx, tx, job); err != nil {
		return uuid.Nil, err
	}
	return job.ID, nil
}

func encodePayload(ctx context.Context, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		tc, err := json.Marshal(carrier)
		if err != nil {
			return nil, err
		}
		fields[TraceKey] = tc
	}

	return json.Marshal(fields)
}

// ExtractTrace returns ctx enriched with the trace context stored in payload, if any.
func ExtractTrace(ctx context.Context, payload json.RawMessage) context.Context {
	var envelope struct {
		Trace map[string]string `json:"trace"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || len(envelope.Trace) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(envelope.Trace))
}

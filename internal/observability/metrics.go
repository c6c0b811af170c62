// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Outcome label values.
const (
	OutcomeAccepted    = "accepted"
	OutcomeDuplicate   = "duplicate"
	OutcomeRejected    = "rejected"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeFailed  = "failed"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Metrics holds the instruments shared by the gateway and the worker.
// A nil *Metrics records nothing.
type Metrics struct {
	webhooksReceived metric.Int64Counter
	jobsProcessed    metric.Int64Counter
	jobDuration      metric.Float64Histogram
	claimConflicts   metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	webhooks, err := meter.Int64Counter("fieldops.webhooks.received",
		metric.WithDescription("Inbound webhook requests by source and outcome"))
	if err != nil {
		return nil, err
	}

	processed, err := meter.Int64Counter("fieldops.jobs.processed",
		metric.WithDescription("Job attempts by type and outcome"))
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("fieldops.jobs.duration",
		metric.WithDescription("Handler run time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	conflicts, err := meter.Int64Counter("fieldops.jobs.claim_conflicts",
		metric.WithDescription("Claims lost to another worker"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhooksReceived: webhooks,
		jobsProcessed:    processed,
		jobDuration:      duration,
		claimConflicts:   conflicts,
	}, nil
}

func (m *Metrics) WebhookReceived(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.webhooksReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) JobProcessed(ctx context.Context, jobType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", outcome),
	)
	m.jobsProcessed.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) ClaimConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.claimConflicts.Add(ctx, 1)
}

// PendingCounter reports queue depth.
type PendingCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// RegisterPendingGauge exposes the number of PENDING jobs as an observable gauge.
// Collection errors skip the observation.
func RegisterPendingGauge(meter metric.Meter, counter PendingCounter) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge("fieldops.jobs.pending",
		metric.WithDescription("Jobs waiting to be processed"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		n, err := counter.CountPending(ctx)
		if err != nil {
			return nil
		}
		o.ObserveInt64(gauge, n)
		return nil
	}, gauge)
}

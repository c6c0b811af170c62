// Package worker contains the poll loop that claims and runs queued jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"fieldops/internal/jobs"
	"fieldops/internal/logger"
	"fieldops/internal/observability"
	"fieldops/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of an Agent.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "RUNNING"
	}
	return "STOPPED"
}

// Dispatcher routes a job to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobType string, payload json.RawMessage) error
}

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID           string
	BatchSize    int
	PollInterval time.Duration
	// RetryBackoff is the base delay applied to run_after after a failure
	// (doubling per attempt). Zero keeps retries immediately eligible.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// Agent is a single poll loop. Several agents may share one Job Store; the
// conditional claim keeps them from running the same job.
type Agent struct {
	queue   store.JobStore
	router  Dispatcher
	config  AgentConfig
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	mu      sync.Mutex
	state   State
	gen     uint64
	timer   *time.Timer
	// inFlight is set while a tick is polling; a restart during it defers
	// scheduling to that tick so one agent never runs two handlers at once.
	inFlight bool
	baseCtx context.Context
	polling sync.WaitGroup
}

// New creates an agent in the STOPPED state. metrics may be nil.
func New(q store.JobStore, router Dispatcher, config AgentConfig, log *slog.Logger, metrics *observability.Metrics) *Agent {
	if config.ID == "" {
		config.ID = DefaultID()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxRetryBackoff <= 0 {
		config.MaxRetryBackoff = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	return &Agent{
		queue:   q,
		router:  router,
		config:  config,
		logger:  log.With("worker_id", config.ID),
		metrics: metrics,
		tracer:  otel.Tracer("fieldops/worker"),
		baseCtx: context.Background(),
	}
}

// DefaultID returns <hostname>-<8 random hex characters>.
func DefaultID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return host + "-" + suffix
}

func (a *Agent) ID() string { return a.config.ID }

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start moves the agent to RUNNING and schedules an immediate poll. Handlers
// run with a context detached from ctx's cancellation. Starting a running
// agent is a no-op.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateRunning {
		return
	}
	a.state = StateRunning
	a.gen++
	a.baseCtx = context.WithoutCancel(ctx)
	if !a.inFlight {
		a.scheduleLocked(a.gen, 0)
	}

	a.logger.Info("worker started",
		"batch_size", a.config.BatchSize,
		"poll_interval", a.config.PollInterval.String())
}

// Stop cancels the pending poll. A job already being processed runs to
// completion; use Wait to block until it has.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateStopped {
		return
	}
	a.state = StateStopped
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.logger.Info("worker stopped")
}

// Wait blocks until an in-flight poll, if any, has finished.
func (a *Agent) Wait() {
	a.polling.Wait()
}

// Run starts the agent and blocks until ctx is cancelled, then stops it and
// drains the in-flight poll.
func (a *Agent) Run(ctx context.Context) error {
	a.Start(ctx)
	<-ctx.Done()

	a.logger.Info("context cancelled, waiting for the in-flight job to finish")
	a.Stop()
	a.Wait()
	return ctx.Err()
}

func (a *Agent) scheduleLocked(gen uint64, delay time.Duration) {
	a.timer = time.AfterFunc(delay, func() { a.tick(gen) })
}

func (a *Agent) tick(gen uint64) {
	a.mu.Lock()
	if a.state != StateRunning || a.gen != gen {
		a.mu.Unlock()
		return
	}
	ctx := a.baseCtx
	a.inFlight = true
	a.polling.Add(1)
	a.mu.Unlock()

	if _, err := a.PollOnce(ctx); err != nil {
		a.logger.Error("poll failed", "error", err)
	}

	a.mu.Lock()
	a.inFlight = false
	switch {
	case a.state != StateRunning:
	case a.gen == gen:
		// The next poll is scheduled whether or not work was found.
		a.scheduleLocked(gen, a.config.PollInterval)
	default:
		// Restarted while polling; Start left the first poll to us.
		a.scheduleLocked(a.gen, 0)
	}
	a.mu.Unlock()
	a.polling.Done()
}

// PollOnce fetches a batch of eligible jobs, claims each and runs the claimed
// ones sequentially. It returns how many jobs this worker processed.
func (a *Agent) PollOnce(ctx context.Context) (int, error) {
	batch, err := a.queue.FetchEligible(ctx, a.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch eligible jobs: %w", err)
	}

	processed := 0
	for i := range batch {
		job := &batch[i]

		claimed, err := a.queue.Claim(ctx, job.ID, a.config.ID)
		if err != nil {
			a.logger.Error("claim failed", "job_id", job.ID, "error", err)
			continue
		}
		if !claimed {
			a.metrics.ClaimConflict(ctx)
			a.logger.Debug("job claimed by another worker", "job_id", job.ID)
			continue
		}

		a.process(ctx, job)
		processed++
	}
	return processed, nil
}

// process runs one claimed job and records the outcome on the job row.
func (a *Agent) process(ctx context.Context, job *store.Job) {
	log := logger.WithJob(a.logger, job.ID, job.JobType, job.Attempts)

	spanCtx, span := a.tracer.Start(jobs.ExtractTrace(ctx, job.Payload), "process_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.type", job.JobType),
			attribute.Int("job.attempts", job.Attempts),
			attribute.String("worker.id", a.config.ID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	started := time.Now()
	err := a.dispatch(spanCtx, job)
	elapsed := time.Since(started)

	if err == nil {
		if cerr := a.queue.Complete(ctx, job.ID, a.config.ID); cerr != nil {
			if errors.Is(cerr, store.ErrLockLost) {
				log.Warn("job lock lost before completion", "error", cerr)
			} else {
				log.Error("failed to mark job completed", "error", cerr)
			}
			return
		}
		a.metrics.JobProcessed(ctx, job.JobType, observability.OutcomeSuccess, elapsed)
		log.Info("job completed", "duration_ms", elapsed.Milliseconds())
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status, attempts, ferr := a.queue.Fail(ctx, job.ID, a.config.ID, err.Error(), a.backoff(job.Attempts+1))
	if ferr != nil {
		log.Error("failed to record job failure", "handler_error", err, "error", ferr)
		return
	}

	if status == store.JobStatusFailed {
		a.metrics.JobProcessed(ctx, job.JobType, observability.OutcomeFailed, elapsed)
		log.Error("job failed permanently", "error", err, "attempts", attempts)
		return
	}
	a.metrics.JobProcessed(ctx, job.JobType, observability.OutcomeFailure, elapsed)
	log.Warn("job attempt failed", "error", err, "attempts", attempts, "max_attempts", job.MaxAttempts)
}

// dispatch converts a handler panic into an ordinary failure.
func (a *Agent) dispatch(ctx context.Context, job *store.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return a.router.Dispatch(ctx, job.JobType, job.Payload)
}

// backoff returns RetryBackoff * 2^(attempt-1), capped at MaxRetryBackoff.
func (a *Agent) backoff(attempt int) time.Duration {
	if a.config.RetryBackoff <= 0 {
		return 0
	}
	d := a.config.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= a.config.MaxRetryBackoff {
			return a.config.MaxRetryBackoff
		}
	}
	if d > a.config.MaxRetryBackoff {
		return a.config.MaxRetryBackoff
	}
	return d
}

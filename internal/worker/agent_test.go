package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fieldops/internal/jobs"
	"fieldops/internal/store"
	"fieldops/internal/store/memory"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestAgent(q store.JobStore, r Dispatcher, cfg AgentConfig) *Agent {
	if cfg.ID == "" {
		cfg.ID = "test-worker"
	}
	return New(q, r, cfg, discardLogger(), nil)
}

func enqueue(t *testing.T, q store.JobStore, jobType string, maxAttempts int) uuid.UUID {
	t.Helper()
	job := &store.Job{JobType: jobType, Payload: json.RawMessage(`{}`), MaxAttempts: maxAttempts}
	if err := q.Enqueue(context.Background(), nil, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job.ID
}

func getJob(t *testing.T, q store.JobStore, id uuid.UUID) *store.Job {
	t.Helper()
	j, err := q.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j
}

func TestPollOnce_CompletesJob(t *testing.T) {
	q := memory.New()
	r := jobs.NewRouter()
	var calls int32
	r.Register("noop", jobs.HandlerFunc(func(context.Context, json.RawMessage) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	id := enqueue(t, q, "noop", 3)
	a := newTestAgent(q, r, AgentConfig{})

	n, err := a.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one processed job, got n=%d calls=%d", n, calls)
	}

	j := getJob(t, q, id)
	if j.Status != store.JobStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", j.Status)
	}
	if j.LastError != nil {
		t.Errorf("expected last_error cleared, got %q", *j.LastError)
	}
}

func TestPollOnce_Failures(t *testing.T) {
	tests := []struct {
		name    string
		jobType string
		handler jobs.Handler
		wantErr string
	}{
		{
			name:    "handler error",
			jobType: "flaky",
			handler: jobs.HandlerFunc(func(context.Context, json.RawMessage) error { return errors.New("upstream timeout") }),
			wantErr: "upstream timeout",
		},
		{
			name:    "handler panic",
			jobType: "explosive",
			handler: jobs.HandlerFunc(func(context.Context, json.RawMessage) error { panic("nil map") }),
			wantErr: "handler panic: nil map",
		},
		{
			name:    "unknown job type",
			jobType: "nobody.handles.this",
			wantErr: jobs.ErrUnknownJobType.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := memory.New()
			r := jobs.NewRouter()
			if tt.handler != nil {
				r.Register(tt.jobType, tt.handler)
			}
			id := enqueue(t, q, tt.jobType, 3)
			a := newTestAgent(q, r, AgentConfig{})

			for attempt := 1; attempt <= 3; attempt++ {
				if _, err := a.PollOnce(context.Background()); err != nil {
					t.Fatalf("attempt %d: poll error: %v", attempt, err)
				}
				j := getJob(t, q, id)
				if j.Attempts != attempt {
					t.Fatalf("attempt %d: expected attempts %d, got %d", attempt, attempt, j.Attempts)
				}
				if j.LockedAt != nil || j.LockedBy != nil {
					t.Fatalf("attempt %d: expected lock fields cleared", attempt)
				}
				if j.LastError == nil || !strings.Contains(*j.LastError, tt.wantErr) {
					t.Fatalf("attempt %d: expected last_error containing %q, got %v", attempt, tt.wantErr, j.LastError)
				}

				want := store.JobStatusPending
				if attempt == 3 {
					want = store.JobStatusFailed
				}
				if j.Status != want {
					t.Fatalf("attempt %d: expected %s, got %s", attempt, want, j.Status)
				}
			}

			// A FAILED job is never picked up again.
			n, _ := a.PollOnce(context.Background())
			if n != 0 {
				t.Errorf("expected no work after exhaustion, got %d", n)
			}
		})
	}
}

func TestPollOnce_OneFailureDoesNotAffectOthers(t *testing.T) {
	q := memory.New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := base
	q.SetClock(func() time.Time { return now })

	r := jobs.NewRouter()
	r.Register("bad", jobs.HandlerFunc(func(context.Context, json.RawMessage) error { panic("boom") }))
	r.Register("good", jobs.HandlerFunc(func(context.Context, json.RawMessage) error { return nil }))

	bad := enqueue(t, q, "bad", 1)
	now = now.Add(time.Second)
	good := enqueue(t, q, "good", 1)
	now = now.Add(time.Second)

	a := newTestAgent(q, r, AgentConfig{})
	n, err := a.PollOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2 processed jobs, got %d (%v)", n, err)
	}
	if s := getJob(t, q, bad).Status; s != store.JobStatusFailed {
		t.Errorf("expected bad job FAILED, got %s", s)
	}
	if s := getJob(t, q, good).Status; s != store.JobStatusCompleted {
		t.Errorf("expected good job COMPLETED, got %s", s)
	}
}

// racingQueue lets another worker win every claim.
type racingQueue struct {
	*memory.Store
}

func (q racingQueue) Claim(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	if _, err := q.Store.Claim(ctx, jobID, "someone-else"); err != nil {
		return false, err
	}
	return q.Store.Claim(ctx, jobID, workerID)
}

func TestPollOnce_SkipsLostClaims(t *testing.T) {
	q := racingQueue{memory.New()}
	r := jobs.NewRouter()
	var calls int32
	r.Register("noop", jobs.HandlerFunc(func(context.Context, json.RawMessage) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	id := enqueue(t, q, "noop", 3)

	a := newTestAgent(q, r, AgentConfig{})
	n, err := a.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 || atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected the lost job to be skipped, got n=%d calls=%d", n, calls)
	}

	j := getJob(t, q, id)
	if j.LockedBy == nil || *j.LockedBy != "someone-else" {
		t.Errorf("expected lock held by the winner, got %v", j.LockedBy)
	}
}

func TestPollOnce_AgentsShareQueue(t *testing.T) {
	q := memory.New()
	var mu sync.Mutex
	seen := map[uuid.UUID]int{}

	r := jobs.NewRouter()
	jobs.Register(r, "count", func(_ context.Context, p struct {
		ID uuid.UUID `json:"id"`
	}) error {
		mu.Lock()
		seen[p.ID]++
		mu.Unlock()
		return nil
	})

	const total = 40
	for i := 0; i < total; i++ {
		id := uuid.New()
		payload, _ := json.Marshal(map[string]string{"id": id.String()})
		if err := q.Enqueue(context.Background(), nil, &store.Job{JobType: "count", Payload: payload}); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		a := newTestAgent(q, r, AgentConfig{ID: "worker-" + string(rune('a'+w)), BatchSize: 5})
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n, err := a.PollOnce(context.Background())
				if err != nil {
					t.Errorf("poll error: %v", err)
					return
				}
				pending, _ := q.CountPending(context.Background())
				if n == 0 && pending == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct jobs, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %s processed %d times", id, n)
		}
	}
}

func TestAgent_RetryBackoff(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		attempt int
		want    time.Duration
	}{
		{name: "disabled", base: 0, max: time.Minute, attempt: 3, want: 0},
		{name: "first attempt", base: 10 * time.Second, max: time.Minute, attempt: 1, want: 10 * time.Second},
		{name: "doubles", base: 10 * time.Second, max: time.Minute, attempt: 3, want: 40 * time.Second},
		{name: "capped", base: 10 * time.Second, max: 25 * time.Second, attempt: 3, want: 25 * time.Second},
		{name: "large attempt stays capped", base: time.Second, max: time.Hour, attempt: 200, want: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(memory.New(), jobs.NewRouter(), AgentConfig{RetryBackoff: tt.base, MaxRetryBackoff: tt.max})
			if got := a.backoff(tt.attempt); got != tt.want {
				t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestPollOnce_BackoffDefersRetry(t *testing.T) {
	q := memory.New()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return now })

	r := jobs.NewRouter()
	r.Register("flaky", jobs.HandlerFunc(func(context.Context, json.RawMessage) error { return errors.New("503") }))
	id := enqueue(t, q, "flaky", 5)

	a := newTestAgent(q, r, AgentConfig{RetryBackoff: 30 * time.Second, MaxRetryBackoff: time.Hour})
	if n, _ := a.PollOnce(context.Background()); n != 1 {
		t.Fatalf("expected first attempt, got %d", n)
	}
	if j := getJob(t, q, id); !j.RunAfter.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("expected run_after pushed 30s, got %s", j.RunAfter)
	}

	if n, _ := a.PollOnce(context.Background()); n != 0 {
		t.Fatalf("expected job to wait out its backoff, got %d", n)
	}

	now = now.Add(31 * time.Second)
	if n, _ := a.PollOnce(context.Background()); n != 1 {
		t.Fatalf("expected retry after backoff, got %d", n)
	}
	if j := getJob(t, q, id); !j.RunAfter.Equal(now.Add(time.Minute)) {
		t.Errorf("expected second backoff of 60s, got %s", j.RunAfter.Sub(now))
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAgent_StartStop(t *testing.T) {
	q := memory.New()
	r := jobs.NewRouter()
	var calls int32
	r.Register("noop", jobs.HandlerFunc(func(context.Context, json.RawMessage) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	a := newTestAgent(q, r, AgentConfig{PollInterval: 10 * time.Millisecond})
	if a.State() != StateStopped {
		t.Fatalf("expected STOPPED, got %s", a.State())
	}

	enqueue(t, q, "noop", 3)
	a.Start(context.Background())
	a.Start(context.Background())
	if a.State() != StateRunning {
		t.Fatalf("expected RUNNING, got %s", a.State())
	}
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 })

	// Polling continues after an empty poll.
	enqueue(t, q, "noop", 3)
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&calls) == 2 })

	a.Stop()
	a.Wait()
	if a.State() != StateStopped {
		t.Fatalf("expected STOPPED, got %s", a.State())
	}

	enqueue(t, q, "noop", 3)
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected no polling while stopped, got %d calls", got)
	}

	a.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&calls) == 3 })
	a.Stop()
	a.Wait()
}

func TestAgent_RunDrainsInFlightJob(t *testing.T) {
	q := memory.New()
	r := jobs.NewRouter()

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr atomic.Value
	r.Register("slow", jobs.HandlerFunc(func(ctx context.Context, _ json.RawMessage) error {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			handlerCtxErr.Store(err)
		}
		return nil
	}))
	id := enqueue(t, q, "slow", 3)

	a := newTestAgent(q, r, AgentConfig{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the job finished")
	}

	if v := handlerCtxErr.Load(); v != nil {
		t.Errorf("handler context was cancelled: %v", v)
	}
	if s := getJob(t, q, id).Status; s != store.JobStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", s)
	}
	if a.State() != StateStopped {
		t.Errorf("expected STOPPED, got %s", a.State())
	}
}

func TestAgent_RestartDuringJobStaysSequential(t *testing.T) {
	q := memory.New()
	r := jobs.NewRouter()

	var running, maxRunning, calls int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	r.Register("slow", jobs.HandlerFunc(func(context.Context, json.RawMessage) error {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	enqueue(t, q, "slow", 3)
	enqueue(t, q, "slow", 3)

	a := newTestAgent(q, r, AgentConfig{BatchSize: 1, PollInterval: 10 * time.Millisecond})
	a.Start(context.Background())
	<-started

	a.Stop()
	a.Start(context.Background())

	select {
	case <-started:
		t.Fatal("second job started while the first was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&calls) == 2 })
	a.Stop()
	a.Wait()

	if m := atomic.LoadInt32(&maxRunning); m != 1 {
		t.Errorf("expected at most one running handler, got %d", m)
	}
	if a.State() != StateStopped {
		t.Errorf("expected STOPPED, got %s", a.State())
	}
}

func TestPollOnce_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	q := memory.New()
	if _, err := jobs.NewEnqueuer(q, 3).Enqueue(parent, nil, "traced", map[string]string{"k": "v"}); err != nil {
		t.Fatal(err)
	}

	var got trace.TraceID
	r := jobs.NewRouter()
	r.Register("traced", jobs.HandlerFunc(func(ctx context.Context, _ json.RawMessage) error {
		got = trace.SpanContextFromContext(ctx).TraceID()
		return nil
	}))

	if _, err := newTestAgent(q, r, AgentConfig{}).PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != traceID {
		t.Errorf("expected trace %s in handler, got %s", traceID, got)
	}
}

func TestDefaultID(t *testing.T) {
	id := DefaultID()
	if !regexp.MustCompile(`^.+-[0-9a-f]{8}$`).MatchString(id) {
		t.Errorf("unexpected worker id %q", id)
	}
	if DefaultID() == id {
		t.Error("expected a fresh suffix per call")
	}
}

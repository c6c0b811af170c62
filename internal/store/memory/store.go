// Package memory provides an in-memory job queue and webhook event store with
// the same claim semantics as the PostgreSQL store. Safe for concurrent use.
// Intended for tests and local development.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"fieldops/internal/store"

	"github.com/google/uuid"
)

var (
	_ store.JobStore     = (*Store)(nil)
	_ store.WebhookStore = (*Store)(nil)
)

// Store keeps jobs and webhook events in maps guarded by a single mutex.
// The transaction argument of Enqueue is ignored.
type Store struct {
	mu sync.Mutex

	jobs       map[uuid.UUID]*store.Job
	events     map[uuid.UUID]*store.WebhookEvent
	eventByKey map[string]uuid.UUID

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:       make(map[uuid.UUID]*store.Job),
		events:     make(map[uuid.UUID]*store.WebhookEvent),
		eventByKey: make(map[string]uuid.UUID),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for eligibility checks.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func cloneJob(j *store.Job) store.Job {
	cp := *j
	cp.Payload = append([]byte(nil), j.Payload...)
	return cp
}

// Job queue

func (m *Store) Enqueue(_ context.Context, _ store.DBTransaction, job *store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = store.DefaultMaxAttempts
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if len(job.Payload) == 0 {
		job.Payload = []byte(`{}`)
	}
	job.Status = store.JobStatusPending
	job.Attempts = 0
	job.LockedAt, job.LockedBy, job.LastError = nil, nil, nil

	cp := cloneJob(job)
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Store) FetchEligible(_ context.Context, limit int) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 1
	}
	now := m.now()

	candidates := make([]*store.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Eligible(now) {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]store.Job, len(candidates))
	for i, j := range candidates {
		out[i] = cloneJob(j)
	}
	return out, nil
}

func (m *Store) Claim(_ context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.Status != store.JobStatusPending || j.LockedAt != nil {
		return false, nil
	}
	now := m.now()
	j.LockedAt = &now
	j.LockedBy = &workerID
	return true, nil
}

func (m *Store) lockedBy(jobID uuid.UUID, workerID string) (*store.Job, error) {
	j, ok := m.jobs[jobID]
	if !ok || j.Status != store.JobStatusPending || j.LockedBy == nil || *j.LockedBy != workerID {
		return nil, store.ErrLockLost
	}
	return j, nil
}

func (m *Store) Complete(_ context.Context, jobID uuid.UUID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lockedBy(jobID, workerID)
	if err != nil {
		return err
	}
	j.Status = store.JobStatusCompleted
	j.LastError = nil
	return nil
}

func (m *Store) Fail(_ context.Context, jobID uuid.UUID, workerID string, errMsg string, backoff time.Duration) (store.JobStatus, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lockedBy(jobID, workerID)
	if err != nil {
		return "", 0, err
	}

	j.Attempts++
	j.LastError = &errMsg
	j.LockedAt, j.LockedBy = nil, nil
	if j.Attempts >= j.MaxAttempts {
		j.Status = store.JobStatusFailed
	} else if backoff > 0 {
		j.RunAfter = m.now().Add(backoff)
	}
	return j.Status, j.Attempts, nil
}

func (m *Store) Retry(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return store.ErrJobNotFound
	}
	if j.Status != store.JobStatusFailed {
		return store.ErrJobNotFailed
	}
	j.Status = store.JobStatusPending
	j.Attempts = 0
	j.LockedAt, j.LockedBy, j.LastError = nil, nil, nil
	j.RunAfter = m.now()
	return nil
}

func (m *Store) GetJob(_ context.Context, jobID uuid.UUID) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := cloneJob(j)
	return &cp, nil
}

func (m *Store) ListJobs(_ context.Context, filter store.JobFilter) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]*store.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, j.Status) {
			continue
		}
		if filter.JobType != "" && j.JobType != filter.JobType {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []store.Job{}, nil
		}
		matched = matched[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]store.Job, len(matched))
	for i, j := range matched {
		out[i] = cloneJob(j)
	}
	return out, nil
}

func (m *Store) CountPending(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, j := range m.jobs {
		if j.Status == store.JobStatusPending {
			n++
		}
	}
	return n, nil
}

// Webhook events

func (m *Store) CreateEvent(_ context.Context, event *store.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.eventByKey[event.IdempotencyKey]; exists {
		return store.ErrDuplicateEvent
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = store.WebhookEventPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now()
	}

	cp := *event
	m.events[event.ID] = &cp
	m.eventByKey[event.IdempotencyKey] = event.ID
	return nil
}

func (m *Store) GetEventByKey(_ context.Context, key string) (*store.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.eventByKey[key]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	cp := *m.events[id]
	return &cp, nil
}

func (m *Store) GetEvent(_ context.Context, id uuid.UUID) (*store.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *Store) setEventStatus(id uuid.UUID, status store.WebhookEventStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return store.ErrEventNotFound
	}
	ev.Status = status
	ev.ErrorMessage = errMsg
	if status == store.WebhookEventProcessed {
		now := m.now()
		ev.ProcessedAt = &now
	}
	return nil
}

func (m *Store) MarkEventProcessing(_ context.Context, id uuid.UUID) error {
	return m.setEventStatus(id, store.WebhookEventProcessing, nil)
}

func (m *Store) MarkEventProcessed(_ context.Context, id uuid.UUID) error {
	return m.setEventStatus(id, store.WebhookEventProcessed, nil)
}

func (m *Store) MarkEventFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	return m.setEventStatus(id, store.WebhookEventFailed, &errMsg)
}

// Package store contains the database layer for fieldops.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a queued job.
// PENDING doubles as "processing" while locked_at is set.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// DefaultMaxAttempts is used when a job is enqueued without an explicit budget.
const DefaultMaxAttempts = 3

// Job is a durable unit of deferred work.
type Job struct {
	ID          uuid.UUID
	JobType     string
	Payload     json.RawMessage
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	LockedAt    *time.Time
	LockedBy    *string
	LastError   *string
	CreatedAt   time.Time
}

// Eligible reports whether the job may be claimed at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status == JobStatusPending && j.LockedAt == nil && !j.RunAfter.After(now)
}

// JobFilter narrows ListJobs results. Zero values mean "no filter".
type JobFilter struct {
	Statuses []JobStatus
	JobType  string
	Limit    int
	Offset   int
}

// WebhookEventStatus represents the processing state of an inbound event.
type WebhookEventStatus string

const (
	WebhookEventPending    WebhookEventStatus = "PENDING"
	WebhookEventProcessing WebhookEventStatus = "PROCESSING"
	WebhookEventProcessed  WebhookEventStatus = "PROCESSED"
	WebhookEventFailed     WebhookEventStatus = "FAILED"
)

// WebhookEvent is a persisted inbound third-party payload.
type WebhookEvent struct {
	ID             uuid.UUID
	Source         string
	EventType      string
	Payload        json.RawMessage
	Status         WebhookEventStatus
	IdempotencyKey string
	ProcessedAt    *time.Time
	ErrorMessage   *string
	CreatedAt      time.Time
}

// EntityMapping correlates a local record with its copy in the accounting system.
type EntityMapping struct {
	EntityType      string
	LocalTable      string
	LocalID         uuid.UUID
	RemoteID        string
	RemoteSyncToken string
	LastSyncedAt    time.Time
}

// Entity types tracked in the entity map.
const (
	EntityCustomer = "customer"
	EntityInvoice  = "invoice"
)

// Employee is the subset of the business employee record the labor handlers need.
type Employee struct {
	ID              uuid.UUID
	DisplayName     string
	TimeclockUserID *string
	HourlyRate      *float64
}

// TimeEntryStatus represents whether a shift has been closed.
type TimeEntryStatus string

const (
	TimeEntryOpen      TimeEntryStatus = "OPEN"
	TimeEntryCompleted TimeEntryStatus = "COMPLETED"
)

// TimeEntry is a single clock-in/clock-out record.
type TimeEntry struct {
	ID           uuid.UUID
	EmployeeID   uuid.UUID
	ProjectID    *uuid.UUID
	ClockIn      time.Time
	ClockOut     *time.Time
	BreakMinutes int
	Status       TimeEntryStatus
	ExternalRef  *string
}

// CostCode classifies ledger entries.
type CostCode struct {
	ID   uuid.UUID
	Code string
	Name string
}

// CostEntry is one row of the job-cost ledger.
type CostEntry struct {
	ID             uuid.UUID
	ProjectID      *uuid.UUID
	CostCodeID     uuid.UUID
	SourceType     string
	SourceID       uuid.UUID
	IdempotencyKey string
	Quantity       float64
	UnitCost       float64
	Amount         float64
	EntryDate      time.Time
	Description    string
}

// Customer is the local customer record kept in sync with the accounting system.
type Customer struct {
	ID             uuid.UUID
	CustomerNumber string
	DisplayName    string
	Email          *string
	Phone          *string
	Active         bool
	UpdatedAt      time.Time
}

// Invoice is the local invoice header kept in sync with the accounting system.
type Invoice struct {
	ID            uuid.UUID
	InvoiceNumber string
	CustomerID    uuid.UUID
	TotalAmount   float64
	Balance       float64
	DueDate       *time.Time
	Status        string
	UpdatedAt     time.Time
}

// Invoice statuses written by the sync handlers.
const (
	InvoiceStatusOpen = "OPEN"
	InvoiceStatusPaid = "PAID"
	InvoiceStatusVoid = "VOID"
)

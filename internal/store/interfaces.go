package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// Transactor starts transactions for multi-statement handler work.
type Transactor interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// JobStore is the durable job queue.
// Claiming is a compare-and-swap on locked_at; no other coordination exists.
type JobStore interface {
	// Enqueue inserts a PENDING job. tx may be nil.
	Enqueue(ctx context.Context, tx DBTransaction, job *Job) error

	// FetchEligible returns up to limit unclaimed PENDING jobs whose run_after has passed, oldest first.
	FetchEligible(ctx context.Context, limit int) ([]Job, error)

	// Claim sets the lock fields if and only if the job is still unclaimed.
	// It returns false when another worker won the race.
	Claim(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error)

	// Complete marks a claimed job COMPLETED and clears last_error.
	Complete(ctx context.Context, jobID uuid.UUID, workerID string) error

	// Fail records a failed attempt. The job is unlocked and either stays PENDING
	// or becomes FAILED once attempts reach max_attempts. A positive backoff pushes
	// run_after forward; zero leaves it unchanged.
	Fail(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string, backoff time.Duration) (JobStatus, int, error)

	// Retry resurrects a FAILED job.
	Retry(ctx context.Context, jobID uuid.UUID) error

	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)

	// CountPending returns the number of PENDING jobs (claimed or not).
	CountPending(ctx context.Context) (int64, error)
}

// WebhookStore persists inbound events.
type WebhookStore interface {
	// CreateEvent inserts a new event. Returns ErrDuplicateEvent if the idempotency key exists.
	CreateEvent(ctx context.Context, event *WebhookEvent) error

	// GetEventByKey returns ErrEventNotFound when no event carries the key.
	GetEventByKey(ctx context.Context, key string) (*WebhookEvent, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*WebhookEvent, error)

	MarkEventProcessing(ctx context.Context, id uuid.UUID) error
	MarkEventProcessed(ctx context.Context, id uuid.UUID) error
	MarkEventFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// EntityMapStore reads and writes local/remote id correlations.
type EntityMapStore interface {
	// FindMappingByRemote locks the row when tx is a transaction.
	FindMappingByRemote(ctx context.Context, tx DBTransaction, entityType, remoteID string) (*EntityMapping, error)
	FindMappingByLocal(ctx context.Context, tx DBTransaction, entityType string, localID uuid.UUID) (*EntityMapping, error)
	SaveMapping(ctx context.Context, tx DBTransaction, mapping *EntityMapping) error
}

// LaborStore covers time tracking and the job-cost ledger.
type LaborStore interface {
	GetTimeEntry(ctx context.Context, id uuid.UUID) (*TimeEntry, error)
	GetEmployee(ctx context.Context, id uuid.UUID) (*Employee, error)
	FindCostCodeByName(ctx context.Context, name string) (*CostCode, error)
	CostEntryExists(ctx context.Context, idempotencyKey string) (bool, error)

	// InsertCostEntry returns false when the idempotency key was already taken.
	InsertCostEntry(ctx context.Context, entry *CostEntry) (bool, error)
}

// TimeclockStore records shifts reported by time-clock providers.
type TimeclockStore interface {
	GetEmployeeByTimeclockUser(ctx context.Context, tx DBTransaction, userID string) (*Employee, error)

	// OpenTimeEntry returns false when an entry with the same external_ref exists.
	OpenTimeEntry(ctx context.Context, tx DBTransaction, entry *TimeEntry) (bool, error)
	FindOpenTimeEntry(ctx context.Context, tx DBTransaction, employeeID uuid.UUID) (*TimeEntry, error)
	CloseTimeEntry(ctx context.Context, tx DBTransaction, id uuid.UUID, clockOut time.Time, breakMinutes int) error
}

// CustomerStore manages local customers. CreateCustomer allocates the customer number.
type CustomerStore interface {
	GetCustomer(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Customer, error)
	CreateCustomer(ctx context.Context, tx DBTransaction, customer *Customer) error
	UpdateCustomer(ctx context.Context, tx DBTransaction, customer *Customer) error
	DeactivateCustomer(ctx context.Context, tx DBTransaction, id uuid.UUID) error
}

// InvoiceStore manages local invoice headers. CreateInvoice allocates the invoice number.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Invoice, error)
	CreateInvoice(ctx context.Context, tx DBTransaction, invoice *Invoice) error
	UpdateInvoice(ctx context.Context, tx DBTransaction, invoice *Invoice) error
	VoidInvoice(ctx context.Context, tx DBTransaction, id uuid.UUID) error
}

// IntegrationStore applies report and project-management notifications.
type IntegrationStore interface {
	UpdateReportRun(ctx context.Context, id uuid.UUID, status string, downloadURL *string, completedAt *time.Time) error
	UpdateProjectStatus(ctx context.Context, id uuid.UUID, status string) error
}

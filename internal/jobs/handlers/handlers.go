// Package handlers implements the job types processed by the worker.
//
// Every handler is idempotent with respect to its own side effects: jobs are
// delivered at least once, so a handler may run again after a crash, a lost
// lock or an operator retry.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fieldops/internal/accounting"
	"fieldops/internal/jobs"
	"fieldops/internal/store"

	"github.com/google/uuid"
)

// Enqueuer schedules follow-up jobs, optionally inside the caller's transaction.
type Enqueuer interface {
	Enqueue(ctx context.Context, tx store.DBTransaction, jobType string, payload any, opts ...jobs.Option) (uuid.UUID, error)
}

// AccountingAPI is the subset of the accounting client the sync handlers call.
type AccountingAPI interface {
	GetCustomer(ctx context.Context, id string) (*accounting.Customer, error)
	GetInvoice(ctx context.Context, id string) (*accounting.Invoice, error)
	CreateCustomer(ctx context.Context, requestID string, c *accounting.Customer) (*accounting.Customer, error)
	UpdateCustomer(ctx context.Context, c *accounting.Customer) (*accounting.Customer, error)
	CreateInvoice(ctx context.Context, requestID string, inv *accounting.Invoice) (*accounting.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *accounting.Invoice) (*accounting.Invoice, error)
}

// Deps wires the stores and clients handlers depend on.
type Deps struct {
	Tx           store.Transactor
	Events       store.WebhookStore
	Labor        store.LaborStore
	Timeclock    store.TimeclockStore
	EntityMap    store.EntityMapStore
	Customers    store.CustomerStore
	Invoices     store.InvoiceStore
	Integrations store.IntegrationStore
	Enqueuer     Enqueuer
	Accounting   AccountingAPI
	Logger       *slog.Logger
}

// LaborConfig controls how labor cost is priced and classified.
type LaborConfig struct {
	DefaultHourlyRate float64
	// DefaultCostCodeID wins over the name lookup when set.
	DefaultCostCodeID uuid.UUID
	CostCodeName      string
}

// Handlers groups the job handlers around shared dependencies.
type Handlers struct {
	Deps
	labor LaborConfig
	now   func() time.Time
}

func New(deps Deps, labor LaborConfig) *Handlers {
	if labor.CostCodeName == "" {
		labor.CostCodeName = "Labor"
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handlers{
		Deps:  deps,
		labor: labor,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Register binds every job type to the router.
func (h *Handlers) Register(r *jobs.Router) {
	jobs.Register(r, jobs.TypeLaborCostPost, h.PostLaborCost)
	jobs.Register(r, jobs.TypeTimeclockEventProcess, h.ProcessTimeclockEvent)
	jobs.Register(r, jobs.TypeAccountingEventProcess, h.ProcessAccountingEvent)
	jobs.Register(r, jobs.TypeAccountingPush, h.PushToAccounting)
	jobs.Register(r, jobs.TypeIntegrationEventProcess, h.ProcessIntegrationEvent)
}

// processEvent runs fn against a webhook event with status bookkeeping:
// PROCESSING before, PROCESSED on success, FAILED with the message otherwise.
// The error is returned so the worker applies its retry policy.
func (h *Handlers) processEvent(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, ev *store.WebhookEvent) error) error {
	ev, err := h.Events.GetEvent(ctx, id)
	if err != nil {
		return fmt.Errorf("load webhook event %s: %w", id, err)
	}

	if err := h.Events.MarkEventProcessing(ctx, ev.ID); err != nil {
		return err
	}

	if err := fn(ctx, ev); err != nil {
		if markErr := h.Events.MarkEventFailed(ctx, ev.ID, err.Error()); markErr != nil {
			h.Logger.Error("failed to record webhook event failure",
				"webhook_event_id", ev.ID, "error", markErr)
		}
		return err
	}

	return h.Events.MarkEventProcessed(ctx, ev.ID)
}

// withTx runs fn in a transaction, committing on success.
func (h *Handlers) withTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := h.Tx.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fieldops/internal/accounting"
	"fieldops/internal/jobs"
	"fieldops/internal/store"
	"fieldops/internal/store/memory"

	"github.com/google/uuid"
)

// fakeTx satisfies store.Tx; the fake stores ignore it.
type fakeTx struct {
	db         *fakeDB
	committed  bool
	rolledBack bool
}

func (t *fakeTx) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errors.New("fakeTx: not supported")
}

func (t *fakeTx) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errors.New("fakeTx: not supported")
}

func (t *fakeTx) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

func (t *fakeTx) Commit() error {
	t.committed = true
	t.db.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// fakeDB is a hand-written stand-in for the business tables.
type fakeDB struct {
	mu sync.Mutex

	commits int

	employees   map[uuid.UUID]*store.Employee
	timeEntries map[uuid.UUID]*store.TimeEntry
	costCodes   []store.CostCode
	costEntries map[string]store.CostEntry
	customers   map[uuid.UUID]*store.Customer
	invoices    map[uuid.UUID]*store.Invoice
	mappings    []*store.EntityMapping
	reportRuns  map[uuid.UUID]string
	projects    map[uuid.UUID]string

	customerSeq int
	invoiceSeq  int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		employees:   map[uuid.UUID]*store.Employee{},
		timeEntries: map[uuid.UUID]*store.TimeEntry{},
		costEntries: map[string]store.CostEntry{},
		customers:   map[uuid.UUID]*store.Customer{},
		invoices:    map[uuid.UUID]*store.Invoice{},
		reportRuns:  map[uuid.UUID]string{},
		projects:    map[uuid.UUID]string{},
	}
}

func (f *fakeDB) BeginTx(context.Context) (store.Tx, error) {
	return &fakeTx{db: f}, nil
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, store.ErrNotFound)
}

// LaborStore

func (f *fakeDB) GetTimeEntry(_ context.Context, id uuid.UUID) (*store.TimeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.timeEntries[id]
	if !ok {
		return nil, notFound("time entry")
	}
	cp := *e
	return &cp, nil
}

func (f *fakeDB) GetEmployee(_ context.Context, id uuid.UUID) (*store.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.employees[id]
	if !ok {
		return nil, notFound("employee")
	}
	return e, nil
}

func (f *fakeDB) FindCostCodeByName(_ context.Context, name string) (*store.CostCode, error) {
	for _, cc := range f.costCodes {
		if strings.EqualFold(cc.Name, name) {
			cc := cc
			return &cc, nil
		}
	}
	return nil, notFound("cost code")
}

func (f *fakeDB) CostEntryExists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.costEntries[key]
	return ok, nil
}

func (f *fakeDB) InsertCostEntry(_ context.Context, e *store.CostEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.costEntries[e.IdempotencyKey]; ok {
		return false, nil
	}
	f.costEntries[e.IdempotencyKey] = *e
	return true, nil
}

// TimeclockStore

func (f *fakeDB) GetEmployeeByTimeclockUser(_ context.Context, _ store.DBTransaction, userID string) (*store.Employee, error) {
	for _, e := range f.employees {
		if e.TimeclockUserID != nil && *e.TimeclockUserID == userID {
			return e, nil
		}
	}
	return nil, notFound("employee")
}

func (f *fakeDB) OpenTimeEntry(_ context.Context, _ store.DBTransaction, e *store.TimeEntry) (bool, error) {
	for _, existing := range f.timeEntries {
		if existing.ExternalRef != nil && e.ExternalRef != nil && *existing.ExternalRef == *e.ExternalRef {
			return false, nil
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Status = store.TimeEntryOpen
	cp := *e
	f.timeEntries[e.ID] = &cp
	return true, nil
}

func (f *fakeDB) FindOpenTimeEntry(_ context.Context, _ store.DBTransaction, employeeID uuid.UUID) (*store.TimeEntry, error) {
	for _, e := range f.timeEntries {
		if e.EmployeeID == employeeID && e.Status == store.TimeEntryOpen {
			cp := *e
			return &cp, nil
		}
	}
	return nil, notFound("open time entry")
}

func (f *fakeDB) CloseTimeEntry(_ context.Context, _ store.DBTransaction, id uuid.UUID, clockOut time.Time, breakMinutes int) error {
	e, ok := f.timeEntries[id]
	if !ok || e.Status != store.TimeEntryOpen {
		return notFound("time entry")
	}
	e.ClockOut = &clockOut
	e.BreakMinutes = breakMinutes
	e.Status = store.TimeEntryCompleted
	return nil
}

// EntityMapStore

func (f *fakeDB) FindMappingByRemote(_ context.Context, _ store.DBTransaction, entityType, remoteID string) (*store.EntityMapping, error) {
	for _, m := range f.mappings {
		if m.EntityType == entityType && m.RemoteID == remoteID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, store.ErrMappingNotFound
}

func (f *fakeDB) FindMappingByLocal(_ context.Context, _ store.DBTransaction, entityType string, localID uuid.UUID) (*store.EntityMapping, error) {
	for _, m := range f.mappings {
		if m.EntityType == entityType && m.LocalID == localID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, store.ErrMappingNotFound
}

func (f *fakeDB) SaveMapping(_ context.Context, _ store.DBTransaction, m *store.EntityMapping) error {
	for _, existing := range f.mappings {
		if existing.EntityType == m.EntityType && existing.LocalID == m.LocalID {
			existing.RemoteID = m.RemoteID
			existing.RemoteSyncToken = m.RemoteSyncToken
			existing.LastSyncedAt = m.LastSyncedAt
			return nil
		}
	}
	cp := *m
	f.mappings = append(f.mappings, &cp)
	return nil
}

// CustomerStore

func (f *fakeDB) GetCustomer(_ context.Context, _ store.DBTransaction, id uuid.UUID) (*store.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, notFound("customer")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeDB) CreateCustomer(_ context.Context, _ store.DBTransaction, c *store.Customer) error {
	f.customerSeq++
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CustomerNumber = fmt.Sprintf("C-%05d", f.customerSeq)
	cp := *c
	f.customers[c.ID] = &cp
	return nil
}

func (f *fakeDB) UpdateCustomer(_ context.Context, _ store.DBTransaction, c *store.Customer) error {
	if _, ok := f.customers[c.ID]; !ok {
		return notFound("customer")
	}
	cp := *c
	f.customers[c.ID] = &cp
	return nil
}

func (f *fakeDB) DeactivateCustomer(_ context.Context, _ store.DBTransaction, id uuid.UUID) error {
	c, ok := f.customers[id]
	if !ok {
		return notFound("customer")
	}
	c.Active = false
	return nil
}

// InvoiceStore

func (f *fakeDB) GetInvoice(_ context.Context, _ store.DBTransaction, id uuid.UUID) (*store.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return nil, notFound("invoice")
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeDB) CreateInvoice(_ context.Context, _ store.DBTransaction, inv *store.Invoice) error {
	f.invoiceSeq++
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.InvoiceNumber = fmt.Sprintf("INV-%05d", f.invoiceSeq)
	cp := *inv
	f.invoices[inv.ID] = &cp
	return nil
}

func (f *fakeDB) UpdateInvoice(_ context.Context, _ store.DBTransaction, inv *store.Invoice) error {
	if _, ok := f.invoices[inv.ID]; !ok {
		return notFound("invoice")
	}
	cp := *inv
	f.invoices[inv.ID] = &cp
	return nil
}

func (f *fakeDB) VoidInvoice(_ context.Context, _ store.DBTransaction, id uuid.UUID) error {
	inv, ok := f.invoices[id]
	if !ok {
		return notFound("invoice")
	}
	inv.Status = store.InvoiceStatusVoid
	inv.Balance = 0
	return nil
}

// IntegrationStore

func (f *fakeDB) UpdateReportRun(_ context.Context, id uuid.UUID, status string, _ *string, _ *time.Time) error {
	if _, ok := f.reportRuns[id]; !ok {
		return notFound("report run")
	}
	f.reportRuns[id] = status
	return nil
}

func (f *fakeDB) UpdateProjectStatus(_ context.Context, id uuid.UUID, status string) error {
	if _, ok := f.projects[id]; !ok {
		return notFound("project")
	}
	f.projects[id] = status
	return nil
}

// fakeEnqueuer records follow-up jobs.
type fakeEnqueuer struct {
	calls []enqueued
	err   error
}

type enqueued struct {
	jobType string
	payload any
	inTx    bool
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, tx store.DBTransaction, jobType string, payload any, _ ...jobs.Option) (uuid.UUID, error) {
	if e.err != nil {
		return uuid.Nil, e.err
	}
	e.calls = append(e.calls, enqueued{jobType: jobType, payload: payload, inTx: tx != nil})
	return uuid.New(), nil
}

// fakeAccounting serves remote entities from maps and records writes.
type fakeAccounting struct {
	customers map[string]*accounting.Customer
	invoices  map[string]*accounting.Invoice

	created    []string
	updated    []string
	requestIDs []string
	nextID     int
	err        error
}

func newFakeAccounting() *fakeAccounting {
	return &fakeAccounting{
		customers: map[string]*accounting.Customer{},
		invoices:  map[string]*accounting.Invoice{},
		nextID:    100,
	}
}

func (a *fakeAccounting) GetCustomer(_ context.Context, id string) (*accounting.Customer, error) {
	if a.err != nil {
		return nil, a.err
	}
	c, ok := a.customers[id]
	if !ok {
		return nil, accounting.ErrNotFound
	}
	return c, nil
}

func (a *fakeAccounting) GetInvoice(_ context.Context, id string) (*accounting.Invoice, error) {
	if a.err != nil {
		return nil, a.err
	}
	inv, ok := a.invoices[id]
	if !ok {
		return nil, accounting.ErrNotFound
	}
	return inv, nil
}

func (a *fakeAccounting) CreateCustomer(_ context.Context, requestID string, c *accounting.Customer) (*accounting.Customer, error) {
	a.nextID++
	a.requestIDs = append(a.requestIDs, requestID)
	out := *c
	out.ID = fmt.Sprint(a.nextID)
	out.SyncToken = "0"
	a.created = append(a.created, "customer:"+out.ID)
	return &out, nil
}

func (a *fakeAccounting) UpdateCustomer(_ context.Context, c *accounting.Customer) (*accounting.Customer, error) {
	out := *c
	out.SyncToken = bumpToken(c.SyncToken)
	a.updated = append(a.updated, "customer:"+c.ID)
	return &out, nil
}

func (a *fakeAccounting) CreateInvoice(_ context.Context, requestID string, inv *accounting.Invoice) (*accounting.Invoice, error) {
	a.nextID++
	a.requestIDs = append(a.requestIDs, requestID)
	out := *inv
	out.ID = fmt.Sprint(a.nextID)
	out.SyncToken = "0"
	a.created = append(a.created, "invoice:"+out.ID)
	return &out, nil
}

func (a *fakeAccounting) UpdateInvoice(_ context.Context, inv *accounting.Invoice) (*accounting.Invoice, error) {
	out := *inv
	out.SyncToken = bumpToken(inv.SyncToken)
	a.updated = append(a.updated, "invoice:"+inv.ID)
	return &out, nil
}

func bumpToken(tok string) string {
	var n int
	fmt.Sscan(tok, &n)
	return fmt.Sprint(n + 1)
}

type harness struct {
	db       *fakeDB
	events   *memory.Store
	enqueuer *fakeEnqueuer
	remote   *fakeAccounting
	h        *Handlers
}

func newHarness(labor LaborConfig) *harness {
	db := newFakeDB()
	events := memory.New()
	enq := &fakeEnqueuer{}
	remote := newFakeAccounting()

	h := New(Deps{
		Tx:           db,
		Events:       events,
		Labor:        db,
		Timeclock:    db,
		EntityMap:    db,
		Customers:    db,
		Invoices:     db,
		Integrations: db,
		Enqueuer:     enq,
		Accounting:   remote,
		Logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}, labor)

	return &harness{db: db, events: events, enqueuer: enq, remote: remote, h: h}
}

func (hs *harness) event(source, key, payload string) *store.WebhookEvent {
	ev := &store.WebhookEvent{
		Source:         source,
		Payload:        []byte(payload),
		IdempotencyKey: key,
	}
	if err := hs.events.CreateEvent(context.Background(), ev); err != nil {
		panic(err)
	}
	return ev
}

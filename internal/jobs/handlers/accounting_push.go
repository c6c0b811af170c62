package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldops/internal/accounting"
	"fieldops/internal/jobs"
	"fieldops/internal/store"

	"github.com/google/uuid"
)

// pushRequestID is stable per local record so a create replayed after a crash
// is deduplicated by the accounting system.
func pushRequestID(entityType string, localID uuid.UUID) string {
	return fmt.Sprintf("fieldops-%s-%s", entityType, localID)
}

// PushToAccounting creates or updates the remote copy of a local record and
// records the mapping.
func (h *Handlers) PushToAccounting(ctx context.Context, p jobs.AccountingPushPayload) error {
	if p.LocalID == uuid.Nil {
		return errors.New("accounting push: local_id is required")
	}

	switch p.EntityType {
	case store.EntityCustomer:
		return h.pushCustomer(ctx, p.LocalID)
	case store.EntityInvoice:
		return h.pushInvoice(ctx, p.LocalID)
	default:
		return fmt.Errorf("accounting push: unsupported entity type %q", p.EntityType)
	}
}

func (h *Handlers) existingMapping(ctx context.Context, entityType string, localID uuid.UUID) (*store.EntityMapping, error) {
	m, err := h.EntityMap.FindMappingByLocal(ctx, nil, entityType, localID)
	if errors.Is(err, store.ErrMappingNotFound) {
		return nil, nil
	}
	return m, err
}

func (h *Handlers) pushCustomer(ctx context.Context, localID uuid.UUID) error {
	local, err := h.Customers.GetCustomer(ctx, nil, localID)
	if err != nil {
		return err
	}

	m, err := h.existingMapping(ctx, store.EntityCustomer, localID)
	if err != nil {
		return err
	}

	active := local.Active
	payload := &accounting.Customer{
		DisplayName: local.DisplayName,
		Active:      &active,
	}
	if local.Email != nil {
		payload.PrimaryEmailAddr = &accounting.EmailAddress{Address: *local.Email}
	}
	if local.Phone != nil {
		payload.PrimaryPhone = &accounting.PhoneNumber{FreeFormNumber: *local.Phone}
	}

	var remote *accounting.Customer
	if m == nil {
		remote, err = h.Accounting.CreateCustomer(ctx, pushRequestID(store.EntityCustomer, localID), payload)
	} else {
		payload.ID = m.RemoteID
		payload.SyncToken = m.RemoteSyncToken
		remote, err = h.Accounting.UpdateCustomer(ctx, payload)
	}
	if err != nil {
		return err
	}

	return h.EntityMap.SaveMapping(ctx, nil, &store.EntityMapping{
		EntityType:      store.EntityCustomer,
		LocalTable:      "customers",
		LocalID:         localID,
		RemoteID:        remote.ID,
		RemoteSyncToken: remote.SyncToken,
		LastSyncedAt:    h.now(),
	})
}

func (h *Handlers) pushInvoice(ctx context.Context, localID uuid.UUID) error {
	local, err := h.Invoices.GetInvoice(ctx, nil, localID)
	if err != nil {
		return err
	}

	customer, err := h.EntityMap.FindMappingByLocal(ctx, nil, store.EntityCustomer, local.CustomerID)
	if err != nil {
		return fmt.Errorf("accounting push: customer %s not synced: %w", local.CustomerID, err)
	}

	m, err := h.existingMapping(ctx, store.EntityInvoice, localID)
	if err != nil {
		return err
	}

	payload := &accounting.Invoice{
		DocNumber:   local.InvoiceNumber,
		CustomerRef: &accounting.Ref{Value: customer.RemoteID},
		TotalAmt:    local.TotalAmount,
	}
	if local.DueDate != nil {
		payload.DueDate = local.DueDate.Format(time.DateOnly)
	}

	var remote *accounting.Invoice
	if m == nil {
		remote, err = h.Accounting.CreateInvoice(ctx, pushRequestID(store.EntityInvoice, localID), payload)
	} else {
		payload.ID = m.RemoteID
		payload.SyncToken = m.RemoteSyncToken
		remote, err = h.Accounting.UpdateInvoice(ctx, payload)
	}
	if err != nil {
		return err
	}

	return h.EntityMap.SaveMapping(ctx, nil, &store.EntityMapping{
		EntityType:      store.EntityInvoice,
		LocalTable:      "invoices",
		LocalID:         localID,
		RemoteID:        remote.ID,
		RemoteSyncToken: remote.SyncToken,
		LastSyncedAt:    h.now(),
	})
}

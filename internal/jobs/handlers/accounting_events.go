package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldops/internal/accounting"
	"fieldops/internal/jobs"
	"fieldops/internal/store"

	"github.com/google/uuid"
)

// Remote entity names and operations found in change notifications.
const (
	remoteCustomer = "Customer"
	remoteInvoice  = "Invoice"

	opDelete = "Delete"
	opVoid   = "Void"
)

type changeNotification struct {
	EventNotifications []struct {
		RealmID         string `json:"realmId"`
		DataChangeEvent struct {
			Entities []changedEntity `json:"entities"`
		} `json:"dataChangeEvent"`
	} `json:"eventNotifications"`
}

type changedEntity struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	Operation string `json:"operation"`
}

// ProcessAccountingEvent pulls every changed customer and invoice named in a
// change notification into the local tables.
func (h *Handlers) ProcessAccountingEvent(ctx context.Context, p jobs.WebhookEventPayload) error {
	return h.processEvent(ctx, p.WebhookEventID, h.applyAccountingEvent)
}

func (h *Handlers) applyAccountingEvent(ctx context.Context, ev *store.WebhookEvent) error {
	var n changeNotification
	if err := json.Unmarshal(ev.Payload, &n); err != nil {
		return fmt.Errorf("decode change notification: %w", err)
	}

	for _, notification := range n.EventNotifications {
		for _, entity := range notification.DataChangeEvent.Entities {
			if err := h.applyChangedEntity(ctx, entity); err != nil {
				return fmt.Errorf("%s %s %s: %w", entity.Operation, entity.Name, entity.ID, err)
			}
		}
	}
	return nil
}

func (h *Handlers) applyChangedEntity(ctx context.Context, e changedEntity) error {
	switch e.Name {
	case remoteCustomer:
		if e.Operation == opDelete {
			return h.deleteMapped(ctx, store.EntityCustomer, e.ID, h.Customers.DeactivateCustomer)
		}
		return h.pullCustomer(ctx, e.ID)
	case remoteInvoice:
		if e.Operation == opDelete || e.Operation == opVoid {
			return h.deleteMapped(ctx, store.EntityInvoice, e.ID, h.Invoices.VoidInvoice)
		}
		return h.pullInvoice(ctx, e.ID)
	default:
		h.Logger.Debug("skipping unsupported accounting entity", "name", e.Name, "id", e.ID)
		return nil
	}
}

func (h *Handlers) deleteMapped(ctx context.Context, entityType, remoteID string, apply func(context.Context, store.DBTransaction, uuid.UUID) error) error {
	return h.withTx(ctx, func(tx store.Tx) error {
		m, err := h.EntityMap.FindMappingByRemote(ctx, tx, entityType, remoteID)
		if errors.Is(err, store.ErrMappingNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return apply(ctx, tx, m.LocalID)
	})
}

// pullCustomer upserts the local customer for a remote id. The mapping row is
// locked for the duration so concurrent pulls of the same entity serialize.
func (h *Handlers) pullCustomer(ctx context.Context, remoteID string) error {
	remote, err := h.Accounting.GetCustomer(ctx, remoteID)
	if err != nil {
		return err
	}

	return h.withTx(ctx, func(tx store.Tx) error {
		m, err := h.EntityMap.FindMappingByRemote(ctx, tx, store.EntityCustomer, remoteID)
		switch {
		case errors.Is(err, store.ErrMappingNotFound):
			local := &store.Customer{Active: true}
			applyRemoteCustomer(local, remote)
			if err := h.Customers.CreateCustomer(ctx, tx, local); err != nil {
				return err
			}
			m = &store.EntityMapping{
				EntityType: store.EntityCustomer,
				LocalTable: "customers",
				LocalID:    local.ID,
				RemoteID:   remoteID,
			}
		case err != nil:
			return err
		default:
			local, err := h.Customers.GetCustomer(ctx, tx, m.LocalID)
			if err != nil {
				return err
			}
			applyRemoteCustomer(local, remote)
			if err := h.Customers.UpdateCustomer(ctx, tx, local); err != nil {
				return err
			}
		}

		m.RemoteSyncToken = remote.SyncToken
		m.LastSyncedAt = h.now()
		return h.EntityMap.SaveMapping(ctx, tx, m)
	})
}

func applyRemoteCustomer(local *store.Customer, remote *accounting.Customer) {
	if remote.DisplayName != "" {
		local.DisplayName = remote.DisplayName
	}
	if remote.PrimaryEmailAddr != nil && remote.PrimaryEmailAddr.Address != "" {
		email := remote.PrimaryEmailAddr.Address
		local.Email = &email
	}
	if remote.PrimaryPhone != nil && remote.PrimaryPhone.FreeFormNumber != "" {
		phone := remote.PrimaryPhone.FreeFormNumber
		local.Phone = &phone
	}
	if remote.Active != nil {
		local.Active = *remote.Active
	}
}

func (h *Handlers) pullInvoice(ctx context.Context, remoteID string) error {
	remote, err := h.Accounting.GetInvoice(ctx, remoteID)
	if err != nil {
		return err
	}
	if remote.CustomerRef == nil || remote.CustomerRef.Value == "" {
		return errors.New("invoice has no customer reference")
	}

	// The invoice's customer must exist locally first.
	if _, err := h.EntityMap.FindMappingByRemote(ctx, nil, store.EntityCustomer, remote.CustomerRef.Value); err != nil {
		if !errors.Is(err, store.ErrMappingNotFound) {
			return err
		}
		if err := h.pullCustomer(ctx, remote.CustomerRef.Value); err != nil {
			return fmt.Errorf("pull customer %s: %w", remote.CustomerRef.Value, err)
		}
	}

	return h.withTx(ctx, func(tx store.Tx) error {
		cm, err := h.EntityMap.FindMappingByRemote(ctx, tx, store.EntityCustomer, remote.CustomerRef.Value)
		if err != nil {
			return err
		}

		m, err := h.EntityMap.FindMappingByRemote(ctx, tx, store.EntityInvoice, remoteID)
		switch {
		case errors.Is(err, store.ErrMappingNotFound):
			local := &store.Invoice{}
			if err := applyRemoteInvoice(local, remote, cm); err != nil {
				return err
			}
			if err := h.Invoices.CreateInvoice(ctx, tx, local); err != nil {
				return err
			}
			m = &store.EntityMapping{
				EntityType: store.EntityInvoice,
				LocalTable: "invoices",
				LocalID:    local.ID,
				RemoteID:   remoteID,
			}
		case err != nil:
			return err
		default:
			local, err := h.Invoices.GetInvoice(ctx, tx, m.LocalID)
			if err != nil {
				return err
			}
			if err := applyRemoteInvoice(local, remote, cm); err != nil {
				return err
			}
			if err := h.Invoices.UpdateInvoice(ctx, tx, local); err != nil {
				return err
			}
		}

		m.RemoteSyncToken = remote.SyncToken
		m.LastSyncedAt = h.now()
		return h.EntityMap.SaveMapping(ctx, tx, m)
	})
}

func applyRemoteInvoice(local *store.Invoice, remote *accounting.Invoice, customer *store.EntityMapping) error {
	local.CustomerID = customer.LocalID
	local.TotalAmount = remote.TotalAmt
	local.Balance = remote.Balance

	if remote.DueDate != "" {
		due, err := time.Parse(time.DateOnly, remote.DueDate)
		if err != nil {
			return fmt.Errorf("invalid due date %q: %w", remote.DueDate, err)
		}
		local.DueDate = &due
	}

	switch {
	case local.Status == store.InvoiceStatusVoid:
	case remote.TotalAmt > 0 && remote.Balance == 0:
		local.Status = store.InvoiceStatusPaid
	default:
		local.Status = store.InvoiceStatusOpen
	}
	return nil
}

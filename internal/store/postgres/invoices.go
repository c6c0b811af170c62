package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"fieldops/internal/store"

	"github.com/google/uuid"
)

func (s *Store) GetInvoice(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Invoice, error) {
	var (
		inv store.Invoice
		due sql.NullTime
	)
	err := s.getExecutor(tx).QueryRowContext(ctx, `
		SELECT id, invoice_number, customer_id, total_amount, balance, due_date, status, updated_at
		FROM invoices WHERE id = $1
	`, id).Scan(&inv.ID, &inv.InvoiceNumber, &inv.CustomerID, &inv.TotalAmount, &inv.Balance, &due, &inv.Status, &inv.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("invoice %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get invoice %s: %w", id, err)
	}
	if due.Valid {
		inv.DueDate = &due.Time
	}
	return &inv, nil
}

// CreateInvoice allocates the next INV-xxxxx number from the database sequence.
func (s *Store) CreateInvoice(ctx context.Context, tx store.DBTransaction, inv *store.Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.Status == "" {
		inv.Status = store.InvoiceStatusOpen
	}

	err := s.getExecutor(tx).QueryRowContext(ctx, `
		INSERT INTO invoices (id, invoice_number, customer_id, total_amount, balance, due_date, status, updated_at)
		VALUES ($1, 'INV-' || lpad(nextval('invoice_number_seq')::text, 5, '0'), $2, $3, $4, $5, $6, NOW())
		RETURNING invoice_number, updated_at
	`, inv.ID, inv.CustomerID, inv.TotalAmount, inv.Balance, nullTime(inv.DueDate), inv.Status).
		Scan(&inv.InvoiceNumber, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

func (s *Store) UpdateInvoice(ctx context.Context, tx store.DBTransaction, inv *store.Invoice) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE invoices
		SET customer_id = $2, total_amount = $3, balance = $4, due_date = $5, status = $6, updated_at = NOW()
		WHERE id = $1
	`, inv.ID, inv.CustomerID, inv.TotalAmount, inv.Balance, nullTime(inv.DueDate), inv.Status)
	if err != nil {
		return fmt.Errorf("update invoice %s: %w", inv.ID, err)
	}
	return expectOneRow(res, store.ErrNotFound)
}

func (s *Store) VoidInvoice(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE invoices SET status = 'VOID', balance = 0, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("void invoice %s: %w", id, err)
	}
	return expectOneRow(res, store.ErrNotFound)
}

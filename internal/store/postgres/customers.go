package postgres

import (
	"context"
	"fmt"

	"fieldops/internal/store"

	"github.com/google/uuid"
)

func (s *Store) GetCustomer(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Customer, error) {
	var c store.Customer
	err := s.getExecutor(tx).QueryRowContext(ctx, `
		SELECT id, customer_number, display_name, email, phone, active, updated_at
		FROM customers WHERE id = $1
	`, id).Scan(&c.ID, &c.CustomerNumber, &c.DisplayName, &c.Email, &c.Phone, &c.Active, &c.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get customer %s: %w", id, err)
	}
	return &c, nil
}

// CreateCustomer allocates the next C-xxxxx number from the database sequence.
func (s *Store) CreateCustomer(ctx context.Context, tx store.DBTransaction, c *store.Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	err := s.getExecutor(tx).QueryRowContext(ctx, `
		INSERT INTO customers (id, customer_number, display_name, email, phone, active, updated_at)
		VALUES ($1, 'C-' || lpad(nextval('customer_number_seq')::text, 5, '0'), $2, $3, $4, $5, NOW())
		RETURNING customer_number, updated_at
	`, c.ID, c.DisplayName, c.Email, c.Phone, c.Active).Scan(&c.CustomerNumber, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	return nil
}

func (s *Store) UpdateCustomer(ctx context.Context, tx store.DBTransaction, c *store.Customer) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE customers
		SET display_name = $2, email = $3, phone = $4, active = $5, updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.DisplayName, c.Email, c.Phone, c.Active)
	if err != nil {
		return fmt.Errorf("update customer %s: %w", c.ID, err)
	}
	return expectOneRow(res, store.ErrNotFound)
}

func (s *Store) DeactivateCustomer(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE customers SET active = FALSE, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate customer %s: %w", id, err)
	}
	return expectOneRow(res, store.ErrNotFound)
}

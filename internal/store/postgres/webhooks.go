package postgres

import (
	"context"
	"fmt"
	"time"

	"fieldops/internal/store"

	"github.com/google/uuid"
)

const eventColumns = `id, source, event_type, payload, status, idempotency_key, processed_at, error_message, created_at`

func scanEvent(row rowScanner) (*store.WebhookEvent, error) {
	var (
		ev      store.WebhookEvent
		payload []byte
	)
	err := row.Scan(
		&ev.ID, &ev.Source, &ev.EventType, &payload, &ev.Status,
		&ev.IdempotencyKey, &ev.ProcessedAt, &ev.ErrorMessage, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Payload = payload
	return &ev, nil
}

// CreateEvent persists an inbound webhook. A concurrent delivery of the same
// key surfaces as ErrDuplicateEvent.
func (s *Store) CreateEvent(ctx context.Context, event *store.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = store.WebhookEventPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO webhook_events (id, source, event_type, payload, status, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.Source, event.EventType, []byte(event.Payload),
		event.Status, event.IdempotencyKey, event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to create webhook event: %w", err)
	}
	return nil
}

// GetEventByKey looks an event up by its idempotency key.
func (s *Store) GetEventByKey(ctx context.Context, key string) (*store.WebhookEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE idempotency_key = $1`, key)
	ev, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrEventNotFound
		}
		return nil, fmt.Errorf("get webhook event by key: %w", err)
	}
	return ev, nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*store.WebhookEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrEventNotFound
		}
		return nil, fmt.Errorf("get webhook event %s: %w", id, err)
	}
	return ev, nil
}

func (s *Store) MarkEventProcessing(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = 'PROCESSING', error_message = NULL WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark event %s processing: %w", id, err)
	}
	return expectOneRow(res, store.ErrEventNotFound)
}

func (s *Store) MarkEventProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = 'PROCESSED', processed_at = NOW(), error_message = NULL WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark event %s processed: %w", id, err)
	}
	return expectOneRow(res, store.ErrEventNotFound)
}

func (s *Store) MarkEventFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = 'FAILED', error_message = $2 WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark event %s failed: %w", id, err)
	}
	return expectOneRow(res, store.ErrEventNotFound)
}

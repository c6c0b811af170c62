package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fieldops/internal/store"

	"github.com/google/uuid"
)

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// UpdateReportRun records the outcome announced by the report service.
// A nil downloadURL or completedAt leaves the stored value untouched.
func (s *Store) UpdateReportRun(ctx context.Context, id uuid.UUID, status string, downloadURL *string, completedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE report_runs
		SET status = $2,
		    download_url = COALESCE($3, download_url),
		    completed_at = COALESCE($4, completed_at)
		WHERE id = $1
	`, id, status, downloadURL, nullTime(completedAt))
	if err != nil {
		return fmt.Errorf("update report run %s: %w", id, err)
	}
	if err := expectOneRow(res, store.ErrNotFound); err != nil {
		return fmt.Errorf("report run %s: %w", id, err)
	}
	return nil
}

func (s *Store) UpdateProjectStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET external_status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update project %s: %w", id, err)
	}
	if err := expectOneRow(res, store.ErrNotFound); err != nil {
		return fmt.Errorf("project %s: %w", id, err)
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"fieldops/internal/store"

	"github.com/google/uuid"
)

const timeEntryColumns = `id, employee_id, project_id, clock_in, clock_out, break_minutes, status, external_ref`

func scanTimeEntry(row rowScanner) (*store.TimeEntry, error) {
	var (
		e         store.TimeEntry
		projectID uuid.NullUUID
	)
	err := row.Scan(&e.ID, &e.EmployeeID, &projectID, &e.ClockIn, &e.ClockOut, &e.BreakMinutes, &e.Status, &e.ExternalRef)
	if err != nil {
		return nil, err
	}
	if projectID.Valid {
		e.ProjectID = &projectID.UUID
	}
	return &e, nil
}

const employeeColumns = `id, display_name, timeclock_user_id, hourly_rate`

func scanEmployee(row rowScanner) (*store.Employee, error) {
	var (
		emp  store.Employee
		rate sql.NullFloat64
	)
	if err := row.Scan(&emp.ID, &emp.DisplayName, &emp.TimeclockUserID, &rate); err != nil {
		return nil, err
	}
	if rate.Valid {
		emp.HourlyRate = &rate.Float64
	}
	return &emp, nil
}

func (s *Store) GetTimeEntry(ctx context.Context, id uuid.UUID) (*store.TimeEntry, error) {
	e, err := scanTimeEntry(s.db.QueryRowContext(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("time entry %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get time entry %s: %w", id, err)
	}
	return e, nil
}

func (s *Store) GetEmployee(ctx context.Context, id uuid.UUID) (*store.Employee, error) {
	emp, err := scanEmployee(s.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("employee %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get employee %s: %w", id, err)
	}
	return emp, nil
}

// FindCostCodeByName matches case-insensitively.
func (s *Store) FindCostCodeByName(ctx context.Context, name string) (*store.CostCode, error) {
	var cc store.CostCode
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name FROM cost_codes WHERE lower(name) = lower($1) ORDER BY code LIMIT 1
	`, name).Scan(&cc.ID, &cc.Code, &cc.Name)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("cost code %q: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("find cost code %q: %w", name, err)
	}
	return &cc, nil
}

func (s *Store) CostEntryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM job_cost_entries WHERE idempotency_key = $1)
	`, idempotencyKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check cost entry %s: %w", idempotencyKey, err)
	}
	return exists, nil
}

// InsertCostEntry relies on the unique idempotency key; a conflicting insert
// is a no-op and reports false.
func (s *Store) InsertCostEntry(ctx context.Context, entry *store.CostEntry) (bool, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	var projectID uuid.NullUUID
	if entry.ProjectID != nil {
		projectID = uuid.NullUUID{UUID: *entry.ProjectID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_cost_entries
			(id, project_id, cost_code_id, source_type, source_id, idempotency_key,
			 quantity, unit_cost, amount, entry_date, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
	`,
		entry.ID, projectID, entry.CostCodeID, entry.SourceType, entry.SourceID, entry.IdempotencyKey,
		entry.Quantity, entry.UnitCost, entry.Amount, entry.EntryDate, entry.Description,
	)
	if err != nil {
		return false, fmt.Errorf("insert cost entry %s: %w", entry.IdempotencyKey, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

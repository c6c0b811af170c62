package postgres

import (
	"context"
	"fmt"
	"time"

	"fieldops/internal/store"

	"github.com/google/uuid"
)

func (s *Store) GetEmployeeByTimeclockUser(ctx context.Context, tx store.DBTransaction, userID string) (*store.Employee, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE timeclock_user_id = $1`, userID)
	emp, err := scanEmployee(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("employee with timeclock user %q: %w", userID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get employee by timeclock user: %w", err)
	}
	return emp, nil
}

// OpenTimeEntry inserts a new OPEN shift. The external_ref is unique, so a
// replayed clock-in reports false instead of opening a second shift.
func (s *Store) OpenTimeEntry(ctx context.Context, tx store.DBTransaction, entry *store.TimeEntry) (bool, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Status = store.TimeEntryOpen

	var projectID uuid.NullUUID
	if entry.ProjectID != nil {
		projectID = uuid.NullUUID{UUID: *entry.ProjectID, Valid: true}
	}

	res, err := s.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO time_entries (id, employee_id, project_id, clock_in, break_minutes, status, external_ref)
		VALUES ($1, $2, $3, $4, $5, 'OPEN', $6)
		ON CONFLICT (external_ref) DO NOTHING
	`, entry.ID, entry.EmployeeID, projectID, entry.ClockIn, entry.BreakMinutes, entry.ExternalRef)
	if err != nil {
		return false, fmt.Errorf("open time entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// FindOpenTimeEntry returns the most recent OPEN shift for an employee, locked
// when tx is a transaction.
func (s *Store) FindOpenTimeEntry(ctx context.Context, tx store.DBTransaction, employeeID uuid.UUID) (*store.TimeEntry, error) {
	query := `SELECT ` + timeEntryColumns + ` FROM time_entries
		WHERE employee_id = $1 AND status = 'OPEN'
		ORDER BY clock_in DESC
		LIMIT 1` + lockClause(tx)

	e, err := scanTimeEntry(s.getExecutor(tx).QueryRowContext(ctx, query, employeeID))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("open time entry for employee %s: %w", employeeID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("find open time entry: %w", err)
	}
	return e, nil
}

func (s *Store) CloseTimeEntry(ctx context.Context, tx store.DBTransaction, id uuid.UUID, clockOut time.Time, breakMinutes int) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE time_entries
		SET clock_out = $2, break_minutes = $3, status = 'COMPLETED'
		WHERE id = $1 AND status = 'OPEN'
	`, id, clockOut, breakMinutes)
	if err != nil {
		return fmt.Errorf("close time entry %s: %w", id, err)
	}
	return expectOneRow(res, store.ErrNotFound)
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"fieldops/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var timeEntryRowColumns = []string{"id", "employee_id", "project_id", "clock_in", "clock_out", "break_minutes", "status", "external_ref"}

func TestGetTimeEntry(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id, emp, project := uuid.New(), uuid.New(), uuid.New()
	in := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	out := in.Add(9 * time.Hour)

	mock.ExpectQuery(`SELECT .* FROM time_entries WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(timeEntryRowColumns).
			AddRow(id.String(), emp.String(), project.String(), in, out, 30, "COMPLETED", nil))

	e, err := s.GetTimeEntry(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTimeEntry failed: %v", err)
	}
	if e.ProjectID == nil || *e.ProjectID != project {
		t.Errorf("got project %v, want %v", e.ProjectID, project)
	}
	if e.ClockOut == nil || !e.ClockOut.Equal(out) {
		t.Errorf("got clock out %v, want %v", e.ClockOut, out)
	}
	if e.BreakMinutes != 30 || e.Status != store.TimeEntryCompleted {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestGetEmployee_NullRate(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM employees WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "timeclock_user_id", "hourly_rate"}).
			AddRow(id.String(), "Dana", nil, nil))

	emp, err := s.GetEmployee(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEmployee failed: %v", err)
	}
	if emp.HourlyRate != nil {
		t.Errorf("expected nil rate, got %v", *emp.HourlyRate)
	}
}

func TestGetEmployee_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT .* FROM employees`).WillReturnError(sql.ErrNoRows)

	_, err := s.GetEmployee(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindCostCodeByName(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT id, code, name FROM cost_codes WHERE lower\(name\) = lower\(\$1\)`).
		WithArgs("Labor").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name"}).AddRow(id.String(), "01-100", "Labor"))

	cc, err := s.FindCostCodeByName(context.Background(), "Labor")
	if err != nil {
		t.Fatalf("FindCostCodeByName failed: %v", err)
	}
	if cc.ID != id {
		t.Errorf("got %v, want %v", cc.ID, id)
	}
}

func TestInsertCostEntry(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"inserted", 1, true},
		{"key already posted", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			defer s.db.Close()

			mock.ExpectExec(`INSERT INTO job_cost_entries .* ON CONFLICT \(idempotency_key\) DO NOTHING`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := s.InsertCostEntry(context.Background(), &store.CostEntry{
				CostCodeID:     uuid.New(),
				SourceType:     "time_entry",
				SourceID:       uuid.New(),
				IdempotencyKey: "time_entry:abc:labor",
				Quantity:       8,
				UnitCost:       40,
				Amount:         320,
				EntryDate:      time.Now(),
			})
			if err != nil {
				t.Fatalf("InsertCostEntry failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCostEntryExists(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM job_cost_entries WHERE idempotency_key = \$1\)`).
		WithArgs("time_entry:abc:labor").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.CostEntryExists(context.Background(), "time_entry:abc:labor")
	if err != nil {
		t.Fatalf("CostEntryExists failed: %v", err)
	}
	if !exists {
		t.Error("expected entry to exist")
	}
}

func TestOpenTimeEntry_ReplayIsNoop(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ref := "timeclock:evt-1"
	mock.ExpectExec(`INSERT INTO time_entries .* ON CONFLICT \(external_ref\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	opened, err := s.OpenTimeEntry(context.Background(), nil, &store.TimeEntry{
		EmployeeID:  uuid.New(),
		ClockIn:     time.Now(),
		ExternalRef: &ref,
	})
	if err != nil {
		t.Fatalf("OpenTimeEntry failed: %v", err)
	}
	if opened {
		t.Error("expected replayed clock-in not to open a shift")
	}
}

func TestCloseTimeEntry(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	out := time.Now()
	mock.ExpectExec(`UPDATE time_entries\s+SET clock_out = \$2, break_minutes = \$3, status = 'COMPLETED'`).
		WithArgs(id, out, 15).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CloseTimeEntry(context.Background(), nil, id, out, 15); err != nil {
		t.Fatalf("CloseTimeEntry failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

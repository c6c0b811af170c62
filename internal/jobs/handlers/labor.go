package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"

	"fieldops/internal/jobs"
	"fieldops/internal/store"

	"github.com/google/uuid"
)

const sourceTimeEntry = "time_entry"

// LaborCostKey is the ledger idempotency key for a time entry.
func LaborCostKey(timeEntryID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:labor", sourceTimeEntry, timeEntryID)
}

// PostLaborCost writes exactly one job-cost row for a completed time entry.
func (h *Handlers) PostLaborCost(ctx context.Context, p jobs.LaborCostPayload) error {
	if p.TimeEntryID == uuid.Nil {
		return errors.New("labor cost: time_entry_id is required")
	}
	key := LaborCostKey(p.TimeEntryID)

	exists, err := h.Labor.CostEntryExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		h.Logger.Debug("labor cost already posted", "idempotency_key", key)
		return nil
	}

	entry, err := h.Labor.GetTimeEntry(ctx, p.TimeEntryID)
	if err != nil {
		return err
	}
	if entry.ClockOut == nil {
		return fmt.Errorf("labor cost: time entry %s has no clock-out", entry.ID)
	}

	hours := entry.ClockOut.Sub(entry.ClockIn).Hours() - float64(entry.BreakMinutes)/60
	if hours <= 0 {
		return fmt.Errorf("labor cost: time entry %s has non-positive duration", entry.ID)
	}

	employee, err := h.Labor.GetEmployee(ctx, entry.EmployeeID)
	if err != nil {
		return err
	}
	rate := h.labor.DefaultHourlyRate
	if employee.HourlyRate != nil && *employee.HourlyRate > 0 {
		rate = *employee.HourlyRate
	}
	if rate <= 0 {
		return fmt.Errorf("labor cost: no hourly rate for employee %s", employee.ID)
	}

	costCodeID, err := h.resolveLaborCostCode(ctx)
	if err != nil {
		return err
	}

	inserted, err := h.Labor.InsertCostEntry(ctx, &store.CostEntry{
		ProjectID:      entry.ProjectID,
		CostCodeID:     costCodeID,
		SourceType:     sourceTimeEntry,
		SourceID:       entry.ID,
		IdempotencyKey: key,
		Quantity:       roundTo(hours, 4),
		UnitCost:       roundTo(rate, 2),
		Amount:         roundTo(hours*rate, 2),
		EntryDate:      entry.ClockIn,
		Description:    fmt.Sprintf("Labor: %s", employee.DisplayName),
	})
	if err != nil {
		return err
	}
	if !inserted {
		h.Logger.Debug("labor cost posted concurrently", "idempotency_key", key)
	}
	return nil
}

func (h *Handlers) resolveLaborCostCode(ctx context.Context) (uuid.UUID, error) {
	if h.labor.DefaultCostCodeID != uuid.Nil {
		return h.labor.DefaultCostCodeID, nil
	}
	cc, err := h.Labor.FindCostCodeByName(ctx, h.labor.CostCodeName)
	if err != nil {
		return uuid.Nil, fmt.Errorf("labor cost: resolve cost code: %w", err)
	}
	return cc.ID, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

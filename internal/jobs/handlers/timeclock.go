package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldops/internal/jobs"
	"fieldops/internal/store"

	"github.com/google/uuid"
)

// Time-clock event types.
const (
	EventClockIn  = "clock_in"
	EventClockOut = "clock_out"
)

type timeclockEvent struct {
	EventType    string     `json:"event_type"`
	UserID       string     `json:"user_id"`
	Timestamp    time.Time  `json:"timestamp"`
	ProjectID    *uuid.UUID `json:"project_id,omitempty"`
	BreakMinutes int        `json:"break_minutes,omitempty"`
}

// ProcessTimeclockEvent turns clock-in/clock-out notifications into time
// entries. Closing a shift enqueues labor cost posting in the same transaction.
func (h *Handlers) ProcessTimeclockEvent(ctx context.Context, p jobs.WebhookEventPayload) error {
	return h.processEvent(ctx, p.WebhookEventID, h.applyTimeclockEvent)
}

func (h *Handlers) applyTimeclockEvent(ctx context.Context, ev *store.WebhookEvent) error {
	var tc timeclockEvent
	if err := json.Unmarshal(ev.Payload, &tc); err != nil {
		return fmt.Errorf("decode timeclock payload: %w", err)
	}
	if tc.EventType == "" {
		tc.EventType = ev.EventType
	}
	if tc.Timestamp.IsZero() {
		tc.Timestamp = ev.CreatedAt
	}

	switch tc.EventType {
	case EventClockIn:
		return h.clockIn(ctx, ev, tc)
	case EventClockOut:
		return h.clockOut(ctx, tc)
	default:
		h.Logger.Info("ignoring timeclock event", "event_type", tc.EventType, "webhook_event_id", ev.ID)
		return nil
	}
}

func (h *Handlers) clockIn(ctx context.Context, ev *store.WebhookEvent, tc timeclockEvent) error {
	if tc.UserID == "" {
		return errors.New("timeclock: user_id is required")
	}

	return h.withTx(ctx, func(tx store.Tx) error {
		emp, err := h.Timeclock.GetEmployeeByTimeclockUser(ctx, tx, tc.UserID)
		if err != nil {
			return err
		}

		ref := ev.IdempotencyKey
		opened, err := h.Timeclock.OpenTimeEntry(ctx, tx, &store.TimeEntry{
			EmployeeID:  emp.ID,
			ProjectID:   tc.ProjectID,
			ClockIn:     tc.Timestamp,
			ExternalRef: &ref,
		})
		if err != nil {
			return err
		}
		if !opened {
			h.Logger.Info("clock-in already recorded", "external_ref", ref)
		}
		return nil
	})
}

func (h *Handlers) clockOut(ctx context.Context, tc timeclockEvent) error {
	if tc.UserID == "" {
		return errors.New("timeclock: user_id is required")
	}

	return h.withTx(ctx, func(tx store.Tx) error {
		emp, err := h.Timeclock.GetEmployeeByTimeclockUser(ctx, tx, tc.UserID)
		if err != nil {
			return err
		}

		entry, err := h.Timeclock.FindOpenTimeEntry(ctx, tx, emp.ID)
		if errors.Is(err, store.ErrNotFound) {
			h.Logger.Warn("clock-out without an open shift", "employee_id", emp.ID)
			return nil
		}
		if err != nil {
			return err
		}
		if !tc.Timestamp.After(entry.ClockIn) {
			return fmt.Errorf("timeclock: clock-out %s is not after clock-in %s", tc.Timestamp, entry.ClockIn)
		}

		if err := h.Timeclock.CloseTimeEntry(ctx, tx, entry.ID, tc.Timestamp, tc.BreakMinutes); err != nil {
			return err
		}

		_, err = h.Enqueuer.Enqueue(ctx, tx, jobs.TypeLaborCostPost, jobs.LaborCostPayload{TimeEntryID: entry.ID})
		return err
	})
}

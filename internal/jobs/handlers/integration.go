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

type reportEvent struct {
	ReportRunID uuid.UUID  `json:"report_run_id"`
	Status      string     `json:"status"`
	DownloadURL *string    `json:"download_url,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type projectEvent struct {
	ProjectID uuid.UUID `json:"project_id"`
	Status    string    `json:"status"`
}

// ProcessIntegrationEvent applies report and project-management notifications.
func (h *Handlers) ProcessIntegrationEvent(ctx context.Context, p jobs.WebhookEventPayload) error {
	return h.processEvent(ctx, p.WebhookEventID, h.applyIntegrationEvent)
}

func (h *Handlers) applyIntegrationEvent(ctx context.Context, ev *store.WebhookEvent) error {
	switch ev.Source {
	case jobs.SourceReports:
		var r reportEvent
		if err := json.Unmarshal(ev.Payload, &r); err != nil {
			return fmt.Errorf("decode report event: %w", err)
		}
		if r.ReportRunID == uuid.Nil || r.Status == "" {
			return errors.New("report event: report_run_id and status are required")
		}
		return h.Integrations.UpdateReportRun(ctx, r.ReportRunID, r.Status, r.DownloadURL, r.CompletedAt)

	case jobs.SourceProjects:
		var p projectEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode project event: %w", err)
		}
		if p.ProjectID == uuid.Nil || p.Status == "" {
			return errors.New("project event: project_id and status are required")
		}
		return h.Integrations.UpdateProjectStatus(ctx, p.ProjectID, p.Status)

	default:
		return fmt.Errorf("integration event: unsupported source %q", ev.Source)
	}
}

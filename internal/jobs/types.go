package jobs

import "github.com/google/uuid"

// Job types.
const (
	TypeLaborCostPost           = "labor_cost.post"
	TypeTimeclockEventProcess   = "timeclock.event.process"
	TypeAccountingEventProcess  = "accounting.event.process"
	TypeAccountingPush          = "accounting.push"
	TypeIntegrationEventProcess = "integration.event.process"
)

// WebhookEventPayload references a persisted webhook event.
type WebhookEventPayload struct {
	WebhookEventID uuid.UUID `json:"webhook_event_id"`
}

// LaborCostPayload identifies the time entry to post.
type LaborCostPayload struct {
	TimeEntryID uuid.UUID `json:"time_entry_id"`
}

// AccountingPushPayload identifies the local record to push.
type AccountingPushPayload struct {
	EntityType string    `json:"entity_type"`
	LocalID    uuid.UUID `json:"local_id"`
}

// Webhook sources. Signed sources have fixed routes; the rest arrive through
// the allow-listed /webhooks/{source}/event route.
const (
	SourceAccounting = "accounting"
	SourceReports    = "reports"
	SourceProjects   = "projects"
)

// JobTypeForSource returns the job that processes events from source.
func JobTypeForSource(source string) string {
	switch source {
	case SourceAccounting:
		return TypeAccountingEventProcess
	case SourceReports, SourceProjects:
		return TypeIntegrationEventProcess
	default:
		return TypeTimeclockEventProcess
	}
}

// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the gateway.
package api

import (
	"encoding/json"
	"time"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Webhook acknowledgement statuses.
const (
	WebhookReceived  = "received"
	WebhookDuplicate = "duplicate"
)

// WebhookAck is returned for every accepted webhook, new or duplicate.
type WebhookAck struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// JobResponse represents a queued job in API responses.
type JobResponse struct {
	ID          string          `json:"id"`
	JobType     string          `json:"job_type"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAfter    time.Time       `json:"run_after"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
	LockedBy    *string         `json:"locked_by,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ListJobsResponse is the response body for GET /admin/jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// RetryJobResponse is the response body after resurrecting a failed job.
type RetryJobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EnqueueEventResponse is the response body after re-enqueueing a webhook event.
type EnqueueEventResponse struct {
	EventID string `json:"event_id"`
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`
}

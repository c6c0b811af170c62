package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"fieldops/internal/jobs"
	"fieldops/internal/store"
	"fieldops/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxListLimit = 500

func toJobResponse(j *store.Job) api.JobResponse {
	return api.JobResponse{
		ID:          j.ID.String(),
		JobType:     j.JobType,
		Status:      string(j.Status),
		Payload:     j.Payload,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		RunAfter:    j.RunAfter,
		LockedAt:    j.LockedAt,
		LockedBy:    j.LockedBy,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
	}
}

func parseStatuses(raw string) ([]store.JobStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []store.JobStatus
	for _, part := range strings.Split(raw, ",") {
		s := store.JobStatus(strings.ToUpper(strings.TrimSpace(part)))
		switch s {
		case store.JobStatusPending, store.JobStatusCompleted, store.JobStatusFailed:
			out = append(out, s)
		default:
			return nil, errors.New("status must be PENDING, COMPLETED or FAILED")
		}
	}
	return out, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// ListJobs handles GET /admin/jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest, api.CodeValidation)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest, api.CodeValidation)
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest, api.CodeValidation)
		return
	}

	list, err := h.jobs.ListJobs(r.Context(), store.JobFilter{
		Statuses: statuses,
		JobType:  r.URL.Query().Get("type"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.log(r.Context()).Error("failed to list jobs", "error", err)
		h.httpError(w, "Failed to list jobs", http.StatusInternalServerError, api.CodeInternal)
		return
	}

	resp := api.ListJobsResponse{Jobs: make([]api.JobResponse, 0, len(list))}
	for i := range list {
		resp.Jobs = append(resp.Jobs, toJobResponse(&list[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetJob handles GET /admin/jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.httpError(w, "Invalid job ID", http.StatusBadRequest, api.CodeValidation)
		return
	}

	job, err := h.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		h.httpError(w, "Job not found", http.StatusNotFound, api.CodeNotFound)
		return
	}
	if err != nil {
		h.log(r.Context()).Error("failed to load job", "job_id", id, "error", err)
		h.httpError(w, "Failed to load job", http.StatusInternalServerError, api.CodeInternal)
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}

// RetryJob handles POST /admin/jobs/{id}/retry. Only FAILED jobs can be retried.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.httpError(w, "Invalid job ID", http.StatusBadRequest, api.CodeValidation)
		return
	}

	err = h.jobs.Retry(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		h.httpError(w, "Job not found", http.StatusNotFound, api.CodeNotFound)
		return
	case errors.Is(err, store.ErrJobNotFailed):
		h.httpError(w, "Only FAILED jobs can be retried", http.StatusConflict, api.CodeConflict)
		return
	case err != nil:
		h.log(r.Context()).Error("failed to retry job", "job_id", id, "error", err)
		h.httpError(w, "Failed to retry job", http.StatusInternalServerError, api.CodeInternal)
		return
	}

	h.log(r.Context()).Info("job resurrected", "job_id", id)
	h.respondJson(w, http.StatusOK, api.RetryJobResponse{ID: id.String(), Status: string(store.JobStatusPending)})
}

// EnqueueEvent handles POST /admin/webhook-events/{id}/enqueue. It schedules
// a new processing job for a stored event, for example one whose original
// enqueue failed.
func (h *Handlers) EnqueueEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.httpError(w, "Invalid event ID", http.StatusBadRequest, api.CodeValidation)
		return
	}

	ev, err := h.events.GetEvent(r.Context(), id)
	if errors.Is(err, store.ErrEventNotFound) {
		h.httpError(w, "Webhook event not found", http.StatusNotFound, api.CodeNotFound)
		return
	}
	if err != nil {
		h.log(r.Context()).Error("failed to load webhook event", "webhook_event_id", id, "error", err)
		h.httpError(w, "Failed to load webhook event", http.StatusInternalServerError, api.CodeInternal)
		return
	}

	jobType := jobs.JobTypeForSource(ev.Source)
	jobID, err := h.enqueuer.Enqueue(r.Context(), nil, jobType, jobs.WebhookEventPayload{WebhookEventID: ev.ID})
	if err != nil {
		h.log(r.Context()).Error("failed to enqueue webhook job", "webhook_event_id", id, "error", err)
		h.httpError(w, "Failed to enqueue job", http.StatusInternalServerError, api.CodeInternal)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.EnqueueEventResponse{
		EventID: ev.ID.String(),
		JobID:   jobID.String(),
		JobType: jobType,
	})
}

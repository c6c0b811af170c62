package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldops/internal/auth"
	"fieldops/internal/gateway/middleware"
	"fieldops/internal/jobs"
	"fieldops/internal/observability"
	"fieldops/internal/store"
	"fieldops/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Signature headers of the signed sources.
const (
	HeaderAccountingSignature = "Intuit-Signature"
	HeaderReportSignature     = "X-Report-Signature"
	HeaderProjectSignature    = "X-Project-Signature"
)

var errNotObject = errors.New("body must be a JSON object")

// decodeObject parses body as a JSON object, keeping numbers verbatim.
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, errNotObject
	}
	if fields == nil {
		return nil, errNotObject
	}
	return fields, nil
}

// firstID returns the first non-empty string or numeric field among names.
func firstID(fields map[string]any, names ...string) string {
	for _, name := range names {
		switch v := fields[name].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// canonicalJSON serializes fields with sorted keys, no whitespace and no
// HTML escaping.
func canonicalJSON(fields map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}

// ReceiveEvent handles POST /webhooks/{source}/event for allow-listed,
// unauthenticated sources.
func (h *Handlers) ReceiveEvent(w http.ResponseWriter, r *http.Request) {
	source := strings.ToLower(chi.URLParam(r, "source"))
	ctx, span := h.tracer.Start(r.Context(), "webhook.receive",
		trace.WithAttributes(attribute.String("webhook.source", source)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	if !h.allowed[source] {
		h.metrics.WebhookReceived(ctx, source, observability.OutcomeRejected)
		h.httpError(w, fmt.Sprintf("Unknown webhook source %q", source), http.StatusBadRequest, api.CodeValidation)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, middleware.DefaultMaxBodyBytes))
	if err != nil {
		h.metrics.WebhookReceived(ctx, source, observability.OutcomeRejected)
		h.httpError(w, "Cannot read request body", http.StatusBadRequest, api.CodeValidation)
		return
	}

	fields, err := decodeObject(body)
	if err != nil {
		h.metrics.WebhookReceived(ctx, source, observability.OutcomeRejected)
		h.httpError(w, "Request body must be a JSON object", http.StatusBadRequest, api.CodeValidation)
		return
	}

	key := source + ":"
	if id := firstID(fields, "id", "event_id", "eventId"); id != "" {
		key += id
	} else {
		canonical, err := canonicalJSON(fields)
		if err != nil {
			h.httpError(w, "Request body must be a JSON object", http.StatusBadRequest, api.CodeValidation)
			return
		}
		key += "hash:" + auth.HashPayload(canonical)
	}

	ev, duplicate, err := h.accept(ctx, source, key, stringField(fields, "event_type"), body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.httpError(w, "Failed to record event", http.StatusInternalServerError, api.CodeInternal)
		return
	}

	if duplicate {
		h.respondJson(w, http.StatusOK, api.WebhookAck{Status: api.WebhookDuplicate, EventID: ev.ID.String()})
		return
	}
	h.respondJson(w, http.StatusAccepted, api.WebhookAck{Status: api.WebhookReceived, EventID: ev.ID.String()})
}

// Signed returns the handler for a source that signs its payloads with an
// HMAC-SHA256 of the raw body. It must be mounted behind CaptureRawBody.
func (h *Handlers) Signed(source, header string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "webhook.receive",
			trace.WithAttributes(attribute.String("webhook.source", source)),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()
		log := h.log(ctx).With("source", source)

		body, ok := middleware.RawBodyFromContext(ctx)
		if !ok {
			log.Error("raw body not captured; refusing to verify signature")
			h.metrics.WebhookReceived(ctx, source, observability.OutcomeError)
			h.httpError(w, "Internal server error", http.StatusInternalServerError, api.CodeInternal)
			return
		}

		secret := h.secrets[source]
		if secret == "" {
			log.Error("webhook secret not configured")
			h.metrics.WebhookReceived(ctx, source, observability.OutcomeError)
			h.httpError(w, "Internal server error", http.StatusInternalServerError, api.CodeInternal)
			return
		}

		if err := auth.VerifySignature(secret, body, r.Header.Get(header)); err != nil {
			log.Warn("rejected webhook signature", "error", err)
			h.metrics.WebhookReceived(ctx, source, observability.OutcomeRejected)
			h.httpError(w, "Invalid signature", http.StatusUnauthorized, api.CodeInvalidSignature)
			return
		}

		fields, err := decodeObject(body)
		if err != nil {
			h.metrics.WebhookReceived(ctx, source, observability.OutcomeRejected)
			h.httpError(w, "Request body must be a JSON object", http.StatusBadRequest, api.CodeValidation)
			return
		}

		var key string
		switch id := firstID(fields, "event_id"); {
		case id != "":
			key = source + ":" + id
		case source == jobs.SourceReports:
			key = fmt.Sprintf("%s:%d:%s", source, time.Now().UnixMilli(), randomSuffix())
		default:
			key = source + ":hash:" + auth.HashPayload(body)
		}

		ev, duplicate, err := h.accept(ctx, source, key, stringField(fields, "event_type"), body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			h.httpError(w, "Failed to record event", http.StatusInternalServerError, api.CodeInternal)
			return
		}

		status := api.WebhookReceived
		if duplicate {
			status = api.WebhookDuplicate
		}
		h.respondJson(w, http.StatusOK, api.WebhookAck{Status: status, EventID: ev.ID.String()})
	}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// accept persists the event unless its idempotency key is already known and
// enqueues the processing job. A failed enqueue is logged, not returned: the
// event is stored and can be re-enqueued from the admin API.
func (h *Handlers) accept(ctx context.Context, source, key, eventType string, payload []byte) (*store.WebhookEvent, bool, error) {
	log := h.log(ctx).With("source", source, "idempotency_key", key)

	existing, err := h.events.GetEventByKey(ctx, key)
	if err == nil {
		h.metrics.WebhookReceived(ctx, source, observability.OutcomeDuplicate)
		log.Info("duplicate webhook ignored", "webhook_event_id", existing.ID)
		return existing, true, nil
	}
	if !errors.Is(err, store.ErrEventNotFound) {
		h.metrics.WebhookReceived(ctx, source, observability.OutcomeError)
		log.Error("failed to look up webhook event", "error", err)
		return nil, false, err
	}

	ev := &store.WebhookEvent{
		Source:         source,
		EventType:      eventType,
		Payload:        payload,
		Status:         store.WebhookEventPending,
		IdempotencyKey: key,
	}
	if err := h.events.CreateEvent(ctx, ev); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			// Lost a race with a concurrent delivery of the same event.
			existing, lookupErr := h.events.GetEventByKey(ctx, key)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			h.metrics.WebhookReceived(ctx, source, observability.OutcomeDuplicate)
			return existing, true, nil
		}
		h.metrics.WebhookReceived(ctx, source, observability.OutcomeError)
		log.Error("failed to store webhook event", "error", err)
		return nil, false, err
	}

	jobType := jobs.JobTypeForSource(source)
	jobID, err := h.enqueuer.Enqueue(ctx, nil, jobType, jobs.WebhookEventPayload{WebhookEventID: ev.ID})
	if err != nil {
		log.Error("failed to enqueue webhook job; re-enqueue via the admin API",
			"webhook_event_id", ev.ID, "job_type", jobType, "error", err)
	} else {
		log.Info("webhook accepted", "webhook_event_id", ev.ID, "job_id", jobID, "job_type", jobType)
	}

	h.metrics.WebhookReceived(ctx, source, observability.OutcomeAccepted)
	return ev, false, nil
}

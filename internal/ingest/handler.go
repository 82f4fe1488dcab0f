// Package ingest handles HTTP intake of action events and member departures.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "guild-sentinel/internal/errors"
	"guild-sentinel/internal/queue"
	"guild-sentinel/internal/schema"
)

// Handler handles HTTP event ingestion.
type Handler struct {
	validator   *schema.Validator
	queue       *queue.RingBuffer
	departures  DepartureSink
	maxPayload  int
	maxBatch    int
	startTime   time.Time
	eventsTotal uint64
}

// DepartureSink receives member departure notices for kick classification.
type DepartureSink interface {
	OnDeparture(tenantID, userID string)
}

// NewHandler creates a new ingest Handler.
func NewHandler(validator *schema.Validator, q *queue.RingBuffer, departures DepartureSink) *Handler {
	return &Handler{
		validator:  validator,
		queue:      q,
		departures: departures,
		maxPayload: 10 * 1024 * 1024, // 10MB default
		maxBatch:   1000,
		startTime:  time.Now(),
	}
}

// WithMaxPayload sets the maximum payload size.
func (h *Handler) WithMaxPayload(size int) *Handler {
	h.maxPayload = size
	return h
}

// WithMaxBatch sets the maximum batch size.
func (h *Handler) WithMaxBatch(size int) *Handler {
	h.maxBatch = size
	return h
}

// IngestRequest is the request body for event ingestion.
type IngestRequest struct {
	Events []EventInput `json:"events"`
}

// EventInput is the input format for action events.
type EventInput struct {
	EventID    *uuid.UUID `json:"event_id,omitempty"`
	ActorID    string     `json:"actor_id"`
	ActorTag   string     `json:"actor_tag,omitempty"`
	TenantID   string     `json:"tenant_id"`
	Action     string     `json:"action"`
	Timestamp  time.Time  `json:"timestamp"`
	TargetName string     `json:"target_name,omitempty"`
}

// IngestResponse is the response for event ingestion.
type IngestResponse struct {
	Success   bool     `json:"success"`
	Accepted  int      `json:"accepted"`
	Rejected  int      `json:"rejected"`
	Errors    []string `json:"errors,omitempty"`
	RequestID string   `json:"request_id"`
}

// HandleEvents handles POST /v1/events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large", requestID)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}

	var req IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}

	if len(req.Events) == 0 {
		respondError(w, http.StatusBadRequest, "no events provided", requestID)
		return
	}

	if len(req.Events) > h.maxBatch {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("batch size exceeds maximum of %d", h.maxBatch), requestID)
		return
	}

	var accepted, rejected int
	var errors []string

	for i, input := range req.Events {
		event := h.convertInput(input)

		if err := h.validator.Validate(event); err != nil {
			rejected++
			errors = append(errors, fmt.Sprintf("event[%d]: %s", i, err.Error()))
			continue
		}

		if err := h.queue.Push(event); err != nil {
			rejected++
			if err == queue.ErrQueueFull {
				errors = append(errors, fmt.Sprintf("event[%d]: queue full", i))
			} else {
				errors = append(errors, fmt.Sprintf("event[%d]: %s", i, err.Error()))
			}
			continue
		}

		accepted++
		atomic.AddUint64(&h.eventsTotal, 1)
	}

	resp := IngestResponse{
		Success:   rejected == 0,
		Accepted:  accepted,
		Rejected:  rejected,
		RequestID: requestID,
	}
	if len(errors) > 0 {
		resp.Errors = errors
	}

	status := http.StatusOK
	if accepted == 0 && rejected > 0 {
		status = http.StatusBadRequest
	} else if rejected > 0 {
		status = http.StatusMultiStatus // 207 for partial success
	}

	respondJSON(w, status, resp)
}

// convertInput converts an EventInput to a canonical ActionEvent.
func (h *Handler) convertInput(input EventInput) *schema.ActionEvent {
	event := &schema.ActionEvent{
		ActorID:       input.ActorID,
		ActorTag:      input.ActorTag,
		TenantID:      input.TenantID,
		Action:        schema.ActionType(input.Action),
		Timestamp:     input.Timestamp,
		TargetName:    input.TargetName,
		SchemaVersion: schema.SchemaVersionCurrent,
		ReceivedAt:    time.Now().UTC(),
	}

	if input.EventID != nil {
		event.EventID = *input.EventID
	} else {
		event.EventID = uuid.New()
	}

	return event
}

// DepartureInput is the input format for member departure notices.
type DepartureInput struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// HandleDepartures handles POST /v1/departures. Departures are classified
// asynchronously; the response only acknowledges receipt.
func (h *Handler) HandleDepartures(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	var input DepartureInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}
	if input.TenantID == "" || input.UserID == "" {
		respondError(w, http.StatusBadRequest, "tenant_id and user_id are required", requestID)
		return
	}

	h.departures.OnDeparture(input.TenantID, input.UserID)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"request_id": requestID,
	})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	metrics := h.queue.Metrics()

	status := "healthy"
	if metrics.Depth > int(float64(metrics.Capacity)*0.9) {
		status = "degraded"
	}

	resp := map[string]any{
		"status":         status,
		"queue_depth":    metrics.Depth,
		"queue_capacity": metrics.Capacity,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	}

	respondJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /metrics (Prometheus format).
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.queue.Metrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP sentinel_events_total Total number of events ingested\n")
	fmt.Fprintf(w, "# TYPE sentinel_events_total counter\n")
	fmt.Fprintf(w, "sentinel_events_total %d\n\n", atomic.LoadUint64(&h.eventsTotal))

	fmt.Fprintf(w, "# HELP sentinel_queue_pushed_total Total events pushed to queue\n")
	fmt.Fprintf(w, "# TYPE sentinel_queue_pushed_total counter\n")
	fmt.Fprintf(w, "sentinel_queue_pushed_total %d\n\n", metrics.Pushed)

	fmt.Fprintf(w, "# HELP sentinel_queue_popped_total Total events popped from queue\n")
	fmt.Fprintf(w, "# TYPE sentinel_queue_popped_total counter\n")
	fmt.Fprintf(w, "sentinel_queue_popped_total %d\n\n", metrics.Popped)

	fmt.Fprintf(w, "# HELP sentinel_queue_dropped_total Total events dropped due to full queue\n")
	fmt.Fprintf(w, "# TYPE sentinel_queue_dropped_total counter\n")
	fmt.Fprintf(w, "sentinel_queue_dropped_total %d\n\n", metrics.Dropped)

	fmt.Fprintf(w, "# HELP sentinel_queue_depth Current queue depth\n")
	fmt.Fprintf(w, "# TYPE sentinel_queue_depth gauge\n")
	fmt.Fprintf(w, "sentinel_queue_depth %d\n\n", metrics.Depth)

	fmt.Fprintf(w, "# HELP sentinel_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE sentinel_uptime_seconds gauge\n")
	fmt.Fprintf(w, "sentinel_uptime_seconds %d\n", int(time.Since(h.startTime).Seconds()))
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error response. Server-side failures are
// sanitized in production mode so internal detail never reaches callers.
func respondError(w http.ResponseWriter, status int, message string, requestID string) {
	if status >= http.StatusInternalServerError {
		message = apperrors.SanitizeString(message)
	}
	resp := map[string]any{
		"success":    false,
		"error":      message,
		"request_id": requestID,
	}
	respondJSON(w, status, resp)
}

// Package api exposes the event lifecycle over HTTP. It is a thin
// adapter: all business rules live in the service layer and the
// handlers only translate errors into status codes.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"corporate-actions/internal/errors"
	"corporate-actions/internal/logging"
	"corporate-actions/internal/metrics"
	"corporate-actions/internal/models"
	"corporate-actions/internal/service"
	"corporate-actions/internal/store"
)

// actor recorded on changes made through the HTTP adapter.
const apiActor = "api_user"

// Handler holds all HTTP handler dependencies.
type Handler struct {
	service    *service.EventService
	aggregator *metrics.Aggregator
	store      store.EventStore
	logger     zerolog.Logger
	mux        *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(svc *service.EventService, agg *metrics.Aggregator, st store.EventStore, logger zerolog.Logger) http.Handler {
	h := &Handler{
		service:    svc,
		aggregator: agg,
		store:      st,
		logger:     logging.WithComponent(logger, "api"),
		mux:        http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /api/v1/events", h.createEvent)
	h.mux.HandleFunc("GET /api/v1/events", h.listEvents)
	h.mux.HandleFunc("GET /api/v1/events/{id}", h.getEvent)
	h.mux.HandleFunc("POST /api/v1/events/{id}/cancel", h.cancelEvent)
	h.mux.HandleFunc("GET /api/v1/events/{id}/audit", h.getAuditLog)
	h.mux.HandleFunc("GET /api/v1/metrics", h.getMetrics)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return requestMiddleware(h.logger, h.mux)
}

// eventListResponse is the paginated list envelope.
type eventListResponse struct {
	Events   []models.Event `json:"events"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// POST /api/v1/events — create a corporate action event.
func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req service.CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}

	event, err := h.service.Create(r.Context(), req, apiActor)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to create event")
		return
	}

	metrics.EventsCreated.WithLabelValues(string(event.EventType)).Inc()
	writeJSON(w, http.StatusCreated, event)
}

// GET /api/v1/events — list events with optional filters and pagination.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.EventFilter{
		Symbol: q.Get("symbol"),
	}
	if t := q.Get("event_type"); t != "" {
		if !models.ValidEventType(models.EventType(t)) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type %q", t))
			return
		}
		filter.Type = models.EventType(t)
	}
	if s := q.Get("status"); s != "" {
		if !models.ValidEventStatus(models.EventStatus(s)) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", s))
			return
		}
		filter.Status = models.EventStatus(s)
	}

	filter.Offset = intParam(q.Get("skip"), 0)
	filter.Limit = intParam(q.Get("limit"), 50)

	events, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to list events")
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	limit := service.ClampPageSize(filter.Limit)

	writeJSON(w, http.StatusOK, eventListResponse{
		Events:   events,
		Total:    total,
		Page:     filter.Offset/limit + 1,
		PageSize: limit,
	})
}

// GET /api/v1/events/{id} — retrieve a single event.
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}

	event, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// POST /api/v1/events/{id}/cancel — cancel a pending or processing event.
func (h *Handler) cancelEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}

	event, err := h.service.Cancel(r.Context(), id, apiActor)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidTransition) {
			var terr *errors.TransitionError
			if errors.As(err, &terr) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Cannot cancel event with status %s", terr.From))
				return
			}
		}
		h.writeServiceError(w, r, err, "Failed to cancel event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// GET /api/v1/events/{id}/audit — read the event's audit trail.
func (h *Handler) getAuditLog(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.GetAuditLog(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get audit log")
		return
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": id,
		"entries":  entries,
	})
}

// GET /api/v1/metrics — aggregated counts snapshot.
func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.aggregator.Compute(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to calculate metrics")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GET /healthz — verifies the store is reachable.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("Database health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// eventID parses the {id} path value, writing a 400 on failure.
func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "event id must be an integer")
		return 0, false
	}
	return id, true
}

// writeServiceError maps service errors onto HTTP status codes.
// Client errors surface their message; anything else is a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *errors.ValidationError
	switch {
	case errors.Is(err, errors.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "Event not found")
	case errors.Is(err, errors.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "Duplicate idempotency key")
	case errors.As(err, &verr),
		errors.Is(err, errors.ErrInvalidEventType),
		errors.Is(err, errors.ErrInvalidStatus),
		errors.Is(err, errors.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// intParam parses a non-negative integer query parameter.
func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}

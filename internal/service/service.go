// Package service implements the event lifecycle: creation, queries and
// status transitions, each paired with an audit trail entry.
package service

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"corporate-actions/internal/errors"
	"corporate-actions/internal/logging"
	"corporate-actions/internal/models"
	"corporate-actions/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	defaultCurrency = "USD"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,20}$`)

// CreateEventRequest carries the fields of an event creation request.
// Type-specific fields are optional; only the fields relevant to the
// declared event type are used, the rest are ignored even if supplied.
type CreateEventRequest struct {
	EventType      models.EventType `json:"event_type"`
	Symbol         string           `json:"symbol"`
	IdempotencyKey *string          `json:"idempotency_key,omitempty"`

	// Dividend fields
	Amount      json.Number `json:"amount,omitempty"`
	ExDate      models.Date `json:"ex_date,omitempty"`
	RecordDate  models.Date `json:"record_date,omitempty"`
	PaymentDate models.Date `json:"payment_date,omitempty"`
	Currency    string      `json:"currency,omitempty"`

	// Stock split fields
	SplitRatioFrom int         `json:"split_ratio_from,omitempty"`
	SplitRatioTo   int         `json:"split_ratio_to,omitempty"`
	EffectiveDate  models.Date `json:"effective_date,omitempty"`

	// Merger fields
	TargetSymbol  string      `json:"target_symbol,omitempty"`
	ExchangeRatio json.Number `json:"exchange_ratio,omitempty"`
	CashComponent json.Number `json:"cash_component,omitempty"`
}

// EventService holds the business logic for corporate action events.
// It is the only writer path to the event store.
type EventService struct {
	store  store.EventStore
	logger zerolog.Logger
}

// NewEventService creates a new event service.
func NewEventService(st store.EventStore, logger zerolog.Logger) *EventService {
	return &EventService{
		store:  st,
		logger: logging.WithComponent(logger, "service"),
	}
}

// Create creates a new corporate action event with status PENDING and
// writes the CREATE audit entry in the same transaction. Fails with
// errors.ErrDuplicateIdempotencyKey if the key is already used.
func (s *EventService) Create(ctx context.Context, req CreateEventRequest, actor string) (*models.Event, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if !symbolPattern.MatchString(symbol) {
		return nil, errors.NewValidationError("symbol", req.Symbol, "must be 1-20 uppercase alphanumeric characters")
	}
	if !models.ValidEventType(req.EventType) {
		return nil, errors.Wrapf(errors.ErrInvalidEventType, "unknown event type %q", req.EventType)
	}

	details, err := buildDetails(req)
	if err != nil {
		return nil, err
	}
	payload := details.PayloadMap()

	now := time.Now().UTC()
	event := &models.Event{
		EventType:      req.EventType,
		Symbol:         symbol,
		Status:         models.StatusPending,
		Payload:        payload,
		CreatedAt:      now,
		UpdatedAt:      now,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      actor,
	}

	audit := &models.AuditLogEntry{
		Action:        models.AuditCreate,
		NewStatus:     string(models.StatusPending),
		Changes:       map[string]interface{}{"payload": payload},
		Timestamp:     now,
		User:          actor,
		CorrelationID: correlationID(ctx),
	}

	if err := s.store.InsertEvent(ctx, event, audit); err != nil {
		if errors.Is(err, errors.ErrDuplicateIdempotencyKey) {
			return nil, err
		}
		return nil, errors.Wrap(err, "creating event")
	}

	s.logger.Info().
		Int64("event_id", event.ID).
		Str("symbol", event.Symbol).
		Str("event_type", string(event.EventType)).
		Msg("Created event")

	return event, nil
}

// buildDetails assembles the payload variant matching the declared
// event type, strictly from the fields relevant to that type.
func buildDetails(req CreateEventRequest) (models.EventDetails, error) {
	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	var details models.EventDetails
	switch req.EventType {
	case models.EventDividend:
		details = models.DividendDetails{
			Amount:      req.Amount,
			ExDate:      req.ExDate,
			RecordDate:  req.RecordDate,
			PaymentDate: req.PaymentDate,
			Currency:    currency,
		}
	case models.EventStockSplit:
		details = models.SplitDetails{
			RatioFrom:     req.SplitRatioFrom,
			RatioTo:       req.SplitRatioTo,
			EffectiveDate: req.EffectiveDate,
			Currency:      currency,
		}
	case models.EventMerger:
		details = models.MergerDetails{
			TargetSymbol:  strings.ToUpper(strings.TrimSpace(req.TargetSymbol)),
			ExchangeRatio: req.ExchangeRatio,
			CashComponent: req.CashComponent,
			EffectiveDate: req.EffectiveDate,
			Currency:      currency,
		}
	default:
		details = models.BasicDetails{Currency: currency}
	}

	if err := details.Validate(); err != nil {
		return nil, errors.NewValidationError(string(req.EventType), req.Symbol, err.Error())
	}
	return details, nil
}

// Get retrieves an event by ID.
func (s *EventService) Get(ctx context.Context, id int64) (*models.Event, error) {
	return s.store.GetEvent(ctx, id)
}

// ClampPageSize bounds a requested page size to [1,100], substituting
// the default of 50 for non-positive values. List applies it to every
// query; callers that report the effective page size use it too.
func ClampPageSize(limit int) int {
	if limit < 1 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// List returns events matching the filter ordered newest-first, along
// with the total matching count. The limit is clamped via ClampPageSize.
func (s *EventService) List(ctx context.Context, filter store.EventFilter) ([]models.Event, int64, error) {
	filter.Limit = ClampPageSize(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.QueryEvents(ctx, filter)
}

// GetAuditLog returns the audit trail for an event in timestamp order.
func (s *EventService) GetAuditLog(ctx context.Context, eventID int64) ([]models.AuditLogEntry, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.GetAuditLog(ctx, eventID)
}

// Transition moves an event to a new status and writes exactly one
// audit entry for the change, in the same transaction.
//
// The full transition legality table lives here: illegal edges are
// rejected with a TransitionError before any state is touched. When an
// error message accompanies a retry transition (PROCESSING back to
// PENDING) the retry counter is incremented; other error-bearing
// transitions record the message without incrementing, so a
// max-retries failure leaves the counter where it stopped.
func (s *EventService) Transition(ctx context.Context, id int64, newStatus models.EventStatus, actor string, errorMessage *string) (*models.Event, error) {
	if !models.ValidEventStatus(newStatus) {
		return nil, errors.Wrapf(errors.ErrInvalidStatus, "unknown status %q", newStatus)
	}

	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := event.Status
	if !models.CanTransition(oldStatus, newStatus) {
		return nil, errors.NewTransitionError(id, string(oldStatus), string(newStatus))
	}

	now := time.Now().UTC()
	event.Status = newStatus
	event.UpdatedAt = now

	changes := map[string]interface{}{
		"status": map[string]interface{}{"from": string(oldStatus), "to": string(newStatus)},
	}
	if errorMessage != nil {
		event.ErrorMessage = errorMessage
		if newStatus == models.StatusPending {
			event.RetryCount++
		}
		changes["error_message"] = *errorMessage
		changes["retry_count"] = event.RetryCount
	}

	oldStatusStr := string(oldStatus)
	audit := &models.AuditLogEntry{
		EventID:       id,
		Action:        models.AuditUpdate,
		OldStatus:     &oldStatusStr,
		NewStatus:     string(newStatus),
		Changes:       changes,
		Timestamp:     now,
		User:          actor,
		CorrelationID: correlationID(ctx),
	}

	if err := s.store.UpdateEvent(ctx, event, audit); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("event_id", id).
		Str("from", string(oldStatus)).
		Str("to", string(newStatus)).
		Msg("Updated event status")

	return event, nil
}

// Cancel cancels a pending or processing event. Events in a terminal
// status cannot be cancelled; the rejection writes no audit entry.
func (s *EventService) Cancel(ctx context.Context, id int64, actor string) (*models.Event, error) {
	return s.Transition(ctx, id, models.StatusCancelled, actor, nil)
}

// correlationID lifts the request ID from the context, if present.
func correlationID(ctx context.Context) *string {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return &id
	}
	return nil
}

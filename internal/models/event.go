// Package models provides domain models for the corporate actions service.
package models

import (
	"time"
)

// EventType represents a corporate action event type.
type EventType string

const (
	EventDividend    EventType = "DIVIDEND"
	EventStockSplit  EventType = "STOCK_SPLIT"
	EventMerger      EventType = "MERGER"
	EventSpinOff     EventType = "SPIN_OFF"
	EventRightsIssue EventType = "RIGHTS_ISSUE"
	EventDelisting   EventType = "DELISTING"
)

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventDividend, EventStockSplit, EventMerger, EventSpinOff, EventRightsIssue, EventDelisting:
		return true
	}
	return false
}

// EventStatus represents the processing status of an event.
type EventStatus string

const (
	StatusPending    EventStatus = "PENDING"
	StatusProcessing EventStatus = "PROCESSING"
	StatusCompleted  EventStatus = "COMPLETED"
	StatusFailed     EventStatus = "FAILED"
	StatusCancelled  EventStatus = "CANCELLED"
)

// ValidEventStatus reports whether s is a known event status.
func ValidEventStatus(s EventStatus) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// allowedTransitions is the status transition graph. COMPLETED and
// CANCELLED are terminal. FAILED is treated as terminal by current
// business rules, so it has no outgoing edges.
var allowedTransitions = map[EventStatus][]EventStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusPending, StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

// CanTransition reports whether moving from one status to another is a
// legal edge of the lifecycle state machine.
func CanTransition(from, to EventStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func IsTerminal(s EventStatus) bool {
	return len(allowedTransitions[s]) == 0
}

// Event represents one corporate action occurrence tracked through its
// lifecycle. The payload is assembled at creation time and never
// inspected afterward.
type Event struct {
	ID             int64                  `json:"id"`
	EventType      EventType              `json:"event_type"`
	Symbol         string                 `json:"symbol"`
	Status         EventStatus            `json:"status"`
	Payload        map[string]interface{} `json:"payload"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	ErrorMessage   *string                `json:"error_message,omitempty"`
	RetryCount     int                    `json:"retry_count"`
	IdempotencyKey *string                `json:"idempotency_key,omitempty"`
	CreatedBy      string                 `json:"created_by"`
}

// AuditAction represents the kind of change recorded by an audit entry.
type AuditAction string

const (
	AuditCreate AuditAction = "CREATE"
	AuditUpdate AuditAction = "UPDATE"
)

// AuditLogEntry is an immutable record of one change to an event.
// Entries are written in the same transaction as the change they
// describe and are never updated or deleted.
type AuditLogEntry struct {
	ID            int64                  `json:"id"`
	EventID       int64                  `json:"event_id"`
	Action        AuditAction            `json:"action"`
	OldStatus     *string                `json:"old_status,omitempty"`
	NewStatus     string                 `json:"new_status"`
	Changes       map[string]interface{} `json:"changes"`
	Timestamp     time.Time              `json:"timestamp"`
	User          string                 `json:"user"`
	CorrelationID *string                `json:"correlation_id,omitempty"`
}

// Metrics holds point-in-time aggregated counts over the event store.
type Metrics struct {
	TotalEvents    int64            `json:"total_events"`
	EventsByType   map[string]int64 `json:"events_by_type"`
	EventsByStatus map[string]int64 `json:"events_by_status"`
	Recent1h       int64            `json:"recent_events_1h"`
	Recent24h      int64            `json:"recent_events_24h"`
	ErrorRate      float64          `json:"error_rate"`
}

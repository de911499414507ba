// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"corporate-actions/internal/models"
)

// EventStore defines the interface for event persistence.
//
// InsertEvent and UpdateEvent each write the event row and its audit
// entry in a single transaction: both commit or neither does.
type EventStore interface {
	// Events
	InsertEvent(ctx context.Context, event *models.Event, audit *models.AuditLogEntry) error
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	QueryEvents(ctx context.Context, filter EventFilter) ([]models.Event, int64, error)
	UpdateEvent(ctx context.Context, event *models.Event, audit *models.AuditLogEntry) error

	// Audit trail
	GetAuditLog(ctx context.Context, eventID int64) ([]models.AuditLogEntry, error)

	// Aggregation
	CountEvents(ctx context.Context) (int64, error)
	CountEventsByType(ctx context.Context) (map[string]int64, error)
	CountEventsByStatus(ctx context.Context) (map[string]int64, error)
	CountEventsCreatedSince(ctx context.Context, since time.Time) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// EventFilter represents filters for querying events.
// Filters are conjunctive; zero values mean "no filter".
type EventFilter struct {
	Type   models.EventType
	Status models.EventStatus
	Symbol string
	Offset int
	Limit  int
}

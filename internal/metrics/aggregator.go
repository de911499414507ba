package metrics

import (
	"context"
	"math"
	"time"

	"corporate-actions/internal/models"
	"corporate-actions/internal/store"
)

// Aggregator computes point-in-time metrics over the event store.
// It is read-only; the sub-queries are not wrapped in one transaction,
// so counts may skew slightly under concurrent writes.
type Aggregator struct {
	store store.EventStore
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator(st store.EventStore) *Aggregator {
	return &Aggregator{store: st}
}

// Compute assembles the metrics snapshot relative to the time of the call.
func (a *Aggregator) Compute(ctx context.Context) (*models.Metrics, error) {
	now := time.Now().UTC()

	total, err := a.store.CountEvents(ctx)
	if err != nil {
		return nil, err
	}

	byType, err := a.store.CountEventsByType(ctx)
	if err != nil {
		return nil, err
	}

	byStatus, err := a.store.CountEventsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	recent1h, err := a.store.CountEventsCreatedSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}

	recent24h, err := a.store.CountEventsCreatedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	var errorRate float64
	if total > 0 {
		failed := byStatus[string(models.StatusFailed)]
		errorRate = math.Round(float64(failed)/float64(total)*10000) / 10000
	}

	return &models.Metrics{
		TotalEvents:    total,
		EventsByType:   byType,
		EventsByStatus: byStatus,
		Recent1h:       recent1h,
		Recent24h:      recent24h,
		ErrorRate:      errorRate,
	}, nil
}

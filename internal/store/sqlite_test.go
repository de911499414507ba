package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"corporate-actions/internal/errors"
	"corporate-actions/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(symbol string, eventType models.EventType, createdAt time.Time) *models.Event {
	return &models.Event{
		EventType: eventType,
		Symbol:    symbol,
		Status:    models.StatusPending,
		Payload:   map[string]interface{}{"currency": "USD"},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		CreatedBy: "test",
	}
}

func createAudit(user string, ts time.Time) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		Action:    models.AuditCreate,
		NewStatus: string(models.StatusPending),
		Changes:   map[string]interface{}{"payload": map[string]interface{}{"currency": "USD"}},
		Timestamp: ts,
		User:      user,
	}
}

func TestInsertAndGetEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	key := "key-1"
	event := testEvent("AAPL", models.EventDividend, now)
	event.IdempotencyKey = &key
	event.Payload = map[string]interface{}{
		"currency": "USD",
		"amount":   "0.24",
		"ex_date":  "2024-11-15",
	}

	if err := s.InsertEvent(ctx, event, createAudit("test", now)); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	if event.ID == 0 {
		t.Fatal("expected store to assign an id")
	}

	got, err := s.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.Symbol != "AAPL" || got.EventType != models.EventDividend {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status = %s, want PENDING", got.Status)
	}
	if got.IdempotencyKey == nil || *got.IdempotencyKey != "key-1" {
		t.Errorf("idempotency key = %v, want key-1", got.IdempotencyKey)
	}
	if got.Payload["amount"] != "0.24" {
		t.Errorf("payload amount = %v, want \"0.24\"", got.Payload["amount"])
	}
	if got.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", got.RetryCount)
	}
}

func TestGetEventNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetEvent(context.Background(), 9999)
	if !errors.Is(err, errors.ErrEventNotFound) {
		t.Errorf("err = %v, want ErrEventNotFound", err)
	}
}

func TestInsertDuplicateIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	key := "dup-key"
	first := testEvent("AAPL", models.EventDividend, now)
	first.IdempotencyKey = &key
	if err := s.InsertEvent(ctx, first, createAudit("test", now)); err != nil {
		t.Fatalf("first InsertEvent: %v", err)
	}

	second := testEvent("MSFT", models.EventMerger, now)
	second.IdempotencyKey = &key
	err := s.InsertEvent(ctx, second, createAudit("test", now))
	if !errors.Is(err, errors.ErrDuplicateIdempotencyKey) {
		t.Fatalf("err = %v, want ErrDuplicateIdempotencyKey", err)
	}

	// The rejected insert must leave no rows behind.
	_, total, err := s.QueryEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestInsertNilIdempotencyKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Multiple events without keys must not collide on the unique index.
	for i := 0; i < 3; i++ {
		if err := s.InsertEvent(ctx, testEvent("AAPL", models.EventDividend, now), createAudit("test", now)); err != nil {
			t.Fatalf("InsertEvent %d: %v", i, err)
		}
	}
}

func TestUpdateEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	event := testEvent("AAPL", models.EventDividend, now)
	if err := s.InsertEvent(ctx, event, createAudit("test", now)); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	msg := "simulated failure"
	event.Status = models.StatusPending
	event.RetryCount = 1
	event.ErrorMessage = &msg
	event.UpdatedAt = now.Add(time.Second)

	oldStatus := string(models.StatusProcessing)
	audit := &models.AuditLogEntry{
		EventID:   event.ID,
		Action:    models.AuditUpdate,
		OldStatus: &oldStatus,
		NewStatus: string(models.StatusPending),
		Changes:   map[string]interface{}{"error_message": msg, "retry_count": 1},
		Timestamp: now.Add(time.Second),
		User:      "processor",
	}
	if err := s.UpdateEvent(ctx, event, audit); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}

	got, err := s.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != msg {
		t.Errorf("error message = %v, want %q", got.ErrorMessage, msg)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("updated_at %v not after created_at %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestUpdateEventNotFound(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	event := testEvent("AAPL", models.EventDividend, now)
	event.ID = 12345
	err := s.UpdateEvent(context.Background(), event, createAudit("test", now))
	if !errors.Is(err, errors.ErrEventNotFound) {
		t.Errorf("err = %v, want ErrEventNotFound", err)
	}
}

func TestAuditTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	event := testEvent("AAPL", models.EventDividend, now)
	if err := s.InsertEvent(ctx, event, createAudit("api_user", now)); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	oldStatus := string(models.StatusPending)
	event.Status = models.StatusProcessing
	event.UpdatedAt = now.Add(time.Second)
	update := &models.AuditLogEntry{
		EventID:   event.ID,
		Action:    models.AuditUpdate,
		OldStatus: &oldStatus,
		NewStatus: string(models.StatusProcessing),
		Changes:   map[string]interface{}{"status": map[string]interface{}{"from": "PENDING", "to": "PROCESSING"}},
		Timestamp: now.Add(time.Second),
		User:      "processor",
	}
	if err := s.UpdateEvent(ctx, event, update); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}

	entries, err := s.GetAuditLog(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != models.AuditCreate {
		t.Errorf("first entry action = %s, want CREATE", entries[0].Action)
	}
	if entries[0].OldStatus != nil {
		t.Errorf("CREATE entry old status = %v, want nil", entries[0].OldStatus)
	}
	if entries[1].Action != models.AuditUpdate || entries[1].NewStatus != "PROCESSING" {
		t.Errorf("second entry = %+v", entries[1])
	}
	if entries[1].User != "processor" {
		t.Errorf("second entry user = %s, want processor", entries[1].User)
	}
}

func TestQueryEventsFiltersAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	seed := []struct {
		symbol string
		etype  models.EventType
		status models.EventStatus
	}{
		{"AAPL", models.EventDividend, models.StatusPending},
		{"AAPL", models.EventStockSplit, models.StatusPending},
		{"MSFT", models.EventDividend, models.StatusCompleted},
		{"MSFT", models.EventDividend, models.StatusPending},
		{"TSLA", models.EventMerger, models.StatusFailed},
	}
	for i, row := range seed {
		event := testEvent(row.symbol, row.etype, base.Add(time.Duration(i)*time.Minute))
		if err := s.InsertEvent(ctx, event, createAudit("test", base)); err != nil {
			t.Fatalf("InsertEvent %d: %v", i, err)
		}
		if row.status != models.StatusPending {
			event.Status = row.status
			event.UpdatedAt = base.Add(time.Hour)
			old := string(models.StatusPending)
			audit := &models.AuditLogEntry{
				EventID: event.ID, Action: models.AuditUpdate,
				OldStatus: &old, NewStatus: string(row.status),
				Changes:   map[string]interface{}{},
				Timestamp: base.Add(time.Hour), User: "test",
			}
			if err := s.UpdateEvent(ctx, event, audit); err != nil {
				t.Fatalf("UpdateEvent %d: %v", i, err)
			}
		}
	}

	// No filter: newest first.
	events, total, err := s.QueryEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if total != 5 || len(events) != 5 {
		t.Fatalf("total = %d len = %d, want 5/5", total, len(events))
	}
	if events[0].Symbol != "TSLA" {
		t.Errorf("first event = %s, want TSLA (newest first)", events[0].Symbol)
	}

	// Conjunctive filters.
	events, total, err = s.QueryEvents(ctx, EventFilter{Symbol: "MSFT", Type: models.EventDividend, Status: models.StatusPending})
	if err != nil {
		t.Fatalf("QueryEvents filtered: %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Fatalf("filtered total = %d len = %d, want 1/1", total, len(events))
	}

	// Symbol filter is case-insensitive via uppercasing.
	_, total, err = s.QueryEvents(ctx, EventFilter{Symbol: "aapl"})
	if err != nil {
		t.Fatalf("QueryEvents lowercase symbol: %v", err)
	}
	if total != 2 {
		t.Errorf("lowercase symbol total = %d, want 2", total)
	}

	// Pagination: limit bounds page size, total is unaffected.
	events, total, err = s.QueryEvents(ctx, EventFilter{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("QueryEvents paged: %v", err)
	}
	if len(events) != 2 || total != 5 {
		t.Errorf("page len = %d total = %d, want 2/5", len(events), total)
	}

	events, _, err = s.QueryEvents(ctx, EventFilter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("QueryEvents last page: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("last page len = %d, want 1", len(events))
	}
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := testEvent("AAPL", models.EventDividend, now.Add(-48*time.Hour))
	if err := s.InsertEvent(ctx, old, createAudit("test", now)); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	recent := testEvent("MSFT", models.EventMerger, now.Add(-time.Minute))
	if err := s.InsertEvent(ctx, recent, createAudit("test", now)); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	total, err := s.CountEvents(ctx)
	if err != nil || total != 2 {
		t.Fatalf("CountEvents = %d, %v, want 2", total, err)
	}

	byType, err := s.CountEventsByType(ctx)
	if err != nil {
		t.Fatalf("CountEventsByType: %v", err)
	}
	if byType["DIVIDEND"] != 1 || byType["MERGER"] != 1 {
		t.Errorf("byType = %v", byType)
	}

	byStatus, err := s.CountEventsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountEventsByStatus: %v", err)
	}
	if byStatus["PENDING"] != 2 {
		t.Errorf("byStatus = %v", byStatus)
	}

	recent24h, err := s.CountEventsCreatedSince(ctx, now.Add(-24*time.Hour))
	if err != nil || recent24h != 1 {
		t.Fatalf("CountEventsCreatedSince(24h) = %d, %v, want 1", recent24h, err)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

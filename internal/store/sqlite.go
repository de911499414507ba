// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"corporate-actions/internal/errors"
	"corporate-actions/internal/models"
)

// SQLiteStore implements EventStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based event store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Corporate action events
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		idempotency_key TEXT UNIQUE,
		created_by TEXT NOT NULL DEFAULT 'system'
	);

	-- Immutable audit trail, one entry per create and per transition
	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		old_status TEXT,
		new_status TEXT NOT NULL,
		changes TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		user TEXT NOT NULL,
		correlation_id TEXT,
		FOREIGN KEY (event_id) REFERENCES events(id)
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
	CREATE INDEX IF NOT EXISTS idx_events_symbol_created ON events(symbol, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_status_type ON events(status, event_type);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_event_timestamp ON audit_logs(event_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertEvent persists a new event together with its CREATE audit entry
// in one transaction. The store assigns the event ID. A duplicate
// idempotency key fails with errors.ErrDuplicateIdempotencyKey.
func (s *SQLiteStore) InsertEvent(ctx context.Context, event *models.Event, audit *models.AuditLogEntry) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_type, symbol, status, payload, created_at, updated_at, error_message, retry_count, idempotency_key, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.EventType, event.Symbol, event.Status, string(payload), event.CreatedAt, event.UpdatedAt,
		event.ErrorMessage, event.RetryCount, event.IdempotencyKey, event.CreatedBy)
	if err != nil {
		if isDuplicateKeyErr(err) {
			return errors.ErrDuplicateIdempotencyKey
		}
		return errors.NewStoreError("insert", "failed to insert event", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errors.NewStoreError("insert", "failed to read inserted id", err)
	}
	event.ID = id
	audit.EventID = id

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateEvent replaces the mutable fields of an event and appends the
// audit entry describing the change, in one transaction. Fails with
// errors.ErrEventNotFound if the id is absent.
func (s *SQLiteStore) UpdateEvent(ctx context.Context, event *models.Event, audit *models.AuditLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE events
		SET status = ?, updated_at = ?, error_message = ?, retry_count = ?
		WHERE id = ?
	`, event.Status, event.UpdatedAt, event.ErrorMessage, event.RetryCount, event.ID)
	if err != nil {
		return errors.NewStoreError("update", "failed to update event", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewStoreError("update", "failed to read affected rows", err)
	}
	if affected == 0 {
		return errors.ErrEventNotFound
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// insertAuditTx appends an audit entry within an open transaction.
func insertAuditTx(ctx context.Context, tx *sql.Tx, audit *models.AuditLogEntry) error {
	changes, err := json.Marshal(audit.Changes)
	if err != nil {
		return fmt.Errorf("failed to marshal audit changes: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (event_id, action, old_status, new_status, changes, timestamp, user, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, audit.EventID, audit.Action, audit.OldStatus, audit.NewStatus, string(changes),
		audit.Timestamp, audit.User, audit.CorrelationID)
	if err != nil {
		return errors.NewStoreError("audit", "failed to append audit entry", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		audit.ID = id
	}
	return nil
}

// GetEvent retrieves an event by ID. Returns errors.ErrEventNotFound
// if the id is absent.
func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_type, symbol, status, payload, created_at, updated_at, error_message, retry_count, idempotency_key, created_by
		FROM events
		WHERE id = ?
	`, id)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrEventNotFound
	}
	if err != nil {
		return nil, errors.NewStoreError("get", "failed to scan event", err)
	}
	return event, nil
}

// QueryEvents returns a page of events matching the filter ordered by
// created_at descending, along with the total matching count.
func (s *SQLiteStore) QueryEvents(ctx context.Context, filter EventFilter) ([]models.Event, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if filter.Type != "" {
		where += " AND event_type = ?"
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Symbol != "" {
		where += " AND symbol = ?"
		args = append(args, strings.ToUpper(filter.Symbol))
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewStoreError("query", "failed to count events", err)
	}

	query := `
		SELECT id, event_type, symbol, status, payload, created_at, updated_at, error_message, retry_count, idempotency_key, created_by
		FROM events` + where + " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewStoreError("query", "failed to query events", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, errors.NewStoreError("query", "failed to scan event", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewStoreError("query", "error iterating events", err)
	}

	return events, total, nil
}

// GetAuditLog returns all audit entries for an event in timestamp order.
func (s *SQLiteStore) GetAuditLog(ctx context.Context, eventID int64) ([]models.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, action, old_status, new_status, changes, timestamp, user, correlation_id
		FROM audit_logs
		WHERE event_id = ?
		ORDER BY timestamp ASC, id ASC
	`, eventID)
	if err != nil {
		return nil, errors.NewStoreError("audit", "failed to query audit log", err)
	}
	defer rows.Close()

	var entries []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var oldStatus, correlationID sql.NullString
		var changes string
		if err := rows.Scan(&e.ID, &e.EventID, &e.Action, &oldStatus, &e.NewStatus, &changes, &e.Timestamp, &e.User, &correlationID); err != nil {
			return nil, errors.NewStoreError("audit", "failed to scan audit entry", err)
		}
		if oldStatus.Valid {
			e.OldStatus = &oldStatus.String
		}
		if correlationID.Valid {
			e.CorrelationID = &correlationID.String
		}
		if err := json.Unmarshal([]byte(changes), &e.Changes); err != nil {
			return nil, errors.NewStoreError("audit", "failed to unmarshal audit changes", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError("audit", "error iterating audit entries", err)
	}

	return entries, nil
}

// CountEvents returns the total number of events.
func (s *SQLiteStore) CountEvents(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&total)
	if err != nil {
		return 0, errors.NewStoreError("count", "failed to count events", err)
	}
	return total, nil
}

// CountEventsByType returns event counts grouped by event type.
func (s *SQLiteStore) CountEventsByType(ctx context.Context) (map[string]int64, error) {
	return s.countGrouped(ctx, "event_type")
}

// CountEventsByStatus returns event counts grouped by status.
func (s *SQLiteStore) CountEventsByStatus(ctx context.Context) (map[string]int64, error) {
	return s.countGrouped(ctx, "status")
}

func (s *SQLiteStore) countGrouped(ctx context.Context, column string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM events GROUP BY %s", column, column))
	if err != nil {
		return nil, errors.NewStoreError("count", "failed to count grouped events", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, errors.NewStoreError("count", "failed to scan grouped count", err)
		}
		counts[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError("count", "error iterating grouped counts", err)
	}
	return counts, nil
}

// CountEventsCreatedSince returns the number of events created at or
// after the given time.
func (s *SQLiteStore) CountEventsCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE created_at >= ?", since).Scan(&count)
	if err != nil {
		return 0, errors.NewStoreError("count", "failed to count recent events", err)
	}
	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanEvent.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*models.Event, error) {
	var e models.Event
	var payload string
	var errorMessage, idempotencyKey sql.NullString

	err := row.Scan(&e.ID, &e.EventType, &e.Symbol, &e.Status, &payload,
		&e.CreatedAt, &e.UpdatedAt, &errorMessage, &e.RetryCount, &idempotencyKey, &e.CreatedBy)
	if err != nil {
		return nil, err
	}

	if errorMessage.Valid {
		e.ErrorMessage = &errorMessage.String
	}
	if idempotencyKey.Valid {
		e.IdempotencyKey = &idempotencyKey.String
	}
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &e, nil
}

// isDuplicateKeyErr reports whether err is a UNIQUE constraint
// violation. The idempotency key is the only caller-supplied unique
// column on events, so no further narrowing is needed.
func isDuplicateKeyErr(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/observation"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// SQLiteStore keeps the registry and observations in SQLite.
// Safe for concurrent use via internal mutex.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens the database at dbPath, creating tables if needed.
// ":memory:" opens a process-wide shared in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS event_status (
		event_id TEXT PRIMARY KEY,
		series_id TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		reg_url TEXT NOT NULL DEFAULT '',
		general_access_status TEXT NOT NULL DEFAULT 'unknown',
		status_confidence REAL NOT NULL DEFAULT 0,
		last_checked_at TEXT,
		status_source TEXT NOT NULL DEFAULT '',
		unconfirmed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		source TEXT NOT NULL,
		raw_excerpt TEXT NOT NULL,
		parsed_status TEXT NOT NULL,
		confidence REAL,
		url TEXT NOT NULL,
		observed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_observations_event ON observations(event_id, observed_at);

	CREATE TABLE IF NOT EXISTS status_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		old_confidence REAL NOT NULL,
		new_confidence REAL NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		detected_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// UpsertEvent registers evt or updates its identity fields
func (s *SQLiteStore) UpsertEvent(ctx context.Context, evt *event.Event) error {
	if err := validateEvent(evt); err != nil {
		return &PersistenceError{Op: "upsert event", Err: err}
	}
	evt = copyEvent(evt)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_status (
			event_id, series_id, year, reg_url, general_access_status,
			status_confidence, last_checked_at, status_source, unconfirmed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			series_id = excluded.series_id,
			year = excluded.year,
			reg_url = excluded.reg_url
	`, evt.ID, evt.Series, evt.Year, evt.RegURL, string(evt.Status),
		evt.Confidence, formatTimePtr(evt.LastCheckedAt), evt.StatusSource, evt.Unconfirmed)
	if err != nil {
		return &PersistenceError{Op: "upsert event", EventID: evt.ID, Err: err}
	}
	return nil
}

// GetEvent returns the registry record for id
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectEventSQL+` WHERE event_id = ?`, id)
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return evt, nil
}

// ListEvents returns every registry record ordered by ID
func (s *SQLiteStore) ListEvents(ctx context.Context) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectEventSQL+` ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// SaveResolution writes the status fields of evt
func (s *SQLiteStore) SaveResolution(ctx context.Context, evt *event.Event) error {
	if err := validateEvent(evt); err != nil {
		return &PersistenceError{Op: "save resolution", Err: err}
	}
	evt = copyEvent(evt)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE event_status SET
			general_access_status = ?,
			status_confidence = ?,
			last_checked_at = ?,
			status_source = ?,
			unconfirmed = ?
		WHERE event_id = ?
	`, string(evt.Status), evt.Confidence, formatTimePtr(evt.LastCheckedAt),
		evt.StatusSource, evt.Unconfirmed, evt.ID)
	if err != nil {
		return &PersistenceError{Op: "save resolution", EventID: evt.ID, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &PersistenceError{Op: "save resolution", EventID: evt.ID, Err: ErrNotFound}
	}
	return nil
}

// AppendObservation inserts obs. Existing observations are never rewritten.
func (s *SQLiteStore) AppendObservation(ctx context.Context, obs *observation.Observation) error {
	if err := validateObservation(obs); err != nil {
		return &PersistenceError{Op: "append observation", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var confidence sql.NullFloat64
	if obs.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *obs.Confidence, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (
			id, event_id, source, raw_excerpt, parsed_status, confidence, url, observed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, obs.ID, obs.EventID, obs.Source, obs.RawExcerpt, string(obs.ParsedStatus),
		confidence, obs.URL, formatTime(obs.ObservedAt))
	if err != nil {
		return &PersistenceError{Op: "append observation", EventID: obs.EventID, Err: err}
	}
	return nil
}

// ObservationsFor returns the observations for eventID, oldest first
func (s *SQLiteStore) ObservationsFor(ctx context.Context, eventID string) ([]*observation.Observation, error) {
	return s.queryObservations(ctx, selectObservationSQL+` WHERE event_id = ?`, eventID)
}

// ListObservations returns every observation, oldest first
func (s *SQLiteStore) ListObservations(ctx context.Context) ([]*observation.Observation, error) {
	return s.queryObservations(ctx, selectObservationSQL)
}

func (s *SQLiteStore) queryObservations(ctx context.Context, query string, args ...any) ([]*observation.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var obs []*observation.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Timestamps are compared as instants, not as stored text
	sortObservations(obs)
	return obs, nil
}

// ObservedEventIDs returns the sorted IDs of events with observations
func (s *SQLiteStore) ObservedEventIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT event_id FROM observations ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("query observed events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordChanges appends to the status change log
func (s *SQLiteStore) RecordChanges(ctx context.Context, changes []*event.StatusChange) error {
	if len(changes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "record changes", Err: err}
	}
	defer tx.Rollback()

	for _, c := range changes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO status_changes (
				event_id, old_status, new_status, old_confidence, new_confidence, source, detected_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, c.EventID, string(c.OldStatus), string(c.NewStatus), c.OldConfidence,
			c.NewConfidence, c.Source, formatTime(c.DetectedAt))
		if err != nil {
			return &PersistenceError{Op: "record changes", EventID: c.EventID, Err: err}
		}
	}

	// Keep the log bounded like the file backend
	_, err = tx.ExecContext(ctx, `
		DELETE FROM status_changes WHERE id NOT IN (
			SELECT id FROM status_changes ORDER BY id DESC LIMIT ?
		)
	`, MaxChangeLog)
	if err != nil {
		return &PersistenceError{Op: "record changes", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "record changes", Err: err}
	}
	return nil
}

// Changes returns up to limit of the most recent status changes, oldest first
func (s *SQLiteStore) Changes(ctx context.Context, limit int) ([]*event.StatusChange, error) {
	if limit <= 0 {
		limit = MaxChangeLog
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, old_status, new_status, old_confidence, new_confidence, source, detected_at
		FROM (SELECT * FROM status_changes ORDER BY id DESC LIMIT ?)
		ORDER BY id
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var changes []*event.StatusChange
	for rows.Next() {
		var c event.StatusChange
		var oldStatus, newStatus, detectedAt string
		if err := rows.Scan(&c.EventID, &oldStatus, &newStatus, &c.OldConfidence,
			&c.NewConfidence, &c.Source, &detectedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.OldStatus = event.StatusOrUnknown(oldStatus)
		c.NewStatus = event.StatusOrUnknown(newStatus)
		if c.DetectedAt, err = parseTime(detectedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

const selectEventSQL = `
	SELECT event_id, series_id, year, reg_url, general_access_status,
		status_confidence, last_checked_at, status_source, unconfirmed
	FROM event_status`

const selectObservationSQL = `
	SELECT id, event_id, source, raw_excerpt, parsed_status, confidence, url, observed_at
	FROM observations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var evt event.Event
	var status string
	var lastChecked sql.NullString
	if err := row.Scan(&evt.ID, &evt.Series, &evt.Year, &evt.RegURL, &status,
		&evt.Confidence, &lastChecked, &evt.StatusSource, &evt.Unconfirmed); err != nil {
		return nil, err
	}
	evt.Status = event.StatusOrUnknown(status)
	if lastChecked.Valid && lastChecked.String != "" {
		t, err := parseTime(lastChecked.String)
		if err != nil {
			return nil, err
		}
		evt.LastCheckedAt = &t
	}
	return &evt, nil
}

func scanObservation(row rowScanner) (*observation.Observation, error) {
	var o observation.Observation
	var status, observedAt string
	var confidence sql.NullFloat64
	if err := row.Scan(&o.ID, &o.EventID, &o.Source, &o.RawExcerpt, &status,
		&confidence, &o.URL, &observedAt); err != nil {
		return nil, err
	}
	o.ParsedStatus = event.StatusOrUnknown(status)
	if confidence.Valid {
		o.Confidence = observation.Float(confidence.Float64)
	}
	t, err := parseTime(observedAt)
	if err != nil {
		return nil, err
	}
	o.ObservedAt = t
	return &o, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/observation"
)

// PostgresStore keeps the registry and observations in Postgres
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the tables exist
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureTables(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS event_status (
		event_id text PRIMARY KEY,
		series_id text NOT NULL DEFAULT '',
		year integer NOT NULL DEFAULT 0,
		reg_url text NOT NULL DEFAULT '',
		general_access_status text NOT NULL DEFAULT 'unknown',
		status_confidence double precision NOT NULL DEFAULT 0,
		last_checked_at timestamptz,
		status_source text NOT NULL DEFAULT '',
		unconfirmed boolean NOT NULL DEFAULT false
	);

	CREATE TABLE IF NOT EXISTS observations (
		id text PRIMARY KEY,
		event_id text NOT NULL,
		source text NOT NULL,
		raw_excerpt text NOT NULL,
		parsed_status text NOT NULL,
		confidence double precision,
		url text NOT NULL,
		observed_at timestamptz NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_observations_event ON observations(event_id, observed_at);

	CREATE TABLE IF NOT EXISTS status_changes (
		id bigserial PRIMARY KEY,
		event_id text NOT NULL,
		old_status text NOT NULL,
		new_status text NOT NULL,
		old_confidence double precision NOT NULL,
		new_confidence double precision NOT NULL,
		source text NOT NULL DEFAULT '',
		detected_at timestamptz NOT NULL
	);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertEvent registers evt or updates its identity fields
func (s *PostgresStore) UpsertEvent(ctx context.Context, evt *event.Event) error {
	if err := validateEvent(evt); err != nil {
		return &PersistenceError{Op: "upsert event", Err: err}
	}
	evt = copyEvent(evt)

	q := `
	INSERT INTO event_status (
		event_id, series_id, year, reg_url, general_access_status,
		status_confidence, last_checked_at, status_source, unconfirmed
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (event_id) DO UPDATE SET
		series_id = EXCLUDED.series_id,
		year = EXCLUDED.year,
		reg_url = EXCLUDED.reg_url`
	_, err := s.pool.Exec(ctx, q, evt.ID, evt.Series, evt.Year, evt.RegURL, string(evt.Status),
		evt.Confidence, evt.LastCheckedAt, evt.StatusSource, evt.Unconfirmed)
	if err != nil {
		return &PersistenceError{Op: "upsert event", EventID: evt.ID, Err: err}
	}
	return nil
}

// GetEvent returns the registry record for id
func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	row := s.pool.QueryRow(ctx, selectEventSQL+` WHERE event_id = $1`, id)
	evt, err := scanPgEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return evt, nil
}

// ListEvents returns every registry record ordered by ID
func (s *PostgresStore) ListEvents(ctx context.Context) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx, selectEventSQL+` ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, err := scanPgEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("rows: %w", rows.Err())
	}
	return events, nil
}

// SaveResolution writes the status fields of evt
func (s *PostgresStore) SaveResolution(ctx context.Context, evt *event.Event) error {
	if err := validateEvent(evt); err != nil {
		return &PersistenceError{Op: "save resolution", Err: err}
	}
	evt = copyEvent(evt)

	q := `
	UPDATE event_status SET
		general_access_status = $1,
		status_confidence = $2,
		last_checked_at = $3,
		status_source = $4,
		unconfirmed = $5
	WHERE event_id = $6`
	tag, err := s.pool.Exec(ctx, q, string(evt.Status), evt.Confidence, evt.LastCheckedAt,
		evt.StatusSource, evt.Unconfirmed, evt.ID)
	if err != nil {
		return &PersistenceError{Op: "save resolution", EventID: evt.ID, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &PersistenceError{Op: "save resolution", EventID: evt.ID, Err: ErrNotFound}
	}
	return nil
}

// AppendObservation inserts obs
func (s *PostgresStore) AppendObservation(ctx context.Context, obs *observation.Observation) error {
	if err := validateObservation(obs); err != nil {
		return &PersistenceError{Op: "append observation", Err: err}
	}

	q := `
	INSERT INTO observations (
		id, event_id, source, raw_excerpt, parsed_status, confidence, url, observed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, q, obs.ID, obs.EventID, obs.Source, obs.RawExcerpt,
		string(obs.ParsedStatus), obs.Confidence, obs.URL, obs.ObservedAt.UTC())
	if err != nil {
		return &PersistenceError{Op: "append observation", EventID: obs.EventID, Err: err}
	}
	return nil
}

// ObservationsFor returns the observations for eventID, oldest first
func (s *PostgresStore) ObservationsFor(ctx context.Context, eventID string) ([]*observation.Observation, error) {
	return s.queryObservations(ctx, selectObservationSQL+` WHERE event_id = $1 ORDER BY observed_at, id`, eventID)
}

// ListObservations returns every observation, oldest first
func (s *PostgresStore) ListObservations(ctx context.Context) ([]*observation.Observation, error) {
	return s.queryObservations(ctx, selectObservationSQL+` ORDER BY observed_at, id`)
}

func (s *PostgresStore) queryObservations(ctx context.Context, q string, args ...any) ([]*observation.Observation, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var obs []*observation.Observation
	for rows.Next() {
		var o observation.Observation
		var status string
		if err := rows.Scan(&o.ID, &o.EventID, &o.Source, &o.RawExcerpt, &status,
			&o.Confidence, &o.URL, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.ParsedStatus = event.StatusOrUnknown(status)
		o.ObservedAt = o.ObservedAt.UTC()
		obs = append(obs, &o)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("rows: %w", rows.Err())
	}
	return obs, nil
}

// ObservedEventIDs returns the sorted IDs of events with observations
func (s *PostgresStore) ObservedEventIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT event_id FROM observations ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("query observed events: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect observed events: %w", err)
	}
	return ids, nil
}

// RecordChanges appends to the status change log
func (s *PostgresStore) RecordChanges(ctx context.Context, changes []*event.StatusChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "record changes", Err: err}
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range changes {
		batch.Queue(`
		INSERT INTO status_changes (
			event_id, old_status, new_status, old_confidence, new_confidence, source, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.EventID, string(c.OldStatus), string(c.NewStatus), c.OldConfidence,
			c.NewConfidence, c.Source, c.DetectedAt.UTC())
	}
	batch.Queue(`
	DELETE FROM status_changes WHERE id NOT IN (
		SELECT id FROM status_changes ORDER BY id DESC LIMIT $1
	)`, MaxChangeLog)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return &PersistenceError{Op: "record changes", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "record changes", Err: err}
	}
	return nil
}

// Changes returns up to limit of the most recent status changes, oldest first
func (s *PostgresStore) Changes(ctx context.Context, limit int) ([]*event.StatusChange, error) {
	if limit <= 0 {
		limit = MaxChangeLog
	}

	rows, err := s.pool.Query(ctx, `
	SELECT event_id, old_status, new_status, old_confidence, new_confidence, source, detected_at
	FROM (SELECT * FROM status_changes ORDER BY id DESC LIMIT $1) recent
	ORDER BY id`, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var changes []*event.StatusChange
	for rows.Next() {
		var c event.StatusChange
		var oldStatus, newStatus string
		if err := rows.Scan(&c.EventID, &oldStatus, &newStatus, &c.OldConfidence,
			&c.NewConfidence, &c.Source, &c.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.OldStatus = event.StatusOrUnknown(oldStatus)
		c.NewStatus = event.StatusOrUnknown(newStatus)
		c.DetectedAt = c.DetectedAt.UTC()
		changes = append(changes, &c)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("rows: %w", rows.Err())
	}
	return changes, nil
}

func scanPgEvent(row pgx.Row) (*event.Event, error) {
	var evt event.Event
	var status string
	if err := row.Scan(&evt.ID, &evt.Series, &evt.Year, &evt.RegURL, &status,
		&evt.Confidence, &evt.LastCheckedAt, &evt.StatusSource, &evt.Unconfirmed); err != nil {
		return nil, err
	}
	evt.Status = event.StatusOrUnknown(status)
	if evt.LastCheckedAt != nil {
		t := evt.LastCheckedAt.UTC()
		evt.LastCheckedAt = &t
	}
	return &evt, nil
}

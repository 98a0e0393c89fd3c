package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/observation"
)

// MaxChangeLog is the number of status changes kept in the change log
const MaxChangeLog = 200

// ErrNotFound is returned when an event is not in the registry
var ErrNotFound = errors.New("event not found")

// Store is the Event Registry plus the append-only Observation Store
type Store interface {
	// UpsertEvent registers an event or updates its series, year and URL.
	// Status fields of an existing event are left alone.
	UpsertEvent(ctx context.Context, evt *event.Event) error
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	// ListEvents returns every registered event ordered by ID
	ListEvents(ctx context.Context) ([]*event.Event, error)
	// SaveResolution writes the status fields of evt. The event must exist.
	SaveResolution(ctx context.Context, evt *event.Event) error

	AppendObservation(ctx context.Context, obs *observation.Observation) error
	// ObservationsFor returns the observations of one event ordered by observed_at ascending
	ObservationsFor(ctx context.Context, eventID string) ([]*observation.Observation, error)
	// ObservedEventIDs returns the sorted IDs of every event with at least one observation
	ObservedEventIDs(ctx context.Context) ([]string, error)
	ListObservations(ctx context.Context) ([]*observation.Observation, error)

	RecordChanges(ctx context.Context, changes []*event.StatusChange) error
	// Changes returns up to limit of the most recent status changes, oldest first
	Changes(ctx context.Context, limit int) ([]*event.StatusChange, error)

	Close() error
}

// PersistenceError is returned when a write to the store fails
type PersistenceError struct {
	Op      string
	EventID string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.EventID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Driver names accepted by Open
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultDataDir is where the file and SQLite backends keep their data
const DefaultDataDir = "~/.local/share/raceradar"

// Options selects and configures a backend
type Options struct {
	Driver string
	Path   string // data directory for file and sqlite
	DSN    string // postgres connection string
}

// Open returns the backend named by opts.Driver
func Open(ctx context.Context, opts Options) (Store, error) {
	path := opts.Path
	if path == "" {
		path = DefaultDataDir
	}

	switch strings.ToLower(opts.Driver) {
	case "", DriverFile:
		return NewFileStore(path)
	case DriverSQLite:
		if path != ":memory:" {
			dir, err := dataDir(path)
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "raceradar.db")
		}
		return NewSQLiteStore(path)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		return NewPostgresStore(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", opts.Driver)
	}
}

// dataDir expands ~ and creates the directory if needed
func dataDir(dir string) (string, error) {
	// Expand ~ to home directory
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return dir, nil
}

func validateEvent(evt *event.Event) error {
	if evt == nil || strings.TrimSpace(evt.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if evt.Status != "" && !evt.Status.Valid() {
		return fmt.Errorf("invalid status: %q", evt.Status)
	}
	return nil
}

func validateObservation(obs *observation.Observation) error {
	if obs == nil || obs.ID == "" || obs.EventID == "" {
		return fmt.Errorf("observation id and event id are required")
	}
	if obs.ObservedAt.IsZero() {
		return fmt.Errorf("observed_at is required")
	}
	return nil
}

func copyEvent(evt *event.Event) *event.Event {
	c := *evt
	if evt.LastCheckedAt != nil {
		t := *evt.LastCheckedAt
		c.LastCheckedAt = &t
	}
	if c.Status == "" {
		c.Status = event.StatusUnknown
	}
	return &c
}

func copyObservation(obs *observation.Observation) *observation.Observation {
	c := *obs
	if obs.Confidence != nil {
		v := *obs.Confidence
		c.Confidence = &v
	}
	return &c
}

// sortObservations orders by observed_at ascending, then ID
func sortObservations(obs []*observation.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if !obs[i].ObservedAt.Equal(obs[j].ObservedAt) {
			return obs[i].ObservedAt.Before(obs[j].ObservedAt)
		}
		return obs[i].ID < obs[j].ID
	})
}

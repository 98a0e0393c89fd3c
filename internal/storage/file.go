package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/observation"
)

// Snapshot is the JSON document kept by FileStore
type Snapshot struct {
	Events       map[string]*event.Event    `json:"events"`
	Observations []*observation.Observation `json:"observations"`
	Changes      []*event.StatusChange      `json:"changes,omitempty"`
	UpdatedAt    string                     `json:"updated_at"`
}

// NewSnapshot creates an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Events: make(map[string]*event.Event),
	}
}

// FileStore keeps the registry and observations in a single JSON file.
// The document is loaded once and rewritten after every mutation, so each append costs
// time proportional to the whole log. It suits small registries; use SQLiteStore for
// long-running deployments.
type FileStore struct {
	path string

	mu   sync.RWMutex
	snap *Snapshot
}

// NewFileStore opens (or creates) registry.json under dir
func NewFileStore(dir string) (*FileStore, error) {
	dir, err := dataDir(dir)
	if err != nil {
		return nil, err
	}

	s := &FileStore{path: filepath.Join(dir, "registry.json")}
	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	s.snap = snap
	return s, nil
}

// Path returns the location of the JSON document
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			// No previous snapshot, start empty
			return NewSnapshot(), nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}

	// Ensure Events map is initialized
	if snap.Events == nil {
		snap.Events = make(map[string]*event.Event)
	}
	return &snap, nil
}

// save writes the snapshot to a temp file and renames it into place. Caller holds mu.
func (s *FileStore) save() error {
	s.snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// UpsertEvent registers evt or updates its identity fields
func (s *FileStore) UpsertEvent(ctx context.Context, evt *event.Event) error {
	if err := validateEvent(evt); err != nil {
		return &PersistenceError{Op: "upsert event", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.snap.Events[evt.ID]
	if exists {
		updated := copyEvent(prev)
		updated.Series = evt.Series
		updated.Year = evt.Year
		updated.RegURL = evt.RegURL
		s.snap.Events[evt.ID] = updated
	} else {
		s.snap.Events[evt.ID] = copyEvent(evt)
	}

	if err := s.save(); err != nil {
		// Roll back the in-memory change so memory and disk agree
		if exists {
			s.snap.Events[evt.ID] = prev
		} else {
			delete(s.snap.Events, evt.ID)
		}
		return &PersistenceError{Op: "upsert event", EventID: evt.ID, Err: err}
	}
	return nil
}

// GetEvent returns a copy of the registry record for id
func (s *FileStore) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.snap.Events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyEvent(evt), nil
}

// ListEvents returns copies of every registry record ordered by ID
func (s *FileStore) ListEvents(ctx context.Context) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*event.Event, 0, len(s.snap.Events))
	for _, evt := range s.snap.Events {
		events = append(events, copyEvent(evt))
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].ID < events[j].ID
	})
	return events, nil
}

// SaveResolution writes the status fields of evt
func (s *FileStore) SaveResolution(ctx context.Context, evt *event.Event) error {
	if err := validateEvent(evt); err != nil {
		return &PersistenceError{Op: "save resolution", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.snap.Events[evt.ID]
	if !ok {
		return &PersistenceError{Op: "save resolution", EventID: evt.ID, Err: ErrNotFound}
	}

	updated := copyEvent(prev)
	updated.Status = evt.Status
	updated.Confidence = evt.Confidence
	updated.StatusSource = evt.StatusSource
	updated.Unconfirmed = evt.Unconfirmed
	updated.LastCheckedAt = nil
	if evt.LastCheckedAt != nil {
		t := evt.LastCheckedAt.UTC()
		updated.LastCheckedAt = &t
	}
	s.snap.Events[evt.ID] = updated

	if err := s.save(); err != nil {
		s.snap.Events[evt.ID] = prev
		return &PersistenceError{Op: "save resolution", EventID: evt.ID, Err: err}
	}
	return nil
}

// AppendObservation appends obs to the observation log
func (s *FileStore) AppendObservation(ctx context.Context, obs *observation.Observation) error {
	if err := validateObservation(obs); err != nil {
		return &PersistenceError{Op: "append observation", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.snap.Observations {
		if existing.ID == obs.ID {
			return &PersistenceError{Op: "append observation", EventID: obs.EventID, Err: fmt.Errorf("duplicate observation id %s", obs.ID)}
		}
	}

	n := len(s.snap.Observations)
	s.snap.Observations = append(s.snap.Observations, copyObservation(obs))

	if err := s.save(); err != nil {
		s.snap.Observations = s.snap.Observations[:n]
		return &PersistenceError{Op: "append observation", EventID: obs.EventID, Err: err}
	}
	return nil
}

// ObservationsFor returns copies of the observations for eventID, oldest first
func (s *FileStore) ObservationsFor(ctx context.Context, eventID string) ([]*observation.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var obs []*observation.Observation
	for _, o := range s.snap.Observations {
		if o.EventID == eventID {
			obs = append(obs, copyObservation(o))
		}
	}
	sortObservations(obs)
	return obs, nil
}

// ObservedEventIDs returns the sorted IDs of events with observations
func (s *FileStore) ObservedEventIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, o := range s.snap.Observations {
		if !seen[o.EventID] {
			seen[o.EventID] = true
			ids = append(ids, o.EventID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListObservations returns copies of every observation, oldest first
func (s *FileStore) ListObservations(ctx context.Context) ([]*observation.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs := make([]*observation.Observation, 0, len(s.snap.Observations))
	for _, o := range s.snap.Observations {
		obs = append(obs, copyObservation(o))
	}
	sortObservations(obs)
	return obs, nil
}

// RecordChanges appends to the change log, keeping the most recent MaxChangeLog entries
func (s *FileStore) RecordChanges(ctx context.Context, changes []*event.StatusChange) error {
	if len(changes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snap.Changes
	s.snap.Changes = event.AppendChangeLog(append([]*event.StatusChange(nil), prev...), changes, MaxChangeLog)

	if err := s.save(); err != nil {
		s.snap.Changes = prev
		return &PersistenceError{Op: "record changes", Err: err}
	}
	return nil
}

// Changes returns up to limit of the most recent status changes, oldest first
func (s *FileStore) Changes(ctx context.Context, limit int) ([]*event.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	changes := s.snap.Changes
	if limit > 0 && len(changes) > limit {
		changes = changes[len(changes)-limit:]
	}

	out := make([]*event.StatusChange, len(changes))
	for i, c := range changes {
		cc := *c
		out[i] = &cc
	}
	return out, nil
}

// Close is a no-op; every mutation is already on disk
func (s *FileStore) Close() error {
	return nil
}

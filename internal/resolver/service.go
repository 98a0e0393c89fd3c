package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/logger"
	"github.com/pfrederiksen/raceradar/internal/metrics"
	"github.com/pfrederiksen/raceradar/internal/storage"
)

// Service resolves events held in a Store
type Service struct {
	store   storage.Store
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
	locks   *storage.EventLocks
	now     func() time.Time
}

// Option customizes a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLocks shares a per-event lock table with other writers
func WithLocks(l *storage.EventLocks) Option {
	return func(s *Service) { s.locks = l }
}

// WithClock overrides the check-time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a resolver over store
func NewService(store storage.Store, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resolver config: %w", err)
	}
	s := &Service{
		store: store,
		cfg:   cfg,
		log:   logger.Default().With("resolver"),
		locks: storage.NewEventLocks(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Result is the outcome of resolving one event
type Result struct {
	Decision Decision
	Event    *event.Event        // registry record after the pass
	Change   *event.StatusChange // non-nil when the status changed
}

// ResolveEvent resolves one event and writes the result to the registry.
// An event without observations is left untouched.
func (s *Service) ResolveEvent(ctx context.Context, eventID string) (*Result, error) {
	unlock := s.locks.Lock(eventID)
	defer unlock()

	history, err := s.store.ObservationsFor(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("loading observations for %s: %w", eventID, err)
	}

	previous, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) && len(history) == 0 {
			s.metrics.IncResolution(string(OutcomeSkipped))
			return &Result{Decision: Resolve(eventID, nil, nil, s.now(), s.cfg)}, nil
		}
		return nil, fmt.Errorf("loading event %s: %w", eventID, err)
	}

	now := s.now()
	decision := Resolve(eventID, history, previous, now, s.cfg)
	result := &Result{Decision: decision, Event: decision.Apply(previous)}

	if decision.Outcome == OutcomeSkipped {
		s.log.Debug("no observations, registry untouched", logger.Fields{"event_id": eventID})
		s.metrics.IncResolution(string(decision.Outcome))
		return result, nil
	}

	if decision.Outcome == OutcomeUnconfirmed {
		s.log.Warn("status unconfirmed", logger.Fields{
			"event_id":          eventID,
			"latest_status":     string(statusOf(decision.Latest)),
			"retained_status":   string(decision.Status),
			"distinct_statuses": decision.DistinctStatuses,
			"window_size":       decision.WindowSize,
		})
	}

	if err := s.store.SaveResolution(ctx, result.Event); err != nil {
		return nil, err
	}
	s.metrics.IncResolution(string(decision.Outcome))

	if change := event.DetectChange(previous, result.Event, now); change != nil {
		result.Change = change
		s.log.Info("status changed", logger.Fields{
			"event_id":   eventID,
			"old_status": string(change.OldStatus),
			"new_status": string(change.NewStatus),
			"confidence": change.NewConfidence,
		})
		if err := s.store.RecordChanges(ctx, []*event.StatusChange{change}); err != nil {
			// The registry write already succeeded; the change log is best effort
			s.log.Error("recording status change failed", logger.Fields{"event_id": eventID}, err)
		}
	}

	return result, nil
}

// Summary counts the outcomes of a batch resolution
type Summary struct {
	Resolved    int                   `json:"resolved"`
	Adopted     int                   `json:"adopted"`
	Unchanged   int                   `json:"unchanged"`
	Unconfirmed int                   `json:"unconfirmed"`
	Skipped     int                   `json:"skipped"`
	Failed      int                   `json:"failed"`
	Changes     []*event.StatusChange `json:"changes,omitempty"`
}

// ResolveAll resolves every event with at least one observation.
// A failure on one event is logged and counted; the batch continues.
func (s *Service) ResolveAll(ctx context.Context) (*Summary, error) {
	ids, err := s.store.ObservedEventIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing observed events: %w", err)
	}
	return s.ResolveEvents(ctx, ids)
}

// ResolveEvents resolves the given events in order
func (s *Service) ResolveEvents(ctx context.Context, ids []string) (*Summary, error) {
	summary := &Summary{}
	s.log.Info("resolve started", logger.Fields{"events": len(ids)})

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		res, err := s.ResolveEvent(ctx, id)
		if err != nil {
			summary.Failed++
			s.log.Error("resolution failed", logger.Fields{"event_id": id}, err)
			continue
		}

		switch res.Decision.Outcome {
		case OutcomeAdopted:
			summary.Adopted++
		case OutcomeUnchanged:
			summary.Unchanged++
		case OutcomeUnconfirmed:
			summary.Unconfirmed++
		case OutcomeSkipped:
			summary.Skipped++
			continue
		}
		summary.Resolved++
		if res.Change != nil {
			summary.Changes = append(summary.Changes, res.Change)
		}
	}

	s.log.Info("resolve finished", logger.Fields{
		"resolved":    summary.Resolved,
		"adopted":     summary.Adopted,
		"unconfirmed": summary.Unconfirmed,
		"skipped":     summary.Skipped,
		"failed":      summary.Failed,
	})
	return summary, nil
}

package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pfrederiksen/raceradar/internal/classifier"
	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/logger"
	"github.com/pfrederiksen/raceradar/internal/metrics"
	"github.com/pfrederiksen/raceradar/internal/observation"
	"github.com/pfrederiksen/raceradar/internal/scraper"
	"github.com/pfrederiksen/raceradar/internal/storage"
)

// Limits for Config.Workers
const (
	MinWorkers = 1
	MaxWorkers = 16
)

const progressEvery = 10

// Classifier maps page text to a status
type Classifier interface {
	Classify(text string) classifier.Result
}

// Config controls pacing and observation construction
type Config struct {
	Workers             int
	RequestDelay        time.Duration // minimum spacing between request starts
	Source              string
	ExcerptMaxLength    int
	LogIndividualChecks bool
}

// DefaultConfig returns a single sequential worker with one second between requests
func DefaultConfig() Config {
	return Config{
		Workers:          MinWorkers,
		RequestDelay:     time.Second,
		Source:           event.DefaultSource,
		ExcerptMaxLength: observation.DefaultExcerptMaxLength,
	}
}

// Validate checks the pool size and delay
func (c Config) Validate() error {
	if c.Workers < MinWorkers || c.Workers > MaxWorkers {
		return fmt.Errorf("workers must be between %d and %d, got %d", MinWorkers, MaxWorkers, c.Workers)
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("request delay must not be negative, got %v", c.RequestDelay)
	}
	if c.ExcerptMaxLength < 1 {
		return fmt.Errorf("excerpt max length must be at least 1, got %d", c.ExcerptMaxLength)
	}
	return nil
}

// Runner executes check cycles
type Runner struct {
	fetcher    scraper.Fetcher
	classifier Classifier
	store      storage.Store
	cfg        Config

	log     *logger.Logger
	metrics *metrics.Metrics
	locks   *storage.EventLocks
	limiter *rate.Limiter
	now     func() time.Time
}

// Option customizes a Runner
type Option func(*Runner)

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLocks shares a per-event lock table with other writers
func WithLocks(l *storage.EventLocks) Option {
	return func(r *Runner) { r.locks = l }
}

// WithClock overrides the observation timestamp source
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner
func New(fetcher scraper.Fetcher, cls Classifier, store storage.Store, cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runner config: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestDelay > 0 {
		limit = rate.Every(cfg.RequestDelay)
	}

	r := &Runner{
		fetcher:    fetcher,
		classifier: cls,
		store:      store,
		cfg:        cfg,
		log:        logger.Default().With("runner"),
		locks:      storage.NewEventLocks(),
		limiter:    rate.NewLimiter(limit, 1),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Failure describes one event whose check failed
type Failure struct {
	EventID string `json:"event_id"`
	URL     string `json:"url"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// Summary reports the counts of one check cycle
type Summary struct {
	Selected  int                  `json:"selected"`
	Checked   int                  `json:"checked"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Skipped   int                  `json:"skipped"`
	Statuses  map[event.Status]int `json:"statuses"`
	Failures  []Failure            `json:"failures,omitempty"`
	Duration  time.Duration        `json:"duration_ns"`
}

// CheckEligible loads the registry and checks every event the policy selects
func (r *Runner) CheckEligible(ctx context.Context, policy event.RecheckPolicy) (*Summary, error) {
	events, err := r.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	targets := event.SelectTargets(events, policy)
	summary, err := r.Run(ctx, targets)
	if summary != nil {
		summary.Skipped = len(events) - len(targets)
	}
	return summary, err
}

// Run checks every target. Individual failures are counted and do not stop the batch.
// The returned error is non-nil only when ctx was cancelled before all targets ran.
func (r *Runner) Run(ctx context.Context, targets []event.Target) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		Selected: len(targets),
		Statuses: make(map[event.Status]int),
	}

	r.log.Info("check started", logger.Fields{
		"targets": len(targets),
		"workers": r.cfg.Workers,
		"delay":   r.cfg.RequestDelay.String(),
	})

	var (
		mu   sync.Mutex
		done atomic.Int64
		g    errgroup.Group
	)
	g.SetLimit(r.cfg.Workers)

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			obs, err := r.Check(ctx, target)

			mu.Lock()
			summary.Checked++
			if err != nil {
				summary.Failed++
				summary.Failures = append(summary.Failures, failureFor(target, err))
			} else {
				summary.Succeeded++
				summary.Statuses[obs.ParsedStatus]++
			}
			mu.Unlock()

			if n := done.Add(1); n%progressEvery == 0 {
				r.log.Info("check progress", logger.Fields{
					"checked": n,
					"total":   len(targets),
				})
			}
			return nil // never fail the group, errors are counted per event
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	r.metrics.MarkRun(r.now())

	r.log.Info("check finished", logger.Fields{
		"selected":  summary.Selected,
		"checked":   summary.Checked,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"duration":  summary.Duration.String(),
	})

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("check interrupted: %w", err)
	}
	return summary, nil
}

// Check fetches, classifies and records one target.
// Checks for the same event never overlap.
func (r *Runner) Check(ctx context.Context, target event.Target) (*observation.Observation, error) {
	unlock := r.locks.Lock(target.EventID)
	defer unlock()

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	fetchStart := time.Now()
	text, err := r.fetcher.Fetch(ctx, target.URL)
	r.metrics.ObserveFetch(fetchResult(err), time.Since(fetchStart))
	if err != nil {
		r.log.Warn("fetch failed", logger.Fields{
			"event_id": target.EventID,
			"event":    target.Label,
			"url":      target.URL,
			"kind":     fetchResult(err),
			"error":    err.Error(),
		})
		return nil, err
	}
	observedAt := r.now()

	result := r.classifier.Classify(text)

	obs, err := observation.New(observation.Params{
		EventID:          target.EventID,
		Source:           r.cfg.Source,
		URL:              target.URL,
		Text:             text,
		Status:           result.Status,
		Confidence:       result.Confidence,
		ObservedAt:       observedAt,
		ExcerptMaxLength: r.cfg.ExcerptMaxLength,
	})
	if err != nil {
		return nil, fmt.Errorf("building observation for %s: %w", target.EventID, err)
	}

	if err := r.store.AppendObservation(ctx, obs); err != nil {
		r.log.Error("append observation failed", logger.Fields{
			"event_id": target.EventID,
		}, err)
		return nil, err
	}
	r.metrics.IncObservation(string(obs.ParsedStatus))

	level := logger.LevelDebug
	if r.cfg.LogIndividualChecks {
		level = logger.LevelInfo
	}
	r.log.Log(level, "event checked", logger.Fields{
		"event_id":   target.EventID,
		"event":      target.Label,
		"status":     string(result.Status),
		"confidence": result.Confidence,
		"matched":    result.Matched,
	}, nil)

	return obs, nil
}

// fetchResult labels a fetch outcome for metrics and logs
func fetchResult(err error) string {
	if err == nil {
		return metrics.FetchOK
	}
	if kind, ok := scraper.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}

func failureFor(target event.Target, err error) Failure {
	kind := fetchResult(err)
	var pe *storage.PersistenceError
	if errors.As(err, &pe) {
		kind = "persistence"
	}
	return Failure{
		EventID: target.EventID,
		URL:     target.URL,
		Kind:    kind,
		Error:   err.Error(),
	}
}

package resolver

import (
	"fmt"
	"time"

	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/observation"
)

// Confirmation selects how a noisy window's newest status gets confirmed
type Confirmation string

const (
	// ConfirmConsecutive requires the two newest observations in the window to agree
	ConfirmConsecutive Confirmation = "consecutive"
	// ConfirmCountOrConfidence accepts a status seen at least twice in the window,
	// or a newest observation above the minimum confidence
	ConfirmCountOrConfidence Confirmation = "count_or_confidence"
)

// Defaults for Config
const (
	DefaultMinConfidence     = 0.6
	DefaultAntiFlapWindow    = 24 * time.Hour
	DefaultMaxStatusChanges  = 2
	DefaultDefaultConfidence = 0.5
)

// Config holds the resolver thresholds
type Config struct {
	// MinConfidence only matters with ConfirmCountOrConfidence; the default
	// ConfirmConsecutive rule ignores it.
	MinConfidence     float64
	AntiFlapWindow    time.Duration
	MaxStatusChanges  int
	DefaultConfidence float64 // used for observations without a confidence
	Confirmation      Confirmation
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		MinConfidence:     DefaultMinConfidence,
		AntiFlapWindow:    DefaultAntiFlapWindow,
		MaxStatusChanges:  DefaultMaxStatusChanges,
		DefaultConfidence: DefaultDefaultConfidence,
		Confirmation:      ConfirmConsecutive,
	}
}

// Validate checks the thresholds
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence %v outside [0,1]", c.MinConfidence)
	}
	if c.DefaultConfidence < 0 || c.DefaultConfidence > 1 {
		return fmt.Errorf("default confidence %v outside [0,1]", c.DefaultConfidence)
	}
	if c.AntiFlapWindow <= 0 {
		return fmt.Errorf("anti-flap window must be positive, got %v", c.AntiFlapWindow)
	}
	if c.MaxStatusChanges < 1 {
		return fmt.Errorf("max status changes must be at least 1, got %d", c.MaxStatusChanges)
	}
	switch c.Confirmation {
	case ConfirmConsecutive, ConfirmCountOrConfidence:
	default:
		return fmt.Errorf("unknown confirmation mode: %q", c.Confirmation)
	}
	return nil
}

// Outcome describes what a resolution did to the registry record
type Outcome string

const (
	OutcomeAdopted     Outcome = "adopted"     // newest status written, differs from before
	OutcomeUnchanged   Outcome = "unchanged"   // newest status written, same as before
	OutcomeUnconfirmed Outcome = "unconfirmed" // noisy window, previous status kept
	OutcomeSkipped     Outcome = "skipped"     // no observations, registry untouched
)

// Decision is the result of resolving one event
type Decision struct {
	EventID    string
	Status     event.Status
	Confidence float64
	Source     string
	CheckedAt  time.Time
	Outcome    Outcome

	Latest           *observation.Observation // newest observation, nil when skipped
	Noisy            bool
	DistinctStatuses int // distinct parsed statuses inside the window
	WindowSize       int // observations inside the window
}

// Apply returns the registry record after this decision. previous is not modified.
func (d Decision) Apply(previous *event.Event) *event.Event {
	var next event.Event
	if previous != nil {
		next = *previous
	} else {
		next = event.Event{ID: d.EventID, Status: event.StatusUnknown}
	}
	if d.Outcome == OutcomeSkipped {
		return &next
	}

	checked := d.CheckedAt
	next.Status = d.Status
	next.Confidence = d.Confidence
	next.StatusSource = d.Source
	next.LastCheckedAt = &checked
	next.Unconfirmed = d.Outcome == OutcomeUnconfirmed
	return &next
}

// Resolve computes the authoritative status for one event.
// history may be in any order; it is sorted by observed_at, then confidence, then ID.
// The anti-flap window ends at the newest observation, so the result depends only
// on the history, the previous record and now.
func Resolve(eventID string, history []*observation.Observation, previous *event.Event, now time.Time, cfg Config) Decision {
	d := Decision{EventID: eventID, CheckedAt: now.UTC(), Outcome: OutcomeSkipped}

	var own []*observation.Observation
	for _, o := range history {
		if o != nil && o.EventID == eventID {
			own = append(own, o)
		}
	}
	if len(own) == 0 {
		if previous != nil {
			d.Status = previous.Status
			d.Confidence = previous.Confidence
			d.Source = previous.StatusSource
		} else {
			d.Status = event.StatusUnknown
		}
		return d
	}

	sorted := observation.SortNewestFirst(own, cfg.DefaultConfidence)
	latest := sorted[0]
	d.Latest = latest

	cutoff := latest.ObservedAt.Add(-cfg.AntiFlapWindow)
	var window []*observation.Observation
	distinct := make(map[event.Status]bool)
	for _, o := range sorted {
		if o.ObservedAt.Before(cutoff) {
			break
		}
		window = append(window, o)
		distinct[statusOf(o)] = true
	}
	d.WindowSize = len(window)
	d.DistinctStatuses = len(distinct)
	d.Noisy = len(distinct) > cfg.MaxStatusChanges

	if d.Noisy && !confirmed(window, cfg) {
		d.Outcome = OutcomeUnconfirmed
		if previous != nil {
			d.Status = previous.Status
			d.Confidence = previous.Confidence
			d.Source = previous.StatusSource
		}
		if !d.Status.Valid() {
			d.Status = event.StatusUnknown
		}
		return d
	}

	d.Status = statusOf(latest)
	d.Confidence = latest.ConfidenceOr(cfg.DefaultConfidence)
	d.Source = latest.Source
	if d.Source == "" {
		d.Source = event.DefaultSource
	}

	d.Outcome = OutcomeAdopted
	if previous != nil && previous.Status == d.Status && previous.Checked() {
		d.Outcome = OutcomeUnchanged
	}
	return d
}

// confirmed reports whether the newest status in a noisy window may be promoted.
// window is sorted newest first and is never empty.
func confirmed(window []*observation.Observation, cfg Config) bool {
	latest := window[0]
	status := statusOf(latest)

	switch cfg.Confirmation {
	case ConfirmCountOrConfidence:
		if latest.ConfidenceOr(cfg.DefaultConfidence) > cfg.MinConfidence {
			return true
		}
		count := 0
		for _, o := range window {
			if statusOf(o) == status {
				count++
			}
		}
		return count >= 2
	default:
		return len(window) >= 2 && statusOf(window[1]) == status
	}
}

// statusOf maps a missing or invalid parsed status to unknown
func statusOf(o *observation.Observation) event.Status {
	if o.ParsedStatus.Valid() {
		return o.ParsedStatus
	}
	return event.StatusUnknown
}

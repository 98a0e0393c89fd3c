package event

import (
	"strconv"
	"strings"
	"time"
)

// DefaultSource is the status source label for observations taken from official event sites
const DefaultSource = "official_site"

// Event is the Event Registry record for one race event.
// Status fields are owned by the resolver; the runner only reads them.
type Event struct {
	ID            string     `json:"event_id"`
	Series        string     `json:"series_id,omitempty"`
	Year          int        `json:"year,omitempty"`
	RegURL        string     `json:"reg_url,omitempty"`
	Status        Status     `json:"general_access_status"`
	Confidence    float64    `json:"status_confidence"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	StatusSource  string     `json:"status_source,omitempty"`
	Unconfirmed   bool       `json:"unconfirmed,omitempty"` // last resolution retained a previous status
}

// NewEvent creates a registry record in the seeded default state (unknown, never checked)
func NewEvent(id, series string, year int, regURL string) *Event {
	return &Event{
		ID:     id,
		Series: series,
		Year:   year,
		RegURL: strings.TrimSpace(regURL),
		Status: StatusUnknown,
	}
}

// Target is one (event, candidate URL) pair handed to the fetcher
type Target struct {
	EventID string `json:"event_id"`
	URL     string `json:"url"`
	Label   string `json:"label,omitempty"` // series/year, for log lines
}

// Target returns the fetch target for this event
func (e *Event) Target() Target {
	label := e.Series
	if e.Year != 0 {
		if label != "" {
			label += "/"
		}
		label += strconv.Itoa(e.Year)
	}
	return Target{EventID: e.ID, URL: e.RegURL, Label: label}
}

// Checked reports whether the event has been resolved at least once
func (e *Event) Checked() bool {
	return e.LastCheckedAt != nil && !e.LastCheckedAt.IsZero()
}

// HasValidURL reports whether the registration URL looks fetchable
func (e *Event) HasValidURL() bool {
	return strings.HasPrefix(strings.ToLower(e.RegURL), "http")
}

// RecheckPolicy decides which events the runner re-checks
type RecheckPolicy struct {
	Statuses []Status
}

// DefaultRecheckPolicy re-checks everything that is not confirmed closed
func DefaultRecheckPolicy() RecheckPolicy {
	return RecheckPolicy{Statuses: []Status{StatusUnknown, StatusNotYetOpen, StatusOpen}}
}

// Eligible reports whether evt should be fetched in this cycle
func (p RecheckPolicy) Eligible(evt *Event) bool {
	if evt == nil || strings.TrimSpace(evt.RegURL) == "" {
		return false
	}
	status := evt.Status
	if !status.Valid() {
		status = StatusUnknown
	}
	for _, s := range p.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// SelectTargets returns fetch targets for eligible events, one per event ID,
// in the order the events were given.
func SelectTargets(events []*Event, policy RecheckPolicy) []Target {
	seen := make(map[string]bool)
	targets := make([]Target, 0, len(events))
	for _, evt := range events {
		if !policy.Eligible(evt) || seen[evt.ID] {
			continue
		}
		seen[evt.ID] = true
		targets = append(targets, evt.Target())
	}
	return targets
}

package observation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pfrederiksen/raceradar/internal/event"
)

// DefaultExcerptMaxLength caps stored raw excerpts, in characters
const DefaultExcerptMaxLength = 500

// Observation is one timestamped classification of an event page
type Observation struct {
	ID           string       `json:"id"`
	EventID      string       `json:"event_id"`
	Source       string       `json:"source"`
	RawExcerpt   string       `json:"raw_excerpt"`
	ParsedStatus event.Status `json:"parsed_status"`
	Confidence   *float64     `json:"confidence,omitempty"` // nil when the stored row carried none
	URL          string       `json:"url"`
	ObservedAt   time.Time    `json:"observed_at"`
}

// Params holds the inputs for a new observation
type Params struct {
	EventID          string
	Source           string
	URL              string
	Text             string
	Status           event.Status
	Confidence       float64
	ObservedAt       time.Time
	ExcerptMaxLength int
}

// New builds an observation from classifier output, truncating the page text to the
// excerpt limit. An unset (zero) limit means DefaultExcerptMaxLength; callers that take
// the limit from configuration validate it first. The ID is a random UUID.
func New(p Params) (*Observation, error) {
	if strings.TrimSpace(p.EventID) == "" {
		return nil, fmt.Errorf("event id is required")
	}
	if !p.Status.Valid() {
		return nil, fmt.Errorf("invalid status: %q", p.Status)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]", p.Confidence)
	}
	if p.ObservedAt.IsZero() {
		return nil, fmt.Errorf("observed_at is required")
	}
	if p.ExcerptMaxLength < 0 {
		return nil, fmt.Errorf("excerpt max length %d is negative", p.ExcerptMaxLength)
	}

	source := p.Source
	if source == "" {
		source = event.DefaultSource
	}
	max := p.ExcerptMaxLength
	if max == 0 {
		max = DefaultExcerptMaxLength
	}

	conf := p.Confidence
	return &Observation{
		ID:           uuid.NewString(),
		EventID:      p.EventID,
		Source:       source,
		RawExcerpt:   Excerpt(p.Text, max),
		ParsedStatus: p.Status,
		Confidence:   &conf,
		URL:          p.URL,
		ObservedAt:   p.ObservedAt.UTC(),
	}, nil
}

// Excerpt returns at most max characters of text. Multi-byte characters are never split.
func Excerpt(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i]
		}
		n++
	}
	return text
}

// ConfidenceOr returns the observation's confidence, or def when none was recorded
func (o *Observation) ConfidenceOr(def float64) float64 {
	if o.Confidence == nil {
		return def
	}
	return *o.Confidence
}

// Float returns a pointer to v, for building observations with an explicit confidence
func Float(v float64) *float64 {
	return &v
}

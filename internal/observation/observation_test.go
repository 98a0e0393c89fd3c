package observation

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pfrederiksen/raceradar/internal/event"
)

func TestNew(t *testing.T) {
	observedAt := time.Date(2026, 2, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	obs, err := New(Params{
		EventID:    "berlin-2026",
		URL:        "https://example.com/reg",
		Text:       "Entries closed for 2026",
		Status:     event.StatusSoldOut,
		Confidence: 0.95,
		ObservedAt: observedAt,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if obs.ID == "" {
		t.Error("observation ID is empty")
	}
	if obs.Source != event.DefaultSource {
		t.Errorf("Source = %q, want %q", obs.Source, event.DefaultSource)
	}
	if obs.ConfidenceOr(0) != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", obs.ConfidenceOr(0))
	}
	if obs.ObservedAt.Location() != time.UTC {
		t.Errorf("ObservedAt not normalized to UTC: %v", obs.ObservedAt)
	}
	if !obs.ObservedAt.Equal(observedAt) {
		t.Errorf("ObservedAt = %v, want %v", obs.ObservedAt, observedAt)
	}
}

func TestNew_Validation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		params Params
	}{
		{"missing event id", Params{Status: event.StatusOpen, Confidence: 0.8, ObservedAt: now}},
		{"invalid status", Params{EventID: "a", Status: "closed", Confidence: 0.8, ObservedAt: now}},
		{"confidence above one", Params{EventID: "a", Status: event.StatusOpen, Confidence: 1.2, ObservedAt: now}},
		{"negative confidence", Params{EventID: "a", Status: event.StatusOpen, Confidence: -0.1, ObservedAt: now}},
		{"zero time", Params{EventID: "a", Status: event.StatusOpen, Confidence: 0.8}},
		{"negative excerpt length", Params{EventID: "a", Status: event.StatusOpen, Confidence: 0.8, ObservedAt: now, ExcerptMaxLength: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.params); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestNew_ExcerptBounded(t *testing.T) {
	long := strings.Repeat("Anmeldung geöffnet ", 200)

	for _, max := range []int{0, 1, 10, 300, 500} {
		obs, err := New(Params{
			EventID:          "a",
			Text:             long,
			Status:           event.StatusOpen,
			Confidence:       0.8,
			ObservedAt:       time.Now(),
			ExcerptMaxLength: max,
		})
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		limit := max
		if limit == 0 {
			limit = DefaultExcerptMaxLength
		}
		if n := utf8.RuneCountInString(obs.RawExcerpt); n > limit {
			t.Errorf("max=%d: excerpt has %d characters", max, n)
		}
		if !utf8.ValidString(obs.RawExcerpt) {
			t.Errorf("max=%d: excerpt is not valid UTF-8", max)
		}
	}
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		text string
		max  int
		want string
	}{
		{"", 10, ""},
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"truncate me please", 8, "truncate"},
		{"ausgebucht über", 12, "ausgebucht ü"},
		{"anything", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := Excerpt(tt.text, tt.max); got != tt.want {
				t.Errorf("Excerpt(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
		})
	}
}

func TestConfidenceOr(t *testing.T) {
	obs := &Observation{}
	if got := obs.ConfidenceOr(0.5); got != 0.5 {
		t.Errorf("ConfidenceOr() on missing confidence = %v, want 0.5", got)
	}
	obs.Confidence = Float(0.7)
	if got := obs.ConfidenceOr(0.5); got != 0.7 {
		t.Errorf("ConfidenceOr() = %v, want 0.7", got)
	}
}

package resolver

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/observation"
)

var (
	t0  = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
)

// history builds observations one hour apart, oldest first
func history(eventID string, statuses ...event.Status) []*observation.Observation {
	obs := make([]*observation.Observation, len(statuses))
	for i, s := range statuses {
		obs[i] = &observation.Observation{
			ID:           fmt.Sprintf("%s-%d", eventID, i),
			EventID:      eventID,
			Source:       event.DefaultSource,
			ParsedStatus: s,
			Confidence:   observation.Float(0.8),
			URL:          "https://example.com/" + eventID,
			ObservedAt:   t0.Add(time.Duration(i) * time.Hour),
		}
	}
	return obs
}

func previousEvent(status event.Status, confidence float64) *event.Event {
	checked := t0.Add(-48 * time.Hour)
	evt := event.NewEvent("berlin", "berlin", 2026, "https://example.com/berlin")
	evt.Status = status
	evt.Confidence = confidence
	evt.StatusSource = event.DefaultSource
	evt.LastCheckedAt = &checked
	return evt
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name           string
		history        []*observation.Observation
		previous       *event.Event
		cfg            Config
		wantStatus     event.Status
		wantConfidence float64
		wantOutcome    Outcome
		wantNoisy      bool
	}{
		{
			name:           "consistent history adopted immediately",
			history:        history("berlin", event.StatusOpen, event.StatusOpen),
			previous:       event.NewEvent("berlin", "", 0, ""),
			cfg:            DefaultConfig(),
			wantStatus:     event.StatusOpen,
			wantConfidence: 0.8,
			wantOutcome:    OutcomeAdopted,
		},
		{
			name:           "single observation adopted",
			history:        history("berlin", event.StatusSoldOut),
			previous:       previousEvent(event.StatusOpen, 0.8),
			cfg:            DefaultConfig(),
			wantStatus:     event.StatusSoldOut,
			wantConfidence: 0.8,
			wantOutcome:    OutcomeAdopted,
		},
		{
			name:           "two statuses in window is not noisy",
			history:        history("berlin", event.StatusOpen, event.StatusSoldOut),
			previous:       previousEvent(event.StatusOpen, 0.8),
			cfg:            DefaultConfig(),
			wantStatus:     event.StatusSoldOut,
			wantConfidence: 0.8,
			wantOutcome:    OutcomeAdopted,
		},
		{
			name:           "flapping history keeps previous status",
			history:        history("berlin", event.StatusOpen, event.StatusSoldOut, event.StatusOpen, event.StatusWaitlist),
			previous:       previousEvent(event.StatusOpen, 0.8),
			cfg:            DefaultConfig(),
			wantStatus:     event.StatusOpen,
			wantConfidence: 0.8,
			wantOutcome:    OutcomeUnconfirmed,
			wantNoisy:      true,
		},
		{
			name:           "flapping history with no prior resolution stays unknown",
			history:        history("berlin", event.StatusOpen, event.StatusSoldOut, event.StatusOpen, event.StatusWaitlist),
			previous:       event.NewEvent("berlin", "", 0, ""),
			cfg:            DefaultConfig(),
			wantStatus:     event.StatusUnknown,
			wantConfidence: 0,
			wantOutcome:    OutcomeUnconfirmed,
			wantNoisy:      true,
		},
		{
			name:           "noisy window confirmed by two consecutive readings",
			history:        history("berlin", event.StatusOpen, event.StatusSoldOut, event.StatusWaitlist, event.StatusWaitlist),
			previous:       previousEvent(event.StatusOpen, 0.8),
			cfg:            DefaultConfig(),
			wantStatus:     event.StatusWaitlist,
			wantConfidence: 0.8,
			wantOutcome:    OutcomeAdopted,
			wantNoisy:      true,
		},
		{
			name:     "count_or_confidence accepts a confident latest reading",
			history:  history("berlin", event.StatusOpen, event.StatusSoldOut, event.StatusOpen, event.StatusWaitlist),
			previous: previousEvent(event.StatusOpen, 0.8),
			cfg: func() Config {
				c := DefaultConfig()
				c.Confirmation = ConfirmCountOrConfidence
				return c
			}(),
			wantStatus:     event.StatusWaitlist,
			wantConfidence: 0.8,
			wantOutcome:    OutcomeAdopted,
			wantNoisy:      true,
		},
		{
			name:           "observations outside the window do not count",
			history:        spread(event.StatusSoldOut, event.StatusWaitlist, event.StatusOpen),
			previous:       previousEvent(event.StatusOpen, 0.8),
			cfg:            DefaultConfig(),
			wantStatus:     event.StatusOpen,
			wantConfidence: 0.8,
			wantOutcome:    OutcomeUnchanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve("berlin", tt.history, tt.previous, now, tt.cfg)

			if got.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", got.Status, tt.wantStatus)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
			if got.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %v, want %v", got.Outcome, tt.wantOutcome)
			}
			if got.Noisy != tt.wantNoisy {
				t.Errorf("Noisy = %v, want %v", got.Noisy, tt.wantNoisy)
			}
			if !got.CheckedAt.Equal(now) {
				t.Errorf("CheckedAt = %v, want %v", got.CheckedAt, now)
			}
		})
	}
}

func TestResolve_MinConfidenceOnlyInCountMode(t *testing.T) {
	flapping := history("berlin", event.StatusOpen, event.StatusSoldOut, event.StatusOpen, event.StatusWaitlist)
	previous := previousEvent(event.StatusOpen, 0.8)

	for _, min := range []float64{0, 0.5, 0.99} {
		cfg := DefaultConfig()
		cfg.MinConfidence = min
		got := Resolve("berlin", flapping, previous, now, cfg)
		if got.Status != event.StatusOpen || got.Outcome != OutcomeUnconfirmed {
			t.Errorf("consecutive, min=%v: got %v/%v, want open/unconfirmed", min, got.Status, got.Outcome)
		}
	}

	cfg := DefaultConfig()
	cfg.Confirmation = ConfirmCountOrConfidence
	cfg.MinConfidence = 0.9
	if got := Resolve("berlin", flapping, previous, now, cfg); got.Outcome != OutcomeUnconfirmed {
		t.Errorf("count_or_confidence, min=0.9: Outcome = %v, want unconfirmed", got.Outcome)
	}
	cfg.MinConfidence = 0.5
	if got := Resolve("berlin", flapping, previous, now, cfg); got.Status != event.StatusWaitlist {
		t.Errorf("count_or_confidence, min=0.5: Status = %v, want waitlist", got.Status)
	}
}

// spread builds observations 20 hours apart so only the last two share a 24h window
func spread(statuses ...event.Status) []*observation.Observation {
	obs := history("berlin", statuses...)
	for i, o := range obs {
		o.ObservedAt = t0.Add(time.Duration(i) * 20 * time.Hour)
	}
	return obs
}

func TestResolve_ZeroObservations(t *testing.T) {
	prev := event.NewEvent("berlin", "berlin", 2026, "https://example.com")

	got := Resolve("berlin", nil, prev, now, DefaultConfig())
	if got.Outcome != OutcomeSkipped {
		t.Errorf("Outcome = %v, want skipped", got.Outcome)
	}
	if got.Status != event.StatusUnknown {
		t.Errorf("Status = %v, want unknown", got.Status)
	}

	applied := got.Apply(prev)
	if diff := cmp.Diff(prev, applied); diff != "" {
		t.Errorf("skipped decision changed the record (-want +got):\n%s", diff)
	}
	if applied == prev {
		t.Error("Apply() should return a new record")
	}

	// Observations for other events are ignored
	other := history("athens", event.StatusOpen)
	if got := Resolve("berlin", other, prev, now, DefaultConfig()); got.Outcome != OutcomeSkipped {
		t.Errorf("foreign observations resolved berlin: %v", got.Outcome)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	inputs := [][]*observation.Observation{
		history("berlin", event.StatusOpen, event.StatusOpen),
		history("berlin", event.StatusOpen, event.StatusSoldOut, event.StatusOpen, event.StatusWaitlist),
		history("berlin", event.StatusNotYetOpen, event.StatusOpen, event.StatusSoldOut, event.StatusSoldOut),
	}

	for i, h := range inputs {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			prev := previousEvent(event.StatusNotYetOpen, 0.7)

			first := Resolve("berlin", h, prev, now, DefaultConfig()).Apply(prev)
			second := Resolve("berlin", h, first, now, DefaultConfig()).Apply(first)

			if diff := cmp.Diff(first, second); diff != "" {
				t.Errorf("second pass differs (-first +second):\n%s", diff)
			}
		})
	}
}

func TestResolve_SubmissionOrderIrrelevant(t *testing.T) {
	h := history("berlin", event.StatusOpen, event.StatusOpen, event.StatusSoldOut)
	reversed := []*observation.Observation{h[2], h[0], h[1]}
	shuffled := []*observation.Observation{h[1], h[2], h[0]}

	want := Resolve("berlin", h, nil, now, DefaultConfig())
	if want.Status != event.StatusSoldOut {
		t.Fatalf("Status = %v, want sold_out", want.Status)
	}

	for _, in := range [][]*observation.Observation{reversed, shuffled} {
		got := Resolve("berlin", in, nil, now, DefaultConfig())
		if got.Status != want.Status || got.Latest.ID != want.Latest.ID {
			t.Errorf("Resolve() on reordered input = %v (%s), want %v (%s)",
				got.Status, got.Latest.ID, want.Status, want.Latest.ID)
		}
	}
}

func TestResolve_TieBreakOnConfidence(t *testing.T) {
	h := []*observation.Observation{
		{ID: "a", EventID: "berlin", ParsedStatus: event.StatusOpen, Confidence: observation.Float(0.8), ObservedAt: t0},
		{ID: "b", EventID: "berlin", ParsedStatus: event.StatusSoldOut, Confidence: observation.Float(0.95), ObservedAt: t0},
	}

	got := Resolve("berlin", h, nil, now, DefaultConfig())
	if got.Status != event.StatusSoldOut || got.Confidence != 0.95 {
		t.Errorf("tie resolved to %v/%v, want sold_out/0.95", got.Status, got.Confidence)
	}
}

func TestResolve_MissingConfidence(t *testing.T) {
	h := history("berlin", event.StatusOpen)
	h[0].Confidence = nil
	h[0].Source = ""

	got := Resolve("berlin", h, nil, now, DefaultConfig())
	if got.Confidence != DefaultDefaultConfidence {
		t.Errorf("Confidence = %v, want %v", got.Confidence, DefaultDefaultConfidence)
	}
	if got.Source != event.DefaultSource {
		t.Errorf("Source = %q, want %q", got.Source, event.DefaultSource)
	}
}

func TestResolve_InvalidStatusTreatedUnknown(t *testing.T) {
	h := history("berlin", event.Status("bogus"))

	got := Resolve("berlin", h, nil, now, DefaultConfig())
	if got.Status != event.StatusUnknown {
		t.Errorf("Status = %v, want unknown", got.Status)
	}
}

func TestDecision_Apply(t *testing.T) {
	prev := previousEvent(event.StatusOpen, 0.8)

	unconfirmed := Resolve("berlin",
		history("berlin", event.StatusOpen, event.StatusSoldOut, event.StatusOpen, event.StatusWaitlist),
		prev, now, DefaultConfig()).Apply(prev)

	if !unconfirmed.Unconfirmed {
		t.Error("Unconfirmed flag not set")
	}
	if unconfirmed.LastCheckedAt == nil || !unconfirmed.LastCheckedAt.Equal(now) {
		t.Errorf("LastCheckedAt = %v, want %v", unconfirmed.LastCheckedAt, now)
	}
	if unconfirmed.RegURL != prev.RegURL || unconfirmed.Series != prev.Series {
		t.Error("Apply() changed identity fields")
	}

	adopted := Resolve("berlin", history("berlin", event.StatusOpen, event.StatusOpen), unconfirmed, now, DefaultConfig()).Apply(unconfirmed)
	if adopted.Unconfirmed {
		t.Error("Unconfirmed flag not cleared after a confirmed resolution")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"min confidence too high", func(c *Config) { c.MinConfidence = 1.5 }, true},
		{"negative default confidence", func(c *Config) { c.DefaultConfidence = -0.1 }, true},
		{"zero window", func(c *Config) { c.AntiFlapWindow = 0 }, true},
		{"zero max changes", func(c *Config) { c.MaxStatusChanges = 0 }, true},
		{"unknown confirmation", func(c *Config) { c.Confirmation = "vote" }, true},
		{"count_or_confidence", func(c *Config) { c.Confirmation = ConfirmCountOrConfidence }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

package event

import (
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    Status
		wantErr bool
	}{
		{"open", StatusOpen, false},
		{"SOLD_OUT", StatusSoldOut, false},
		{"sold out", StatusSoldOut, false},
		{"sold-out", StatusSoldOut, false},
		{" waitlist ", StatusWaitlist, false},
		{"not_yet_open", StatusNotYetOpen, false},
		{"unknown", StatusUnknown, false},
		{"", StatusUnknown, true},
		{"closed", StatusUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStatus(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStatus(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStatusOrUnknown(t *testing.T) {
	if got := StatusOrUnknown(""); got != StatusUnknown {
		t.Errorf("StatusOrUnknown(\"\") = %q, want unknown", got)
	}
	if got := StatusOrUnknown("bogus"); got != StatusUnknown {
		t.Errorf("StatusOrUnknown(bogus) = %q, want unknown", got)
	}
	if got := StatusOrUnknown("open"); got != StatusOpen {
		t.Errorf("StatusOrUnknown(open) = %q, want open", got)
	}
}

func TestNewEvent(t *testing.T) {
	evt := NewEvent("berlin-2026", "berlin-marathon", 2026, "  https://example.com/reg ")

	if evt.Status != StatusUnknown {
		t.Errorf("Status = %q, want unknown", evt.Status)
	}
	if evt.RegURL != "https://example.com/reg" {
		t.Errorf("RegURL = %q, want trimmed URL", evt.RegURL)
	}
	if evt.Checked() {
		t.Error("new event should not be checked")
	}

	target := evt.Target()
	if target.EventID != "berlin-2026" || target.URL != "https://example.com/reg" {
		t.Errorf("Target() = %+v", target)
	}
	if target.Label != "berlin-marathon/2026" {
		t.Errorf("Target().Label = %q, want berlin-marathon/2026", target.Label)
	}
}

func TestRecheckPolicy_Eligible(t *testing.T) {
	policy := DefaultRecheckPolicy()

	tests := []struct {
		name string
		evt  *Event
		want bool
	}{
		{"nil event", nil, false},
		{"unknown with url", &Event{ID: "a", RegURL: "https://a", Status: StatusUnknown}, true},
		{"open with url", &Event{ID: "b", RegURL: "https://b", Status: StatusOpen}, true},
		{"not yet open", &Event{ID: "c", RegURL: "https://c", Status: StatusNotYetOpen}, true},
		{"sold out", &Event{ID: "d", RegURL: "https://d", Status: StatusSoldOut}, false},
		{"waitlist", &Event{ID: "e", RegURL: "https://e", Status: StatusWaitlist}, false},
		{"empty url", &Event{ID: "f", RegURL: "  ", Status: StatusUnknown}, false},
		{"invalid status treated as unknown", &Event{ID: "g", RegURL: "https://g", Status: "weird"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Eligible(tt.evt); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecheckPolicy_Custom(t *testing.T) {
	policy := RecheckPolicy{Statuses: []Status{StatusSoldOut}}
	if !policy.Eligible(&Event{ID: "x", RegURL: "https://x", Status: StatusSoldOut}) {
		t.Error("custom policy should re-check sold out events")
	}
	if policy.Eligible(&Event{ID: "y", RegURL: "https://y", Status: StatusOpen}) {
		t.Error("custom policy should skip open events")
	}
}

func TestSelectTargets(t *testing.T) {
	events := []*Event{
		{ID: "a", RegURL: "https://a", Status: StatusOpen},
		{ID: "b", RegURL: "", Status: StatusOpen},
		{ID: "c", RegURL: "https://c", Status: StatusSoldOut},
		{ID: "a", RegURL: "https://a-dup", Status: StatusOpen},
		{ID: "d", RegURL: "https://d", Status: StatusUnknown},
	}

	targets := SelectTargets(events, DefaultRecheckPolicy())
	if len(targets) != 2 {
		t.Fatalf("SelectTargets() returned %d targets, want 2", len(targets))
	}
	if targets[0].EventID != "a" || targets[0].URL != "https://a" {
		t.Errorf("targets[0] = %+v, want first a", targets[0])
	}
	if targets[1].EventID != "d" {
		t.Errorf("targets[1] = %+v, want d", targets[1])
	}
}

func TestDetectChange(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("nil previous counts as unknown", func(t *testing.T) {
		change := DetectChange(nil, &Event{ID: "a", Status: StatusOpen, Confidence: 0.8}, now)
		if change == nil {
			t.Fatal("expected change")
		}
		if change.OldStatus != StatusUnknown || change.NewStatus != StatusOpen {
			t.Errorf("change = %+v", change)
		}
	})

	t.Run("same status is no change", func(t *testing.T) {
		prev := &Event{ID: "a", Status: StatusOpen, Confidence: 0.8}
		cur := &Event{ID: "a", Status: StatusOpen, Confidence: 0.95}
		if change := DetectChange(prev, cur, now); change != nil {
			t.Errorf("expected no change, got %+v", change)
		}
	})

	t.Run("status flip", func(t *testing.T) {
		prev := &Event{ID: "a", Status: StatusOpen, Confidence: 0.8}
		cur := &Event{ID: "a", Status: StatusSoldOut, Confidence: 0.95, StatusSource: DefaultSource}
		change := DetectChange(prev, cur, now)
		if change == nil {
			t.Fatal("expected change")
		}
		if change.OldConfidence != 0.8 || change.NewConfidence != 0.95 {
			t.Errorf("confidences = %v -> %v", change.OldConfidence, change.NewConfidence)
		}
		if !change.DetectedAt.Equal(now) {
			t.Errorf("DetectedAt = %v, want %v", change.DetectedAt, now)
		}
	})
}

func TestAppendChangeLog(t *testing.T) {
	var log []*StatusChange
	for i := 0; i < 5; i++ {
		log = AppendChangeLog(log, []*StatusChange{{EventID: string(rune('a' + i))}}, 3)
	}
	if len(log) != 3 {
		t.Fatalf("len(log) = %d, want 3", len(log))
	}
	if log[0].EventID != "c" || log[2].EventID != "e" {
		t.Errorf("log kept wrong entries: %s..%s", log[0].EventID, log[2].EventID)
	}
}

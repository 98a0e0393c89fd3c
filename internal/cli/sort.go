package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pfrederiksen/raceradar/internal/event"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByID         SortOrder = "id"
	SortBySeries     SortOrder = "series"
	SortByStatus     SortOrder = "status"
	SortByConfidence SortOrder = "confidence"
	SortByChecked    SortOrder = "checked"
)

// ParseSortOrder validates a --sort value
func ParseSortOrder(s string) (SortOrder, error) {
	switch order := SortOrder(strings.ToLower(strings.TrimSpace(s))); order {
	case SortByID, SortBySeries, SortByStatus, SortByConfidence, SortByChecked:
		return order, nil
	case "":
		return SortByID, nil
	default:
		return "", fmt.Errorf("invalid sort order: %s (must be id, series, status, confidence or checked)", s)
	}
}

// sortEvents sorts a slice of events based on the specified sort order.
// Ties always fall back to the event ID.
func sortEvents(events []*event.Event, sortOrder SortOrder) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		switch sortOrder {
		case SortBySeries:
			if a.Series != b.Series {
				return strings.ToLower(a.Series) < strings.ToLower(b.Series)
			}
			if a.Year != b.Year {
				return a.Year < b.Year
			}
		case SortByStatus:
			if a.Status != b.Status {
				return a.Status < b.Status
			}
		case SortByConfidence:
			if a.Confidence != b.Confidence {
				return a.Confidence > b.Confidence
			}
		case SortByChecked:
			if c, ok := compareByChecked(a, b); ok {
				return c
			}
		}
		return a.ID < b.ID
	})
}

// compareByChecked puts the most recently checked first and never-checked events last.
// ok is false when the two are equal.
func compareByChecked(a, b *event.Event) (less, ok bool) {
	switch {
	case a.Checked() && b.Checked():
		if a.LastCheckedAt.Equal(*b.LastCheckedAt) {
			return false, false
		}
		return a.LastCheckedAt.After(*b.LastCheckedAt), true
	case a.Checked():
		return true, true
	case b.Checked():
		return false, true
	default:
		return false, false
	}
}

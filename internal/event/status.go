package event

import (
	"fmt"
	"strings"
)

// Status is the registration availability of an event
type Status string

const (
	StatusOpen       Status = "open"
	StatusSoldOut    Status = "sold_out"
	StatusWaitlist   Status = "waitlist"
	StatusNotYetOpen Status = "not_yet_open"
	StatusUnknown    Status = "unknown"
)

// AllStatuses lists every status in classifier precedence order
var AllStatuses = []Status{
	StatusSoldOut,
	StatusWaitlist,
	StatusNotYetOpen,
	StatusOpen,
	StatusUnknown,
}

// Valid reports whether s is one of the enumerated statuses
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusSoldOut, StatusWaitlist, StatusNotYetOpen, StatusUnknown:
		return true
	}
	return false
}

// Closed reports whether registration is confirmed shut (sold out or waitlisted)
func (s Status) Closed() bool {
	return s == StatusSoldOut || s == StatusWaitlist
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus parses a status name, accepting "sold out" and "sold-out" spellings.
func ParseStatus(s string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)

	st := Status(normalized)
	if !st.Valid() {
		return StatusUnknown, fmt.Errorf("invalid status: %q", s)
	}
	return st, nil
}

// StatusOrUnknown parses s and falls back to StatusUnknown for empty or invalid values.
// Stored rows go through this so a bad value never escapes the enum.
func StatusOrUnknown(s string) Status {
	st, err := ParseStatus(s)
	if err != nil {
		return StatusUnknown
	}
	return st
}

// ParseStatuses parses a list of status names, failing on the first invalid one
func ParseStatuses(names []string) ([]Status, error) {
	out := make([]Status, 0, len(names))
	for _, name := range names {
		st, err := ParseStatus(name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

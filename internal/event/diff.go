package event

import "time"

// StatusChange records a resolved status that differs from the previous one
type StatusChange struct {
	EventID       string    `json:"event_id"`
	OldStatus     Status    `json:"old_status"`
	NewStatus     Status    `json:"new_status"`
	OldConfidence float64   `json:"old_confidence"`
	NewConfidence float64   `json:"new_confidence"`
	Source        string    `json:"source,omitempty"`
	DetectedAt    time.Time `json:"detected_at"`
}

// DetectChange compares the registry record before and after a resolution.
// Returns nil when the status did not change. A nil previous record counts as unknown.
func DetectChange(previous, current *Event, detectedAt time.Time) *StatusChange {
	if current == nil {
		return nil
	}

	oldStatus := StatusUnknown
	oldConfidence := 0.0
	if previous != nil {
		oldStatus = previous.Status
		oldConfidence = previous.Confidence
	}

	if oldStatus == current.Status {
		return nil
	}

	return &StatusChange{
		EventID:       current.ID,
		OldStatus:     oldStatus,
		NewStatus:     current.Status,
		OldConfidence: oldConfidence,
		NewConfidence: current.Confidence,
		Source:        current.StatusSource,
		DetectedAt:    detectedAt.UTC(),
	}
}

// AppendChangeLog appends changes to log, keeping at most max of the most recent entries
func AppendChangeLog(log []*StatusChange, changes []*StatusChange, max int) []*StatusChange {
	log = append(log, changes...)
	if max > 0 && len(log) > max {
		log = append([]*StatusChange(nil), log[len(log)-max:]...)
	}
	return log
}

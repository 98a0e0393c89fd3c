package observation

import "sort"

// Newer reports whether a sorts before b in recency order: later observed_at first,
// then higher confidence, then ID so the order is total.
// Missing confidences compare as def.
func Newer(a, b *Observation, def float64) bool {
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	ca, cb := a.ConfidenceOr(def), b.ConfidenceOr(def)
	if ca != cb {
		return ca > cb
	}
	return a.ID < b.ID
}

// SortNewestFirst returns a copy of obs in recency order. The input is not modified.
func SortNewestFirst(obs []*Observation, def float64) []*Observation {
	sorted := make([]*Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Newer(sorted[i], sorted[j], def)
	})
	return sorted
}

// Latest returns the most recent observation, or nil for an empty history
func Latest(obs []*Observation, def float64) *Observation {
	var latest *Observation
	for _, o := range obs {
		if latest == nil || Newer(o, latest, def) {
			latest = o
		}
	}
	return latest
}

// GroupByEvent splits a flat observation list by event ID
func GroupByEvent(obs []*Observation) map[string][]*Observation {
	grouped := make(map[string][]*Observation)
	for _, o := range obs {
		grouped[o.EventID] = append(grouped[o.EventID], o)
	}
	return grouped
}

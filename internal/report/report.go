package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/observation"
	"github.com/pfrederiksen/raceradar/internal/resolver"
)

// LowConfidence is the threshold below which a confidence counts as low
const LowConfidence = 0.6

// Count is one bucket of a distribution
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// EventStats summarizes the registry
type EventStats struct {
	Total           int        `json:"total"`
	ByYear          []Count    `json:"by_year"`
	ByStatus        []Count    `json:"by_status"`
	ValidURLs       int        `json:"valid_urls"`
	BrokenURLs      int        `json:"broken_urls"`
	MissingURLs     int        `json:"missing_urls"`
	AvgConfidence   float64    `json:"avg_confidence"`
	LowConfidence   int        `json:"low_confidence"`
	Checked         int        `json:"checked"`
	NeverChecked    int        `json:"never_checked"`
	Unconfirmed     int        `json:"unconfirmed"`
	Pending         int        `json:"pending_resolution"` // newest observation disagrees with the registry
	MostRecentCheck *time.Time `json:"most_recent_check,omitempty"`
}

// ObservationStats summarizes the observation log
type ObservationStats struct {
	Total              int        `json:"total"`
	EventsObserved     int        `json:"events_observed"`
	AvgPerEvent        float64    `json:"avg_per_event"`
	ByStatus           []Count    `json:"by_status"`
	AvgConfidence      float64    `json:"avg_confidence"`
	LowConfidence      int        `json:"low_confidence"`
	LowConfidenceShare float64    `json:"low_confidence_share"`
	MissingConfidence  int        `json:"missing_confidence"`
	BySource           []Count    `json:"by_source"`
	Oldest             *time.Time `json:"oldest,omitempty"`
	Newest             *time.Time `json:"newest,omitempty"`
}

// Report is the full analysis
type Report struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	Events       EventStats       `json:"events"`
	Observations ObservationStats `json:"observations"`
	Issues       []string         `json:"issues"`
}

// Build analyzes the registry and the observation log
func Build(events []*event.Event, obs []*observation.Observation, now time.Time) *Report {
	r := &Report{GeneratedAt: now.UTC()}
	r.Events = eventStats(events)
	r.Events.Pending = pending(events, obs)
	r.Observations = observationStats(obs)
	r.Issues = issues(r)
	return r
}

func eventStats(events []*event.Event) EventStats {
	s := EventStats{Total: len(events)}
	years := make(map[string]int)
	statuses := make(map[string]int)
	var confSum float64

	for _, e := range events {
		year := "unknown"
		if e.Year != 0 {
			year = fmt.Sprint(e.Year)
		}
		years[year]++

		status := e.Status
		if !status.Valid() {
			status = event.StatusUnknown
		}
		statuses[string(status)]++

		switch {
		case strings.TrimSpace(e.RegURL) == "":
			s.MissingURLs++
		case e.HasValidURL():
			s.ValidURLs++
		default:
			s.BrokenURLs++
		}

		confSum += e.Confidence
		if e.Confidence < LowConfidence {
			s.LowConfidence++
		}

		if e.Unconfirmed {
			s.Unconfirmed++
		}
		if e.Checked() {
			s.Checked++
			if s.MostRecentCheck == nil || e.LastCheckedAt.After(*s.MostRecentCheck) {
				t := e.LastCheckedAt.UTC()
				s.MostRecentCheck = &t
			}
		}
	}

	s.NeverChecked = s.Total - s.Checked
	if s.Total > 0 {
		s.AvgConfidence = confSum / float64(s.Total)
	}
	s.ByYear = sortedByName(years)
	s.ByStatus = mostCommon(statuses)
	return s
}

// pending counts registered events whose newest observation has a different status.
// Unconfirmed events already kept their status on purpose.
func pending(events []*event.Event, obs []*observation.Observation) int {
	byEvent := observation.GroupByEvent(obs)
	n := 0
	for _, e := range events {
		if e.Unconfirmed {
			continue
		}
		latest := observation.Latest(byEvent[e.ID], resolver.DefaultDefaultConfidence)
		if latest != nil && latest.ParsedStatus != e.Status {
			n++
		}
	}
	return n
}

func observationStats(obs []*observation.Observation) ObservationStats {
	s := ObservationStats{Total: len(obs)}
	if len(obs) == 0 {
		return s
	}

	eventIDs := make(map[string]bool)
	statuses := make(map[string]int)
	sources := make(map[string]int)
	var confSum float64
	var withConf int

	for _, o := range obs {
		eventIDs[o.EventID] = true
		statuses[string(o.ParsedStatus)]++
		sources[o.Source]++

		if o.Confidence == nil {
			s.MissingConfidence++
		} else {
			withConf++
			confSum += *o.Confidence
			if *o.Confidence < LowConfidence {
				s.LowConfidence++
			}
		}

		t := o.ObservedAt.UTC()
		if s.Oldest == nil || t.Before(*s.Oldest) {
			s.Oldest = &t
		}
		if s.Newest == nil || t.After(*s.Newest) {
			newest := t
			s.Newest = &newest
		}
	}

	s.EventsObserved = len(eventIDs)
	s.AvgPerEvent = float64(s.Total) / float64(s.EventsObserved)
	if withConf > 0 {
		s.AvgConfidence = confSum / float64(withConf)
		s.LowConfidenceShare = float64(s.LowConfidence) / float64(withConf)
	}
	s.ByStatus = mostCommon(statuses)
	s.BySource = mostCommon(sources)
	return s
}

func issues(r *Report) []string {
	out := []string{}
	e := r.Events

	if e.BrokenURLs > 0 {
		out = append(out, fmt.Sprintf("%d events have broken registration URLs (no http prefix)", e.BrokenURLs))
	}
	if e.MissingURLs > 0 {
		out = append(out, fmt.Sprintf("%d events have no registration URL", e.MissingURLs))
	}
	if e.LowConfidence > 0 {
		out = append(out, fmt.Sprintf("%d events with low confidence status (%.1f%%)", e.LowConfidence, percent(e.LowConfidence, e.Total)))
	}
	if unknown := countOf(e.ByStatus, string(event.StatusUnknown)); unknown > 0 {
		out = append(out, fmt.Sprintf("%d events with 'unknown' status (%.1f%%)", unknown, percent(unknown, e.Total)))
	}
	if e.Unconfirmed > 0 {
		out = append(out, fmt.Sprintf("%d events kept an unconfirmed status after noisy observations", e.Unconfirmed))
	}
	if e.Pending > 0 {
		out = append(out, fmt.Sprintf("%d events have newer observations than their resolved status (run resolve)", e.Pending))
	}
	if e.NeverChecked > 0 {
		out = append(out, fmt.Sprintf("%d events have never been checked", e.NeverChecked))
	}
	if o := r.Observations; o.MissingConfidence > 0 {
		out = append(out, fmt.Sprintf("%d observations have no confidence", o.MissingConfidence))
	}
	return out
}

// WriteText renders the report for a terminal
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	e, o := r.Events, r.Observations

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "RACERADAR DATABASE ANALYSIS")
	fmt.Fprintln(&b, rule)

	fmt.Fprintf(&b, "\nEVENTS\n")
	fmt.Fprintf(&b, "Total events: %d\n", e.Total)
	writeCounts(&b, "Events by year", e.ByYear, "events")
	writeCounts(&b, "Registration status", e.ByStatus, "events")
	fmt.Fprintf(&b, "\nRegistration URLs:\n")
	fmt.Fprintf(&b, "  - Valid: %d\n", e.ValidURLs)
	fmt.Fprintf(&b, "  - Broken: %d\n", e.BrokenURLs)
	fmt.Fprintf(&b, "  - Missing: %d\n", e.MissingURLs)
	if e.Total > 0 {
		fmt.Fprintf(&b, "\nConfidence:\n")
		fmt.Fprintf(&b, "  - Average: %.2f\n", e.AvgConfidence)
		fmt.Fprintf(&b, "  - Low (<%.1f): %d\n", LowConfidence, e.LowConfidence)
		fmt.Fprintf(&b, "  - High (>=%.1f): %d\n", LowConfidence, e.Total-e.LowConfidence)
	}
	fmt.Fprintf(&b, "\nLast checked:\n")
	fmt.Fprintf(&b, "  - Checked at least once: %d\n", e.Checked)
	fmt.Fprintf(&b, "  - Never checked: %d\n", e.NeverChecked)
	fmt.Fprintf(&b, "  - Unconfirmed: %d\n", e.Unconfirmed)
	fmt.Fprintf(&b, "  - Pending resolution: %d\n", e.Pending)
	if e.MostRecentCheck != nil {
		fmt.Fprintf(&b, "  - Most recent check: %s\n", e.MostRecentCheck.Format(time.DateTime))
	}

	fmt.Fprintf(&b, "\nOBSERVATIONS\n")
	fmt.Fprintf(&b, "Total observations: %d\n", o.Total)
	if o.Total > 0 {
		fmt.Fprintf(&b, "  - Events with observations: %d\n", o.EventsObserved)
		fmt.Fprintf(&b, "  - Avg observations per event: %.1f\n", o.AvgPerEvent)
		writeCounts(&b, "Observed statuses", o.ByStatus, "observations")
		fmt.Fprintf(&b, "\nObservation confidence:\n")
		fmt.Fprintf(&b, "  - Average: %.2f\n", o.AvgConfidence)
		fmt.Fprintf(&b, "  - Low (<%.1f): %d (%.1f%%)\n", LowConfidence, o.LowConfidence, o.LowConfidenceShare*100)
		writeCounts(&b, "Observation sources", o.BySource, "observations")
		fmt.Fprintf(&b, "\nObservation timeline:\n")
		fmt.Fprintf(&b, "  - Oldest: %s\n", o.Oldest.Format(time.DateTime))
		fmt.Fprintf(&b, "  - Newest: %s\n", o.Newest.Format(time.DateTime))
	}

	fmt.Fprintf(&b, "\nDATA QUALITY ISSUES\n")
	if len(r.Issues) == 0 {
		fmt.Fprintln(&b, "  No major data quality issues detected")
	}
	for _, issue := range r.Issues {
		fmt.Fprintf(&b, "  - %s\n", issue)
	}
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeCounts(b *strings.Builder, title string, counts []Count, unit string) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, c := range counts {
		fmt.Fprintf(b, "  - %s: %d %s\n", c.Name, c.Count, unit)
	}
}

// mostCommon orders buckets by count descending, then name
func mostCommon(m map[string]int) []Count {
	out := toCounts(m)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func sortedByName(m map[string]int) []Count {
	out := toCounts(m)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

func toCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for name, n := range m {
		out = append(out, Count{Name: name, Count: n})
	}
	return out
}

func countOf(counts []Count, name string) int {
	for _, c := range counts {
		if c.Name == name {
			return c.Count
		}
	}
	return 0
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/report"
	"github.com/pfrederiksen/raceradar/internal/resolver"
	"github.com/pfrederiksen/raceradar/internal/runner"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// CheckOutput is the result of the check command
type CheckOutput struct {
	CheckedAt time.Time         `json:"checked_at"`
	Check     *runner.Summary   `json:"check"`
	Resolve   *resolver.Summary `json:"resolve,omitempty"`
}

// ResolveOutput is the result of the resolve command
type ResolveOutput struct {
	ResolvedAt time.Time         `json:"resolved_at"`
	Resolve    *resolver.Summary `json:"resolve"`
}

// StatusOutput is the result of the status command
type StatusOutput struct {
	Events []*event.Event `json:"events"`
	Count  int            `json:"count"`
}

// ChangesOutput is the result of the changes command
type ChangesOutput struct {
	Changes []*event.StatusChange `json:"changes"`
	Count   int                   `json:"count"`
}

// textWriter is implemented by every output that has a text rendering
type textWriter interface {
	writeText(w io.Writer, verbose bool) error
}

// WriteOutput writes the result in the specified format
func WriteOutput(w io.Writer, result textWriter, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return result.writeText(w, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeJSON outputs results as JSON
func writeJSON(w io.Writer, result any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func (o *CheckOutput) writeText(w io.Writer, verbose bool) error {
	s := o.Check
	if s.Selected == 0 {
		fmt.Fprintf(w, "No events eligible for checking (%d skipped).\n", s.Skipped)
	} else {
		fmt.Fprintf(w, "Checked %d of %d events: %d succeeded, %d failed, %d skipped\n",
			s.Checked, s.Selected, s.Succeeded, s.Failed, s.Skipped)

		for _, status := range sortedStatuses(s.Statuses) {
			fmt.Fprintf(w, "  %-14s %d\n", status, s.Statuses[status])
		}

		if len(s.Failures) > 0 {
			fmt.Fprintln(w, "\nFailures:")
			for _, f := range s.Failures {
				fmt.Fprintf(w, "  %s (%s): %s\n", f.EventID, f.Kind, f.URL)
				if verbose {
					fmt.Fprintf(w, "       Error: %s\n", f.Error)
				}
			}
		}
		fmt.Fprintf(w, "\nDuration: %s\n", s.Duration.Round(time.Millisecond))
	}

	if o.Resolve != nil {
		fmt.Fprintln(w)
		writeResolveSummary(w, o.Resolve)
	}
	return nil
}

func (o *ResolveOutput) writeText(w io.Writer, verbose bool) error {
	writeResolveSummary(w, o.Resolve)
	return nil
}

func writeResolveSummary(w io.Writer, s *resolver.Summary) {
	if s.Resolved == 0 && s.Skipped == 0 && s.Failed == 0 {
		fmt.Fprintln(w, "No events to resolve.")
		return
	}

	fmt.Fprintf(w, "Resolved %d events: %d adopted, %d unchanged, %d unconfirmed, %d skipped, %d failed\n",
		s.Resolved, s.Adopted, s.Unchanged, s.Unconfirmed, s.Skipped, s.Failed)

	if len(s.Changes) == 0 {
		fmt.Fprintln(w, "No status changes.")
		return
	}

	fmt.Fprintf(w, "\nStatus changes (%d):\n", len(s.Changes))
	for _, c := range s.Changes {
		fmt.Fprintf(w, "  CHANGED: %s\n", formatChange(c))
	}
}

func (o *StatusOutput) writeText(w io.Writer, verbose bool) error {
	if o.Count == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}

	for _, evt := range o.Events {
		checked := "never"
		if evt.Checked() {
			checked = evt.LastCheckedAt.Format(time.DateTime)
		}
		flag := ""
		if evt.Unconfirmed {
			flag = " (unconfirmed)"
		}
		fmt.Fprintf(w, "%s: %s %.2f%s [checked %s]\n", evt.ID, evt.Status, evt.Confidence, flag, checked)

		if verbose {
			if label := evt.Target().Label; label != "" {
				fmt.Fprintf(w, "     Event: %s\n", label)
			}
			if evt.RegURL != "" {
				fmt.Fprintf(w, "     URL: %s\n", evt.RegURL)
			}
			if evt.StatusSource != "" {
				fmt.Fprintf(w, "     Source: %s\n", evt.StatusSource)
			}
		}
	}
	fmt.Fprintf(w, "\nTotal: %d events\n", o.Count)
	return nil
}

func (o *ChangesOutput) writeText(w io.Writer, verbose bool) error {
	if o.Count == 0 {
		fmt.Fprintln(w, "No status changes recorded.")
		return nil
	}

	for _, c := range o.Changes {
		fmt.Fprintf(w, "%s  %s\n", c.DetectedAt.Format(time.DateTime), formatChange(c))
		if verbose && c.Source != "" {
			fmt.Fprintf(w, "     Source: %s\n", c.Source)
		}
	}
	fmt.Fprintf(w, "\nTotal: %d changes\n", o.Count)
	return nil
}

// reportOutput adapts report.Report to WriteOutput
type reportOutput struct {
	*report.Report
}

func (o reportOutput) writeText(w io.Writer, verbose bool) error {
	return o.WriteText(w)
}

func (o reportOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Report)
}

func formatChange(c *event.StatusChange) string {
	return fmt.Sprintf("%s %s -> %s (%.2f -> %.2f)", c.EventID, c.OldStatus, c.NewStatus, c.OldConfidence, c.NewConfidence)
}

func sortedStatuses(m map[event.Status]int) []event.Status {
	statuses := make([]event.Status, 0, len(m))
	for status := range m {
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	return statuses
}

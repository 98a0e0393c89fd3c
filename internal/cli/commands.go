package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/raceradar/internal/classifier"
	"github.com/pfrederiksen/raceradar/internal/config"
	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/logger"
	"github.com/pfrederiksen/raceradar/internal/report"
	"github.com/pfrederiksen/raceradar/internal/resolver"
	"github.com/pfrederiksen/raceradar/internal/runner"
	"github.com/pfrederiksen/raceradar/internal/scraper"
	"github.com/pfrederiksen/raceradar/internal/storage"
)

// defaultChangesLimit is the number of changes the changes command shows
const defaultChangesLimit = 20

func newCheckCmd(a *app) *cobra.Command {
	var (
		eventIDs []string
		resolve  bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Fetch and classify registration pages",
		Long: `Fetch the registration page of every eligible event, classify it and append
one observation per page. With --event only the named events are checked,
regardless of the recheck policy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				return a.runCheck(ctx, cmd, store, eventIDs, resolve)
			})
		},
	}

	cmd.Flags().StringSliceVar(&eventIDs, "event", nil, "Check only these event IDs (comma-separated or repeated)")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "Resolve statuses after the check")
	return cmd
}

func (a *app) runCheck(ctx context.Context, cmd *cobra.Command, store storage.Store, eventIDs []string, resolve bool) error {
	format, _ := a.outputFormat()

	fetcher, closeFetcher, err := a.newFetcher()
	if err != nil {
		return err
	}
	defer closeFetcher()

	cls, err := a.cfg.Classifier()
	if err != nil {
		return fmt.Errorf("loading classification rules: %w", err)
	}

	r, err := runner.New(fetcher, cls, store, a.cfg.RunnerConfig(),
		runner.WithLogger(a.log.With("runner")),
		runner.WithMetrics(a.metrics),
		runner.WithLocks(a.locks),
	)
	if err != nil {
		return err
	}

	var summary *runner.Summary
	if len(eventIDs) > 0 {
		targets, err := targetsFor(ctx, store, eventIDs)
		if err != nil {
			return err
		}
		summary, err = r.Run(ctx, targets)
		if err != nil {
			return a.interrupted(cmd, format, summary, err)
		}
	} else {
		policy, err := a.cfg.RecheckPolicy()
		if err != nil {
			return err
		}
		summary, err = r.CheckEligible(ctx, policy)
		if err != nil {
			return a.interrupted(cmd, format, summary, err)
		}
	}

	result := &CheckOutput{CheckedAt: time.Now(), Check: summary}
	if resolve {
		svc, err := a.newResolver(store)
		if err != nil {
			return err
		}
		result.Resolve, err = svc.ResolveAll(ctx)
		if err != nil {
			return err
		}
	}

	if err := WriteOutput(cmd.OutOrStdout(), result, format, a.verbose); err != nil {
		return fmt.Errorf("error writing output: %w", err)
	}

	if summary.Failed > 0 {
		return &ExitCodeError{Code: ExitCheckFailures}
	}
	return nil
}

// interrupted reports the partial summary of a cancelled check, then returns err
func (a *app) interrupted(cmd *cobra.Command, format OutputFormat, summary *runner.Summary, err error) error {
	if summary == nil {
		return err
	}
	result := &CheckOutput{CheckedAt: time.Now(), Check: summary}
	if werr := WriteOutput(cmd.OutOrStdout(), result, format, a.verbose); werr != nil {
		a.log.Warn("writing partial summary failed", logger.Fields{"error": werr.Error()})
	}
	return err
}

// newFetcher builds the fetcher for scraping.renderer. The returned func releases it.
func (a *app) newFetcher() (scraper.Fetcher, func(), error) {
	opts := a.cfg.ScraperOptions()

	if a.cfg.Scraping.Renderer != config.RendererBrowser {
		return scraper.New(opts), func() {}, nil
	}

	b, err := scraper.NewBrowserFetcher(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("starting browser: %w", err)
	}
	return b, func() {
		if err := b.Close(); err != nil {
			a.log.Warn("closing browser failed", logger.Fields{"error": err.Error()})
		}
	}, nil
}

func (a *app) newResolver(store storage.Store) (*resolver.Service, error) {
	return resolver.NewService(store, a.cfg.ResolverConfig(),
		resolver.WithLogger(a.log.With("resolver")),
		resolver.WithMetrics(a.metrics),
		resolver.WithLocks(a.locks),
	)
}

// targetsFor looks up the named events. Unknown IDs are an error.
func targetsFor(ctx context.Context, store storage.Store, ids []string) ([]event.Target, error) {
	targets := make([]event.Target, 0, len(ids))
	for _, id := range ids {
		evt, err := store.GetEvent(ctx, strings.TrimSpace(id))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("unknown event: %s", id)
			}
			return nil, err
		}
		if strings.TrimSpace(evt.RegURL) == "" {
			return nil, fmt.Errorf("event %s has no registration URL", evt.ID)
		}
		targets = append(targets, evt.Target())
	}
	return targets, nil
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [event-id...]",
		Short: "Resolve observations into one status per event",
		Long: `Resolve the observation log into the registry status of each event. Without
arguments every observed event is resolved. Exits with code 2 when at least one
status changed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				format, _ := a.outputFormat()

				svc, err := a.newResolver(store)
				if err != nil {
					return err
				}

				var summary *resolver.Summary
				if len(args) > 0 {
					summary, err = svc.ResolveEvents(ctx, args)
				} else {
					summary, err = svc.ResolveAll(ctx)
				}
				if err != nil {
					return err
				}

				result := &ResolveOutput{ResolvedAt: time.Now(), Resolve: summary}
				if err := WriteOutput(cmd.OutOrStdout(), result, format, a.verbose); err != nil {
					return fmt.Errorf("error writing output: %w", err)
				}

				if len(summary.Changes) > 0 {
					return &ExitCodeError{Code: ExitStatusChanges}
				}
				return nil
			})
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		statuses  []string
		sortOrder string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the registry status of each event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := ParseSortOrder(sortOrder)
			if err != nil {
				return err
			}
			filter, err := event.ParseStatuses(statuses)
			if err != nil {
				return err
			}

			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				format, _ := a.outputFormat()

				events, err := store.ListEvents(ctx)
				if err != nil {
					return err
				}
				events = filterByStatus(events, filter)
				sortEvents(events, order)

				result := &StatusOutput{Events: events, Count: len(events)}
				if err := WriteOutput(cmd.OutOrStdout(), result, format, a.verbose); err != nil {
					return fmt.Errorf("error writing output: %w", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only show events with these statuses")
	cmd.Flags().StringVar(&sortOrder, "sort", string(SortByID), "Sort order: id, series, status, confidence or checked")
	return cmd
}

func filterByStatus(events []*event.Event, statuses []event.Status) []*event.Event {
	if len(statuses) == 0 {
		return events
	}
	var out []*event.Event
	for _, evt := range events {
		for _, s := range statuses {
			if evt.Status == s {
				out = append(out, evt)
				break
			}
		}
	}
	return out
}

func newChangesCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Show the most recent status changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				format, _ := a.outputFormat()

				changes, err := store.Changes(ctx, limit)
				if err != nil {
					return err
				}
				if changes == nil {
					changes = []*event.StatusChange{}
				}

				result := &ChangesOutput{Changes: changes, Count: len(changes)}
				if err := WriteOutput(cmd.OutOrStdout(), result, format, a.verbose); err != nil {
					return fmt.Errorf("error writing output: %w", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultChangesLimit, "Maximum number of changes to show")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Report on registry and observation data quality",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				format, _ := a.outputFormat()

				events, err := store.ListEvents(ctx)
				if err != nil {
					return err
				}
				obs, err := store.ListObservations(ctx)
				if err != nil {
					return err
				}

				result := reportOutput{report.Build(events, obs, time.Now())}
				if err := WriteOutput(cmd.OutOrStdout(), result, format, a.verbose); err != nil {
					return fmt.Errorf("error writing output: %w", err)
				}
				return nil
			})
		},
	}
}

func newTrackCmd(a *app) *cobra.Command {
	var (
		series string
		year   int
	)

	cmd := &cobra.Command{
		Use:   "track <event-id> <registration-url>",
		Short: "Register an event or update its registration URL",
		Long: `Register an event in the registry. New events start as unknown and are
picked up by the next check. Tracking an existing event updates its series,
year and URL but keeps its resolved status.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("event id must not be empty")
			}

			return a.withStore(cmd, func(ctx context.Context, store storage.Store) error {
				evt := event.NewEvent(id, series, year, args[1])
				if !evt.HasValidURL() {
					a.log.Warn("registration URL is not http(s)", logger.Fields{"event_id": id, "url": evt.RegURL})
				}
				if err := store.UpsertEvent(ctx, evt); err != nil {
					return err
				}

				saved, err := store.GetEvent(ctx, id)
				if err != nil {
					return err
				}

				format, _ := a.outputFormat()
				result := &StatusOutput{Events: []*event.Event{saved}, Count: 1}
				if err := WriteOutput(cmd.OutOrStdout(), result, format, a.verbose); err != nil {
					return fmt.Errorf("error writing output: %w", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&series, "series", "", "Race series ID")
	cmd.Flags().IntVar(&year, "year", 0, "Edition year")
	return cmd
}

func newRulesCmd(a *app) *cobra.Command {
	var rulesFile string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the active classification rules as YAML",
		Long: `Print the active classification rules in the rules_file format. The output
can be edited and passed back via classification.rules_file or --file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}

			var (
				cls *classifier.Classifier
				err error
			)
			if rulesFile != "" {
				cls, err = classifier.LoadRules(rulesFile)
			} else {
				cls, err = a.cfg.Classifier()
			}
			if err != nil {
				return fmt.Errorf("loading classification rules: %w", err)
			}

			out, err := classifier.MarshalRules(cls.Rules())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&rulesFile, "file", "", "Validate and print this rules file instead")
	return cmd
}

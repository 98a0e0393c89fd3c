package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/raceradar/internal/config"
	"github.com/pfrederiksen/raceradar/internal/logger"
	"github.com/pfrederiksen/raceradar/internal/metrics"
	"github.com/pfrederiksen/raceradar/internal/storage"
)

const (
	ExitSuccess       = 0
	ExitError         = 1
	ExitStatusChanges = 2 // resolve found at least one status change
	ExitCheckFailures = 3 // check finished but some events failed
)

// ExitCodeError carries a non-default exit code out of a command.
// A nil Err means the command already reported its result.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// app holds the global flags and the resources built from them
type app struct {
	configPath string
	dataDir    string
	driver     string
	format     string
	verbose    bool

	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	locks   *storage.EventLocks
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "raceradar",
		Short: "Track registration availability of race events",
		Long: `A CLI tool that checks official race event pages, classifies their
registration status, and resolves the observations into one stable status per event.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "Data directory (overrides storage.path)")
	cmd.PersistentFlags().StringVar(&a.driver, "driver", "", "Storage driver: file, sqlite or postgres (overrides storage.driver)")
	cmd.PersistentFlags().StringVar(&a.format, "format", "text", "Output format: text or json")
	cmd.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "Enable debug logging")

	cmd.AddCommand(
		newCheckCmd(a),
		newResolveCmd(a),
		newStatusCmd(a),
		newChangesCmd(a),
		newAnalyzeCmd(a),
		newTrackCmd(a),
		newRulesCmd(a),
	)

	return cmd
}

// setup loads config and builds the logger and metrics
func (a *app) setup(cmd *cobra.Command) error {
	if _, err := a.outputFormat(); err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.Storage.Path = a.dataDir
	}
	if a.driver != "" {
		cfg.Storage.Driver = a.driver
	}
	if a.verbose {
		cfg.Logging.Level = string(logger.LevelDebug)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	a.log = logger.New(level, cmd.ErrOrStderr())
	logger.SetDefault(a.log)

	a.cfg = cfg
	a.metrics = metrics.New()
	a.locks = storage.NewEventLocks()
	return nil
}

// withStore runs fn with an open store, then closes it and writes metrics
func (a *app) withStore(cmd *cobra.Command, fn func(ctx context.Context, store storage.Store) error) error {
	if err := a.setup(cmd); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := storage.Open(ctx, a.cfg.StorageOptions())
	if err != nil {
		return fmt.Errorf("opening %s store: %w", a.cfg.Storage.Driver, err)
	}

	runErr := fn(ctx, store)

	if err := store.Close(); err != nil {
		a.log.Warn("closing store failed", logger.Fields{"error": err.Error()})
	}
	a.metrics.MarkRun(time.Now())
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.log.Warn("metrics textfile not written", logger.Fields{"path": a.cfg.Metrics.Textfile, "error": err.Error()})
	}
	return runErr
}

func (a *app) outputFormat() (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(a.format))
	if format != FormatText && format != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", a.format)
	}
	return format, nil
}

// Run executes the CLI with args and returns the process exit code
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitError
}

// Execute runs the CLI
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

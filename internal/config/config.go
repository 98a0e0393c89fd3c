package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pfrederiksen/raceradar/internal/classifier"
	"github.com/pfrederiksen/raceradar/internal/event"
	"github.com/pfrederiksen/raceradar/internal/logger"
	"github.com/pfrederiksen/raceradar/internal/observation"
	"github.com/pfrederiksen/raceradar/internal/resolver"
	"github.com/pfrederiksen/raceradar/internal/runner"
	"github.com/pfrederiksen/raceradar/internal/scraper"
	"github.com/pfrederiksen/raceradar/internal/storage"
)

// Environment overrides
const (
	EnvDatabaseURL = "RACERADAR_DATABASE_URL"
	EnvLogLevel    = "RACERADAR_LOG_LEVEL"
)

// Renderers
const (
	RendererHTTP    = "http"
	RendererBrowser = "browser"
)

type Scraping struct {
	RequestTimeout float64 `yaml:"request_timeout"` // seconds
	RequestDelay   float64 `yaml:"request_delay"`   // seconds
	UserAgent      string  `yaml:"user_agent"`
	Workers        int     `yaml:"workers"`
	Renderer       string  `yaml:"renderer"`
	MaxBodyBytes   int64   `yaml:"max_body_bytes"`
}

type Classification struct {
	MinConfidence     float64 `yaml:"min_confidence"`
	AntiFlapWindow    float64 `yaml:"anti_flap_window"` // hours
	MaxStatusChanges  int     `yaml:"max_status_changes"`
	DefaultConfidence float64 `yaml:"default_confidence"`
	Confirmation      string  `yaml:"confirmation"`
	RulesFile         string  `yaml:"rules_file"`
}

type Observations struct {
	ExcerptMaxLength int    `yaml:"excerpt_max_length"`
	Source           string `yaml:"source"`
}

type Recheck struct {
	Statuses []string `yaml:"statuses"`
}

type Storage struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type Logging struct {
	Level            string `yaml:"level"`
	IndividualChecks bool   `yaml:"individual_checks"`
}

type Metrics struct {
	Textfile string `yaml:"textfile"`
}

type Config struct {
	Scraping       Scraping       `yaml:"scraping"`
	Classification Classification `yaml:"classification"`
	Observations   Observations   `yaml:"observations"`
	Recheck        Recheck        `yaml:"recheck"`
	Storage        Storage        `yaml:"storage"`
	Logging        Logging        `yaml:"logging"`
	Metrics        Metrics        `yaml:"metrics"`
}

// Default returns the stock configuration
func Default() *Config {
	return &Config{
		Scraping: Scraping{
			RequestTimeout: scraper.Timeout.Seconds(),
			RequestDelay:   1.0,
			UserAgent:      scraper.UserAgent,
			Workers:        runner.MinWorkers,
			Renderer:       RendererHTTP,
			MaxBodyBytes:   scraper.MaxBodyBytes,
		},
		Classification: Classification{
			MinConfidence:     resolver.DefaultMinConfidence,
			AntiFlapWindow:    resolver.DefaultAntiFlapWindow.Hours(),
			MaxStatusChanges:  resolver.DefaultMaxStatusChanges,
			DefaultConfidence: resolver.DefaultDefaultConfidence,
			Confirmation:      string(resolver.ConfirmConsecutive),
		},
		Observations: Observations{
			ExcerptMaxLength: observation.DefaultExcerptMaxLength,
			Source:           event.DefaultSource,
		},
		Recheck: Recheck{
			Statuses: []string{
				string(event.StatusUnknown),
				string(event.StatusNotYetOpen),
				string(event.StatusOpen),
			},
		},
		Storage: Storage{
			Driver: storage.DriverFile,
			Path:   storage.DefaultDataDir,
		},
		Logging: Logging{
			Level: string(logger.LevelInfo),
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
// An empty path means defaults plus environment.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	c.applyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if dsn := getenv(EnvDatabaseURL); dsn != "" {
		c.Storage.Driver = storage.DriverPostgres
		c.Storage.DSN = dsn
	}
	if level := getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks every value that a component would otherwise reject later
func (c *Config) Validate() error {
	if c.Scraping.RequestTimeout <= 0 {
		return fmt.Errorf("scraping.request_timeout must be positive")
	}
	if c.Scraping.RequestDelay < 0 {
		return fmt.Errorf("scraping.request_delay must not be negative")
	}
	if c.Scraping.MaxBodyBytes <= 0 {
		return fmt.Errorf("scraping.max_body_bytes must be positive")
	}
	switch c.Scraping.Renderer {
	case RendererHTTP, RendererBrowser:
	default:
		return fmt.Errorf("scraping.renderer must be %q or %q, got %q", RendererHTTP, RendererBrowser, c.Scraping.Renderer)
	}
	if err := c.RunnerConfig().Validate(); err != nil {
		return fmt.Errorf("scraping: %w", err)
	}
	if err := c.ResolverConfig().Validate(); err != nil {
		return fmt.Errorf("classification: %w", err)
	}
	if _, err := c.RecheckPolicy(); err != nil {
		return fmt.Errorf("recheck.statuses: %w", err)
	}
	switch strings.ToLower(c.Storage.Driver) {
	case storage.DriverFile, storage.DriverSQLite:
	case storage.DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver: %q", c.Storage.Driver)
	}
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// ScraperOptions returns the fetcher settings
func (c *Config) ScraperOptions() scraper.Options {
	return scraper.Options{
		Timeout:      seconds(c.Scraping.RequestTimeout),
		UserAgent:    c.Scraping.UserAgent,
		MaxBodyBytes: c.Scraping.MaxBodyBytes,
	}
}

// RunnerConfig returns the check-cycle settings
func (c *Config) RunnerConfig() runner.Config {
	return runner.Config{
		Workers:             c.Scraping.Workers,
		RequestDelay:        seconds(c.Scraping.RequestDelay),
		Source:              c.Observations.Source,
		ExcerptMaxLength:    c.Observations.ExcerptMaxLength,
		LogIndividualChecks: c.Logging.IndividualChecks,
	}
}

// ResolverConfig returns the resolver thresholds
func (c *Config) ResolverConfig() resolver.Config {
	return resolver.Config{
		MinConfidence:     c.Classification.MinConfidence,
		AntiFlapWindow:    time.Duration(c.Classification.AntiFlapWindow * float64(time.Hour)),
		MaxStatusChanges:  c.Classification.MaxStatusChanges,
		DefaultConfidence: c.Classification.DefaultConfidence,
		Confirmation:      resolver.Confirmation(c.Classification.Confirmation),
	}
}

// RecheckPolicy returns the statuses the runner re-checks
func (c *Config) RecheckPolicy() (event.RecheckPolicy, error) {
	statuses, err := event.ParseStatuses(c.Recheck.Statuses)
	if err != nil {
		return event.RecheckPolicy{}, err
	}
	return event.RecheckPolicy{Statuses: statuses}, nil
}

// StorageOptions returns the backend selection
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Driver: c.Storage.Driver,
		Path:   c.Storage.Path,
		DSN:    c.Storage.DSN,
	}
}

// LogLevel parses logging.level
func (c *Config) LogLevel() (logger.Level, error) {
	return logger.ParseLevel(c.Logging.Level)
}

// Classifier builds the classifier from rules_file, or the default rules
func (c *Config) Classifier() (*classifier.Classifier, error) {
	if c.Classification.RulesFile == "" {
		return classifier.NewDefault(), nil
	}
	return classifier.LoadRules(c.Classification.RulesFile)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

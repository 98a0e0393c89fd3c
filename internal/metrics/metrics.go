package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "raceradar"

// Resolution outcomes
const (
	OutcomeAdopted     = "adopted"
	OutcomeUnconfirmed = "unconfirmed"
	OutcomeUnchanged   = "unchanged"
	OutcomeSkipped     = "skipped"
)

// FetchOK labels a fetch that produced text
const FetchOK = "ok"

// Metrics holds the collectors for one process
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	observations  *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetches_total",
		Help:      "Page fetches by result (ok or failure kind)",
	}, []string{"result"})
	m.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Time spent fetching and extracting one page",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 25, 60},
	})
	m.observations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observations_total",
		Help:      "Observations appended by parsed status",
	}, []string{"status"})
	m.resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Resolver passes by outcome",
	}, []string{"outcome"})
	m.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last completed command",
	})

	m.registry.MustRegister(
		m.fetches, m.fetchDuration, m.observations, m.resolutions, m.lastRun,
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch counts one fetch and records its duration
func (m *Metrics) ObserveFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

// IncObservation counts one appended observation
func (m *Metrics) IncObservation(status string) {
	if m == nil {
		return
	}
	m.observations.WithLabelValues(status).Inc()
}

// IncResolution counts one resolver pass
func (m *Metrics) IncResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

// MarkRun sets the last-run gauge
func (m *Metrics) MarkRun(t time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile writes every metric in the text exposition format to path
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

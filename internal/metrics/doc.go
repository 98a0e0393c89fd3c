// Package metrics exposes Prometheus counters for fetches, observations and resolutions.
//
// raceradar runs as a batch job, so metrics are written to a node_exporter textfile
// after each command instead of being served over HTTP. A nil *Metrics is valid and
// records nothing.
package metrics

// Package cli implements the command-line interface for raceradar.
//
// The cli package provides the Cobra-based CLI: check fetches and classifies the
// registration pages of eligible events, resolve turns the observation log into one
// status per event, and status, changes, analyze, track and rules inspect or edit
// the registry. Every command writes text or JSON (--format) to stdout and logs
// JSON lines to stderr.
package cli

// Package runner drives one check cycle: fetch each eligible event's page, classify
// the text, and append an observation.
//
// Requests are paced by a shared rate limiter and run on a bounded worker pool.
// Checks for the same event are serialized so its observations are appended in
// fetch-completion order. A failed fetch is logged and counted, never retried
// within the cycle, and never produces an observation.
package runner

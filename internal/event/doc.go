// Package event provides the registry-side types for tracked race events.
//
// The event package defines the registration Status enum, the Event record held in
// the Event Registry (one current-state row per event), the Target pairs the runner
// feeds to the fetcher, and change detection between successive resolutions. Event
// records are a materialized view of the observation history and are only written
// by the resolver.
package event

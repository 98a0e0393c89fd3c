// Package storage persists the Event Registry and the Observation Store.
//
// Every backend implements Store. Observations are append-only: nothing in this
// package updates or deletes a stored observation. Registry writes from the resolver
// go through SaveResolution, which touches only the status fields of an event.
//
// Three backends are available:
//   - FileStore keeps one JSON document (registry.json) under the data directory,
//     by default ~/.local/share/raceradar/.
//   - SQLiteStore uses the pure-Go modernc.org/sqlite driver.
//   - PostgresStore uses a pgx connection pool.
//
// Open picks a backend from Options.
package storage

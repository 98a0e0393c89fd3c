// Package config loads raceradar settings from a YAML file.
//
// Keys missing from the file keep their defaults. After loading, the environment
// variables RACERADAR_DATABASE_URL (selects the postgres driver with that DSN) and
// RACERADAR_LOG_LEVEL override the file. Validate rejects out-of-range values
// before any component is built.
package config

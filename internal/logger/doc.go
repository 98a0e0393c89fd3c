// Package logger provides structured JSON logging for raceradar.
//
// Each entry is one JSON line with a timestamp, level, optional component name,
// message, structured fields and error text. Levels are DEBUG, INFO, WARN and ERROR.
//
// Example usage:
//
//	log := logger.Default().With("runner")
//	log.Info("check finished", logger.Fields{
//	    "checked": 42,
//	    "failed":  3,
//	})
//
//	log.Error("append observation failed", logger.Fields{
//	    "event_id": "berlin-2026",
//	}, err)
package logger

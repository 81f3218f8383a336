// Package logger provides the structured logging interface used across the
// price scraper.
//
// It wraps zerolog. Output is JSON unless the format is "console", or the
// format is "auto" and stdout is a terminal. A log file, when configured,
// receives a JSON copy of every line.
//
//	log, err := logger.New(&cfg.Logging)
//	log.WithField("component", "orchestrator").InfoWithFields("Run dispatched", map[string]interface{}{
//	    "run_id": run.ID,
//	    "units":  run.Units,
//	})
//
// Components take a Logger as a dependency. Tests pass NewTestLogger to
// assert on captured lines, or NewNopLogger to discard them.
package logger

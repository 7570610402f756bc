// CLAUDE:SUMMARY Sentinel errors for the alive service: missing database, invalid configuration, concurrent run.
package alive

import "errors"

// ErrNoDatabase is returned when no database path is configured.
var ErrNoDatabase = errors.New("alive: no database configured")

// ErrInvalidConfig is returned when a configuration value is unusable.
var ErrInvalidConfig = errors.New("alive: invalid config")

// ErrRunInProgress is returned when another run holds the crawl lease.
var ErrRunInProgress = errors.New("alive: run already in progress")

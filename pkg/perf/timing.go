// Package perf times hot paths (snapshot resolution, activation round trips).
// Set TABFLIP_PERF=1 to log every measurement at info level; otherwise
// measurements go to debug.
package perf

import (
	"os"
	"time"

	"pkt.systems/pslog"
)

var enabled = os.Getenv("TABFLIP_PERF") == "1"

// Timer tracks elapsed time for a named operation
type Timer struct {
	name  string
	start time.Time
	log   pslog.Logger
}

// Start begins timing an operation. A nil logger only measures.
func Start(log pslog.Logger, name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
		log:   log,
	}
}

// Stop ends timing and logs the result
func (t *Timer) Stop(keyvals ...any) time.Duration {
	elapsed := time.Since(t.start)
	if t.log == nil {
		return elapsed
	}
	fields := append([]any{"op", t.name, "elapsed", elapsed}, keyvals...)
	if enabled {
		t.log.Info("perf", fields...)
	} else {
		t.log.Debug("perf", fields...)
	}
	return elapsed
}

// Track is a convenience function that times a function call
func Track(log pslog.Logger, name string, fn func()) time.Duration {
	t := Start(log, name)
	fn()
	return t.Stop()
}

// IsEnabled returns whether performance logging is enabled
func IsEnabled() bool {
	return enabled
}

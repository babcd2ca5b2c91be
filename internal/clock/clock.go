// Package clock provides the time capability for the engine: a Clock
// interface so tests can drive time by hand, and a heap-based wheel of
// one-shot cancellable timers keyed by pid.
package clock

import "time"

// Clock is the single source of "now" for all duration accounting.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the wall clock.
func System() Clock { return systemClock{} }

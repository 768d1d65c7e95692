// Package clock provides the time capability injected throughout the
// engine, so that staleness checks (session TTL, lock age, orphan
// sweeps) and ordering (timestamps on jobs and sessions) are
// deterministic in tests.
package clock

import "time"

// Clock reports the current time.
//
// Every component that needs "now" for staleness or ordering purposes
// takes a Clock instead of calling time.Now directly.
type Clock interface {
	// Now returns the current time in milliseconds since the Unix
	// epoch.
	Now() int64
}

// Real is a [Clock] backed by [time.Now].
type Real struct{}

// Now returns time.Now() in milliseconds since the epoch.
func (Real) Now() int64 { return time.Now().UnixMilli() }

// Fixed is a [Clock] that always reports the same instant.
// It is intended for tests.
type Fixed int64

// Now returns the fixed instant.
func (f Fixed) Now() int64 { return int64(f) }

// Offset returns a [Clock] that reports base.Now() + d.
func Offset(base Clock, d time.Duration) Clock {
	return offsetClock{base: base, d: d}
}

type offsetClock struct {
	base Clock
	d    time.Duration
}

func (o offsetClock) Now() int64 { return o.base.Now() + o.d.Milliseconds() }

// Package system provides a real clock implementation.
package system

import "time"

// Clock implements monitor.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a frozen clock for reproducible runs and tests.
type Fixed struct {
	At time.Time
}

// NewFixed returns a clock pinned to at (converted to UTC).
func NewFixed(at time.Time) *Fixed {
	return &Fixed{At: at.UTC()}
}

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time {
	return f.At
}

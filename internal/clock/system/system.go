// Package system provides the wall-clock implementation used outside tests.
package system

import "time"

// Clock implements store.Clock and speed.Clock with the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since reports the time elapsed since t using the monotonic reading when present.
func (Clock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

package clock

import "time"

// Clock supplies the current time and one-shot timers.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time

	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real is the wall clock.
type Real struct{}

// New returns the wall clock.
func New() Clock {
	return Real{}
}

// Now implements Clock.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After implements Clock.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

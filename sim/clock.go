package sim

import (
	"time"
)

// Clock abstracts timer scheduling so autoplay can be driven by a fake
// clock in tests instead of real waits
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// After returns a channel that delivers one tick after d elapses
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall-clock implementation used outside tests
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

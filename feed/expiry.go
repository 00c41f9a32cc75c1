package feed

import "time"

// Clock tells the Store what time it is. The Store only ever reads from it.
type Clock interface {
	Now() time.Time
}

// ClockFunc lets a plain function act as a Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Threshold is the instant after which e is no longer shown: its end if it
// has one, otherwise its start.
func Threshold(e Event) time.Time {
	if e.End != nil {
		return *e.End
	}
	return e.Start
}

// IsLive reports whether e should still be visible at now.
func IsLive(e Event, now time.Time) bool {
	return Threshold(e).After(now)
}

// TTL is how long the storage layer should keep e when it's written at now.
// A result <= 0 means e must not be written at all.
func TTL(e Event, now time.Time) time.Duration {
	return Threshold(e).Sub(now)
}

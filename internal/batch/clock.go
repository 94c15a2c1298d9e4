package batch

import "time"

// Clock supplies the current time to the queue. Tests inject a manual
// clock so release times are deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

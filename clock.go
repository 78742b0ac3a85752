package mailqueue

import "time"

// Clock supplies queue creation dates and batch send times.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock. Dates are UTC so the catalog sorts the
// same on every host.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

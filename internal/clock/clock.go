package clock

import "time"

// Clock abstracts the wall clock so index metadata timestamps can be pinned
// in tests.
type Clock interface {
	Now() time.Time
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Package clock abstracts the monotonic time source the session engine and
// record store use, so tests can advance time deterministically instead of
// sleeping on the wall clock.
package clock

import "time"

// Clock returns the current time as whole seconds since the Unix epoch.
type Clock interface {
	Now() int64
}

// Real is the production Clock, backed by the system wall clock.
type Real struct{}

// Now returns the current time in whole seconds since the Unix epoch.
func (Real) Now() int64 {
	return time.Now().Unix()
}

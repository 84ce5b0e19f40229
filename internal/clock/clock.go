// Package clock provides an injectable time source so schedule, retry, and
// circuit-breaker logic can be tested deterministically (spec §9: "all
// timing decisions must accept an injectable clock").
package clock

import "time"

// Clock abstracts time.Now and time.After.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real is the production Clock backed by the time package.
type Real struct{}

func (Real) Now() time.Time                     { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) Sleep(d time.Duration)              { time.Sleep(d) }

// New returns the real clock.
func New() Clock { return Real{} }

package services

import "time"

// Clock abstracts time.Now so tests can pin the UTC day boundary and review
// scheduling timestamps.
type Clock interface {
	Now() time.Time
}

// systemClock is the production Clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FixedClock is a test Clock that always returns T.
type FixedClock struct{ T time.Time }

// Now returns the pinned time.
func (c FixedClock) Now() time.Time { return c.T }

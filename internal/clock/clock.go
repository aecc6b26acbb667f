// Package clock abstracts the wall clock so services and tests can pin time.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current instant.
type Clock interface {
	Now() time.Time
}

// Real is the process wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fake is a controllable time source for tests.
type Fake struct {
	mu      sync.Mutex
	current time.Time
}

// NewFake returns a clock initialised to start.
func NewFake(start time.Time) *Fake {
	return &Fake{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set updates the clock to the provided time.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the updated time.
func (c *Fake) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	updated := c.current
	c.mu.Unlock()
	return updated
}

// NowFunc exposes Now as a function suitable for dependency injection.
func NowFunc(c Clock) func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant returned by a fresh StepClock.
var Epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// StepClock is a deterministic wall clock for tests. Every call to Now
// returns the previous instant plus step.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewStepClock creates a clock starting at Epoch. A zero step freezes it.
func NewStepClock(step time.Duration) *StepClock {
	return &StepClock{next: Epoch, step: step}
}

// Now returns the current instant and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// Peek returns the instant the next Now call will return.
func (c *StepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Reset rewinds the clock to Epoch.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = Epoch
}

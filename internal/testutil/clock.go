package testutil

import "sync"

// Clock is a settable wall clock in whole seconds for tests.
//
// It never moves on its own: tests advance it explicitly, so retry and
// backoff timestamps are fully deterministic.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now uint64
}

// NewClock creates a clock reading start.
func NewClock(start uint64) *Clock {
	return &Clock{now: start}
}

// NowSecs returns the current time in seconds.
func (c *Clock) NowSecs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by secs and returns the new time.
func (c *Clock) Advance(secs uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += secs
	return c.now
}

// Set moves the clock to secs.
func (c *Clock) Set(secs uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = secs
}

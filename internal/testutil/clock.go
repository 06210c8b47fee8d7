package testutil

import (
	"sync"
	"time"
)

// ManualClock is a clock that only moves when told to. Ledger block
// timestamps derived from it are reproducible across runs.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// Epoch is the default starting time of a ManualClock:
// 2024-01-01T00:00:00Z, unix 1704067200.
var Epoch = time.Unix(1704067200, 0).UTC()

// NewManualClock creates a clock stopped at start. A zero start means Epoch.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = Epoch
	}
	return &ManualClock{now: start}
}

// Now returns the current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are ignored; the clock never goes backwards.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Unix returns the current time in whole seconds.
func (c *ManualClock) Unix() uint64 {
	return uint64(c.Now().Unix())
}

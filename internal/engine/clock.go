package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock. Every operation is stamped with a
// strictly increasing seq from it, so queue order never depends on the wall
// clock.
//
// Clock is safe for concurrent use, though only the Run loop calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the clock forward to at least n. It never moves backwards.
// Used after restoring a snapshot so new operations sort after restored ones.
func (c *Clock) AdvanceTo(n int64) {
	for {
		cur := c.seq.Load()
		if n <= cur || c.seq.CompareAndSwap(cur, n) {
			return
		}
	}
}

// WallClock supplies wall time for timestamps and staleness checks.
type WallClock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements WallClock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

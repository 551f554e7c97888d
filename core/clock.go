package core

import (
	"sync"
	"time"
)

// Clock supplies the ledger timestamp. Successive readings never decrease.
type Clock interface {
	Now() int64
}

type monotonicClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewClock wraps a wall-clock source so that it never runs backwards. A nil
// source uses time.Now.
func NewClock(now func() time.Time) Clock {
	if now == nil {
		now = time.Now
	}
	return &monotonicClock{now: now}
}

func (c *monotonicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().Unix()
	if ts < c.last {
		return c.last
	}
	c.last = ts
	return ts
}

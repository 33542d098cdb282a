package signing

import (
	"sync"
	"time"
)

// Clock stamps signed requests with millisecond timestamps corrected by the
// server time offset.
type Clock struct {
	now func() time.Time

	mu     sync.Mutex
	offset time.Duration
	last   int64
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// SetOffset records local minus server time. It restarts the sequence, so
// the next timestamp may be lower than one already issued.
func (c *Clock) SetOffset(offset time.Duration) {
	c.mu.Lock()
	c.offset = offset
	c.last = 0
	c.mu.Unlock()
}

func (c *Clock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Next returns the server-corrected timestamp for the next signed call.
// Calls between two offset changes never return the same value.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().Add(-c.offset).UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

package sale

import (
	"sync"
	"time"
)

// Clock supplies the time of an operation. It is read once per operation.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC, truncated to seconds.
var SystemClock = ClockFunc(func() time.Time {
	return time.Now().UTC().Truncate(time.Second)
})

// MonotonicClock wraps a clock so that it never returns an instant earlier
// than one it already returned.
type MonotonicClock struct {
	mu   sync.Mutex
	base Clock
	last time.Time
}

func NewMonotonicClock(base Clock) *MonotonicClock {
	return &MonotonicClock{base: base}
}

func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.base.Now()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

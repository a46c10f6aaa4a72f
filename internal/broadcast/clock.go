package broadcast

import "sync/atomic"

// Clock is a monotonic logical clock numbering broadcast rounds.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next round number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued round without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

package clock

import (
	"sync/atomic"

	"hotcold/pkg/types"
)

// SeqClock hands out strictly increasing sequence numbers.
type SeqClock struct {
	v atomic.Uint64
}

func New(init types.SeqN) *SeqClock {
	var c SeqClock
	c.v.Store(uint64(init))
	return &c
}

func (c *SeqClock) Val() types.SeqN {
	return types.SeqN(c.v.Load())
}

func (c *SeqClock) Next() types.SeqN {
	return types.SeqN(c.v.Add(1))
}

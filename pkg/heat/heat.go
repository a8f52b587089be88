package heat

import (
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

type counters = skipmap.OrderedMap[string, *atomic.Uint64]

// Tracker counts writes per key for the staging table's current fill cycle.
// Lookups never block writers: counts are atomics and Clear swaps the whole
// map in one store.
type Tracker struct {
	m atomic.Pointer[counters]
}

func New() *Tracker {
	var tr Tracker
	tr.m.Store(skipmap.New[string, *atomic.Uint64]())
	return &tr
}

// Increment bumps the count for key and returns the new value.
func (tr *Tracker) Increment(key []byte) uint64 {
	m := tr.m.Load()
	c, _ := m.LoadOrStore(string(key), new(atomic.Uint64))
	return c.Add(1)
}

// Decrement undoes one Increment. The key is forgotten when its count
// reaches zero.
func (tr *Tracker) Decrement(key []byte) {
	m := tr.m.Load()
	c, ok := m.Load(string(key))
	if !ok {
		return
	}
	for {
		cur := c.Load()
		if cur == 0 {
			return
		}
		if c.CompareAndSwap(cur, cur-1) {
			if cur == 1 {
				m.Delete(string(key))
			}
			return
		}
	}
}

// Get returns the count for key, 0 if absent.
func (tr *Tracker) Get(key []byte) uint64 {
	c, ok := tr.m.Load().Load(string(key))
	if !ok {
		return 0
	}
	return c.Load()
}

func (tr *Tracker) Len() int {
	return tr.m.Load().Len()
}

func (tr *Tracker) Clear() {
	tr.m.Store(skipmap.New[string, *atomic.Uint64]())
}

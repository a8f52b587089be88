package table

import (
	"bytes"
	"sync/atomic"

	"hotcold/pkg/dberrors"
	"hotcold/pkg/types"

	"github.com/zhangyunhao116/skipmap"
)

// Comparator is a total order over opaque keys: negative when a < b, zero
// when equal, positive when a > b.
type Comparator func(a, b []byte) int

// BytewiseComparator orders keys by their raw bytes.
func BytewiseComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

type orderedSet = skipmap.FuncMap[[]byte, types.VersionedValue]

// Entry is a key with its versioned value.
type Entry struct {
	Key types.Key
	types.VersionedValue
}

func EntryOf(r types.Record) Entry {
	return Entry{Key: r.Key, VersionedValue: r.Versioned()}
}

func (e Entry) Size() int64 {
	return int64(len(e.Key)) + types.SeqNSize + int64(len(e.Value))
}

func (e Entry) Record() types.Record {
	return types.Record{
		Key:   e.Key,
		Value: e.Value,
		Op:    e.Op,
		SeqN:  e.SeqN,
	}
}

// Table is an ordered key -> versioned value container that tracks its
// approximate byte size.
//
// Mutations must be serialized by the owner. Reads (Get, Size, MinKey,
// MaxKey, Range) are safe concurrently with a single writer.
type Table struct {
	cmp   Comparator
	limit int64

	size atomic.Int64
	set  *orderedSet

	// min and max are cached because the skip list only iterates forward.
	min atomic.Pointer[[]byte]
	max atomic.Pointer[[]byte]

	drained atomic.Bool
}

// New creates an empty table. limit is the bound consulted by CanAccept.
func New(cmp Comparator, limit int64) *Table {
	if cmp == nil {
		cmp = BytewiseComparator
	}
	return &Table{
		cmp:   cmp,
		limit: limit,
		set: skipmap.NewFunc[[]byte, types.VersionedValue](func(a, b []byte) bool {
			return cmp(a, b) < 0
		}),
	}
}

func (t *Table) Limit() int64 {
	return t.limit
}

// Size returns size = Σ(len(key) + 8 + len(value)) over all entries.
func (t *Table) Size() int64 {
	return t.size.Load()
}

func (t *Table) Len() int {
	return t.set.Len()
}

func (t *Table) IsEmpty() bool {
	return t.set.Len() == 0
}

// Put inserts or replaces key and returns the replaced entry, if any. The
// new value is stored over the old one so concurrent readers always see the
// key; the size counter is then corrected remove-then-add.
func (t *Table) Put(key types.Key, vv types.VersionedValue) (Entry, bool) {
	if t.drained.Load() {
		panic("table: put into drained table")
	}

	prev, replaced := t.set.Load(key)
	t.set.Store(key, vv)

	var old Entry
	if replaced {
		old = Entry{Key: key, VersionedValue: prev}
		t.size.Add(-old.Size())
	}
	e := Entry{Key: key, VersionedValue: vv}
	t.size.Add(e.Size())
	t.widen(key)

	return old, replaced
}

func (t *Table) PutEntry(e Entry) (Entry, bool) {
	return t.Put(e.Key, e.VersionedValue)
}

func (t *Table) PutRecord(r types.Record) (Entry, bool) {
	return t.Put(r.Key, r.Versioned())
}

// Delete removes key if present. It exists for write rollback; the cascade
// only ever removes entries through PopMin and Drain.
func (t *Table) Delete(key types.Key) (Entry, bool) {
	vv, ok := t.set.LoadAndDelete(key)
	if !ok {
		return Entry{}, false
	}
	e := Entry{Key: key, VersionedValue: vv}
	t.size.Add(-e.Size())

	if mn := t.min.Load(); mn != nil && t.cmp(*mn, key) == 0 {
		t.resetMin()
	}
	if mx := t.max.Load(); mx != nil && t.cmp(*mx, key) == 0 {
		t.resetMax()
	}
	return e, true
}

func (t *Table) Get(key types.Key) (types.VersionedValue, bool) {
	return t.set.Load(key)
}

func (t *Table) HasKey(key types.Key) bool {
	_, ok := t.set.Load(key)
	return ok
}

// MinKey returns the smallest key, or ErrEmptyTable.
func (t *Table) MinKey() (types.Key, error) {
	mn := t.min.Load()
	if mn == nil || t.IsEmpty() {
		return nil, dberrors.ErrEmptyTable
	}
	return *mn, nil
}

// MaxKey returns the largest key, or ErrEmptyTable.
func (t *Table) MaxKey() (types.Key, error) {
	mx := t.max.Load()
	if mx == nil || t.IsEmpty() {
		return nil, dberrors.ErrEmptyTable
	}
	return *mx, nil
}

// CanAccept reports whether e fits without pushing the table past its limit.
func (t *Table) CanAccept(e Entry) bool {
	return t.Size()+e.Size() <= t.limit
}

// IsOverflowing is strict: a table exactly at bound is not overflowing.
func (t *Table) IsOverflowing(bound int64) bool {
	return t.Size() > bound
}

// PopMin removes and returns the minimum-key entry. ok is false when the
// table is empty.
func (t *Table) PopMin() (Entry, bool) {
	var (
		e     Entry
		found bool
	)
	t.set.Range(func(key []byte, vv types.VersionedValue) bool {
		e = Entry{Key: key, VersionedValue: vv}
		found = true
		return false
	})
	if !found {
		return Entry{}, false
	}

	t.set.Delete(e.Key)
	t.size.Add(-e.Size())
	t.resetMin()
	if t.IsEmpty() {
		t.max.Store(nil)
	}
	return e, true
}

// Drain empties the table into an ascending slice and hands back a fresh
// empty table with the same comparator and limit. The receiver must not be
// written to afterwards.
func (t *Table) Drain() ([]Entry, *Table) {
	entries := t.Entries()
	t.drained.Store(true)
	for _, e := range entries {
		t.set.Delete(e.Key)
	}
	t.size.Store(0)
	t.min.Store(nil)
	t.max.Store(nil)

	return entries, New(t.cmp, t.limit)
}

// Range calls f for every entry in ascending key order until f returns false.
func (t *Table) Range(f func(e Entry) bool) {
	t.set.Range(func(key []byte, vv types.VersionedValue) bool {
		return f(Entry{Key: key, VersionedValue: vv})
	})
}

// Entries returns an ascending, non-destructive copy of the table contents.
func (t *Table) Entries() []Entry {
	result := make([]Entry, 0, t.Len())
	t.Range(func(e Entry) bool {
		result = append(result, e)
		return true
	})
	return result
}

func (t *Table) Records() []types.Record {
	result := make([]types.Record, 0, t.Len())
	t.Range(func(e Entry) bool {
		result = append(result, e.Record())
		return true
	})
	return result
}

// Clone returns an independent table with the same contents.
func (t *Table) Clone() *Table {
	c := New(t.cmp, t.limit)
	t.Range(func(e Entry) bool {
		c.PutEntry(e)
		return true
	})
	return c
}

func (t *Table) widen(key []byte) {
	if mn := t.min.Load(); mn == nil || t.cmp(key, *mn) < 0 {
		k := key
		t.min.Store(&k)
	}
	if mx := t.max.Load(); mx == nil || t.cmp(key, *mx) > 0 {
		k := key
		t.max.Store(&k)
	}
}

func (t *Table) resetMin() {
	var (
		first []byte
		found bool
	)
	t.set.Range(func(key []byte, _ types.VersionedValue) bool {
		first = key
		found = true
		return false
	})
	if !found {
		t.min.Store(nil)
		return
	}
	t.min.Store(&first)
}

// resetMax walks the whole table; only Delete needs it.
func (t *Table) resetMax() {
	var (
		last  []byte
		found bool
	)
	t.set.Range(func(key []byte, _ types.VersionedValue) bool {
		last = key
		found = true
		return true
	})
	if !found {
		t.max.Store(nil)
		return
	}
	t.max.Store(&last)
}

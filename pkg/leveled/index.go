package leveled

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"hotcold/pkg/dberrors"
	"hotcold/pkg/metrics"
	"hotcold/pkg/table"
	"hotcold/pkg/types"
)

// iSink receives full hot tables evicted from the last level.
type iSink interface {
	Dump(t *table.Table) error
}

// version is one published layout. Its level slices and tables are never
// mutated after publication, except for the root fast path which writes
// through the concurrent-safe root table.
type version struct {
	levels [][]*table.Table
}

// Location addresses a table inside the index.
type Location struct {
	Level int `json:"level"`
	Table int `json:"table"`
}

// Index is an in-memory leveled index of hot keys.
//
// Level 0 always holds exactly one table, the root. Every other level is a
// sorted run of key-disjoint tables bounded by the level capacity. Writers
// are serialized; readers work on the last published version without
// locking.
type Index struct {
	cmp      table.Comparator
	caps     []int
	hotBound int64
	sink     iSink
	mc       metrics.Collector

	mu  sync.Mutex
	cur atomic.Pointer[version]
}

type Option func(*Index)

func WithMetrics(mc metrics.Collector) Option {
	return func(ix *Index) {
		if mc != nil {
			ix.mc = mc
		}
	}
}

// New creates an index with one empty root table. capacities[i] is the
// maximum table count of level i and capacities[0] must be 1.
func New(cmp table.Comparator, capacities []int, hotBound int64, sink iSink, opts ...Option) (*Index, error) {
	if len(capacities) == 0 {
		return nil, fmt.Errorf("%w: empty level capacity schedule", dberrors.ErrConstruction)
	}
	if capacities[0] != 1 {
		return nil, fmt.Errorf("%w: level 0 capacity must be 1, got %d", dberrors.ErrConstruction, capacities[0])
	}
	for i, c := range capacities {
		if c < 1 {
			return nil, fmt.Errorf("%w: level %d capacity must be positive, got %d", dberrors.ErrConstruction, i, c)
		}
	}
	if hotBound <= 0 {
		return nil, fmt.Errorf("%w: hot table bound must be positive, got %d", dberrors.ErrConstruction, hotBound)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", dberrors.ErrConstruction)
	}
	if cmp == nil {
		cmp = table.BytewiseComparator
	}

	ix := &Index{
		cmp:      cmp,
		caps:     slices.Clone(capacities),
		hotBound: hotBound,
		sink:     sink,
		mc:       metrics.Nop,
	}
	for _, opt := range opts {
		opt(ix)
	}

	levels := make([][]*table.Table, len(capacities))
	levels[0] = []*table.Table{table.New(cmp, hotBound)}
	ix.cur.Store(&version{levels: levels})

	return ix, nil
}

func (ix *Index) HotBound() int64 {
	return ix.hotBound
}

func (ix *Index) Capacities() []int {
	return slices.Clone(ix.caps)
}

// Root returns the current level 0 table.
func (ix *Index) Root() *table.Table {
	return ix.cur.Load().levels[0][0]
}

// Levels returns a snapshot of the current layout. Tables must be treated
// as read-only.
func (ix *Index) Levels() [][]*table.Table {
	v := ix.cur.Load()
	out := make([][]*table.Table, len(v.levels))
	for i, lv := range v.levels {
		out[i] = slices.Clone(lv)
	}
	return out
}

// TryReplaceInRoot overwrites r in the root table if the root already holds
// its key, then restores the invariants. It reports whether a replace
// happened. On error the root is left as it was.
func (ix *Index) TryReplaceInRoot(r types.Record) (bool, error) {
	if r.Size() > ix.hotBound {
		return false, fmt.Errorf("%w: %d bytes exceeds hot table bound %d", dberrors.ErrTooLargeEntry, r.Size(), ix.hotBound)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	v := ix.cur.Load()
	root := v.levels[0][0]
	if !root.HasKey(r.Key) {
		return false, nil
	}

	prev, _ := root.PutRecord(r)
	ix.mc.IncCounter(metrics.RootReplaces, nil, 1)
	if !root.IsOverflowing(ix.hotBound) {
		return true, nil
	}

	err := ix.rebuild(v, func(b *builder) error {
		return b.cascade(0, 0)
	})
	if err != nil {
		root.PutEntry(prev)
		return false, err
	}
	return true, nil
}

// BulkInsert puts every record into the root and runs one cascade. Either
// all records land and the new layout is published, or nothing changes.
func (ix *Index) BulkInsert(records []types.Record) error {
	for _, r := range records {
		if r.Size() > ix.hotBound {
			return fmt.Errorf("%w: key %q is %d bytes, hot table bound is %d",
				dberrors.ErrTooLargeEntry, r.Key, r.Size(), ix.hotBound)
		}
	}
	if len(records) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.rebuild(ix.cur.Load(), func(b *builder) error {
		root := b.own(0, 0)
		for _, r := range records {
			root.PutRecord(r)
		}
		return b.cascade(0, 0)
	})
}

// rebuild runs fn against a copy-on-write working layout and publishes it
// with a single pointer swap when fn succeeds.
func (ix *Index) rebuild(v *version, fn func(b *builder) error) error {
	ix.mc.IncCounter(metrics.Cascades, nil, 1)

	b := newBuilder(ix, v)
	if err := fn(b); err != nil {
		return err
	}

	ix.cur.Store(&version{levels: b.levels})
	ix.observe(b.levels)
	return nil
}

func (ix *Index) observe(levels [][]*table.Table) {
	for i, lv := range levels {
		var bytes int64
		for _, t := range lv {
			bytes += t.Size()
		}
		labels := map[string]string{"level": strconv.Itoa(i)}
		ix.mc.SetGauge(metrics.LevelTables, labels, float64(len(lv)))
		ix.mc.SetGauge(metrics.LevelBytes, labels, float64(bytes))
	}
}

// Get looks key up from the root downwards. The first hit is the freshest
// copy. Tombstones are returned as entries with a delete op.
func (ix *Index) Get(key types.Key) (table.Entry, Location, bool) {
	v := ix.cur.Load()
	for li, lv := range v.levels {
		if len(lv) == 0 {
			continue
		}
		pos := 0
		if li > 0 {
			var err error
			if pos, err = searchLeft(ix.cmp, key, lv); err != nil {
				slog.Warn("skipping level during lookup", "level", li, "error", err)
				continue
			}
		}
		if vv, ok := lv[pos].Get(key); ok {
			return table.Entry{Key: key, VersionedValue: vv}, Location{Level: li, Table: pos}, true
		}
	}
	return table.Entry{}, Location{}, false
}

// Records returns the freshest copy of every key held by the index, in key
// order. Older copies shadowed by a level above are skipped.
func (ix *Index) Records() []types.Record {
	v := ix.cur.Load()
	seen := make(map[string]struct{})
	out := make([]types.Record, 0)
	for _, lv := range v.levels {
		for _, t := range lv {
			t.Range(func(e table.Entry) bool {
				if _, ok := seen[string(e.Key)]; !ok {
					seen[string(e.Key)] = struct{}{}
					out = append(out, e.Record())
				}
				return true
			})
		}
	}
	slices.SortFunc(out, func(a, b types.Record) int {
		return ix.cmp(a.Key, b.Key)
	})
	return out
}

// TableStats describes one table of a level.
type TableStats struct {
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	MinKey  string `json:"min_key,omitempty"`
	MaxKey  string `json:"max_key,omitempty"`
}

// LevelStats describes one level.
type LevelStats struct {
	Level    int          `json:"level"`
	Capacity int          `json:"capacity"`
	Bytes    int64        `json:"bytes"`
	Tables   []TableStats `json:"tables"`
}

func (ix *Index) Stats() []LevelStats {
	v := ix.cur.Load()
	out := make([]LevelStats, 0, len(v.levels))
	for li, lv := range v.levels {
		ls := LevelStats{
			Level:    li,
			Capacity: ix.caps[li],
			Tables:   make([]TableStats, 0, len(lv)),
		}
		for _, t := range lv {
			ts := TableStats{Entries: t.Len(), Bytes: t.Size()}
			if mn, err := t.MinKey(); err == nil {
				ts.MinKey = string(mn)
			}
			if mx, err := t.MaxKey(); err == nil {
				ts.MaxKey = string(mx)
			}
			ls.Bytes += ts.Bytes
			ls.Tables = append(ls.Tables, ts)
		}
		out = append(out, ls)
	}
	return out
}

// Check verifies the at-rest invariants of the published layout.
func (ix *Index) Check() error {
	v := ix.cur.Load()
	if n := len(v.levels[0]); n != 1 {
		return fmt.Errorf("%w: level 0 holds %d tables", dberrors.ErrInvariantViolation, n)
	}
	for li, lv := range v.levels {
		if len(lv) > ix.caps[li] {
			return fmt.Errorf("%w: level %d holds %d tables, capacity %d",
				dberrors.ErrInvariantViolation, li, len(lv), ix.caps[li])
		}
		for ti, t := range lv {
			if t.IsOverflowing(ix.hotBound) {
				return fmt.Errorf("%w: table %d of level %d is %d bytes, bound %d",
					dberrors.ErrInvariantViolation, ti, li, t.Size(), ix.hotBound)
			}
		}
		if li == 0 {
			continue
		}
		if err := checkRun(ix.cmp, li, lv); err != nil {
			return err
		}
	}
	return nil
}

package leveled

import (
	"fmt"
	"log/slog"
	"slices"

	"hotcold/pkg/dberrors"
	"hotcold/pkg/metrics"
	"hotcold/pkg/table"
)

// builder is the working copy a cascade runs against. Level slices are
// private to the builder from the start; tables are cloned the first time
// the builder mutates them, so the published version stays untouched until
// the new one is swapped in.
type builder struct {
	ix     *Index
	levels [][]*table.Table
	owned  map[*table.Table]struct{}
}

func newBuilder(ix *Index, v *version) *builder {
	levels := make([][]*table.Table, len(v.levels))
	for i, lv := range v.levels {
		levels[i] = slices.Clone(lv)
	}
	return &builder{
		ix:     ix,
		levels: levels,
		owned:  make(map[*table.Table]struct{}),
	}
}

// own returns a mutable table at levels[level][pos], cloning it on first use.
func (b *builder) own(level, pos int) *table.Table {
	t := b.levels[level][pos]
	if _, ok := b.owned[t]; ok {
		return t
	}
	c := t.Clone()
	b.owned[c] = struct{}{}
	b.levels[level][pos] = c
	return c
}

func (b *builder) newTable() *table.Table {
	t := table.New(b.ix.cmp, b.ix.hotBound)
	b.owned[t] = struct{}{}
	return t
}

// cascade splits the table at (level, pos) if it overflows, then brings the
// level back under its capacity.
func (b *builder) cascade(level, pos int) error {
	b.splitAt(level, pos)
	return b.settle(level)
}

func (b *builder) splitAt(level, pos int) {
	if !b.levels[level][pos].IsOverflowing(b.ix.hotBound) {
		return
	}
	parts := b.split(b.own(level, pos))
	b.levels[level] = slices.Replace(b.levels[level], pos, pos+1, parts...)
}

// split pops minimum entries off t into fresh tables until t no longer
// overflows. The pieces come back in key order with the shrunk t last.
// t must be owned by the builder.
func (b *builder) split(t *table.Table) []*table.Table {
	if !t.IsOverflowing(b.ix.hotBound) {
		return []*table.Table{t}
	}
	b.ix.mc.IncCounter(metrics.Splits, nil, 1)

	parts := make([]*table.Table, 0, 2)
	cur := b.newTable()
	for t.IsOverflowing(b.ix.hotBound) {
		e, ok := t.PopMin()
		if !ok {
			break
		}
		if !cur.CanAccept(e) && !cur.IsEmpty() {
			parts = append(parts, cur)
			cur = b.newTable()
		}
		cur.PutEntry(e)
	}
	if !cur.IsEmpty() {
		parts = append(parts, cur)
	}
	if !t.IsEmpty() {
		parts = append(parts, t)
	}
	return parts
}

// settle evicts the last table of level while the level is over capacity:
// into the next level, or to the sink from the last level.
func (b *builder) settle(level int) error {
	last := len(b.ix.caps) - 1
	for len(b.levels[level]) > b.ix.caps[level] {
		n := len(b.levels[level])
		t := b.levels[level][n-1]

		if level == last {
			if err := b.ix.sink.Dump(t); err != nil {
				b.ix.mc.IncCounter(metrics.DumpFailures, nil, 1)
				slog.Error("failed to dump hot table",
					"level", level, "entries", t.Len(), "size", t.Size(), "error", err)
				return fmt.Errorf("%w: dump table from level %d: %w", dberrors.ErrExternalSink, level, err)
			}
			b.ix.mc.IncCounter(metrics.Dumps, nil, 1)
			slog.Debug("dumped hot table", "level", level, "entries", t.Len(), "size", t.Size())
			b.levels[level] = b.levels[level][:n-1]
			continue
		}

		b.levels[level] = b.levels[level][:n-1]
		b.ix.mc.IncCounter(metrics.Demotions, nil, 1)
		slog.Debug("demoting table", "from", level, "to", level+1, "entries", t.Len(), "size", t.Size())
		if err := b.mergePush(t, level+1); err != nil {
			return err
		}
	}
	return nil
}

// mergePush places t into the sorted run of target, merging it with the
// tables whose key ranges it overlaps. Entries of t win over older copies of
// the same key.
func (b *builder) mergePush(t *table.Table, target int) error {
	b.ix.mc.IncCounter(metrics.MergePushes, nil, 1)
	cmp := b.ix.cmp
	lv := b.levels[target]

	if len(lv) == 0 {
		b.levels[target] = []*table.Table{t}
		return b.cascade(target, 0)
	}

	tMin, err := t.MinKey()
	if err != nil {
		return fmt.Errorf("%w: pushed table into level %d: %w", dberrors.ErrInvariantViolation, target, err)
	}
	tMax, err := t.MaxKey()
	if err != nil {
		return fmt.Errorf("%w: pushed table into level %d: %w", dberrors.ErrInvariantViolation, target, err)
	}
	firstMin, err := lv[0].MinKey()
	if err != nil {
		return fmt.Errorf("%w: level %d: %w", dberrors.ErrInvariantViolation, target, err)
	}
	lastMax, err := lv[len(lv)-1].MaxKey()
	if err != nil {
		return fmt.Errorf("%w: level %d: %w", dberrors.ErrInvariantViolation, target, err)
	}

	switch {
	case cmp(tMax, firstMin) < 0:
		run := make([]*table.Table, 0, len(lv)+1)
		run = append(run, t)
		b.levels[target] = append(run, lv...)
		return b.cascade(target, 0)
	case cmp(tMin, lastMax) > 0:
		b.levels[target] = append(lv, t)
		return b.cascade(target, len(lv))
	}

	lo, err := searchLeft(cmp, tMin, lv)
	if err != nil {
		return err
	}
	hi, err := searchRight(cmp, tMax, lv)
	if err != nil {
		return err
	}

	if lo > hi {
		// t falls entirely between lv[hi] and lv[lo]
		run := make([]*table.Table, 0, len(lv)+1)
		run = append(run, lv[:lo]...)
		run = append(run, t)
		run = append(run, lv[lo:]...)
		if err := checkRun(cmp, target, run); err != nil {
			return err
		}
		b.levels[target] = run
		return b.cascade(target, lo)
	}

	overlap := make([]*table.Table, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		overlap = append(overlap, b.own(target, i))
	}
	for _, e := range b.drain(t) {
		pos, err := searchLeft(cmp, e.Key, overlap)
		if err != nil {
			return err
		}
		overlap[pos].PutEntry(e)
	}

	run := make([]*table.Table, 0, len(lv)+len(overlap))
	run = append(run, lv[:lo]...)
	for _, ot := range overlap {
		run = append(run, b.split(ot)...)
	}
	run = append(run, lv[hi+1:]...)
	if err := checkRun(cmp, target, run); err != nil {
		return err
	}
	b.levels[target] = run
	return b.settle(target)
}

// drain empties t if the builder owns it. Published tables are only read,
// they simply stop being referenced by the new version.
func (b *builder) drain(t *table.Table) []table.Entry {
	if _, ok := b.owned[t]; ok {
		entries, _ := t.Drain()
		return entries
	}
	return t.Entries()
}

// searchLeft returns the leftmost table in run whose max key is >= key, or
// the last index when no table qualifies.
func searchLeft(cmp table.Comparator, key []byte, run []*table.Table) (int, error) {
	if len(run) == 0 {
		return 0, fmt.Errorf("%w: search in empty run", dberrors.ErrInvariantViolation)
	}
	l, r := 0, len(run)-1
	for l < r {
		m := (l + r) / 2
		mx, err := run[m].MaxKey()
		if err != nil {
			return 0, fmt.Errorf("%w: table %d: %w", dberrors.ErrInvariantViolation, m, err)
		}
		if cmp(mx, key) >= 0 {
			r = m
		} else {
			l = m + 1
		}
	}
	return l, nil
}

// searchRight returns the rightmost table in run whose min key is <= key,
// or 0 when no table qualifies.
func searchRight(cmp table.Comparator, key []byte, run []*table.Table) (int, error) {
	if len(run) == 0 {
		return 0, fmt.Errorf("%w: search in empty run", dberrors.ErrInvariantViolation)
	}
	l, r := 0, len(run)-1
	for l < r {
		m := (l + r + 1) / 2
		mn, err := run[m].MinKey()
		if err != nil {
			return 0, fmt.Errorf("%w: table %d: %w", dberrors.ErrInvariantViolation, m, err)
		}
		if cmp(mn, key) <= 0 {
			l = m
		} else {
			r = m - 1
		}
	}
	return l, nil
}

// checkRun verifies that run is non-empty per table and strictly ordered:
// max of each table below min of the next.
func checkRun(cmp table.Comparator, level int, run []*table.Table) error {
	var prevMax []byte
	for i, t := range run {
		mn, err := t.MinKey()
		if err != nil {
			return fmt.Errorf("%w: level %d table %d: %w", dberrors.ErrInvariantViolation, level, i, err)
		}
		mx, err := t.MaxKey()
		if err != nil {
			return fmt.Errorf("%w: level %d table %d: %w", dberrors.ErrInvariantViolation, level, i, err)
		}
		if i > 0 && cmp(prevMax, mn) >= 0 {
			return fmt.Errorf("%w: level %d tables %d and %d overlap (%q >= %q)",
				dberrors.ErrInvariantViolation, level, i-1, i, prevMax, mn)
		}
		prevMax = mx
	}
	return nil
}

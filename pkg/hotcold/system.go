package hotcold

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"hotcold/pkg/dberrors"
	"hotcold/pkg/heat"
	"hotcold/pkg/leveled"
	"hotcold/pkg/metrics"
	"hotcold/pkg/policy"
	"hotcold/pkg/table"
	"hotcold/pkg/types"
)

type iIndex interface {
	HotBound() int64
	TryReplaceInRoot(r types.Record) (bool, error)
	BulkInsert(records []types.Record) error
	Get(key types.Key) (table.Entry, leveled.Location, bool)
	Records() []types.Record
	Stats() []leveled.LevelStats
}

// Tier names where a key was found.
const (
	TierHot     = "hot"
	TierStaging = "staging"
)

type Option func(*System)

func WithMetrics(mc metrics.Collector) Option {
	return func(s *System) {
		if mc != nil {
			s.mc = mc
		}
	}
}

func WithComparator(cmp table.Comparator) Option {
	return func(s *System) {
		if cmp != nil {
			s.cmp = cmp
		}
	}
}

// System routes writes between the leveled hot index and the staging table.
// Writes are serialized; Get and Stats never block on a writer.
type System struct {
	index        iIndex
	policy       policy.Policy
	stagingBound int64
	cmp          table.Comparator
	mc           metrics.Collector

	mu      sync.Mutex
	staging atomic.Pointer[table.Table]
	heat    *heat.Tracker
}

func New(index iIndex, p policy.Policy, stagingBound int64, opts ...Option) (*System, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: nil index", dberrors.ErrConstruction)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: nil policy", dberrors.ErrConstruction)
	}
	if stagingBound < index.HotBound() {
		return nil, fmt.Errorf("%w: staging bound %d is below hot table bound %d",
			dberrors.ErrConstruction, stagingBound, index.HotBound())
	}

	s := &System{
		index:        index,
		policy:       p,
		stagingBound: stagingBound,
		cmp:          table.BytewiseComparator,
		mc:           metrics.Nop,
		heat:         heat.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.staging.Store(s.newStaging())

	return s, nil
}

func (s *System) newStaging() *table.Table {
	return table.New(s.cmp, s.stagingBound)
}

// Write applies r and returns the cold records that must now be persisted
// by the caller. On error nothing observable has changed.
func (s *System) Write(r types.Record) ([]types.Record, error) {
	if len(r.Key) == 0 {
		return nil, fmt.Errorf("%w: empty key", dberrors.ErrInvalidArgument)
	}
	if bound := s.index.HotBound(); r.Size() > bound {
		return nil, fmt.Errorf("%w: %d bytes exceeds hot table bound %d", dberrors.ErrTooLargeEntry, r.Size(), bound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mc.IncCounter(metrics.Writes, nil, 1)

	replaced, err := s.index.TryReplaceInRoot(r)
	if err != nil {
		return nil, err
	}
	if replaced {
		return nil, nil
	}

	st := s.staging.Load()
	prev, hadPrev := st.PutRecord(r)
	s.heat.Increment(r.Key)

	if !st.IsOverflowing(s.stagingBound) {
		s.mc.SetGauge(metrics.StagingBytes, nil, float64(st.Size()))
		return nil, nil
	}

	cold, err := s.flushStaging(st)
	if err != nil {
		if hadPrev {
			st.PutEntry(prev)
		} else {
			st.Delete(r.Key)
		}
		s.heat.Decrement(r.Key)
		return nil, err
	}
	return cold, nil
}

// flushStaging classifies the overflowing staging table, moves the hot part
// into the index and starts a fresh staging cycle.
func (s *System) flushStaging(st *table.Table) ([]types.Record, error) {
	hot, cold := s.policy.Partition(st, s.heat)
	if err := verifyPartition(st, hot, cold); err != nil {
		return nil, err
	}
	hot, cold, promoted := s.promoteShadowing(hot, cold)

	if err := s.index.BulkInsert(hot); err != nil {
		return nil, fmt.Errorf("failed to insert hot records: %w", err)
	}

	s.staging.Store(s.newStaging())
	s.heat.Clear()

	s.mc.IncCounter(metrics.StagingOverflows, nil, 1)
	s.mc.IncCounter(metrics.HotRecords, nil, float64(len(hot)))
	s.mc.IncCounter(metrics.ColdRecords, nil, float64(len(cold)))
	s.mc.SetGauge(metrics.StagingBytes, nil, 0)
	slog.Info("staging table overflowed", "size", st.Size(), "hot", len(hot), "cold", len(cold), "promoted", promoted)

	return cold, nil
}

// promoteShadowing moves to hot every cold record whose key still has an
// older copy in the index. The index then never serves a version older than
// one sent to the sink.
func (s *System) promoteShadowing(hot, cold []types.Record) ([]types.Record, []types.Record, int) {
	kept := cold[:0:0]
	promoted := 0
	for _, r := range cold {
		if _, _, ok := s.index.Get(r.Key); ok {
			hot = append(hot, r)
			promoted++
			continue
		}
		kept = append(kept, r)
	}
	return hot, kept, promoted
}

// verifyPartition checks that hot and cold together hold every staging entry
// exactly once, unchanged.
func verifyPartition(st *table.Table, hot, cold []types.Record) error {
	if n := len(hot) + len(cold); n != st.Len() {
		return fmt.Errorf("%w: %d records for %d staging entries", dberrors.ErrInvalidPartition, n, st.Len())
	}

	seen := make(map[string]struct{}, st.Len())
	for _, part := range [][]types.Record{hot, cold} {
		for _, r := range part {
			if _, dup := seen[string(r.Key)]; dup {
				return fmt.Errorf("%w: key %q classified twice", dberrors.ErrInvalidPartition, r.Key)
			}
			seen[string(r.Key)] = struct{}{}

			vv, ok := st.Get(r.Key)
			if !ok {
				return fmt.Errorf("%w: key %q is not staged", dberrors.ErrInvalidPartition, r.Key)
			}
			if vv.SeqN != r.SeqN || vv.Op != r.Op {
				return fmt.Errorf("%w: key %q does not match its staged version", dberrors.ErrInvalidPartition, r.Key)
			}
		}
	}
	return nil
}

// Lookup is the result of Get.
type Lookup struct {
	Entry    table.Entry
	Tier     string
	Location leveled.Location
}

// Get returns the freshest version of key across the hot index and staging.
// A key missing from both is either absent or only in the sink.
func (s *System) Get(key types.Key) (Lookup, bool) {
	var (
		res   Lookup
		found bool
	)
	if e, loc, ok := s.index.Get(key); ok {
		res, found = Lookup{Entry: e, Tier: TierHot, Location: loc}, true
	}
	if vv, ok := s.staging.Load().Get(key); ok && (!found || vv.SeqN > res.Entry.SeqN) {
		res, found = Lookup{Entry: table.Entry{Key: key, VersionedValue: vv}, Tier: TierStaging}, true
	}
	return res, found
}

// Records returns the freshest in-memory copy of every key, in key order.
// Used to hand the memory contents to the sink on shutdown.
func (s *System) Records() []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.index.Records()
	pos := make(map[string]int, len(out))
	for i, r := range out {
		pos[string(r.Key)] = i
	}
	s.staging.Load().Range(func(e table.Entry) bool {
		i, ok := pos[string(e.Key)]
		switch {
		case !ok:
			out = append(out, e.Record())
		case e.SeqN > out[i].SeqN:
			out[i] = e.Record()
		}
		return true
	})
	slices.SortFunc(out, func(a, b types.Record) int {
		return s.cmp(a.Key, b.Key)
	})
	return out
}

// Heat returns the write count of key in the current staging cycle.
func (s *System) Heat(key types.Key) uint64 {
	return s.heat.Get(key)
}

type Stats struct {
	StagingEntries int                  `json:"staging_entries"`
	StagingBytes   int64                `json:"staging_bytes"`
	StagingBound   int64                `json:"staging_bound"`
	HotTableBound  int64                `json:"hot_table_bound"`
	HeatKeys       int                  `json:"heat_keys"`
	Levels         []leveled.LevelStats `json:"levels"`
}

func (s *System) Stats() Stats {
	st := s.staging.Load()
	return Stats{
		StagingEntries: st.Len(),
		StagingBytes:   st.Size(),
		StagingBound:   s.stagingBound,
		HotTableBound:  s.index.HotBound(),
		HeatKeys:       s.heat.Len(),
		Levels:         s.index.Stats(),
	}
}

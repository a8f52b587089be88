package policy

import (
	"fmt"
	"math"
	"sort"

	"hotcold/pkg/dberrors"
	"hotcold/pkg/table"
	"hotcold/pkg/types"
)

const (
	KindTopFraction = "top-fraction"
	KindAllCold     = "all-cold"
)

// HeatSource reports how many times a key was written in the current
// staging cycle.
type HeatSource interface {
	Get(key []byte) uint64
}

// Policy splits the staging table into hot records, which stay in memory,
// and cold records, which are handed back for durable flush. Implementations
// must return a complete, disjoint partition of the table's contents and
// must not mutate the table.
type Policy interface {
	Partition(staging *table.Table, heat HeatSource) (hot, cold []types.Record)
}

// Func adapts a plain function to Policy.
type Func func(staging *table.Table, heat HeatSource) (hot, cold []types.Record)

func (f Func) Partition(staging *table.Table, heat HeatSource) (hot, cold []types.Record) {
	return f(staging, heat)
}

// TopFraction keeps as hot the hottest Fraction of the records whose heat
// exceeds MinHeat. Equal heat is broken by key order.
type TopFraction struct {
	MinHeat  uint64
	Fraction float64
}

func (p TopFraction) Partition(staging *table.Table, heat HeatSource) (hot, cold []types.Record) {
	type candidate struct {
		idx  int
		heat uint64
	}

	records := staging.Records()
	candidates := make([]candidate, 0)
	for i, r := range records {
		if h := heat.Get(r.Key); h > p.MinHeat {
			candidates = append(candidates, candidate{idx: i, heat: h})
		}
	}

	n := int(math.Ceil(p.Fraction * float64(len(candidates))))
	if n > len(candidates) {
		n = len(candidates)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].heat > candidates[j].heat
	})

	isHot := make([]bool, len(records))
	for _, c := range candidates[:n] {
		isHot[c.idx] = true
	}

	hot = make([]types.Record, 0, n)
	cold = make([]types.Record, 0, len(records)-n)
	for i, r := range records {
		if isHot[i] {
			hot = append(hot, r)
		} else {
			cold = append(cold, r)
		}
	}
	return hot, cold
}

// AllCold sends the whole staging table to durable storage.
type AllCold struct{}

func (AllCold) Partition(staging *table.Table, _ HeatSource) (hot, cold []types.Record) {
	return nil, staging.Records()
}

// New builds a policy by kind name.
func New(kind string, minHeat uint64, fraction float64) (Policy, error) {
	switch kind {
	case KindTopFraction, "":
		if fraction <= 0 || fraction > 1 {
			return nil, fmt.Errorf("%w: policy fraction %v not in (0,1]", dberrors.ErrConstruction, fraction)
		}
		return TopFraction{MinHeat: minHeat, Fraction: fraction}, nil
	case KindAllCold:
		return AllCold{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", dberrors.ErrConstruction, kind)
	}
}

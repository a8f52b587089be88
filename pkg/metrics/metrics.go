package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Collector captures counters and gauges.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
}

// Metric names emitted by the hot/cold components.
const (
	Writes           = "hotcold_writes_total"
	RootReplaces     = "hotcold_root_replaces_total"
	StagingOverflows = "hotcold_staging_overflows_total"
	HotRecords       = "hotcold_hot_records_total"
	ColdRecords      = "hotcold_cold_records_total"
	Cascades         = "hotcold_cascades_total"
	Splits           = "hotcold_splits_total"
	MergePushes      = "hotcold_merge_pushes_total"
	Demotions        = "hotcold_demotions_total"
	Dumps            = "hotcold_dumps_total"
	DumpFailures     = "hotcold_dump_failures_total"
	FlushFailures    = "hotcold_flush_failures_total"
	LevelTables      = "hotcold_level_tables"
	LevelBytes       = "hotcold_level_bytes"
	StagingBytes     = "hotcold_staging_bytes"
)

type nop struct{}

func (nop) IncCounter(string, map[string]string, float64) {}
func (nop) SetGauge(string, map[string]string, float64)   {}

// Nop discards everything.
var Nop Collector = nop{}

type series struct {
	name   string
	labels string
	bits   atomic.Uint64
	gauge  bool
}

func (s *series) add(delta float64) {
	for {
		old := s.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if s.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (s *series) value() float64 {
	return math.Float64frombits(s.bits.Load())
}

// Registry is an in-memory Collector that renders the Prometheus text format.
type Registry struct {
	series sync.Map // name{labels} -> *series
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	r.get(name, labels, false).add(delta)
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	r.get(name, labels, true).bits.Store(math.Float64bits(value))
}

// Value returns the current value of a series, 0 if it was never touched.
func (r *Registry) Value(name string, labels map[string]string) float64 {
	v, ok := r.series.Load(seriesKey(name, formatLabels(labels)))
	if !ok {
		return 0
	}
	return v.(*series).value()
}

// WriteText writes every series sorted by name and labels.
func (r *Registry) WriteText(w io.Writer) error {
	all := make([]*series, 0)
	r.series.Range(func(_, v any) bool {
		all = append(all, v.(*series))
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].name != all[j].name {
			return all[i].name < all[j].name
		}
		return all[i].labels < all[j].labels
	})

	lastName := ""
	for _, s := range all {
		if s.name != lastName {
			kind := "counter"
			if s.gauge {
				kind = "gauge"
			}
			if _, err := fmt.Fprintf(w, "# TYPE %s %s\n", s.name, kind); err != nil {
				return err
			}
			lastName = s.name
		}
		if _, err := fmt.Fprintf(w, "%s %g\n", seriesKey(s.name, s.labels), s.value()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) get(name string, labels map[string]string, gauge bool) *series {
	ls := formatLabels(labels)
	key := seriesKey(name, ls)
	if v, ok := r.series.Load(key); ok {
		return v.(*series)
	}
	v, _ := r.series.LoadOrStore(key, &series{name: name, labels: ls, gauge: gauge})
	return v.(*series)
}

func seriesKey(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

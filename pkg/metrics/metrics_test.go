package metrics

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CountersAndGauges(t *testing.T) {
	r := NewRegistry()

	r.IncCounter(Writes, nil, 1)
	r.IncCounter(Writes, nil, 2)
	r.SetGauge(LevelTables, map[string]string{"level": "1"}, 4)
	r.SetGauge(LevelTables, map[string]string{"level": "1"}, 3)
	r.SetGauge(LevelTables, map[string]string{"level": "0"}, 1)

	assert.Equal(t, 3.0, r.Value(Writes, nil))
	assert.Equal(t, 3.0, r.Value(LevelTables, map[string]string{"level": "1"}))
	assert.Zero(t, r.Value(Dumps, nil))

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Equal(t,
		"# TYPE hotcold_level_tables gauge\n"+
			"hotcold_level_tables{level=\"0\"} 1\n"+
			"hotcold_level_tables{level=\"1\"} 3\n"+
			"# TYPE hotcold_writes_total counter\n"+
			"hotcold_writes_total 3\n",
		buf.String())
}

func TestRegistry_ConcurrentIncrements(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.IncCounter(Splits, nil, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000.0, r.Value(Splits, nil))
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop.IncCounter(Writes, nil, 1)
		Nop.SetGauge(LevelTables, nil, 1)
	})
}

package hotcold

import (
	"context"
	"errors"
	"sync"
	"testing"

	"hotcold/pkg/metrics"
	"hotcold/pkg/types"

	"github.com/stretchr/testify/assert"
)

type recordingWriter struct {
	mu      sync.Mutex
	fail    bool
	batches [][]types.Record
}

func (w *recordingWriter) WriteRecords(records []types.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("write failed")
	}
	w.batches = append(w.batches, records)
	return nil
}

func TestFlusher_PersistsQueuedBatches(t *testing.T) {
	in := make(chan []types.Record, 4)
	w := &recordingWriter{}
	f := NewFlusher(in, w, nil)
	f.Start(context.Background())

	in <- []types.Record{{Key: []byte("a"), SeqN: 1}}
	in <- []types.Record{{Key: []byte("b"), SeqN: 2}, {Key: []byte("c"), SeqN: 3}}
	f.Stop()

	assert.Len(t, w.batches, 2)
}

func TestFlusher_CountsFailures(t *testing.T) {
	in := make(chan []types.Record, 4)
	reg := metrics.NewRegistry()
	f := NewFlusher(in, &recordingWriter{fail: true}, reg)
	f.Start(context.Background())

	in <- []types.Record{{Key: []byte("a"), SeqN: 1}}
	f.Stop()

	assert.Equal(t, 1.0, reg.Value(metrics.FlushFailures, nil))
}

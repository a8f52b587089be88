package hotcold

import (
	"log/slog"

	"hotcold/pkg/listener"
	"hotcold/pkg/metrics"
	"hotcold/pkg/types"
)

type iRecordWriter interface {
	WriteRecords(records []types.Record) error
}

// NewFlusher persists cold batches received on in through w. A failed batch
// is logged and counted; the caller decides whether to retry.
func NewFlusher(in <-chan []types.Record, w iRecordWriter, mc metrics.Collector) *listener.Listener[[]types.Record] {
	if mc == nil {
		mc = metrics.Nop
	}
	return listener.New(in,
		w.WriteRecords,
		listener.WithErrorHandler(func(batch []types.Record, err error) {
			mc.IncCounter(metrics.FlushFailures, nil, 1)
			slog.Error("failed to flush cold records", "records", len(batch), "error", err)
		}),
		listener.WithStopHandler[[]types.Record](func() {
			slog.Info("cold flusher stopped")
		}),
	)
}

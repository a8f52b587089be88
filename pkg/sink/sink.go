package sink

import (
	"fmt"

	"hotcold/pkg/dberrors"
	"hotcold/pkg/table"
	"hotcold/pkg/types"
)

const (
	KindFile   = "file"
	KindPebble = "pebble"
)

// Sink is durable storage for records leaving the hot tier: whole tables
// dumped from the last level and cold records classified at staging
// overflow. Writes are all-or-nothing. Replaying the same records with the
// same sequence numbers is harmless.
type Sink interface {
	Dump(t *table.Table) error
	WriteRecords(records []types.Record) error
	// MaxSeqN is the highest sequence number persisted so far.
	MaxSeqN() types.SeqN
	Close() error
}

// Open creates the sink of the given kind rooted at path.
func Open(kind, path, compression, level string) (Sink, error) {
	switch kind {
	case KindFile, "":
		return OpenFile(path, compression, level)
	case KindPebble:
		return OpenPebble(path)
	default:
		return nil, fmt.Errorf("%w: unknown sink kind %q", dberrors.ErrConstruction, kind)
	}
}

func maxSeqN(records []types.Record) types.SeqN {
	var m types.SeqN
	for _, r := range records {
		m = max(m, r.SeqN)
	}
	return m
}

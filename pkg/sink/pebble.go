package sink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"hotcold/pkg/dberrors"
	"hotcold/pkg/table"
	"hotcold/pkg/types"

	"github.com/cockroachdb/pebble/v2"
)

const valueHeaderSize = types.SeqNSize + 1

var (
	recordPrefix = []byte("r/")
	maxSeqNKey   = []byte("m/max_seqn")
)

// PebbleSink applies records to a Pebble database. Values are stored as an
// 8-byte big-endian sequence number, one op byte and the user value. Deletes
// are kept as tombstones so an older put replayed later stays shadowed.
type PebbleSink struct {
	mu     sync.Mutex
	db     *pebble.DB
	maxSeq types.SeqN
	closed bool
}

func OpenPebble(dir string) (*PebbleSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty sink path", dberrors.ErrConstruction)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}

	s := &PebbleSink{db: db}
	raw, closer, err := db.Get(maxSeqNKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("failed to read max seqn: %w", err)
	default:
		s.maxSeq = types.SeqN(binary.BigEndian.Uint64(raw))
		closer.Close()
	}
	return s, nil
}

func (s *PebbleSink) Dump(t *table.Table) error {
	return s.WriteRecords(t.Records())
}

// WriteRecords commits records in one synced batch. A record older than
// the stored value of its key is skipped.
func (s *PebbleSink) WriteRecords(records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dberrors.ErrClosed
	}

	b := s.db.NewBatch()
	defer b.Close()

	maxSeq := s.maxSeq
	for _, r := range records {
		key := recordKey(r.Key)
		maxSeq = max(maxSeq, r.SeqN)

		stored, ok, err := s.get(key)
		if err != nil {
			return err
		}
		if ok && stored.SeqN > r.SeqN {
			continue
		}

		if err := b.Set(key, encodeValue(r), nil); err != nil {
			return fmt.Errorf("failed to stage %s: %w", r.Op, err)
		}
	}

	var seqBuf [types.SeqNSize]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(maxSeq))
	if err := b.Set(maxSeqNKey, seqBuf[:], nil); err != nil {
		return fmt.Errorf("failed to stage max seqn: %w", err)
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	s.maxSeq = maxSeq
	return nil
}

// Get returns the stored value of key. A deleted key is not found.
func (s *PebbleSink) Get(key types.Key) (types.VersionedValue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.VersionedValue{}, false, dberrors.ErrClosed
	}
	vv, ok, err := s.get(recordKey(key))
	if err != nil || !ok || vv.Op == types.DeleteOp {
		return types.VersionedValue{}, false, err
	}
	return vv, true, nil
}

func (s *PebbleSink) get(key []byte) (types.VersionedValue, bool, error) {
	raw, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return types.VersionedValue{}, false, nil
	}
	if err != nil {
		return types.VersionedValue{}, false, fmt.Errorf("failed to get key: %w", err)
	}
	defer closer.Close()

	if len(raw) < valueHeaderSize {
		return types.VersionedValue{}, false, fmt.Errorf("corrupt value of %d bytes", len(raw))
	}
	return types.VersionedValue{
		Value: append([]byte(nil), raw[valueHeaderSize:]...),
		SeqN:  types.SeqN(binary.BigEndian.Uint64(raw)),
		Op:    types.Op(raw[types.SeqNSize]),
	}, true, nil
}

func (s *PebbleSink) MaxSeqN() types.SeqN {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.maxSeq
}

func (s *PebbleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func recordKey(key types.Key) []byte {
	out := make([]byte, 0, len(recordPrefix)+len(key))
	out = append(out, recordPrefix...)
	return append(out, key...)
}

// encodeValue lays a record out as seq | op | value. Tombstones carry no value.
func encodeValue(r types.Record) []byte {
	value := r.Value
	if r.Op == types.DeleteOp {
		value = nil
	}
	out := make([]byte, valueHeaderSize, valueHeaderSize+len(value))
	binary.BigEndian.PutUint64(out, uint64(r.SeqN))
	out[types.SeqNSize] = byte(r.Op)
	return append(out, value...)
}

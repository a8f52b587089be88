package sink

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hotcold/pkg/compression"
	"hotcold/pkg/dberrors"
	"hotcold/pkg/table"
	"hotcold/pkg/types"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

const segmentExt = ".seg"

type segmentRecord struct {
	Key   []byte `cbor:"1,keyasint"`
	Value []byte `cbor:"2,keyasint,omitempty"`
	Op    uint8  `cbor:"3,keyasint"`
	SeqN  uint64 `cbor:"4,keyasint"`
}

type segment struct {
	Records []segmentRecord `cbor:"1,keyasint"`
}

// FileSink writes every batch as one compressed CBOR segment file and
// records it in the MANIFEST of its directory.
type FileSink struct {
	dir      string
	codec    compression.Codec
	manifest *Manifest

	mu     sync.Mutex
	closed bool
}

func OpenFile(dir, codecName, level string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty sink path", dberrors.ErrConstruction)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}

	codec, err := compression.New(codecName, level)
	if err != nil {
		return nil, err
	}

	m := NewManifest(dir)
	if err := m.Load(); err != nil {
		return nil, err
	}

	return &FileSink{
		dir:      dir,
		codec:    codec,
		manifest: m,
	}, nil
}

func (s *FileSink) Dump(t *table.Table) error {
	return s.write(SourceDump, t.Records())
}

func (s *FileSink) WriteRecords(records []types.Record) error {
	return s.write(SourceFlush, records)
}

func (s *FileSink) write(source Source, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dberrors.ErrClosed
	}

	seg := segment{Records: make([]segmentRecord, 0, len(records))}
	minKey, maxKey := records[0].Key, records[0].Key
	for _, r := range records {
		seg.Records = append(seg.Records, segmentRecord{
			Key:   r.Key,
			Value: r.Value,
			Op:    uint8(r.Op),
			SeqN:  uint64(r.SeqN),
		})
		if bytes.Compare(r.Key, minKey) < 0 {
			minKey = r.Key
		}
		if bytes.Compare(r.Key, maxKey) > 0 {
			maxKey = r.Key
		}
	}

	payload, err := cbor.Marshal(seg)
	if err != nil {
		return fmt.Errorf("failed to encode segment: %w", err)
	}
	data, err := s.codec.Compress(payload)
	if err != nil {
		return fmt.Errorf("failed to compress segment: %w", err)
	}

	id := uuid.New()
	name := id.String() + segmentExt
	path := filepath.Join(s.dir, name)
	if err := writeFileSync(path, data); err != nil {
		return err
	}

	info := SegmentInfo{
		ID:          id.String(),
		File:        name,
		Source:      source,
		Compression: s.codec.Name(),
		Records:     len(records),
		Size:        int64(len(data)),
		MinKey:      bytes.Clone(minKey),
		MaxKey:      bytes.Clone(maxKey),
		MaxSeqN:     maxSeqN(records),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.manifest.AddSegment(info); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Warn("failed to remove orphan segment", "file", path, "error", rmErr)
		}
		return err
	}

	slog.Debug("segment written", "id", info.ID, "source", source, "records", info.Records, "size", info.Size)
	return nil
}

// ReadSegment decodes the records of a segment listed in the manifest.
func (s *FileSink) ReadSegment(info SegmentInfo) ([]types.Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, info.File))
	if err != nil {
		return nil, fmt.Errorf("failed to read segment %s: %w", info.ID, err)
	}

	codec, err := compression.New(info.Compression, "")
	if err != nil {
		return nil, err
	}
	payload, err := codec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", info.ID, err)
	}

	var seg segment
	if err := cbor.Unmarshal(payload, &seg); err != nil {
		return nil, fmt.Errorf("failed to decode segment %s: %w", info.ID, err)
	}

	records := make([]types.Record, 0, len(seg.Records))
	for _, r := range seg.Records {
		records = append(records, types.Record{
			Key:   r.Key,
			Value: r.Value,
			Op:    types.Op(r.Op),
			SeqN:  types.SeqN(r.SeqN),
		})
	}
	return records, nil
}

func (s *FileSink) Segments() []SegmentInfo {
	return s.manifest.Segments()
}

func (s *FileSink) MaxSeqN() types.SeqN {
	return s.manifest.MaxSeqN()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write segment: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to sync segment: %w", err)
	}
	return f.Close()
}

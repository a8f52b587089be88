package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"hotcold/pkg/types"
)

const manifestName = "MANIFEST"

// Source tells which path produced a segment.
type Source string

const (
	SourceDump  Source = "dump"  // full hot table evicted from the last level
	SourceFlush Source = "flush" // cold records from a staging overflow
)

// Manifest tracks the segments written by a FileSink.
type Manifest struct {
	mu       sync.RWMutex
	filePath string
	metadata ManifestData
}

type ManifestData struct {
	Version  int           `json:"version"`
	MaxSeqN  types.SeqN    `json:"max_seqn"`
	Segments []SegmentInfo `json:"segments"`
}

// SegmentInfo describes one immutable segment file.
type SegmentInfo struct {
	ID          string     `json:"id"`
	File        string     `json:"file"`
	Source      Source     `json:"source"`
	Compression string     `json:"compression"`
	Records     int        `json:"records"`
	Size        int64      `json:"size"`
	MinKey      []byte     `json:"min_key"`
	MaxKey      []byte     `json:"max_key"`
	MaxSeqN     types.SeqN `json:"max_seqn"`
	CreatedAt   time.Time  `json:"created_at"`
}

func NewManifest(dataDir string) *Manifest {
	return &Manifest{
		filePath: filepath.Join(dataDir, manifestName),
		metadata: ManifestData{Version: 1},
	}
}

// Load reads the manifest from disk, creating it when missing.
func (m *Manifest) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return m.save()
	}
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	if err := json.Unmarshal(data, &m.metadata); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}
	return nil
}

// save writes a temp file and renames it over the manifest.
func (m *Manifest) save() error {
	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp := m.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, m.filePath); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// AddSegment appends info and persists the manifest. The in-memory state is
// only updated once the write succeeded.
func (m *Manifest) AddSegment(info SegmentInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.metadata
	m.metadata.Segments = append(slices.Clone(prev.Segments), info)
	m.metadata.MaxSeqN = max(prev.MaxSeqN, info.MaxSeqN)

	if err := m.save(); err != nil {
		m.metadata = prev
		return err
	}
	return nil
}

func (m *Manifest) Segments() []SegmentInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.metadata.Segments)
}

func (m *Manifest) MaxSeqN() types.SeqN {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.metadata.MaxSeqN
}

func (m *Manifest) TotalSize() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, s := range m.metadata.Segments {
		total += s.Size
	}
	return total
}

package sink

import (
	"os"
	"path/filepath"
	"testing"

	"hotcold/pkg/compression"
	"hotcold/pkg/dberrors"
	"hotcold/pkg/table"
	"hotcold/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(seq types.SeqN, kv ...string) []types.Record {
	out := make([]types.Record, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		seq++
		out = append(out, types.Record{Key: []byte(kv[i]), Value: []byte(kv[i+1]), SeqN: seq})
	}
	return out
}

func TestFileSink_DumpAndRead(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFile(dir, compression.Zstd, "fastest")
	require.NoError(t, err)

	tbl := table.New(nil, 1<<10)
	for _, r := range records(0, "b", "2", "a", "1", "c", "3") {
		tbl.PutRecord(r)
	}
	require.NoError(t, s.Dump(tbl))

	segs := s.Segments()
	require.Len(t, segs, 1)
	seg := segs[0]
	assert.Equal(t, SourceDump, seg.Source)
	assert.Equal(t, compression.Zstd, seg.Compression)
	assert.Equal(t, 3, seg.Records)
	assert.Equal(t, []byte("a"), seg.MinKey)
	assert.Equal(t, []byte("c"), seg.MaxKey)
	assert.Equal(t, types.SeqN(3), seg.MaxSeqN)
	assert.FileExists(t, filepath.Join(dir, seg.File))

	got, err := s.ReadSegment(seg)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", string(got[0].Key))
	assert.Equal(t, "1", string(got[0].Value))
	assert.Equal(t, types.SeqN(2), got[0].SeqN)
	assert.Equal(t, "c", string(got[2].Key))
}

func TestFileSink_WriteRecordsAndReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFile(dir, compression.Gzip, "")
	require.NoError(t, err)

	batch := records(10, "x", "1", "y", "2")
	batch = append(batch, types.Record{Key: []byte("z"), Op: types.DeleteOp, SeqN: 40})
	require.NoError(t, s.WriteRecords(batch))
	require.NoError(t, s.WriteRecords(nil))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.WriteRecords(batch), dberrors.ErrClosed)

	reopened, err := OpenFile(dir, compression.Zstd, "")
	require.NoError(t, err)
	assert.Equal(t, types.SeqN(40), reopened.MaxSeqN())

	segs := reopened.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, SourceFlush, segs[0].Source)

	// segments keep the codec they were written with
	got, err := reopened.ReadSegment(segs[0])
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, types.DeleteOp, got[2].Op)
	assert.Empty(t, got[2].Value)
}

func TestFileSink_ManifestFailureRemovesSegment(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFile(dir, compression.None, "")
	require.NoError(t, err)

	// a directory in place of the temp file makes the manifest write fail
	require.NoError(t, os.Mkdir(filepath.Join(dir, manifestName+".tmp"), 0755))

	err = s.WriteRecords(records(0, "a", "1"))
	require.Error(t, err)
	assert.Empty(t, s.Segments())

	matches, err := filepath.Glob(filepath.Join(dir, "*"+segmentExt))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOpen(t *testing.T) {
	_, err := Open("tape", t.TempDir(), "", "")
	assert.ErrorIs(t, err, dberrors.ErrConstruction)

	_, err = Open(KindFile, "", "", "")
	assert.ErrorIs(t, err, dberrors.ErrConstruction)

	s, err := Open(KindFile, t.TempDir(), compression.Zstd, "default")
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, s)
	require.NoError(t, s.Close())

	s, err = Open(KindPebble, t.TempDir(), "", "")
	require.NoError(t, err)
	assert.IsType(t, &PebbleSink{}, s)
	require.NoError(t, s.Close())
}

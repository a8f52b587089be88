package compression

import (
	"bytes"
	"fmt"
	"io"

	"hotcold/pkg/dberrors"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	None = "none"
	Gzip = "gzip"
	Zstd = "zstd"
)

// Codec compresses whole segment payloads.
type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// Levels accepted by New, from fastest to smallest output.
var Levels = []string{"fastest", "default", "better", "best"}

// New returns the codec registered under name at the given level. An empty
// name means zstd, an empty level means "default".
func New(name, level string) (Codec, error) {
	if level == "" {
		level = "default"
	}
	ok, zlevel := zstd.EncoderLevelFromString(level)
	if !ok {
		return nil, fmt.Errorf("%w: unknown compression level %q", dberrors.ErrConstruction, level)
	}

	switch name {
	case Zstd, "":
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zlevel))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return &zstdCodec{enc: enc, dec: dec}, nil
	case Gzip:
		return gzipCodec{level: gzipLevels[zlevel]}, nil
	case None:
		return noneCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", dberrors.ErrConstruction, name)
	}
}

type noneCodec struct{}

func (noneCodec) Name() string { return None }

func (noneCodec) Compress(src []byte) ([]byte, error) {
	return bytes.Clone(src), nil
}

func (noneCodec) Decompress(src []byte) ([]byte, error) {
	return bytes.Clone(src), nil
}

// zstdCodec shares one encoder and decoder; EncodeAll and DecodeAll are safe
// for concurrent use.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func (*zstdCodec) Name() string { return Zstd }

func (c *zstdCodec) Compress(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

func (c *zstdCodec) Decompress(src []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd: %w", err)
	}
	return out, nil
}

var gzipLevels = map[zstd.EncoderLevel]int{
	zstd.SpeedFastest:           gzip.BestSpeed,
	zstd.SpeedDefault:           gzip.DefaultCompression,
	zstd.SpeedBetterCompression: 7,
	zstd.SpeedBestCompression:   gzip.BestCompression,
}

type gzipCodec struct {
	level int
}

func (gzipCodec) Name() string { return Gzip }

func (c gzipCodec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := gz.Write(src); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(src []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

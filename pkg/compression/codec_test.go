package compression

import (
	"bytes"
	"testing"

	"hotcold/pkg/dberrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	payload := bytes.Repeat([]byte("hot keys stay hot, cold keys go to disk. "), 200)

	for _, name := range []string{None, Gzip, Zstd} {
		for _, level := range Levels {
			t.Run(name+"/"+level, func(t *testing.T) {
				c, err := New(name, level)
				require.NoError(t, err)
			assert.Equal(t, name, c.Name())

				packed, err := c.Compress(payload)
				require.NoError(t, err)
				if name != None {
					assert.Less(t, len(packed), len(payload))
				}

				unpacked, err := c.Decompress(packed)
				require.NoError(t, err)
				assert.Equal(t, payload, unpacked)
			})
		}
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("lz4", "")
	assert.ErrorIs(t, err, dberrors.ErrConstruction)

	_, err = New(Zstd, "ultra")
	assert.ErrorIs(t, err, dberrors.ErrConstruction)

	c, err := New("", "")
	require.NoError(t, err)
	assert.Equal(t, Zstd, c.Name())
}

func TestZstd_CorruptInput(t *testing.T) {
	c, err := New(Zstd, "fastest")
	require.NoError(t, err)
	_, err = c.Decompress([]byte("definitely not zstd"))
	assert.Error(t, err)
}

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidsonlab/ndstore/internal/codec"
)

func rawCodec(t *testing.T) codec.Codec {
	t.Helper()
	c, err := codec.Get("")
	require.NoError(t, err)
	return c
}

func TestKeyRoundTrip(t *testing.T) {
	for _, sep := range []string{".", "/"} {
		coord := []int{0, 12, 3}
		key := Key(coord, sep)
		back, err := ParseKey(key, sep)
		require.NoError(t, err)
		assert.Equal(t, coord, back)
	}
	assert.Equal(t, "0.1.2", Key([]int{0, 1, 2}, "."))
	assert.Equal(t, "0/1/2", Key([]int{0, 1, 2}, "/"))

	_, err := ParseKey("0.x.2", ".")
	assert.Error(t, err)
}

func TestDirStoreFlat(t *testing.T) {
	s, err := NewDirStore(t.TempDir(), ".", rawCodec(t))
	require.NoError(t, err)

	data := []byte{1, 2, 3, 4}
	require.NoError(t, s.PutChunkBytes([]int{0, 1}, data))
	got, err := s.GetChunkBytes([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Flat separator: the chunk is one file at the root.
	_, err = os.Stat(filepath.Join(s.Root(), "0.1"))
	assert.NoError(t, err)

	_, err = s.GetChunkBytes([]int{9, 9})
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestDirStoreNested(t *testing.T) {
	s, err := NewDirStore(t.TempDir(), "/", rawCodec(t))
	require.NoError(t, err)

	require.NoError(t, s.PutChunkBytes([]int{0, 1, 2}, []byte{7}))
	_, err = os.Stat(filepath.Join(s.Root(), "0", "1", "2"))
	assert.NoError(t, err)

	got, err := s.GetChunkBytes([]int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, got)
}

func TestDirStoreCompressed(t *testing.T) {
	c, err := codec.Get("zstd")
	require.NoError(t, err)
	s, err := NewDirStore(t.TempDir(), ".", c)
	require.NoError(t, err)

	data := make([]byte, 4096)
	require.NoError(t, s.PutChunkBytes([]int{0}, data))

	// On disk the chunk is compressed, through the API it is not.
	raw, err := os.ReadFile(filepath.Join(s.Root(), "0"))
	require.NoError(t, err)
	assert.Less(t, len(raw), len(data))

	got, err := s.GetChunkBytes([]int{0})
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDirStoreOverwrite(t *testing.T) {
	s, err := NewDirStore(t.TempDir(), ".", rawCodec(t))
	require.NoError(t, err)
	require.NoError(t, s.PutChunkBytes([]int{0}, []byte{1}))
	require.NoError(t, s.PutChunkBytes([]int{0}, []byte{2}))
	got, err := s.GetChunkBytes([]int{0})
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, got)
}

func TestDirStoreRejectsBadSeparator(t *testing.T) {
	_, err := NewDirStore(t.TempDir(), "-", rawCodec(t))
	assert.Error(t, err)
}

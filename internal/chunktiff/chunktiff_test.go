package chunktiff

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidsonlab/ndstore/internal/store"
	"github.com/davidsonlab/ndstore/internal/types"
)

func testDesc() types.Descriptor {
	return types.Descriptor{
		Axes: []types.Axis{
			{Name: types.AxisT, Size: 2, Chunk: 1},
			{Name: types.AxisC, Size: 3, Chunk: 1},
			{Name: types.AxisZ, Size: 4, Chunk: 4},
			// Y leaves a 7-row edge chunk, exercising partial extents.
			{Name: types.AxisY, Size: 15, Chunk: 8},
			{Name: types.AxisX, Size: 16, Chunk: 8},
		},
		Dtype: types.DtypeUint16,
	}
}

func denseBuffer(desc types.Descriptor) []byte {
	data := make([]byte, desc.NumElements()*desc.Dtype.Size())
	for i := range data {
		data[i] = byte(i % 239)
	}
	return data
}

func chunkAt(desc types.Descriptor, dense []byte, coord []int) ([]int, []byte) {
	ext, err := desc.ChunkExtent(coord)
	if err != nil {
		panic(err)
	}
	chunkShape := desc.ChunkShape()
	origin := make([]int, len(coord))
	for i := range coord {
		origin[i] = coord[i] * chunkShape[i]
	}
	return ext, types.ExtractChunk(dense, desc.Shape(), origin, ext, desc.Dtype.Size())
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run.ctif")
	desc := testDesc()
	dense := denseBuffer(desc)

	aw, err := writer{}.Create(dir, desc, types.WriteConfig{
		ShardSize: 8,
		Meta:      types.Metadata{Name: "run7", ChannelNames: []string{"a", "b", "c"}},
	})
	require.NoError(t, err)

	// Reverse grid order: the container accepts any write order.
	grid := desc.GridShape()
	for lin := desc.NumChunks() - 1; lin >= 0; lin-- {
		coord := types.CoordAt(lin, grid)
		ext, data := chunkAt(desc, dense, coord)
		require.NoError(t, aw.PutChunk(coord, ext, data))
	}
	require.NoError(t, aw.Close())
	require.NoError(t, aw.Close(), "Close must be idempotent")

	// 24 chunks at shard size 8: three shard files.
	for _, name := range []string{"shard_00000.tif", "shard_00001.tif", "shard_00002.tif"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(manifestPath(dir))
	require.NoError(t, err)

	ds, err := reader{}.Open(dir, types.OpenConfig{})
	require.NoError(t, err)
	defer ds.Close()
	assert.Empty(t, ds.Warnings)
	assert.Equal(t, "run7", ds.Meta.Name)
	assert.Equal(t, []string{"a", "b", "c"}, ds.Meta.ChannelNames)
	assert.Equal(t, SchemaVersion, ds.Meta.SchemaVersion)

	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	assert.True(t, arr.Desc.Equal(desc))
	got, err := arr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dense, got)
}

func TestConcurrentWriters(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run.ctif")
	desc := testDesc()
	dense := denseBuffer(desc)

	aw, err := writer{}.Create(dir, desc, types.WriteConfig{ShardSize: 4})
	require.NoError(t, err)

	grid := desc.GridShape()
	var wg sync.WaitGroup
	errs := make([]error, desc.NumChunks())
	for lin := 0; lin < desc.NumChunks(); lin++ {
		wg.Add(1)
		go func(lin int) {
			defer wg.Done()
			coord := types.CoordAt(lin, grid)
			ext, data := chunkAt(desc, dense, coord)
			errs[lin] = aw.PutChunk(coord, ext, data)
		}(lin)
	}
	wg.Wait()
	for lin, err := range errs {
		require.NoError(t, err, "chunk %d", lin)
	}
	require.NoError(t, aw.Close())

	ds, err := reader{}.Open(dir, types.OpenConfig{})
	require.NoError(t, err)
	defer ds.Close()
	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	got, err := arr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dense, got)
}

func TestGaps(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run.ctif")
	desc := testDesc()
	dense := denseBuffer(desc)

	aw, err := writer{}.Create(dir, desc, types.WriteConfig{})
	require.NoError(t, err)
	grid := desc.GridShape()
	skipped := types.CoordAt(5, grid)
	for lin := 0; lin < desc.NumChunks(); lin++ {
		if lin == 5 {
			continue
		}
		coord := types.CoordAt(lin, grid)
		ext, data := chunkAt(desc, dense, coord)
		require.NoError(t, aw.PutChunk(coord, ext, data))
	}
	require.NoError(t, aw.Close())

	ds, err := reader{}.Open(dir, types.OpenConfig{})
	require.NoError(t, err)
	defer ds.Close()
	require.NotEmpty(t, ds.Warnings)
	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	require.Len(t, arr.Gaps, 1)
	assert.Equal(t, skipped, arr.Gaps[0])

	var gap *types.IncompleteAcquisitionError
	_, err = arr.GetChunk(skipped)
	assert.ErrorAs(t, err, &gap)

	_, err = reader{}.Open(dir, types.OpenConfig{Strict: true})
	assert.Error(t, err)
}

func TestResumeWithManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run.ctif")
	desc := testDesc()
	dense := denseBuffer(desc)
	grid := desc.GridShape()

	aw, err := writer{}.Create(dir, desc, types.WriteConfig{ShardSize: 8})
	require.NoError(t, err)
	for lin := 0; lin < 10; lin++ {
		coord := types.CoordAt(lin, grid)
		ext, data := chunkAt(desc, dense, coord)
		require.NoError(t, aw.PutChunk(coord, ext, data))
	}
	require.NoError(t, aw.Close())

	aw2, err := writer{}.Create(dir, desc, types.WriteConfig{ShardSize: 8, Resume: true})
	require.NoError(t, err)
	for lin := 10; lin < desc.NumChunks(); lin++ {
		coord := types.CoordAt(lin, grid)
		ext, data := chunkAt(desc, dense, coord)
		require.NoError(t, aw2.PutChunk(coord, ext, data))
	}
	require.NoError(t, aw2.Close())

	ds, err := reader{}.Open(dir, types.OpenConfig{})
	require.NoError(t, err)
	defer ds.Close()
	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	assert.Empty(t, arr.Gaps)
	got, err := arr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dense, got)

	// Mismatched shard size must be refused.
	_, err = writer{}.Create(dir, desc, types.WriteConfig{ShardSize: 4, Resume: true})
	assert.Error(t, err)
}

func TestResumeRebuildsLostManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run.ctif")
	desc := testDesc()
	dense := denseBuffer(desc)
	grid := desc.GridShape()

	aw, err := writer{}.Create(dir, desc, types.WriteConfig{ShardSize: 8})
	require.NoError(t, err)
	for lin := 0; lin < 10; lin++ {
		coord := types.CoordAt(lin, grid)
		ext, data := chunkAt(desc, dense, coord)
		require.NoError(t, aw.PutChunk(coord, ext, data))
	}
	require.NoError(t, aw.Close())

	// Simulate a crash between the last append and the manifest flush.
	require.NoError(t, os.Remove(manifestPath(dir)))

	aw2, err := writer{}.Create(dir, desc, types.WriteConfig{ShardSize: 8, Resume: true})
	require.NoError(t, err)
	for lin := 10; lin < desc.NumChunks(); lin++ {
		coord := types.CoordAt(lin, grid)
		ext, data := chunkAt(desc, dense, coord)
		require.NoError(t, aw2.PutChunk(coord, ext, data))
	}
	require.NoError(t, aw2.Close())

	ds, err := reader{}.Open(dir, types.OpenConfig{})
	require.NoError(t, err)
	defer ds.Close()
	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	assert.Empty(t, arr.Gaps)
	got, err := arr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dense, got)
}

func TestPutChunkValidation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run.ctif")
	desc := testDesc()
	aw, err := writer{}.Create(dir, desc, types.WriteConfig{})
	require.NoError(t, err)
	defer aw.Close()

	var rng *types.ChunkRangeError
	err = aw.PutChunk([]int{5, 0, 0, 0, 0}, []int{1, 1, 4, 8, 8}, make([]byte, 4*8*8*2))
	assert.ErrorAs(t, err, &rng)
	err = aw.PutChunk([]int{0, 0, 0, 0, 0}, []int{1, 1, 2, 8, 8}, make([]byte, 2*8*8*2))
	assert.ErrorAs(t, err, &rng, "shape must match the true extent")
}

func TestStoreAdapter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run.ctif")
	desc := testDesc()
	dense := denseBuffer(desc)

	st, err := OpenStore(dir, desc, types.WriteConfig{ShardSize: 8})
	require.NoError(t, err)

	coord := []int{0, 0, 0, 0, 0}
	_, err = st.GetChunkBytes(coord)
	require.ErrorIs(t, err, store.ErrChunkNotFound)

	_, want := chunkAt(desc, dense, coord)
	require.NoError(t, st.PutChunkBytes(coord, want))

	// Readable immediately, before the manifest exists.
	got, err := st.GetChunkBytes(coord)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// A rewrite supersedes the first append.
	rewrite := make([]byte, len(want))
	for i := range rewrite {
		rewrite[i] = 0xEE
	}
	require.NoError(t, st.PutChunkBytes(coord, rewrite))
	got, err = st.GetChunkBytes(coord)
	require.NoError(t, err)
	assert.Equal(t, rewrite, got)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close(), "Close must be idempotent")
}

func TestSchemaGate(t *testing.T) {
	var sv *types.SchemaVersionError
	_, err := writer{}.Create(t.TempDir(), testDesc(), types.WriteConfig{SchemaVersion: "2.0.0"})
	assert.ErrorAs(t, err, &sv)

	dir := filepath.Join(t.TempDir(), "run.ctif")
	aw, err := writer{}.Create(dir, testDesc(), types.WriteConfig{})
	require.NoError(t, err)
	require.NoError(t, aw.Close())

	m, err := readManifest(dir)
	require.NoError(t, err)
	m.SchemaVersion = "7.1.0"
	require.NoError(t, writeManifest(dir, m))
	_, err = reader{}.Open(dir, types.OpenConfig{})
	assert.ErrorAs(t, err, &sv)
}

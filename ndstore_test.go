package ndstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidsonlab/ndstore"
)

func fiveDimDesc(t, c, z, y, x, cy, cx int) ndstore.Descriptor {
	return ndstore.Descriptor{
		Axes: []ndstore.Axis{
			{Name: ndstore.AxisT, Size: t, Chunk: 1},
			{Name: ndstore.AxisC, Size: c, Chunk: 1},
			{Name: ndstore.AxisZ, Size: z, Chunk: z},
			{Name: ndstore.AxisY, Size: y, Chunk: cy},
			{Name: ndstore.AxisX, Size: x, Chunk: cx},
		},
		Dtype: ndstore.DtypeUint16,
	}
}

func denseBuffer(desc ndstore.Descriptor) []byte {
	data := make([]byte, desc.NumElements()*desc.Dtype.Size())
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestChunkedTiffEndToEnd(t *testing.T) {
	// A (2, 3, 4, 512, 512) uint16 volume chunked (1, 1, 4, 256, 256):
	// a 2x3x1x2x2 grid of 24 chunks.
	desc := fiveDimDesc(2, 3, 4, 512, 512, 256, 256)
	require.Equal(t, []int{2, 3, 1, 2, 2}, desc.GridShape())
	require.Equal(t, 24, desc.NumChunks())
	dense := denseBuffer(desc)

	dir := filepath.Join(t.TempDir(), "run.ctif")
	w, err := ndstore.Create(dir, desc, ndstore.FormatChunkTiff,
		ndstore.WithShardSize(16),
		ndstore.WithChannelNames("DAPI", "GFP", "RFP"))
	require.NoError(t, err)
	require.NoError(t, w.WriteArray(context.Background(), dense))
	require.NoError(t, w.Close())

	format, err := ndstore.DetectFormat(dir)
	require.NoError(t, err)
	assert.Equal(t, ndstore.FormatChunkTiff, format)

	ds, err := ndstore.Open(dir)
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, ndstore.FormatChunkTiff, ds.Format)
	assert.Equal(t, []string{"DAPI", "GFP", "RFP"}, ds.Meta.ChannelNames)

	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	assert.True(t, arr.Desc.Equal(desc))

	// Chunk-granular access: one edge coordinate, then the dense array.
	c, err := arr.GetChunk([]int{1, 2, 0, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4, 256, 256}, c.Shape)

	got, err := arr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dense, got)
}

func TestZarrEndToEnd(t *testing.T) {
	desc := fiveDimDesc(2, 2, 3, 32, 48, 16, 16)
	dense := denseBuffer(desc)

	dir := filepath.Join(t.TempDir(), "img.zarr")
	w, err := ndstore.Create(dir, desc, ndstore.FormatOMEZarr,
		ndstore.WithCompressor("zstd"),
		ndstore.WithMetadata(ndstore.Metadata{Name: "embryo", ChannelNames: []string{"a", "b"}}))
	require.NoError(t, err)
	require.NoError(t, w.WriteArray(context.Background(), dense))
	require.NoError(t, w.Close())

	ds, err := ndstore.Open(dir, ndstore.WithSchemaCheck())
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, ndstore.FormatOMEZarr, ds.Format)
	assert.Equal(t, "embryo", ds.Meta.Name)

	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	got, err := arr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dense, got)
}

func TestOMETiffEndToEnd(t *testing.T) {
	desc := fiveDimDesc(2, 2, 2, 16, 16, 16, 16)
	dense := denseBuffer(desc)

	path := filepath.Join(t.TempDir(), "img.ome.tif")
	w, err := ndstore.Create(path, desc, ndstore.FormatOMETiff)
	require.NoError(t, err)
	require.NoError(t, w.WriteArray(context.Background(), dense))
	require.NoError(t, w.Close())

	ds, err := ndstore.Open(path)
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, ndstore.FormatOMETiff, ds.Format)

	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	got, err := arr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dense, got)
}

func TestOpenUnrecognized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	var unrec *ndstore.UnrecognizedFormatError
	_, err := ndstore.Open(path)
	require.ErrorAs(t, err, &unrec)
	assert.Equal(t, path, unrec.Path)
}

func TestClearControlIsReadOnly(t *testing.T) {
	desc := fiveDimDesc(1, 1, 2, 8, 8, 8, 8)
	_, err := ndstore.Create(t.TempDir(), desc, ndstore.FormatClearControl)
	assert.Error(t, err)
}

func TestCreateValidatesDescriptor(t *testing.T) {
	desc := fiveDimDesc(1, 1, 2, 8, 8, 8, 8)
	desc.Axes[3].Chunk = 100
	var malformed *ndstore.MalformedMetadataError
	_, err := ndstore.Create(filepath.Join(t.TempDir(), "x"), desc, ndstore.FormatOMEZarr)
	assert.ErrorAs(t, err, &malformed)
}

func TestWriterPutChunk(t *testing.T) {
	desc := fiveDimDesc(1, 1, 2, 8, 8, 8, 8)
	w, err := ndstore.Create(filepath.Join(t.TempDir(), "img.zarr"), desc, ndstore.FormatOMEZarr)
	require.NoError(t, err)
	defer w.Close()

	err = w.PutChunk(&ndstore.Chunk{
		Coord: []int{0, 0, 0, 0, 0},
		Shape: []int{1, 1, 2, 8, 8},
		Dtype: ndstore.DtypeUint16,
		Data:  make([]byte, 2*8*8*2),
	})
	require.NoError(t, err)

	err = w.PutChunk(&ndstore.Chunk{
		Coord: []int{0, 0, 0, 0, 0},
		Shape: []int{1, 1, 2, 8, 8},
		Dtype: ndstore.DtypeUint8,
		Data:  make([]byte, 2*8*8),
	})
	assert.Error(t, err, "dtype mismatch must be rejected")
}

func TestOpenMany(t *testing.T) {
	desc := fiveDimDesc(1, 1, 2, 8, 8, 8, 8)
	dense := denseBuffer(desc)
	var paths []string
	for i := 0; i < 3; i++ {
		dir := filepath.Join(t.TempDir(), "img.zarr")
		w, err := ndstore.Create(dir, desc, ndstore.FormatOMEZarr)
		require.NoError(t, err)
		require.NoError(t, w.WriteArray(context.Background(), dense))
		require.NoError(t, w.Close())
		paths = append(paths, dir)
	}

	dss, err := ndstore.OpenMany(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, dss, 3)
	for _, ds := range dss {
		assert.Equal(t, ndstore.FormatOMEZarr, ds.Format)
		require.NoError(t, ds.Close())
	}

	// One bad path fails the batch.
	bad := filepath.Join(t.TempDir(), "junk.bin")
	require.NoError(t, os.WriteFile(bad, []byte("0123456789"), 0o644))
	_, err = ndstore.OpenMany(context.Background(), append(paths, bad))
	var unrec *ndstore.UnrecognizedFormatError
	assert.True(t, errors.As(err, &unrec))
}

func TestHCSPlate(t *testing.T) {
	desc := fiveDimDesc(1, 1, 2, 8, 8, 8, 8)
	dense := denseBuffer(desc)

	dir := filepath.Join(t.TempDir(), "plate.zarr")
	wells := map[string][]string{"A/1": {"0"}, "A/2": {"0"}}
	require.NoError(t, ndstore.CreatePlate(dir, "screen", []string{"A"}, []string{"1", "2"}, wells))
	for wellPath, images := range wells {
		for _, img := range images {
			w, err := ndstore.Create(filepath.Join(dir, wellPath, img), desc, ndstore.FormatOMEZarr)
			require.NoError(t, err)
			require.NoError(t, w.WriteArray(context.Background(), dense))
			require.NoError(t, w.Close())
		}
	}

	ds, err := ndstore.Open(dir)
	require.NoError(t, err)
	defer ds.Close()
	require.NotNil(t, ds.Plate)
	assert.Equal(t, []string{"A"}, ds.Plate.Rows)
	assert.Len(t, ds.Positions(), 2)

	pos, err := ds.Position("A/2", "0")
	require.NoError(t, err)
	arr, err := pos.Array(0)
	require.NoError(t, err)
	got, err := arr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dense, got)
}

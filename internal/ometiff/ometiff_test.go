package ometiff

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidsonlab/ndstore/internal/tiff"
	"github.com/davidsonlab/ndstore/internal/types"
)

func testDesc() types.Descriptor {
	return types.Descriptor{
		Axes: []types.Axis{
			{Name: types.AxisT, Size: 2, Chunk: 1},
			{Name: types.AxisC, Size: 2, Chunk: 1},
			{Name: types.AxisZ, Size: 3, Chunk: 3},
			{Name: types.AxisY, Size: 8, Chunk: 8, Scale: 0.65, Unit: "micrometer"},
			{Name: types.AxisX, Size: 10, Chunk: 10, Scale: 0.65, Unit: "micrometer"},
		},
		Dtype: types.DtypeUint16,
	}
}

func denseBuffer(desc types.Descriptor) []byte {
	data := make([]byte, desc.NumElements()*desc.Dtype.Size())
	for i := range data {
		data[i] = byte(i % 247)
	}
	return data
}

// writeSequential puts every chunk in row-major grid order, the only
// order the page-append model accepts.
func writeSequential(t *testing.T, aw interface {
	PutChunk(coord, shape []int, data []byte) error
}, desc types.Descriptor, dense []byte) {
	t.Helper()
	chunkShape := desc.ChunkShape()
	err := types.GridCoords(desc.GridShape(), func(coord []int) error {
		ext, err := desc.ChunkExtent(coord)
		if err != nil {
			return err
		}
		origin := make([]int, len(coord))
		for i := range coord {
			origin[i] = coord[i] * chunkShape[i]
		}
		return aw.PutChunk(coord, ext, types.ExtractChunk(dense, desc.Shape(), origin, ext, desc.Dtype.Size()))
	})
	require.NoError(t, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.ome.tif")
	desc := testDesc()
	dense := denseBuffer(desc)

	aw, err := writer{}.Create(path, desc, types.WriteConfig{
		Meta: types.Metadata{Name: "stack", ChannelNames: []string{"DAPI", "GFP"}},
	})
	require.NoError(t, err)
	writeSequential(t, aw, desc, dense)
	require.NoError(t, aw.Close())
	require.NoError(t, aw.Close(), "Close must be idempotent")

	ds, err := reader{}.Open(path, types.OpenConfig{})
	require.NoError(t, err)
	defer ds.Close()
	assert.Empty(t, ds.Warnings)
	assert.Equal(t, "stack", ds.Meta.Name)
	assert.Equal(t, []string{"DAPI", "GFP"}, ds.Meta.ChannelNames)

	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	// Read granularity is one page per chunk regardless of write
	// chunking.
	assert.Equal(t, []int{1, 1, 1, 8, 10}, arr.Desc.ChunkShape())
	assert.Equal(t, desc.Shape(), arr.Desc.Shape())
	y, _ := arr.Desc.AxisByName(types.AxisY)
	assert.Equal(t, 0.65, y.Scale)

	got, err := arr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dense, got)
}

func TestOutOfOrderWriteRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.ome.tif")
	desc := testDesc()
	aw, err := writer{}.Create(path, desc, types.WriteConfig{})
	require.NoError(t, err)
	defer aw.Close()

	var rng *types.ChunkRangeError
	err = aw.PutChunk([]int{1, 0, 0, 0, 0}, []int{1, 1, 3, 8, 10}, make([]byte, 3*8*10*2))
	assert.ErrorAs(t, err, &rng)
	err = aw.PutChunk([]int{0, 0, 0, 0, 0}, []int{1, 1, 3, 8, 10}, make([]byte, 3*8*10*2))
	assert.NoError(t, err, "the first chunk in row-major order must pass")
}

func TestCreateRejectsPartialPlanes(t *testing.T) {
	desc := testDesc()
	desc.Axes[4].Chunk = 5
	_, err := writer{}.Create(filepath.Join(t.TempDir(), "x.ome.tif"), desc, types.WriteConfig{})
	assert.Error(t, err, "X must be chunked at full width")

	desc = testDesc()
	desc.Axes[1].Chunk = 2
	// Chunk cannot span channels: chunks must stay within one plane run.
	desc.Axes[1].Size = 2
	_, err = writer{}.Create(filepath.Join(t.TempDir(), "y.ome.tif"), desc, types.WriteConfig{})
	assert.Error(t, err)
}

func TestTruncatedFileOpensWithGaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.ome.tif")
	desc := testDesc()
	dense := denseBuffer(desc)

	aw, err := writer{}.Create(path, desc, types.WriteConfig{})
	require.NoError(t, err)
	// Write only the first 3 of 4 chunks (9 of 12 planes).
	chunkShape := desc.ChunkShape()
	grid := desc.GridShape()
	for lin := 0; lin < 3; lin++ {
		coord := types.CoordAt(lin, grid)
		ext, err := desc.ChunkExtent(coord)
		require.NoError(t, err)
		origin := make([]int, len(coord))
		for i := range coord {
			origin[i] = coord[i] * chunkShape[i]
		}
		require.NoError(t, aw.PutChunk(coord, ext,
			types.ExtractChunk(dense, desc.Shape(), origin, ext, 2)))
	}
	require.NoError(t, aw.Close())

	ds, err := reader{}.Open(path, types.OpenConfig{})
	require.NoError(t, err)
	defer ds.Close()
	require.NotEmpty(t, ds.Warnings)
	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	assert.Len(t, arr.Gaps, 3, "one missing chunk is three missing planes")

	var gap *types.IncompleteAcquisitionError
	_, err = arr.GetChunk([]int{1, 1, 0, 0, 0})
	assert.ErrorAs(t, err, &gap)
	_, err = arr.GetChunk([]int{0, 0, 0, 0, 0})
	assert.NoError(t, err, "present planes stay readable")

	_, err = reader{}.Open(path, types.OpenConfig{Strict: true})
	assert.Error(t, err)
}

func TestResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.ome.tif")
	desc := testDesc()
	dense := denseBuffer(desc)
	grid := desc.GridShape()
	chunkShape := desc.ChunkShape()

	put := func(aw interface {
		PutChunk(coord, shape []int, data []byte) error
	}, lin int) error {
		coord := types.CoordAt(lin, grid)
		ext, err := desc.ChunkExtent(coord)
		if err != nil {
			return err
		}
		origin := make([]int, len(coord))
		for i := range coord {
			origin[i] = coord[i] * chunkShape[i]
		}
		return aw.PutChunk(coord, ext, types.ExtractChunk(dense, desc.Shape(), origin, ext, 2))
	}

	aw, err := writer{}.Create(path, desc, types.WriteConfig{})
	require.NoError(t, err)
	require.NoError(t, put(aw, 0))
	require.NoError(t, put(aw, 1))
	require.NoError(t, aw.Close())

	aw2, err := writer{}.Create(path, desc, types.WriteConfig{Resume: true})
	require.NoError(t, err)
	require.NoError(t, put(aw2, 2))
	require.NoError(t, put(aw2, 3))
	require.NoError(t, aw2.Close())

	ds, err := reader{}.Open(path, types.OpenConfig{})
	require.NoError(t, err)
	defer ds.Close()
	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	got, err := arr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dense, got)

	// Resume against different geometry is refused.
	other := testDesc()
	other.Axes[3].Size = 16
	other.Axes[3].Chunk = 16
	_, err = writer{}.Create(path, other, types.WriteConfig{Resume: true})
	assert.Error(t, err)
}

func TestPlainTiffFallback(t *testing.T) {
	// A TIFF without OME-XML opens as a single-channel Z stack.
	path := filepath.Join(t.TempDir(), "plain.tif")
	tw, err := tiff.Create(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		data := make([]byte, 4*5)
		for j := range data {
			data[j] = byte(i)
		}
		_, err := tw.Append(tiff.Image{Width: 5, Length: 4, BitsPerSample: 8, SampleFormat: 1, Data: data})
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	ds, err := reader{}.Open(path, types.OpenConfig{})
	require.NoError(t, err)
	defer ds.Close()
	require.NotEmpty(t, ds.Warnings)
	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3, 4, 5}, arr.Desc.Shape())

	c, err := arr.GetChunk([]int{0, 0, 2, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, byte(2), c.Data[0])
}

func TestDimensionOrderXYCZT(t *testing.T) {
	// Planes ordered C-fastest: the reader must land each page at the
	// right coordinate.
	path := filepath.Join(t.TempDir(), "czt.ome.tif")
	doc := `<?xml version="1.0"?><OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06">` +
		`<Image ID="Image:0"><Pixels ID="Pixels:0" DimensionOrder="XYCZT" Type="uint8" ` +
		`SizeX="2" SizeY="2" SizeZ="2" SizeC="2" SizeT="1"></Pixels></Image></OME>`
	tw, err := tiff.Create(path)
	require.NoError(t, err)
	// Page order: (c0,z0) (c1,z0) (c0,z1) (c1,z1).
	for i := 0; i < 4; i++ {
		img := tiff.Image{Width: 2, Length: 2, BitsPerSample: 8, SampleFormat: 1,
			Data: []byte{byte(i), byte(i), byte(i), byte(i)}}
		if i == 0 {
			img.Description = doc
		}
		_, err := tw.Append(img)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	ds, err := reader{}.Open(path, types.OpenConfig{})
	require.NoError(t, err)
	defer ds.Close()
	arr, err := ds.Positions()[0].Array(0)
	require.NoError(t, err)

	// (t=0, c=1, z=1) is page 3 under XYCZT.
	c, err := arr.GetChunk([]int{0, 1, 1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, byte(3), c.Data[0])
	// (t=0, c=0, z=1) is page 2.
	c, err = arr.GetChunk([]int{0, 0, 1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, byte(2), c.Data[0])
}

func TestBuildOMEXMLRoundTrip(t *testing.T) {
	desc := testDesc()
	doc, err := BuildOMEXML(desc, types.Metadata{Name: "n", ChannelNames: []string{"a", "b"}})
	require.NoError(t, err)
	ome, err := ParseOMEXML(doc)
	require.NoError(t, err)
	px := ome.Images[0].Pixels
	assert.Equal(t, "XYZCT", px.DimensionOrder)
	assert.Equal(t, "uint16", px.Type)
	assert.Equal(t, 2, px.SizeT)
	assert.Equal(t, 2, px.SizeC)
	assert.Equal(t, 3, px.SizeZ)
	assert.Equal(t, 8, px.SizeY)
	assert.Equal(t, 10, px.SizeX)
	require.Len(t, px.Channels, 2)
	assert.Equal(t, "a", px.Channels[0].Name)
}

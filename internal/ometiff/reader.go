package ometiff

import (
	"fmt"
	"os"
	gopath "path"
	"time"

	"github.com/davidsonlab/ndstore/internal/registry"
	"github.com/davidsonlab/ndstore/internal/tiff"
	"github.com/davidsonlab/ndstore/internal/types"
)

type reader struct{}

func init() {
	registry.RegisterReader(types.FormatOMETiff, reader{})
	registry.RegisterWriter(types.FormatOMETiff, writer{})
}

// Open parses the IFD chain and the OME-XML in the first page's
// ImageDescription, and exposes the file as one position with per-plane
// chunks (1, 1, 1, Y, X). Files without OME-XML are treated as a plain
// single-channel Z stack with a warning. Pixel data is read lazily per
// page.
func (reader) Open(path string, cfg types.OpenConfig) (*types.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	tf, err := tiff.Parse(f, stat.Size(), path)
	if err != nil {
		f.Close()
		return nil, &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	ds := &types.Dataset{Path: path, Format: types.FormatOMETiff}
	ds.AddCloser(f)

	first := tf.IFDs[0]
	pageDtype, err := types.DtypeFromTiff(first.BitsPerSample, first.SampleFormat)
	if err != nil {
		return nil, &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	for i, ifd := range tf.IFDs {
		if ifd.Width != first.Width || ifd.Length != first.Length ||
			ifd.BitsPerSample != first.BitsPerSample || ifd.SampleFormat != first.SampleFormat {
			return nil, &types.MalformedMetadataError{
				Path:   path,
				Reason: fmt.Sprintf("page %d differs in geometry from page 0", i),
			}
		}
	}

	var desc types.Descriptor
	var meta types.Metadata
	order := "XYZCT"
	if IsOMEXML(first.Description) {
		desc, meta, order, err = descriptorFromOME(ds, path, first)
		if err != nil {
			return nil, err
		}
		if desc.Dtype != pageDtype {
			return nil, &types.MalformedMetadataError{
				Path:   path,
				Reason: fmt.Sprintf("OME Pixels type %s disagrees with page sample format %s", desc.Dtype, pageDtype),
			}
		}
	} else {
		// No OME-XML: every page is one focal plane of a single channel.
		desc = types.Descriptor{
			Axes: []types.Axis{
				{Name: types.AxisT, Size: 1, Chunk: 1},
				{Name: types.AxisC, Size: 1, Chunk: 1},
				{Name: types.AxisZ, Size: len(tf.IFDs), Chunk: 1},
				{Name: types.AxisY, Size: int(first.Length), Chunk: int(first.Length)},
				{Name: types.AxisX, Size: int(first.Width), Chunk: int(first.Width)},
			},
			Dtype: pageDtype,
		}
		ds.Warn("metadata", "no OME-XML description; treated as a single-channel Z stack")
	}
	if err := desc.Validate(); err != nil {
		return nil, &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}

	src := &pageSource{tf: tf, path: path, desc: desc, order: order}
	expected := src.sizeT() * src.sizeC() * src.sizeZ()
	if len(tf.IFDs) > expected {
		return nil, &types.MalformedMetadataError{
			Path:   path,
			Reason: fmt.Sprintf("%d pages but metadata declares %d planes", len(tf.IFDs), expected),
		}
	}
	arr := &types.Array{Name: "0", Desc: desc, Source: src}
	if len(tf.IFDs) < expected {
		// Truncated acquisition: list the chunk coordinates whose page
		// never made it to disk; everything before the cut stays readable.
		arr.Gaps = src.missingCoords(len(tf.IFDs))
		ds.Warn("read", "acquisition incomplete: %d of %d planes present", len(tf.IFDs), expected)
	}
	if err := ds.AddPosition(&types.Position{Name: "0", Arrays: []*types.Array{arr}}); err != nil {
		return nil, err
	}
	ds.Meta = meta
	if cfg.Strict && len(ds.Warnings) > 0 {
		return nil, &types.MalformedMetadataError{Path: path, Reason: ds.Warnings[0].String()}
	}
	return ds, nil
}

// descriptorFromOME builds the array descriptor from the embedded OME
// document and cross-checks it against the first page's geometry.
func descriptorFromOME(ds *types.Dataset, path string, first *tiff.IFD) (types.Descriptor, types.Metadata, string, error) {
	var meta types.Metadata
	ome, err := ParseOMEXML(first.Description)
	if err != nil {
		return types.Descriptor{}, meta, "", &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	img := ome.Images[0]
	px := img.Pixels
	if px.SizeX <= 0 || px.SizeY <= 0 || px.SizeZ <= 0 || px.SizeC <= 0 || px.SizeT <= 0 {
		return types.Descriptor{}, meta, "", &types.MalformedMetadataError{Path: path, Reason: "OME Pixels sizes missing or non-positive"}
	}
	if px.SizeX != int(first.Width) || px.SizeY != int(first.Length) {
		return types.Descriptor{}, meta, "", &types.MalformedMetadataError{
			Path:   path,
			Reason: fmt.Sprintf("OME Pixels %dx%d disagrees with page geometry %dx%d", px.SizeX, px.SizeY, first.Width, first.Length),
		}
	}
	dtype, err := types.ParseDtype(px.Type)
	if err != nil {
		return types.Descriptor{}, meta, "", &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	order := px.DimensionOrder
	if order == "" {
		order = "XYZCT"
		ds.Warn("metadata", "OME Pixels has no DimensionOrder; assuming XYZCT")
	}
	if !validOrder(order) {
		return types.Descriptor{}, meta, "", &types.MalformedMetadataError{
			Path: path, Reason: fmt.Sprintf("unsupported DimensionOrder %q", order),
		}
	}

	meta.Name = img.Name
	meta.SchemaVersion = gopath.Base(ome.Xmlns)
	for _, ch := range px.Channels {
		meta.ChannelNames = append(meta.ChannelNames, ch.Name)
	}
	if img.AcquisitionDate != "" {
		if at, err := time.Parse(time.RFC3339, img.AcquisitionDate); err == nil {
			meta.AcquisitionTime = at
		} else {
			ds.Warn("metadata", "unparseable AcquisitionDate %q", img.AcquisitionDate)
		}
	}

	desc := types.Descriptor{
		Axes: []types.Axis{
			{Name: types.AxisT, Size: px.SizeT, Chunk: 1, Scale: px.TimeIncrement, Unit: unitFor(px.TimeIncrement, "second")},
			{Name: types.AxisC, Size: px.SizeC, Chunk: 1},
			{Name: types.AxisZ, Size: px.SizeZ, Chunk: 1, Scale: px.PhysicalSizeZ, Unit: unitFor(px.PhysicalSizeZ, "micrometer")},
			{Name: types.AxisY, Size: px.SizeY, Chunk: px.SizeY, Scale: px.PhysicalSizeY, Unit: unitFor(px.PhysicalSizeY, "micrometer")},
			{Name: types.AxisX, Size: px.SizeX, Chunk: px.SizeX, Scale: px.PhysicalSizeX, Unit: unitFor(px.PhysicalSizeX, "micrometer")},
		},
		Dtype: dtype,
	}
	return desc, meta, order, nil
}

func unitFor(scale float64, unit string) string {
	if scale > 0 {
		return unit
	}
	return ""
}

// validOrder accepts the five OME dimension orders: "XY" followed by a
// permutation of Z, C, T.
func validOrder(order string) bool {
	if len(order) != 5 || order[:2] != "XY" {
		return false
	}
	var z, c, t int
	for _, r := range order[2:] {
		switch r {
		case 'Z':
			z++
		case 'C':
			c++
		case 'T':
			t++
		default:
			return false
		}
	}
	return z == 1 && c == 1 && t == 1
}

// pageSource maps chunk coordinates to TIFF pages. The page index of a
// plane follows the OME DimensionOrder: the third letter varies fastest
// across pages.
type pageSource struct {
	tf    *tiff.File
	path  string
	desc  types.Descriptor
	order string
}

func (s *pageSource) axisSize(name types.AxisName) int {
	a, ok := s.desc.AxisByName(name)
	if !ok {
		return 1
	}
	return a.Size
}

func (s *pageSource) sizeT() int { return s.axisSize(types.AxisT) }
func (s *pageSource) sizeC() int { return s.axisSize(types.AxisC) }
func (s *pageSource) sizeZ() int { return s.axisSize(types.AxisZ) }

// pageFor linearizes a (t, c, z) plane coordinate per the dimension
// order.
func (s *pageSource) pageFor(t, c, z int) int {
	idx, stride := 0, 1
	for _, r := range s.order[2:] {
		switch r {
		case 'Z':
			idx += z * stride
			stride *= s.sizeZ()
		case 'C':
			idx += c * stride
			stride *= s.sizeC()
		case 'T':
			idx += t * stride
			stride *= s.sizeT()
		}
	}
	return idx
}

// missingCoords lists the chunk coordinates of every plane at or past
// the first missing page.
func (s *pageSource) missingCoords(present int) [][]int {
	var gaps [][]int
	for t := 0; t < s.sizeT(); t++ {
		for c := 0; c < s.sizeC(); c++ {
			for z := 0; z < s.sizeZ(); z++ {
				if s.pageFor(t, c, z) >= present {
					gaps = append(gaps, []int{t, c, z, 0, 0})
				}
			}
		}
	}
	return gaps
}

func (s *pageSource) ReadChunk(coord []int) ([]byte, error) {
	t, c, z := 0, 0, 0
	for i, a := range s.desc.Axes {
		switch a.Name {
		case types.AxisT:
			t = coord[i]
		case types.AxisC:
			c = coord[i]
		case types.AxisZ:
			z = coord[i]
		}
	}
	page := s.pageFor(t, c, z)
	if page >= len(s.tf.IFDs) {
		return nil, &types.IncompleteAcquisitionError{Path: s.path, Coord: append([]int(nil), coord...)}
	}
	return s.tf.ReadImage(s.tf.IFDs[page])
}

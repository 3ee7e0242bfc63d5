package zarr

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/davidsonlab/ndstore/internal/codec"
	"github.com/davidsonlab/ndstore/internal/registry"
	"github.com/davidsonlab/ndstore/internal/store"
	"github.com/davidsonlab/ndstore/internal/types"
)

type reader struct{}

func init() {
	registry.RegisterReader(types.FormatOMEZarr, reader{})
	registry.RegisterWriter(types.FormatOMEZarr, writer{})
}

// Open parses the store's sidecar metadata and builds the position
// tree. Chunk data is not touched; arrays read lazily through a
// DirStore per resolution level.
func (reader) Open(path string, cfg types.OpenConfig) (*types.Dataset, error) {
	ds := &types.Dataset{Path: path, Format: types.FormatOMEZarr}

	var attrs GroupAttrs
	hasAttrs := false
	if _, err := os.Stat(zattrsPath(path)); err == nil {
		if err := readJSON(zattrsPath(path), &attrs); err != nil {
			return nil, &types.MalformedMetadataError{Path: path, Reason: err.Error()}
		}
		hasAttrs = true
	}

	switch {
	case hasAttrs && attrs.Plate != nil:
		if err := openPlate(ds, path, attrs.Plate, cfg); err != nil {
			return nil, err
		}
	case hasAttrs && len(attrs.Multiscales) > 0:
		pos, meta, err := openImageGroup(path, "0", "", &attrs, cfg)
		if err != nil {
			return nil, err
		}
		ds.Meta = meta
		if err := ds.AddPosition(pos); err != nil {
			return nil, err
		}
	default:
		// Bare array or an unclosed image group: no NGFF attributes,
		// but a .zarray either at the root or at the "0" level.
		pos, err := openBareArray(path)
		if err != nil {
			return nil, err
		}
		ds.Warn("metadata", "no NGFF attributes; axes defaulted to canonical order")
		if err := ds.AddPosition(pos); err != nil {
			return nil, err
		}
	}
	if cfg.Strict && len(ds.Warnings) > 0 {
		return nil, &types.MalformedMetadataError{Path: path, Reason: ds.Warnings[0].String()}
	}
	return ds, nil
}

func openPlate(ds *types.Dataset, root string, pm *PlateMeta, cfg types.OpenConfig) error {
	if err := CheckVersion(root, pm.Version); err != nil {
		return err
	}
	plate := &types.Plate{Name: pm.Name}
	for _, r := range pm.Rows {
		plate.Rows = append(plate.Rows, r.Name)
	}
	for _, c := range pm.Columns {
		plate.Columns = append(plate.Columns, c.Name)
	}
	for _, pw := range pm.Wells {
		wellDir := filepath.Join(root, filepath.FromSlash(pw.Path))
		var wellAttrs GroupAttrs
		if err := readJSON(zattrsPath(wellDir), &wellAttrs); err != nil || wellAttrs.Well == nil {
			return &types.MalformedMetadataError{
				Path:   root,
				Reason: fmt.Sprintf("well %s has no well metadata", pw.Path),
			}
		}
		if pw.RowIndex < 0 || pw.RowIndex >= len(plate.Rows) ||
			pw.ColumnIndex < 0 || pw.ColumnIndex >= len(plate.Columns) {
			return &types.MalformedMetadataError{
				Path:   root,
				Reason: fmt.Sprintf("well %s indexes outside the plate grid", pw.Path),
			}
		}
		well := &types.Well{Row: plate.Rows[pw.RowIndex], Column: plate.Columns[pw.ColumnIndex]}
		for _, img := range wellAttrs.Well.Images {
			imgDir := filepath.Join(wellDir, filepath.FromSlash(img.Path))
			var imgAttrs GroupAttrs
			if err := readJSON(zattrsPath(imgDir), &imgAttrs); err != nil {
				return &types.MalformedMetadataError{Path: imgDir, Reason: err.Error()}
			}
			pos, meta, err := openImageGroup(imgDir, img.Path, pw.Path, &imgAttrs, cfg)
			if err != nil {
				return err
			}
			if ds.Meta.SchemaVersion == "" {
				ds.Meta = meta
			}
			well.Positions = append(well.Positions, pos)
			if err := ds.AddPosition(pos); err != nil {
				return err
			}
		}
		plate.Wells = append(plate.Wells, well)
	}
	ds.Plate = plate
	return nil
}

// openImageGroup builds one position from an NGFF image group: one
// array per resolution level in the multiscale.
func openImageGroup(dir, name, well string, attrs *GroupAttrs, cfg types.OpenConfig) (*types.Position, types.Metadata, error) {
	var meta types.Metadata
	if len(attrs.Multiscales) == 0 {
		return nil, meta, &types.MalformedMetadataError{Path: dir, Reason: "no multiscales entry"}
	}
	if cfg.SchemaCheck {
		if err := ValidateAttrs(zattrsPath(dir)); err != nil {
			return nil, meta, err
		}
	}
	ms := attrs.Multiscales[0]
	if err := CheckVersion(dir, ms.Version); err != nil {
		return nil, meta, err
	}
	meta.Name = ms.Name
	meta.SchemaVersion = ms.Version
	if attrs.Omero != nil {
		for _, ch := range attrs.Omero.Channels {
			meta.ChannelNames = append(meta.ChannelNames, ch.Label)
			meta.ChannelColors = append(meta.ChannelColors, ch.Color)
		}
	}

	pos := &types.Position{Name: name, Well: well}
	for _, dsMeta := range ms.Datasets {
		arr, err := openArray(filepath.Join(dir, dsMeta.Path), dsMeta, ms.Axes)
		if err != nil {
			return nil, meta, err
		}
		arr.Name = dsMeta.Path
		pos.Arrays = append(pos.Arrays, arr)
	}
	return pos, meta, nil
}

// openBareArray handles stores without NGFF attributes: a .zarray at
// the root or at the conventional "0" level.
func openBareArray(path string) (*types.Position, error) {
	dir := path
	if _, err := os.Stat(zarrayPath(dir)); err != nil {
		dir = filepath.Join(path, "0")
		if _, err := os.Stat(zarrayPath(dir)); err != nil {
			return nil, &types.MalformedMetadataError{Path: path, Reason: "no array metadata found"}
		}
	}
	arr, err := openArray(dir, DatasetMeta{Path: "0"}, nil)
	if err != nil {
		return nil, err
	}
	arr.Name = "0"
	return &types.Position{Name: "0", Arrays: []*types.Array{arr}}, nil
}

func openArray(dir string, dsMeta DatasetMeta, axes []AxisMeta) (*types.Array, error) {
	var am ArrayMeta
	if err := readJSON(zarrayPath(dir), &am); err != nil {
		return nil, &types.MalformedMetadataError{Path: dir, Reason: err.Error()}
	}
	if am.ZarrFormat != 2 {
		return nil, &types.SchemaVersionError{
			Path: dir, Version: fmt.Sprintf("zarr_format %d", am.ZarrFormat), Supported: []string{"zarr_format 2"},
		}
	}
	if len(am.Shape) == 0 || len(am.Shape) != len(am.Chunks) {
		return nil, &types.MalformedMetadataError{Path: dir, Reason: "shape and chunks length mismatch"}
	}
	if axes != nil && len(axes) != len(am.Shape) {
		return nil, &types.MalformedMetadataError{Path: dir, Reason: "axes and shape length mismatch"}
	}
	dtype, err := types.ParseZarrDtype(am.Dtype)
	if err != nil {
		return nil, &types.MalformedMetadataError{Path: dir, Reason: err.Error()}
	}

	desc := types.Descriptor{Dtype: dtype}
	if axes == nil {
		desc.Axes = types.DefaultAxes(am.Shape, am.Chunks)
	} else {
		var scale []float64
		for _, tr := range dsMeta.CoordinateTransformations {
			if tr.Type == "scale" {
				scale = tr.Scale
			}
		}
		for i, ax := range axes {
			a := types.Axis{
				Name:  axisFromMeta(ax),
				Size:  am.Shape[i],
				Chunk: am.Chunks[i],
				Unit:  ax.Unit,
			}
			if i < len(scale) {
				a.Scale = scale[i]
			}
			desc.Axes = append(desc.Axes, a)
		}
	}
	if err := desc.Validate(); err != nil {
		return nil, &types.MalformedMetadataError{Path: dir, Reason: err.Error()}
	}

	compressorID := ""
	if am.Compressor != nil {
		compressorID = am.Compressor.ID
	}
	c, err := codec.Get(compressorID)
	if err != nil {
		return nil, &types.MalformedMetadataError{Path: dir, Reason: err.Error()}
	}
	st, err := store.NewDirStore(dir, am.Separator(), c)
	if err != nil {
		return nil, err
	}
	return &types.Array{Desc: desc, Source: &chunkSource{store: st, desc: desc}}, nil
}

// chunkSource adapts a DirStore to the lazy array contract. Zarr
// stores edge chunks padded to the declared chunk shape and represents
// unwritten chunks by absence; both are normalized here.
type chunkSource struct {
	store *store.DirStore
	desc  types.Descriptor
}

func (s *chunkSource) ReadChunk(coord []int) ([]byte, error) {
	ext, err := s.desc.ChunkExtent(coord)
	if err != nil {
		return nil, err
	}
	elemSize := s.desc.Dtype.Size()
	full := s.desc.ChunkShape()
	data, err := s.store.GetChunkBytes(coord)
	if err == store.ErrChunkNotFound {
		// Unwritten chunk: the fill value (zero) at the true extent.
		n := elemSize
		for _, e := range ext {
			n *= e
		}
		return make([]byte, n), nil
	}
	if err != nil {
		return nil, err
	}
	wantFull := elemSize
	for _, f := range full {
		wantFull *= f
	}
	if len(data) != wantFull {
		return nil, &types.MalformedMetadataError{
			Path:   s.store.Root(),
			Reason: fmt.Sprintf("chunk %v has %d bytes, expected %d", coord, len(data), wantFull),
		}
	}
	return types.CropChunk(data, full, ext, elemSize), nil
}

package zarr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/davidsonlab/ndstore/internal/codec"
	"github.com/davidsonlab/ndstore/internal/registry"
	"github.com/davidsonlab/ndstore/internal/store"
	"github.com/davidsonlab/ndstore/internal/types"
)

type writer struct{}

// Create prepares an NGFF image group at path with one full-resolution
// array at level "0". With cfg.Resume it reopens an existing group and
// keeps appending chunks without reading anything back.
func (writer) Create(path string, desc types.Descriptor, cfg types.WriteConfig) (registry.ArrayWriter, error) {
	version := cfg.SchemaVersion
	if version == "" {
		version = NGFFVersion
	}
	if version != NGFFVersion {
		return nil, &types.SchemaVersionError{Path: path, Version: version, Supported: []string{NGFFVersion}}
	}
	c, err := codec.Get(cfg.Compressor)
	if err != nil {
		return nil, err
	}

	arrayDir := filepath.Join(path, "0")
	if cfg.Resume {
		var existing ArrayMeta
		if err := readJSON(zarrayPath(arrayDir), &existing); err != nil {
			return nil, &types.MalformedMetadataError{Path: path, Reason: "resume target has no array metadata"}
		}
		var onDisk types.Descriptor
		onDisk.Axes = types.DefaultAxes(existing.Shape, existing.Chunks)
		onDisk.Dtype, _ = types.ParseZarrDtype(existing.Dtype)
		if !onDisk.Equal(types.Descriptor{Axes: types.DefaultAxes(desc.Shape(), desc.ChunkShape()), Dtype: desc.Dtype}) {
			return nil, &types.MalformedMetadataError{Path: path, Reason: "resume descriptor does not match the existing array"}
		}
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create store %s: %w", path, err)
		}
		if err := writeJSON(zgroupPath(path), map[string]int{"zarr_format": 2}); err != nil {
			return nil, err
		}
		am := ArrayMeta{
			Shape:              desc.Shape(),
			Chunks:             desc.ChunkShape(),
			Dtype:              desc.Dtype.ZarrString(),
			FillValue:          0,
			Order:              "C",
			ZarrFormat:         2,
			DimensionSeparator: "/",
		}
		if id := c.ID(); id != "" {
			am.Compressor = &Compressor{ID: id, Level: c.Level()}
		}
		if err := os.MkdirAll(arrayDir, 0o755); err != nil {
			return nil, fmt.Errorf("create array %s: %w", arrayDir, err)
		}
		if err := writeJSON(zarrayPath(arrayDir), am); err != nil {
			return nil, err
		}
	}

	st, err := store.NewDirStore(arrayDir, "/", c)
	if err != nil {
		return nil, err
	}
	return &arrayWriter{
		path:    path,
		desc:    desc,
		store:   st,
		version: version,
		meta:    cfg.Meta.Clone(),
	}, nil
}

// arrayWriter streams chunks into the level-0 array and flushes the
// NGFF attributes exactly once at Close.
type arrayWriter struct {
	path    string
	desc    types.Descriptor
	store   *store.DirStore
	version string
	meta    types.Metadata

	mu     sync.Mutex
	closed bool
}

// PutChunk pads the chunk to the declared chunk shape (zarr stores
// edge chunks full-size) and writes it through the directory store.
// Safe for concurrent callers on disjoint coordinates.
func (w *arrayWriter) PutChunk(coord []int, shape []int, data []byte) error {
	ext, err := w.desc.ChunkExtent(coord)
	if err != nil {
		return &types.ChunkRangeError{Path: w.path, Coord: coord, Grid: w.desc.GridShape()}
	}
	if !sameInts(shape, ext) {
		return &types.ChunkRangeError{
			Path: w.path, Coord: coord, Grid: w.desc.GridShape(),
			Reason: fmt.Sprintf("chunk shape %v, coordinate requires %v", shape, ext),
		}
	}
	elemSize := w.desc.Dtype.Size()
	padded := types.PadChunk(data, ext, w.desc.ChunkShape(), elemSize)
	return w.store.PutChunkBytes(coord, padded)
}

// Close writes the NGFF sidecar metadata. Idempotent: the second call
// is a no-op, so the metadata record is flushed exactly once.
func (w *arrayWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	scale := make([]float64, w.desc.Rank())
	for i, a := range w.desc.Axes {
		scale[i] = a.Scale
		if scale[i] == 0 {
			scale[i] = 1
		}
	}
	axes := make([]AxisMeta, w.desc.Rank())
	for i, a := range w.desc.Axes {
		axes[i] = metaFromAxis(a)
	}
	attrs := GroupAttrs{
		Multiscales: []Multiscale{{
			Version: w.version,
			Name:    w.meta.Name,
			Axes:    axes,
			Datasets: []DatasetMeta{{
				Path:                      "0",
				CoordinateTransformations: []Transform{{Type: "scale", Scale: scale}},
			}},
		}},
	}
	if len(w.meta.ChannelNames) > 0 {
		om := &Omero{}
		for i, name := range w.meta.ChannelNames {
			ch := OmeroChannel{Label: name, Active: true}
			if i < len(w.meta.ChannelColors) {
				ch.Color = w.meta.ChannelColors[i]
			}
			om.Channels = append(om.Channels, ch)
		}
		attrs.Omero = om
	}
	if err := writeJSON(zattrsPath(w.path), attrs); err != nil {
		return err
	}
	return w.store.Close()
}

// CreatePlate writes the HCS plate skeleton: plate attributes at the
// root and well attributes for every (row, column, position) triple.
// Position image groups are then created individually underneath.
func CreatePlate(path, name string, rows, columns []string, wells map[string][]string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create plate %s: %w", path, err)
	}
	if err := writeJSON(zgroupPath(path), map[string]int{"zarr_format": 2}); err != nil {
		return err
	}
	rowIndex := indexOf(rows)
	colIndex := indexOf(columns)
	pm := &PlateMeta{Name: name, Version: NGFFVersion}
	for _, r := range rows {
		pm.Rows = append(pm.Rows, NameEntry{Name: r})
	}
	for _, c := range columns {
		pm.Columns = append(pm.Columns, NameEntry{Name: c})
	}
	for wellPath, images := range wells {
		r, c, err := splitWellPath(wellPath)
		if err != nil {
			return err
		}
		ri, ok := rowIndex[r]
		if !ok {
			return fmt.Errorf("well %s: row %q not in plate rows", wellPath, r)
		}
		ci, ok := colIndex[c]
		if !ok {
			return fmt.Errorf("well %s: column %q not in plate columns", wellPath, c)
		}
		pm.Wells = append(pm.Wells, PlateWell{Path: wellPath, RowIndex: ri, ColumnIndex: ci})

		wellDir := filepath.Join(path, r, c)
		if err := os.MkdirAll(wellDir, 0o755); err != nil {
			return fmt.Errorf("create well %s: %w", wellDir, err)
		}
		if err := writeJSON(zgroupPath(wellDir), map[string]int{"zarr_format": 2}); err != nil {
			return err
		}
		wm := WellMeta{Version: NGFFVersion}
		for _, img := range images {
			wm.Images = append(wm.Images, WellImage{Path: img})
		}
		if err := writeJSON(zattrsPath(wellDir), GroupAttrs{Well: &wm}); err != nil {
			return err
		}
	}
	return writeJSON(zattrsPath(path), GroupAttrs{Plate: pm})
}

func splitWellPath(p string) (row, col string, err error) {
	row, col, ok := strings.Cut(p, "/")
	if !ok || row == "" || col == "" || strings.Contains(col, "/") {
		return "", "", fmt.Errorf("well path %q is not row/column", p)
	}
	return row, col, nil
}

func indexOf(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package ndstore

import (
	"context"
	"fmt"

	"github.com/davidsonlab/ndstore/internal/registry"
	"github.com/davidsonlab/ndstore/internal/types"
	"github.com/davidsonlab/ndstore/internal/zarr"
)

// Writer streams chunks into a new store of one writable format. The
// descriptor is fixed at Create; metadata and format sidecars are
// flushed exactly once, at Close. Write-order rules are per format:
// OME-Zarr and chunked TIFF accept chunks in any order, OME-TIFF
// requires row-major T, C, Z plane order.
type Writer struct {
	path   string
	format Format
	desc   Descriptor
	aw     registry.ArrayWriter
}

// Create opens a new store at path for the array described by desc.
// With WithResume an existing unclosed store is continued instead.
func Create(path string, desc Descriptor, format Format, opts ...WriteOption) (*Writer, error) {
	cfg := resolveWrite(opts)
	if err := desc.Validate(); err != nil {
		return nil, &MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	fw := registry.Writer(format)
	if fw == nil {
		return nil, fmt.Errorf("%s: format %s does not support writing", path, format)
	}
	aw, err := fw.Create(path, desc, cfg)
	if err != nil {
		return nil, err
	}
	return &Writer{path: path, format: format, desc: desc, aw: aw}, nil
}

// Path returns the store path.
func (w *Writer) Path() string { return w.path }

// Format returns the store format.
func (w *Writer) Format() Format { return w.format }

// Descriptor returns the declared array descriptor.
func (w *Writer) Descriptor() Descriptor { return w.desc }

// PutChunk writes one chunk at its grid coordinate. The chunk must
// carry its true extent: the declared chunk shape for interior chunks,
// the remainder for edge chunks.
func (w *Writer) PutChunk(c *Chunk) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Dtype != w.desc.Dtype {
		return fmt.Errorf("%s: chunk dtype %s, store expects %s", w.path, c.Dtype, w.desc.Dtype)
	}
	return w.aw.PutChunk(c.Coord, c.Shape, c.Data)
}

// PutChunkBytes writes one chunk from raw bytes, deriving the extent
// from the coordinate.
func (w *Writer) PutChunkBytes(coord []int, data []byte) error {
	ext, err := w.desc.ChunkExtent(coord)
	if err != nil {
		return err
	}
	return w.aw.PutChunk(coord, ext, data)
}

// WriteArray splits a dense row-major buffer of the full array into
// chunks and writes them all, in row-major grid order so every format's
// ordering rules hold. The context is checked between chunks.
func (w *Writer) WriteArray(ctx context.Context, data []byte) error {
	elemSize := w.desc.Dtype.Size()
	if len(data) != w.desc.NumElements()*elemSize {
		return fmt.Errorf("%s: buffer is %d bytes, array needs %d", w.path, len(data), w.desc.NumElements()*elemSize)
	}
	shape := w.desc.Shape()
	chunkShape := w.desc.ChunkShape()
	return types.GridCoords(w.desc.GridShape(), func(coord []int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ext, err := w.desc.ChunkExtent(coord)
		if err != nil {
			return err
		}
		origin := make([]int, len(coord))
		for i := range coord {
			origin[i] = coord[i] * chunkShape[i]
		}
		return w.aw.PutChunk(coord, ext, types.ExtractChunk(data, shape, origin, ext, elemSize))
	})
}

// Close flushes the store's metadata and releases its resources.
// Idempotent.
func (w *Writer) Close() error {
	return w.aw.Close()
}

// CreatePlate writes an OME-Zarr HCS plate skeleton: plate metadata at
// the root and well groups referencing their position image paths.
// Position arrays are then written individually with Create under
// path/row/column/position.
func CreatePlate(path, name string, rows, columns []string, wells map[string][]string) error {
	return zarr.CreatePlate(path, name, rows, columns, wells)
}

package types

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ChunkSource is the capability a format reader provides for one array:
// produce the raw bytes of the chunk at a grid coordinate. The returned
// buffer is freshly allocated per call and holds the chunk at its true
// extent (edge chunks are not padded). Implementations must be safe for
// concurrent calls; all of them read through io.ReaderAt underneath.
type ChunkSource interface {
	ReadChunk(coord []int) ([]byte, error)
}

// Array is one chunked ND array: a descriptor plus a lazy chunk source.
type Array struct {
	// Name is the array key within its position ("0" for the full
	// resolution level of an NGFF image).
	Name string
	Desc Descriptor
	// Gaps lists chunk coordinates with no backing data (incomplete
	// acquisitions). Reads of these coordinates fail with
	// IncompleteAcquisitionError; all other chunks stay readable.
	Gaps [][]int

	Source ChunkSource

	gapSet  map[string]bool
	gapOnce sync.Once
}

// Descriptor returns the array descriptor.
func (a *Array) Descriptor() Descriptor { return a.Desc }

// GetChunk reads the chunk at the given grid coordinate. It is
// idempotent and side-effect-free: repeated calls with the same
// coordinate return equal, independent copies of the data.
func (a *Array) GetChunk(coord []int) (*Chunk, error) {
	ext, err := a.Desc.ChunkExtent(coord)
	if err != nil {
		return nil, err
	}
	if a.isGap(coord) {
		return nil, &IncompleteAcquisitionError{Coord: append([]int(nil), coord...)}
	}
	data, err := a.Source.ReadChunk(coord)
	if err != nil {
		return nil, err
	}
	c := &Chunk{
		Coord: append([]int(nil), coord...),
		Shape: ext,
		Dtype: a.Desc.Dtype,
		Data:  data,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("chunk source returned wrong size: %w", err)
	}
	return c, nil
}

// Read assembles the dense full array by reading every chunk of the
// grid and copying it into one buffer, in row-major element order.
// Chunks are fetched by a bounded worker pool; the context is checked
// between chunk boundaries, so a long read can be abandoned early
// without touching the store (reads never mutate).
//
// The caller accepts the memory cost: the buffer holds the whole array.
func (a *Array) Read(ctx context.Context) ([]byte, error) {
	elemSize := a.Desc.Dtype.Size()
	shape := a.Desc.Shape()
	chunkShape := a.Desc.ChunkShape()
	grid := a.Desc.GridShape()
	buf := make([]byte, a.Desc.NumElements()*elemSize)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for lin := 0; lin < a.Desc.NumChunks(); lin++ {
		coord := CoordAt(lin, grid)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := a.GetChunk(coord)
			if err != nil {
				return err
			}
			origin := make([]int, len(coord))
			for i := range coord {
				origin[i] = coord[i] * chunkShape[i]
			}
			copyChunkInto(buf, shape, origin, c, elemSize)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buf, nil
}

func (a *Array) isGap(coord []int) bool {
	a.gapOnce.Do(func() {
		if len(a.Gaps) == 0 {
			return
		}
		a.gapSet = make(map[string]bool, len(a.Gaps))
		for _, g := range a.Gaps {
			a.gapSet[fmt.Sprint(g)] = true
		}
	})
	return a.gapSet[fmt.Sprint(coord)]
}

// copyChunkInto copies a chunk into the dense destination buffer at the
// given element origin. Each worker writes a disjoint region, so no
// synchronization is needed.
func copyChunkInto(dst []byte, dstShape, origin []int, c *Chunk, elemSize int) {
	n := len(dstShape)
	rowLen := c.Shape[n-1] * elemSize
	outer := c.Shape[:n-1]
	rows := numElems(outer)
	idx := make([]int, len(outer))
	for r := 0; r < rows; r++ {
		srcOff, dstOff := 0, 0
		for i := range idx {
			srcOff = (srcOff + idx[i]) * c.Shape[i+1]
			dstOff = (dstOff + origin[i] + idx[i]) * dstShape[i+1]
		}
		dstOff += origin[n-1]
		copy(dst[(dstOff)*elemSize:], c.Data[srcOff*elemSize:srcOff*elemSize+rowLen])
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < outer[i] {
				break
			}
			idx[i] = 0
		}
	}
}

// Position is one field of view: a named acquisition site owning one or
// more arrays (resolution levels). Position names are unique within
// their well.
type Position struct {
	// Name of the position ("0", "Pos2", ...).
	Name string
	// Well path ("A/1") for HCS datasets, empty otherwise.
	Well string
	// Arrays, full resolution first.
	Arrays []*Array
}

// Array returns the array at the given resolution level.
func (p *Position) Array(level int) (*Array, error) {
	if level < 0 || level >= len(p.Arrays) {
		return nil, fmt.Errorf("position %s: no array at level %d", p.Name, level)
	}
	return p.Arrays[level], nil
}

// Well groups the positions acquired at one plate well.
type Well struct {
	Row       string
	Column    string
	Positions []*Position
}

// Path returns the "row/column" well path.
func (w *Well) Path() string { return w.Row + "/" + w.Column }

// Plate is the root of a multi-well acquisition hierarchy.
type Plate struct {
	Name    string
	Rows    []string
	Columns []string
	Wells   []*Well
}

// Dataset is the normalized result of opening any supported container:
// metadata, the position tree, and the resources to release on Close.
type Dataset struct {
	Path     string
	Format   Format
	Meta     Metadata
	Plate    *Plate
	Warnings []Warning

	positions []*Position
	closers   []io.Closer
}

// AddPosition appends a position, enforcing name uniqueness within its
// well.
func (d *Dataset) AddPosition(p *Position) error {
	for _, q := range d.positions {
		if q.Name == p.Name && q.Well == p.Well {
			return &MalformedMetadataError{
				Path:   d.Path,
				Reason: fmt.Sprintf("duplicate position %q in well %q", p.Name, p.Well),
			}
		}
	}
	d.positions = append(d.positions, p)
	return nil
}

// Positions returns all positions, in container order.
func (d *Dataset) Positions() []*Position { return d.positions }

// Position returns the named position in the given well ("" for
// non-HCS datasets).
func (d *Dataset) Position(well, name string) (*Position, error) {
	for _, p := range d.positions {
		if p.Name == name && p.Well == well {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%s: no position %q in well %q", d.Path, name, well)
}

// AddCloser registers a resource to release on Close.
func (d *Dataset) AddCloser(c io.Closer) { d.closers = append(d.closers, c) }

// Warn appends a non-fatal issue.
func (d *Dataset) Warn(stage, format string, args ...any) {
	d.Warnings = append(d.Warnings, Warning{Stage: stage, Message: fmt.Sprintf(format, args...)})
}

// Close releases every file handle the dataset owns. Safe to call
// twice; the first error wins.
func (d *Dataset) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	d.closers = nil
	return first
}

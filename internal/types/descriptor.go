package types

import "fmt"

// Descriptor declares the full shape of one array: an ordered list of
// axes plus the element datatype. The chunk grid, chunk extents and
// coordinate linearization are all derived from it, so two descriptors
// with equal axes always address chunks identically regardless of
// write order.
type Descriptor struct {
	Axes  []Axis
	Dtype Dtype
}

// Validate checks the descriptor invariants: at least two axes ending
// in Y, X, all axis sizes and chunk sizes positive, chunk size never
// larger than the axis, and a known dtype.
func (d Descriptor) Validate() error {
	if len(d.Axes) < 2 {
		return fmt.Errorf("descriptor needs at least Y and X axes, got %d", len(d.Axes))
	}
	if d.Axes[len(d.Axes)-2].Name != AxisY || d.Axes[len(d.Axes)-1].Name != AxisX {
		return fmt.Errorf("innermost axes must be Y, X")
	}
	seen := make(map[AxisName]bool, len(d.Axes))
	for _, a := range d.Axes {
		if err := a.validate(); err != nil {
			return err
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate axis %s", a.Name)
		}
		seen[a.Name] = true
	}
	if d.Dtype.Size() == 0 {
		return fmt.Errorf("unknown dtype")
	}
	return nil
}

// Rank returns the number of axes.
func (d Descriptor) Rank() int { return len(d.Axes) }

// Shape returns the per-axis sizes.
func (d Descriptor) Shape() []int {
	s := make([]int, len(d.Axes))
	for i, a := range d.Axes {
		s[i] = a.Size
	}
	return s
}

// ChunkShape returns the declared per-axis chunk sizes.
func (d Descriptor) ChunkShape() []int {
	s := make([]int, len(d.Axes))
	for i, a := range d.Axes {
		s[i] = a.Chunk
	}
	return s
}

// GridShape returns the chunk-grid shape: ceil(size/chunk) per axis.
// Every chunk is addressed by an integer tuple within this grid.
func (d Descriptor) GridShape() []int {
	g := make([]int, len(d.Axes))
	for i, a := range d.Axes {
		g[i] = (a.Size + a.Chunk - 1) / a.Chunk
	}
	return g
}

// NumChunks returns the total chunk count.
func (d Descriptor) NumChunks() int {
	n := 1
	for _, g := range d.GridShape() {
		n *= g
	}
	return n
}

// NumElements returns the total element count of the dense array.
func (d Descriptor) NumElements() int {
	n := 1
	for _, a := range d.Axes {
		n *= a.Size
	}
	return n
}

// CheckCoord validates a chunk coordinate against the grid shape.
func (d Descriptor) CheckCoord(coord []int) error {
	grid := d.GridShape()
	if len(coord) != len(grid) {
		return &IndexOutOfBoundsError{Coord: coord, Grid: grid}
	}
	for i, c := range coord {
		if c < 0 || c >= grid[i] {
			return &IndexOutOfBoundsError{Coord: coord, Grid: grid}
		}
	}
	return nil
}

// ChunkExtent returns the true per-axis extent of the chunk at coord.
// Interior chunks have the declared chunk shape; chunks on the trailing
// grid boundary have the remainder, never padded.
func (d Descriptor) ChunkExtent(coord []int) ([]int, error) {
	if err := d.CheckCoord(coord); err != nil {
		return nil, err
	}
	ext := make([]int, len(d.Axes))
	for i, a := range d.Axes {
		ext[i] = a.Chunk
		if rem := a.Size - coord[i]*a.Chunk; rem < ext[i] {
			ext[i] = rem
		}
	}
	return ext, nil
}

// ChunkBytes returns the byte length of the chunk at coord.
func (d Descriptor) ChunkBytes(coord []int) (int, error) {
	ext, err := d.ChunkExtent(coord)
	if err != nil {
		return 0, err
	}
	n := d.Dtype.Size()
	for _, e := range ext {
		n *= e
	}
	return n, nil
}

// AxisByName returns the axis with the given name, or false.
func (d Descriptor) AxisByName(name AxisName) (Axis, bool) {
	for _, a := range d.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return Axis{}, false
}

// Equal reports whether two descriptors declare the same axes
// (name, size, chunk) and dtype. Calibration is not compared; it is
// explicitly optional metadata.
func (d Descriptor) Equal(o Descriptor) bool {
	if d.Dtype != o.Dtype || len(d.Axes) != len(o.Axes) {
		return false
	}
	for i := range d.Axes {
		a, b := d.Axes[i], o.Axes[i]
		if a.Name != b.Name || a.Size != b.Size || a.Chunk != b.Chunk {
			return false
		}
	}
	return true
}

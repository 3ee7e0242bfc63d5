package types

import "fmt"

// Chunk is the atomic unit of I/O: one dense row-major sub-array.
// Data is raw little-endian bytes. A Chunk is owned by its caller;
// readers build a fresh buffer per request and never hand out shared
// state, so chunks from concurrent reads are independent.
type Chunk struct {
	// Coord is the chunk-grid coordinate this chunk was read from or
	// will be written to.
	Coord []int
	// Shape is the true extent: the declared chunk shape for interior
	// chunks, the remainder for edge chunks.
	Shape []int
	Dtype Dtype
	Data  []byte
}

// NumElements returns the element count of the chunk.
func (c *Chunk) NumElements() int {
	return numElems(c.Shape)
}

// Validate checks that Data matches Shape and Dtype.
func (c *Chunk) Validate() error {
	want := c.NumElements() * c.Dtype.Size()
	if len(c.Data) != want {
		return fmt.Errorf("chunk at %v: %d data bytes, shape %v of %s needs %d",
			c.Coord, len(c.Data), c.Shape, c.Dtype, want)
	}
	return nil
}

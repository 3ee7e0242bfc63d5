package types

import "fmt"

// AxisName identifies one dimension of an ND image array.
//
//	T - time point
//	C - channel
//	Z - focal plane
//	Y - row
//	X - column
type AxisName string

const (
	AxisT AxisName = "T"
	AxisC AxisName = "C"
	AxisZ AxisName = "Z"
	AxisY AxisName = "Y"
	AxisX AxisName = "X"
)

// CanonicalAxes is the fixed axis order every array exposes,
// outermost first. Readers normalize to this order; writers flatten
// outer axes in this order when linearizing chunk coordinates.
var CanonicalAxes = []AxisName{AxisT, AxisC, AxisZ, AxisY, AxisX}

// NGFFType returns the OME-NGFF axis type string for this axis.
func (n AxisName) NGFFType() string {
	switch n {
	case AxisT:
		return "time"
	case AxisC:
		return "channel"
	default:
		return "space"
	}
}

// Axis describes one dimension of an array: its name, extent, chunk
// extent, and physical calibration.
type Axis struct {
	Name AxisName
	// Size is the axis extent in elements.
	Size int
	// Chunk is the chunk extent along this axis. Must satisfy
	// 0 < Chunk <= Size.
	Chunk int
	// Scale is the physical step per element (0 = uncalibrated).
	Scale float64
	// Unit is the physical unit of Scale ("second", "micrometer", ...).
	Unit string
}

func (a Axis) validate() error {
	if a.Name == "" {
		return fmt.Errorf("axis has no name")
	}
	if a.Size <= 0 {
		return fmt.Errorf("axis %s: size %d is not positive", a.Name, a.Size)
	}
	if a.Chunk <= 0 || a.Chunk > a.Size {
		return fmt.Errorf("axis %s: chunk %d outside (0, %d]", a.Name, a.Chunk, a.Size)
	}
	return nil
}

// DefaultAxes builds a canonical TCZYX axis list for the given shape
// and chunk shape. Used by readers whose container does not name axes.
func DefaultAxes(shape, chunks []int) []Axis {
	n := len(shape)
	axes := make([]Axis, n)
	// Align trailing dimensions with the canonical order, so a 3D
	// shape maps to Z, Y, X and a 5D shape to T, C, Z, Y, X.
	names := CanonicalAxes[len(CanonicalAxes)-n:]
	for i := range axes {
		axes[i] = Axis{Name: names[i], Size: shape[i], Chunk: chunks[i]}
	}
	return axes
}

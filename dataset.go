package ndstore

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/davidsonlab/ndstore/internal/registry"
	"github.com/davidsonlab/ndstore/internal/types"
)

// Core model types, defined in internal/types and shared with the
// format packages.
type (
	// Dataset is the normalized result of opening any container.
	Dataset = types.Dataset
	// Position is one field of view with its resolution levels.
	Position = types.Position
	// Well groups positions of one plate well.
	Well = types.Well
	// Plate is the HCS plate hierarchy, nil for non-plate datasets.
	Plate = types.Plate
	// Array is one chunked ND array with lazy chunk access.
	Array = types.Array
	// Chunk is one dense row-major sub-array.
	Chunk = types.Chunk
	// Descriptor declares an array's axes and element type.
	Descriptor = types.Descriptor
	// Axis is one named, sized, chunked dimension.
	Axis = types.Axis
	// AxisName identifies a dimension (T, C, Z, Y, X).
	AxisName = types.AxisName
	// Dtype is the element datatype.
	Dtype = types.Dtype
	// Metadata is the normalized metadata record.
	Metadata = types.Metadata
)

const (
	AxisT = types.AxisT
	AxisC = types.AxisC
	AxisZ = types.AxisZ
	AxisY = types.AxisY
	AxisX = types.AxisX
)

const (
	DtypeUint8   = types.DtypeUint8
	DtypeUint16  = types.DtypeUint16
	DtypeUint32  = types.DtypeUint32
	DtypeInt8    = types.DtypeInt8
	DtypeInt16   = types.DtypeInt16
	DtypeInt32   = types.DtypeInt32
	DtypeFloat32 = types.DtypeFloat32
	DtypeFloat64 = types.DtypeFloat64
)

// DefaultAxes builds a canonical TCZYX axis list for a shape and chunk
// shape, for callers that do not care about calibration.
func DefaultAxes(shape, chunks []int) []Axis {
	return types.DefaultAxes(shape, chunks)
}

// Open detects the container format at path and opens it as a Dataset.
// Only metadata is read; chunk data loads lazily through the returned
// arrays. The caller owns the Dataset and must Close it.
func Open(path string, opts ...Option) (*Dataset, error) {
	cfg := resolveOpen(opts)
	format, err := types.DetectFormat(path)
	if err != nil {
		return nil, err
	}
	r := registry.Reader(format)
	if r == nil {
		return nil, &UnrecognizedFormatError{Path: path, Reason: "no reader registered for " + format.String()}
	}
	return r.Open(path, cfg)
}

// OpenContext is Open with cancellation checked before detection. Open
// itself does no long-running I/O, so one check suffices.
func OpenContext(ctx context.Context, path string, opts ...Option) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Open(path, opts...)
}

// OpenMany opens several datasets concurrently with a bounded worker
// pool. Results align with paths. On any failure every already-opened
// dataset is closed and the first error is returned.
func OpenMany(ctx context.Context, paths []string, opts ...Option) ([]*Dataset, error) {
	out := make([]*Dataset, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ds, err := Open(path, opts...)
			if err != nil {
				return err
			}
			out[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, ds := range out {
			if ds != nil {
				ds.Close()
			}
		}
		return nil, err
	}
	return out, nil
}

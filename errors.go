package ndstore

import (
	"github.com/davidsonlab/ndstore/internal/types"
)

// UnrecognizedFormatError reports a path no registered format matches.
type UnrecognizedFormatError = types.UnrecognizedFormatError

// MalformedMetadataError reports required metadata that is absent or
// inconsistent.
type MalformedMetadataError = types.MalformedMetadataError

// IncompleteAcquisitionError reports a read of a chunk coordinate whose
// backing data never made it to disk. The rest of the array stays
// readable.
type IncompleteAcquisitionError = types.IncompleteAcquisitionError

// IndexOutOfBoundsError reports a chunk coordinate outside the grid.
type IndexOutOfBoundsError = types.IndexOutOfBoundsError

// SchemaVersionError reports an unsupported metadata schema version.
type SchemaVersionError = types.SchemaVersionError

// ChunkRangeError reports a write outside the declared grid or against
// the container's write-order rules.
type ChunkRangeError = types.ChunkRangeError

// Warning is a non-fatal issue collected while opening a dataset.
type Warning = types.Warning

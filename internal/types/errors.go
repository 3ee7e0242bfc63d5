package types

import "fmt"

// The error taxonomy. Every failure kind is a distinct type so callers
// can branch with errors.As; none is ever swallowed or retried inside
// the library.

// UnrecognizedFormatError is returned when no registered format matches
// a path. Fatal to Open.
type UnrecognizedFormatError struct {
	Path   string
	Reason string
}

func (e *UnrecognizedFormatError) Error() string {
	return fmt.Sprintf("%s: format unrecognized: %s", e.Path, e.Reason)
}

// MalformedMetadataError is returned when required metadata (shape,
// dtype, axis order) is absent or inconsistent. Fatal to Open.
type MalformedMetadataError struct {
	Path   string
	Reason string
}

func (e *MalformedMetadataError) Error() string {
	return fmt.Sprintf("%s: malformed metadata: %s", e.Path, e.Reason)
}

// IncompleteAcquisitionError reports a chunk coordinate whose backing
// file or page is missing from the acquisition. Recoverable: the array
// opens, gaps are listed per coordinate, and only reads of missing
// coordinates fail.
type IncompleteAcquisitionError struct {
	Path  string
	Coord []int
}

func (e *IncompleteAcquisitionError) Error() string {
	return fmt.Sprintf("%s: incomplete acquisition: no data for chunk %v", e.Path, e.Coord)
}

// IndexOutOfBoundsError is returned for a chunk coordinate outside the
// chunk-grid shape. Fatal to the single call only.
type IndexOutOfBoundsError struct {
	Coord []int
	Grid  []int
}

func (e *IndexOutOfBoundsError) Error() string {
	return fmt.Sprintf("index out of bounds: chunk %v outside grid %v", e.Coord, e.Grid)
}

// SchemaVersionError is returned when a container declares (or a caller
// requests) a metadata schema version the library does not recognize.
// Fatal to Open and Create.
type SchemaVersionError struct {
	Path      string
	Version   string
	Supported []string
}

func (e *SchemaVersionError) Error() string {
	return fmt.Sprintf("%s: schema version %q unsupported (supported: %v)",
		e.Path, e.Version, e.Supported)
}

// ChunkRangeError is returned for a write outside the declared
// chunk-grid shape, or one that violates the container's write order.
// Fatal to the single put; previously written data stays valid.
type ChunkRangeError struct {
	Path   string
	Coord  []int
	Grid   []int
	Reason string
}

func (e *ChunkRangeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: chunk coordinate out of range: %v: %s", e.Path, e.Coord, e.Reason)
	}
	return fmt.Sprintf("%s: chunk coordinate out of range: %v outside grid %v", e.Path, e.Coord, e.Grid)
}

// Warning represents a non-fatal issue encountered while opening a
// dataset: missing optional metadata, acquisition gaps, unknown vendor
// fields. Warnings are collected on the Dataset, never logged.
type Warning struct {
	// Stage where the warning occurred ("metadata", "detect", "read").
	Stage   string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Stage, w.Message)
}

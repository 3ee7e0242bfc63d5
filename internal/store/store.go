// Package store defines the uniform chunk-store capability and its
// directory-of-files implementation. The TIFF-container implementation
// lives in internal/chunktiff, behind the same interface.
package store

import "errors"

// ErrChunkNotFound is returned by GetChunkBytes when no data has been
// written at a coordinate. Callers decide whether that means a fill
// value (zarr) or an acquisition gap.
var ErrChunkNotFound = errors.New("chunk not found")

// ChunkStore is the capability set shared by both physical backings:
// get and put raw chunk payloads by grid coordinate, and release the
// underlying handles.
//
// Implementations guarantee correctness for a single writer per store
// with multiple readers while not writing; concurrent reads of
// disjoint or identical coordinates are always safe.
type ChunkStore interface {
	GetChunkBytes(coord []int) ([]byte, error)
	PutChunkBytes(coord []int, data []byte) error
	Close() error
}

// Package registry manages format-specific readers and writers for
// ND image containers.
//
// Format packages register themselves in init functions; the table is
// populated once at startup and never mutated afterwards, so lookups
// need no locking.
package registry

import (
	"github.com/davidsonlab/ndstore/internal/types"
)

// FormatReader is the interface all format readers implement.
type FormatReader interface {
	// Open parses a container's metadata and returns a Dataset whose
	// arrays read chunks lazily. It must not read pixel data beyond
	// what metadata extraction requires.
	Open(path string, cfg types.OpenConfig) (*types.Dataset, error)
}

// ArrayWriter receives chunks for one array being written. PutChunk
// accepts raw chunk bytes at the chunk's true extent; Close flushes
// metadata exactly once.
type ArrayWriter interface {
	PutChunk(coord []int, shape []int, data []byte) error
	Close() error
}

// FormatWriter is the interface format writers implement.
type FormatWriter interface {
	// Create opens a new (or, with cfg.Resume, an existing unclosed)
	// store for writing the array described by desc.
	Create(path string, desc types.Descriptor, cfg types.WriteConfig) (ArrayWriter, error)
}

var readers = make(map[types.Format]FormatReader)
var writers = make(map[types.Format]FormatWriter)

// RegisterReader registers a reader for a format. Called by format
// packages during initialization.
func RegisterReader(format types.Format, r FormatReader) {
	readers[format] = r
}

// Reader returns the reader for a format, or nil if none is registered.
func Reader(format types.Format) FormatReader {
	return readers[format]
}

// RegisterWriter registers a writer for a format. Called by format
// packages during initialization.
func RegisterWriter(format types.Format, w FormatWriter) {
	writers[format] = w
}

// Writer returns the writer for a format, or nil if none is registered.
func Writer(format types.Format) FormatWriter {
	return writers[format]
}

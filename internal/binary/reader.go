// Package binary provides type-safe binary reading and writing
// primitives with bounds checking. TIFF containers declare their own
// byte order, so every multi-byte read takes an explicit
// encoding/binary.ByteOrder.
package binary

import (
	stdbinary "encoding/binary"
	"fmt"
	"io"
)

// SafeReader wraps io.ReaderAt with bounds checking and error messages
// that name what was being read. It keeps no mutable state, so one
// SafeReader may serve concurrent readers.
type SafeReader struct {
	r    io.ReaderAt
	path string
	size int64
}

// NewSafeReader creates a new SafeReader.
func NewSafeReader(r io.ReaderAt, size int64, path string) *SafeReader {
	return &SafeReader{r: r, size: size, path: path}
}

// Path returns the file path associated with this reader.
func (sr *SafeReader) Path() string { return sr.path }

// Size returns the total readable size in bytes.
func (sr *SafeReader) Size() int64 { return sr.size }

// ReadAt reads len(b) bytes at the given offset with context for error
// messages.
func (sr *SafeReader) ReadAt(b []byte, off int64, what string) error {
	if off < 0 || off >= sr.size {
		return fmt.Errorf("%s: offset %d out of bounds (size: %d) while reading %s",
			sr.path, off, sr.size, what)
	}
	if off+int64(len(b)) > sr.size {
		return fmt.Errorf("%s: read of %d bytes at offset %d would exceed size %d while reading %s",
			sr.path, len(b), off, sr.size, what)
	}
	n, err := sr.r.ReadAt(b, off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%s: failed to read %s at offset %d: %w", sr.path, what, off, err)
	}
	if n < len(b) {
		return fmt.Errorf("%s: short read for %s at offset %d: got %d bytes, expected %d",
			sr.path, what, off, n, len(b))
	}
	return nil
}

// Read reads a value of type T at the given offset in the given byte
// order. T must be uint8, uint16, uint32, or uint64.
func Read[T uint8 | uint16 | uint32 | uint64](sr *SafeReader, bo stdbinary.ByteOrder, off int64, what string) (T, error) {
	var zero T
	buf := make([]byte, sizeofValue(zero))
	if err := sr.ReadAt(buf, off, what); err != nil {
		return zero, err
	}
	var val T
	switch any(zero).(type) {
	case uint8:
		val = T(buf[0])
	case uint16:
		val = T(bo.Uint16(buf))
	case uint32:
		val = T(bo.Uint32(buf))
	case uint64:
		val = T(bo.Uint64(buf))
	}
	return val, nil
}

func sizeofValue(v any) int {
	switch v.(type) {
	case uint8:
		return 1
	case uint16:
		return 2
	case uint32:
		return 4
	case uint64:
		return 8
	}
	return 0
}

// Reader provides sequential reading with automatic offset tracking and
// a fixed byte order.
type Reader struct {
	*SafeReader
	bo     stdbinary.ByteOrder
	offset int64
}

// NewReader creates a new Reader starting at the given offset.
func NewReader(sr *SafeReader, bo stdbinary.ByteOrder, offset int64) *Reader {
	return &Reader{SafeReader: sr, bo: bo, offset: offset}
}

// ByteOrder returns the reader's byte order.
func (r *Reader) ByteOrder() stdbinary.ByteOrder { return r.bo }

// ReadValue reads a numeric value and advances the offset.
func ReadValue[T uint8 | uint16 | uint32 | uint64](r *Reader, what string) (T, error) {
	val, err := Read[T](r.SafeReader, r.bo, r.offset, what)
	if err != nil {
		var zero T
		return zero, err
	}
	var zero T
	r.offset += int64(sizeofValue(zero))
	return val, nil
}

// ReadString reads a string of the given length and advances the offset.
func (r *Reader) ReadString(length int, what string) (string, error) {
	buf := make([]byte, length)
	if err := r.SafeReader.ReadAt(buf, r.offset, what); err != nil {
		return "", err
	}
	r.offset += int64(length)
	return string(buf), nil
}

// ReadBytes reads length raw bytes and advances the offset.
func (r *Reader) ReadBytes(length int, what string) ([]byte, error) {
	buf := make([]byte, length)
	if err := r.SafeReader.ReadAt(buf, r.offset, what); err != nil {
		return nil, err
	}
	r.offset += int64(length)
	return buf, nil
}

// Skip advances the offset by n bytes.
func (r *Reader) Skip(n int64) { r.offset += n }

// Seek moves the offset to an absolute position.
func (r *Reader) Seek(off int64) { r.offset = off }

// Offset returns the current offset.
func (r *Reader) Offset() int64 { return r.offset }

// ChainReader allows chaining multiple reads with deferred error
// checking, avoiding repetitive error handling in tag walks.
type ChainReader struct {
	*Reader
	err error
}

// NewChainReader creates a new ChainReader.
func NewChainReader(r *Reader) *ChainReader {
	return &ChainReader{Reader: r}
}

// ReadChained reads a value with deferred error checking. If a previous
// read failed, it returns the zero value without attempting the read.
func ReadChained[T uint8 | uint16 | uint32 | uint64](cr *ChainReader, what string) T {
	var zero T
	if cr.err != nil {
		return zero
	}
	val, err := ReadValue[T](cr.Reader, what)
	if err != nil {
		cr.err = err
		return zero
	}
	return val
}

// String reads a string, accumulating any error.
func (cr *ChainReader) String(length int, what string) string {
	if cr.err != nil {
		return ""
	}
	val, err := cr.Reader.ReadString(length, what)
	if err != nil {
		cr.err = err
		return ""
	}
	return val
}

// Error returns the accumulated error, if any.
func (cr *ChainReader) Error() error { return cr.err }

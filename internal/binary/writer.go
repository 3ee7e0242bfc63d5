package binary

import (
	stdbinary "encoding/binary"
	"io"
)

// SafeWriter wraps io.Writer with position tracking and a fixed byte
// order.
type SafeWriter struct {
	w      io.Writer
	bo     stdbinary.ByteOrder
	offset int64
}

// NewSafeWriter creates a new SafeWriter.
func NewSafeWriter(w io.Writer, bo stdbinary.ByteOrder) *SafeWriter {
	return &SafeWriter{w: w, bo: bo}
}

// Offset returns the current position (number of bytes written).
func (sw *SafeWriter) Offset() int64 { return sw.offset }

// ByteOrder returns the writer's byte order.
func (sw *SafeWriter) ByteOrder() stdbinary.ByteOrder { return sw.bo }

// WriteBytes writes raw bytes to the underlying writer.
func (sw *SafeWriter) WriteBytes(b []byte) error {
	n, err := sw.w.Write(b)
	sw.offset += int64(n)
	return err
}

// WriteString writes a string as bytes to the underlying writer.
func (sw *SafeWriter) WriteString(s string) error {
	return sw.WriteBytes([]byte(s))
}

// Write writes a value of type T in the writer's byte order.
// T must be uint8, uint16, uint32, or uint64.
func Write[T uint8 | uint16 | uint32 | uint64](sw *SafeWriter, val T) error {
	var buf []byte
	switch v := any(val).(type) {
	case uint8:
		buf = []byte{v}
	case uint16:
		buf = make([]byte, 2)
		sw.bo.PutUint16(buf, v)
	case uint32:
		buf = make([]byte, 4)
		sw.bo.PutUint32(buf, v)
	case uint64:
		buf = make([]byte, 8)
		sw.bo.PutUint64(buf, v)
	}
	return sw.WriteBytes(buf)
}

// ChainWriter accumulates the first write error so encoders can emit a
// whole structure and check once.
type ChainWriter struct {
	*SafeWriter
	err error
}

// NewChainWriter creates a new ChainWriter.
func NewChainWriter(sw *SafeWriter) *ChainWriter {
	return &ChainWriter{SafeWriter: sw}
}

// WriteChained writes a value with deferred error checking.
func WriteChained[T uint8 | uint16 | uint32 | uint64](cw *ChainWriter, val T) {
	if cw.err != nil {
		return
	}
	cw.err = Write(cw.SafeWriter, val)
}

// Bytes writes raw bytes, accumulating any error.
func (cw *ChainWriter) Bytes(b []byte) {
	if cw.err != nil {
		return
	}
	cw.err = cw.SafeWriter.WriteBytes(b)
}

// Error returns the accumulated error, if any.
func (cw *ChainWriter) Error() error { return cw.err }

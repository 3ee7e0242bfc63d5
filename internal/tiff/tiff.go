// Package tiff reads and writes the subset of baseline TIFF used by
// the supported containers: multi-sub-image (multi-IFD) files of
// single-sample grayscale planes, uncompressed or deflate-compressed,
// classic (32-bit offset) layout in either byte order.
//
// The writer is append-only: sub-images are emitted one IFD at a time
// with deterministic offsets and the previous IFD's next pointer is
// patched in place, which is what lets the chunked-TIFF container map
// chunk coordinates to sub-image positions without an external index.
package tiff

import (
	"bytes"
	stdbinary "encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/davidsonlab/ndstore/internal/binary"
)

// Field types from the TIFF 6.0 specification.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
)

// Tags used by the supported containers.
const (
	TagImageWidth       = 256
	TagImageLength      = 257
	TagBitsPerSample    = 258
	TagCompression      = 259
	TagPhotometric      = 262
	TagImageDescription = 270
	TagStripOffsets     = 273
	TagSamplesPerPixel  = 277
	TagRowsPerStrip     = 278
	TagStripByteCounts  = 279
	TagSampleFormat     = 339
)

// Compression values.
const (
	CompressionNone    = 1
	CompressionDeflate = 8
)

// IFD is one parsed Image File Directory: a single sub-image.
type IFD struct {
	// Offset of the IFD structure within the file.
	Offset int64
	// NextOffset links to the following IFD, 0 at the end of the chain.
	NextOffset int64

	Width           uint32
	Length          uint32
	BitsPerSample   uint16
	SampleFormat    uint16
	Compression     uint16
	RowsPerStrip    uint32
	SamplesPerPixel uint16
	Description     string
	StripOffsets    []int64
	StripByteCounts []int64
}

// File is a parsed TIFF container. Parsing walks the IFD chain and
// reads directory entries only; pixel data is read lazily per
// sub-image.
type File struct {
	sr *binary.SafeReader
	bo stdbinary.ByteOrder

	IFDs []*IFD
}

const maxIFDs = 1 << 20 // cycle guard for corrupt next pointers

// Open reads and validates the header only. For callers that address
// sub-images through an external offset index (via ParseIFDAt) and
// never need the chain walked. The returned File has no IFDs; the
// second return value is the first-IFD offset.
func Open(r io.ReaderAt, size int64, path string) (*File, int64, error) {
	sr := binary.NewSafeReader(r, size, path)

	header := make([]byte, 8)
	if err := sr.ReadAt(header, 0, "TIFF header"); err != nil {
		return nil, 0, err
	}
	var bo stdbinary.ByteOrder
	switch {
	case header[0] == 'I' && header[1] == 'I':
		bo = stdbinary.LittleEndian
	case header[0] == 'M' && header[1] == 'M':
		bo = stdbinary.BigEndian
	default:
		return nil, 0, fmt.Errorf("%s: not a TIFF file", path)
	}
	if bo.Uint16(header[2:4]) != 42 {
		return nil, 0, fmt.Errorf("%s: bad TIFF version marker", path)
	}
	return &File{sr: sr, bo: bo}, int64(bo.Uint32(header[4:8])), nil
}

// Parse reads the TIFF header and walks the whole IFD chain.
func Parse(r io.ReaderAt, size int64, path string) (*File, error) {
	f, off, err := Open(r, size, path)
	if err != nil {
		return nil, err
	}
	for off != 0 {
		if len(f.IFDs) >= maxIFDs {
			return nil, fmt.Errorf("%s: IFD chain exceeds %d entries, likely corrupt", path, maxIFDs)
		}
		ifd, err := f.parseIFD(off)
		if err != nil {
			return nil, err
		}
		f.IFDs = append(f.IFDs, ifd)
		off = ifd.NextOffset
	}
	if len(f.IFDs) == 0 {
		return nil, fmt.Errorf("%s: TIFF file has no sub-images", path)
	}
	return f, nil
}

// ByteOrder returns the container's declared byte order.
func (f *File) ByteOrder() stdbinary.ByteOrder { return f.bo }

// ParseIFDAt parses a single IFD at a known offset, for callers that
// keep their own offset index instead of walking the chain.
func (f *File) ParseIFDAt(off int64) (*IFD, error) {
	return f.parseIFD(off)
}

func (f *File) parseIFD(off int64) (*IFD, error) {
	r := binary.NewReader(f.sr, f.bo, off)
	count, err := binary.ReadValue[uint16](r, "IFD entry count")
	if err != nil {
		return nil, err
	}
	ifd := &IFD{
		Offset:          off,
		Compression:     CompressionNone,
		SamplesPerPixel: 1,
		SampleFormat:    TiffDefaultSampleFormat,
	}
	for i := 0; i < int(count); i++ {
		entryOff := off + 2 + int64(i)*12
		if err := f.parseEntry(entryOff, ifd); err != nil {
			return nil, err
		}
	}
	next, err := binary.Read[uint32](f.sr, f.bo, off+2+int64(count)*12, "next IFD offset")
	if err != nil {
		return nil, err
	}
	ifd.NextOffset = int64(next)
	if ifd.RowsPerStrip == 0 {
		ifd.RowsPerStrip = ifd.Length
	}
	if ifd.Width == 0 || ifd.Length == 0 {
		return nil, fmt.Errorf("%s: IFD at %d has no image dimensions", f.sr.Path(), off)
	}
	if len(ifd.StripOffsets) == 0 || len(ifd.StripOffsets) != len(ifd.StripByteCounts) {
		return nil, fmt.Errorf("%s: IFD at %d has inconsistent strip tables", f.sr.Path(), off)
	}
	return ifd, nil
}

// TiffDefaultSampleFormat is the implied SampleFormat when tag 339 is
// absent (unsigned integer).
const TiffDefaultSampleFormat = 1

func (f *File) parseEntry(off int64, ifd *IFD) error {
	cr := binary.NewChainReader(binary.NewReader(f.sr, f.bo, off))
	tag := binary.ReadChained[uint16](cr, "tag id")
	fieldType := binary.ReadChained[uint16](cr, "field type")
	count := binary.ReadChained[uint32](cr, "value count")
	if err := cr.Error(); err != nil {
		return err
	}
	valueOff := off + 8

	switch tag {
	case TagImageWidth:
		v, err := f.intValue(fieldType, valueOff)
		ifd.Width = uint32(v)
		return err
	case TagImageLength:
		v, err := f.intValue(fieldType, valueOff)
		ifd.Length = uint32(v)
		return err
	case TagBitsPerSample:
		v, err := f.intValue(fieldType, valueOff)
		ifd.BitsPerSample = uint16(v)
		return err
	case TagCompression:
		v, err := f.intValue(fieldType, valueOff)
		ifd.Compression = uint16(v)
		return err
	case TagSamplesPerPixel:
		v, err := f.intValue(fieldType, valueOff)
		ifd.SamplesPerPixel = uint16(v)
		return err
	case TagRowsPerStrip:
		v, err := f.intValue(fieldType, valueOff)
		ifd.RowsPerStrip = uint32(v)
		return err
	case TagSampleFormat:
		v, err := f.intValue(fieldType, valueOff)
		ifd.SampleFormat = uint16(v)
		return err
	case TagImageDescription:
		s, err := f.asciiValue(count, valueOff)
		ifd.Description = s
		return err
	case TagStripOffsets:
		vs, err := f.intValues(fieldType, count, valueOff)
		ifd.StripOffsets = vs
		return err
	case TagStripByteCounts:
		vs, err := f.intValues(fieldType, count, valueOff)
		ifd.StripByteCounts = vs
		return err
	default:
		// Unknown tags are skipped; only the baseline subset matters.
		return nil
	}
}

// intValue reads a single SHORT or LONG stored inline in the entry's
// value field.
func (f *File) intValue(fieldType uint16, valueOff int64) (int64, error) {
	switch fieldType {
	case typeShort:
		v, err := binary.Read[uint16](f.sr, f.bo, valueOff, "short tag value")
		return int64(v), err
	case typeLong:
		v, err := binary.Read[uint32](f.sr, f.bo, valueOff, "long tag value")
		return int64(v), err
	default:
		return 0, fmt.Errorf("%s: unsupported field type %d for scalar tag", f.sr.Path(), fieldType)
	}
}

// intValues reads a SHORT or LONG array, inline when it fits in the
// 4-byte value field and via the external offset otherwise.
func (f *File) intValues(fieldType uint16, count uint32, valueOff int64) ([]int64, error) {
	var elem int64
	switch fieldType {
	case typeShort:
		elem = 2
	case typeLong:
		elem = 4
	default:
		return nil, fmt.Errorf("%s: unsupported field type %d for array tag", f.sr.Path(), fieldType)
	}
	dataOff := valueOff
	if int64(count)*elem > 4 {
		ext, err := binary.Read[uint32](f.sr, f.bo, valueOff, "tag value offset")
		if err != nil {
			return nil, err
		}
		dataOff = int64(ext)
	}
	out := make([]int64, count)
	for i := range out {
		v, err := f.intValue(fieldType, dataOff+int64(i)*elem)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *File) asciiValue(count uint32, valueOff int64) (string, error) {
	if count == 0 {
		return "", nil
	}
	dataOff := valueOff
	if count > 4 {
		ext, err := binary.Read[uint32](f.sr, f.bo, valueOff, "description offset")
		if err != nil {
			return "", err
		}
		dataOff = int64(ext)
	}
	buf := make([]byte, count)
	if err := f.sr.ReadAt(buf, dataOff, "description"); err != nil {
		return "", err
	}
	// ASCII values are NUL-terminated.
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}

// ReadImage reads the full pixel payload of one sub-image, strip by
// strip, decompressing if needed, and returns it as little-endian
// bytes regardless of the container's byte order. Each call allocates
// a fresh buffer and only touches the strips of that sub-image.
func (f *File) ReadImage(ifd *IFD) ([]byte, error) {
	elemSize := int(ifd.BitsPerSample) / 8
	want := int(ifd.Width) * int(ifd.Length) * elemSize
	out := make([]byte, 0, want)
	for i, off := range ifd.StripOffsets {
		n := ifd.StripByteCounts[i]
		raw := make([]byte, n)
		if err := f.sr.ReadAt(raw, off, fmt.Sprintf("strip %d", i)); err != nil {
			return nil, err
		}
		switch ifd.Compression {
		case CompressionNone:
			out = append(out, raw...)
		case CompressionDeflate:
			r, err := zlib.NewReader(bytes.NewReader(raw))
			if err != nil {
				return nil, fmt.Errorf("%s: strip %d: %w", f.sr.Path(), i, err)
			}
			expanded, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				return nil, fmt.Errorf("%s: strip %d: %w", f.sr.Path(), i, err)
			}
			out = append(out, expanded...)
		default:
			return nil, fmt.Errorf("%s: unsupported compression %d", f.sr.Path(), ifd.Compression)
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("%s: sub-image at %d: got %d pixel bytes, expected %d",
			f.sr.Path(), ifd.Offset, len(out), want)
	}
	if f.bo == stdbinary.BigEndian && elemSize > 1 {
		swapBytes(out, elemSize)
	}
	return out, nil
}

func swapBytes(b []byte, elemSize int) {
	for i := 0; i+elemSize <= len(b); i += elemSize {
		for j, k := i, i+elemSize-1; j < k; j, k = j+1, k-1 {
			b[j], b[k] = b[k], b[j]
		}
	}
}

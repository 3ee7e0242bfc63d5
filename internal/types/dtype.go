package types

import "fmt"

// Dtype is the element datatype of an array. Only fixed-width numeric
// types are supported; chunk payloads are raw little-endian bytes.
//
//go:generate stringer -type=Dtype -linecomment
type Dtype int

const (
	// DtypeUnknown represents an unrecognized element type.
	DtypeUnknown Dtype = iota // unknown
	DtypeUint8                // uint8
	DtypeUint16               // uint16
	DtypeUint32               // uint32
	DtypeInt8                 // int8
	DtypeInt16                // int16
	DtypeInt32                // int32
	DtypeFloat32              // float32
	DtypeFloat64              // float64
)

var dtypeNames = map[Dtype]string{
	DtypeUint8:   "uint8",
	DtypeUint16:  "uint16",
	DtypeUint32:  "uint32",
	DtypeInt8:    "int8",
	DtypeInt16:   "int16",
	DtypeInt32:   "int32",
	DtypeFloat32: "float32",
	DtypeFloat64: "float64",
}

func (d Dtype) String() string {
	if s, ok := dtypeNames[d]; ok {
		return s
	}
	return "unknown"
}

// Size returns the element width in bytes.
func (d Dtype) Size() int {
	switch d {
	case DtypeUint8, DtypeInt8:
		return 1
	case DtypeUint16, DtypeInt16:
		return 2
	case DtypeUint32, DtypeInt32, DtypeFloat32:
		return 4
	case DtypeFloat64:
		return 8
	default:
		return 0
	}
}

// ParseDtype parses the plain names used in manifests and OME-XML
// ("uint16", "float32", ...).
func ParseDtype(s string) (Dtype, error) {
	for d, name := range dtypeNames {
		if name == s {
			return d, nil
		}
	}
	return DtypeUnknown, fmt.Errorf("unsupported dtype %q", s)
}

// ZarrString returns the zarr v2 dtype encoding (numpy typestr,
// little-endian for multi-byte types).
func (d Dtype) ZarrString() string {
	switch d {
	case DtypeUint8:
		return "|u1"
	case DtypeInt8:
		return "|i1"
	case DtypeUint16:
		return "<u2"
	case DtypeInt16:
		return "<i2"
	case DtypeUint32:
		return "<u4"
	case DtypeInt32:
		return "<i4"
	case DtypeFloat32:
		return "<f4"
	case DtypeFloat64:
		return "<f8"
	default:
		return ""
	}
}

// ParseZarrDtype parses a zarr v2 dtype string. Big-endian encodings
// are rejected; all supported stores write little-endian data.
func ParseZarrDtype(s string) (Dtype, error) {
	switch s {
	case "|u1", "u1":
		return DtypeUint8, nil
	case "|i1", "i1":
		return DtypeInt8, nil
	case "<u2":
		return DtypeUint16, nil
	case "<i2":
		return DtypeInt16, nil
	case "<u4":
		return DtypeUint32, nil
	case "<i4":
		return DtypeInt32, nil
	case "<f4":
		return DtypeFloat32, nil
	case "<f8":
		return DtypeFloat64, nil
	default:
		return DtypeUnknown, fmt.Errorf("unsupported zarr dtype %q", s)
	}
}

// TIFF SampleFormat values (tag 339).
const (
	TiffSampleUint  = 1
	TiffSampleInt   = 2
	TiffSampleFloat = 3
)

// TiffSampleFormat returns the TIFF SampleFormat value for this dtype.
func (d Dtype) TiffSampleFormat() uint16 {
	switch d {
	case DtypeInt8, DtypeInt16, DtypeInt32:
		return TiffSampleInt
	case DtypeFloat32, DtypeFloat64:
		return TiffSampleFloat
	default:
		return TiffSampleUint
	}
}

// Bits returns the element width in bits, for the TIFF BitsPerSample tag.
func (d Dtype) Bits() uint16 {
	return uint16(d.Size() * 8)
}

// DtypeFromTiff maps a TIFF (BitsPerSample, SampleFormat) pair back to
// a Dtype.
func DtypeFromTiff(bits, sampleFormat uint16) (Dtype, error) {
	switch sampleFormat {
	case 0, TiffSampleUint: // 0: tag absent, unsigned is the TIFF default
		switch bits {
		case 8:
			return DtypeUint8, nil
		case 16:
			return DtypeUint16, nil
		case 32:
			return DtypeUint32, nil
		}
	case TiffSampleInt:
		switch bits {
		case 8:
			return DtypeInt8, nil
		case 16:
			return DtypeInt16, nil
		case 32:
			return DtypeInt32, nil
		}
	case TiffSampleFloat:
		switch bits {
		case 32:
			return DtypeFloat32, nil
		case 64:
			return DtypeFloat64, nil
		}
	}
	return DtypeUnknown, fmt.Errorf("unsupported TIFF sample: %d bits, format %d", bits, sampleFormat)
}

// Package codec provides the chunk compressors shared by the store
// backings. Codec ids follow the zarr v2 numcodecs naming so the same
// identifiers round-trip through .zarray metadata and the chunked-TIFF
// manifest.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec encodes and decodes one chunk payload.
type Codec interface {
	// ID is the numcodecs identifier ("" for the identity codec).
	ID() string
	// Level is the numcodecs compression level the encoder is
	// configured with (0 for the identity codec). Sidecar metadata
	// records this value, so it must state what Encode actually does.
	Level() int
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

const (
	gzipLevel = 6
	zstdLevel = 3
)

// Get returns the codec for an id. Supported: "" (raw), "gzip", "zstd".
func Get(id string) (Codec, error) {
	switch id {
	case "", "raw":
		return rawCodec{}, nil
	case "gzip":
		return gzipCodec{}, nil
	case "zstd":
		return newZstdCodec()
	default:
		return nil, fmt.Errorf("unsupported compressor %q", id)
	}
}

type rawCodec struct{}

func (rawCodec) ID() string { return "" }

func (rawCodec) Level() int { return 0 }

func (rawCodec) Encode(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (rawCodec) Decode(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

type gzipCodec struct{}

func (gzipCodec) ID() string { return "gzip" }

func (gzipCodec) Level() int { return gzipLevel }

func (gzipCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzipLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decode(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// zstd keeps one shared encoder/decoder pair; EncodeAll and DecodeAll
// are safe for concurrent use.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var (
	zstdOnce   sync.Once
	zstdShared *zstdCodec
	zstdErr    error
)

func newZstdCodec() (Codec, error) {
	zstdOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel)))
		if err != nil {
			zstdErr = err
			return
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			zstdErr = err
			return
		}
		zstdShared = &zstdCodec{enc: enc, dec: dec}
	})
	if zstdErr != nil {
		return nil, zstdErr
	}
	return zstdShared, nil
}

func (c *zstdCodec) ID() string { return "zstd" }

func (c *zstdCodec) Level() int { return zstdLevel }

func (c *zstdCodec) Encode(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCodec) Decode(src []byte) ([]byte, error) {
	return c.dec.DecodeAll(src, nil)
}

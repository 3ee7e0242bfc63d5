package ometiff

import (
	"fmt"
	"os"
	"sync"

	"github.com/davidsonlab/ndstore/internal/registry"
	"github.com/davidsonlab/ndstore/internal/tiff"
	"github.com/davidsonlab/ndstore/internal/types"
)

// OMESchemaVersion is the OME data model release this writer emits.
const OMESchemaVersion = "2016-06"

type writer struct{}

// Create starts (or with cfg.Resume, reopens) an OME-TIFF file. The OME
// document is generated from the descriptor up front and embedded in
// the first page, so pages can stream to disk without any deferred
// metadata patching. Pages are strictly append-only, which constrains
// writes to row-major T, C, Z plane order. A descriptor with Z chunk
// greater than 1 is accepted and split into pages; reopening the file
// always reports per-plane (1, 1, 1, Y, X) chunking, matching the
// physical page layout rather than the write-time chunking.
func (writer) Create(path string, desc types.Descriptor, cfg types.WriteConfig) (registry.ArrayWriter, error) {
	if cfg.SchemaVersion != "" && cfg.SchemaVersion != OMESchemaVersion {
		return nil, &types.SchemaVersionError{Path: path, Version: cfg.SchemaVersion, Supported: []string{OMESchemaVersion}}
	}
	if err := desc.Validate(); err != nil {
		return nil, &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	if cfg.Compressor != "" && cfg.Compressor != "raw" {
		return nil, fmt.Errorf("%s: OME-TIFF pages are written uncompressed, compressor %q unsupported", path, cfg.Compressor)
	}
	for _, a := range desc.Axes {
		switch a.Name {
		case types.AxisY, types.AxisX:
			if a.Chunk != a.Size {
				return nil, &types.MalformedMetadataError{
					Path:   path,
					Reason: fmt.Sprintf("axis %s: pages hold whole planes, chunk %d must equal size %d", a.Name, a.Chunk, a.Size),
				}
			}
		case types.AxisZ:
			// Any Z chunking works: chunks are split into pages.
		default:
			if a.Chunk != 1 {
				return nil, &types.MalformedMetadataError{
					Path:   path,
					Reason: fmt.Sprintf("axis %s: chunk extent must be 1, got %d", a.Name, a.Chunk),
				}
			}
		}
	}
	doc, err := BuildOMEXML(desc, cfg.Meta)
	if err != nil {
		return nil, err
	}

	var tw *tiff.Writer
	if cfg.Resume {
		if err := checkResumable(path, desc); err != nil {
			return nil, err
		}
		tw, err = tiff.OpenAppend(path)
	} else {
		tw, err = tiff.Create(path)
	}
	if err != nil {
		return nil, err
	}
	return &arrayWriter{path: path, desc: desc, tw: tw, doc: doc, planes: tw.Count()}, nil
}

// checkResumable verifies an existing file's pages match the descriptor
// before any append touches it.
func checkResumable(path string, desc types.Descriptor) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("resume %s: %w", path, err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("resume %s: %w", path, err)
	}
	if stat.Size() <= 8 {
		return nil
	}
	tf, err := tiff.Parse(f, stat.Size(), path)
	if err != nil {
		return &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	first := tf.IFDs[0]
	y, _ := desc.AxisByName(types.AxisY)
	x, _ := desc.AxisByName(types.AxisX)
	if int(first.Width) != x.Size || int(first.Length) != y.Size ||
		first.BitsPerSample != desc.Dtype.Bits() || first.SampleFormat != desc.Dtype.TiffSampleFormat() {
		return &types.MalformedMetadataError{Path: path, Reason: "resume descriptor does not match the existing pages"}
	}
	return nil
}

// arrayWriter appends planes to the file. One mutex serializes puts:
// the page order requirement makes concurrent writers pointless here.
type arrayWriter struct {
	path string
	desc types.Descriptor
	tw   *tiff.Writer
	doc  string

	mu     sync.Mutex
	planes int
	closed bool
}

// PutChunk appends the chunk's planes as TIFF pages. Chunks must arrive
// in row-major T, C, Z order with no holes; anything else is a
// ChunkRangeError and leaves the file untouched.
func (w *arrayWriter) PutChunk(coord []int, shape []int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("%s: writer is closed", w.path)
	}
	ext, err := w.desc.ChunkExtent(coord)
	if err != nil {
		return &types.ChunkRangeError{Path: w.path, Coord: coord, Grid: w.desc.GridShape()}
	}
	if !equalInts(shape, ext) {
		return &types.ChunkRangeError{
			Path: w.path, Coord: coord, Grid: w.desc.GridShape(),
			Reason: fmt.Sprintf("chunk shape %v, coordinate requires %v", shape, ext),
		}
	}

	var t, c, zStart, nPlanes int
	nPlanes = 1
	sizeC, sizeZ := 1, 1
	var height, width int
	for i, a := range w.desc.Axes {
		switch a.Name {
		case types.AxisT:
			t = coord[i]
		case types.AxisC:
			c = coord[i]
			sizeC = a.Size
		case types.AxisZ:
			zStart = coord[i] * a.Chunk
			nPlanes = ext[i]
			sizeZ = a.Size
		case types.AxisY:
			height = ext[i]
		case types.AxisX:
			width = ext[i]
		}
	}
	first := (t*sizeC+c)*sizeZ + zStart
	if first != w.planes {
		return &types.ChunkRangeError{
			Path: w.path, Coord: coord, Grid: w.desc.GridShape(),
			Reason: fmt.Sprintf("pages are append-only: plane %d next, chunk starts at plane %d", w.planes, first),
		}
	}

	planeBytes := height * width * w.desc.Dtype.Size()
	if len(data) != planeBytes*nPlanes {
		return fmt.Errorf("%s: chunk %v has %d bytes, planes need %d", w.path, coord, len(data), planeBytes*nPlanes)
	}
	for i := 0; i < nPlanes; i++ {
		img := tiff.Image{
			Width:         uint32(width),
			Length:        uint32(height),
			BitsPerSample: w.desc.Dtype.Bits(),
			SampleFormat:  w.desc.Dtype.TiffSampleFormat(),
			Data:          data[i*planeBytes : (i+1)*planeBytes],
		}
		if w.planes == 0 {
			img.Description = w.doc
		}
		if _, err := w.tw.Append(img); err != nil {
			return err
		}
		w.planes++
	}
	return nil
}

// Close syncs and releases the file. Idempotent. A file closed short of
// the declared plane count reopens with gaps for the unwritten tail.
func (w *arrayWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.tw.Close()
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

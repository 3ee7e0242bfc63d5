package tiff

import (
	"bytes"
	stdbinary "encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/davidsonlab/ndstore/internal/binary"
)

// Image is one sub-image to append: a dense block of single-sample
// pixels, little-endian, split into strips of RowsPerStrip rows.
type Image struct {
	Width         uint32
	Length        uint32
	BitsPerSample uint16
	SampleFormat  uint16
	RowsPerStrip  uint32
	// Description is stored in the ImageDescription tag. The chunked
	// container keeps its per-chunk sidecar here so every shard is
	// self-describing.
	Description string
	// Data holds Width*Length elements, row-major.
	Data []byte
}

// Writer appends sub-images to one classic little-endian TIFF file.
// Appends are strictly sequential within a file; callers that need
// parallelism write to distinct files. Not safe for concurrent use.
type Writer struct {
	path string
	f    *os.File
	size int64
	// lastLink is the file offset of the uint32 that will be patched
	// to point at the next appended IFD (the header's first-IFD field
	// initially, then each IFD's next pointer).
	lastLink int64
	count    int
}

// classic TIFF addresses are 32-bit
const maxFileSize = math.MaxUint32

// Create starts a new TIFF file containing no sub-images yet.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	var buf bytes.Buffer
	sw := binary.NewSafeWriter(&buf, stdbinary.LittleEndian)
	_ = sw.WriteString("II")
	_ = binary.Write[uint16](sw, 42)
	_ = binary.Write[uint32](sw, 0) // first IFD offset, patched on first append
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s header: %w", path, err)
	}
	return &Writer{path: path, f: f, size: 8, lastLink: 4}, nil
}

// OpenAppend reopens an existing file for appending, walking the IFD
// chain to locate the final next pointer. The file must have been
// written by this writer (little-endian classic TIFF).
func OpenAppend(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	var header [8]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s header: %w", path, err)
	}
	if stdbinary.LittleEndian.Uint32(header[4:8]) == 0 {
		// Header only, no sub-images yet.
		return &Writer{path: path, f: f, size: stat.Size(), lastLink: 4}, nil
	}
	parsed, err := Parse(f, stat.Size(), path)
	if err != nil {
		f.Close()
		return nil, err
	}
	if parsed.ByteOrder() != stdbinary.LittleEndian {
		f.Close()
		return nil, fmt.Errorf("%s: cannot append to a big-endian file", path)
	}
	w := &Writer{path: path, f: f, size: stat.Size(), lastLink: 4, count: len(parsed.IFDs)}
	last := parsed.IFDs[len(parsed.IFDs)-1]
	// The next pointer sits after the entry table; recover the entry
	// count to find it.
	sr := binary.NewSafeReader(f, stat.Size(), path)
	n, err := binary.Read[uint16](sr, stdbinary.LittleEndian, last.Offset, "IFD entry count")
	if err != nil {
		f.Close()
		return nil, err
	}
	w.lastLink = last.Offset + 2 + int64(n)*12
	return w, nil
}

// Count returns the number of sub-images written so far.
func (w *Writer) Count() int { return w.count }

// Size returns the current file size in bytes.
func (w *Writer) Size() int64 { return w.size }

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

type ifdEntry struct {
	tag       uint16
	fieldType uint16
	count     uint32
	value     uint32
}

// Append writes one sub-image at the end of the file and links it into
// the IFD chain. The returned offset addresses the new IFD. Previously
// written sub-images are never touched, so a failed append leaves the
// existing chain intact.
func (w *Writer) Append(img Image) (int64, error) {
	elemSize := int64(img.BitsPerSample) / 8
	want := int64(img.Width) * int64(img.Length) * elemSize
	if int64(len(img.Data)) != want {
		return 0, fmt.Errorf("%s: sub-image data is %d bytes, dimensions need %d", w.path, len(img.Data), want)
	}
	if img.RowsPerStrip == 0 || img.RowsPerStrip > img.Length {
		img.RowsPerStrip = img.Length
	}

	// TIFF values must start on word boundaries.
	base := w.size
	if base%2 == 1 {
		base++
	}

	stripCount := int((img.Length + img.RowsPerStrip - 1) / img.RowsPerStrip)
	rowBytes := int64(img.Width) * elemSize
	stripOffsets := make([]uint32, stripCount)
	stripCounts := make([]uint32, stripCount)
	off := base
	remaining := int64(img.Length)
	for i := 0; i < stripCount; i++ {
		rows := int64(img.RowsPerStrip)
		if rows > remaining {
			rows = remaining
		}
		stripOffsets[i] = uint32(off)
		stripCounts[i] = uint32(rows * rowBytes)
		off += rows * rowBytes
		remaining -= rows
	}
	dataEnd := off

	// Region layout after the pixel data: description, external strip
	// tables, then the IFD itself.
	descOff := align2(dataEnd)
	descLen := int64(0)
	if img.Description != "" {
		// Keep the value external: pad tiny descriptions past the
		// 4-byte inline threshold.
		for len(img.Description) < 4 {
			img.Description += " "
		}
		descLen = int64(len(img.Description)) + 1 // NUL terminator
	}
	extOffsetsOff := align2(descOff + descLen)
	extLen := int64(0)
	if stripCount > 1 {
		extLen = int64(stripCount) * 4
	}
	extCountsOff := extOffsetsOff + extLen
	ifdOff := align2(extCountsOff + extLen)

	entries := []ifdEntry{
		{TagImageWidth, typeLong, 1, img.Width},
		{TagImageLength, typeLong, 1, img.Length},
		{TagBitsPerSample, typeShort, 1, uint32(img.BitsPerSample)},
		{TagCompression, typeShort, 1, CompressionNone},
		{TagPhotometric, typeShort, 1, 1}, // BlackIsZero
		{TagSamplesPerPixel, typeShort, 1, 1},
		{TagRowsPerStrip, typeLong, 1, img.RowsPerStrip},
		{TagSampleFormat, typeShort, 1, uint32(img.SampleFormat)},
	}
	if stripCount == 1 {
		entries = append(entries,
			ifdEntry{TagStripOffsets, typeLong, 1, stripOffsets[0]},
			ifdEntry{TagStripByteCounts, typeLong, 1, stripCounts[0]},
		)
	} else {
		entries = append(entries,
			ifdEntry{TagStripOffsets, typeLong, uint32(stripCount), uint32(extOffsetsOff)},
			ifdEntry{TagStripByteCounts, typeLong, uint32(stripCount), uint32(extCountsOff)},
		)
	}
	if descLen > 0 {
		entries = append(entries, ifdEntry{TagImageDescription, typeASCII, uint32(descLen), uint32(descOff)})
	}
	// Directory entries must be sorted by tag.
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	end := ifdOff + 2 + int64(len(entries))*12 + 4
	if end > maxFileSize {
		return 0, fmt.Errorf("%s: append would exceed the 4 GiB classic TIFF limit", w.path)
	}

	// Assemble the whole record in memory, then write it with one
	// WriteAt so a crash mid-append cannot leave a half-linked IFD.
	buf := &bytes.Buffer{}
	cw := binary.NewChainWriter(binary.NewSafeWriter(buf, stdbinary.LittleEndian))
	cw.Bytes(img.Data)
	pad(cw, descOff-dataEnd)
	if descLen > 0 {
		cw.Bytes([]byte(img.Description))
		binary.WriteChained[uint8](cw, 0)
	}
	pad(cw, extOffsetsOff-(descOff+descLen))
	if stripCount > 1 {
		for _, v := range stripOffsets {
			binary.WriteChained(cw, v)
		}
		for _, v := range stripCounts {
			binary.WriteChained(cw, v)
		}
	}
	pad(cw, ifdOff-(extCountsOff+extLen))
	binary.WriteChained(cw, uint16(len(entries)))
	for _, e := range entries {
		binary.WriteChained(cw, e.tag)
		binary.WriteChained(cw, e.fieldType)
		binary.WriteChained(cw, e.count)
		if inlineShort(e) {
			// A single SHORT occupies the low bytes of the value field.
			binary.WriteChained(cw, uint16(e.value))
			binary.WriteChained(cw, uint16(0))
		} else {
			binary.WriteChained(cw, e.value)
		}
	}
	binary.WriteChained(cw, uint32(0)) // next IFD
	if err := cw.Error(); err != nil {
		return 0, err
	}

	if _, err := w.f.WriteAt(buf.Bytes(), base); err != nil {
		return 0, fmt.Errorf("append to %s: %w", w.path, err)
	}
	// Link the new IFD into the chain last, so readers never see a
	// pointer to unwritten data.
	var link [4]byte
	stdbinary.LittleEndian.PutUint32(link[:], uint32(ifdOff))
	if _, err := w.f.WriteAt(link[:], w.lastLink); err != nil {
		return 0, fmt.Errorf("link IFD in %s: %w", w.path, err)
	}

	w.size = end
	w.lastLink = ifdOff + 2 + int64(len(entries))*12
	w.count++
	return ifdOff, nil
}

func inlineShort(e ifdEntry) bool {
	return e.fieldType == typeShort && e.count == 1
}

func pad(cw *binary.ChainWriter, n int64) {
	for i := int64(0); i < n; i++ {
		binary.WriteChained[uint8](cw, 0)
	}
}

func align2(off int64) int64 {
	if off%2 == 1 {
		return off + 1
	}
	return off
}

// Sync flushes the file to stable storage.
func (w *Writer) Sync() error { return w.f.Sync() }

// Close syncs and releases the file handle. Idempotent.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Sync()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}

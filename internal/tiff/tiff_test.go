package tiff

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 253)
	}
	return data
}

func parseFile(t *testing.T, path string) *File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	stat, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	tf, err := Parse(f, stat.Size(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tf
}

func TestWriteParseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.tif")
	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}

	images := []Image{
		{Width: 8, Length: 6, BitsPerSample: 16, SampleFormat: 1, Data: testData(8 * 6 * 2)},
		{Width: 8, Length: 6, BitsPerSample: 16, SampleFormat: 1, RowsPerStrip: 2,
			Description: `{"linear":1}`, Data: testData(8 * 6 * 2)},
		// Odd-sized 8-bit payload exercises word alignment.
		{Width: 3, Length: 3, BitsPerSample: 8, SampleFormat: 1, Data: testData(9)},
	}
	var offsets []int64
	for _, img := range images {
		off, err := w.Append(img)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		offsets = append(offsets, off)
	}
	if w.Count() != 3 {
		t.Errorf("Count = %d, want 3", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	tf := parseFile(t, path)
	if len(tf.IFDs) != 3 {
		t.Fatalf("parsed %d sub-images, want 3", len(tf.IFDs))
	}
	for i, ifd := range tf.IFDs {
		if ifd.Offset != offsets[i] {
			t.Errorf("sub-image %d at %d, Append reported %d", i, ifd.Offset, offsets[i])
		}
		got, err := tf.ReadImage(ifd)
		if err != nil {
			t.Fatalf("ReadImage %d: %v", i, err)
		}
		if !bytes.Equal(got, images[i].Data) {
			t.Errorf("sub-image %d pixel data differs", i)
		}
	}
	if tf.IFDs[1].Description != `{"linear":1}` {
		t.Errorf("description = %q", tf.IFDs[1].Description)
	}
	// RowsPerStrip 2 over 6 rows: three strips.
	if len(tf.IFDs[1].StripOffsets) != 3 {
		t.Errorf("strip count = %d, want 3", len(tf.IFDs[1].StripOffsets))
	}
}

func TestShortDescriptionSurvives(t *testing.T) {
	// Descriptions shorter than the inline threshold are padded, never
	// inlined; the reader must get the text back (modulo padding).
	path := filepath.Join(t.TempDir(), "d.tif")
	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append(Image{Width: 2, Length: 2, BitsPerSample: 8, SampleFormat: 1,
		Description: "x", Data: testData(4)}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	tf := parseFile(t, path)
	if got := tf.IFDs[0].Description; got != "x   " {
		t.Errorf("description = %q", got)
	}
}

func TestOpenAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.tif")
	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	img := Image{Width: 4, Length: 4, BitsPerSample: 8, SampleFormat: 1, Data: testData(16)}
	if _, err := w.Append(img); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w2, err := OpenAppend(path)
	if err != nil {
		t.Fatalf("OpenAppend: %v", err)
	}
	if w2.Count() != 1 {
		t.Fatalf("Count after reopen = %d, want 1", w2.Count())
	}
	if _, err := w2.Append(img); err != nil {
		t.Fatal(err)
	}
	if err := w2.Close(); err != nil {
		t.Fatal(err)
	}

	tf := parseFile(t, path)
	if len(tf.IFDs) != 2 {
		t.Fatalf("chain has %d sub-images after reopen, want 2", len(tf.IFDs))
	}
}

func TestOpenAppendHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.tif")
	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	w2, err := OpenAppend(path)
	if err != nil {
		t.Fatalf("OpenAppend on header-only file: %v", err)
	}
	if w2.Count() != 0 {
		t.Errorf("Count = %d, want 0", w2.Count())
	}
	if _, err := w2.Append(Image{Width: 2, Length: 2, BitsPerSample: 8, SampleFormat: 1,
		Data: testData(4)}); err != nil {
		t.Fatal(err)
	}
	if err := w2.Close(); err != nil {
		t.Fatal(err)
	}
	if got := len(parseFile(t, path).IFDs); got != 1 {
		t.Errorf("chain has %d sub-images, want 1", got)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.bin")
	if err := os.WriteFile(path, []byte("definitely not tiff"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := Parse(f, 19, path); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestAppendRejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.tif")
	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	_, err = w.Append(Image{Width: 4, Length: 4, BitsPerSample: 16, SampleFormat: 1, Data: testData(7)})
	if err == nil {
		t.Fatal("mismatched payload accepted")
	}
}

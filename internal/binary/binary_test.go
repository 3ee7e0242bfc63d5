package binary

import (
	"bytes"
	stdbinary "encoding/binary"
	"testing"
)

func TestSafeReaderBounds(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	sr := NewSafeReader(bytes.NewReader(data), int64(len(data)), "test.bin")

	tests := []struct {
		name    string
		off     int64
		n       int
		wantErr bool
	}{
		{"full read", 0, 4, false},
		{"tail read", 2, 2, false},
		{"negative offset", -1, 1, true},
		{"offset at end", 4, 1, true},
		{"read past end", 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.n)
			err := sr.ReadAt(buf, tt.off, "payload")
			if (err != nil) != tt.wantErr {
				t.Errorf("ReadAt(off=%d, n=%d) error = %v, wantErr %v", tt.off, tt.n, err, tt.wantErr)
			}
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	orders := map[string]stdbinary.ByteOrder{
		"little": stdbinary.LittleEndian,
		"big":    stdbinary.BigEndian,
	}
	for name, bo := range orders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			sw := NewSafeWriter(&buf, bo)
			if err := Write(sw, uint8(0xAB)); err != nil {
				t.Fatal(err)
			}
			if err := Write(sw, uint16(0x1234)); err != nil {
				t.Fatal(err)
			}
			if err := Write(sw, uint32(0xDEADBEEF)); err != nil {
				t.Fatal(err)
			}
			if err := Write(sw, uint64(0x0102030405060708)); err != nil {
				t.Fatal(err)
			}
			if err := sw.WriteString("tag!"); err != nil {
				t.Fatal(err)
			}
			if got, want := sw.Offset(), int64(1+2+4+8+4); got != want {
				t.Fatalf("Offset() = %d, want %d", got, want)
			}

			data := buf.Bytes()
			r := NewReader(NewSafeReader(bytes.NewReader(data), int64(len(data)), "mem"), bo, 0)
			if v, err := ReadValue[uint8](r, "u8"); err != nil || v != 0xAB {
				t.Errorf("u8 = %#x, %v", v, err)
			}
			if v, err := ReadValue[uint16](r, "u16"); err != nil || v != 0x1234 {
				t.Errorf("u16 = %#x, %v", v, err)
			}
			if v, err := ReadValue[uint32](r, "u32"); err != nil || v != 0xDEADBEEF {
				t.Errorf("u32 = %#x, %v", v, err)
			}
			if v, err := ReadValue[uint64](r, "u64"); err != nil || v != 0x0102030405060708 {
				t.Errorf("u64 = %#x, %v", v, err)
			}
			if s, err := r.ReadString(4, "tag"); err != nil || s != "tag!" {
				t.Errorf("string = %q, %v", s, err)
			}
			if r.Offset() != int64(len(data)) {
				t.Errorf("Offset() = %d, want %d", r.Offset(), len(data))
			}
		})
	}
}

func TestReaderSeekSkip(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	r := NewReader(NewSafeReader(bytes.NewReader(data), 8, "mem"), stdbinary.LittleEndian, 0)

	r.Skip(3)
	if v, err := ReadValue[uint8](r, "byte"); err != nil || v != 3 {
		t.Fatalf("after Skip: %d, %v", v, err)
	}
	r.Seek(6)
	if v, err := ReadValue[uint16](r, "word"); err != nil || v != 0x0706 {
		t.Fatalf("after Seek: %#x, %v", v, err)
	}
}

func TestChainReaderStopsAtFirstError(t *testing.T) {
	data := []byte{0x11, 0x22}
	cr := NewChainReader(NewReader(NewSafeReader(bytes.NewReader(data), 2, "mem"), stdbinary.BigEndian, 0))

	if v := ReadChained[uint16](cr, "first"); v != 0x1122 {
		t.Fatalf("first = %#x", v)
	}
	// Past the end: this read fails and every later read is a no-op.
	if v := ReadChained[uint32](cr, "second"); v != 0 {
		t.Errorf("failed read returned %#x, want 0", v)
	}
	if s := cr.String(4, "third"); s != "" {
		t.Errorf("read after error returned %q", s)
	}
	if cr.Error() == nil {
		t.Error("Error() = nil, want accumulated error")
	}
}

func TestChainWriterStopsAtFirstError(t *testing.T) {
	cw := NewChainWriter(NewSafeWriter(failWriter{}, stdbinary.LittleEndian))
	WriteChained(cw, uint32(1))
	WriteChained(cw, uint32(2))
	cw.Bytes([]byte{3})
	if cw.Error() == nil {
		t.Fatal("Error() = nil, want write failure")
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, bytes.ErrTooLarge
}

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/davidsonlab/ndstore/internal/codec"
)

// DirStore keeps each chunk in one file under a root directory. The
// coordinate-to-path mapping is a pure, reversible function of the
// coordinate tuple and the separator, so a store can be reopened
// without any index file.
type DirStore struct {
	root  string
	sep   string
	codec codec.Codec
}

// NewDirStore opens (creating if needed) a directory chunk store.
// sep is the dimension separator: "." for flat zarr v2 stores, "/" for
// nested NGFF stores.
func NewDirStore(root, sep string, c codec.Codec) (*DirStore, error) {
	if sep != "." && sep != "/" {
		return nil, fmt.Errorf("unsupported dimension separator %q", sep)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk store %s: %w", root, err)
	}
	return &DirStore{root: root, sep: sep, codec: c}, nil
}

// Key maps a chunk coordinate to its store key ("0.1.2" or "0/1/2").
func Key(coord []int, sep string) string {
	parts := make([]string, len(coord))
	for i, c := range coord {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, sep)
}

// ParseKey inverts Key for the given separator.
func ParseKey(key, sep string) ([]int, error) {
	parts := strings.Split(key, sep)
	coord := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("chunk key %q: %w", key, err)
		}
		coord[i] = v
	}
	return coord, nil
}

func (s *DirStore) path(coord []int) string {
	return filepath.Join(s.root, filepath.FromSlash(Key(coord, s.sep)))
}

// GetChunkBytes reads and decodes one chunk file. A missing file is
// reported as ErrChunkNotFound, not an I/O failure.
func (s *DirStore) GetChunkBytes(coord []int) ([]byte, error) {
	raw, err := os.ReadFile(s.path(coord))
	if os.IsNotExist(err) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %v: %w", coord, err)
	}
	data, err := s.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %v: %w", coord, err)
	}
	return data, nil
}

// PutChunkBytes encodes and writes one chunk file, creating parent
// directories for nested separators. The write goes through a temp
// file and rename so readers never observe a partial chunk.
func (s *DirStore) PutChunkBytes(coord []int, data []byte) error {
	path := s.path(coord)
	if s.sep == "/" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create chunk dir for %v: %w", coord, err)
		}
	}
	encoded, err := s.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("encode chunk %v: %w", coord, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chunk-*.tmp")
	if err != nil {
		return fmt.Errorf("write chunk %v: %w", coord, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write chunk %v: %w", coord, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write chunk %v: %w", coord, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write chunk %v: %w", coord, err)
	}
	return nil
}

// Close is a no-op: DirStore holds no descriptors between operations.
func (s *DirStore) Close() error { return nil }

// Root returns the store's root directory.
func (s *DirStore) Root() string { return s.root }

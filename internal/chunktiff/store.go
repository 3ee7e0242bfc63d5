package chunktiff

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/davidsonlab/ndstore/internal/store"
	"github.com/davidsonlab/ndstore/internal/tiff"
	"github.com/davidsonlab/ndstore/internal/types"
)

// Store adapts a chunked-TIFF directory to the store.ChunkStore
// capability shared with store.DirStore: raw chunk payloads addressed
// by grid coordinate. Puts append through the shard writer; gets
// resolve through the live in-memory index, so a chunk is readable as
// soon as its put returns. The manifest flushes at Close. Single
// writer, per the ChunkStore contract.
type Store struct {
	desc types.Descriptor
	grid []int
	aw   *arrayWriter
}

var _ store.ChunkStore = (*Store)(nil)

// OpenStore opens (or with cfg.Resume continues) a chunked-TIFF
// directory as a ChunkStore.
func OpenStore(path string, desc types.Descriptor, cfg types.WriteConfig) (*Store, error) {
	aw, err := writer{}.Create(path, desc, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{desc: desc, grid: desc.GridShape(), aw: aw.(*arrayWriter)}, nil
}

// PutChunkBytes appends one chunk; the extent is derived from the
// coordinate.
func (st *Store) PutChunkBytes(coord []int, data []byte) error {
	ext, err := st.desc.ChunkExtent(coord)
	if err != nil {
		return err
	}
	return st.aw.PutChunk(coord, ext, data)
}

// GetChunkBytes reads a chunk back. A coordinate never written returns
// store.ErrChunkNotFound; a rewritten coordinate returns the latest
// append. The shard is reopened per read because appends after a
// cached open would fall outside the cached file bounds.
func (st *Store) GetChunkBytes(coord []int) ([]byte, error) {
	ext, err := st.desc.ChunkExtent(coord)
	if err != nil {
		return nil, err
	}
	lin := types.LinearIndex(coord, st.grid)
	off, ok, err := st.latestOffset(lin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrChunkNotFound
	}

	path := filepath.Join(st.aw.dir, shardName(lin/st.aw.shardSize))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", path, err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat shard %s: %w", path, err)
	}
	tf, _, err := tiff.Open(f, stat.Size(), path)
	if err != nil {
		return nil, &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	return readChunkAt(tf, path, off, lin, ext, st.desc.Dtype.Size())
}

func (st *Store) latestOffset(lin int) (int64, bool, error) {
	ss, err := st.aw.shard(lin / st.aw.shardSize)
	if err != nil {
		return 0, false, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for i := len(ss.entries) - 1; i >= 0; i-- {
		if ss.entries[i].Linear == lin {
			return ss.entries[i].Offset, true, nil
		}
	}
	return 0, false, nil
}

// Close flushes the manifest and releases the shard writers.
// Idempotent.
func (st *Store) Close() error {
	return st.aw.Close()
}

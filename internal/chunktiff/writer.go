package chunktiff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/davidsonlab/ndstore/internal/registry"
	"github.com/davidsonlab/ndstore/internal/tiff"
	"github.com/davidsonlab/ndstore/internal/types"
)

type writer struct{}

// Create prepares a chunked-TIFF store at path. Chunks may arrive in
// any order; writers on distinct shards run concurrently because each
// shard is an independent append-only file. The manifest is flushed
// once, at Close.
//
// With cfg.Resume an existing store is continued: the manifest is
// reloaded if present, otherwise the shard files are re-indexed from
// their per-sub-image sidecars (the crashed-before-Close case).
func (writer) Create(path string, desc types.Descriptor, cfg types.WriteConfig) (registry.ArrayWriter, error) {
	if cfg.SchemaVersion != "" && cfg.SchemaVersion != SchemaVersion {
		return nil, &types.SchemaVersionError{Path: path, Version: cfg.SchemaVersion, Supported: []string{SchemaVersion}}
	}
	if err := desc.Validate(); err != nil {
		return nil, &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	if cfg.Compressor != "" && cfg.Compressor != "raw" {
		return nil, fmt.Errorf("%s: chunked-TIFF shards are written uncompressed, compressor %q unsupported", path, cfg.Compressor)
	}
	shardSize := cfg.ShardSize
	if shardSize <= 0 {
		shardSize = types.DefaultShardSize
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create store %s: %w", path, err)
	}

	w := &arrayWriter{
		dir:       path,
		desc:      desc,
		grid:      desc.GridShape(),
		shardSize: shardSize,
		meta:      cfg.Meta.Clone(),
		shards:    make(map[int]*shardState),
	}
	if cfg.Resume {
		if err := w.resume(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// arrayWriter streams chunks into shard files. The shards map is
// guarded by mu; each shard serializes its own appends behind its own
// lock, so puts on distinct shards proceed in parallel.
type arrayWriter struct {
	dir       string
	desc      types.Descriptor
	grid      []int
	shardSize int
	meta      types.Metadata

	mu     sync.Mutex
	shards map[int]*shardState
	closed bool
}

type shardState struct {
	mu      sync.Mutex
	tw      *tiff.Writer
	entries []ChunkEntry
}

// resume reloads the chunk index of an existing store. A manifest, if
// present, must agree with the descriptor; without one the shard files
// themselves are the index.
func (w *arrayWriter) resume() error {
	m, err := readManifest(w.dir)
	switch {
	case err == nil:
		if err := CheckSchema(w.dir, m.SchemaVersion); err != nil {
			return err
		}
		onDisk, err := m.descriptor(w.dir)
		if err != nil {
			return err
		}
		if !onDisk.Equal(w.desc) {
			return &types.MalformedMetadataError{Path: w.dir, Reason: "resume descriptor does not match the existing manifest"}
		}
		if m.ShardSize != w.shardSize {
			return &types.MalformedMetadataError{
				Path:   w.dir,
				Reason: fmt.Sprintf("resume shard size %d does not match the existing %d", w.shardSize, m.ShardSize),
			}
		}
		for _, se := range m.Shards {
			var idx int
			if _, err := fmt.Sscanf(se.File, "shard_%05d.tif", &idx); err != nil {
				return &types.MalformedMetadataError{Path: w.dir, Reason: fmt.Sprintf("unrecognized shard file %q", se.File)}
			}
			w.shards[idx] = &shardState{entries: append([]ChunkEntry(nil), se.Chunks...)}
		}
		return nil
	case os.IsNotExist(err):
		return w.rebuildIndex()
	default:
		return err
	}
}

// rebuildIndex re-derives the chunk index by walking every shard's IFD
// chain and reading the per-sub-image sidecars.
func (w *arrayWriter) rebuildIndex() error {
	matches, err := filepath.Glob(filepath.Join(w.dir, "shard_*.tif"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, path := range matches {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(path), "shard_%05d.tif", &idx); err != nil {
			continue
		}
		entries, err := indexShard(path)
		if err != nil {
			return err
		}
		w.shards[idx] = &shardState{entries: entries}
	}
	return nil
}

func indexShard(path string) ([]ChunkEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", path, err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat shard %s: %w", path, err)
	}
	if stat.Size() <= 8 {
		return nil, nil
	}
	tf, err := tiff.Parse(f, stat.Size(), path)
	if err != nil {
		return nil, &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	entries := make([]ChunkEntry, 0, len(tf.IFDs))
	for _, ifd := range tf.IFDs {
		var sc chunkSidecar
		if err := json.Unmarshal([]byte(ifd.Description), &sc); err != nil {
			return nil, &types.MalformedMetadataError{
				Path:   path,
				Reason: fmt.Sprintf("sub-image at %d has no chunk sidecar: %v", ifd.Offset, err),
			}
		}
		entries = append(entries, ChunkEntry{Linear: sc.Linear, Offset: ifd.Offset})
	}
	return entries, nil
}

// shard returns the state for one shard, opening its writer on first
// use.
func (w *arrayWriter) shard(idx int) (*shardState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("%s: writer is closed", w.dir)
	}
	ss, ok := w.shards[idx]
	if !ok {
		ss = &shardState{}
		w.shards[idx] = ss
	}
	return ss, nil
}

func (ss *shardState) openWriter(path string) error {
	if ss.tw != nil {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		tw, err := tiff.OpenAppend(path)
		if err != nil {
			return err
		}
		ss.tw = tw
		return nil
	}
	tw, err := tiff.Create(path)
	if err != nil {
		return err
	}
	ss.tw = tw
	return nil
}

// PutChunk appends one chunk as a sub-image of its shard. The chunk is
// laid out with the X extent as the image width and every outer extent
// stacked down the rows, one strip per Y-X plane. Rewriting a
// coordinate appends a fresh sub-image and supersedes the old entry.
func (w *arrayWriter) PutChunk(coord []int, shape []int, data []byte) error {
	ext, err := w.desc.ChunkExtent(coord)
	if err != nil {
		return &types.ChunkRangeError{Path: w.dir, Coord: coord, Grid: w.grid}
	}
	if !sameInts(shape, ext) {
		return &types.ChunkRangeError{
			Path: w.dir, Coord: coord, Grid: w.grid,
			Reason: fmt.Sprintf("chunk shape %v, coordinate requires %v", shape, ext),
		}
	}
	n := len(ext)
	width := ext[n-1]
	length := 1
	for _, e := range ext[:n-1] {
		length *= e
	}
	elemSize := w.desc.Dtype.Size()
	if len(data) != width*length*elemSize {
		return fmt.Errorf("%s: chunk %v has %d bytes, extent needs %d", w.dir, coord, len(data), width*length*elemSize)
	}
	lin := types.LinearIndex(coord, w.grid)
	sidecar, err := json.Marshal(chunkSidecar{Linear: lin, Shape: ext})
	if err != nil {
		return err
	}

	idx := lin / w.shardSize
	ss, err := w.shard(idx)
	if err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if err := ss.openWriter(filepath.Join(w.dir, shardName(idx))); err != nil {
		return err
	}
	off, err := ss.tw.Append(tiff.Image{
		Width:         uint32(width),
		Length:        uint32(length),
		BitsPerSample: w.desc.Dtype.Bits(),
		SampleFormat:  w.desc.Dtype.TiffSampleFormat(),
		RowsPerStrip:  uint32(ext[n-2]),
		Description:   string(sidecar),
		Data:          data,
	})
	if err != nil {
		return err
	}
	ss.entries = append(ss.entries, ChunkEntry{Linear: lin, Offset: off})
	return nil
}

// Close flushes the manifest and releases every shard writer.
// Idempotent: the manifest is written exactly once. A writer that never
// reaches Close leaves a store readable only through Resume, which is
// the crash-recovery contract.
func (w *arrayWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	m := newManifest(w.desc, w.meta, w.shardSize)
	indices := make([]int, 0, len(w.shards))
	for idx := range w.shards {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	var first error
	for _, idx := range indices {
		ss := w.shards[idx]
		ss.mu.Lock()
		if len(ss.entries) > 0 {
			m.Shards = append(m.Shards, ShardEntry{File: shardName(idx), Chunks: ss.entries})
		}
		if ss.tw != nil {
			if err := ss.tw.Close(); err != nil && first == nil {
				first = err
			}
		}
		ss.mu.Unlock()
	}
	if err := writeManifest(w.dir, m); err != nil && first == nil {
		first = err
	}
	return first
}

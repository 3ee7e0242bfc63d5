package chunktiff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/davidsonlab/ndstore/internal/registry"
	"github.com/davidsonlab/ndstore/internal/tiff"
	"github.com/davidsonlab/ndstore/internal/types"
)

type reader struct{}

func init() {
	registry.RegisterReader(types.FormatChunkTiff, reader{})
	registry.RegisterWriter(types.FormatChunkTiff, writer{})
}

// Open reads the manifest and exposes the store as one position with
// the declared chunk grid. Shard files are opened lazily on first read
// and parsed per sub-image via the manifest's offset index; the chain
// is never walked.
func (reader) Open(path string, cfg types.OpenConfig) (*types.Dataset, error) {
	m, err := readManifest(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &types.MalformedMetadataError{Path: path, Reason: "no manifest"}
		}
		return nil, err
	}
	if err := CheckSchema(path, m.SchemaVersion); err != nil {
		return nil, err
	}
	desc, err := m.descriptor(path)
	if err != nil {
		return nil, err
	}

	ds := &types.Dataset{
		Path:   path,
		Format: types.FormatChunkTiff,
		Meta: types.Metadata{
			Name:          m.Name,
			SchemaVersion: m.SchemaVersion,
			ChannelNames:  append([]string(nil), m.Channels...),
		},
	}

	src := &shardSource{
		dir:    path,
		desc:   desc,
		chunks: make(map[int]chunkRef, desc.NumChunks()),
		files:  make(map[string]*tiff.File),
	}
	for _, se := range m.Shards {
		for _, ce := range se.Chunks {
			if ce.Linear < 0 || ce.Linear >= desc.NumChunks() {
				return nil, &types.MalformedMetadataError{
					Path:   path,
					Reason: fmt.Sprintf("manifest chunk index %d outside grid of %d chunks", ce.Linear, desc.NumChunks()),
				}
			}
			src.chunks[ce.Linear] = chunkRef{file: se.File, offset: ce.Offset}
		}
	}
	ds.AddCloser(src)

	arr := &types.Array{Name: "0", Desc: desc, Source: src}
	if missing := desc.NumChunks() - len(src.chunks); missing > 0 {
		grid := desc.GridShape()
		for lin := 0; lin < desc.NumChunks(); lin++ {
			if _, ok := src.chunks[lin]; !ok {
				arr.Gaps = append(arr.Gaps, types.CoordAt(lin, grid))
			}
		}
		ds.Warn("read", "acquisition incomplete: %d of %d chunks present", len(src.chunks), desc.NumChunks())
	}
	if err := ds.AddPosition(&types.Position{Name: "0", Arrays: []*types.Array{arr}}); err != nil {
		return nil, err
	}
	if cfg.Strict && len(ds.Warnings) > 0 {
		return nil, &types.MalformedMetadataError{Path: path, Reason: ds.Warnings[0].String()}
	}
	return ds, nil
}

type chunkRef struct {
	file   string
	offset int64
}

// shardSource reads chunks out of shard files. Shards open lazily and
// stay open for the dataset's lifetime; reads on distinct chunks run
// concurrently through io.ReaderAt.
type shardSource struct {
	dir    string
	desc   types.Descriptor
	chunks map[int]chunkRef

	mu      sync.Mutex
	files   map[string]*tiff.File
	handles []*os.File
	closed  bool
}

func (s *shardSource) shard(name string) (*tiff.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%s: dataset is closed", s.dir)
	}
	if tf, ok := s.files[name]; ok {
		return tf, nil
	}
	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat shard %s: %w", path, err)
	}
	tf, _, err := tiff.Open(f, stat.Size(), path)
	if err != nil {
		f.Close()
		return nil, &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	s.files[name] = tf
	s.handles = append(s.handles, f)
	return tf, nil
}

func (s *shardSource) ReadChunk(coord []int) ([]byte, error) {
	ext, err := s.desc.ChunkExtent(coord)
	if err != nil {
		return nil, err
	}
	lin := types.LinearIndex(coord, s.desc.GridShape())
	ref, ok := s.chunks[lin]
	if !ok {
		return nil, &types.IncompleteAcquisitionError{Path: s.dir, Coord: append([]int(nil), coord...)}
	}
	tf, err := s.shard(ref.file)
	if err != nil {
		return nil, err
	}
	return readChunkAt(tf, filepath.Join(s.dir, ref.file), ref.offset, lin, ext, s.desc.Dtype.Size())
}

// readChunkAt reads and verifies the sub-image at a known IFD offset:
// its sidecar must name the expected chunk and extent, and the pixel
// data must match the extent's byte length exactly.
func readChunkAt(tf *tiff.File, shardPath string, off int64, lin int, ext []int, elemSize int) ([]byte, error) {
	ifd, err := tf.ParseIFDAt(off)
	if err != nil {
		return nil, err
	}
	var sc chunkSidecar
	if err := json.Unmarshal([]byte(ifd.Description), &sc); err != nil {
		return nil, &types.MalformedMetadataError{
			Path:   shardPath,
			Reason: fmt.Sprintf("sub-image at %d has no chunk sidecar: %v", off, err),
		}
	}
	if sc.Linear != lin || !sameInts(sc.Shape, ext) {
		return nil, &types.MalformedMetadataError{
			Path:   shardPath,
			Reason: fmt.Sprintf("sub-image at %d describes chunk %d %v, expected %d %v", off, sc.Linear, sc.Shape, lin, ext),
		}
	}
	data, err := tf.ReadImage(ifd)
	if err != nil {
		return nil, err
	}
	want := elemSize
	for _, e := range ext {
		want *= e
	}
	if len(data) != want {
		return nil, &types.MalformedMetadataError{
			Path:   shardPath,
			Reason: fmt.Sprintf("chunk %d has %d bytes, extent %v needs %d", lin, len(data), ext, want),
		}
	}
	return data, nil
}

// Close releases every opened shard handle.
func (s *shardSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var first error
	for _, f := range s.handles {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.handles = nil
	s.files = nil
	return first
}

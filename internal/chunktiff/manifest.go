// Package chunktiff implements the chunked-TIFF container: chunk
// payloads sharded across plain multi-page TIFF files, addressed
// through a JSON manifest that maps row-major linear chunk indices to
// sub-image offsets. The layout gives zarr-style chunk-granular access
// while every shard stays openable in any TIFF viewer.
package chunktiff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blang/semver"

	"github.com/davidsonlab/ndstore/internal/types"
)

// SchemaVersion is the manifest schema written by this package.
const SchemaVersion = "1.0.0"

// supportedSchema is the manifest version range accepted on read.
var supportedSchema = semver.MustParseRange(">=1.0.0 <2.0.0")

// CheckSchema gates a manifest schema version against the supported
// range.
func CheckSchema(path, version string) error {
	v, err := semver.ParseTolerant(version)
	if err != nil || !supportedSchema(v) {
		return &types.SchemaVersionError{Path: path, Version: version, Supported: []string{"1.x"}}
	}
	return nil
}

// Manifest is the container's manifest.json document. It fully
// determines chunk addressing: a chunk's linear index is its row-major
// position in the chunk grid, its shard is linear/shard_size, and the
// shard entry maps the linear index to the sub-image offset.
type Manifest struct {
	SchemaVersion string `json:"schema_version"`
	Name          string `json:"name,omitempty"`

	AxisOrder  []string  `json:"axis_order"`
	Shape      []int     `json:"shape"`
	ChunkShape []int     `json:"chunk_shape"`
	GridShape  []int     `json:"grid_shape"`
	Dtype      string    `json:"dtype"`
	Scales     []float64 `json:"scales,omitempty"`
	Units      []string  `json:"units,omitempty"`

	ShardSize int          `json:"shard_size"`
	Shards    []ShardEntry `json:"shards"`

	Channels []string `json:"channels,omitempty"`
}

// ShardEntry indexes one shard file. Chunks are listed in append order,
// which need not be linear order: parallel writers interleave.
type ShardEntry struct {
	File   string       `json:"file"`
	Chunks []ChunkEntry `json:"chunks"`
}

// ChunkEntry locates one chunk's sub-image within its shard.
type ChunkEntry struct {
	Linear int   `json:"linear"`
	Offset int64 `json:"offset"`
}

// chunkSidecar is the per-sub-image JSON stored in the ImageDescription
// tag. It repeats the linear index and true extent, so a shard set with
// a lost manifest can be fully re-indexed from the TIFF chain alone.
type chunkSidecar struct {
	Linear int   `json:"linear"`
	Shape  []int `json:"shape"`
}

func manifestPath(dir string) string {
	return filepath.Join(dir, types.SentinelManifest)
}

func shardName(i int) string {
	return fmt.Sprintf("shard_%05d.tif", i)
}

func readManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &types.MalformedMetadataError{Path: dir, Reason: err.Error()}
	}
	return &m, nil
}

// writeManifest flushes through a temp file and rename, so a crash
// during Close leaves either the old manifest or the new one, never a
// torn document.
func writeManifest(dir string, m *Manifest) error {
	raw, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, manifestPath(dir)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// descriptor reconstructs the array descriptor declared by the
// manifest.
func (m *Manifest) descriptor(dir string) (types.Descriptor, error) {
	n := len(m.Shape)
	if n == 0 || len(m.ChunkShape) != n || len(m.AxisOrder) != n {
		return types.Descriptor{}, &types.MalformedMetadataError{
			Path: dir, Reason: "axis_order, shape and chunk_shape lengths disagree",
		}
	}
	dtype, err := types.ParseDtype(m.Dtype)
	if err != nil {
		return types.Descriptor{}, &types.MalformedMetadataError{Path: dir, Reason: err.Error()}
	}
	desc := types.Descriptor{Dtype: dtype}
	for i, name := range m.AxisOrder {
		a := types.Axis{Name: types.AxisName(name), Size: m.Shape[i], Chunk: m.ChunkShape[i]}
		if i < len(m.Scales) {
			a.Scale = m.Scales[i]
		}
		if i < len(m.Units) {
			a.Unit = m.Units[i]
		}
		desc.Axes = append(desc.Axes, a)
	}
	if err := desc.Validate(); err != nil {
		return types.Descriptor{}, &types.MalformedMetadataError{Path: dir, Reason: err.Error()}
	}
	if !sameInts(m.GridShape, desc.GridShape()) {
		return types.Descriptor{}, &types.MalformedMetadataError{
			Path: dir, Reason: fmt.Sprintf("grid_shape %v disagrees with derived grid %v", m.GridShape, desc.GridShape()),
		}
	}
	return desc, nil
}

// newManifest seeds a manifest from a descriptor; the shard index is
// filled in at Close.
func newManifest(desc types.Descriptor, meta types.Metadata, shardSize int) *Manifest {
	m := &Manifest{
		SchemaVersion: SchemaVersion,
		Name:          meta.Name,
		Shape:         desc.Shape(),
		ChunkShape:    desc.ChunkShape(),
		GridShape:     desc.GridShape(),
		Dtype:         desc.Dtype.String(),
		ShardSize:     shardSize,
		Channels:      append([]string(nil), meta.ChannelNames...),
	}
	hasScale, hasUnit := false, false
	for _, a := range desc.Axes {
		m.AxisOrder = append(m.AxisOrder, string(a.Name))
		m.Scales = append(m.Scales, a.Scale)
		m.Units = append(m.Units, a.Unit)
		hasScale = hasScale || a.Scale != 0
		hasUnit = hasUnit || a.Unit != ""
	}
	if !hasScale {
		m.Scales = nil
	}
	if !hasUnit {
		m.Units = nil
	}
	return m
}

func sameInts(a, b []int) bool {
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

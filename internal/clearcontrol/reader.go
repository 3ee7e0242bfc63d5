// Package clearcontrol reads ClearControl light-sheet acquisitions: a
// directory with one index file per channel and one raw uint16 volume
// per (channel, time point). The format is read-only; acquisitions are
// produced by the microscope control software, never by this library.
package clearcontrol

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/davidsonlab/ndstore/internal/registry"
	"github.com/davidsonlab/ndstore/internal/types"
)

const (
	indexSuffix = ".index.txt"
	stacksDir   = "stacks"
	rawExt      = ".raw"
	// blcExt marks blosc-compressed stacks, which the control software
	// can also produce. Those are rejected outright, never reported as
	// missing data.
	blcExt = ".blc"
)

type reader struct{}

func init() {
	registry.RegisterReader(types.FormatClearControl, reader{})
}

// numberPattern tokenizes index lines. Floats (timestamps) must match
// as one token so the integer columns keep their positions.
var numberPattern = regexp.MustCompile(`\d+\.\d+|\d+`)

// channelInfo is one channel's declared geometry, taken from the tail
// of its index file.
type channelInfo struct {
	name  string
	// timePoints is the highest recorded time index plus one.
	timePoints int
	// shape is the per-stack (Z, Y, X) extent.
	shape [3]int
}

// Open scans the index files and exposes the acquisition as one
// position with a (T, C, Z, Y, X) array chunked per stack. Channels can
// disagree on geometry mid-acquisition; the array shape is the
// element-wise minimum across channels and larger stacks are cropped on
// read. Stacks missing from disk become per-coordinate gaps, never open
// failures; a stack present only in the blosc-compressed layout fails
// the open, because that acquisition holds data this reader would
// otherwise misreport as missing.
func (reader) Open(path string, cfg types.OpenConfig) (*types.Dataset, error) {
	matches, err := filepath.Glob(filepath.Join(path, "*"+indexSuffix))
	if err != nil || len(matches) == 0 {
		return nil, &types.MalformedMetadataError{Path: path, Reason: "no channel index files"}
	}
	sort.Strings(matches)

	channels := make([]channelInfo, 0, len(matches))
	for _, idx := range matches {
		info, err := parseIndex(idx)
		if err != nil {
			return nil, err
		}
		channels = append(channels, info)
	}

	// Normalize to the smallest geometry any channel completed.
	timePoints := channels[0].timePoints
	shape := channels[0].shape
	uneven := false
	for _, ch := range channels[1:] {
		if ch.timePoints != timePoints || ch.shape != shape {
			uneven = true
		}
		timePoints = min(timePoints, ch.timePoints)
		for i := range shape {
			shape[i] = min(shape[i], ch.shape[i])
		}
	}

	desc := types.Descriptor{
		Axes: []types.Axis{
			{Name: types.AxisT, Size: timePoints, Chunk: 1},
			{Name: types.AxisC, Size: len(channels), Chunk: 1},
			{Name: types.AxisZ, Size: shape[0], Chunk: shape[0]},
			{Name: types.AxisY, Size: shape[1], Chunk: shape[1]},
			{Name: types.AxisX, Size: shape[2], Chunk: shape[2]},
		},
		Dtype: types.DtypeUint16,
	}
	if err := desc.Validate(); err != nil {
		return nil, &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}

	ds := &types.Dataset{Path: path, Format: types.FormatClearControl}
	for _, ch := range channels {
		ds.Meta.ChannelNames = append(ds.Meta.ChannelNames, ch.name)
	}
	if uneven {
		ds.Warn("metadata", "channels disagree on geometry; cropped to the common extent")
	}

	src := &stackSource{dir: path, desc: desc, channels: channels}
	arr := &types.Array{Name: "0", Desc: desc, Source: src}
	missing := 0
	for t := 0; t < timePoints; t++ {
		for c := range channels {
			if _, err := os.Stat(src.stackPath(t, c)); err != nil {
				if _, err := os.Stat(src.bloscPath(t, c)); err == nil {
					return nil, &types.MalformedMetadataError{
						Path:   path,
						Reason: fmt.Sprintf("channel %s stores blosc-compressed stacks (%06d%s); only raw stacks are supported", channels[c].name, t, blcExt),
					}
				}
				arr.Gaps = append(arr.Gaps, []int{t, c, 0, 0, 0})
				missing++
			}
		}
	}
	if missing > 0 {
		ds.Warn("read", "acquisition incomplete: %d of %d stacks missing", missing, timePoints*len(channels))
	}
	if err := ds.AddPosition(&types.Position{Name: "0", Arrays: []*types.Array{arr}}); err != nil {
		return nil, err
	}
	if cfg.Strict && len(ds.Warnings) > 0 {
		return nil, &types.MalformedMetadataError{Path: path, Reason: ds.Warnings[0].String()}
	}
	return ds, nil
}

// parseIndex reads one channel index. Each line logs one acquired
// stack: the time index first, then timestamp and the stack extent with
// X, Y, Z in columns 2 through 4. The last line wins; geometry changes
// mid-run surface as cropping, not errors.
func parseIndex(path string) (channelInfo, error) {
	info := channelInfo{
		name: strings.TrimSuffix(filepath.Base(path), indexSuffix),
	}
	f, err := os.Open(path)
	if err != nil {
		return info, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var last string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return info, fmt.Errorf("read %s: %w", path, err)
	}
	if last == "" {
		return info, &types.MalformedMetadataError{Path: path, Reason: "index file has no entries"}
	}
	nums := numberPattern.FindAllString(last, -1)
	if len(nums) < 5 {
		return info, &types.MalformedMetadataError{
			Path:   path,
			Reason: fmt.Sprintf("index line %q has %d fields, need 5", last, len(nums)),
		}
	}
	t, _ := strconv.Atoi(nums[0])
	x, _ := strconv.Atoi(nums[2])
	y, _ := strconv.Atoi(nums[3])
	z, _ := strconv.Atoi(nums[4])
	if t < 0 || x <= 0 || y <= 0 || z <= 0 {
		return info, &types.MalformedMetadataError{
			Path:   path,
			Reason: fmt.Sprintf("index line %q declares a degenerate stack", last),
		}
	}
	info.timePoints = t + 1
	info.shape = [3]int{z, y, x}
	return info, nil
}

// stackSource reads one raw volume per chunk. Stacks are uint16
// little-endian, Z-major; channels larger than the common extent are
// cropped.
type stackSource struct {
	dir      string
	desc     types.Descriptor
	channels []channelInfo
}

func (s *stackSource) stackPath(t, c int) string {
	return filepath.Join(s.dir, stacksDir, s.channels[c].name, fmt.Sprintf("%06d%s", t, rawExt))
}

func (s *stackSource) bloscPath(t, c int) string {
	return filepath.Join(s.dir, stacksDir, s.channels[c].name, fmt.Sprintf("%06d%s", t, blcExt))
}

func (s *stackSource) ReadChunk(coord []int) ([]byte, error) {
	ext, err := s.desc.ChunkExtent(coord)
	if err != nil {
		return nil, err
	}
	t, c := coord[0], coord[1]
	path := s.stackPath(t, c)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		if _, berr := os.Stat(s.bloscPath(t, c)); berr == nil {
			return nil, &types.MalformedMetadataError{
				Path:   s.bloscPath(t, c),
				Reason: "stack is blosc-compressed; only raw stacks are supported",
			}
		}
		return nil, &types.IncompleteAcquisitionError{Path: s.dir, Coord: append([]int(nil), coord...)}
	}
	if err != nil {
		return nil, fmt.Errorf("open stack %s: %w", path, err)
	}
	defer f.Close()

	full := s.channels[c].shape
	elemSize := s.desc.Dtype.Size()
	want := full[0] * full[1] * full[2] * elemSize
	data := make([]byte, want)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, &types.MalformedMetadataError{
			Path:   path,
			Reason: fmt.Sprintf("stack is short: %v (need %d bytes)", err, want),
		}
	}
	volExt := ext[2:]
	if full == [3]int{volExt[0], volExt[1], volExt[2]} {
		return data, nil
	}
	return types.CropChunk(data, full[:], volExt, elemSize), nil
}

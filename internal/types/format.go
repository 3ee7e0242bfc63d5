package types

import (
	"os"
	"path/filepath"
	"strings"
)

// Format identifies a supported container format.
//
//go:generate stringer -type=Format -linecomment
type Format int

const (
	// FormatUnknown represents an unrecognized container.
	FormatUnknown Format = iota // Unknown
	// FormatOMEZarr is an OME-NGFF zarr store: a directory tree of
	// chunk files with JSON sidecar metadata.
	FormatOMEZarr // OME-Zarr
	// FormatOMETiff is a single multi-page OME-TIFF file.
	FormatOMETiff // OME-TIFF
	// FormatChunkTiff is the chunked-TIFF container: sharded TIFF
	// files addressing one chunk per sub-image, plus a manifest.
	FormatChunkTiff // Chunked TIFF
	// FormatClearControl is a ClearControl light-sheet acquisition:
	// per-channel index files plus one raw stack file per time point.
	FormatClearControl // ClearControl
)

func (f Format) String() string {
	switch f {
	case FormatOMEZarr:
		return "OME-Zarr"
	case FormatOMETiff:
		return "OME-TIFF"
	case FormatChunkTiff:
		return "Chunked TIFF"
	case FormatClearControl:
		return "ClearControl"
	default:
		return "Unknown"
	}
}

// Sentinel files that disambiguate directory formats, checked in fixed
// priority order. A directory matching none of them is unrecognized
// even if its name suggests otherwise.
const (
	SentinelZattrs   = ".zattrs"
	SentinelZarray   = ".zarray"
	SentinelZgroup   = ".zgroup"
	SentinelManifest = "manifest.json"
	suffixIndex      = ".index.txt"
)

// DetectFormat inspects a path and returns its container format.
//
// Detection reads a bounded prefix only: for files, the first bytes
// (magic numbers take precedence over extensions); for directories,
// the presence of format-specific sentinel files, in the priority
// order zarr sidecar, chunked-TIFF manifest, ClearControl index.
func DetectFormat(path string) (Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FormatUnknown, &UnrecognizedFormatError{Path: path, Reason: err.Error()}
	}
	if info.IsDir() {
		return detectDir(path)
	}
	return detectFile(path, info.Size())
}

func detectDir(path string) (Format, error) {
	for _, sentinel := range []string{SentinelZattrs, SentinelZarray, SentinelZgroup} {
		if fileExists(filepath.Join(path, sentinel)) {
			return FormatOMEZarr, nil
		}
	}
	if fileExists(filepath.Join(path, SentinelManifest)) {
		return FormatChunkTiff, nil
	}
	matches, _ := filepath.Glob(filepath.Join(path, "*"+suffixIndex))
	if len(matches) > 0 {
		return FormatClearControl, nil
	}
	return FormatUnknown, &UnrecognizedFormatError{
		Path:   path,
		Reason: "directory has no recognized sentinel file",
	}
}

func detectFile(path string, size int64) (Format, error) {
	if size < 8 {
		return FormatUnknown, &UnrecognizedFormatError{Path: path, Reason: "file too small"}
	}
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, &UnrecognizedFormatError{Path: path, Reason: err.Error()}
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.ReadAt(magic, 0); err != nil {
		return FormatUnknown, &UnrecognizedFormatError{Path: path, Reason: "failed to read file header"}
	}

	// Classic TIFF: "II" 42 little-endian or "MM" 42 big-endian.
	le := magic[0] == 'I' && magic[1] == 'I' && magic[2] == 42 && magic[3] == 0
	be := magic[0] == 'M' && magic[1] == 'M' && magic[2] == 0 && magic[3] == 42
	if le || be {
		return FormatOMETiff, nil
	}

	// Extension heuristics only apply when no magic matched.
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".tif" || ext == ".tiff" {
		return FormatUnknown, &UnrecognizedFormatError{Path: path, Reason: "tif extension without TIFF magic"}
	}
	return FormatUnknown, &UnrecognizedFormatError{Path: path, Reason: "unsupported file format"}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

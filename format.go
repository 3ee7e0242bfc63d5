package ndstore

import (
	"github.com/davidsonlab/ndstore/internal/types"

	// Format packages register their readers and writers at init time.
	_ "github.com/davidsonlab/ndstore/internal/chunktiff"
	_ "github.com/davidsonlab/ndstore/internal/clearcontrol"
	_ "github.com/davidsonlab/ndstore/internal/ometiff"
	_ "github.com/davidsonlab/ndstore/internal/zarr"
)

// Format identifies a supported container format.
type Format = types.Format

const (
	FormatUnknown      = types.FormatUnknown
	FormatOMEZarr      = types.FormatOMEZarr
	FormatOMETiff      = types.FormatOMETiff
	FormatChunkTiff    = types.FormatChunkTiff
	FormatClearControl = types.FormatClearControl
)

// DetectFormat inspects a path and returns its container format
// without opening it as a dataset. Detection is content-based: magic
// bytes for files, sentinel files for directories. It reads a bounded
// prefix only and never walks chunk data.
func DetectFormat(path string) (Format, error) {
	return types.DetectFormat(path)
}

package types

import "time"

// Metadata is the normalized metadata record shared by all formats.
// Readers construct it once at open time; it is immutable afterwards.
// Writers build it incrementally and flush it exactly once at Close.
type Metadata struct {
	// Name of the dataset or image, if the container records one.
	Name string
	// SchemaVersion of the container's metadata convention
	// (NGFF version for OME-Zarr, manifest version for chunked TIFF).
	SchemaVersion string
	// ChannelNames, ordered by channel index. May be empty.
	ChannelNames []string
	// ChannelColors as RRGGBB hex strings, aligned with ChannelNames.
	ChannelColors []string
	// AcquisitionTime, zero if the container does not record one.
	AcquisitionTime time.Time
	// Raw carries proprietary vendor fields with no normalized
	// equivalent, as an opaque key-to-value side channel. Keys are
	// format-specific; consumers must not depend on them.
	Raw map[string]string
}

// Channel returns the name of channel i, or a positional fallback.
func (m Metadata) Channel(i int) string {
	if i >= 0 && i < len(m.ChannelNames) {
		return m.ChannelNames[i]
	}
	return ""
}

// Clone returns a deep copy, so writer-side mutation never aliases a
// reader's record.
func (m Metadata) Clone() Metadata {
	out := m
	out.ChannelNames = append([]string(nil), m.ChannelNames...)
	out.ChannelColors = append([]string(nil), m.ChannelColors...)
	if m.Raw != nil {
		out.Raw = make(map[string]string, len(m.Raw))
		for k, v := range m.Raw {
			out.Raw[k] = v
		}
	}
	return out
}

package ndstore

import (
	"github.com/davidsonlab/ndstore/internal/types"
)

// Option configures Open.
//
// Example:
//
//	ds, err := ndstore.Open("run42.zarr",
//	    ndstore.WithStrictOpen(),
//	    ndstore.WithSchemaCheck(),
//	)
type Option func(*types.OpenConfig)

// WithStrictOpen turns warnings and acquisition gaps into fatal open
// errors. The default tolerates them: warnings collect on the Dataset
// and gaps fail per chunk read instead.
func WithStrictOpen() Option {
	return func(cfg *types.OpenConfig) {
		cfg.Strict = true
	}
}

// WithSchemaCheck validates JSON sidecar metadata against the embedded
// format schema before accepting it.
func WithSchemaCheck() Option {
	return func(cfg *types.OpenConfig) {
		cfg.SchemaCheck = true
	}
}

func resolveOpen(opts []Option) types.OpenConfig {
	var cfg types.OpenConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WriteOption configures Create.
type WriteOption func(*types.WriteConfig)

// WithShardSize sets the sub-image count per chunked-TIFF shard.
// Ignored by other formats. Defaults to DefaultShardSize.
func WithShardSize(n int) WriteOption {
	return func(cfg *types.WriteConfig) {
		cfg.ShardSize = n
	}
}

// WithCompressor selects the chunk codec for formats that compress
// ("gzip", "zstd"). The default is uncompressed.
func WithCompressor(id string) WriteOption {
	return func(cfg *types.WriteConfig) {
		cfg.Compressor = id
	}
}

// WithSchemaVersion requests a specific metadata schema version. Each
// format rejects versions it cannot write with a SchemaVersionError.
func WithSchemaVersion(v string) WriteOption {
	return func(cfg *types.WriteConfig) {
		cfg.SchemaVersion = v
	}
}

// WithResume continues an existing, not-yet-closed store instead of
// creating a fresh one. Appends only: written chunks are never read
// back or compared.
func WithResume() WriteOption {
	return func(cfg *types.WriteConfig) {
		cfg.Resume = true
	}
}

// WithChannelNames records channel names in the written metadata.
func WithChannelNames(names ...string) WriteOption {
	return func(cfg *types.WriteConfig) {
		cfg.Meta.ChannelNames = append([]string(nil), names...)
	}
}

// WithMetadata seeds the full metadata record flushed at Close. Later
// options override individual fields.
func WithMetadata(m Metadata) WriteOption {
	return func(cfg *types.WriteConfig) {
		cfg.Meta = m.Clone()
	}
}

func resolveWrite(opts []WriteOption) types.WriteConfig {
	var cfg types.WriteConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DefaultShardSize is the default sub-image count per chunked-TIFF
// shard.
const DefaultShardSize = types.DefaultShardSize

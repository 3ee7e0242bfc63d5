package types

// OpenConfig carries resolved open options down to format readers.
type OpenConfig struct {
	// Strict turns acquisition gaps and metadata warnings into fatal
	// open errors.
	Strict bool
	// SchemaCheck validates JSON sidecar metadata against the embedded
	// schema before accepting it.
	SchemaCheck bool
}

// WriteConfig carries resolved write options down to format writers.
type WriteConfig struct {
	// ShardSize is the number of sub-images per chunked-TIFF shard.
	ShardSize int
	// Compressor is the chunk codec id ("", "gzip", "zstd").
	Compressor string
	// SchemaVersion requests a specific metadata schema version;
	// empty selects each format's default.
	SchemaVersion string
	// Resume continues an existing, not-yet-closed store instead of
	// creating a fresh one. Appends only; written chunks are never
	// read back.
	Resume bool
	// Meta seeds the metadata record flushed at Close.
	Meta Metadata
}

// DefaultShardSize bounds the sub-image count per chunked-TIFF shard.
// Classic TIFF offsets are 32-bit, so shards must stay comfortably
// below 4 GiB; 2048 sub-images of typical microscopy chunks do.
const DefaultShardSize = 2048

// Package ndstore provides unified access to chunked ND microscopy
// image data across container formats.
//
// ndstore normalizes OME-Zarr stores, OME-TIFF files, chunked-TIFF
// stores and ClearControl acquisitions into one model: a Dataset of
// Positions, each holding Arrays whose chunks are read lazily at chunk
// granularity. Format detection is automatic and content-based.
//
// # Quick Start
//
// Reading a dataset:
//
//	ds, err := ndstore.Open("plate.zarr")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ds.Close()
//
//	pos := ds.Positions()[0]
//	arr, _ := pos.Array(0)
//	chunk, err := arr.GetChunk([]int{0, 0, 0, 0, 0})
//
// Writing a chunked-TIFF store:
//
//	w, err := ndstore.Create("out.ctif", desc, ndstore.FormatChunkTiff)
//	if err != nil {
//		log.Fatal(err)
//	}
//	// PutChunk in any order, then
//	err = w.Close()
//
// # Supported Formats
//
//   - OME-Zarr (read/write): NGFF 0.1-0.4 image groups and HCS plates
//   - OME-TIFF (read/write): multi-page TIFF with embedded OME-XML
//   - Chunked TIFF (read/write): sharded TIFF files with a JSON manifest
//   - ClearControl (read-only): light-sheet acquisition directories
//
// # Error Handling
//
// Failures carry typed errors (UnrecognizedFormatError,
// MalformedMetadataError, SchemaVersionError, ...) for errors.As
// branching. Non-fatal issues never fail an Open: they accumulate as
// Warnings on the Dataset, and acquisition gaps surface per coordinate
// as IncompleteAcquisitionError only when the missing chunk is read.
package ndstore

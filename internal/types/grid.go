package types

// Row-major linearization of chunk-grid coordinates. The chunked-TIFF
// container persists this mapping in its manifest; readers re-derive
// coordinates from linear sub-image indices with the inverse function,
// so the two must stay exact mirrors of each other.

// LinearIndex flattens a grid coordinate to its row-major linear index:
// the last axis varies fastest.
func LinearIndex(coord, grid []int) int {
	idx := 0
	for i, c := range coord {
		idx = idx*grid[i] + c
	}
	return idx
}

// CoordAt inverts LinearIndex for the given grid shape.
func CoordAt(linear int, grid []int) []int {
	coord := make([]int, len(grid))
	for i := len(grid) - 1; i >= 0; i-- {
		coord[i] = linear % grid[i]
		linear /= grid[i]
	}
	return coord
}

// GridCoords iterates the whole grid in row-major order, calling fn for
// each coordinate. fn gets a fresh slice each call. Iteration stops at
// the first error.
func GridCoords(grid []int, fn func(coord []int) error) error {
	n := 1
	for _, g := range grid {
		n *= g
	}
	for lin := 0; lin < n; lin++ {
		if err := fn(CoordAt(lin, grid)); err != nil {
			return err
		}
	}
	return nil
}

// CropChunk extracts the leading extent-shaped sub-block from a
// full-shaped row-major chunk buffer. Zarr stores edge chunks padded to
// the declared chunk shape; the array contract hands out true extents.
func CropChunk(data []byte, full, extent []int, elemSize int) []byte {
	if equalInts(full, extent) {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	out := make([]byte, numElems(extent)*elemSize)
	copyBlock(out, data, extent, full, extent, elemSize)
	return out
}

// PadChunk embeds an extent-shaped chunk buffer into a zero-filled
// full-shaped buffer. Inverse of CropChunk.
func PadChunk(data []byte, extent, full []int, elemSize int) []byte {
	if equalInts(full, extent) {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	out := make([]byte, numElems(full)*elemSize)
	copyBlock(out, data, full, extent, extent, elemSize)
	return out
}

// ExtractChunk copies the extent-shaped block at the given element
// origin out of a dense row-major buffer. Inverse of the chunk
// placement done by Array.Read.
func ExtractChunk(src []byte, srcShape, origin, extent []int, elemSize int) []byte {
	out := make([]byte, numElems(extent)*elemSize)
	n := len(extent)
	rowLen := extent[n-1] * elemSize
	outer := extent[:n-1]
	rows := numElems(outer)
	idx := make([]int, len(outer))
	for r := 0; r < rows; r++ {
		srcOff, dstOff := 0, 0
		for i, c := range idx {
			srcOff = (srcOff + origin[i] + c) * srcShape[i+1]
			dstOff = (dstOff + c) * extent[i+1]
		}
		srcOff += origin[n-1]
		copy(out[dstOff*elemSize:], src[srcOff*elemSize:srcOff*elemSize+rowLen])
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < outer[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out
}

// copyBlock copies a block-shaped region between two row-major buffers
// with different dimension strides. dstShape and srcShape give the full
// buffer shapes, block the copied region (anchored at the origin).
func copyBlock(dst, src []byte, dstShape, srcShape, block []int, elemSize int) {
	n := len(block)
	rowLen := block[n-1] * elemSize
	// Iterate all outer coordinates of the block; the innermost axis is
	// contiguous in both buffers.
	outer := block[:n-1]
	rows := numElems(outer)
	idx := make([]int, len(outer))
	for r := 0; r < rows; r++ {
		dstOff, srcOff := 0, 0
		for i, c := range idx {
			dstOff = (dstOff + c) * dstShape[i+1]
			srcOff = (srcOff + c) * srcShape[i+1]
		}
		dstOff *= elemSize
		srcOff *= elemSize
		copy(dst[dstOff:dstOff+rowLen], src[srcOff:srcOff+rowLen])
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < outer[i] {
				break
			}
			idx[i] = 0
		}
	}
}

func numElems(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func equalInts(a, b []int) bool {
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

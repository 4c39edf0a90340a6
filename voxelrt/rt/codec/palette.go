// Package codec implements the palette/bit-pack compression scheme used
// to represent a resident chunk (voxelrt/rt/worldgen.VoxelsPerChunk voxels)
// compactly in memory and on disk.
//
// The scheme finds the distinct set of voxels and, if there is only
// one, skips packing entirely; otherwise indices into the palette are
// bit-packed at the narrowest width that can address every entry, so
// chunks with an arbitrary number of distinct materials (up to the
// format's limit) compress too.
package codec

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/worldgen"
)

// ErrPaletteOverflow is returned by Compress when a voxel array contains
// more than MaxPaletteEntries distinct voxels.
var ErrPaletteOverflow = errors.New("codec: palette overflow")

// ErrIndexOutOfRange is returned by Decompress when a packed index
// references a palette slot that does not exist.
var ErrIndexOutOfRange = errors.New("codec: packed index out of range")

// MaxPaletteEntries is the hard ceiling on distinct voxels per chunk. The
// wire format's palette_len field is a u16, so 65535 is the true ceiling;
// a tighter <=256 single-byte-index limit is enforced by recompression
// callers that want it, not by Compress itself.
const MaxPaletteEntries = 65535

// CompressedChunk is the persistent, compressed representation of one
// chunk's worth of voxels.
type CompressedChunk struct {
	Palette      []worldgen.Voxel
	BitsPerIndex uint8
	PackedBytes  []byte
	VoxelCount   uint32
	Dimensions   [3]uint32
}

// Compress builds a CompressedChunk from a dense voxel array in
// first-occurrence palette order.
//
// Special case: if the chunk reduces to a single distinct voxel,
// BitsPerIndex is 0 and PackedBytes is empty: the distinguished "entire
// chunk equals palette[0]" encoding.
func Compress(voxels []worldgen.Voxel, dims [3]uint32) (CompressedChunk, error) {
	palette := make([]worldgen.Voxel, 0, 16)
	index := make(map[worldgen.Voxel]int, 16)
	indices := make([]int, len(voxels))

	for i, v := range voxels {
		idx, ok := index[v]
		if !ok {
			if len(palette) >= MaxPaletteEntries {
				return CompressedChunk{}, fmt.Errorf("%w: more than %d distinct voxels", ErrPaletteOverflow, MaxPaletteEntries)
			}
			idx = len(palette)
			index[v] = idx
			palette = append(palette, v)
		}
		indices[i] = idx
	}

	bitsPerIndex := uint8(0)
	if len(palette) > 1 {
		bitsPerIndex = uint8(bits.Len(uint(len(palette) - 1)))
	}

	var packed []byte
	if bitsPerIndex > 0 {
		packed = packIndices(indices, bitsPerIndex)
	}

	return CompressedChunk{
		Palette:      palette,
		BitsPerIndex: bitsPerIndex,
		PackedBytes:  packed,
		VoxelCount:   uint32(len(voxels)),
		Dimensions:   dims,
	}, nil
}

// Decompress expands a CompressedChunk back into a dense voxel array.
// decompress(compress(v)) == v for all valid v.
func Decompress(c CompressedChunk) ([]worldgen.Voxel, error) {
	out := make([]worldgen.Voxel, c.VoxelCount)

	if c.BitsPerIndex == 0 {
		if len(c.Palette) == 0 {
			return out, nil
		}
		fill := c.Palette[0]
		for i := range out {
			out[i] = fill
		}
		return out, nil
	}

	for i := uint32(0); i < c.VoxelCount; i++ {
		idx, err := unpackIndex(c.PackedBytes, i, c.BitsPerIndex)
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(c.Palette) {
			return nil, fmt.Errorf("%w: index %d, palette size %d", ErrIndexOutOfRange, idx, len(c.Palette))
		}
		out[i] = c.Palette[idx]
	}
	return out, nil
}

// packIndices bit-packs little-endian, bitsPerIndex LSBs per index,
// starting at bit offset i*bitsPerIndex.
func packIndices(indices []int, bitsPerIndex uint8) []byte {
	totalBits := uint64(len(indices)) * uint64(bitsPerIndex)
	packed := make([]byte, (totalBits+7)/8)

	for i, idx := range indices {
		bitOffset := uint64(i) * uint64(bitsPerIndex)
		writeBits(packed, bitOffset, uint32(idx), bitsPerIndex)
	}
	return packed
}

func writeBits(dst []byte, bitOffset uint64, value uint32, width uint8) {
	for b := uint8(0); b < width; b++ {
		if value&(1<<b) == 0 {
			continue
		}
		bit := bitOffset + uint64(b)
		dst[bit/8] |= 1 << (bit % 8)
	}
}

func unpackIndex(src []byte, i uint32, bitsPerIndex uint8) (uint32, error) {
	bitOffset := uint64(i) * uint64(bitsPerIndex)
	lastBit := bitOffset + uint64(bitsPerIndex) - 1
	if lastBit/8 >= uint64(len(src)) {
		return 0, fmt.Errorf("%w: packed_bytes too short for index %d", ErrIndexOutOfRange, i)
	}

	var value uint32
	for b := uint8(0); b < bitsPerIndex; b++ {
		bit := bitOffset + uint64(b)
		if src[bit/8]&(1<<(bit%8)) != 0 {
			value |= 1 << b
		}
	}
	return value, nil
}

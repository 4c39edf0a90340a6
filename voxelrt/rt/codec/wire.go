package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/worldgen"
)

// wireMagic is the 4-byte format tag ("VXC1").
var wireMagic = [4]byte{'V', 'X', 'C', '1'}

// ErrBadMagic is returned by Parse when the leading 4 bytes do not match
// the expected format tag.
var ErrBadMagic = fmt.Errorf("codec: bad magic, expected %q", string(wireMagic[:]))

// ErrTruncated is returned by Parse when the buffer ends before a field
// it declared the length of.
var ErrTruncated = fmt.Errorf("codec: truncated chunk buffer")

// Serialize encodes a chunk id and its compressed form into the on-disk
// wire layout. All integers are little-endian.
func Serialize(id worldgen.ChunkId, c CompressedChunk) []byte {
	paletteBytes := len(c.Palette) * 4
	size := 4 + 12 + 4 + 2 + paletteBytes + 1 + 3 + 4 + len(c.PackedBytes)
	buf := make([]byte, size)

	off := 0
	copy(buf[off:], wireMagic[:])
	off += 4

	binary.LittleEndian.PutUint32(buf[off:], uint32(id.X))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(id.Y))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(id.Z))
	off += 4

	binary.LittleEndian.PutUint32(buf[off:], c.VoxelCount)
	off += 4

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(c.Palette)))
	off += 2

	for _, v := range c.Palette {
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
		off += 4
	}

	buf[off] = c.BitsPerIndex
	off += 1 + 3 // skip _pad

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(c.PackedBytes)))
	off += 4

	copy(buf[off:], c.PackedBytes)
	return buf
}

// Parse decodes the on-disk layout back into a ChunkId and CompressedChunk.
// parse(serialize(c)) == c for every c produced by Serialize.
func Parse(data []byte) (worldgen.ChunkId, CompressedChunk, error) {
	var id worldgen.ChunkId
	var c CompressedChunk

	if len(data) < 4 {
		return id, c, ErrTruncated
	}
	if [4]byte(data[0:4]) != wireMagic {
		return id, c, ErrBadMagic
	}
	off := 4

	if len(data) < off+12+4+2 {
		return id, c, ErrTruncated
	}
	id.X = int32(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	id.Y = int32(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	id.Z = int32(binary.LittleEndian.Uint32(data[off:]))
	off += 4

	c.VoxelCount = binary.LittleEndian.Uint32(data[off:])
	off += 4

	paletteLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	if len(data) < off+paletteLen*4+1+3+4 {
		return id, c, ErrTruncated
	}
	c.Palette = make([]worldgen.Voxel, paletteLen)
	for i := 0; i < paletteLen; i++ {
		c.Palette[i] = worldgen.Voxel(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}

	c.BitsPerIndex = data[off]
	off += 1 + 3 // skip _pad

	packedLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4

	if len(data) < off+packedLen {
		return id, c, ErrTruncated
	}
	c.PackedBytes = append([]byte(nil), data[off:off+packedLen]...)
	c.Dimensions = [3]uint32{worldgen.ChunkSize, worldgen.ChunkSize, worldgen.ChunkSize}

	return id, c, nil
}

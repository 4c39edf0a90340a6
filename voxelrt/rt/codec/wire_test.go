package codec

import (
	"testing"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/worldgen"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	id := worldgen.ChunkId{X: -3, Y: 7, Z: 100}
	voxels := make([]worldgen.Voxel, worldgen.VoxelsPerChunk)
	for i := range voxels {
		voxels[i] = worldgen.Voxel(i % 9)
	}
	c, err := Compress(voxels, [3]uint32{64, 64, 64})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	data := Serialize(id, c)
	gotID, gotC, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if gotID != id {
		t.Errorf("id mismatch: got %+v want %+v", gotID, id)
	}
	if gotC.BitsPerIndex != c.BitsPerIndex {
		t.Errorf("bits_per_index mismatch: got %d want %d", gotC.BitsPerIndex, c.BitsPerIndex)
	}
	if len(gotC.Palette) != len(c.Palette) {
		t.Fatalf("palette length mismatch: got %d want %d", len(gotC.Palette), len(c.Palette))
	}
	for i := range c.Palette {
		if gotC.Palette[i] != c.Palette[i] {
			t.Errorf("palette[%d] mismatch: got %d want %d", i, gotC.Palette[i], c.Palette[i])
		}
	}
	if string(gotC.PackedBytes) != string(c.PackedBytes) {
		t.Errorf("packed_bytes mismatch")
	}
}

func TestParseBadMagic(t *testing.T) {
	_, _, err := Parse([]byte("XXXXrest"))
	if err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestParseTruncated(t *testing.T) {
	_, _, err := Parse([]byte("VXC1"))
	if err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

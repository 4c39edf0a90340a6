package codec

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/sdf"
	"github.com/AngeliteAI/voxelgen/voxelrt/rt/worldgen"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	voxels := make([]worldgen.Voxel, worldgen.VoxelsPerChunk)
	for i := range voxels {
		voxels[i] = worldgen.Voxel(i % 5)
	}

	c, err := Compress(voxels, [3]uint32{64, 64, 64})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	out, err := Decompress(c)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}

	if len(out) != len(voxels) {
		t.Fatalf("length mismatch: got %d want %d", len(out), len(voxels))
	}
	for i := range voxels {
		if out[i] != voxels[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], voxels[i])
		}
	}
}

func TestCompressSinglePaletteCase(t *testing.T) {
	voxels := make([]worldgen.Voxel, worldgen.VoxelsPerChunk)
	for i := range voxels {
		voxels[i] = worldgen.Voxel(7)
	}

	c, err := Compress(voxels, [3]uint32{64, 64, 64})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	if c.BitsPerIndex != 0 {
		t.Errorf("expected bits_per_index == 0, got %d", c.BitsPerIndex)
	}
	if len(c.PackedBytes) != 0 {
		t.Errorf("expected empty packed_bytes, got %d bytes", len(c.PackedBytes))
	}
	if len(c.Palette) != 1 || c.Palette[0] != 7 {
		t.Errorf("expected palette [7], got %v", c.Palette)
	}

	out, err := Decompress(c)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	for i, v := range out {
		if v != 7 {
			t.Fatalf("voxel %d not 7: %d", i, v)
		}
	}
}

func TestCompressPaletteOverflow(t *testing.T) {
	voxels := make([]worldgen.Voxel, MaxPaletteEntries+1)
	for i := range voxels {
		voxels[i] = worldgen.Voxel(i)
	}

	_, err := Compress(voxels, [3]uint32{1, 1, 1})
	if err == nil {
		t.Fatal("expected ErrPaletteOverflow, got nil")
	}
}

func TestDecompressIndexOutOfRange(t *testing.T) {
	c := CompressedChunk{
		Palette:      []worldgen.Voxel{1, 2},
		BitsPerIndex: 1,
		PackedBytes:  []byte{0xFF}, // all bits set -> index 1 everywhere, fine; force bad case below
		VoxelCount:   8,
	}
	// Corrupt: claim 2 bits per index against a 2-entry palette so unpacked
	// index 2 or 3 is out of range.
	c.BitsPerIndex = 2
	c.PackedBytes = []byte{0xFF}

	_, err := Decompress(c)
	if err == nil {
		t.Fatal("expected ErrIndexOutOfRange, got nil")
	}
}

func TestBitPackingExactWidths(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 200, 256, 257} {
		voxels := make([]worldgen.Voxel, worldgen.VoxelsPerChunk)
		for i := range voxels {
			voxels[i] = worldgen.Voxel(i % n)
		}
		c, err := Compress(voxels, [3]uint32{64, 64, 64})
		if err != nil {
			t.Fatalf("n=%d: Compress failed: %v", n, err)
		}
		out, err := Decompress(c)
		if err != nil {
			t.Fatalf("n=%d: Decompress failed: %v", n, err)
		}
		for i := range voxels {
			if out[i] != voxels[i] {
				t.Fatalf("n=%d: mismatch at %d: got %d want %d", n, i, out[i], voxels[i])
			}
		}
	}
}

// Generating a chunk far below a flat ground plane through the CPU
// evaluators must reduce to the single-palette encoding, and a chunk far
// above it to an all-air single-palette encoding.
func TestCPUEvaluatedUniformChunksCompressDegenerate(t *testing.T) {
	plane := sdf.Plane(mgl32.Vec3{0, 0, 1}, 0)
	stack := sdf.Stack{Layers: []sdf.Layer{
		{Condition: sdf.Condition{Type: sdf.ConditionDepth, Min: 10, Max: 1e30}, Voxel: 1, Priority: 0},
		{Condition: sdf.Condition{Type: sdf.ConditionDepth, Min: 2, Max: 10}, Voxel: 2, Priority: 1},
		{Condition: sdf.Condition{Type: sdf.ConditionDepth, Min: 0, Max: 2}, Voxel: 3, Priority: 2},
	}}

	evalChunk := func(baseZ float32) []worldgen.Voxel {
		voxels := make([]worldgen.Voxel, worldgen.VoxelsPerChunk)
		i := 0
		for z := 0; z < worldgen.ChunkSize; z++ {
			for y := 0; y < worldgen.ChunkSize; y++ {
				for x := 0; x < worldgen.ChunkSize; x++ {
					p := mgl32.Vec3{float32(x) + 0.5, float32(y) + 0.5, baseZ + float32(z) + 0.5}
					d := plane.Distance(p)
					g := sdf.Gradient(plane, p, 0.5)
					voxels[i] = stack.Evaluate(p, d, g, nil)
					i++
				}
			}
		}
		return voxels
	}

	// Chunk (0,0,-10): everything deeper than 10 voxels -> all stone.
	deep, err := Compress(evalChunk(-10*worldgen.ChunkSize), [3]uint32{64, 64, 64})
	if err != nil {
		t.Fatalf("Compress(deep) failed: %v", err)
	}
	if deep.BitsPerIndex != 0 || len(deep.PackedBytes) != 0 {
		t.Fatalf("expected degenerate encoding for uniform stone chunk, got bits=%d packed=%d", deep.BitsPerIndex, len(deep.PackedBytes))
	}
	if len(deep.Palette) != 1 || deep.Palette[0] != 1 {
		t.Fatalf("expected palette [Stone], got %v", deep.Palette)
	}

	// Chunk (0,0,2): entirely above ground -> all air.
	sky, err := Compress(evalChunk(2*worldgen.ChunkSize), [3]uint32{64, 64, 64})
	if err != nil {
		t.Fatalf("Compress(sky) failed: %v", err)
	}
	if sky.BitsPerIndex != 0 || len(sky.Palette) != 1 || sky.Palette[0] != worldgen.VoxelAir {
		t.Fatalf("expected degenerate all-air encoding, got palette %v bits %d", sky.Palette, sky.BitsPerIndex)
	}
}

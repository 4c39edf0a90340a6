package accumulate

import (
	"testing"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/worldgen"
)

func minichunkOf(v worldgen.Voxel) []worldgen.Voxel {
	data := make([]worldgen.Voxel, worldgen.VoxelsPerMinichunk)
	for i := range data {
		data[i] = v
	}
	return data
}

func TestAccumulatorDisjointness(t *testing.T) {
	acc := New()
	seen := make(map[int]bool)
	for slot := 0; slot < worldgen.MinichunksPerChunk; slot++ {
		if err := acc.AddMinichunk(slot, minichunkOf(worldgen.Voxel(slot+1))); err != nil {
			t.Fatalf("AddMinichunk(%d) failed: %v", slot, err)
		}
		seen[slot] = true
	}
	if !acc.IsComplete() {
		t.Fatalf("expected accumulator complete after all 512 slots filled")
	}

	// Every destination index must have been written exactly once, and
	// the union of all writes must equal [0, VoxelsPerChunk).
	written := make([]bool, worldgen.VoxelsPerChunk)
	voxels := acc.Voxels()
	for i, v := range voxels {
		if v == worldgen.VoxelAir {
			t.Fatalf("index %d never written (still air)", i)
		}
		written[i] = true
	}
	for i, ok := range written {
		if !ok {
			t.Fatalf("index %d missing from the written set", i)
		}
	}
}

func TestAddMinichunkRejectsDuplicateSlot(t *testing.T) {
	acc := New()
	if err := acc.AddMinichunk(0, minichunkOf(1)); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := acc.AddMinichunk(0, minichunkOf(2)); err != ErrDuplicateMinichunk {
		t.Fatalf("expected ErrDuplicateMinichunk, got %v", err)
	}
}

func TestAddMinichunkWritesCorrectSubCube(t *testing.T) {
	acc := New()
	// Slot 1 is the minichunk adjacent in +X (MinichunkOffset(1) = (8,0,0)).
	if err := acc.AddMinichunk(1, minichunkOf(42)); err != nil {
		t.Fatalf("AddMinichunk failed: %v", err)
	}
	voxels := acc.Voxels()
	const cs = worldgen.ChunkSize
	base := 8 // offset.x
	if voxels[base] != 42 {
		t.Errorf("expected voxel at local sub-cube origin to be 42, got %v", voxels[base])
	}
	if voxels[0] != worldgen.VoxelAir {
		t.Errorf("expected voxel at chunk origin (different sub-cube) to remain air, got %v", voxels[0])
	}
	_ = cs
}

func TestProgressReflectsFilledFraction(t *testing.T) {
	acc := New()
	if acc.Progress() != 0 {
		t.Fatalf("expected 0 progress initially, got %v", acc.Progress())
	}
	acc.AddMinichunk(0, minichunkOf(1))
	want := 1.0 / float64(worldgen.MinichunksPerChunk)
	if got := acc.Progress(); got != want {
		t.Errorf("expected progress %v, got %v", want, got)
	}
}

func TestAddMinichunkRejectsWrongSizedData(t *testing.T) {
	acc := New()
	if err := acc.AddMinichunk(0, []worldgen.Voxel{1, 2, 3}); err == nil {
		t.Fatalf("expected error for undersized minichunk data")
	}
}

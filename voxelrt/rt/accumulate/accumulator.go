// Package accumulate implements the chunk accumulator: the dense 64³
// voxel buffer a chunk's 512 minichunk readbacks are scattered into as
// they land, compressed via codec once full.
package accumulate

import (
	"fmt"
	"sync/atomic"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/worldgen"
)

// ErrDuplicateMinichunk reports a programmer error: a slot offset was
// delivered twice.
var ErrDuplicateMinichunk = fmt.Errorf("accumulate: minichunk slot already filled")

// Accumulator gathers minichunk-sized voxel writes into one dense
// 64³ chunk. filled tracks the count with release/acquire semantics: a
// writer increments after its copy completes (release), and IsComplete
// reads with acquire so a caller observing filled==total also observes
// every prior write.
type Accumulator struct {
	voxels []worldgen.Voxel
	filled int32
	total  int32
	seen   []bool // one entry per minichunk slot, guards the disjointness invariant
}

// New constructs an Accumulator for a full 64³ chunk (512 minichunk slots).
func New() *Accumulator {
	return &Accumulator{
		voxels: make([]worldgen.Voxel, worldgen.VoxelsPerChunk),
		total:  int32(worldgen.MinichunksPerChunk),
		seen:   make([]bool, worldgen.MinichunksPerChunk),
	}
}

// AddMinichunk copies one 8³ block (512 voxels, row-major x-fastest) into
// the chunk's dense array at the position identified by slot, using
// base = offset.x + 64*offset.y + 64*64*offset.z.
func (a *Accumulator) AddMinichunk(slot int, data []worldgen.Voxel) error {
	if slot < 0 || slot >= len(a.seen) {
		return fmt.Errorf("accumulate: slot %d out of range [0,%d)", slot, len(a.seen))
	}
	if len(data) != worldgen.VoxelsPerMinichunk {
		return fmt.Errorf("accumulate: expected %d voxels, got %d", worldgen.VoxelsPerMinichunk, len(data))
	}
	if a.seen[slot] {
		return ErrDuplicateMinichunk
	}
	a.seen[slot] = true

	ox, oy, oz := worldgen.MinichunkOffset(slot)
	const cs = worldgen.ChunkSize
	const ms = worldgen.MinichunkSize
	base := int(ox) + cs*int(oy) + cs*cs*int(oz)

	i := 0
	for lz := 0; lz < ms; lz++ {
		for ly := 0; ly < ms; ly++ {
			for lx := 0; lx < ms; lx++ {
				dst := base + lx + cs*ly + cs*cs*lz
				a.voxels[dst] = data[i]
				i++
			}
		}
	}

	atomic.AddInt32(&a.filled, 1) // release: publishes the writes above
	return nil
}

// IsComplete reports whether all 512 minichunk slots have landed.
func (a *Accumulator) IsComplete() bool {
	return atomic.LoadInt32(&a.filled) == a.total // acquire: pairs with AddMinichunk's release
}

// Progress returns the fraction of minichunks filled, in [0,1], for
// progress reporting in loading UIs downstream.
func (a *Accumulator) Progress() float64 {
	return float64(atomic.LoadInt32(&a.filled)) / float64(a.total)
}

// Voxels returns the dense 64³ voxel array. Only safe to read once
// IsComplete() is true; callers hold this invariant by construction
// since only the coordinator reads it and does so after observing
// completion.
func (a *Accumulator) Voxels() []worldgen.Voxel {
	return a.voxels
}

// FilledCount reports how many of the 512 minichunk slots have landed.
func (a *Accumulator) FilledCount() int {
	return int(atomic.LoadInt32(&a.filled))
}

// Package worldgen holds the shared data model for the voxel generation
// core: voxel/chunk/region identifiers, world bounds, and chunk lifecycle
// state. It has no dependency on the GPU backend so that codec, sdf and
// region packages can share it without pulling in wgpu.
package worldgen

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Voxel is an opaque material identifier. On the wire and across the GPU
// boundary it is always 32 bits (see codec.CompressedChunk and the
// worldgen_brush compute shader); on the CPU it widens to a machine word
// so host-side code never has to think about overflow when accumulating
// indices into a palette. Voxel(0) is reserved for air/empty.
type Voxel uint64

const (
	VoxelAir Voxel = 0
)

const (
	// ChunkSize is the edge length of a resident chunk, in voxels.
	ChunkSize = 64
	// MinichunkSize is the edge length of a single GPU dispatch unit.
	MinichunkSize = 8
	// MinichunksPerAxis is ChunkSize/MinichunkSize.
	MinichunksPerAxis = ChunkSize / MinichunkSize
	// MinichunksPerChunk is the total minichunk fan-out per chunk (8^3).
	MinichunksPerChunk = MinichunksPerAxis * MinichunksPerAxis * MinichunksPerAxis
	// VoxelsPerChunk is CHUNK_SIZE^3.
	VoxelsPerChunk = ChunkSize * ChunkSize * ChunkSize
	// VoxelsPerMinichunk is MINICHUNK_SIZE^3.
	VoxelsPerMinichunk = MinichunkSize * MinichunkSize * MinichunkSize
)

// ChunkId identifies a 64^3 chunk in chunk-space (not world units).
type ChunkId struct {
	X, Y, Z int32
}

// RegionId identifies a region of regionSize^3 chunks.
type RegionId struct {
	X, Y, Z int32
}

// ChunkIdToRegion maps a chunk id to the region that owns it for a given
// region edge length (in chunks).
func ChunkIdToRegion(id ChunkId, regionSize int32) RegionId {
	return RegionId{
		X: floorDiv(id.X, regionSize),
		Y: floorDiv(id.Y, regionSize),
		Z: floorDiv(id.Z, regionSize),
	}
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// WorldBounds describes an axis-aligned region of world space at a given
// voxel resolution.
type WorldBounds struct {
	Min, Max  mgl32.Vec3
	VoxelSize float32
}

// Dimensions returns ceil((max-min)/voxel_size) per axis.
func (b WorldBounds) Dimensions() (x, y, z uint32) {
	size := b.Max.Sub(b.Min)
	x = uint32(math.Ceil(float64(size.X() / b.VoxelSize)))
	y = uint32(math.Ceil(float64(size.Y() / b.VoxelSize)))
	z = uint32(math.Ceil(float64(size.Z() / b.VoxelSize)))
	return
}

// VoxelCount returns the total voxel count described by the bounds.
func (b WorldBounds) VoxelCount() int {
	x, y, z := b.Dimensions()
	return int(x) * int(y) * int(z)
}

// MinichunkDescriptor is one (slot_index, bounds) pair produced by
// SplitIntoMinichunks. SlotIndex is the row-major index over the 8x8x8
// minichunk grid and is what accumulate.Accumulator uses to compute the
// destination sub-cube offset.
type MinichunkDescriptor struct {
	SlotIndex int
	Bounds    WorldBounds
}

// SplitIntoMinichunks splits a chunk-aligned WorldBounds into the 512
// minichunk descriptors that cover it, row-major over (x,y,z).
func (b WorldBounds) SplitIntoMinichunks() []MinichunkDescriptor {
	dims := [3]uint32{}
	dims[0], dims[1], dims[2] = b.Dimensions()

	out := make([]MinichunkDescriptor, 0, MinichunksPerChunk)
	slot := 0
	for z := uint32(0); z < dims[2]; z += MinichunkSize {
		for y := uint32(0); y < dims[1]; y += MinichunkSize {
			for x := uint32(0); x < dims[0]; x += MinichunkSize {
				minX := b.Min.X() + float32(x)*b.VoxelSize
				minY := b.Min.Y() + float32(y)*b.VoxelSize
				minZ := b.Min.Z() + float32(z)*b.VoxelSize

				extentX := min32u(MinichunkSize, dims[0]-x)
				extentY := min32u(MinichunkSize, dims[1]-y)
				extentZ := min32u(MinichunkSize, dims[2]-z)

				maxX := minf(b.Min.X()+float32(x+extentX)*b.VoxelSize, b.Max.X())
				maxY := minf(b.Min.Y()+float32(y+extentY)*b.VoxelSize, b.Max.Y())
				maxZ := minf(b.Min.Z()+float32(z+extentZ)*b.VoxelSize, b.Max.Z())

				out = append(out, MinichunkDescriptor{
					SlotIndex: slot,
					Bounds: WorldBounds{
						Min:       mgl32.Vec3{minX, minY, minZ},
						Max:       mgl32.Vec3{maxX, maxY, maxZ},
						VoxelSize: b.VoxelSize,
					},
				})
				slot++
			}
		}
	}
	return out
}

// MinichunkOffset recovers the voxel-space (x,y,z) offset of a minichunk
// from its row-major slot index, for use by accumulate.Accumulator.
func MinichunkOffset(slot int) (x, y, z uint32) {
	x = uint32(slot%MinichunksPerAxis) * MinichunkSize
	y = uint32((slot/MinichunksPerAxis)%MinichunksPerAxis) * MinichunkSize
	z = uint32(slot/(MinichunksPerAxis*MinichunksPerAxis)) * MinichunkSize
	return
}

func min32u(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// State is a chunk's position in the lifecycle state machine.
type State int

const (
	StateRequested State = iota
	StateMinichunksPending
	StateMinichunksInFlight
	StateReadbackPending
	StateComplete
	StateResident
	StateFailed
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "Requested"
	case StateMinichunksPending:
		return "MinichunksPending"
	case StateMinichunksInFlight:
		return "MinichunksInFlight"
	case StateReadbackPending:
		return "ReadbackPending"
	case StateComplete:
		return "Complete"
	case StateResident:
		return "Resident"
	case StateFailed:
		return "Failed"
	case StateAbandoned:
		return "Abandoned"
	default:
		return "Unknown"
	}
}

// GenParams carries the per-request parameters threaded through to the
// worldgen_sdf / worldgen_brush shaders; currently only the seed.
type GenParams struct {
	Seed uint64
}

// CompletedChunk is delivered through a request's reply callback once a
// chunk resolves, successfully or not.
type CompletedChunk struct {
	ID     ChunkId
	Voxels []Voxel // nil on failure
	Err    error
}

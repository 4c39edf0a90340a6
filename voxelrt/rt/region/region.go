// Package region implements the region/chunk manager: it owns the set
// of loaded regions and active chunks, drives the coordinator's
// request_chunk per newly-visible region, and evicts chunks that fall
// outside the view distance plus hysteresis band. Resolved chunks are
// palette-compressed on arrival (the reply runs on the coordinator's
// worker pool, off the rendering thread) and decompressed on demand for
// mesh/physics consumers.
package region

import (
	"math"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/codec"
	"github.com/AngeliteAI/voxelgen/voxelrt/rt/config"
	"github.com/AngeliteAI/voxelgen/voxelrt/rt/vglog"
	"github.com/AngeliteAI/voxelgen/voxelrt/rt/worldgen"
)

// ChunkRequester is the subset of the coordinator's public API the
// region manager depends on, kept as an interface so region can be
// tested without a real coordinator/GPU stack.
type ChunkRequester interface {
	RequestChunk(id worldgen.ChunkId, bounds worldgen.WorldBounds, params worldgen.GenParams, priority int32, reply func(worldgen.CompletedChunk))
	EvictChunk(id worldgen.ChunkId)
}

// ActiveChunk tracks one chunk's residency state from the region
// manager's point of view. Resident chunks hold their voxels in
// compressed form only.
type ActiveChunk struct {
	ID         worldgen.ChunkId
	State      worldgen.State
	Compressed codec.CompressedChunk
	Abandoned  bool
}

// LoadedRegion tracks one region's pending/loaded chunk set. unresolved
// counts chunks that have neither resolved nor failed yet; the region
// stays in the manager's pending set until it reaches zero.
type LoadedRegion struct {
	ID         worldgen.RegionId
	Chunks     map[worldgen.ChunkId]*ActiveChunk
	unresolved int
}

// Manager owns regions and chunks and drives their lifecycle from a
// viewer position.
type Manager struct {
	cfg       config.Config
	requester ChunkRequester
	log       *vglog.Logger

	mu             sync.Mutex
	regions        map[worldgen.RegionId]*LoadedRegion
	pendingRegions map[worldgen.RegionId]bool
	epoch          uint64
	modifiedEpoch  map[worldgen.ChunkId]uint64 // epoch at which each chunk's content last changed
}

// New constructs a Manager. requester is typically a *coordinator.Coordinator.
func New(cfg config.Config, requester ChunkRequester) *Manager {
	return &Manager{
		cfg:            cfg,
		requester:      requester,
		log:            vglog.New("region"),
		regions:        make(map[worldgen.RegionId]*LoadedRegion),
		pendingRegions: make(map[worldgen.RegionId]bool),
		modifiedEpoch:  make(map[worldgen.ChunkId]uint64),
	}
}

// Update computes the visible region set, requests newly-visible
// regions' chunks (bounded by ConcurrentRegionCeiling), and evicts
// regions that fall outside view distance plus hysteresis.
func (m *Manager) Update(viewerPos mgl32.Vec3) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++

	visible := m.visibleRegionSet(viewerPos)

	var toRequest []worldgen.RegionId
	for id := range visible {
		if _, loaded := m.regions[id]; loaded {
			continue
		}
		toRequest = append(toRequest, id)
	}

	sort.Slice(toRequest, func(i, j int) bool {
		return m.regionDistance(toRequest[i], viewerPos) < m.regionDistance(toRequest[j], viewerPos)
	})

	ceiling := m.cfg.ConcurrentRegionCeiling
	if ceiling <= 0 {
		ceiling = 1
	}
	budget := ceiling - len(m.pendingRegions)
	if budget < 0 {
		budget = 0
	}
	if len(toRequest) > budget {
		m.log.Debug("deferring %d regions past concurrency ceiling %d", len(toRequest)-budget, ceiling)
		toRequest = toRequest[:budget]
	}
	for _, id := range toRequest {
		m.requestRegion(id, viewerPos)
	}

	for id, loaded := range m.regions {
		if _, ok := visible[id]; !ok && m.regionOutsideHysteresis(id, viewerPos) {
			m.evictRegion(loaded)
			delete(m.regions, id)
			delete(m.pendingRegions, id)
		}
	}
}

func (m *Manager) visibleRegionSet(viewerPos mgl32.Vec3) map[worldgen.RegionId]bool {
	regionWorldSize := float32(m.cfg.RegionSize) * worldgen.ChunkSize
	radius := int32(m.cfg.ViewDistance/regionWorldSize) + 1
	center := worldRegionOf(viewerPos, m.cfg.RegionSize)

	visible := make(map[worldgen.RegionId]bool)
	for dz := -radius; dz <= radius; dz++ {
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				id := worldgen.RegionId{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				if m.regionDistance(id, viewerPos) <= m.cfg.ViewDistance {
					visible[id] = true
				}
			}
		}
	}
	return visible
}

func worldRegionOf(pos mgl32.Vec3, regionSize int32) worldgen.RegionId {
	regionWorld := float64(regionSize) * worldgen.ChunkSize
	return worldgen.RegionId{
		X: int32(math.Floor(float64(pos.X()) / regionWorld)),
		Y: int32(math.Floor(float64(pos.Y()) / regionWorld)),
		Z: int32(math.Floor(float64(pos.Z()) / regionWorld)),
	}
}

// regionDistance measures from the viewer to the region's AABB, not its
// center, so the region containing the viewer is always at distance 0.
func (m *Manager) regionDistance(id worldgen.RegionId, viewerPos mgl32.Vec3) float32 {
	regionWorld := float32(m.cfg.RegionSize) * worldgen.ChunkSize
	var d mgl32.Vec3
	for axis := 0; axis < 3; axis++ {
		lo := float32([3]int32{id.X, id.Y, id.Z}[axis]) * regionWorld
		hi := lo + regionWorld
		v := viewerPos[axis]
		switch {
		case v < lo:
			d[axis] = lo - v
		case v > hi:
			d[axis] = v - hi
		}
	}
	return d.Len()
}

func (m *Manager) regionOutsideHysteresis(id worldgen.RegionId, viewerPos mgl32.Vec3) bool {
	return m.regionDistance(id, viewerPos) > m.cfg.ViewDistance+m.cfg.Hysteresis
}

func (m *Manager) requestRegion(id worldgen.RegionId, viewerPos mgl32.Vec3) {
	m.pendingRegions[id] = true
	loaded := &LoadedRegion{ID: id, Chunks: make(map[worldgen.ChunkId]*ActiveChunk)}
	m.regions[id] = loaded

	chunkIDs := chunksInRegion(id, m.cfg.RegionSize)
	loaded.unresolved = len(chunkIDs)

	type prioritized struct {
		id   worldgen.ChunkId
		dist float32
	}
	ps := make([]prioritized, len(chunkIDs))
	for i, cid := range chunkIDs {
		ps[i] = prioritized{cid, m.chunkDistance(cid, viewerPos)}
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].dist < ps[j].dist })

	for i, p := range ps {
		ac := &ActiveChunk{ID: p.id, State: worldgen.StateRequested}
		loaded.Chunks[p.id] = ac
		priority := -int32(i) // ascending distance -> descending priority
		bounds := boundsForChunk(p.id)
		params := worldgen.GenParams{}
		m.requester.RequestChunk(p.id, bounds, params, priority, m.onChunkResolved(id, p.id))
	}
}

func (m *Manager) onChunkResolved(regionID worldgen.RegionId, chunkID worldgen.ChunkId) func(worldgen.CompletedChunk) {
	return func(res worldgen.CompletedChunk) {
		// Compress outside the lock: this runs on the coordinator's
		// worker pool and is the pipeline's palette-compression stage.
		var compressed codec.CompressedChunk
		var compressErr error
		if res.Err == nil {
			compressed, compressErr = codec.Compress(res.Voxels, [3]uint32{worldgen.ChunkSize, worldgen.ChunkSize, worldgen.ChunkSize})
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		loaded, ok := m.regions[regionID]
		if !ok {
			return // region was evicted before this chunk resolved
		}
		if loaded.unresolved > 0 {
			loaded.unresolved--
			if loaded.unresolved == 0 {
				delete(m.pendingRegions, regionID)
			}
		}
		ac, ok := loaded.Chunks[chunkID]
		if !ok || ac.Abandoned {
			return
		}
		if res.Err != nil {
			ac.State = worldgen.StateFailed
			m.log.Info("chunk %+v failed: %v", chunkID, res.Err)
			return
		}
		if compressErr != nil {
			ac.State = worldgen.StateFailed
			m.log.Info("chunk %+v compression failed: %v", chunkID, compressErr)
			return
		}
		ac.State = worldgen.StateResident
		ac.Compressed = compressed
		m.modifiedEpoch[chunkID] = m.epoch
	}
}

// evictRegion drops chunk storage for a region no longer visible.
// In-flight chunks are marked Abandoned so the coordinator's completion
// callback skips delivering through a closed reply, never racing with
// generation.
func (m *Manager) evictRegion(loaded *LoadedRegion) {
	for id, ac := range loaded.Chunks {
		if ac.State != worldgen.StateResident && ac.State != worldgen.StateFailed {
			ac.Abandoned = true
			m.requester.EvictChunk(id)
			continue
		}
		ac.Compressed = codec.CompressedChunk{}
		delete(m.modifiedEpoch, id)
	}
}

// ChunkData is one resident chunk's decompressed voxels, handed to mesh
// and physics consumers.
type ChunkData struct {
	ID     worldgen.ChunkId
	Voxels []worldgen.Voxel
}

// GetChunksForRendering returns the decompressed voxel arrays of
// Resident chunks whose content has changed since lastEpoch (the value
// this method previously returned to its caller), plus the epoch to pass
// on the next call. The epoch advances on every call, so chunks that
// change after this call returns are picked up by the next one.
func (m *Manager) GetChunksForRendering(lastEpoch uint64) ([]ChunkData, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ChunkData
	for _, loaded := range m.regions {
		for _, ac := range loaded.Chunks {
			if ac.State != worldgen.StateResident || m.modifiedEpoch[ac.ID] <= lastEpoch {
				continue
			}
			voxels, err := codec.Decompress(ac.Compressed)
			if err != nil {
				m.log.Info("chunk %+v: resident data failed to decompress: %v", ac.ID, err)
				continue
			}
			out = append(out, ChunkData{ID: ac.ID, Voxels: voxels})
		}
	}
	cur := m.epoch
	m.epoch++
	return out, cur
}

func (m *Manager) chunkDistance(id worldgen.ChunkId, viewerPos mgl32.Vec3) float32 {
	const cs = worldgen.ChunkSize
	center := mgl32.Vec3{
		(float32(id.X) + 0.5) * cs,
		(float32(id.Y) + 0.5) * cs,
		(float32(id.Z) + 0.5) * cs,
	}
	return center.Sub(viewerPos).Len()
}

func chunksInRegion(id worldgen.RegionId, regionSize int32) []worldgen.ChunkId {
	out := make([]worldgen.ChunkId, 0, regionSize*regionSize*regionSize)
	base := worldgen.ChunkId{X: id.X * regionSize, Y: id.Y * regionSize, Z: id.Z * regionSize}
	for z := int32(0); z < regionSize; z++ {
		for y := int32(0); y < regionSize; y++ {
			for x := int32(0); x < regionSize; x++ {
				out = append(out, worldgen.ChunkId{X: base.X + x, Y: base.Y + y, Z: base.Z + z})
			}
		}
	}
	return out
}

func boundsForChunk(id worldgen.ChunkId) worldgen.WorldBounds {
	const cs = worldgen.ChunkSize
	min := mgl32.Vec3{float32(id.X) * cs, float32(id.Y) * cs, float32(id.Z) * cs}
	max := min.Add(mgl32.Vec3{cs, cs, cs})
	return worldgen.WorldBounds{Min: min, Max: max, VoxelSize: 1}
}

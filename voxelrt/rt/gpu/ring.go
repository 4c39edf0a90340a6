package gpu

import (
	"fmt"
	"sync"
)

// Workspace is one ring slot: the seven GPU buffers sized for up to
// MaxMinichunksPerWorkspace minichunks. NewWorkspaces allocates them at
// the sizes defined in this file; the ring itself only tracks handles
// and lease state.
type Workspace struct {
	ID int

	SDFNodes          BufferHandle
	BrushInstructions BufferHandle
	BrushLayers       BufferHandle
	SDFParams         BufferHandle
	WorldParams       BufferHandle
	SDFFieldScratch   BufferHandle
	VoxelOutput       BufferHandle
}

type workspaceState int

const (
	stateFree workspaceState = iota
	stateDispatched
	stateDrainPending
)

// slot tracks a Workspace's three-state ledger: Free | Dispatched{frame}
// | DrainPending{frame}. A plain boolean in_use would hide the interval
// during which a workspace is neither free nor freshly dispatchable
// because the callback still owes a release.
type slot struct {
	ws    *Workspace
	state workspaceState
	frame uint64
}

// Ring is the fixed-capacity GPU resource ring.
type Ring struct {
	mu      sync.Mutex
	slots   []slot
	waiters []func(*Workspace)
}

// NewRing constructs a ring over pre-built workspaces; capacity is
// len(workspaces) and is fixed for the ring's lifetime.
func NewRing(workspaces []*Workspace) *Ring {
	slots := make([]slot, len(workspaces))
	for i, ws := range workspaces {
		slots[i] = slot{ws: ws, state: stateFree}
	}
	return &Ring{slots: slots}
}

// Capacity returns R, the fixed slot count.
func (r *Ring) Capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Acquire returns a free workspace or nil if the ring is exhausted.
func (r *Ring) Acquire() *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquireLocked()
}

func (r *Ring) acquireLocked() *Workspace {
	for i := range r.slots {
		if r.slots[i].state == stateFree {
			r.slots[i].state = stateDispatched
			return r.slots[i].ws
		}
	}
	return nil
}

// Release returns a workspace to the ring. If a waiter is queued, the
// workspace is handed to it synchronously without ever becoming
// observably free in between. The caller is expected to invoke Release
// from inside its readback-drain callback, once the workspace's output
// has actually been consumed, not at dispatch time.
func (r *Ring) Release(id int) {
	r.mu.Lock()
	idx := -1
	for i := range r.slots {
		if r.slots[i].ws.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return
	}

	if len(r.waiters) > 0 {
		cb := r.waiters[0]
		r.waiters = r.waiters[1:]
		r.slots[idx].state = stateDispatched
		ws := r.slots[idx].ws
		r.mu.Unlock()
		cb(ws)
		return
	}

	r.slots[idx].state = stateFree
	r.mu.Unlock()
}

// MarkDrainPending transitions a workspace from Dispatched to
// DrainPending once its readback has been submitted: it is reserved but
// no longer actively being written by a compute dispatch. Frame is
// recorded for diagnostics only; the ring does not gate on it (the
// readback manager gates on frames-in-flight, per §4.D).
func (r *Ring) MarkDrainPending(id int, frame uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].ws.ID == id {
			r.slots[i].state = stateDrainPending
			r.slots[i].frame = frame
			return
		}
	}
}

// QueueWhenAvailable appends a FIFO waiter invoked the next time a
// workspace is released with no prior waiters ahead of it, or via Pump.
func (r *Ring) QueueWhenAvailable(cb func(*Workspace)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiters = append(r.waiters, cb)
}

// Pump drains the waiter queue while a free slot exists. Called once per
// frame tick before new acquisitions are attempted, per §4.F.2.2.
func (r *Ring) Pump() {
	for {
		r.mu.Lock()
		if len(r.waiters) == 0 {
			r.mu.Unlock()
			return
		}
		ws := r.acquireLocked()
		if ws == nil {
			r.mu.Unlock()
			return
		}
		cb := r.waiters[0]
		r.waiters = r.waiters[1:]
		r.mu.Unlock()
		cb(ws)
	}
}

// Stats reports current occupancy for diagnostics (pipeline_stats, §6.4).
type Stats struct {
	Free, Dispatched, DrainPending, Waiters int
}

func (r *Ring) StatsSnapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Stats
	s.Waiters = len(r.waiters)
	for i := range r.slots {
		switch r.slots[i].state {
		case stateFree:
			s.Free++
		case stateDispatched:
			s.Dispatched++
		case stateDrainPending:
			s.DrainPending++
		}
	}
	return s
}

// Workspace buffer sizes. Scratch/output are fixed at 4 MB regardless of
// the per-dispatch minichunk cap, since the shaders address them by
// minichunk slot within the batch.
const (
	SDFNodesBufferSize = 1280 // 1.25 KB serialized tree limit
	BrushBufferSize    = 2304 // 2.25 KB instruction/layer limit
	ParamsSlotSize     = 64
	ScratchBufferSize  = 4 << 20
	OutputBufferSize   = 4 << 20
)

// NewWorkspaces allocates count workspaces' worth of GPU buffers from
// dev, with params buffers sized for up to maxMinichunks minichunks each.
func NewWorkspaces(dev Device, count int, maxMinichunks int) ([]*Workspace, error) {
	out := make([]*Workspace, 0, count)
	for i := 0; i < count; i++ {
		ws := &Workspace{ID: i}
		var err error
		if ws.SDFNodes, err = dev.CreateBuffer(SDFNodesBufferSize, UsageStorage, AccessCPUToGPU); err != nil {
			return nil, fmt.Errorf("gpu: workspace %d sdf_nodes allocation: %w", i, err)
		}
		if ws.BrushInstructions, err = dev.CreateBuffer(BrushBufferSize, UsageStorage, AccessCPUToGPU); err != nil {
			return nil, fmt.Errorf("gpu: workspace %d brush_instructions allocation: %w", i, err)
		}
		if ws.BrushLayers, err = dev.CreateBuffer(BrushBufferSize, UsageStorage, AccessCPUToGPU); err != nil {
			return nil, fmt.Errorf("gpu: workspace %d brush_layers allocation: %w", i, err)
		}
		if ws.SDFParams, err = dev.CreateBuffer(uint64(ParamsSlotSize*maxMinichunks), UsageUniform, AccessCPUToGPU); err != nil {
			return nil, fmt.Errorf("gpu: workspace %d sdf_params allocation: %w", i, err)
		}
		if ws.WorldParams, err = dev.CreateBuffer(uint64(ParamsSlotSize*maxMinichunks), UsageUniform, AccessCPUToGPU); err != nil {
			return nil, fmt.Errorf("gpu: workspace %d world_params allocation: %w", i, err)
		}
		if ws.SDFFieldScratch, err = dev.CreateBuffer(ScratchBufferSize, UsageStorage, AccessGPUOnly); err != nil {
			return nil, fmt.Errorf("gpu: workspace %d sdf_field_scratch allocation: %w", i, err)
		}
		if ws.VoxelOutput, err = dev.CreateBuffer(OutputBufferSize, UsageStorage, AccessGPUToCPU); err != nil {
			return nil, fmt.Errorf("gpu: workspace %d voxel_output allocation: %w", i, err)
		}
		out = append(out, ws)
	}
	return out, nil
}

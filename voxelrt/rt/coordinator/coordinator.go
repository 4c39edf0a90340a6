// Package coordinator implements the generation coordinator, the heart
// of the worldgen core: it splits chunk requests into minichunk batches,
// schedules them against the GPU resource ring, records compute
// dispatches on the current frame's encoder, routes readback bytes into
// per-chunk accumulators, and resolves completed chunks' reply
// callbacks on an errgroup worker pool off the dispatch path.
package coordinator

import (
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/accumulate"
	"github.com/AngeliteAI/voxelgen/voxelrt/rt/config"
	"github.com/AngeliteAI/voxelgen/voxelrt/rt/gpu"
	"github.com/AngeliteAI/voxelgen/voxelrt/rt/scheduler"
	"github.com/AngeliteAI/voxelgen/voxelrt/rt/sdf"
	"github.com/AngeliteAI/voxelgen/voxelrt/rt/vglog"
	"github.com/AngeliteAI/voxelgen/voxelrt/rt/worldgen"
)

// Buffer bind slots used consistently across every workspace dispatch,
// matching the worldgen_sdf / worldgen_brush shader layout.
const (
	SlotSDFNodes          = 0
	SlotBrushInstructions = 1
	SlotBrushLayers       = 2
	SlotSDFParams         = 3
	SlotWorldParams       = 4
	SlotSDFFieldScratch   = 5
	SlotVoxelOutput       = 6
)

// ErrCorruptReadback wraps gpu.ErrCorruptReadback at the coordinator level.
var ErrCorruptReadback = fmt.Errorf("coordinator: %w", gpu.ErrCorruptReadback)

// ErrUnalignedBounds is returned through the reply when a request's
// bounds do not describe exactly one chunk's worth of minichunks.
var ErrUnalignedBounds = fmt.Errorf("coordinator: request bounds are not chunk-aligned")

// requestAssets is the per-chunk state the coordinator tracks between
// request_chunk and the chunk's eventual resolution.
type requestAssets struct {
	traceID     uuid.UUID // correlates this request's log lines across frames
	accumulator *accumulate.Accumulator
	reply       func(worldgen.CompletedChunk)
	abandoned   bool
	startFrame  uint64
	stallWarned bool
}

// deferredRequest is a whole request queued because no frame encoder was
// active at request time.
type deferredRequest struct {
	chunkID  worldgen.ChunkId
	bounds   worldgen.WorldBounds
	params   worldgen.GenParams
	priority int32
	reply    func(worldgen.CompletedChunk)
}

// Coordinator is the generation coordinator.
type Coordinator struct {
	dev      gpu.Device
	ring     *gpu.Ring
	readback *gpu.ReadbackManager
	sched    *scheduler.PIDScheduler
	cfg      config.Config
	log      *vglog.Logger

	sdfBytes   []byte
	brushInstr []byte
	brushLayer []byte

	group *errgroup.Group
	gctx  context.Context

	mu             sync.Mutex
	currentFrame   uint64
	nextSeq        uint64
	pending        batchHeap
	requests       map[worldgen.ChunkId]*requestAssets
	deferredStarts []deferredRequest
	waiterQueued   bool
	residentTotal  uint64 // chunks completed and delivered since startup; residency itself is owned by the region manager
	shaderSDF      gpu.ShaderHandle
	shaderBrush    gpu.ShaderHandle
}

// New constructs a Coordinator bound to a single static world definition
// (SDF tree + brush stack), compiled once and reused for every request.
func New(dev gpu.Device, ring *gpu.Ring, rb *gpu.ReadbackManager, sched *scheduler.PIDScheduler, cfg config.Config, tree *sdf.Node, brush sdf.Stack) (*Coordinator, error) {
	sdfBytes, err := sdf.Flatten(tree)
	if err != nil {
		return nil, fmt.Errorf("coordinator: failed to flatten SDF tree: %w", err)
	}
	if len(sdfBytes) > gpu.SDFNodesBufferSize {
		return nil, fmt.Errorf("coordinator: serialized SDF tree is %d bytes, workspace limit is %d", len(sdfBytes), gpu.SDFNodesBufferSize)
	}
	instr, layers := sdf.SerializeBrushInstructions(brush)
	if len(instr) > gpu.BrushBufferSize || len(layers) > gpu.BrushBufferSize {
		return nil, fmt.Errorf("coordinator: brush schema exceeds the %d-byte workspace limit", gpu.BrushBufferSize)
	}

	ctx := context.Background()
	group, gctx := errgroup.WithContext(ctx)

	return &Coordinator{
		dev:        dev,
		ring:       ring,
		readback:   rb,
		sched:      sched,
		cfg:        cfg,
		log:        vglog.New("coordinator"),
		sdfBytes:   sdfBytes,
		brushInstr: instr,
		brushLayer: layers,
		group:      group,
		gctx:       gctx,
		requests:   make(map[worldgen.ChunkId]*requestAssets),
	}, nil
}

// SetShaders registers the two compiled compute shaders.
func (c *Coordinator) SetShaders(sdfShader, brushShader gpu.ShaderHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shaderSDF = sdfShader
	c.shaderBrush = brushShader
}

// RequestChunk is the coordinator's request entry. It satisfies
// region.ChunkRequester.
func (c *Coordinator) RequestChunk(chunkID worldgen.ChunkId, bounds worldgen.WorldBounds, params worldgen.GenParams, priority int32, reply func(worldgen.CompletedChunk)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.dev.FrameEncoder(); !ok {
		c.deferredStarts = append(c.deferredStarts, deferredRequest{chunkID, bounds, params, priority, reply})
		return
	}
	c.startRequestLocked(chunkID, bounds, params, priority, reply)
}

func (c *Coordinator) startRequestLocked(chunkID worldgen.ChunkId, bounds worldgen.WorldBounds, params worldgen.GenParams, priority int32, reply func(worldgen.CompletedChunk)) {
	descriptors := bounds.SplitIntoMinichunks()
	if len(descriptors) != worldgen.MinichunksPerChunk {
		// The accumulator is sized for exactly one chunk; anything else
		// would either never complete or overrun a slot.
		c.log.Info("chunk %+v: bounds split into %d minichunks, want %d", chunkID, len(descriptors), worldgen.MinichunksPerChunk)
		c.group.Go(func() error {
			reply(worldgen.CompletedChunk{ID: chunkID, Err: ErrUnalignedBounds})
			return nil
		})
		return
	}

	trace := uuid.New()
	c.requests[chunkID] = &requestAssets{
		traceID:     trace,
		accumulator: accumulate.New(),
		reply:       reply,
		startFrame:  c.currentFrame,
	}
	c.log.Debug("chunk %+v: request opened (trace %s)", chunkID, trace)
	budget := c.sched.WorkgroupBudget()
	if budget < 1 {
		budget = 1
	}
	if budget > c.cfg.MaxMinichunksPerWorkspace {
		budget = c.cfg.MaxMinichunksPerWorkspace
	}

	for i := 0; i < len(descriptors); i += budget {
		end := i + budget
		if end > len(descriptors) {
			end = len(descriptors)
		}
		c.nextSeq++
		heap.Push(&c.pending, &minichunkBatch{
			chunkID:    chunkID,
			minichunks: descriptors[i:end],
			priority:   priority,
			seed:       params.Seed,
			seq:        c.nextSeq,
		})
	}
}

// EvictChunk marks a chunk abandoned: its accumulator still drains every
// readback it's owed, but the reply is dropped instead of delivered once
// the chunk completes. A request still sitting in the deferred-start
// list is simply removed.
func (c *Coordinator) EvictChunk(chunkID worldgen.ChunkId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ra, ok := c.requests[chunkID]; ok {
		ra.abandoned = true
		return
	}
	kept := c.deferredStarts[:0]
	for _, dr := range c.deferredStarts {
		if dr.chunkID != chunkID {
			kept = append(kept, dr)
		}
	}
	c.deferredStarts = kept
}

// Tick runs one frame's worth of coordinator work. It must be called
// after the frame encoder becomes available and before AdvanceFrame.
func (c *Coordinator) Tick() {
	c.readback.ProcessCompleted()
	c.readback.ForceProcessOld(c.cfg.FramesInFlight)
	c.ring.Pump()

	c.mu.Lock()
	for _, dr := range c.deferredStarts {
		c.startRequestLocked(dr.chunkID, dr.bounds, dr.params, dr.priority, dr.reply)
	}
	c.deferredStarts = nil

	for c.pending.Len() > 0 {
		ws := c.ring.Acquire()
		if ws == nil {
			break
		}
		batch := heap.Pop(&c.pending).(*minichunkBatch)
		if !c.dispatchBatchWithWorkspace(ws, batch) {
			// Dispatch fails when no frame encoder is open or the readback
			// could not be submitted; the batch is already back in the
			// heap, so stop for this frame
			// rather than spinning on the same failure. ring.Release may
			// hand the workspace straight to a queued waiter, which
			// re-enters via onWorkspaceAvailable and needs c.mu itself --
			// never call it while holding the lock.
			c.mu.Unlock()
			c.ring.Release(ws.ID)
			c.mu.Lock()
			break
		}
	}

	c.warnStalledLocked()

	// Remaining batches retain their place in line: a single waiter
	// re-enters the dispatch loop as soon as any workspace frees up,
	// rather than sitting idle until the next Tick.
	needWaiter := c.pending.Len() > 0 && !c.waiterQueued
	if needWaiter {
		c.waiterQueued = true
	}
	c.mu.Unlock()

	if needWaiter {
		c.ring.QueueWhenAvailable(c.onWorkspaceAvailable)
	}
}

// warnStalledLocked logs, once per chunk, any request that has been open
// longer than the diagnostic stall threshold. Advisory only; generation
// continues.
func (c *Coordinator) warnStalledLocked() {
	for id, ra := range c.requests {
		if ra.stallWarned || c.currentFrame-ra.startFrame < config.StallWarningFrames {
			continue
		}
		ra.stallWarned = true
		c.log.Info("chunk %+v (trace %s): still incomplete after %d frames (%d/%d minichunks)",
			id, ra.traceID, c.currentFrame-ra.startFrame, ra.accumulator.FilledCount(), worldgen.MinichunksPerChunk)
	}
}

func (c *Coordinator) onWorkspaceAvailable(ws *gpu.Workspace) {
	c.mu.Lock()
	c.waiterQueued = false

	if c.pending.Len() == 0 {
		c.mu.Unlock()
		c.ring.Release(ws.ID)
		return
	}
	batch := heap.Pop(&c.pending).(*minichunkBatch)
	ok := c.dispatchBatchWithWorkspace(ws, batch)

	needWaiter := c.pending.Len() > 0 && !c.waiterQueued
	if needWaiter {
		c.waiterQueued = true
	}
	c.mu.Unlock()

	if !ok {
		c.ring.Release(ws.ID)
	}
	if needWaiter {
		c.ring.QueueWhenAvailable(c.onWorkspaceAvailable)
	}
}

// dispatchBatchWithWorkspace must be called with c.mu held. It returns
// false if dispatch could not proceed (no active frame encoder, or the
// readback submission failed), with the batch pushed back on the heap; the
// caller must then release ws back to the ring itself, without holding
// c.mu, since Release may synchronously invoke a queued waiter that
// re-enters the coordinator.
func (c *Coordinator) dispatchBatchWithWorkspace(ws *gpu.Workspace, batch *minichunkBatch) bool {
	enc, ok := c.dev.FrameEncoder()
	if !ok {
		// No active frame encoder: put the batch back for the next
		// Tick to pick up once a frame is open again.
		heap.Push(&c.pending, batch)
		return false
	}

	enc.WriteBuffer(ws.SDFNodes, 0, c.sdfBytes)
	enc.WriteBuffer(ws.BrushInstructions, 0, c.brushInstr)
	enc.WriteBuffer(ws.BrushLayers, 0, c.brushLayer)
	enc.WriteBuffer(ws.WorldParams, 0, encodeWorldParams(batch.minichunks))
	enc.WriteBuffer(ws.SDFParams, 0, encodeSDFParams(batch.seed, uint32(len(batch.minichunks))))

	enc.SetComputeBuffer(SlotSDFNodes, ws.SDFNodes)
	enc.SetComputeBuffer(SlotBrushInstructions, ws.BrushInstructions)
	enc.SetComputeBuffer(SlotBrushLayers, ws.BrushLayers)
	enc.SetComputeBuffer(SlotSDFParams, ws.SDFParams)
	enc.SetComputeBuffer(SlotWorldParams, ws.WorldParams)
	enc.SetComputeBuffer(SlotSDFFieldScratch, ws.SDFFieldScratch)
	enc.SetComputeBuffer(SlotVoxelOutput, ws.VoxelOutput)

	enc.DispatchCompute(c.shaderSDF, uint32(len(batch.minichunks)), 1, 1)
	enc.MemoryBarrier()
	enc.DispatchCompute(c.shaderBrush, uint32(len(batch.minichunks)), 1, 1)

	// Each minichunk's output block is 512 little-endian u32 voxels (2 KB).
	const bytesPerMinichunk = worldgen.VoxelsPerMinichunk * 4
	size := uint64(bytesPerMinichunk * len(batch.minichunks))

	frame := c.currentFrame
	_, err := c.readback.Submit(ws.VoxelOutput, size, func(data []byte) {
		c.onReadback(batch, ws, data, size)
	})
	if err != nil {
		c.log.Info("readback submit failed for chunk %+v: %v", batch.chunkID, err)
		heap.Push(&c.pending, batch)
		return false
	}
	c.ring.MarkDrainPending(ws.ID, frame)
	return true
}

func (c *Coordinator) onReadback(batch *minichunkBatch, ws *gpu.Workspace, data []byte, expected uint64) {
	defer c.ring.Release(ws.ID) // workspace stays reserved until its output is drained

	c.mu.Lock()
	ra, ok := c.requests[batch.chunkID]
	c.mu.Unlock()
	if !ok {
		return
	}

	if data == nil || uint64(len(data)) != expected {
		c.failChunk(batch.chunkID, ErrCorruptReadback)
		return
	}

	const perMinichunk = worldgen.VoxelsPerMinichunk * 4
	for i, desc := range batch.minichunks {
		block := data[i*perMinichunk : (i+1)*perMinichunk]
		voxels := make([]worldgen.Voxel, worldgen.VoxelsPerMinichunk)
		for v := 0; v < worldgen.VoxelsPerMinichunk; v++ {
			voxels[v] = worldgen.Voxel(binary.LittleEndian.Uint32(block[v*4 : v*4+4]))
		}
		if err := ra.accumulator.AddMinichunk(desc.SlotIndex, voxels); err != nil {
			c.failChunk(batch.chunkID, err)
			return
		}
	}

	if ra.accumulator.IsComplete() {
		c.completeChunk(batch.chunkID, ra)
	}
}

func (c *Coordinator) completeChunk(chunkID worldgen.ChunkId, ra *requestAssets) {
	c.mu.Lock()
	delete(c.requests, chunkID)
	abandoned := ra.abandoned
	if !abandoned {
		c.residentTotal++
	}
	c.mu.Unlock()

	if abandoned {
		c.log.Debug("chunk %+v (trace %s): completed after abandonment, dropping", chunkID, ra.traceID)
		return
	}

	voxels := ra.accumulator.Voxels()
	c.group.Go(func() error {
		// Reply delivery (and whatever CPU post-processing the receiver
		// does with the voxels, typically palette compression) runs off
		// the rendering thread.
		ra.reply(worldgen.CompletedChunk{ID: chunkID, Voxels: voxels})
		return nil
	})
}

func (c *Coordinator) failChunk(chunkID worldgen.ChunkId, err error) {
	c.mu.Lock()
	ra, ok := c.requests[chunkID]
	if ok {
		delete(c.requests, chunkID)
	}
	abandoned := ok && ra.abandoned
	c.mu.Unlock()
	if !ok || abandoned {
		return
	}
	c.log.Info("chunk %+v (trace %s): failed: %v", chunkID, ra.traceID, err)
	c.group.Go(func() error {
		ra.reply(worldgen.CompletedChunk{ID: chunkID, Err: err})
		return nil
	})
}

// AdvanceFrame must be called exactly once per rendered frame, after Tick.
func (c *Coordinator) AdvanceFrame(measuredFrameSeconds float64) {
	c.mu.Lock()
	c.currentFrame++
	c.mu.Unlock()
	c.readback.AdvanceFrame()
	c.sched.FrameStart(measuredFrameSeconds)
}

// Wait blocks until all background completion tasks (reply delivery and
// downstream compression) finish. Used by tests and graceful shutdown.
func (c *Coordinator) Wait() error {
	return c.group.Wait()
}

// Stats is the coordinator's pipeline snapshot.
type Stats struct {
	Pending               int
	InFlight              int
	Resident              int
	FrameBudgetWorkgroups int
	BytesInFlight         uint64
	ForcedReadbacks       uint64
}

func (c *Coordinator) PipelineStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Pending:               c.pending.Len(),
		InFlight:              len(c.requests),
		Resident:              int(c.residentTotal),
		FrameBudgetWorkgroups: c.sched.WorkgroupBudget(),
		BytesInFlight:         c.readback.BytesPending(),
		ForcedReadbacks:       c.readback.ForcedTotal(),
	}
}

func encodeWorldParams(descs []worldgen.MinichunkDescriptor) []byte {
	// Matches the WGSL WorldParams layout: min.xyz, voxel_size, max.xyz,
	// slot_index -- 32 bytes per minichunk slot.
	const paramSize = 32
	buf := make([]byte, paramSize*len(descs))
	for i, d := range descs {
		off := i * paramSize
		binary.LittleEndian.PutUint32(buf[off+0:], math.Float32bits(d.Bounds.Min.X()))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(d.Bounds.Min.Y()))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(d.Bounds.Min.Z()))
		binary.LittleEndian.PutUint32(buf[off+12:], math.Float32bits(d.Bounds.VoxelSize))
		binary.LittleEndian.PutUint32(buf[off+16:], math.Float32bits(d.Bounds.Max.X()))
		binary.LittleEndian.PutUint32(buf[off+20:], math.Float32bits(d.Bounds.Max.Y()))
		binary.LittleEndian.PutUint32(buf[off+24:], math.Float32bits(d.Bounds.Max.Z()))
		binary.LittleEndian.PutUint32(buf[off+28:], uint32(d.SlotIndex))
	}
	return buf
}

func encodeSDFParams(seed uint64, batchCount uint32) []byte {
	// Matches the WGSL SdfParams uniform: seed halves, batch count, pad.
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:], uint32(seed))
	binary.LittleEndian.PutUint32(buf[4:], uint32(seed>>32))
	binary.LittleEndian.PutUint32(buf[8:], batchCount)
	return buf
}

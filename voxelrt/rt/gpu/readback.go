package gpu

import (
	"fmt"
)

// ErrCorruptReadback signals a readback that delivered an unexpected
// byte count.
var ErrCorruptReadback = fmt.Errorf("gpu: readback delivered unexpected byte count")

// deferredReadback tracks one in-flight GPU->CPU copy awaiting delivery.
type deferredReadback struct {
	id             uint64
	staging        BufferHandle
	size           uint64
	frameSubmitted uint64
	callback       func([]byte)
}

// ReadbackManager is the deferred readback manager: a FIFO of in-flight
// GPU->CPU copies gated by frames-in-flight, driven over arbitrary
// staging buffers via MapAsync/Poll/GetMappedRange/Unmap.
type ReadbackManager struct {
	dev            Device
	framesInFlight uint64
	currentFrame   uint64
	nextID         uint64
	queue          []deferredReadback
	forcedTotal    uint64
}

func NewReadbackManager(dev Device, framesInFlight uint64) *ReadbackManager {
	return &ReadbackManager{dev: dev, framesInFlight: framesInFlight}
}

// Submit allocates a staging buffer, records a src->staging copy on the
// current frame's encoder, and enqueues the request. Fails with
// ErrNoFrameEncoder if no frame encoder is currently open (§4.F.4). The
// coordinator treats any Submit failure as transient: it puts the batch
// back in its pending heap for a later frame rather than failing the chunk.
func (m *ReadbackManager) Submit(src BufferHandle, size uint64, cb func([]byte)) (uint64, error) {
	enc, ok := m.dev.FrameEncoder()
	if !ok {
		return 0, ErrNoFrameEncoder
	}

	staging, err := m.dev.CreateBuffer(size, UsageStaging, AccessGPUToCPU)
	if err != nil {
		return 0, fmt.Errorf("gpu: failed to allocate staging buffer: %w", err)
	}
	enc.CopyBuffer(src, staging, size)

	m.nextID++
	id := m.nextID
	m.queue = append(m.queue, deferredReadback{
		id:             id,
		staging:        staging,
		size:           size,
		frameSubmitted: m.currentFrame,
		callback:       cb,
	})
	return id, nil
}

// AdvanceFrame must be called exactly once per rendered frame (§6.4).
func (m *ReadbackManager) AdvanceFrame() {
	m.currentFrame++
}

// ProcessCompleted pops from the front of the FIFO while the gating
// frame count has elapsed, mapping each staging buffer and delivering
// bytes to its callback in submission order (§4.D, §8 property 5 and 6).
func (m *ReadbackManager) ProcessCompleted() {
	for len(m.queue) > 0 {
		front := m.queue[0]
		if m.currentFrame-front.frameSubmitted < m.framesInFlight {
			break
		}
		m.queue = m.queue[1:]
		m.deliver(front)
	}
}

// ForceProcessOld scans the entire queue (not just the front) and
// processes any entry older than threshold frames, even out of order.
// A liveness safety net for a lost upstream frame (§4.D).
func (m *ReadbackManager) ForceProcessOld(threshold uint64) {
	kept := m.queue[:0]
	var toDeliver []deferredReadback
	for _, r := range m.queue {
		if m.currentFrame-r.frameSubmitted > threshold {
			toDeliver = append(toDeliver, r)
		} else {
			kept = append(kept, r)
		}
	}
	m.queue = kept
	m.forcedTotal += uint64(len(toDeliver))
	for _, r := range toDeliver {
		m.deliver(r)
	}
}

func (m *ReadbackManager) deliver(r deferredReadback) {
	data, ok := m.dev.MapBufferRead(r.staging)
	if !ok {
		r.callback(nil)
		m.dev.DestroyBuffer(r.staging)
		return
	}
	if uint64(len(data)) != r.size {
		r.callback(nil)
	} else {
		r.callback(data)
	}
	m.dev.UnmapBuffer(r.staging)
	m.dev.DestroyBuffer(r.staging)
}

// Pending reports the current FIFO depth, for pipeline_stats (§6.4).
func (m *ReadbackManager) Pending() int {
	return len(m.queue)
}

// BytesPending reports the summed staging sizes of not-yet-delivered
// readbacks, for embedder-side memory pressure monitoring.
func (m *ReadbackManager) BytesPending() uint64 {
	var total uint64
	for _, r := range m.queue {
		total += r.size
	}
	return total
}

// ForcedTotal reports how many readbacks have been delivered by
// ForceProcessOld rather than in-order processing; a nonzero, growing
// value points at a stalled frame pump upstream.
func (m *ReadbackManager) ForcedTotal() uint64 {
	return m.forcedTotal
}

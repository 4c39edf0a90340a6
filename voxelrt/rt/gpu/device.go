// Package gpu implements the GPU-facing components of the worldgen
// core: the fixed-capacity resource ring and the deferred readback
// manager. Both depend only on the small Device/Encoder interface
// declared here, not directly on cogentcore/webgpu, so the graphics
// backend is consumed as an external collaborator behind an interface
// boundary. WGPUDevice in wgpu_backend.go is the real implementation;
// FakeDevice in fake_device.go is an in-memory double used by tests
// that can't assume a GPU is present.
package gpu

import "fmt"

// BufferUsage enumerates how a buffer_create call intends to use a buffer.
type BufferUsage int

const (
	UsageStorage BufferUsage = iota
	UsageUniform
	UsageStaging
	UsageVertex
	UsageIndex
)

// BufferAccess enumerates a buffer_create call's CPU/GPU access pattern.
type BufferAccess int

const (
	AccessGPUOnly BufferAccess = iota
	AccessCPUToGPU
	AccessGPUToCPU
)

// BufferHandle and ShaderHandle are opaque backend-assigned ids.
type BufferHandle uint64
type ShaderHandle uint64

// ErrNoFrameEncoder signals a transient condition, handled by deferred
// queuing rather than failing a request.
var ErrNoFrameEncoder = fmt.Errorf("gpu: no frame encoder is currently open")

// Encoder records GPU commands against the current frame.
type Encoder interface {
	CopyBuffer(src, dst BufferHandle, size uint64)
	WriteBuffer(h BufferHandle, offset uint64, data []byte)
	DispatchCompute(shader ShaderHandle, x, y, z uint32)
	SetComputeBuffer(slot uint32, h BufferHandle)
	MemoryBarrier()
}

// Device is the graphics backend contract the worldgen core consumes.
// It is deliberately narrow: only what the ring, readback manager and
// coordinator need to drive GPU-side generation, never shader
// compilation for rendering or draw submission.
type Device interface {
	CreateBuffer(size uint64, usage BufferUsage, access BufferAccess) (BufferHandle, error)
	DestroyBuffer(h BufferHandle)
	MapBufferRead(h BufferHandle) ([]byte, bool)
	UnmapBuffer(h BufferHandle)

	CreateComputeShader(wgsl string) (ShaderHandle, error)
	DestroyShader(h ShaderHandle)

	CreateEncoder() (Encoder, error)
	// FrameEncoder returns the currently-open frame encoder, if any. The
	// embedder opens one per rendered frame; the coordinator records
	// compute dispatches and readback copies against it.
	FrameEncoder() (Encoder, bool)
	Submit(e Encoder) error

	// Poll lets backends that require explicit pumping (wgpu's
	// MapAsync/Poll pair) advance pending async operations.
	Poll()
}

package gpu

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// WGPUDevice adapts a *wgpu.Device to the Device interface: buffer
// descriptors with Label/Size/Usage, bitwise-OR'd usage flags, and
// MapAsync+Poll+GetMappedRange+Unmap for readback.
type WGPUDevice struct {
	device *wgpu.Device
	queue  *wgpu.Queue

	mu      sync.Mutex
	buffers map[BufferHandle]*wgpu.Buffer
	shaders map[ShaderHandle]*wgpuShader
	nextBuf BufferHandle
	nextSh  ShaderHandle

	frameMu  sync.Mutex
	frameEnc *wgpuEncoder
	hasFrame bool
}

// wgpuShader bundles a compiled module with its compute pipeline and the
// set of bind-group-0 bindings the WGSL source declares. The pipeline
// uses an auto layout, so a dispatch's bind group must cover exactly the
// bindings the shader uses, no more and no fewer.
type wgpuShader struct {
	module   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
	bindings []uint32
}

// NewWGPUDevice wraps an already-initialized wgpu device and its default queue.
func NewWGPUDevice(device *wgpu.Device) *WGPUDevice {
	return &WGPUDevice{
		device:  device,
		queue:   device.GetQueue(),
		buffers: make(map[BufferHandle]*wgpu.Buffer),
		shaders: make(map[ShaderHandle]*wgpuShader),
	}
}

func toWgpuUsage(usage BufferUsage, access BufferAccess) wgpu.BufferUsage {
	// Staging buffers are always the destination of a GPU copy and then
	// mapped for reading; MapRead combines only with CopyDst.
	if usage == UsageStaging {
		return wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst
	}

	var u wgpu.BufferUsage
	switch usage {
	case UsageStorage:
		u = wgpu.BufferUsageStorage
	case UsageUniform:
		u = wgpu.BufferUsageUniform
	case UsageVertex:
		u = wgpu.BufferUsageVertex
	case UsageIndex:
		u = wgpu.BufferUsageIndex
	}
	switch access {
	case AccessCPUToGPU:
		u |= wgpu.BufferUsageCopyDst
	case AccessGPUToCPU:
		u |= wgpu.BufferUsageCopySrc
	case AccessGPUOnly:
		u |= wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	}
	return u
}

func (d *WGPUDevice) CreateBuffer(size uint64, usage BufferUsage, access BufferAccess) (BufferHandle, error) {
	desc := &wgpu.BufferDescriptor{
		Label: "voxelgen.buffer",
		Size:  size,
		Usage: toWgpuUsage(usage, access),
	}
	buf, err := d.device.CreateBuffer(desc)
	if err != nil {
		return 0, fmt.Errorf("gpu: failed to create buffer: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextBuf++
	h := d.nextBuf
	d.buffers[h] = buf
	return h, nil
}

func (d *WGPUDevice) DestroyBuffer(h BufferHandle) {
	d.mu.Lock()
	buf, ok := d.buffers[h]
	if ok {
		delete(d.buffers, h)
	}
	d.mu.Unlock()
	if ok {
		buf.Release()
	}
}

func (d *WGPUDevice) MapBufferRead(h BufferHandle) ([]byte, bool) {
	d.mu.Lock()
	buf, ok := d.buffers[h]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}

	var data []byte
	done := false
	buf.MapAsync(wgpu.MapModeRead, 0, buf.GetSize(), func(status wgpu.BufferMapAsyncStatus) {
		if status == wgpu.BufferMapAsyncStatusSuccess {
			data = buf.GetMappedRange(0, uint(buf.GetSize()))
		}
		done = true
	})
	d.device.Poll(true, nil)
	if !done || data == nil {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

func (d *WGPUDevice) UnmapBuffer(h BufferHandle) {
	d.mu.Lock()
	buf, ok := d.buffers[h]
	d.mu.Unlock()
	if ok {
		buf.Unmap()
	}
}

var bindingPattern = regexp.MustCompile(`@binding\((\d+)\)`)

// scanBindings extracts the distinct @binding(N) indices a WGSL source
// declares, sorted ascending.
func scanBindings(wgsl string) []uint32 {
	seen := make(map[uint32]bool)
	for _, m := range bindingPattern.FindAllStringSubmatch(wgsl, -1) {
		n, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		seen[uint32(n)] = true
	}
	out := make([]uint32, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *WGPUDevice) CreateComputeShader(wgsl string) (ShaderHandle, error) {
	mod, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "voxelgen.shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: wgsl},
	})
	if err != nil {
		return 0, fmt.Errorf("gpu: failed to compile compute shader: %w", err)
	}
	pipeline, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     mod,
			EntryPoint: "cs_main",
		},
	})
	if err != nil {
		mod.Release()
		return 0, fmt.Errorf("gpu: failed to create compute pipeline: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSh++
	h := d.nextSh
	d.shaders[h] = &wgpuShader{module: mod, pipeline: pipeline, bindings: scanBindings(wgsl)}
	return h, nil
}

func (d *WGPUDevice) DestroyShader(h ShaderHandle) {
	d.mu.Lock()
	sh, ok := d.shaders[h]
	if ok {
		delete(d.shaders, h)
	}
	d.mu.Unlock()
	if ok {
		sh.pipeline.Release()
		sh.module.Release()
	}
}

// wgpuEncoder batches buffer writes and compute dispatch descriptions; it
// defers actually recording the wgpu command encoder until Submit, since
// SetComputeBuffer needs all bind-group entries known before
// BeginComputePass.
type wgpuEncoder struct {
	dev        *WGPUDevice
	writes     []pendingWrite
	copies     []pendingCopy
	dispatches []pendingDispatch
	binds      map[uint32]BufferHandle
}

type pendingWrite struct {
	h      BufferHandle
	offset uint64
	data   []byte
}

type pendingCopy struct {
	src, dst BufferHandle
	size     uint64
}

type pendingDispatch struct {
	shader  ShaderHandle
	x, y, z uint32
	binds   map[uint32]BufferHandle
}

func (e *wgpuEncoder) WriteBuffer(h BufferHandle, offset uint64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	e.writes = append(e.writes, pendingWrite{h, offset, cp})
}

func (e *wgpuEncoder) CopyBuffer(src, dst BufferHandle, size uint64) {
	e.copies = append(e.copies, pendingCopy{src, dst, size})
}

func (e *wgpuEncoder) SetComputeBuffer(slot uint32, h BufferHandle) {
	if e.binds == nil {
		e.binds = make(map[uint32]BufferHandle)
	}
	e.binds[slot] = h
}

func (e *wgpuEncoder) DispatchCompute(shader ShaderHandle, x, y, z uint32) {
	binds := make(map[uint32]BufferHandle, len(e.binds))
	for k, v := range e.binds {
		binds[k] = v
	}
	e.dispatches = append(e.dispatches, pendingDispatch{shader, x, y, z, binds})
}

func (e *wgpuEncoder) MemoryBarrier() {
	// wgpu inserts barriers implicitly between passes; each dispatch below
	// records its own pass, so ordering is already enforced.
}

func (d *WGPUDevice) CreateEncoder() (Encoder, error) {
	return &wgpuEncoder{dev: d}, nil
}

func (d *WGPUDevice) FrameEncoder() (Encoder, bool) {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	if !d.hasFrame {
		return nil, false
	}
	return d.frameEnc, true
}

// BeginFrame opens the frame encoder the embedder records compute
// dispatches against for one rendered frame; EndFrame submits it.
func (d *WGPUDevice) BeginFrame() {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	d.frameEnc = &wgpuEncoder{dev: d}
	d.hasFrame = true
}

func (d *WGPUDevice) EndFrame() error {
	d.frameMu.Lock()
	enc := d.frameEnc
	d.hasFrame = false
	d.frameEnc = nil
	d.frameMu.Unlock()
	if enc == nil {
		return nil
	}
	return d.Submit(enc)
}

func (d *WGPUDevice) Submit(encoder Encoder) error {
	e, ok := encoder.(*wgpuEncoder)
	if !ok {
		return fmt.Errorf("gpu: encoder from foreign backend")
	}

	for _, w := range e.writes {
		d.mu.Lock()
		buf := d.buffers[w.h]
		d.mu.Unlock()
		if buf == nil {
			continue
		}
		d.queue.WriteBuffer(buf, w.offset, w.data)
	}

	if len(e.copies) == 0 && len(e.dispatches) == 0 {
		return nil
	}

	cmdEncoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("gpu: failed to create command encoder: %w", err)
	}

	for _, disp := range e.dispatches {
		d.mu.Lock()
		sh := d.shaders[disp.shader]
		d.mu.Unlock()
		if sh == nil {
			continue
		}
		bg, err := d.buildBindGroup(sh, disp.binds)
		if err != nil {
			return err
		}
		pass := cmdEncoder.BeginComputePass(nil)
		pass.SetPipeline(sh.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.DispatchWorkgroups(disp.x, disp.y, disp.z)
		pass.End()
		bg.Release()
	}

	// Readback copies run after every dispatch of the frame so staged
	// voxel output reflects this frame's compute work.
	for _, c := range e.copies {
		d.mu.Lock()
		src, dst := d.buffers[c.src], d.buffers[c.dst]
		d.mu.Unlock()
		if src == nil || dst == nil {
			continue
		}
		cmdEncoder.CopyBufferToBuffer(src, 0, dst, 0, c.size)
	}

	cmdBuf, err := cmdEncoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("gpu: failed to finish command buffer: %w", err)
	}
	d.queue.Submit(cmdBuf)
	return nil
}

// buildBindGroup assembles a group-0 bind group covering exactly the
// bindings the shader's WGSL declares, resolving each from the
// dispatch's recorded SetComputeBuffer calls.
func (d *WGPUDevice) buildBindGroup(sh *wgpuShader, binds map[uint32]BufferHandle) (*wgpu.BindGroup, error) {
	entries := make([]wgpu.BindGroupEntry, 0, len(sh.bindings))
	for _, slot := range sh.bindings {
		h, ok := binds[slot]
		if !ok {
			return nil, fmt.Errorf("gpu: dispatch missing buffer for binding %d", slot)
		}
		d.mu.Lock()
		buf := d.buffers[h]
		d.mu.Unlock()
		if buf == nil {
			return nil, fmt.Errorf("gpu: binding %d references destroyed buffer", slot)
		}
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: slot,
			Buffer:  buf,
			Size:    wgpu.WholeSize,
		})
	}
	layout := sh.pipeline.GetBindGroupLayout(0)
	defer layout.Release()
	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: failed to create bind group: %w", err)
	}
	return bg, nil
}

func (d *WGPUDevice) Poll() {
	d.device.Poll(false, nil)
}

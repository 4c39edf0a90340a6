package gpu

import "sync"

// FakeDevice is an in-memory Device double for tests that can't assume a
// real GPU is present. It executes writes, copies and dispatches
// synchronously against plain byte slices so ring/readback/coordinator
// tests can assert on exact buffer contents without a wgpu adapter.
type FakeDevice struct {
	mu      sync.Mutex
	buffers map[BufferHandle]*fakeBuffer
	mapped  map[BufferHandle]bool
	nextBuf BufferHandle
	nextSh  ShaderHandle

	// Dispatch, when set, is invoked synchronously for every
	// DispatchCompute call recorded by encoders this device creates,
	// letting tests simulate shader effects (e.g. filling a storage
	// buffer) without real WGSL execution.
	Dispatch func(shader ShaderHandle, x, y, z uint32, binds map[uint32]BufferHandle, readBuf func(BufferHandle) []byte, writeBuf func(BufferHandle, []byte))

	frame    *fakeEncoder
	hasFrame bool
	frameMu  sync.Mutex
}

type fakeBuffer struct {
	data   []byte
	usage  BufferUsage
	access BufferAccess
}

func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		buffers: make(map[BufferHandle]*fakeBuffer),
		mapped:  make(map[BufferHandle]bool),
	}
}

func (d *FakeDevice) CreateBuffer(size uint64, usage BufferUsage, access BufferAccess) (BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextBuf++
	h := d.nextBuf
	d.buffers[h] = &fakeBuffer{data: make([]byte, size), usage: usage, access: access}
	return h, nil
}

func (d *FakeDevice) DestroyBuffer(h BufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, h)
	delete(d.mapped, h)
}

// WriteDirect lets a test seed a buffer's contents without going through
// an encoder (standing in for Queue.WriteBuffer done outside the frame).
func (d *FakeDevice) WriteDirect(h BufferHandle, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[h]
	if !ok {
		return
	}
	copy(buf.data, data)
}

func (d *FakeDevice) MapBufferRead(h BufferHandle) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[h]
	if !ok {
		return nil, false
	}
	d.mapped[h] = true
	out := make([]byte, len(buf.data))
	copy(out, buf.data)
	return out, true
}

func (d *FakeDevice) UnmapBuffer(h BufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mapped[h] = false
}

func (d *FakeDevice) CreateComputeShader(wgsl string) (ShaderHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSh++
	return d.nextSh, nil
}

func (d *FakeDevice) DestroyShader(h ShaderHandle) {}

type fakeEncoder struct {
	dev   *FakeDevice
	binds map[uint32]BufferHandle
	ops   []func()
}

func (e *fakeEncoder) WriteBuffer(h BufferHandle, offset uint64, data []byte) {
	e.ops = append(e.ops, func() {
		e.dev.mu.Lock()
		buf, ok := e.dev.buffers[h]
		e.dev.mu.Unlock()
		if !ok {
			return
		}
		copy(buf.data[offset:], data)
	})
}

func (e *fakeEncoder) CopyBuffer(src, dst BufferHandle, size uint64) {
	e.ops = append(e.ops, func() {
		e.dev.mu.Lock()
		s, okS := e.dev.buffers[src]
		t, okT := e.dev.buffers[dst]
		e.dev.mu.Unlock()
		if !okS || !okT {
			return
		}
		n := uint64(len(s.data))
		if size < n {
			n = size
		}
		copy(t.data[:n], s.data[:n])
	})
}

func (e *fakeEncoder) SetComputeBuffer(slot uint32, h BufferHandle) {
	if e.binds == nil {
		e.binds = make(map[uint32]BufferHandle)
	}
	e.binds[slot] = h
}

func (e *fakeEncoder) DispatchCompute(shader ShaderHandle, x, y, z uint32) {
	binds := make(map[uint32]BufferHandle, len(e.binds))
	for k, v := range e.binds {
		binds[k] = v
	}
	e.ops = append(e.ops, func() {
		if e.dev.Dispatch == nil {
			return
		}
		read := func(h BufferHandle) []byte {
			e.dev.mu.Lock()
			buf, ok := e.dev.buffers[h]
			e.dev.mu.Unlock()
			if !ok {
				return nil
			}
			return buf.data
		}
		write := func(h BufferHandle, data []byte) {
			e.dev.mu.Lock()
			buf, ok := e.dev.buffers[h]
			e.dev.mu.Unlock()
			if !ok {
				return
			}
			copy(buf.data, data)
		}
		e.dev.Dispatch(shader, x, y, z, binds, read, write)
	})
}

func (e *fakeEncoder) MemoryBarrier() {}

func (d *FakeDevice) CreateEncoder() (Encoder, error) {
	return &fakeEncoder{dev: d}, nil
}

func (d *FakeDevice) FrameEncoder() (Encoder, bool) {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	if !d.hasFrame {
		return nil, false
	}
	return d.frame, true
}

func (d *FakeDevice) BeginFrame() {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	d.frame = &fakeEncoder{dev: d}
	d.hasFrame = true
}

func (d *FakeDevice) EndFrame() error {
	d.frameMu.Lock()
	enc := d.frame
	d.hasFrame = false
	d.frame = nil
	d.frameMu.Unlock()
	if enc == nil {
		return nil
	}
	return d.Submit(enc)
}

func (d *FakeDevice) Submit(encoder Encoder) error {
	e, ok := encoder.(*fakeEncoder)
	if !ok {
		return nil
	}
	for _, op := range e.ops {
		op()
	}
	return nil
}

func (d *FakeDevice) Poll() {}

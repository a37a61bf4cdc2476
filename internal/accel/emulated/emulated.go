// Package emulated provides an accelerator backend that runs on the host.
//
// The device keeps its own memory domain: buffers are private slices that
// can only be reached through Buffer.Read and Buffer.Write, exactly like
// device memory, and kernels run asynchronously on their own goroutines. It
// is the backend used when no OpenCL platform is present and in tests.
package emulated

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/stencil"
)

func init() {
	accel.Register(New())
}

// Backend is the emulated accelerator backend.
type Backend struct {
	device accel.DeviceInfo
}

// New returns a backend exposing one emulated device whose compute units
// are the host's logical CPUs.
func New() *Backend {
	return &Backend{
		device: accel.DeviceInfo{
			Backend:      accel.Emulated,
			Platform:     "Host Emulation",
			Vendor:       "hybridstencil",
			Name:         "emulated-" + runtime.GOARCH,
			Type:         accel.DeviceTypeAccelerator,
			ComputeUnits: runtime.NumCPU(),
			Features:     hostFeatures(),
		},
	}
}

func (b *Backend) Name() string { return accel.Emulated }

func (b *Backend) Devices() ([]accel.DeviceInfo, error) {
	return []accel.DeviceInfo{b.device}, nil
}

// Open validates the kernel source and returns a context on the device.
// The emulated device evaluates the operator natively; the source is only
// checked for the entry point, the way a real platform would fail the build.
func (b *Backend) Open(dev accel.DeviceInfo, src accel.KernelSource) (accel.Context, error) {
	if dev.Backend != accel.Emulated || dev.Index != 0 {
		return nil, fmt.Errorf("emulated backend: device %q: %w", dev.Name, accel.ErrNoDevice)
	}
	if err := src.Validate(); err != nil {
		return nil, &accel.StatusError{Op: "build program: " + err.Error(), Code: -11}
	}
	return &Context{device: b.device, lanes: max(b.device.ComputeUnits, 1)}, nil
}

// Context is an open emulated device.
type Context struct {
	device accel.DeviceInfo
	lanes  int

	mu     sync.Mutex
	closed bool
}

func (c *Context) Device() accel.DeviceInfo { return c.device }

func (c *Context) NewBuffer(elems int) (accel.Buffer, error) {
	if elems < 0 {
		return nil, &accel.StatusError{Op: "create buffer", Code: -61}
	}
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return &Buffer{data: make([]float32, elems)}, nil
}

// Submit launches the job on its own goroutines. Rows are split into bands
// the way work-groups split the NDRange on a real device.
func (c *Context) Submit(job accel.Job) (accel.Pending, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := accel.CheckJob(job); err != nil {
		return nil, err
	}
	dst, okDst := job.Dst.(*Buffer)
	src, okSrc := job.Src.(*Buffer)
	if !okDst || !okSrc {
		return nil, fmt.Errorf("emulated backend: %w: foreign buffer", accel.ErrBadJob)
	}
	// The job keeps its own references so a concurrent Close cannot pull
	// the memory out from under it.
	dstData, srcData := dst.slice(), src.slice()
	if dstData == nil || srcData == nil {
		return nil, accel.ErrClosed
	}

	p := &pending{done: make(chan struct{})}
	l := job.Layout
	bands := min(c.lanes, max(l.YDim, 1))
	chunk := (l.YDim + bands - 1) / max(bands, 1)

	go func() {
		defer close(p.done)
		var wg sync.WaitGroup
		for rs := 0; rs < l.YDim; rs += chunk {
			n := min(chunk, l.YDim-rs)
			wg.Add(1)
			go func() {
				defer wg.Done()
				stencil.Rows(dstData, srcData, l, rs, n)
			}()
		}
		wg.Wait()
	}()
	return p, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Context) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return accel.ErrClosed
	}
	return nil
}

type pending struct {
	done chan struct{}
}

func (p *pending) Wait() error {
	<-p.done
	return nil
}

// Buffer is emulated device memory.
type Buffer struct {
	mu   sync.RWMutex
	data []float32
}

func (b *Buffer) slice() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

func (b *Buffer) Len() int { return len(b.slice()) }

func (b *Buffer) Write(offset int, src []float32) error {
	data := b.slice()
	if data == nil {
		return accel.ErrClosed
	}
	if err := accel.CheckRange(offset, len(src), len(data)); err != nil {
		return err
	}
	copy(data[offset:], src)
	return nil
}

func (b *Buffer) Read(offset int, dst []float32) error {
	data := b.slice()
	if data == nil {
		return accel.ErrClosed
	}
	if err := accel.CheckRange(offset, len(dst), len(data)); err != nil {
		return err
	}
	copy(dst, data[offset:offset+len(dst)])
	return nil
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
	return nil
}

func hostFeatures() []string {
	var out []string
	add := func(name string, ok bool) {
		if ok {
			out = append(out, name)
		}
	}
	add("sse2", cpu.X86.HasSSE2)
	add("sse41", cpu.X86.HasSSE41)
	add("avx", cpu.X86.HasAVX)
	add("avx2", cpu.X86.HasAVX2)
	add("fma", cpu.X86.HasFMA)
	add("avx512f", cpu.X86.HasAVX512F)
	add("asimd", cpu.ARM64.HasASIMD)
	add("sve", cpu.ARM64.HasSVE)
	return out
}

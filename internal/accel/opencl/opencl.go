//go:build opencl

package opencl

/*
#cgo CFLAGS: -DCL_TARGET_OPENCL_VERSION=120 -DCL_USE_DEPRECATED_OPENCL_1_2_APIS
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#cgo windows LDFLAGS: -lOpenCL

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>

static cl_int hsSetKernelArgs(cl_kernel k, cl_mem dst, cl_mem src, cl_uint lineSize, cl_uint lead) {
	cl_int err = CL_SUCCESS;
	err |= clSetKernelArg(k, 0, sizeof(cl_mem), &dst);
	err |= clSetKernelArg(k, 1, sizeof(cl_mem), &src);
	err |= clSetKernelArg(k, 2, sizeof(cl_uint), &lineSize);
	err |= clSetKernelArg(k, 3, sizeof(cl_uint), &lead);
	return err;
}

static cl_int hsEnqueue2D(cl_command_queue q, cl_kernel k, size_t gx, size_t gy) {
	size_t global[2];
	global[0] = gx;
	global[1] = gy;
	return clEnqueueNDRangeKernel(q, k, 2, NULL, global, NULL, 0, NULL, NULL);
}

static cl_context hsCreateContext(cl_device_id dev, cl_int *err) {
	return clCreateContext(NULL, 1, &dev, NULL, NULL, err);
}

static cl_program hsCreateProgram(cl_context ctx, const char *src, cl_int *err) {
	return clCreateProgramWithSource(ctx, 1, &src, NULL, err);
}

static cl_int hsBuildProgram(cl_program p, cl_device_id dev) {
	return clBuildProgram(p, 1, &dev, NULL, NULL, NULL);
}
*/
import "C"

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/grid"
)

const (
	maxPlatforms = 8
	maxDevices   = 16
	infoSize     = 1024
)

func init() {
	accel.Register(&Backend{})
}

// Backend enumerates OpenCL platforms and devices.
type Backend struct{}

func (b *Backend) Name() string { return accel.OpenCL }

type handle struct {
	platform C.cl_platform_id
	device   C.cl_device_id
}

func (b *Backend) enumerate() ([]accel.DeviceInfo, []handle, error) {
	var (
		platforms [maxPlatforms]C.cl_platform_id
		nPlat     C.cl_uint
	)
	if err := accel.Status("get platform IDs", int(C.clGetPlatformIDs(maxPlatforms, &platforms[0], &nPlat))); err != nil {
		return nil, nil, err
	}

	var (
		infos   []accel.DeviceInfo
		handles []handle
	)
	for p := 0; p < int(min(nPlat, maxPlatforms)); p++ {
		pname, err := platformInfo(platforms[p], C.CL_PLATFORM_NAME)
		if err != nil {
			return nil, nil, err
		}
		pvendor, err := platformInfo(platforms[p], C.CL_PLATFORM_VENDOR)
		if err != nil {
			return nil, nil, err
		}

		var (
			devices [maxDevices]C.cl_device_id
			nDev    C.cl_uint
		)
		code := C.clGetDeviceIDs(platforms[p], C.CL_DEVICE_TYPE_ALL, maxDevices, &devices[0], &nDev)
		if code == C.CL_DEVICE_NOT_FOUND {
			continue
		}
		if err := accel.Status("get device IDs", int(code)); err != nil {
			return nil, nil, err
		}
		for d := 0; d < int(min(nDev, maxDevices)); d++ {
			info, err := describe(devices[d])
			if err != nil {
				return nil, nil, err
			}
			info.Platform = pname
			if info.Vendor == "" {
				info.Vendor = pvendor
			} else if !strings.Contains(info.Vendor, pvendor) {
				info.Vendor = pvendor + " / " + info.Vendor
			}
			info.Index = len(infos)
			infos = append(infos, info)
			handles = append(handles, handle{platform: platforms[p], device: devices[d]})
		}
	}
	return infos, handles, nil
}

func (b *Backend) Devices() ([]accel.DeviceInfo, error) {
	infos, _, err := b.enumerate()
	return infos, err
}

// Open creates a context and an in-order queue on dev and builds the
// stencil program from src.
func (b *Backend) Open(dev accel.DeviceInfo, src accel.KernelSource) (accel.Context, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	infos, handles, err := b.enumerate()
	if err != nil {
		return nil, err
	}
	if dev.Index < 0 || dev.Index >= len(infos) || infos[dev.Index].Name != dev.Name {
		return nil, fmt.Errorf("opencl: device %q: %w", dev.Name, accel.ErrNoDevice)
	}
	h := handles[dev.Index]

	c := &Context{info: infos[dev.Index], device: h.device}
	var code C.cl_int
	c.ctx = C.hsCreateContext(h.device, &code)
	if err := accel.Status("create compute context", int(code)); err != nil {
		return nil, err
	}
	c.queue = C.clCreateCommandQueue(c.ctx, h.device, 0, &code)
	if err := accel.Status("create command queue", int(code)); err != nil {
		_ = c.Close()
		return nil, err
	}

	csrc := C.CString(src.Text)
	defer C.free(unsafe.Pointer(csrc))
	c.program = C.hsCreateProgram(c.ctx, csrc, &code)
	if err := accel.Status("create program", int(code)); err != nil {
		_ = c.Close()
		return nil, err
	}
	if code := C.hsBuildProgram(c.program, h.device); code != C.CL_SUCCESS {
		log := buildLog(c.program, h.device)
		_ = c.Close()
		return nil, &accel.StatusError{Op: "build program: " + log, Code: int(code)}
	}

	entry := C.CString(accel.KernelEntry)
	defer C.free(unsafe.Pointer(entry))
	c.kernel = C.clCreateKernel(c.program, entry, &code)
	if err := accel.Status("create compute kernel", int(code)); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Context owns the OpenCL objects of one opened device. Kernel arguments
// are set per submission, so Submit is serialised.
type Context struct {
	info    accel.DeviceInfo
	device  C.cl_device_id
	ctx     C.cl_context
	queue   C.cl_command_queue
	program C.cl_program
	kernel  C.cl_kernel

	mu sync.Mutex
}

func (c *Context) Device() accel.DeviceInfo { return c.info }

func (c *Context) NewBuffer(elems int) (accel.Buffer, error) {
	var code C.cl_int
	size := C.size_t(elems * grid.ElemSize)
	mem := C.clCreateBuffer(c.ctx, C.CL_MEM_READ_WRITE, size, nil, &code)
	if err := accel.Status("allocate device memory", int(code)); err != nil {
		return nil, err
	}
	return &Buffer{ctx: c, mem: mem, n: elems}, nil
}

func (c *Context) Submit(job accel.Job) (accel.Pending, error) {
	if err := accel.CheckJob(job); err != nil {
		return nil, err
	}
	dst, okDst := job.Dst.(*Buffer)
	src, okSrc := job.Src.(*Buffer)
	if !okDst || !okSrc {
		return nil, fmt.Errorf("opencl: %w: foreign buffer", accel.ErrBadJob)
	}
	l := job.Layout

	c.mu.Lock()
	defer c.mu.Unlock()
	code := C.hsSetKernelArgs(c.kernel, dst.mem, src.mem, C.cl_uint(job.Stride()), C.cl_uint(grid.Lead))
	if err := accel.Status("set kernel arguments", int(code)); err != nil {
		return nil, err
	}
	code = C.hsEnqueue2D(c.queue, c.kernel, C.size_t(l.XDim), C.size_t(l.YDim))
	if err := accel.Status("execute kernel", int(code)); err != nil {
		return nil, err
	}
	if code := C.clFlush(c.queue); code != C.CL_SUCCESS {
		return nil, accel.Status("flush queue", int(code))
	}
	return &pending{queue: c.queue}, nil
}

func (c *Context) Close() error {
	if c.kernel != nil {
		C.clReleaseKernel(c.kernel)
		c.kernel = nil
	}
	if c.program != nil {
		C.clReleaseProgram(c.program)
		c.program = nil
	}
	if c.queue != nil {
		C.clReleaseCommandQueue(c.queue)
		c.queue = nil
	}
	if c.ctx != nil {
		C.clReleaseContext(c.ctx)
		c.ctx = nil
	}
	return nil
}

type pending struct {
	queue C.cl_command_queue
}

// Wait drains the queue. The queue is in-order, so every command submitted
// before the job has completed too.
func (p *pending) Wait() error {
	return accel.Status("finish queue", int(C.clFinish(p.queue)))
}

// Buffer is an OpenCL memory object.
type Buffer struct {
	ctx *Context
	mem C.cl_mem
	n   int
}

func (b *Buffer) Len() int { return b.n }

func (b *Buffer) Write(offset int, src []float32) error {
	if b.mem == nil {
		return accel.ErrClosed
	}
	if err := accel.CheckRange(offset, len(src), b.n); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	code := C.clEnqueueWriteBuffer(b.ctx.queue, b.mem, C.CL_TRUE,
		C.size_t(offset*grid.ElemSize), C.size_t(len(src)*grid.ElemSize),
		unsafe.Pointer(&src[0]), 0, nil, nil)
	return accel.Status("transfer to device", int(code))
}

func (b *Buffer) Read(offset int, dst []float32) error {
	if b.mem == nil {
		return accel.ErrClosed
	}
	if err := accel.CheckRange(offset, len(dst), b.n); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	code := C.clEnqueueReadBuffer(b.ctx.queue, b.mem, C.CL_TRUE,
		C.size_t(offset*grid.ElemSize), C.size_t(len(dst)*grid.ElemSize),
		unsafe.Pointer(&dst[0]), 0, nil, nil)
	return accel.Status("read matrix", int(code))
}

func (b *Buffer) Close() error {
	if b.mem != nil {
		C.clReleaseMemObject(b.mem)
		b.mem = nil
	}
	return nil
}

func platformInfo(p C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var buf [infoSize]C.char
	code := C.clGetPlatformInfo(p, param, infoSize, unsafe.Pointer(&buf[0]), nil)
	if err := accel.Status("get platform info", int(code)); err != nil {
		return "", err
	}
	return C.GoString(&buf[0]), nil
}

func describe(d C.cl_device_id) (accel.DeviceInfo, error) {
	var buf [infoSize]C.char
	info := accel.DeviceInfo{Backend: accel.OpenCL}

	code := C.clGetDeviceInfo(d, C.CL_DEVICE_NAME, infoSize, unsafe.Pointer(&buf[0]), nil)
	if err := accel.Status("get device name", int(code)); err != nil {
		return info, err
	}
	info.Name = strings.TrimSpace(C.GoString(&buf[0]))

	code = C.clGetDeviceInfo(d, C.CL_DEVICE_VENDOR, infoSize, unsafe.Pointer(&buf[0]), nil)
	if err := accel.Status("get device vendor", int(code)); err != nil {
		return info, err
	}
	info.Vendor = strings.TrimSpace(C.GoString(&buf[0]))

	var typ C.cl_device_type
	code = C.clGetDeviceInfo(d, C.CL_DEVICE_TYPE, C.size_t(unsafe.Sizeof(typ)), unsafe.Pointer(&typ), nil)
	if err := accel.Status("get device type", int(code)); err != nil {
		return info, err
	}
	switch {
	case typ&C.CL_DEVICE_TYPE_GPU != 0:
		info.Type = accel.DeviceTypeGPU
	case typ&C.CL_DEVICE_TYPE_CPU != 0:
		info.Type = accel.DeviceTypeCPU
	case typ&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		info.Type = accel.DeviceTypeAccelerator
	default:
		info.Type = accel.DeviceTypeUnknown
	}

	var units C.cl_uint
	code = C.clGetDeviceInfo(d, C.CL_DEVICE_MAX_COMPUTE_UNITS, C.size_t(unsafe.Sizeof(units)), unsafe.Pointer(&units), nil)
	if err := accel.Status("get compute units", int(code)); err != nil {
		return info, err
	}
	info.ComputeUnits = int(units)
	return info, nil
}

func buildLog(p C.cl_program, d C.cl_device_id) string {
	var size C.size_t
	if C.clGetProgramBuildInfo(p, d, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return "no build log"
	}
	buf := C.malloc(size)
	defer C.free(buf)
	if C.clGetProgramBuildInfo(p, d, C.CL_PROGRAM_BUILD_LOG, size, buf, nil) != C.CL_SUCCESS {
		return "no build log"
	}
	return strings.TrimSpace(C.GoString((*C.char)(buf)))
}

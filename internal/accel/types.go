package accel

import (
	"strings"

	"github.com/samcharles93/hybridstencil/internal/grid"
)

// DeviceType describes the class of a compute device.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "GPU"
	DeviceTypeCPU         DeviceType = "CPU"
	DeviceTypeAccelerator DeviceType = "Accelerator"
	DeviceTypeUnknown     DeviceType = "Unknown"
)

// ParseDeviceType maps a flag value to a DeviceType. "all" and the empty
// string return ok with an empty type, meaning no restriction.
func ParseDeviceType(s string) (DeviceType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return "", true
	case "gpu":
		return DeviceTypeGPU, true
	case "cpu":
		return DeviceTypeCPU, true
	case "accelerator", "acc":
		return DeviceTypeAccelerator, true
	default:
		return "", false
	}
}

// DeviceInfo describes one device exposed by a backend.
type DeviceInfo struct {
	Backend      string     `json:"backend"`
	Platform     string     `json:"platform"`
	Vendor       string     `json:"vendor"`
	Name         string     `json:"name"`
	Type         DeviceType `json:"type"`
	ComputeUnits int        `json:"compute_units"`
	Features     []string   `json:"features,omitempty"`

	// Index is the backend specific position of the device.
	Index int `json:"index"`
}

// Backend enumerates devices and opens execution contexts on them.
type Backend interface {
	Name() string
	Devices() ([]DeviceInfo, error)
	Open(dev DeviceInfo, src KernelSource) (Context, error)
}

// Context is an open device with a compiled stencil kernel.
type Context interface {
	Device() DeviceInfo
	// NewBuffer allocates a device buffer of elems float32 values.
	NewBuffer(elems int) (Buffer, error)
	// Submit enqueues a stencil job and returns without waiting for it.
	Submit(job Job) (Pending, error)
	Close() error
}

// Buffer is memory in the device's domain. Read and Write block until the
// transfer is complete.
type Buffer interface {
	Len() int
	Write(offset int, src []float32) error
	Read(offset int, dst []float32) error
	Close() error
}

// Job is one stencil step over a partition. Both buffers hold Layout's full
// buffer: the partition rows plus one halo row on each side. The kernel
// writes every logical cell of Layout in Dst and reads only Src.
type Job struct {
	Dst    Buffer
	Src    Buffer
	Layout grid.Layout
}

// Stride is the row stride passed to the kernel.
func (j Job) Stride() int {
	return j.Layout.LineSize()
}

// Pending is the handle of a submitted job.
type Pending interface {
	// Wait blocks until the job has finished and reports its outcome.
	Wait() error
}

// Done is a Pending that has already completed.
type Done struct {
	Err error
}

func (d Done) Wait() error { return d.Err }

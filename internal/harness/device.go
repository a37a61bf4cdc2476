package harness

import (
	"fmt"

	"github.com/samcharles93/hybridstencil/internal/accel"
)

// DeviceOptions selects an accelerator device.
type DeviceOptions struct {
	Backend    string
	Vendor     string
	DeviceType accel.DeviceType
	KernelPath string

	// Kernel, when non-nil, is used instead of reading KernelPath.
	Kernel *accel.KernelSource
}

// ListDevices enumerates the devices of the named backend.
func ListDevices(backend string) (accel.Backend, []accel.DeviceInfo, error) {
	b, err := accel.Lookup(backend)
	if err != nil {
		return nil, nil, err
	}
	devs, err := b.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate %s devices: %w", b.Name(), err)
	}
	return b, devs, nil
}

// OpenDevice resolves the backend, picks a device (preferring the requested
// vendor among devices of the requested type), and compiles the kernel on
// it.
func OpenDevice(opts DeviceOptions) (accel.Context, error) {
	src, err := kernelSource(opts)
	if err != nil {
		return nil, err
	}
	b, devs, err := ListDevices(opts.Backend)
	if err != nil {
		return nil, err
	}
	dev, err := accel.Select(devs, accel.VendorContains(opts.Vendor), accel.OfType(opts.DeviceType))
	if err != nil {
		return nil, fmt.Errorf("select %s device: %w", b.Name(), err)
	}
	ctx, err := b.Open(dev, src)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dev.Name, err)
	}
	return ctx, nil
}

func kernelSource(opts DeviceOptions) (accel.KernelSource, error) {
	if opts.Kernel != nil {
		if err := opts.Kernel.Validate(); err != nil {
			return accel.KernelSource{}, err
		}
		return *opts.Kernel, nil
	}
	path := opts.KernelPath
	if path == "" {
		path = accel.DefaultKernelPath
	}
	return accel.LoadKernelSource(path)
}

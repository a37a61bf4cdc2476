package accel

import (
	"fmt"
	"os"
	"regexp"
)

// KernelEntry is the name of the stencil kernel function.
const KernelEntry = "stencil"

// DefaultKernelPath is where the kernel source is looked up, relative to the
// working directory.
const DefaultKernelPath = "kernels/stencil.cl"

var kernelDecl = regexp.MustCompile(`__kernel\s+void\s+` + KernelEntry + `\s*\(`)

// KernelSource is the program text of the accelerator kernel.
type KernelSource struct {
	Path string
	Text string
}

// LoadKernelSource reads the kernel program from path.
func LoadKernelSource(path string) (KernelSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KernelSource{}, fmt.Errorf("load kernel source: %w", err)
	}
	src := KernelSource{Path: path, Text: string(data)}
	if err := src.Validate(); err != nil {
		return KernelSource{}, err
	}
	return src, nil
}

// Validate checks that the source declares the stencil entry point.
func (s KernelSource) Validate() error {
	if !kernelDecl.MatchString(s.Text) {
		return fmt.Errorf("kernel source %q: no __kernel void %s(...) declaration", s.Path, KernelEntry)
	}
	return nil
}

// Package opencl is the OpenCL accelerator backend.
//
// It is compiled only with the opencl build tag and links against the
// platform's OpenCL ICD loader:
//
//	go build -tags opencl ./...
//
// Without the tag the package is empty and registers nothing, so the
// "opencl" backend name resolves to accel.ErrUnavailable.
package opencl

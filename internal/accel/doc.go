// Package accel describes the offload capability the iteration driver
// consumes: device discovery, device buffers, and asynchronous stencil jobs.
//
// Concrete backends live in sub-packages and register themselves with
// Register from an init function. The emulated backend is always present;
// the opencl backend is only compiled with the opencl build tag.
package accel

package accel

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

const (
	Emulated = "emulated"
	OpenCL   = "opencl"
	Auto     = "auto"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Backend{}
)

// Register makes b available under b.Name(). Registering a name twice
// replaces the earlier backend.
func Register(b Backend) {
	registryMu.Lock()
	registry[b.Name()] = b
	registryMu.Unlock()
}

// Names lists the registered backends in sorted order.
func Names() []string {
	registryMu.RLock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	registryMu.RUnlock()
	slices.Sort(names)
	return names
}

// Normalize canonicalises a backend name.
func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Emulated, OpenCL, Auto:
		return backend, nil
	}
	registryMu.RLock()
	_, ok := registry[backend]
	registryMu.RUnlock()
	if ok {
		return backend, nil
	}
	return "", fmt.Errorf("%w %q (expected auto, emulated, or opencl)", ErrUnknownBackend, backend)
}

// Lookup returns the backend registered under name. Auto resolves to
// opencl when it is registered and reports at least one device, otherwise
// to emulated.
func Lookup(name string) (Backend, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}

	registryMu.RLock()
	defer registryMu.RUnlock()

	if backend == Auto {
		if b, ok := registry[OpenCL]; ok {
			if devs, err := b.Devices(); err == nil && len(devs) > 0 {
				return b, nil
			}
		}
		backend = Emulated
	}
	b, ok := registry[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, backend)
	}
	return b, nil
}

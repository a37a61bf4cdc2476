package accel

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBackend is returned for backend names that are not registered.
	ErrUnknownBackend = errors.New("accel: unknown backend")

	// ErrUnavailable is returned when a backend is compiled out of the build.
	ErrUnavailable = errors.New("accel: backend not available in this build")

	// ErrNoDevice is returned when no device satisfies the selection filter.
	ErrNoDevice = errors.New("accel: no matching device")

	// ErrOutOfRange is returned for transfers outside a buffer.
	ErrOutOfRange = errors.New("accel: transfer out of range")

	// ErrClosed is returned when a closed buffer or context is used.
	ErrClosed = errors.New("accel: use of closed resource")

	// ErrBadJob is returned when a job's buffers do not fit its layout.
	ErrBadJob = errors.New("accel: job does not match buffers")
)

// StatusError reports a failed backend call together with the status code
// the platform returned.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("(%d) %s", e.Code, e.Op)
}

// Status returns a *StatusError for code, or nil when code is success.
func Status(op string, code int) error {
	if code == 0 {
		return nil
	}
	return &StatusError{Op: op, Code: code}
}

// CheckRange validates a transfer of n elements at offset into a buffer of
// length size.
func CheckRange(offset, n, size int) error {
	if offset < 0 || n < 0 || offset+n > size {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, offset, offset+n, size)
	}
	return nil
}

// CheckJob validates that both buffers of j cover the job layout.
func CheckJob(j Job) error {
	if j.Dst == nil || j.Src == nil {
		return fmt.Errorf("%w: nil buffer", ErrBadJob)
	}
	want := j.Layout.TotalSize()
	if j.Dst.Len() < want || j.Src.Len() < want {
		return fmt.Errorf("%w: need %d elements, have dst=%d src=%d", ErrBadJob, want, j.Dst.Len(), j.Src.Len())
	}
	return nil
}

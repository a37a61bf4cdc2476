package api

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrQueueFull      = errors.New("run queue is full")
	ErrRunNotFound    = errors.New("run not found")
)

// RequestError rejects a submitted run. It matches ErrInvalidRequest as
// well as the underlying cause.
type RequestError struct {
	Field string
	Err   error
}

func (e *RequestError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() []error {
	return []error{ErrInvalidRequest, e.Err}
}

func badField(field string, format string, args ...any) error {
	return &RequestError{Field: field, Err: fmt.Errorf(format, args...)}
}

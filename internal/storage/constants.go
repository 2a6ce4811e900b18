package storage

import (
	"errors"
	"fmt"
)

// Storage errors
var (
	ErrNotFound           = errors.New("entry not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidKind        = errors.New("invalid entry kind")
	ErrEmptyContent       = errors.New("empty content")
)

// OpError tags an engine failure with the operation that hit it. It matches
// both ErrStorageUnavailable and the underlying error.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStorageUnavailable, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}

// Unavailable wraps err as an engine failure of op.
func Unavailable(op string, err error) error {
	return &OpError{Op: op, Err: err}
}

package memvec

import (
	"errors"
	"fmt"

	"memvec/index"
	"memvec/metadata"
)

// Common errors
var (
	ErrDimensionMismatch = index.ErrDimensionMismatch
	ErrDuplicateID       = metadata.ErrDuplicateID
	ErrNotFound          = errors.New("memvec: vector not found")
	ErrNoEmbedder        = errors.New("memvec: no embedder configured")
	ErrUnknownMemoryType = errors.New("memvec: unknown memory type")
	ErrNoDimension       = errors.New("memvec: dimension not configured")
	ErrNoPersistDir      = errors.New("memvec: persist directory not configured")
)

// Error wraps errors with operation context.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("memvec.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with operation context.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

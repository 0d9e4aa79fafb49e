// Package store holds the persistence error types shared by the order
// and position components; concrete stores live in subpackages.
package store

import (
	"errors"
	"fmt"
)

// ErrTransient marks a storage failure that left in-memory state untouched,
// so the caller may retry the same operation.
var ErrTransient = errors.New("transient storage failure")

// TransientError 包装一次失败的存储操作。
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransient) match any TransientError.
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// Transient wraps err; nil stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

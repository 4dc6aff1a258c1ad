package storage

import (
	"errors"
	"fmt"
)

const (
	// Size thresholds
	MaxInlineStorageSize = 10 * 1024 * 1024  // 10MB - store in DB
	MaxStorageSize       = 100 * 1024 * 1024 // 100MB - max payload size
)

// Storage errors
var (
	ErrNotFound      = errors.New("not found")
	ErrTooLarge      = errors.New("payload size exceeds maximum allowed size")
	ErrRetentionFull = errors.New("retention bound reached and all entries are pinned")
)

// StorageError wraps an underlying medium failure. The operation that
// hit it is aborted; previously committed state is untouched.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

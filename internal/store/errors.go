package store

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested key is absent from the store.
var ErrNotFound = errors.New("not found")

// StorageError reports a local-store access failure, wrapping the
// underlying cause. Storage failures are surfaced immediately to the
// caller and are never auto-retried by the sync engine.
type StorageError struct {
	// Op is the store operation that failed (get, put, delete, ...).
	Op string
	// Store is the object store involved.
	Store string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s on %s: %v", e.Op, e.Store, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a storage error caused by an
// absent key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

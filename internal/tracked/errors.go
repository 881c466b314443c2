package tracked

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no entity exists for a key.
var ErrNotFound = errors.New("entity not found")

// StorageError reports a read or write failure of the underlying store.
// Callers must not assume a failed write is partially visible.
type StorageError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

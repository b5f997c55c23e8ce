package shardstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no active entry exists for a headword.
	ErrNotFound = errors.New("entry not found")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("shard store is closed")

	// ErrLeaseHeld is returned when another holder owns an unexpired lease
	// for the headword. Callers back off and retry the whole candidate later.
	ErrLeaseHeld = errors.New("lease already held")

	// ErrLeaseInvalid is returned when a commit is attempted with a lease
	// that has expired or was already released.
	ErrLeaseInvalid = errors.New("lease expired or released")

	// ErrSnapshotNotFound is returned when no manifest exists for a snapshot id.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// StorageError indicates an I/O failure on the append or read path. It is
// fatal for the current attempt and must be surfaced to the operator.
//
// The original underlying error can be accessed via errors.Unwrap.
type StorageError struct {
	Op    string
	Path  string
	cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.cause)
}

func (e *StorageError) Unwrap() error { return e.cause }

func storageErr(op, path string, cause error) error {
	return &StorageError{Op: op, Path: path, cause: cause}
}

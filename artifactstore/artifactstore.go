// Package artifactstore abstracts where published build artifacts live:
// a local directory, an in-memory map for tests, or an object store.
//
// Artifacts are immutable once published; Put with an existing name
// overwrites, which only happens when republishing the same build.
package artifactstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when an artifact does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
// The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for publishing and retrieving build artifacts.
// Artifacts are consumed whole, so the interface is streaming rather than
// random-access.
type Store interface {
	// Put publishes the artifact under name, reading r to completion.
	Put(ctx context.Context, name string, r io.Reader) error

	// Open opens a published artifact for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a published artifact. Deleting a missing artifact is
	// not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of artifacts under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

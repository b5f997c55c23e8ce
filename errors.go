package lexicore

import (
	"errors"
	"fmt"

	"github.com/opendict/lexicore/correction"
	"github.com/opendict/lexicore/generate"
	"github.com/opendict/lexicore/shardstore"
)

var (
	// ErrNotFound is returned when a headword has no committed entry.
	ErrNotFound = errors.New("headword not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("lexicore is closed")

	// ErrBusy is returned when another worker holds the commit lease for a
	// headword. The operation can be retried later.
	ErrBusy = errors.New("headword is busy")

	// ErrNoTask is returned when the correction queue is empty.
	ErrNoTask = errors.New("no correction task")
)

// ErrGenerationFailed indicates the generation service could not produce a
// usable draft for a headword.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrGenerationFailed struct {
	Headword string
	cause    error
}

func (e *ErrGenerationFailed) Error() string {
	return fmt.Sprintf("generation failed for %q", e.Headword)
}

func (e *ErrGenerationFailed) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, shardstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, shardstore.ErrSnapshotNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, correction.ErrTaskNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, shardstore.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, shardstore.ErrLeaseHeld) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	if errors.Is(err, correction.ErrNoTask) {
		return fmt.Errorf("%w: %w", ErrNoTask, err)
	}

	var ge *generate.Error
	if errors.As(err, &ge) {
		return &ErrGenerationFailed{Headword: ge.Headword, cause: err}
	}

	return err
}

package correction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/generate"
	"github.com/opendict/lexicore/headword"
	"github.com/opendict/lexicore/hwindex"
	"github.com/opendict/lexicore/shardstore"
)

// Workflow drives claimed correction tasks through regeneration. The corrected
// entry goes through the same lease-guarded append path as ingestion, so a
// correction is just the next version of the headword.
type Workflow struct {
	tasks  *TaskStore
	store  *shardstore.Store
	index  *hwindex.Index
	gen    *generate.Generator
	logger *slog.Logger
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) WorkflowOption {
	return func(w *Workflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorkflow wires the correction loop together.
func NewWorkflow(tasks *TaskStore, store *shardstore.Store, index *hwindex.Index, gen *generate.Generator, optFns ...WorkflowOption) *Workflow {
	w := &Workflow{
		tasks:  tasks,
		store:  store,
		index:  index,
		gen:    gen,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(w)
		}
	}
	return w
}

// ProcessNext claims and processes one task. Returns ErrNoTask when the queue
// is empty. A transient failure releases the task for a later attempt; a
// permanent one (unknown headword, invalid regenerated draft) rejects it.
func (w *Workflow) ProcessNext(ctx context.Context, workerID string) (*Task, error) {
	task, err := w.tasks.Claim(ctx, workerID)
	if err != nil {
		return nil, err
	}

	if err := w.process(ctx, workerID, task); err != nil {
		return task, err
	}
	return task, nil
}

func (w *Workflow) process(ctx context.Context, workerID string, task *Task) error {
	prior, err := w.store.ReadActive(task.Headword)
	if errors.Is(err, shardstore.ErrNotFound) {
		w.logger.Warn("correction task for unknown headword", "task", task.ID, "headword", task.Headword)
		return w.tasks.Reject(ctx, task.ID, workerID, "no committed entry for headword")
	}
	if err != nil {
		w.release(ctx, workerID, task)
		return err
	}

	res, err := w.gen.Generate(ctx, generate.Request{
		Headword:       task.Headword,
		Kind:           prior.Kind,
		CorrectionNote: task.Problem,
		Prior:          prior,
	})
	if err != nil {
		var ge *generate.Error
		if errors.As(err, &ge) && !ge.Retryable() {
			w.logger.Warn("regeneration rejected", "task", task.ID, "headword", task.Headword, "error", err)
			return w.tasks.Reject(ctx, task.ID, workerID,
				fmt.Sprintf("regeneration failed: %v", err))
		}
		w.release(ctx, workerID, task)
		return err
	}

	lease, err := w.store.AcquireLease(task.Headword)
	if err != nil {
		// Another worker is committing this headword right now; retry later.
		w.release(ctx, workerID, task)
		return err
	}
	defer w.store.ReleaseLease(lease)

	// Re-read under the lease: the head may have moved since the claim, and
	// the correction must chain onto whatever is canonical now.
	head, err := w.store.ReadActive(task.Headword)
	if err != nil {
		w.release(ctx, workerID, task)
		return err
	}

	draft := res.Draft
	draft.Provenance = append(append([]entry.Provenance(nil), head.Provenance...),
		entry.Provenance{
			SourceID:     "correction:" + task.Reporter,
			ModelVersion: res.ModelVersion,
			FetchedAt:    task.CreatedAt,
		})

	committed, err := w.store.Append(ctx, lease, draft)
	if err != nil {
		w.release(ctx, workerID, task)
		return err
	}
	w.index.Upsert(committed.Headword, hwindex.Location{
		Shard:   headword.ShardID(committed.Headword, w.store.NumShards()),
		Version: committed.Version,
		Status:  committed.Status,
	})

	w.logger.Info("correction applied",
		"task", task.ID,
		"headword", committed.Headword,
		"version", committed.Version,
	)
	return w.tasks.Resolve(ctx, task.ID, workerID,
		fmt.Sprintf("superseded by version %d", committed.Version))
}

// release is best-effort: if it fails the claim TTL reclaims the task anyway.
func (w *Workflow) release(ctx context.Context, workerID string, task *Task) {
	if err := w.tasks.Release(ctx, task.ID, workerID); err != nil {
		w.logger.Debug("task release failed", "task", task.ID, "error", err)
	}
}

package correction

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/generate"
	"github.com/opendict/lexicore/hwindex"
	"github.com/opendict/lexicore/shardstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTaskStore(t *testing.T, optFns ...TaskStoreOption) *TaskStore {
	t.Helper()
	ts, err := OpenTaskStore(filepath.Join(t.TempDir(), "tasks.db"), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { ts.Close() })
	return ts
}

func TestFileAndClaim(t *testing.T) {
	ts := newTaskStore(t)
	ctx := context.Background()

	filed, err := ts.File(ctx, "Ptarmigan", "definition cites the wrong genus", "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, "ptarmigan", filed.Headword)
	assert.Equal(t, StatusOpen, filed.Status)

	claimed, err := ts.Claim(ctx, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, filed.ID, claimed.ID)
	assert.Equal(t, StatusInProgress, claimed.Status)
	assert.Equal(t, "worker-a", claimed.ClaimedBy)

	_, err = ts.Claim(ctx, "worker-b")
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestFileDeduplicatesPendingHeadword(t *testing.T) {
	ts := newTaskStore(t)
	ctx := context.Background()

	first, err := ts.File(ctx, "ptarmigan", "problem one", "reviewer-1")
	require.NoError(t, err)
	second, err := ts.File(ctx, "ptarmigan", "problem two", "reviewer-2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "problem one", second.Problem)

	// Once resolved, a new task for the same headword is allowed.
	claimed, err := ts.Claim(ctx, "w")
	require.NoError(t, err)
	require.NoError(t, ts.Resolve(ctx, claimed.ID, "w", "done"))

	third, err := ts.File(ctx, "ptarmigan", "problem three", "reviewer-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestClaimReclaimsStaleClaim(t *testing.T) {
	ts := newTaskStore(t, WithClaimTTL(time.Millisecond))
	ctx := context.Background()

	_, err := ts.File(ctx, "ptarmigan", "p", "r")
	require.NoError(t, err)
	_, err = ts.Claim(ctx, "crashed-worker")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	reclaimed, err := ts.Claim(ctx, "worker-b")
	require.NoError(t, err)
	assert.Equal(t, "worker-b", reclaimed.ClaimedBy)
}

func TestTransitionsRequireClaimant(t *testing.T) {
	ts := newTaskStore(t)
	ctx := context.Background()

	_, err := ts.File(ctx, "ptarmigan", "p", "r")
	require.NoError(t, err)
	claimed, err := ts.Claim(ctx, "worker-a")
	require.NoError(t, err)

	assert.ErrorIs(t, ts.Resolve(ctx, claimed.ID, "worker-b", "x"), ErrNotClaimant)
	assert.ErrorIs(t, ts.Reject(ctx, 9999, "worker-a", "x"), ErrTaskNotFound)

	require.NoError(t, ts.Release(ctx, claimed.ID, "worker-a"))
	got, err := ts.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestListByStatus(t *testing.T) {
	ts := newTaskStore(t)
	ctx := context.Background()

	_, err := ts.File(ctx, "alpha", "p", "r")
	require.NoError(t, err)
	_, err = ts.File(ctx, "beta", "p", "r")
	require.NoError(t, err)

	open, err := ts.List(ctx, StatusOpen, 10)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	all, err := ts.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// correctionService regenerates with a fixed improved definition, or fails
// permanently for headwords in reject.
type correctionService struct {
	reject map[string]bool
}

func (s *correctionService) Generate(_ context.Context, req generate.Request) (*generate.Response, error) {
	if s.reject[req.Headword] {
		return nil, &generate.Error{Kind: generate.KindSchemaInvalid, Headword: req.Headword}
	}
	return &generate.Response{
		Draft: &entry.Draft{
			Headword: req.Headword,
			Kind:     req.Kind,
			Senses:   []entry.Sense{{Definition: "corrected: " + req.CorrectionNote}},
		},
		ModelVersion: "gen-test-2",
	}, nil
}

func newWorkflow(t *testing.T, svc generate.Service) (*Workflow, *TaskStore, *shardstore.Store) {
	t.Helper()

	store, err := shardstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ts := newTaskStore(t)
	index := hwindex.New(store.NumShards())
	gen := generate.New(svc, generate.WithRateLimit(rate.Inf, 1))
	return NewWorkflow(ts, store, index, gen), ts, store
}

func seedEntry(t *testing.T, store *shardstore.Store, hw string) *entry.Entry {
	t.Helper()
	lease, err := store.AcquireLease(hw)
	require.NoError(t, err)
	defer store.ReleaseLease(lease)

	e, err := store.Append(context.Background(), lease, &entry.Draft{
		Headword: hw,
		Kind:     entry.KindWord,
		Senses:   []entry.Sense{{Definition: "original definition"}},
		Provenance: []entry.Provenance{{
			SourceID: "crawl-1", FetchedAt: time.Now().UTC(),
		}},
	})
	require.NoError(t, err)
	return e
}

func TestWorkflowAppliesCorrection(t *testing.T) {
	svc := &correctionService{}
	w, ts, store := newWorkflow(t, svc)
	ctx := context.Background()

	seedEntry(t, store, "ptarmigan")
	filed, err := ts.File(ctx, "ptarmigan", "wrong genus", "reviewer-1")
	require.NoError(t, err)

	task, err := w.ProcessNext(ctx, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, filed.ID, task.ID)

	got, err := ts.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Contains(t, got.Reason, "version 2")

	// The correction is the new head; the old version survives in history.
	head, err := store.ReadActive("ptarmigan")
	require.NoError(t, err)
	assert.Equal(t, 2, head.Version)
	assert.Contains(t, head.Senses[0].Definition, "wrong genus")

	hist, err := store.ReadHistory("ptarmigan")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, entry.StatusSuperseded, hist[0].Status)

	// Prior provenance is carried forward plus the correction marker.
	require.Len(t, head.Provenance, 2)
	assert.Equal(t, "crawl-1", head.Provenance[0].SourceID)
	assert.Equal(t, "correction:reviewer-1", head.Provenance[1].SourceID)
}

func TestWorkflowRejectsUnknownHeadword(t *testing.T) {
	svc := &correctionService{}
	w, ts, _ := newWorkflow(t, svc)
	ctx := context.Background()

	filed, err := ts.File(ctx, "nonexistent", "p", "r")
	require.NoError(t, err)

	_, err = w.ProcessNext(ctx, "worker-a")
	require.NoError(t, err)

	got, err := ts.Get(ctx, filed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
}

func TestWorkflowRejectsOnPermanentGenerationFailure(t *testing.T) {
	svc := &correctionService{reject: map[string]bool{"ptarmigan": true}}
	w, ts, store := newWorkflow(t, svc)
	ctx := context.Background()

	seedEntry(t, store, "ptarmigan")
	filed, err := ts.File(ctx, "ptarmigan", "p", "r")
	require.NoError(t, err)

	_, err = w.ProcessNext(ctx, "worker-a")
	require.NoError(t, err)

	got, err := ts.Get(ctx, filed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)

	// The entry is untouched.
	head, err := store.ReadActive("ptarmigan")
	require.NoError(t, err)
	assert.Equal(t, 1, head.Version)
}

func TestWorkflowEmptyQueue(t *testing.T) {
	w, _, _ := newWorkflow(t, &correctionService{})
	_, err := w.ProcessNext(context.Background(), "worker-a")
	assert.ErrorIs(t, err, ErrNoTask)
}

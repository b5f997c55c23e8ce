package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/extract"
	"github.com/opendict/lexicore/generate"
	"github.com/opendict/lexicore/hwindex"
	"github.com/opendict/lexicore/shardstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeService answers every request with a minimal valid draft, except for
// headwords listed in fail.
type fakeService struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newFakeService() *fakeService {
	return &fakeService{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (f *fakeService) Generate(_ context.Context, req generate.Request) (*generate.Response, error) {
	f.mu.Lock()
	f.calls[req.Headword]++
	failing := f.fail[req.Headword]
	f.mu.Unlock()

	if failing {
		return nil, &generate.Error{Kind: generate.KindSchemaInvalid, Headword: req.Headword}
	}
	return &generate.Response{
		Draft: &entry.Draft{
			Headword: req.Headword,
			Kind:     req.Kind,
			Senses:   []entry.Sense{{Definition: "definition of " + req.Headword}},
		},
		ModelVersion: "gen-test-1",
	}, nil
}

func (f *fakeService) callCount(hw string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[hw]
}

func newTestCoordinator(t *testing.T, svc generate.Service) (*Coordinator, *shardstore.Store, *hwindex.Index) {
	t.Helper()

	store, err := shardstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index := hwindex.New(store.NumShards())
	gen := generate.New(svc, generate.WithRateLimit(rate.Inf, 1))
	extractor, err := extract.New()
	require.NoError(t, err)

	return NewCoordinator(store, index, gen, extractor, WithWorkers(4)), store, index
}

func doc(text string) Document {
	return Document{
		RawText:   text,
		SourceID:  "crawl-7",
		URL:       "https://example.com/a",
		FetchedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestIngestBatchCommitsNewHeadwords(t *testing.T) {
	svc := newFakeService()
	c, store, index := newTestCoordinator(t, svc)

	report, err := c.IngestBatch(context.Background(), []Document{doc("Ptarmigans burrow under snowdrifts.")})
	require.NoError(t, err)

	assert.Equal(t, report.Candidates, report.Committed)
	assert.Zero(t, report.Failed)

	e, err := store.ReadActive("ptarmigans")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Version)
	require.NotEmpty(t, e.Provenance)
	assert.Equal(t, "crawl-7", e.Provenance[0].SourceID)
	assert.Equal(t, "gen-test-1", e.Provenance[0].ModelVersion)

	_, ok := index.Lookup("ptarmigans")
	assert.True(t, ok)
}

func TestIngestBatchDedupAcrossDocuments(t *testing.T) {
	svc := newFakeService()
	c, _, _ := newTestCoordinator(t, svc)

	report, err := c.IngestBatch(context.Background(), []Document{
		doc("ptarmigan sightings increased"),
		doc("another ptarmigan appeared"),
	})
	require.NoError(t, err)

	// Cross-document occurrences merge before commit: one generation call.
	assert.Equal(t, 1, svc.callCount("ptarmigan"))

	var total int
	for _, hw := range []string{"ptarmigan", "sightings", "increased", "another", "appeared"} {
		total += svc.callCount(hw)
	}
	assert.Equal(t, report.Committed, total)
}

func TestIngestBatchSecondRunIsAllDedup(t *testing.T) {
	svc := newFakeService()
	c, store, _ := newTestCoordinator(t, svc)

	_, err := c.IngestBatch(context.Background(), []Document{doc("ptarmigan burrow")})
	require.NoError(t, err)

	report, err := c.IngestBatch(context.Background(), []Document{doc("ptarmigan burrow")})
	require.NoError(t, err)
	assert.Zero(t, report.Committed)
	assert.Equal(t, report.Candidates, report.DedupHits)
	assert.Equal(t, 1, svc.callCount("ptarmigan"))

	// No new version, but the second sighting is recorded.
	e, err := store.ReadActive("ptarmigan")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Version)
	assert.Len(t, e.Provenance, 2)
}

func TestIngestBatchDedupViaStoreWhenIndexCold(t *testing.T) {
	svc := newFakeService()
	c, store, index := newTestCoordinator(t, svc)

	_, err := c.IngestBatch(context.Background(), []Document{doc("ptarmigan burrow")})
	require.NoError(t, err)

	// Simulate a restart that lost the index cache.
	cold := NewCoordinator(c.store, hwindex.New(store.NumShards()), c.gen, c.extractor)
	report, err := cold.IngestBatch(context.Background(), []Document{doc("ptarmigan burrow")})
	require.NoError(t, err)

	assert.Zero(t, report.Committed)
	assert.Equal(t, report.Candidates, report.DedupHits)
	assert.Equal(t, 1, svc.callCount("ptarmigan"))
	_ = index
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	svc := newFakeService()
	svc.fail["ptarmigan"] = true
	c, store, _ := newTestCoordinator(t, svc)

	report, err := c.IngestBatch(context.Background(), []Document{doc("ptarmigan burrow")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Committed)
	require.Contains(t, report.Failures, "ptarmigan")

	// The failed headword stays eligible: the store has nothing for it.
	_, err = store.ReadActive("ptarmigan")
	assert.ErrorIs(t, err, shardstore.ErrNotFound)
	_, err = store.ReadActive("burrow")
	assert.NoError(t, err)

	// A later run picks it up once the service recovers.
	svc.mu.Lock()
	svc.fail["ptarmigan"] = false
	svc.mu.Unlock()
	report, err = c.IngestBatch(context.Background(), []Document{doc("ptarmigan burrow")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Committed)
}

// flakyExtractor rejects payloads containing a marker and delegates the rest
// to a real extractor.
type flakyExtractor struct {
	real Extractor
}

func (f *flakyExtractor) Extract(raw string, src extract.SourceRef) ([]extract.Candidate, error) {
	if strings.Contains(raw, "mangled") {
		return nil, errors.New("undecodable payload")
	}
	return f.real.Extract(raw, src)
}

func TestIngestBatchIsolatesDocumentFailures(t *testing.T) {
	svc := newFakeService()
	c, store, _ := newTestCoordinator(t, svc)
	c.extractor = &flakyExtractor{real: c.extractor}

	bad := doc("mangled")
	bad.URL = "https://example.com/bad"
	report, err := c.IngestBatch(context.Background(), []Document{
		bad,
		doc("ptarmigan burrow"),
	})
	require.NoError(t, err)

	// The bad document is reported, not fatal.
	assert.Equal(t, 1, report.DocsFailed)
	require.Contains(t, report.DocFailures, "https://example.com/bad")

	// The healthy document's candidates still commit.
	assert.Equal(t, 2, report.Committed)
	_, err = store.ReadActive("ptarmigan")
	assert.NoError(t, err)
	_, err = store.ReadActive("burrow")
	assert.NoError(t, err)
}

func TestIngestBatchConcurrentSameHeadword(t *testing.T) {
	svc := newFakeService()
	c, store, _ := newTestCoordinator(t, svc)

	docs := make([]Document, 8)
	for i := range docs {
		docs[i] = doc("ptarmigan everywhere ptarmigan")
	}
	report, err := c.IngestBatch(context.Background(), docs)
	require.NoError(t, err)

	// Exactly one commit no matter how many documents carried the word.
	assert.Equal(t, 1, svc.callCount("ptarmigan"))
	e, err := store.ReadActive("ptarmigan")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Version)
	assert.Zero(t, report.Failed)
}

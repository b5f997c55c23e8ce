// Package ingest orchestrates the entry lifecycle pipeline: extraction,
// dedup, generation and commit.
//
// The coordinator is restartable and idempotent: no candidate is assumed to
// be consumed exactly once, and every commit decision is re-validated
// against durable state under the headword lease. Stopping an ingestion run
// at any point loses nothing but in-flight work.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/extract"
	"github.com/opendict/lexicore/generate"
	"github.com/opendict/lexicore/headword"
	"github.com/opendict/lexicore/hwindex"
	"github.com/opendict/lexicore/shardstore"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned when submitting to a closed worker pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Document is one crawl payload: raw text plus provenance. Deliveries are
// at-least-once; duplicates are tolerated and resolved by headword dedup.
type Document struct {
	RawText   string
	SourceID  string
	URL       string
	FetchedAt time.Time
}

// Outcome classifies what happened to one candidate.
type Outcome int

const (
	// OutcomeCommitted means a new entry version was appended.
	OutcomeCommitted Outcome = iota + 1
	// OutcomeDedup means an active entry already existed.
	OutcomeDedup
	// OutcomeLeaseBusy means another worker held the lease; the candidate
	// stays eligible for a later run.
	OutcomeLeaseBusy
	// OutcomeFailed means generation or commit failed for this run.
	OutcomeFailed
)

// Report summarizes one ingestion run. Failures are isolated at both
// granularities: a document whose extraction fails and a headword whose
// generation fails appear here, and neither aborts the batch.
type Report struct {
	Documents   int
	DocsFailed  int
	Candidates  int
	Committed   int
	DedupHits   int
	LeaseBusy   int
	Failed      int
	Failures    map[string]error // headword -> first error this run
	DocFailures map[string]error // document URL (or source id) -> extraction error
}

type options struct {
	workers          int
	logger           *slog.Logger
	attachProvenance bool
}

// Option configures a Coordinator.
type Option func(*options)

// WithWorkers sets the number of concurrent candidate workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithoutProvenanceAttach disables the best-effort provenance attach on
// dedup hits.
func WithoutProvenanceAttach() Option {
	return func(o *options) { o.attachProvenance = false }
}

// Extractor yields candidates for one document payload.
type Extractor interface {
	Extract(raw string, src extract.SourceRef) ([]extract.Candidate, error)
}

// Coordinator runs the per-candidate protocol against the shared store,
// index and generator. Multiple coordinators (one per crawl source) may run
// concurrently against the same store; the lease discipline keeps them safe.
type Coordinator struct {
	store     *shardstore.Store
	index     *hwindex.Index
	gen       *generate.Generator
	extractor Extractor
	opts      options
}

// NewCoordinator wires the pipeline stages together.
func NewCoordinator(
	store *shardstore.Store,
	index *hwindex.Index,
	gen *generate.Generator,
	extractor Extractor,
	optFns ...Option,
) *Coordinator {
	o := options{
		workers:          4,
		logger:           slog.New(slog.DiscardHandler),
		attachProvenance: true,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return &Coordinator{
		store:     store,
		index:     index,
		gen:       gen,
		extractor: extractor,
		opts:      o,
	}
}

// IngestBatch extracts candidates from all documents and runs each through
// the commit protocol on the worker pool. The returned report is complete
// even when individual candidates failed.
func (c *Coordinator) IngestBatch(ctx context.Context, docs []Document) (*Report, error) {
	report := &Report{
		Documents:   len(docs),
		Failures:    make(map[string]error),
		DocFailures: make(map[string]error),
	}

	candidates, err := c.extractAll(ctx, docs, report)
	if err != nil {
		return report, err
	}
	report.Candidates = len(candidates)

	type result struct {
		headword string
		outcome  Outcome
		err      error
	}
	results := make(chan result, len(candidates))

	pool := NewWorkerPool(c.opts.workers)
	for _, cand := range candidates {
		cand := cand
		if err := pool.Submit(ctx, func() {
			outcome, perr := c.processCandidate(ctx, cand)
			results <- result{headword: cand.Headword, outcome: outcome, err: perr}
		}); err != nil {
			results <- result{headword: cand.Headword, outcome: OutcomeFailed, err: err}
		}
	}
	pool.Close()
	close(results)

	for r := range results {
		switch r.outcome {
		case OutcomeCommitted:
			report.Committed++
		case OutcomeDedup:
			report.DedupHits++
		case OutcomeLeaseBusy:
			report.LeaseBusy++
		default:
			report.Failed++
			if _, ok := report.Failures[r.headword]; !ok && r.err != nil {
				report.Failures[r.headword] = r.err
			}
		}
	}

	c.opts.logger.Info("ingestion run finished",
		"documents", report.Documents,
		"docs_failed", report.DocsFailed,
		"candidates", report.Candidates,
		"committed", report.Committed,
		"dedup_hits", report.DedupHits,
		"lease_busy", report.LeaseBusy,
		"failed", report.Failed,
	)
	return report, nil
}

// extractAll runs extraction for every document in parallel and merges the
// per-document candidate lists, deduplicating across documents by headword
// (occurrences merge into the Sources list). A document whose extraction
// fails is recorded in the report and skipped; the rest of the batch
// proceeds. Only context cancellation aborts the whole batch.
func (c *Coordinator) extractAll(ctx context.Context, docs []Document, report *Report) ([]extract.Candidate, error) {
	perDoc := make([][]extract.Candidate, len(docs))
	extractErrs := make([]error, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.workers)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cands, err := c.extractor.Extract(doc.RawText, extract.SourceRef{
				SourceID:  doc.SourceID,
				URL:       doc.URL,
				FetchedAt: doc.FetchedAt,
			})
			if err != nil {
				extractErrs[i] = err
				return nil
			}
			perDoc[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, err := range extractErrs {
		if err == nil {
			continue
		}
		report.DocsFailed++
		key := docs[i].URL
		if key == "" {
			key = docs[i].SourceID
		}
		if _, ok := report.DocFailures[key]; !ok {
			report.DocFailures[key] = err
		}
		c.opts.logger.Warn("document extraction failed", "document", key, "error", err)
	}

	merged := make([]extract.Candidate, 0)
	byHeadword := make(map[string]int)
	for _, cands := range perDoc {
		for _, cand := range cands {
			if idx, ok := byHeadword[cand.Headword]; ok {
				merged[idx].Sources = append(merged[idx].Sources, cand.Sources...)
				continue
			}
			byHeadword[cand.Headword] = len(merged)
			merged = append(merged, cand)
		}
	}
	return merged, nil
}

// processCandidate executes the per-candidate protocol:
//
//  1. index lookup; hit -> dedup drop (best-effort provenance attach)
//  2. acquire the headword lease
//  3. re-check the store's active head under the lease (the index may lag)
//  4. generate, validate, append, update index
//
// Any failure past lease acquisition releases the lease without committing;
// the headword stays eligible for a future run.
func (c *Coordinator) processCandidate(ctx context.Context, cand extract.Candidate) (Outcome, error) {
	if _, ok := c.index.Lookup(cand.Headword); ok {
		c.attachOccurrence(cand)
		return OutcomeDedup, nil
	}

	lease, err := c.store.AcquireLease(cand.Headword)
	if err != nil {
		if errors.Is(err, shardstore.ErrLeaseHeld) {
			return OutcomeLeaseBusy, nil
		}
		return OutcomeFailed, err
	}
	defer c.store.ReleaseLease(lease)

	// Closes the index-staleness race: the store is the source of truth for
	// uniqueness decisions.
	if existing, err := c.store.ReadActive(cand.Headword); err == nil {
		c.index.Upsert(cand.Headword, c.location(existing))
		c.attachOccurrence(cand)
		return OutcomeDedup, nil
	} else if !errors.Is(err, shardstore.ErrNotFound) {
		return OutcomeFailed, err
	}

	res, err := c.gen.Generate(ctx, generate.Request{
		Headword: cand.Headword,
		Kind:     cand.Kind,
		Snippet:  cand.Snippet,
	})
	if err != nil {
		c.opts.logger.Warn("candidate abandoned",
			"headword", cand.Headword,
			"error", err,
		)
		return OutcomeFailed, err
	}

	draft := res.Draft
	for _, src := range cand.Sources {
		draft.Provenance = append(draft.Provenance, entry.Provenance{
			SourceID:     src.SourceID,
			URL:          src.URL,
			FetchedAt:    src.FetchedAt,
			ModelVersion: res.ModelVersion,
		})
	}

	committed, err := c.store.Append(ctx, lease, draft)
	if err != nil {
		return OutcomeFailed, err
	}
	c.index.Upsert(committed.Headword, c.location(committed))

	c.opts.logger.Debug("candidate committed",
		"headword", committed.Headword,
		"version", committed.Version,
	)
	return OutcomeCommitted, nil
}

// attachOccurrence records the new sighting on the existing entry.
// Best-effort: failures are logged and swallowed.
func (c *Coordinator) attachOccurrence(cand extract.Candidate) {
	if !c.opts.attachProvenance {
		return
	}
	for _, src := range cand.Sources {
		err := c.store.AttachProvenance(cand.Headword, entry.Provenance{
			SourceID:  src.SourceID,
			URL:       src.URL,
			FetchedAt: src.FetchedAt,
		})
		if err != nil {
			c.opts.logger.Debug("provenance attach skipped",
				"headword", cand.Headword,
				"error", err,
			)
			return
		}
	}
}

func (c *Coordinator) location(e *entry.Entry) hwindex.Location {
	return hwindex.Location{
		Shard:   headword.ShardID(e.Headword, c.store.NumShards()),
		Version: e.Version,
		Status:  e.Status,
	}
}

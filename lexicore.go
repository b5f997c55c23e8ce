package lexicore

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/opendict/lexicore/build"
	"github.com/opendict/lexicore/correction"
	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/extract"
	"github.com/opendict/lexicore/generate"
	"github.com/opendict/lexicore/headword"
	"github.com/opendict/lexicore/hwindex"
	"github.com/opendict/lexicore/ingest"
	"github.com/opendict/lexicore/shardstore"
)

// Lexicore is the corpus lifecycle engine: one durable dictionary corpus with
// ingestion, correction, snapshot and build operations on top of it.
//
// A Lexicore instance is safe for concurrent use. All commit operations are
// funneled through per-headword leases in the shard store, so concurrent
// ingestion runs and correction workers cannot produce duplicate or lost
// entries.
type Lexicore struct {
	dir     string
	store   *shardstore.Store
	index   *hwindex.Index
	gen     *generate.Generator
	tasks   *correction.TaskStore
	coord   *ingest.Coordinator
	builder *build.Engine
	flow    *correction.Workflow
	logger  *Logger
	metrics MetricsCollector
	closed  atomic.Bool
}

// Open opens (creating if necessary) the corpus rooted at dir, using svc for
// entry generation.
//
// Layout under dir: corpus/ holds the shard logs and manifests, index.ckpt
// caches the headword index, tasks.db is the correction queue and artifacts/
// receives builds.
func Open(dir string, svc generate.Service, optFns ...Option) (*Lexicore, error) {
	o := applyOptions(optFns)

	var storeOpts []shardstore.Option
	if o.NumShards > 0 {
		storeOpts = append(storeOpts, shardstore.WithNumShards(o.NumShards))
	}
	if o.LeaseTTL > 0 {
		storeOpts = append(storeOpts, shardstore.WithLeaseTTL(o.LeaseTTL))
	}
	storeOpts = append(storeOpts, shardstore.WithLogger(o.Logger.Logger))

	store, err := shardstore.Open(filepath.Join(dir, "corpus"), storeOpts...)
	if err != nil {
		return nil, translateError(err)
	}

	index := hwindex.New(store.NumShards())
	ckpt := filepath.Join(dir, "index.ckpt")
	if err := index.LoadCheckpoint(ckpt); err != nil {
		// Any checkpoint problem degrades to a full scan.
		o.Logger.Debug("index checkpoint unusable, rebuilding", "error", err)
		if err := index.RebuildFrom(store); err != nil {
			store.Close()
			return nil, translateError(err)
		}
	}

	genOpts := append([]generate.Option{generate.WithLogger(o.Logger.Logger)}, o.GeneratorOptions...)
	gen := generate.New(svc, genOpts...)

	extractor, err := extract.New(o.ExtractorOptions...)
	if err != nil {
		store.Close()
		return nil, err
	}

	tasks, err := correction.OpenTaskStore(filepath.Join(dir, "tasks.db"))
	if err != nil {
		store.Close()
		return nil, err
	}

	coordOpts := []ingest.Option{ingest.WithLogger(o.Logger.Logger)}
	if o.IngestWorkers > 0 {
		coordOpts = append(coordOpts, ingest.WithWorkers(o.IngestWorkers))
	}

	buildOpts := []build.Option{
		build.WithBookname(o.Bookname),
		build.WithLogger(o.Logger.Logger),
	}
	if o.ArtifactStore != nil {
		buildOpts = append(buildOpts, build.WithArtifactStore(o.ArtifactStore))
	}

	lx := &Lexicore{
		dir:     dir,
		store:   store,
		index:   index,
		gen:     gen,
		tasks:   tasks,
		coord:   ingest.NewCoordinator(store, index, gen, extractor, coordOpts...),
		builder: build.NewEngine(store, filepath.Join(dir, "artifacts"), buildOpts...),
		flow:    correction.NewWorkflow(tasks, store, index, gen, correction.WithLogger(o.Logger.Logger)),
		logger:  o.Logger,
		metrics: o.Metrics,
	}
	lx.logger.Info("lexicore opened", "dir", dir, "headwords", index.Len())
	return lx, nil
}

// Ingest runs one ingestion batch over the given documents.
func (lx *Lexicore) Ingest(ctx context.Context, docs []ingest.Document) (*ingest.Report, error) {
	if lx.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	report, err := lx.coord.IngestBatch(ctx, docs)
	lx.metrics.RecordIngest(len(docs), report.Committed, report.Failed, time.Since(start))
	if err != nil {
		return report, translateError(err)
	}
	lx.logger.LogIngest(report.Documents, report.Candidates, report.Committed, report.Failed, time.Since(start))
	return report, nil
}

// Lookup returns the canonical entry for a headword. The input is normalized
// before lookup, so "Kick the Bucket" and "kick the bucket" resolve the same.
func (lx *Lexicore) Lookup(hw string) (*entry.Entry, error) {
	if lx.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	e, err := lx.store.ReadActive(headword.Normalize(hw))
	lx.metrics.RecordLookup(time.Since(start), err)
	if err != nil {
		return nil, translateError(err)
	}
	return e, nil
}

// History returns every committed version of a headword, oldest first.
func (lx *Lexicore) History(hw string) ([]*entry.Entry, error) {
	if lx.closed.Load() {
		return nil, ErrClosed
	}
	hist, err := lx.store.ReadHistory(headword.Normalize(hw))
	if err != nil {
		return nil, translateError(err)
	}
	if len(hist) == 0 {
		return nil, ErrNotFound
	}
	return hist, nil
}

// FileCorrection records a correction request against a committed entry.
func (lx *Lexicore) FileCorrection(ctx context.Context, hw, problem, reporter string) (*correction.Task, error) {
	if lx.closed.Load() {
		return nil, ErrClosed
	}
	if _, err := lx.store.ReadActive(headword.Normalize(hw)); err != nil {
		return nil, translateError(err)
	}
	return lx.tasks.File(ctx, hw, problem, reporter)
}

// ProcessCorrections drains the correction queue, regenerating entries until
// no claimable task remains. Returns the number of tasks processed.
func (lx *Lexicore) ProcessCorrections(ctx context.Context, workerID string) (int, error) {
	if lx.closed.Load() {
		return 0, ErrClosed
	}

	n := 0
	for {
		start := time.Now()
		task, err := lx.flow.ProcessNext(ctx, workerID)
		if errors.Is(err, correction.ErrNoTask) {
			return n, nil
		}
		lx.metrics.RecordCorrection(time.Since(start), err)
		if task != nil {
			lx.logger.LogCorrection(task.ID, task.Headword, err)
		}
		if err != nil {
			return n, translateError(err)
		}
		n++
	}
}

// Tasks lists correction tasks in the given status ("" for all).
func (lx *Lexicore) Tasks(ctx context.Context, status string, limit int) ([]*correction.Task, error) {
	if lx.closed.Load() {
		return nil, ErrClosed
	}
	return lx.tasks.List(ctx, status, limit)
}

// Snapshot captures a consistent view of the corpus and returns its id.
func (lx *Lexicore) Snapshot() (string, error) {
	if lx.closed.Load() {
		return "", ErrClosed
	}
	id, err := lx.store.Snapshot()
	return id, translateError(err)
}

// ExportSnapshot streams a snapshot as a compressed archive, for offsite
// backups of the corpus.
func (lx *Lexicore) ExportSnapshot(id string, w io.Writer) error {
	if lx.closed.Load() {
		return ErrClosed
	}
	sn, err := lx.store.OpenSnapshot(id)
	if err != nil {
		return translateError(err)
	}
	return translateError(sn.ExportArchive(w))
}

// Build materializes one artifact from a snapshot.
func (lx *Lexicore) Build(ctx context.Context, kind build.Kind, snapshotID string) (*build.Artifact, error) {
	if lx.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	a, err := lx.builder.Build(ctx, kind, snapshotID)
	if err != nil {
		lx.metrics.RecordBuild(string(kind), 0, time.Since(start), err)
		lx.logger.LogBuild(string(kind), 0, "", time.Since(start), err)
		return nil, translateError(err)
	}
	lx.metrics.RecordBuild(string(kind), a.Entries, time.Since(start), nil)
	lx.logger.LogBuild(string(kind), a.Entries, a.Checksum, time.Since(start), nil)
	return a, nil
}

// Stats summarizes the corpus.
type Stats struct {
	Headwords int
	NumShards int
}

// Stats returns corpus-level counters.
func (lx *Lexicore) Stats() Stats {
	return Stats{
		Headwords: lx.index.Len(),
		NumShards: lx.store.NumShards(),
	}
}

// Close persists the index checkpoint and closes the corpus. Safe to call
// more than once.
func (lx *Lexicore) Close() error {
	if !lx.closed.CompareAndSwap(false, true) {
		return nil
	}

	// The checkpoint is a cache; failing to write it only costs the next
	// open a rebuild.
	if err := lx.index.SaveCheckpoint(filepath.Join(lx.dir, "index.ckpt")); err != nil {
		lx.logger.Warn("index checkpoint save failed", "error", err)
	}

	var firstErr error
	if err := lx.tasks.Close(); err != nil {
		firstErr = err
	}
	if err := lx.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	lx.logger.Info("lexicore closed", "dir", lx.dir)
	return firstErr
}

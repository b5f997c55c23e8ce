// Package shardstore implements the append-biased persistent store for
// dictionary entries.
//
// Entries are partitioned into shards by a stable hash of the normalized
// headword, so all versions of one headword live in the same shard and
// updates never need cross-shard coordination. Each shard is an append-only
// log; superseding a version means appending the next one. Commit-time
// decisions are guarded by per-headword leases with a bounded hold time.
package shardstore

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/headword"
)

const (
	// DefaultNumShards matches the expected ingestion parallelism. The count
	// is fixed at store creation because shard assignment is a pure function
	// of the headword.
	DefaultNumShards = 16

	// DefaultLeaseTTL bounds how long a crashed worker can block a headword.
	DefaultLeaseTTL = 30 * time.Second
)

type options struct {
	numShards int
	leaseTTL  time.Duration
	logger    *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithNumShards sets the shard count for a newly created store. Ignored when
// opening an existing store; the persisted count always wins.
func WithNumShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.numShards = n
		}
	}
}

// WithLeaseTTL sets the bounded hold time of commit leases.
func WithLeaseTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.leaseTTL = d
		}
	}
}

// WithLogger sets the structured logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Store is the sharded entry store. It exclusively owns entry data; the
// headword index is a rebuildable cache derived from it.
type Store struct {
	dir       string
	shards    []*shard
	leases    *leaseTable
	manifests *manifestStore
	logger    *slog.Logger
	closed    atomic.Bool
}

// Open opens the store rooted at dir, creating it if empty. Replays all
// shard logs, truncating any torn tails left by a crash mid-append.
func Open(dir string, optFns ...Option) (*Store, error) {
	o := options{
		numShards: DefaultNumShards,
		leaseTTL:  DefaultLeaseTTL,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	manifests := newManifestStore(dir)
	cur, err := manifests.loadCurrent()
	if err != nil {
		return nil, err
	}
	numShards := o.numShards
	if cur != nil && cur.NumShards > 0 {
		numShards = cur.NumShards
	}

	shards := make([]*shard, numShards)
	for i := range shards {
		sh, err := openShard(dir, i)
		if err != nil {
			for _, prev := range shards[:i] {
				prev.close()
			}
			return nil, err
		}
		shards[i] = sh
	}

	s := &Store{
		dir:       dir,
		shards:    shards,
		leases:    newLeaseTable(o.leaseTTL),
		manifests: manifests,
		logger:    o.logger,
	}
	s.logger.Info("shard store opened", "dir", dir, "shards", numShards)
	return s, nil
}

// NumShards returns the fixed shard count.
func (s *Store) NumShards() int { return len(s.shards) }

func (s *Store) shardFor(hw string) *shard {
	return s.shards[headword.ShardID(hw, len(s.shards))]
}

// AcquireLease claims the exclusive commit lease for a headword. Returns
// ErrLeaseHeld when another holder owns an unexpired lease; callers back off
// and retry the candidate in a later run.
func (s *Store) AcquireLease(hw string) (*Lease, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.leases.acquire(hw)
}

// ReleaseLease releases l. Safe to call on an expired lease.
func (s *Store) ReleaseLease(l *Lease) {
	if l != nil {
		s.leases.release(l)
	}
}

// Append commits draft as the next version of its headword, atomically
// superseding the prior head. The caller must hold the headword's lease.
//
// The record is fully written and synced before the head pointer switches,
// so a failed append leaves the prior active version intact.
func (s *Store) Append(ctx context.Context, l *Lease, d *entry.Draft) (*entry.Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l == nil || l.Headword != d.Headword {
		return nil, ErrLeaseInvalid
	}
	if err := s.leases.validate(l); err != nil {
		return nil, err
	}
	if err := entry.ValidateDraft(d); err != nil {
		return nil, err
	}

	sh := s.shardFor(d.Headword)

	version := 1
	if head := sh.head(d.Headword); head != nil {
		version = head.Version + 1
	}

	e := &entry.Entry{
		Headword:     d.Headword,
		SurfaceForms: append([]string(nil), d.SurfaceForms...),
		Kind:         d.Kind,
		Senses:       append([]entry.Sense(nil), d.Senses...),
		Provenance:   append([]entry.Provenance(nil), d.Provenance...),
		Version:      version,
		Status:       entry.StatusActive,
		CommittedAt:  time.Now().UTC(),
	}
	if err := sh.append(e); err != nil {
		s.logger.Error("append failed", "headword", d.Headword, "shard", sh.id, "error", err)
		return nil, err
	}

	s.logger.Debug("entry committed",
		"headword", e.Headword,
		"version", e.Version,
		"shard", sh.id,
	)
	return e.Clone(), nil
}

// Flag commits a flagged copy of the current head as the next version. A
// flagged head stays canonical (it still blocks duplicate ingestion) but the
// build engine excludes it from artifacts. The caller must hold the lease.
func (s *Store) Flag(ctx context.Context, l *Lease) (*entry.Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.leases.validate(l); err != nil {
		return nil, err
	}

	sh := s.shardFor(l.Headword)
	head := sh.head(l.Headword)
	if head == nil {
		return nil, ErrNotFound
	}

	e := head.Clone()
	e.Version = head.Version + 1
	e.Status = entry.StatusFlagged
	e.CommittedAt = time.Now().UTC()
	if err := sh.append(e); err != nil {
		return nil, err
	}
	s.logger.Info("entry flagged", "headword", e.Headword, "version", e.Version)
	return e.Clone(), nil
}

// ReadActive returns the current canonical entry for a headword, or
// ErrNotFound. The result is a private copy.
func (s *Store) ReadActive(hw string) (*entry.Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	e := s.shardFor(hw).head(hw)
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// ReadHistory returns every committed version of a headword in increasing
// version order. Nothing is ever deleted.
func (s *Store) ReadHistory(hw string) ([]*entry.Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.shardFor(hw).history(hw)
}

// AttachProvenance records an additional observed occurrence of an existing
// headword without creating a new version. Best-effort: callers on the
// ingestion path ignore the error.
func (s *Store) AttachProvenance(hw string, p entry.Provenance) error {
	if s.closed.Load() {
		return ErrClosed
	}
	sh := s.shardFor(hw)
	if sh.head(hw) == nil {
		return ErrNotFound
	}
	return sh.appendProvenance(hw, p)
}

// ForEachActive calls fn for the head entry of every headword, in no
// particular order. Used by the headword index rebuild.
func (s *Store) ForEachActive(fn func(*entry.Entry) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	for _, sh := range s.shards {
		sh.mu.Lock()
		heads := make([]*entry.Entry, 0, len(sh.heads))
		for _, e := range sh.heads {
			heads = append(heads, e.Clone())
		}
		sh.mu.Unlock()

		for _, e := range heads {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Snapshot captures a consistent, immutable view of all shards and returns
// its id. The snapshot pins the durable high-water mark of every shard log
// and provenance side-log; ingestion may continue appending past it freely.
func (s *Store) Snapshot() (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}

	m := &Manifest{
		SnapshotID: uuid.NewString(),
		NumShards:  len(s.shards),
		Shards:     make([]ShardInfo, len(s.shards)),
	}
	if cur, err := s.manifests.loadCurrent(); err != nil {
		return "", err
	} else if cur != nil {
		m.ID = cur.ID
	}
	for i, sh := range s.shards {
		m.Shards[i] = ShardInfo{
			ID:       i,
			Path:     shardFileName(i),
			Size:     sh.committedSize(),
			ProvPath: shardProvFileName(i),
			ProvSize: sh.committedProvSize(),
		}
	}
	if err := s.manifests.save(m); err != nil {
		return "", err
	}
	s.logger.Info("snapshot created", "snapshot_id", m.SnapshotID, "manifest_id", m.ID)
	return m.SnapshotID, nil
}

// Close closes all shard files. Outstanding leases are abandoned and expire.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	for _, sh := range s.shards {
		if err := sh.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sortEntries orders entries lexicographically by normalized headword, the
// fixed total order every deterministic consumer relies on.
func sortEntries(entries []*entry.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Headword < entries[j].Headword
	})
}

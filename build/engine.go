// Package build turns store snapshots into distributable dictionary
// artifacts: a relational sqlite database and a StarDict offline package.
//
// Builds are deterministic: the same snapshot always yields byte-identical
// artifacts, so a build can be reproduced and verified by checksum alone.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opendict/lexicore/artifactstore"
	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/shardstore"
)

// Kind selects the artifact format.
type Kind string

const (
	// KindRelational is the sqlite database artifact.
	KindRelational Kind = "relational"
	// KindStarDict is the StarDict offline dictionary package.
	KindStarDict Kind = "stardict"
)

// Valid reports whether k is a known artifact kind.
func (k Kind) Valid() bool { return k == KindRelational || k == KindStarDict }

// Artifact describes one completed build.
type Artifact struct {
	Kind       Kind
	SnapshotID string
	Path       string // local path: file for relational, directory for stardict
	Checksum   string // sha256 over the artifact files, hex
	Entries    int
	BuiltAt    time.Time
}

type options struct {
	name      string
	bookname  string
	publishTo artifactstore.Store
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

// WithName sets the artifact base name (default "lexicore").
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithBookname sets the dictionary title embedded in offline packages.
func WithBookname(name string) Option {
	return func(o *options) {
		if name != "" {
			o.bookname = name
		}
	}
}

// WithArtifactStore publishes finished artifacts to the given store after
// the local build completes.
func WithArtifactStore(s artifactstore.Store) Option {
	return func(o *options) { o.publishTo = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Engine builds artifacts from store snapshots.
type Engine struct {
	store  *shardstore.Store
	outDir string
	opts   options
}

// NewEngine creates an engine writing artifacts under outDir.
func NewEngine(store *shardstore.Store, outDir string, optFns ...Option) *Engine {
	o := options{
		name:     "lexicore",
		bookname: "Lexicore Dictionary",
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return &Engine{store: store, outDir: outDir, opts: o}
}

// Build materializes one artifact from the given snapshot. The artifact is
// assembled in a staging directory and moved into place only when complete,
// so a failed build never leaves a partial artifact behind.
//
// Only active entries are materialized; flagged and superseded versions stay
// in the corpus but never reach a distributable.
func (e *Engine) Build(ctx context.Context, kind Kind, snapshotID string) (*Artifact, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}

	sn, err := e.store.OpenSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}
	all, err := sn.Entries()
	if err != nil {
		return nil, err
	}
	entries := make([]*entry.Entry, 0, len(all))
	for _, en := range all {
		if en.Status == entry.StatusActive {
			entries = append(entries, en)
		}
	}

	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return nil, err
	}
	staging, err := os.MkdirTemp(e.outDir, ".build-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	var finalPath string
	var files []string // checksum and publish order, relative to staging

	switch kind {
	case KindRelational:
		file := fmt.Sprintf("%s-%s.sqlite", e.opts.name, snapshotID)
		if err := writeSQLite(ctx, filepath.Join(staging, file), entries); err != nil {
			return nil, err
		}
		files = []string{file}
		finalPath = filepath.Join(e.outDir, file)
		if err := replace(filepath.Join(staging, file), finalPath); err != nil {
			return nil, err
		}
	case KindStarDict:
		pkg := fmt.Sprintf("%s-%s", e.opts.name, snapshotID)
		pkgDir := filepath.Join(staging, pkg)
		if err := os.MkdirAll(pkgDir, 0o755); err != nil {
			return nil, err
		}
		if err := writeStarDict(pkgDir, e.opts.name, e.opts.bookname, entries); err != nil {
			return nil, err
		}
		for _, ext := range []string{".ifo", ".idx", ".syn", ".dict.dz"} {
			name := filepath.Join(pkg, e.opts.name+ext)
			if _, err := os.Stat(filepath.Join(staging, name)); err == nil {
				files = append(files, name)
			}
		}
		finalPath = filepath.Join(e.outDir, pkg)
		if err := replace(pkgDir, finalPath); err != nil {
			return nil, err
		}
	}

	sum, err := checksumFiles(e.outDir, files)
	if err != nil {
		return nil, err
	}

	a := &Artifact{
		Kind:       kind,
		SnapshotID: snapshotID,
		Path:       finalPath,
		Checksum:   sum,
		Entries:    len(entries),
		BuiltAt:    time.Now().UTC(),
	}

	if e.opts.publishTo != nil {
		if err := e.publish(ctx, a, files); err != nil {
			return nil, err
		}
	}

	e.opts.logger.Info("artifact built",
		"kind", kind,
		"snapshot_id", snapshotID,
		"entries", a.Entries,
		"checksum", a.Checksum,
		"path", a.Path,
	)
	return a, nil
}

func (e *Engine) publish(ctx context.Context, a *Artifact, files []string) error {
	for _, rel := range files {
		f, err := os.Open(filepath.Join(e.outDir, rel))
		if err != nil {
			return err
		}
		key := a.SnapshotID + "/" + filepath.ToSlash(rel)
		if err := e.opts.publishTo.Put(ctx, key, f); err != nil {
			f.Close()
			return fmt.Errorf("publish %s: %w", key, err)
		}
		f.Close()
	}
	return nil
}

// replace moves src into place at dst, removing any previous build of the
// same name first. Both live on the same filesystem, so the rename is atomic.
func replace(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

// checksumFiles hashes the named files (relative to root) in order.
func checksumFiles(root string, files []string) (string, error) {
	h := sha256.New()
	for _, rel := range files {
		f, err := os.Open(filepath.Join(root, rel))
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

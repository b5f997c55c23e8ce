package build

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/opendict/lexicore/entry"
)

const relationalSchema = `
CREATE TABLE entries (
	headword     TEXT NOT NULL COLLATE BINARY,
	kind         TEXT NOT NULL,
	version      INTEGER NOT NULL,
	committed_at INTEGER NOT NULL,
	html         TEXT NOT NULL
);
CREATE UNIQUE INDEX idx_entries_headword ON entries(headword);

CREATE TABLE senses (
	headword       TEXT NOT NULL,
	ord            INTEGER NOT NULL,
	definition     TEXT NOT NULL,
	part_of_speech TEXT NOT NULL DEFAULT '',
	translation    TEXT NOT NULL DEFAULT '',
	example        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (headword, ord)
);

CREATE TABLE provenance (
	headword      TEXT NOT NULL,
	ord           INTEGER NOT NULL,
	source_id     TEXT NOT NULL,
	url           TEXT NOT NULL DEFAULT '',
	fetched_at    INTEGER NOT NULL,
	model_version TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (headword, ord)
);

CREATE TABLE surface_forms (
	form     TEXT NOT NULL COLLATE BINARY,
	headword TEXT NOT NULL,
	PRIMARY KEY (form, headword)
);
`

// writeSQLite materializes entries into a fresh sqlite database at path.
// Entries must already be in the canonical lexicographic order; insertion
// order plus the fixed schema makes the output file byte-reproducible.
func writeSQLite(ctx context.Context, path string, entries []*entry.Entry) error {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=OFF&_sync=OFF")
	if err != nil {
		return fmt.Errorf("create artifact db: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, relationalSchema); err != nil {
		return fmt.Errorf("artifact schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insEntry, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (headword, kind, version, committed_at, html) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insEntry.Close()
	insSense, err := tx.PrepareContext(ctx,
		`INSERT INTO senses (headword, ord, definition, part_of_speech, translation, example) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insSense.Close()
	insProv, err := tx.PrepareContext(ctx,
		`INSERT INTO provenance (headword, ord, source_id, url, fetched_at, model_version) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insProv.Close()
	insForm, err := tx.PrepareContext(ctx,
		`INSERT INTO surface_forms (form, headword) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer insForm.Close()

	for _, e := range entries {
		if _, err := insEntry.ExecContext(ctx,
			e.Headword, string(e.Kind), e.Version, e.CommittedAt.Unix(), RenderHTML(e)); err != nil {
			return fmt.Errorf("insert %q: %w", e.Headword, err)
		}
		for i, s := range e.Senses {
			if _, err := insSense.ExecContext(ctx,
				e.Headword, i, s.Definition, s.PartOfSpeech, s.Translation, s.Example); err != nil {
				return fmt.Errorf("insert sense %q/%d: %w", e.Headword, i, err)
			}
		}
		for i, p := range e.Provenance {
			if _, err := insProv.ExecContext(ctx,
				e.Headword, i, p.SourceID, p.URL, p.FetchedAt.Unix(), p.ModelVersion); err != nil {
				return fmt.Errorf("insert provenance %q/%d: %w", e.Headword, i, err)
			}
		}
		for _, sf := range e.SurfaceForms {
			if _, err := insForm.ExecContext(ctx, sf, e.Headword); err != nil {
				return fmt.Errorf("insert form %q: %w", sf, err)
			}
		}
	}
	return tx.Commit()
}

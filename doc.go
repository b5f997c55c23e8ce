// Package lexicore implements a dictionary corpus lifecycle engine.
//
// Lexicore maintains a durable, append-biased corpus of structured dictionary
// entries and drives the full lifecycle around it:
//
//   - Candidate extraction from crawled text (HTML and plain, Latin and CJK)
//   - Batch and corpus-level dedup by normalized headword
//   - Concurrent entry generation against an external generation service,
//     with schema validation, rate limiting and bounded retries
//   - Append-only sharded persistence with per-headword commit leases,
//     crash-safe replay and full version history
//   - A reviewer-driven correction workflow backed by a task queue
//   - Deterministic builds of distributable artifacts (relational sqlite,
//     StarDict offline packages) from immutable snapshots
//
// # Quick Start
//
//	svc := generate.NewHTTPService("https://gen.example.com/v1/entries", nil)
//	lx, err := lexicore.Open("./dict", svc,
//	    lexicore.WithLogger(lexicore.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer lx.Close()
//
//	report, err := lx.Ingest(ctx, []ingest.Document{
//	    {RawText: pageText, SourceID: "crawl-42", URL: pageURL, FetchedAt: time.Now()},
//	})
//
// Build artifacts from a snapshot:
//
//	snapID, err := lx.Snapshot()
//	artifact, err := lx.Build(ctx, build.KindStarDict, snapID)
//
// File and process corrections:
//
//	task, err := lx.FileCorrection(ctx, "ptarmigan", "wrong genus in definition", "reviewer-7")
//	n, err := lx.ProcessCorrections(ctx, "worker-1")
//
// # Invariants
//
// For any headword at most one entry version is active at a time; commits go
// through per-headword leases, so racing ingestion runs converge on a single
// entry. History is never rewritten: corrections append new versions and old
// ones remain readable. Builds from the same snapshot are byte-reproducible.
package lexicore

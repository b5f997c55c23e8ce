// Command lexicore manages a dictionary corpus: ingest crawled text, build
// distributable artifacts, and work the correction queue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/k3a/html2text"
	"github.com/rodaine/table"
	"github.com/urfave/cli/v2"

	"github.com/opendict/lexicore"
	lxs3 "github.com/opendict/lexicore/artifactstore/s3"
	"github.com/opendict/lexicore/build"
	"github.com/opendict/lexicore/correction"
	"github.com/opendict/lexicore/extract"
	"github.com/opendict/lexicore/generate"
	"github.com/opendict/lexicore/ingest"
)

func main() {
	app := &cli.App{
		Name:  filepath.Base(os.Args[0]),
		Usage: "Manage a lexicore dictionary corpus.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "corpus directory `DIR`",
				Value:   "./lexicore",
				EnvVars: []string{"LEXICORE_DIR"},
			},
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "generation service `URL`",
				EnvVars: []string{"LEXICORE_ENDPOINT"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			ingestCommand(),
			buildCommand(),
			lookupCommand(),
			statsCommand(),
			tasksCommand(),
			exportCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openFromCLI(c *cli.Context, extraOpts ...lexicore.Option) (*lexicore.Lexicore, error) {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	opts := append([]lexicore.Option{
		lexicore.WithLogger(lexicore.NewTextLogger(level)),
	}, extraOpts...)

	svc := generate.NewHTTPService(c.String("endpoint"), nil)
	return lexicore.Open(c.String("dir"), svc, opts...)
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Ingest text files into the corpus",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "source `ID` recorded in provenance",
				Value: "cli",
			},
			&cli.BoolFlag{
				Name:  "html",
				Usage: "extract article text from HTML payloads",
			},
			&cli.BoolFlag{
				Name:  "cjk",
				Usage: "enable CJK morphological tokenization",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "concurrent generation workers",
				Value: 4,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("no input files")
			}

			var exOpts []extract.Option
			if c.Bool("html") {
				exOpts = append(exOpts, extract.WithHTML())
			}
			if c.Bool("cjk") {
				exOpts = append(exOpts, extract.WithCJK())
			}

			lx, err := openFromCLI(c,
				lexicore.WithIngestWorkers(c.Int("workers")),
				lexicore.WithExtractorOptions(exOpts...),
			)
			if err != nil {
				return err
			}
			defer lx.Close()

			now := time.Now().UTC()
			var docs []ingest.Document
			for _, path := range c.Args().Slice() {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				docs = append(docs, ingest.Document{
					RawText:   string(data),
					SourceID:  c.String("source"),
					URL:       "file://" + path,
					FetchedAt: now,
				})
			}

			report, err := lx.Ingest(c.Context, docs)
			if err != nil {
				return err
			}

			tbl := table.New("Documents", "Candidates", "Committed", "Dedup", "Busy", "Failed")
			tbl.AddRow(report.Documents, report.Candidates, report.Committed,
				report.DedupHits, report.LeaseBusy, report.Failed)
			tbl.Print()
			for hw, ferr := range report.Failures {
				fmt.Fprintf(os.Stderr, "failed %q: %v\n", hw, ferr)
			}
			for docKey, derr := range report.DocFailures {
				fmt.Fprintf(os.Stderr, "document %q: %v\n", docKey, derr)
			}
			return nil
		},
	}
}

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Build a distributable artifact from a snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "artifact kind: relational or stardict",
				Value: string(build.KindRelational),
			},
			&cli.StringFlag{
				Name:  "snapshot",
				Usage: "snapshot `ID` to build from (default: take a new snapshot)",
			},
			&cli.StringFlag{
				Name:  "publish",
				Usage: "publish the artifact to `s3://BUCKET/PREFIX`",
			},
		},
		Action: func(c *cli.Context) error {
			var opts []lexicore.Option
			if target := c.String("publish"); target != "" {
				store, err := s3StoreFromURL(c.Context, target)
				if err != nil {
					return err
				}
				opts = append(opts, lexicore.WithArtifactStore(store))
			}

			lx, err := openFromCLI(c, opts...)
			if err != nil {
				return err
			}
			defer lx.Close()

			snapID := c.String("snapshot")
			if snapID == "" {
				if snapID, err = lx.Snapshot(); err != nil {
					return err
				}
				fmt.Println("snapshot:", snapID)
			}

			a, err := lx.Build(c.Context, build.Kind(c.String("kind")), snapID)
			if err != nil {
				return err
			}
			fmt.Printf("built %s artifact: %s\n", a.Kind, a.Path)
			fmt.Printf("entries:  %d\n", a.Entries)
			fmt.Printf("checksum: %s\n", a.Checksum)
			return nil
		},
	}
}

// s3StoreFromURL builds an artifact store from an s3://bucket/prefix URL
// using the ambient AWS credential chain.
func s3StoreFromURL(ctx context.Context, target string) (*lxs3.Store, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return nil, fmt.Errorf("invalid publish target %q, want s3://bucket/prefix", target)
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return lxs3.NewStore(client, u.Host, strings.TrimPrefix(u.Path, "/")), nil
}

func lookupCommand() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "Look up a headword",
		ArgsUsage: "WORD",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "history",
				Usage: "show all committed versions",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one word")
			}

			lx, err := openFromCLI(c)
			if err != nil {
				return err
			}
			defer lx.Close()

			if c.Bool("history") {
				hist, err := lx.History(c.Args().First())
				if err != nil {
					return err
				}
				for _, e := range hist {
					fmt.Printf("--- version %d (%s, %s)\n", e.Version, e.Status,
						e.CommittedAt.Format(time.RFC3339))
					fmt.Println(html2text.HTML2Text(build.RenderHTML(e)))
				}
				return nil
			}

			e, err := lx.Lookup(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Println(html2text.HTML2Text(build.RenderHTML(e)))
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show corpus statistics",
		Action: func(c *cli.Context) error {
			lx, err := openFromCLI(c)
			if err != nil {
				return err
			}
			defer lx.Close()

			stats := lx.Stats()
			open, err := lx.Tasks(c.Context, correction.StatusOpen, 1000)
			if err != nil {
				return err
			}

			tbl := table.New("Headwords", "Shards", "Open Tasks")
			tbl.AddRow(stats.Headwords, stats.NumShards, len(open))
			tbl.Print()
			return nil
		},
	}
}

func tasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Work with the correction queue",
		Subcommands: []*cli.Command{
			{
				Name:      "file",
				Usage:     "File a correction request",
				ArgsUsage: "WORD PROBLEM",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "reporter",
						Usage: "reporter `ID`",
						Value: "cli",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("expected WORD and PROBLEM")
					}
					lx, err := openFromCLI(c)
					if err != nil {
						return err
					}
					defer lx.Close()

					task, err := lx.FileCorrection(c.Context,
						c.Args().Get(0), c.Args().Get(1), c.String("reporter"))
					if err != nil {
						return err
					}
					fmt.Printf("filed task %d for %q\n", task.ID, task.Headword)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List correction tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "filter by status (open, in_progress, resolved, rejected)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 50,
					},
				},
				Action: func(c *cli.Context) error {
					lx, err := openFromCLI(c)
					if err != nil {
						return err
					}
					defer lx.Close()

					tasks, err := lx.Tasks(c.Context, c.String("status"), c.Int("limit"))
					if err != nil {
						return err
					}
					tbl := table.New("ID", "Headword", "Status", "Reporter", "Problem")
					for _, t := range tasks {
						tbl.AddRow(t.ID, t.Headword, t.Status, t.Reporter, t.Problem)
					}
					tbl.Print()
					return nil
				},
			},
			{
				Name:  "process",
				Usage: "Process correction tasks until the queue is empty",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "worker",
						Usage: "worker `ID` used for claims",
						Value: "cli-worker",
					},
				},
				Action: func(c *cli.Context) error {
					lx, err := openFromCLI(c)
					if err != nil {
						return err
					}
					defer lx.Close()

					n, err := lx.ProcessCorrections(c.Context, c.String("worker"))
					fmt.Printf("processed %d task(s)\n", n)
					return err
				},
			},
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a snapshot as a compressed archive",
		ArgsUsage: "SNAPSHOT_ID OUT_FILE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected SNAPSHOT_ID and OUT_FILE")
			}
			lx, err := openFromCLI(c)
			if err != nil {
				return err
			}
			defer lx.Close()

			f, err := os.Create(c.Args().Get(1))
			if err != nil {
				return err
			}
			if err := lx.ExportSnapshot(c.Args().Get(0), f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
}

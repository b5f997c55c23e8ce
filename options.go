package lexicore

import (
	"time"

	"github.com/opendict/lexicore/artifactstore"
	"github.com/opendict/lexicore/extract"
	"github.com/opendict/lexicore/generate"
)

// Options configures a Lexicore instance.
type Options struct {
	// NumShards is the shard count for a newly created corpus. Ignored when
	// opening an existing corpus.
	NumShards int

	// LeaseTTL bounds how long a crashed worker can block a headword.
	LeaseTTL time.Duration

	// IngestWorkers is the number of concurrent candidate workers.
	IngestWorkers int

	// Bookname is the dictionary title embedded in offline packages.
	Bookname string

	// Logger receives structured logs. Defaults to NoopLogger.
	Logger *Logger

	// Metrics receives operational metrics. Defaults to NoopMetricsCollector.
	Metrics MetricsCollector

	// ArtifactStore, if set, receives finished build artifacts in addition
	// to the local artifacts directory.
	ArtifactStore artifactstore.Store

	// GeneratorOptions are passed through to the draft generator.
	GeneratorOptions []generate.Option

	// ExtractorOptions are passed through to the candidate extractor.
	ExtractorOptions []extract.Option
}

// Option mutates Options.
type Option func(*Options)

// WithNumShards sets the shard count for a newly created corpus.
func WithNumShards(n int) Option {
	return func(o *Options) { o.NumShards = n }
}

// WithLeaseTTL sets the commit lease TTL.
func WithLeaseTTL(d time.Duration) Option {
	return func(o *Options) { o.LeaseTTL = d }
}

// WithIngestWorkers sets ingestion concurrency.
func WithIngestWorkers(n int) Option {
	return func(o *Options) { o.IngestWorkers = n }
}

// WithBookname sets the offline dictionary title.
func WithBookname(name string) Option {
	return func(o *Options) { o.Bookname = name }
}

// WithLogger sets the logger.
func WithLogger(l *Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *Options) {
		if m != nil {
			o.Metrics = m
		}
	}
}

// WithArtifactStore publishes builds to the given store.
func WithArtifactStore(s artifactstore.Store) Option {
	return func(o *Options) { o.ArtifactStore = s }
}

// WithGeneratorOptions appends generator options.
func WithGeneratorOptions(opts ...generate.Option) Option {
	return func(o *Options) { o.GeneratorOptions = append(o.GeneratorOptions, opts...) }
}

// WithExtractorOptions appends extractor options.
func WithExtractorOptions(opts ...extract.Option) Option {
	return func(o *Options) { o.ExtractorOptions = append(o.ExtractorOptions, opts...) }
}

func applyOptions(optFns []Option) Options {
	o := Options{
		Bookname: "Lexicore Dictionary",
		Logger:   NoopLogger(),
		Metrics:  NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// Package generate wraps the external generation service with schema
// validation, rate limiting and a bounded retry policy.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/headword"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxAttempts bounds service_unavailable/rate_limited retries
	// before the candidate is dropped for the run.
	DefaultMaxAttempts = 4

	// DefaultCallTimeout caps a single service round trip. A timeout is
	// treated as service_unavailable.
	DefaultCallTimeout = 60 * time.Second

	// DefaultRate is the steady-state request rate against the service.
	DefaultRate = rate.Limit(5)
)

type options struct {
	maxAttempts uint64
	callTimeout time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger
	initialWait time.Duration
}

// Option configures a Generator.
type Option func(*options)

// WithMaxAttempts bounds retries of transient failures per candidate.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = uint64(n)
		}
	}
}

// WithCallTimeout caps one service round trip.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithRateLimit sets the request rate and burst against the service.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(o *options) { o.limiter = rate.NewLimiter(r, burst) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// withInitialBackoff shortens the first backoff interval; tests use it to
// avoid real waits.
func withInitialBackoff(d time.Duration) Option {
	return func(o *options) { o.initialWait = d }
}

// Generator produces validated entry drafts from candidates and correction
// requests. It is safe for concurrent use by many ingestion workers; the
// shared limiter spreads the service budget across them.
type Generator struct {
	svc  Service
	opts options
}

// New creates a Generator over the given service.
func New(svc Service, optFns ...Option) *Generator {
	o := options{
		maxAttempts: DefaultMaxAttempts,
		callTimeout: DefaultCallTimeout,
		limiter:     rate.NewLimiter(DefaultRate, 1),
		logger:      slog.New(slog.DiscardHandler),
		initialWait: 500 * time.Millisecond,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return &Generator{svc: svc, opts: o}
}

// Result is a schema-valid draft plus the model that produced it, which the
// commit path records as provenance.
type Result struct {
	Draft        *entry.Draft
	ModelVersion string
}

// Generate obtains a schema-valid draft for req.
//
// Transient failures (service_unavailable, rate_limited) are retried with
// exponential backoff up to the attempt bound. A draft that fails schema
// validation triggers exactly one corrective follow-up carrying the
// violation; a second invalid draft surfaces as schema_invalid.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	resp, err := g.callWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	draft := g.canonicalize(req, resp)
	verr := entry.ValidateDraft(draft)
	if verr == nil {
		return &Result{Draft: draft, ModelVersion: resp.ModelVersion}, nil
	}

	g.opts.logger.Warn("draft failed validation, requesting correction",
		"headword", req.Headword,
		"error", verr,
	)

	retry := req
	retry.CorrectionNote = fmt.Sprintf("previous draft was rejected: %v; return a corrected draft", verr)
	resp, err = g.callWithRetry(ctx, retry)
	if err != nil {
		return nil, err
	}
	draft = g.canonicalize(req, resp)
	if verr = entry.ValidateDraft(draft); verr != nil {
		return nil, &Error{Kind: KindSchemaInvalid, Headword: req.Headword, cause: verr}
	}
	return &Result{Draft: draft, ModelVersion: resp.ModelVersion}, nil
}

func (g *Generator) callWithRetry(ctx context.Context, req Request) (*Response, error) {
	var out *Response

	operation := func() error {
		if err := g.opts.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		cctx, cancel := context.WithTimeout(ctx, g.opts.callTimeout)
		resp, err := g.svc.Generate(cctx, req)
		cancel()

		if err == nil {
			out = resp
			return nil
		}

		var ge *Error
		switch {
		case errors.As(err, &ge) && ge.Kind == KindRateLimited:
			if ge.RetryAfter > 0 {
				if werr := sleepCtx(ctx, ge.RetryAfter); werr != nil {
					return backoff.Permanent(werr)
				}
			}
			return err
		case errors.As(err, &ge) && ge.Kind == KindServiceUnavailable:
			return err
		case errors.As(err, &ge):
			return backoff.Permanent(err)
		case errors.Is(err, context.DeadlineExceeded):
			// Per policy a timeout is service_unavailable.
			return &Error{Kind: KindServiceUnavailable, Headword: req.Headword, cause: err}
		case errors.Is(err, context.Canceled):
			return backoff.Permanent(err)
		default:
			return &Error{Kind: KindServiceUnavailable, Headword: req.Headword, cause: err}
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.opts.initialWait
	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, g.opts.maxAttempts-1), ctx))
	if err != nil {
		g.opts.logger.Warn("generation gave up", "headword", req.Headword, "error", err)
		return nil, err
	}
	return out, nil
}

// canonicalize applies mechanical fixes the service routinely gets wrong:
// the headword and kind are ours, not the model's, and surface forms are
// normalized and deduplicated. Semantic problems are left for validation.
func (g *Generator) canonicalize(req Request, resp *Response) *entry.Draft {
	d := resp.Draft
	if d == nil {
		// A nil draft with a nil error is a service contract violation;
		// validation turns it into schema_invalid.
		return nil
	}
	d.Headword = req.Headword
	d.Kind = req.Kind

	seen := map[string]bool{d.Headword: true}
	forms := d.SurfaceForms[:0]
	for _, sf := range d.SurfaceForms {
		n := headword.Normalize(sf)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		forms = append(forms, n)
	}
	d.SurfaceForms = forms

	// Provenance is assigned by the commit path, never by the model.
	d.Provenance = nil
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

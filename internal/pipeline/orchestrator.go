// Package pipeline drives a batch: discovery, extraction, resolution behind a shared
// admission gate, renaming and aggregation.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/bookrenamer/constants"
	"github.com/joseph-ayodele/bookrenamer/internal/common"
	"github.com/joseph-ayodele/bookrenamer/internal/extract"
	"github.com/joseph-ayodele/bookrenamer/internal/llm"
	"github.com/joseph-ayodele/bookrenamer/internal/rename"
	"github.com/joseph-ayodele/bookrenamer/internal/resolve"
)

// Renamer applies a stem to a file; see rename.Executor.
type Renamer interface {
	Apply(path, stem string) (string, error)
}

// Pinger checks the completion service before a batch.
type Pinger interface {
	Ping(ctx context.Context, model string) (reply string, ok bool, err error)
}

// Recorder persists terminal job results; see repository.Ledger.
type Recorder interface {
	Record(ctx context.Context, batchID string, r JobResult) error
}

type Orchestrator struct {
	extractor extract.TextExtractor
	renamer   Renamer
	completer llm.Completer
	logger    *slog.Logger

	concurrency int
	workers     int
	callTimeout time.Duration
	rps         float64
	dryRun      bool
	resolveOpts resolve.Options
	detector    resolve.Detector
	pinger      Pinger
	pingModel   string
	pingTimeout time.Duration
	recorder    Recorder
	onJobDone   func(JobResult)
}

type Option func(*Orchestrator)

func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithWorkers bounds how many jobs extract at the same time.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

func WithRequestsPerSecond(rps float64) Option {
	return func(o *Orchestrator) {
		if rps > 0 {
			o.rps = rps
		}
	}
}

func WithDryRun(dry bool) Option {
	return func(o *Orchestrator) { o.dryRun = dry }
}

func WithResolveOptions(opts resolve.Options) Option {
	return func(o *Orchestrator) { o.resolveOpts = opts }
}

func WithDetector(d resolve.Detector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// WithPreflight enables the connectivity check with the given model.
func WithPreflight(p Pinger, model string) Option {
	return func(o *Orchestrator) {
		o.pinger = p
		o.pingModel = model
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithJobDone registers a callback run after each job is aggregated. It is called from job
// goroutines and must be safe for concurrent use.
func WithJobDone(fn func(JobResult)) Option {
	return func(o *Orchestrator) { o.onJobDone = fn }
}

func NewOrchestrator(completer llm.Completer, extractor extract.TextExtractor, renamer Renamer, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		extractor:   extractor,
		renamer:     renamer,
		completer:   completer,
		logger:      logger,
		concurrency: constants.DefaultConcurrency,
		workers:     8,
		callTimeout: constants.DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pingTimeout <= 0 {
		o.pingTimeout = o.callTimeout
	}
	// a worker holds its slot while queued on the gate, so fewer workers than gate slots
	// would cap in-flight calls below the configured concurrency
	if o.workers < o.concurrency {
		o.workers = o.concurrency
	}
	return o
}

// RunBatch processes every supported file in dir. Per-file problems end up in the returned
// statistics; an error is returned only when the directory cannot be read or the pre-flight
// check cannot reach the service.
func (o *Orchestrator) RunBatch(ctx context.Context, dir string) (BatchStatistics, error) {
	batchID := uuid.New().String()
	ctx = common.WithBatchID(ctx, batchID)

	c := &collector{stats: BatchStatistics{
		BatchID:   batchID,
		Directory: dir,
		DryRun:    o.dryRun,
		Start:     time.Now(),
	}}

	if err := o.preflight(ctx); err != nil {
		return c.snapshot(time.Now()), err
	}

	paths, err := Discover(dir)
	if err != nil {
		return c.snapshot(time.Now()), err
	}
	c.stats.Discovered = len(paths)
	o.logger.Info("pipeline.batch.start",
		"batch_id", batchID,
		"dir", dir,
		"files", len(paths),
		"concurrency", o.concurrency,
		"dry_run", o.dryRun,
	)

	gate := NewGate(o.completer, o.concurrency, o.callTimeout, o.rps, o.logger)
	resolver := resolve.NewResolver(gate, o.detector, o.resolveOpts, o.logger)

	var g errgroup.Group
	g.SetLimit(o.workers)
	for _, p := range paths {
		if ctx.Err() != nil {
			o.done(ctx, c, batchID, newJob(p).finish(constants.JobStatusSkipped, constants.FailureCancelled, "cancelled before start"))
			continue
		}
		g.Go(func() error {
			o.done(ctx, c, batchID, o.process(ctx, resolver, p))
			return nil
		})
	}
	_ = g.Wait()

	stats := c.snapshot(time.Now())
	stats.PeakInFlight = gate.Peak()
	o.logger.Info("pipeline.batch.done",
		"batch_id", batchID,
		"discovered", stats.Discovered,
		"renamed", stats.Renamed,
		"resolved", stats.Resolved,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"tokens", stats.TotalTokens,
		"calls", stats.TotalCalls,
		"peak_in_flight", stats.PeakInFlight,
		"elapsed_ms", stats.Elapsed().Milliseconds(),
	)
	return stats, nil
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	if o.pinger == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, o.pingTimeout)
	defer cancel()

	reply, ok, err := o.pinger.Ping(pctx, o.pingModel)
	if err != nil {
		o.logger.Error("pipeline.preflight.failed", "model", o.pingModel, "error", err)
		return common.NewAppError("PREFLIGHT_FAILED", "completion service unreachable", errors.Join(common.ErrServiceUnreachable, err))
	}
	if !ok {
		o.logger.Warn("pipeline.preflight.unexpected_reply", "model", o.pingModel, "reply", reply)
		return nil
	}
	o.logger.Info("pipeline.preflight.ok", "model", o.pingModel)
	return nil
}

// process carries one job to a terminal state. It never returns an error: every failure
// becomes the job's status and reason.
func (o *Orchestrator) process(ctx context.Context, resolver *resolve.Resolver, path string) JobResult {
	job := newJob(path)
	ctx = common.WithRequestID(ctx, job.ID)

	if ctx.Err() != nil {
		return job.finish(constants.JobStatusSkipped, constants.FailureCancelled, "cancelled before start")
	}

	// extraction happens outside the gate; a file without text never takes a slot
	extractStart := time.Now()
	res, err := o.extractor.Extract(ctx, path)
	job.ExtractDuration = time.Since(extractStart)
	if err != nil {
		return job.finish(constants.JobStatusSkipped, constants.FailureExtraction, "extraction failed: "+err.Error())
	}
	if strings.TrimSpace(res.Text) == "" {
		return job.finish(constants.JobStatusSkipped, constants.FailureNoText, "no extractable text")
	}
	job.SampleText = res.Text
	job.Status = constants.JobStatusExtracted

	out := resolver.Resolve(ctx, job.Stem, job.SampleText)
	job.addTokens(out.TokenCost)
	job.Calls = out.Calls
	job.Phase = string(out.Phase)
	job.Language = out.Language
	job.LanguageDefaulted = out.LanguageDefaulted
	if out.Kind != resolve.OutcomeResolved {
		return job.finish(constants.JobStatusFailed, out.Failure, out.Reason)
	}
	job.Name = out.Name.String()

	if o.dryRun {
		job.NewPath = rename.Destination(path, job.Name)
		return job.finish(constants.JobStatusResolved, constants.FailureNone, "dry run")
	}

	newPath, err := o.renamer.Apply(path, job.Name)
	if err != nil {
		kind := constants.FailureRenameIO
		var re *rename.Error
		if errors.As(err, &re) {
			kind = re.Kind
		}
		return job.finish(constants.JobStatusFailed, kind, err.Error())
	}
	job.NewPath = newPath
	return job.finish(constants.JobStatusRenamed, constants.FailureNone, "")
}

// done aggregates one terminal result, then persists and reports it.
func (o *Orchestrator) done(ctx context.Context, c *collector, batchID string, r JobResult) {
	c.add(r)

	attrs := []any{
		"batch_id", batchID,
		"req_id", r.JobID,
		"file", r.FileName(),
		"status", string(r.Status),
		"tokens", r.TokenCost,
		"calls", r.Calls,
		"elapsed_ms", r.Elapsed.Milliseconds(),
	}
	switch r.Status {
	case constants.JobStatusRenamed, constants.JobStatusResolved:
		o.logger.Info("pipeline.job.done", append(attrs, "name", r.Name)...)
	default:
		o.logger.Warn("pipeline.job.done", append(attrs, "kind", string(r.Kind), "reason", r.Reason)...)
	}

	if o.recorder != nil {
		if err := o.recorder.Record(context.WithoutCancel(ctx), batchID, r); err != nil {
			o.logger.Error("pipeline.ledger.record_failed", "batch_id", batchID, "file", r.FileName(), "error", err)
		}
	}
	if o.onJobDone != nil {
		o.onJobDone(r)
	}
}

// Package ingest provides the import pipeline that reads movies from the
// document store, embeds them and writes them to the vector store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/WessleyAI/moviesearch/engine/docstore"
	"github.com/WessleyAI/moviesearch/engine/domain"
	"github.com/WessleyAI/moviesearch/engine/embed"
	"github.com/WessleyAI/moviesearch/pkg/fn"
	"github.com/WessleyAI/moviesearch/pkg/metrics"
)

// Source yields the movies to import, in a stable order.
type Source interface {
	Movies(ctx context.Context, limit int) iter.Seq2[domain.Movie, error]
}

// Writer stores indexed movies. Failures are *domain.WriteError.
type Writer interface {
	Upsert(ctx context.Context, movies []domain.IndexedMovie) error
}

// GraphWriter records a movie and its genres in the genre graph.
type GraphWriter interface {
	SaveMovie(ctx context.Context, m domain.Movie) error
}

// Deps holds the external dependencies for the import pipeline. Graph and
// Failures are optional.
type Deps struct {
	Source   Source
	Embedder embed.Embedder
	Store    Writer
	Graph    GraphWriter
	Failures FailureSink
	Logger   *slog.Logger
}

// Options tunes a run.
type Options struct {
	// BatchSize is how many records are pulled before they are processed
	// and progress is logged.
	BatchSize int
	// Limit caps the number of records read; 0 reads everything.
	Limit int
	// BulkWrite writes each batch with a single upsert, falling back to
	// per-record writes when that upsert is rejected.
	BulkWrite bool
	// WriteRetries is the number of attempts per write while the store is
	// unreachable. 1 means no retry.
	WriteRetries int
	RetryWait    time.Duration
}

// DefaultOptions returns the settings the import command uses when the
// environment does not override them.
func DefaultOptions() Options {
	return Options{
		BatchSize:    50,
		Limit:        1000,
		WriteRetries: 1,
		RetryWait:    500 * time.Millisecond,
	}
}

// Report summarizes a run. Skipped counts documents rejected before
// embedding; Failed counts records whose embedding or write failed.
type Report struct {
	Read      int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

func (r Report) String() string {
	s := fmt.Sprintf("%d succeeded, %d failed", r.Succeeded, r.Failed)
	if r.Skipped > 0 {
		s += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	return s
}

// AbortError ends a run early: the source failed, a service became
// unreachable or the context was cancelled. Records upserted before the
// abort stay written.
type AbortError struct {
	Upserted int
	Err      error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("ingest: aborted after %d upserted: %v", e.Upserted, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// Pipeline imports movies one record at a time.
type Pipeline struct {
	deps    Deps
	opts    Options
	log     *slog.Logger
	prepare fn.Stage[domain.Movie, domain.IndexedMovie]
	write   fn.Stage[domain.IndexedMovie, domain.IndexedMovie]
	record  fn.Stage[domain.Movie, domain.IndexedMovie]
}

// New wires the per-record stages: validate, embed and write, each traced.
func New(deps Deps, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.WriteRetries < 1 {
		opts.WriteRetries = 1
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Pipeline{deps: deps, opts: opts, log: log}
	p.prepare = fn.Then(
		fn.TracedStage("ingest.validate", validate),
		fn.TracedStage("ingest.embed", p.embedStage()),
	)
	p.write = fn.TracedStage("ingest.write", fn.RetryStage(p.retryOpts(), p.writeStage()))
	p.record = fn.Then(p.prepare, p.write)
	return p
}

func validate(_ context.Context, m domain.Movie) fn.Result[domain.Movie] {
	if err := domain.ValidateMovie(m); err != nil {
		return fn.Err[domain.Movie](err)
	}
	return fn.Ok(m)
}

func (p *Pipeline) embedStage() fn.Stage[domain.Movie, domain.IndexedMovie] {
	return func(ctx context.Context, m domain.Movie) fn.Result[domain.IndexedMovie] {
		start := time.Now()
		vec, err := p.deps.Embedder.Embed(ctx, domain.EmbeddingText(m))
		metrics.ObserveSince(metrics.EmbedDuration.WithLabelValues(p.deps.Embedder.Model()), start)
		if err != nil {
			return fn.Err[domain.IndexedMovie](err)
		}
		return fn.Ok(domain.IndexedMovie{Movie: m, Vector: vec})
	}
}

func (p *Pipeline) writeStage() fn.Stage[domain.IndexedMovie, domain.IndexedMovie] {
	return func(ctx context.Context, im domain.IndexedMovie) fn.Result[domain.IndexedMovie] {
		if err := p.upsert(ctx, []domain.IndexedMovie{im}); err != nil {
			return fn.Err[domain.IndexedMovie](err)
		}
		return fn.Ok(im)
	}
}

func (p *Pipeline) upsert(ctx context.Context, movies []domain.IndexedMovie) error {
	start := time.Now()
	defer metrics.ObserveSince(metrics.StoreDuration.WithLabelValues("upsert"), start)
	return p.deps.Store.Upsert(ctx, movies)
}

// Only connectivity failures are worth retrying; a rejected payload fails
// the same way every time.
func (p *Pipeline) retryOpts() fn.RetryOpts {
	return fn.RetryOpts{
		MaxAttempts: p.opts.WriteRetries,
		InitialWait: p.opts.RetryWait,
		MaxWait:     10 * p.opts.RetryWait,
		Jitter:      true,
		Retryable:   domain.IsUnavailable,
	}
}

// Run imports up to Options.Limit movies. Per-record failures are counted
// and reported to the failure sink; the run only stops early with an
// *AbortError, in which case the report covers the records handled so far.
func (p *Pipeline) Run(ctx context.Context) (rep Report, err error) {
	start := time.Now()
	defer func() { rep.Duration = time.Since(start) }()

	p.log.Info("ingest: starting",
		"batch_size", p.opts.BatchSize,
		"limit", p.opts.Limit,
		"bulk", p.opts.BulkWrite,
	)

	batch := make([]domain.Movie, 0, p.opts.BatchSize)
	for m, readErr := range p.deps.Source.Movies(ctx, p.opts.Limit) {
		if readErr != nil {
			if badRecord(readErr) {
				rep.Read++
				p.reject(ctx, &rep, m, readErr)
				continue
			}
			if err := p.flush(ctx, batch, &rep); err != nil {
				return rep, p.abort(ctx, rep, err)
			}
			return rep, p.abort(ctx, rep, readErr)
		}

		rep.Read++
		batch = append(batch, m)
		if len(batch) < p.opts.BatchSize {
			continue
		}
		if err := p.flush(ctx, batch, &rep); err != nil {
			return rep, p.abort(ctx, rep, err)
		}
		batch = batch[:0]
	}
	if err := p.flush(ctx, batch, &rep); err != nil {
		return rep, p.abort(ctx, rep, err)
	}

	p.log.Info("ingest: done", "read", rep.Read, "summary", rep.String(), "duration", time.Since(start))
	return rep, nil
}

func (p *Pipeline) abort(ctx context.Context, rep Report, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	p.log.Error("ingest: aborted", "error", err, "upserted", rep.Succeeded, "failed", rep.Failed)
	return &AbortError{Upserted: rep.Succeeded, Err: err}
}

// flush processes one batch and logs progress. A non-nil error aborts the
// run.
func (p *Pipeline) flush(ctx context.Context, batch []domain.Movie, rep *Report) error {
	if len(batch) == 0 {
		return nil
	}
	var err error
	if p.opts.BulkWrite {
		err = p.flushBulk(ctx, batch, rep)
	} else {
		err = p.flushEach(ctx, batch, rep)
	}
	if err == nil {
		p.log.Info("ingest: batch complete",
			"read", rep.Read,
			"succeeded", rep.Succeeded,
			"failed", rep.Failed,
			"skipped", rep.Skipped,
		)
	}
	return err
}

func (p *Pipeline) flushEach(ctx context.Context, batch []domain.Movie, rep *Report) error {
	for _, m := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := p.record(ctx, m).Unwrap()
		if err := p.settle(ctx, rep, m, err); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) flushBulk(ctx context.Context, batch []domain.Movie, rep *Report) error {
	ready := make([]domain.IndexedMovie, 0, len(batch))
	for _, m := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		im, err := p.prepare(ctx, m).Unwrap()
		if err != nil {
			if err := p.settle(ctx, rep, m, err); err != nil {
				return err
			}
			continue
		}
		ready = append(ready, im)
	}
	if len(ready) == 0 {
		return nil
	}

	_, err := fn.Retry(ctx, p.retryOpts(), func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, p.upsert(ctx, ready))
	}).Unwrap()
	if err == nil {
		for _, im := range ready {
			p.settle(ctx, rep, im.Movie, nil)
		}
		return nil
	}
	if domain.IsUnavailable(err) {
		return err
	}

	p.log.Warn("ingest: bulk write rejected, writing records one by one", "records", len(ready), "error", err)
	for _, im := range ready {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := p.write(ctx, im).Unwrap()
		if err := p.settle(ctx, rep, im.Movie, err); err != nil {
			return err
		}
	}
	return nil
}

// settle records the outcome of one record. It returns err back only when
// the failure must abort the run.
func (p *Pipeline) settle(ctx context.Context, rep *Report, m domain.Movie, err error) error {
	switch {
	case err == nil:
		rep.Succeeded++
		metrics.ImportRecordsTotal.WithLabelValues(metrics.StatusSucceeded).Inc()
		p.saveGraph(ctx, m)
		return nil
	case domain.IsUnavailable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case badRecord(err):
		p.reject(ctx, rep, m, err)
		return nil
	default:
		rep.Failed++
		metrics.ImportRecordsTotal.WithLabelValues(metrics.StatusFailed).Inc()
		p.log.Warn("ingest: record failed", "id", m.ID, "title", m.Title, "stage", stageOf(err), "error", err)
		p.deadLetter(ctx, m, err)
		return nil
	}
}

func (p *Pipeline) reject(ctx context.Context, rep *Report, m domain.Movie, err error) {
	rep.Skipped++
	metrics.ImportRecordsTotal.WithLabelValues(metrics.StatusSkipped).Inc()
	p.log.Warn("ingest: record skipped", "id", m.ID, "error", err)
	p.deadLetter(ctx, m, err)
}

func (p *Pipeline) saveGraph(ctx context.Context, m domain.Movie) {
	if p.deps.Graph == nil {
		return
	}
	if err := p.deps.Graph.SaveMovie(ctx, m); err != nil {
		p.log.Warn("ingest: graph save failed", "id", m.ID, "error", err)
	}
}

func (p *Pipeline) deadLetter(ctx context.Context, m domain.Movie, err error) {
	if p.deps.Failures == nil {
		return
	}
	id := m.ID
	var de *docstore.DecodeError
	if id == "" && errors.As(err, &de) {
		id = de.ID
	}
	f := Failure{
		MovieID: id,
		Title:   m.Title,
		Stage:   stageOf(err),
		Error:   err.Error(),
		At:      time.Now().UTC(),
	}
	if sendErr := p.deps.Failures.Send(ctx, f); sendErr != nil {
		p.log.Warn("ingest: dead letter not recorded", "id", m.ID, "error", sendErr)
	}
}

func badRecord(err error) bool {
	var de *docstore.DecodeError
	return errors.As(err, &de) || errors.Is(err, domain.ErrInvalidMovie)
}

func stageOf(err error) string {
	var (
		ee *domain.EmbeddingError
		we *domain.WriteError
	)
	switch {
	case badRecord(err):
		return "validate"
	case errors.As(err, &ee):
		return "embed"
	case errors.As(err, &we):
		return "write"
	default:
		return "unknown"
	}
}

// Package search answers free-text movie queries: it embeds the query,
// asks the vector store for the nearest movies and normalizes the hits for
// presentation.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/moviesearch/engine/domain"
	"github.com/WessleyAI/moviesearch/engine/embed"
	"github.com/WessleyAI/moviesearch/pkg/fn"
	"github.com/WessleyAI/moviesearch/pkg/metrics"
	"github.com/WessleyAI/moviesearch/pkg/resilience"
)

// Searcher abstracts the vector-store nearest-neighbour query.
type Searcher interface {
	SearchNear(ctx context.Context, vec []float32, limit int, fields []string) ([]domain.Hit, error)
}

// RelatedFinder optionally suggests titles that share a genre with a movie.
type RelatedFinder interface {
	RelatedTitles(ctx context.Context, movieID string, limit int) ([]string, error)
}

// Options configures the query pipeline.
type Options struct {
	DefaultLimit  int
	Fields        []string
	SearchTimeout time.Duration
	// RelatedLimit caps suggestions per hit; 0 disables the lookup.
	RelatedLimit int
	// Breaker, when set, guards the embed and store calls. While it is open
	// searches fail fast as unavailable.
	Breaker *resilience.Breaker
}

// DefaultOptions returns the settings used by the search server.
func DefaultOptions() Options {
	return Options{
		DefaultLimit:  5,
		Fields:        domain.DefaultFields,
		SearchTimeout: 5 * time.Second,
		RelatedLimit:  3,
	}
}

// Service is the query pipeline.
type Service struct {
	embedder embed.Embedder
	store    Searcher
	related  RelatedFinder
	opts     Options
	logger   *slog.Logger
}

// New creates a Service. related may be nil.
func New(embedder embed.Embedder, store Searcher, related RelatedFinder, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 5
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 5 * time.Second
	}
	return &Service{
		embedder: embedder,
		store:    store,
		related:  related,
		opts:     opts,
		logger:   logger,
	}
}

// Search returns up to limit movies closest to query, in store order. A
// limit of 0 uses the default. Invalid input is a *domain.ValidationError
// and is reported before any remote call; embedding and store failures keep
// their *domain.EmbeddingError and *domain.QueryError types.
func (s *Service) Search(ctx context.Context, query string, limit int) (domain.SearchResult, error) {
	if err := domain.ValidateQuery(query); err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return domain.SearchResult{}, err
	}
	if limit == 0 {
		limit = s.opts.DefaultLimit
	}
	if err := domain.ValidateLimit(limit); err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return domain.SearchResult{}, err
	}
	query = strings.TrimSpace(query)
	s.logger.Info("search: query", "query_len", len(query), "limit", limit)

	start := time.Now()
	vec, err := guard(ctx, s, func(ctx context.Context) ([]float32, error) {
		return s.embedder.Embed(ctx, query)
	})
	metrics.ObserveSince(metrics.EmbedDuration.WithLabelValues(s.embedder.Model()), start)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return domain.SearchResult{}, fmt.Errorf("search: embed query: %w", err)
	}

	start = time.Now()
	hits, err := guard(ctx, s, func(ctx context.Context) ([]domain.Hit, error) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
		defer cancel()
		return s.store.SearchNear(ctx, vec, limit, s.opts.Fields)
	})
	metrics.ObserveSince(metrics.StoreDuration.WithLabelValues("search"), start)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return domain.SearchResult{}, fmt.Errorf("search: nearest movies: %w", err)
	}

	hits = fn.Map(hits, Normalize)
	if s.related != nil && s.opts.RelatedLimit > 0 && len(hits) > 0 {
		s.addRelated(ctx, hits)
	}

	outcome := metrics.OutcomeOK
	if len(hits) == 0 {
		outcome = metrics.OutcomeEmpty
	}
	metrics.SearchRequestsTotal.WithLabelValues(outcome).Inc()
	s.logger.Info("search: done", "hits", len(hits), "duration", time.Since(start))

	return domain.SearchResult{Query: query, Hits: hits}, nil
}

// guard runs f through the breaker when one is configured. A failure that
// follows the caller's own cancellation or deadline is marked abandoned so
// Trips does not hold it against the backend.
func guard[T any](ctx context.Context, s *Service, f func(context.Context) (T, error)) (T, error) {
	if s.opts.Breaker == nil {
		return f(ctx)
	}
	out, err := resilience.Do(ctx, s.opts.Breaker, func(ctx context.Context) (T, error) {
		out, err := f(ctx)
		if err != nil && ctx.Err() != nil {
			err = abandoned{err}
		}
		return out, err
	})
	var a abandoned
	if errors.As(err, &a) {
		err = a.err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return out, err
}

// abandoned wraps an error returned after the caller gave up on the request.
type abandoned struct{ err error }

func (a abandoned) Error() string { return a.err.Error() }
func (a abandoned) Unwrap() error { return a.err }

// Trips is the breaker predicate for Service. Only unavailable backends
// count, and never when the caller's context ended first.
func Trips(err error) bool {
	var a abandoned
	if errors.As(err, &a) {
		return false
	}
	return domain.IsUnavailable(err)
}

// Normalize fills missing optional fields with their placeholders. Year 0
// and an empty genre list are kept as is and rendered by Hit.YearLabel and
// Hit.GenreLabel.
func Normalize(h domain.Hit) domain.Hit {
	if strings.TrimSpace(h.Title) == "" {
		h.Title = domain.PlaceholderTitle
	}
	if strings.TrimSpace(h.Plot) == "" {
		h.Plot = domain.PlaceholderPlot
	}
	if h.Year < 0 {
		h.Year = 0
	}
	if h.Genres == nil {
		h.Genres = []string{}
	}
	return h
}

// addRelated looks up suggestions for each hit concurrently. Failures only
// leave Related empty.
func (s *Service) addRelated(ctx context.Context, hits []domain.Hit) {
	related := fn.ParMap(hits, 4, func(h domain.Hit) []string {
		titles, err := s.related.RelatedTitles(ctx, h.ID, s.opts.RelatedLimit)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warn("search: related titles", "id", h.ID, "error", err)
			}
			return nil
		}
		return titles
	})
	for i := range hits {
		hits[i].Related = related[i]
	}
}

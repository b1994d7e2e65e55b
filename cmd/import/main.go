// Command import copies movies from MongoDB into the Qdrant collection, one
// embedding per movie. It takes no flags; everything comes from the
// environment (see pkg/config).
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/WessleyAI/moviesearch/engine/docstore"
	"github.com/WessleyAI/moviesearch/engine/domain"
	"github.com/WessleyAI/moviesearch/engine/embed"
	"github.com/WessleyAI/moviesearch/engine/graph"
	"github.com/WessleyAI/moviesearch/engine/ingest"
	"github.com/WessleyAI/moviesearch/engine/semantic"
	"github.com/WessleyAI/moviesearch/pkg/config"
	"github.com/WessleyAI/moviesearch/pkg/logging"
	"github.com/nats-io/nats.go"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("import failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	if err := cfg.Require(config.NeedVectorStore, config.NeedDocStore, config.NeedEmbedder); err != nil {
		return err
	}

	embedder, err := embed.New(embed.Config{
		Provider:   cfg.EmbedProvider,
		BaseURL:    cfg.EmbedURL,
		Model:      cfg.EmbedModel,
		APIKey:     cfg.EmbedAPIKey,
		Dimensions: cfg.EmbedDimensions,
		RatePerSec: cfg.EmbedRatePerSec,
	})
	if err != nil {
		return err
	}
	defer embedder.Close()

	// --- Connect Qdrant ---
	store, err := semantic.New(cfg.QdrantURL, cfg.QdrantCollection, semantic.WithAPIKey(cfg.QdrantAPIKey))
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx, domain.MovieSchema(cfg.QdrantCollection, cfg.EmbedDimensions)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("connected to Qdrant", "collection", cfg.QdrantCollection, "dims", cfg.EmbedDimensions)

	// --- Connect MongoDB ---
	reader, err := docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection)
	if err != nil {
		return err
	}
	defer reader.Close(context.Background())
	reader.SetBatchSize(cfg.ImportBatchSize)
	logger.Info("connected to MongoDB", "db", cfg.MongoDB, "collection", cfg.MongoCollection)

	deps := ingest.Deps{
		Source:   reader,
		Embedder: embedder,
		Store:    store,
		Logger:   logger,
	}

	// --- Optional dead-letter subject ---
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("moviesearch-import"))
		if err != nil {
			logger.Warn("dead letters disabled", "err", err)
		} else {
			defer closeNATS(nc, logger)
			deps.Failures = ingest.NewNATSSink(nc)
			logger.Info("publishing failed records", "subject", ingest.DLQSubject)
		}
	}

	// --- Optional genre graph ---
	var genres genreCounter
	if cfg.Neo4jURL != "" {
		driver, err := graph.Connect(ctx, cfg.Neo4jURL, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			logger.Warn("genre graph disabled", "err", err)
		} else {
			defer driver.Close(context.Background())
			gs := graph.New(driver)
			if err := gs.EnsureConstraints(ctx); err != nil {
				logger.Warn("graph constraints", "err", err)
			}
			deps.Graph = gs
			genres = gs
		}
	}

	opts := ingest.Options{
		BatchSize:    cfg.ImportBatchSize,
		Limit:        cfg.ImportLimit,
		BulkWrite:    cfg.ImportBulkWrite,
		WriteRetries: cfg.ImportWriteRetries,
		RetryWait:    500 * time.Millisecond,
	}
	return execute(ctx, ingest.New(deps, opts), store, genres, cfg.QdrantCollection, out)
}

// closeNATS flushes buffered dead letters before closing. Drain would return
// at once and let the process exit with publishes still in flight.
func closeNATS(nc *nats.Conn, logger *slog.Logger) {
	if err := nc.FlushTimeout(5 * time.Second); err != nil {
		logger.Warn("flush dead letters", "err", err)
	}
	nc.Close()
}

type runner interface {
	Run(ctx context.Context) (ingest.Report, error)
}

type counter interface {
	Count(ctx context.Context) (uint64, error)
}

type genreCounter interface {
	GenreCounts(ctx context.Context) (map[string]int64, error)
}

// execute runs the import and prints the summary. The collection count is
// printed on every path, since an aborted run may still have written. genres
// is nil when no graph is configured.
func execute(ctx context.Context, p runner, store counter, genres genreCounter, collection string, out io.Writer) error {
	rep, runErr := p.Run(ctx)
	if runErr != nil {
		fmt.Fprintf(out, "Data import aborted: %s\n", rep)
	} else {
		fmt.Fprintf(out, "Data import completed: %s\n", rep)
	}

	countCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if n, err := store.Count(countCtx); err == nil {
		fmt.Fprintf(out, "Collection %s holds %d movies\n", collection, n)
	}
	if genres != nil {
		counts, err := genres.GenreCounts(countCtx)
		if err == nil && len(counts) > 0 {
			fmt.Fprintf(out, "Genres: %s\n", formatGenres(counts))
		}
	}
	return runErr
}

// formatGenres lists genres by name, e.g. "Comedy 4, Drama 7".
func formatGenres(counts map[string]int64) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s %d", name, counts[name])
	}
	return strings.Join(parts, ", ")
}

// Package main implements the movie search web server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/moviesearch/engine/embed"
	"github.com/WessleyAI/moviesearch/engine/graph"
	"github.com/WessleyAI/moviesearch/engine/search"
	"github.com/WessleyAI/moviesearch/engine/semantic"
	"github.com/WessleyAI/moviesearch/pkg/config"
	"github.com/WessleyAI/moviesearch/pkg/logging"
	"github.com/WessleyAI/moviesearch/pkg/mid"
	"github.com/WessleyAI/moviesearch/pkg/resilience"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Require(config.NeedVectorStore, config.NeedEmbedder); err != nil {
		return err
	}

	// --- Embedder ---
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

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.QdrantCollection, semantic.WithAPIKey(cfg.QdrantAPIKey))
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	// --- Optional genre graph ---
	var related search.RelatedFinder
	if cfg.Neo4jURL != "" {
		driver, err := graph.Connect(ctx, cfg.Neo4jURL, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			logger.Warn("genre graph disabled", "err", err)
		} else {
			defer driver.Close(context.Background())
			related = graph.New(driver)
		}
	}

	opts := search.DefaultOptions()
	opts.DefaultLimit = cfg.SearchLimit
	opts.Breaker = resilience.NewBreaker(resilience.Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
		Trips:     search.Trips,
	})
	svc := search.New(embedder, vectorStore, related, opts, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newServer(svc, vectorStore, logger).routes(cfg.CORSOrigin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("search server starting", "port", cfg.Port, "collection", cfg.QdrantCollection)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// middleware returns the chain every route is served through. Metrics sits
// innermost so it sees the pattern the mux matched.
func middleware(logger *slog.Logger, corsOrigin string) []mid.Middleware {
	chain := []mid.Middleware{
		mid.RequestID(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("moviesearch"),
	}
	if corsOrigin != "" {
		chain = append(chain, mid.CORS(corsOrigin))
	}
	return append(chain, mid.Metrics())
}

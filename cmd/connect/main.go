// Command connect checks that the Qdrant cluster named by QDRANT_URL is
// reachable with QDRANT_API_KEY and prints what the server reports about
// itself.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/WessleyAI/moviesearch/engine/semantic"
	"github.com/WessleyAI/moviesearch/pkg/config"
	"github.com/WessleyAI/moviesearch/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	os.Exit(run(context.Background(), cfg, logger, os.Stdout))
}

type healthChecker interface {
	Health(ctx context.Context) (semantic.ServerInfo, error)
}

// run returns the exit code: 1 for missing credentials, 0 otherwise. An
// unreachable server prints a checklist instead of failing.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) int {
	if err := cfg.Require(config.NeedVectorStore, config.NeedVectorStoreKey); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		fmt.Fprintln(out, "Set QDRANT_URL and QDRANT_API_KEY in the environment or in .env.")
		return 1
	}

	store, err := semantic.New(cfg.QdrantURL, cfg.QdrantCollection, semantic.WithAPIKey(cfg.QdrantAPIKey))
	if err != nil {
		logger.Error("qdrant client", "err", err)
		printChecklist(out, cfg.QdrantURL, err)
		return 0
	}
	defer store.Close()

	check(ctx, store, cfg.QdrantURL, out)
	return 0
}

func check(ctx context.Context, hc healthChecker, url string, out io.Writer) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info, err := hc.Health(ctx)
	if err != nil {
		printChecklist(out, url, err)
		return
	}

	fmt.Fprintf(out, "Connected to %s\n", url)
	fmt.Fprintf(out, "Server:  %s\n", info.Title)
	fmt.Fprintf(out, "Version: %s\n", info.Version)
	if info.Commit != "" {
		fmt.Fprintf(out, "Commit:  %s\n", info.Commit)
	}
	if len(info.Collections) == 0 {
		fmt.Fprintln(out, "Collections: none")
		return
	}
	fmt.Fprintf(out, "Collections: %s\n", strings.Join(info.Collections, ", "))
}

func printChecklist(out io.Writer, url string, err error) {
	fmt.Fprintf(out, "Could not connect to %s: %v\n", url, err)
	fmt.Fprintln(out, "Check that:")
	fmt.Fprintln(out, "  - QDRANT_URL points at the gRPC endpoint (port 6334 unless configured otherwise)")
	fmt.Fprintln(out, "  - QDRANT_API_KEY is valid for this cluster")
	fmt.Fprintln(out, "  - the cluster is running and reachable from this machine")
	fmt.Fprintln(out, "  - https:// is used for clusters that require TLS")
}

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/moviesearch/engine/domain"
	"github.com/WessleyAI/moviesearch/engine/ingest"
	"github.com/WessleyAI/moviesearch/pkg/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type mockRunner struct {
	rep ingest.Report
	err error
}

func (m *mockRunner) Run(context.Context) (ingest.Report, error) { return m.rep, m.err }

type mockCounter struct {
	n   uint64
	err error
}

func (m *mockCounter) Count(context.Context) (uint64, error) { return m.n, m.err }

type mockGenres struct {
	counts map[string]int64
	err    error
}

func (m *mockGenres) GenreCounts(context.Context) (map[string]int64, error) { return m.counts, m.err }

func TestExecute_PrintsSummary(t *testing.T) {
	var out bytes.Buffer
	err := execute(context.Background(), &mockRunner{rep: ingest.Report{Succeeded: 9, Failed: 1}}, &mockCounter{n: 9}, nil, "Movie", &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Data import completed: 9 succeeded, 1 failed\nCollection Movie holds 9 movies\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestExecute_Aborted(t *testing.T) {
	var out bytes.Buffer
	abort := &ingest.AbortError{Upserted: 3, Err: domain.ErrUnavailable}
	err := execute(context.Background(), &mockRunner{rep: ingest.Report{Succeeded: 3}, err: abort}, &mockCounter{n: 3}, nil, "Movie", &out)

	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected the abort to be returned, got %v", err)
	}
	if !strings.HasPrefix(out.String(), "Data import aborted: 3 succeeded, 0 failed") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestExecute_CountFailureIsNotFatal(t *testing.T) {
	var out bytes.Buffer
	err := execute(context.Background(), &mockRunner{}, &mockCounter{err: errors.New("down")}, nil, "Movie", &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out.String(), "holds") {
		t.Errorf("count must be omitted when unavailable: %q", out.String())
	}
}

func TestExecute_PrintsGenreCounts(t *testing.T) {
	var out bytes.Buffer
	genres := &mockGenres{counts: map[string]int64{"Drama": 7, "Comedy": 4}}
	if err := execute(context.Background(), &mockRunner{rep: ingest.Report{Succeeded: 9}}, &mockCounter{n: 9}, genres, "Movie", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Data import completed: 9 succeeded, 0 failed\nCollection Movie holds 9 movies\nGenres: Comedy 4, Drama 7\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}

	out.Reset()
	execute(context.Background(), &mockRunner{}, &mockCounter{}, &mockGenres{err: errors.New("down")}, "Movie", &out)
	if strings.Contains(out.String(), "Genres") {
		t.Errorf("genre line must be omitted when the graph fails: %q", out.String())
	}
}

func TestCloseNATS_DeliversPendingPublishes(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	defer srv.Shutdown()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}

	consumer, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer consumer.Close()
	sub, err := consumer.SubscribeSync(ingest.DLQSubject)
	if err != nil {
		t.Fatal(err)
	}
	consumer.Flush()

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	sink := ingest.NewNATSSink(nc)
	for i := 0; i < 50; i++ {
		if err := sink.Send(context.Background(), ingest.Failure{MovieID: fmt.Sprintf("m%02d", i), Stage: "embed", Error: "token limit"}); err != nil {
			t.Fatal(err)
		}
	}
	closeNATS(nc, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if !nc.IsClosed() {
		t.Error("connection should be closed")
	}
	for i := 0; i < 50; i++ {
		if _, err := sub.NextMsg(2 * time.Second); err != nil {
			t.Fatalf("dead letter %d lost: %v", i, err)
		}
	}
}

func TestRun_ConfigError(t *testing.T) {
	cfg := &config.Config{QdrantCollection: "Movie", EmbedURL: "http://localhost:11434", EmbedModel: "all-minilm", EmbedDimensions: 384, ImportBatchSize: 50, SearchLimit: 5}
	err := run(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), io.Discard)

	var ce *domain.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	for _, want := range []string{"QDRANT_URL", "MONGO_URI", "MONGO_DB", "MONGO_COLLECTION"} {
		if !strings.Contains(ce.Error(), want) {
			t.Errorf("expected %s in %v", want, ce)
		}
	}
}

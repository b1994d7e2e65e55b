package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/WessleyAI/moviesearch/engine/domain"
)

func ollamaServer(t *testing.T, vec []float32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"model not loaded"}`))
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embeddings: [][]float32{vec}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_Providers(t *testing.T) {
	e, err := New(Config{Provider: "ollama", Model: "all-minilm"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := e.(*OllamaClient); !ok {
		t.Errorf("expected OllamaClient, got %T", e)
	}
	e, err = New(Config{Provider: "OpenAI", Model: "text-embedding-3-small"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := e.(*OpenAIClient); !ok {
		t.Errorf("expected OpenAIClient, got %T", e)
	}
	if _, err := New(Config{Provider: "cohere"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOllama_Embed(t *testing.T) {
	srv := ollamaServer(t, []float32{0.1, 0.2, 0.3}, http.StatusOK)
	c := NewOllama(srv.URL, "all-minilm", 0)

	vec, err := c.Embed(context.Background(), "Alien: In space.")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vec))
	}
	if c.Dimensions() != 3 {
		t.Errorf("expected learned dims 3, got %d", c.Dimensions())
	}
	if c.Model() != "all-minilm" {
		t.Errorf("unexpected model %s", c.Model())
	}
}

func TestOllama_DimensionMismatch(t *testing.T) {
	srv := ollamaServer(t, []float32{0.1, 0.2}, http.StatusOK)
	c := NewOllama(srv.URL, "all-minilm", 384)

	_, err := c.Embed(context.Background(), "x")
	var ee *domain.EmbeddingError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestOllama_ServerError(t *testing.T) {
	srv := ollamaServer(t, nil, http.StatusInternalServerError)
	c := NewOllama(srv.URL, "all-minilm", 0)

	_, err := c.Embed(context.Background(), "x")
	var ee *domain.EmbeddingError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
	if domain.IsUnavailable(err) {
		t.Error("a 500 for one text must not count as unavailable")
	}
}

func TestOllama_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOllama(url, "all-minilm", 0)
	_, err := c.Embed(context.Background(), "x")
	if !domain.IsUnavailable(err) {
		t.Errorf("expected unavailable, got %v", err)
	}
}

func TestOllama_CallerDeadlineIsNotUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewOllama(srv.URL, "all-minilm", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Embed(ctx, "x")
	if domain.IsUnavailable(err) {
		t.Fatalf("a caller deadline must not read as an unavailable server: %v", err)
	}
	var ee *domain.EmbeddingError
	if !errors.As(err, &ee) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected EmbeddingError wrapping the deadline, got %v", err)
	}
}

func TestOllama_Unauthorized(t *testing.T) {
	srv := ollamaServer(t, nil, http.StatusUnauthorized)
	c := NewOllama(srv.URL, "all-minilm", 0)

	if _, err := c.Embed(context.Background(), "x"); !domain.IsUnavailable(err) {
		t.Errorf("expected unavailable, got %v", err)
	}
}

func TestOpenAI_Embed(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req openAIEmbedReq
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 1 || req.Input[0] != "Heat: A heist." {
			t.Errorf("unexpected input %v", req.Input)
		}
		w.Write([]byte(`{"data":[{"embedding":[0.5,0.5],"index":0}]}`))
	}))
	defer srv.Close()

	e, err := New(Config{Provider: ProviderOpenAI, BaseURL: srv.URL + "/", Model: "m", APIKey: "sk-test", Dimensions: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	vec, err := e.Embed(context.Background(), "Heat: A heist.")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("expected 2 dims, got %d", len(vec))
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
}

func TestOpenAI_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	e, _ := New(Config{Provider: ProviderOpenAI, BaseURL: srv.URL, Model: "m"})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestRateLimit_HonoursContext(t *testing.T) {
	srv := ollamaServer(t, []float32{1}, http.StatusOK)
	e, _ := New(Config{BaseURL: srv.URL, Model: "m", RatePerSec: 0.001})

	if _, err := e.Embed(context.Background(), "first"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Embed(ctx, "second"); err == nil {
		t.Fatal("expected limiter to give up on a cancelled context")
	}
}

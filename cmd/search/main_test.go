package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/moviesearch/engine/domain"
	"github.com/WessleyAI/moviesearch/engine/embed"
	"github.com/WessleyAI/moviesearch/engine/search"
	"github.com/WessleyAI/moviesearch/engine/semantic"
	"github.com/WessleyAI/moviesearch/pkg/config"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- mocks ---

type mockSearcher struct {
	res       domain.SearchResult
	err       error
	calls     int
	lastQuery string
	lastLimit int
}

func (m *mockSearcher) Search(_ context.Context, query string, limit int) (domain.SearchResult, error) {
	m.calls++
	m.lastQuery = query
	m.lastLimit = limit
	if m.err == nil {
		if err := domain.ValidateQuery(query); err != nil {
			return domain.SearchResult{}, err
		}
	}
	return m.res, m.err
}

type mockHealth struct {
	info semantic.ServerInfo
	err  error
}

func (m *mockHealth) Health(_ context.Context) (semantic.ServerInfo, error) {
	return m.info, m.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHandler(s searcher, h healthChecker) http.Handler {
	if h == nil {
		h = &mockHealth{info: semantic.ServerInfo{Version: "1.13.4"}}
	}
	return newServer(s, h, quietLogger()).routes("")
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

var heatHit = domain.Hit{ID: "m1", Title: "Heat", Plot: "A crew of thieves.", Genres: []string{"Crime", "Drama"}, Year: 1995, Score: 0.91, Distance: 0.09}

// --- page ---

func TestIndex_ShowsForm(t *testing.T) {
	s := &mockSearcher{}
	rec := get(t, testHandler(s, nil), "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `name="q"`) {
		t.Error("expected the search input")
	}
	if s.calls != 0 {
		t.Error("no search without a query")
	}
}

func TestIndex_RendersHits(t *testing.T) {
	untitled := search.Normalize(domain.Hit{ID: "m2", Score: 0.5, Distance: 0.5})
	s := &mockSearcher{res: domain.SearchResult{Query: "heist", Hits: []domain.Hit{heatHit, untitled}}}
	rec := get(t, testHandler(s, nil), "/?q=heist")

	body := rec.Body.String()
	for _, want := range []string{"Heat", "1995", "Crime, Drama", "0.910", "0.090", "A crew of thieves.",
		domain.PlaceholderTitle, domain.PlaceholderPlot, domain.PlaceholderYear, domain.PlaceholderGenre} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if s.lastLimit != 0 {
		t.Errorf("page must use the default limit, got %d", s.lastLimit)
	}
}

func TestIndex_NoResultsAndFailureDiffer(t *testing.T) {
	empty := get(t, testHandler(&mockSearcher{}, nil), "/?q=nothing")
	if empty.Code != http.StatusOK || !strings.Contains(empty.Body.String(), msgNoResults) {
		t.Errorf("expected no-results message, got %d %q", empty.Code, empty.Body.String())
	}

	qe := &domain.QueryError{Collection: "Movie", Errors: []error{errors.New("wrong vector size"), errors.New("bad filter on year")}}
	failed := get(t, testHandler(&mockSearcher{err: fmt.Errorf("search: nearest movies: %w", qe)}, nil), "/?q=heist")
	body := failed.Body.String()
	if failed.Code != http.StatusBadGateway || !strings.Contains(body, msgSearchFailed) {
		t.Errorf("expected failure message, got %d", failed.Code)
	}
	if strings.Contains(body, msgNoResults) {
		t.Error("failure page must not look like an empty result")
	}
	for _, want := range []string{"<li>wrong vector size</li>", "<li>bad filter on year</li>"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected query error detail %q on the page", want)
		}
	}

	opaque := get(t, testHandler(&mockSearcher{err: &domain.EmbeddingError{Model: "m", Err: errors.New("oom")}}, nil), "/?q=heist")
	if strings.Contains(opaque.Body.String(), "oom") || strings.Contains(opaque.Body.String(), `class="details"`) {
		t.Error("only query errors carry details to the page")
	}
}

func TestIndex_BlankQueryShowsForm(t *testing.T) {
	rec := get(t, testHandler(&mockSearcher{}, nil), "/?q=++")
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), msgSearchFailed) {
		t.Errorf("blank query must not be a failure, got %d", rec.Code)
	}
}

func TestIndex_UnknownPath(t *testing.T) {
	if rec := get(t, testHandler(&mockSearcher{}, nil), "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// --- API ---

func TestAPISearch_Success(t *testing.T) {
	s := &mockSearcher{res: domain.SearchResult{Query: "heist", Hits: []domain.Hit{heatHit}}}
	rec := get(t, testHandler(s, nil), "/api/search?q=heist&limit=3")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp searchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Results[0].Title != "Heat" {
		t.Errorf("unexpected response %+v", resp)
	}
	if s.lastLimit != 3 || s.lastQuery != "heist" {
		t.Errorf("unexpected call %q/%d", s.lastQuery, s.lastLimit)
	}
}

func TestAPISearch_Empty(t *testing.T) {
	rec := get(t, testHandler(&mockSearcher{}, nil), "/api/search?q=nothing")

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || resp["count"] != float64(0) || resp["message"] != msgNoResults {
		t.Errorf("unexpected response %d %v", rec.Code, resp)
	}
	if results, ok := resp["results"].([]any); !ok || len(results) != 0 {
		t.Errorf("results must be an empty list, got %v", resp["results"])
	}
}

func TestAPISearch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		status int
	}{
		{"bad limit", "/api/search?q=heist&limit=ten", nil, http.StatusBadRequest},
		{"empty query", "/api/search?q=", nil, http.StatusBadRequest},
		{"invalid limit", "/api/search?q=heist&limit=99", domain.NewValidationError("limit", "99", domain.ErrInvalidLimit), http.StatusBadRequest},
		{"embedding", "/api/search?q=heist", &domain.EmbeddingError{Model: "m", Err: errors.New("oom")}, http.StatusBadGateway},
		{"unavailable", "/api/search?q=heist", &domain.QueryError{Errors: []error{domain.ErrUnavailable}}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, testHandler(&mockSearcher{err: tt.err}, nil), tt.target)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("expected an error message, got %+v (%v)", resp, err)
			}
		})
	}
}

func TestAPISearch_QueryErrorDetails(t *testing.T) {
	qe := &domain.QueryError{Collection: "Movie", Errors: []error{errors.New("wrong vector size"), errors.New("bad filter on year")}}
	rec := get(t, testHandler(&mockSearcher{err: qe}, nil), "/api/search?q=heist")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != msgSearchFailed {
		t.Errorf("headline should stay generic, got %q", resp.Error)
	}
	if len(resp.Errors) != 2 || resp.Errors[0] != "wrong vector size" || resp.Errors[1] != "bad filter on year" {
		t.Errorf("expected one entry per query error, got %q", resp.Errors)
	}

	rec = get(t, testHandler(&mockSearcher{err: &domain.EmbeddingError{Model: "m", Err: errors.New("oom")}}, nil), "/api/search?q=heist")
	if strings.Contains(rec.Body.String(), `"errors"`) {
		t.Errorf("errors list is only for query errors, got %s", rec.Body.String())
	}
}

// --- health & metrics ---

func TestHealth(t *testing.T) {
	rec := get(t, testHandler(&mockSearcher{}, nil), "/api/health")
	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if rec.Code != http.StatusOK || resp["status"] != "ok" || resp["vector_store"] != "1.13.4" {
		t.Errorf("unexpected health %d %v", rec.Code, resp)
	}

	down := get(t, testHandler(&mockSearcher{}, &mockHealth{err: domain.ErrUnavailable}), "/api/health")
	if down.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", down.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := testHandler(&mockSearcher{}, nil)
	get(t, h, "/api/health")

	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `moviesearch_http_requests_total{method="GET",path="GET /api/health",status="2xx"}`) {
		t.Errorf("expected HTTP metrics labelled by route, got %d", rec.Code)
	}
}

func TestCORSOptional(t *testing.T) {
	h := newServer(&mockSearcher{}, &mockHealth{}, quietLogger()).routes("https://movies.example")
	rec := get(t, h, "/api/health")
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://movies.example" {
		t.Error("expected CORS header when an origin is configured")
	}
	if get(t, testHandler(&mockSearcher{}, nil), "/api/health").Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("no CORS header without an origin")
	}
}

// --- full query stack ---

type stackPoints struct {
	resp *pb.SearchResponse
	req  *pb.SearchPoints
}

func (m *stackPoints) Upsert(context.Context, *pb.UpsertPoints, ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return nil, nil
}
func (m *stackPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.req = in
	return m.resp, nil
}
func (m *stackPoints) Count(context.Context, *pb.CountPoints, ...grpc.CallOption) (*pb.CountResponse, error) {
	return nil, nil
}
func (m *stackPoints) CreateFieldIndex(context.Context, *pb.CreateFieldIndexCollection, ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return nil, nil
}

func TestAPISearch_FullStack(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embeddings":[[0.1,0.2,0.3]]}`)
	}))
	defer ollama.Close()

	embedder, err := embed.New(embed.Config{BaseURL: ollama.URL, Model: "all-minilm", Dimensions: 3})
	if err != nil {
		t.Fatal(err)
	}
	points := &stackPoints{resp: &pb.SearchResponse{Result: []*pb.ScoredPoint{{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: semantic.PointID("m1")}},
		Score: 0.8,
		Payload: map[string]*pb.Value{
			domain.FieldSourceID: {Kind: &pb.Value_StringValue{StringValue: "m1"}},
			domain.FieldTitle:    {Kind: &pb.Value_StringValue{StringValue: "Heat"}},
		},
	}}}}
	store := semantic.NewWithClients(points, nil, nil, "Movie")
	svc := search.New(embedder, store, nil, search.DefaultOptions(), quietLogger())

	rec := get(t, testHandler(svc, nil), "/api/search?q=bank+robbery")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp searchResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Count != 1 || resp.Results[0].Title != "Heat" || resp.Results[0].Plot != domain.PlaceholderPlot {
		t.Errorf("unexpected response %+v", resp)
	}
	if points.req.GetLimit() != 5 || len(points.req.GetVector()) != 3 {
		t.Errorf("unexpected search request %v", points.req)
	}
}

// --- run ---

func TestRun_ConfigError(t *testing.T) {
	cfg := &config.Config{QdrantCollection: "Movie", EmbedURL: "http://localhost:11434", EmbedModel: "all-minilm", EmbedDimensions: 384, ImportBatchSize: 50, SearchLimit: 5}
	err := run(context.Background(), cfg, quietLogger())

	var ce *domain.ConfigError
	if !errors.As(err, &ce) || ce.Missing[0] != "QDRANT_URL" {
		t.Fatalf("expected missing QDRANT_URL, got %v", err)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	cfg := &config.Config{
		QdrantURL:        "localhost:6399",
		QdrantCollection: "Movie",
		EmbedProvider:    "ollama",
		EmbedURL:         "http://localhost:11499",
		EmbedModel:       "all-minilm",
		EmbedDimensions:  384,
		ImportBatchSize:  50,
		SearchLimit:      5,
		Port:             "0",
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, cfg, quietLogger()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not exit")
	}
}

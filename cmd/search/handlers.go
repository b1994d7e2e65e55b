package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/WessleyAI/moviesearch/engine/domain"
	"github.com/WessleyAI/moviesearch/engine/semantic"
	"github.com/WessleyAI/moviesearch/pkg/metrics"
	"github.com/WessleyAI/moviesearch/pkg/mid"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"score": func(f float32) string { return strconv.FormatFloat(float64(f), 'f', 3, 32) },
}).ParseFS(templateFS, "templates/index.html"))

// Headlines shown to users. Query errors add the server's own messages below
// the headline; other failures expose nothing further.
const (
	msgNoResults    = "No movies matched your search."
	msgSearchFailed = "Search failed, please try again."
	msgUnavailable  = "The search service is unavailable right now, please try again later."
	msgTooLong      = "Your search is too long, please shorten it."
)

type searcher interface {
	Search(ctx context.Context, query string, limit int) (domain.SearchResult, error)
}

type healthChecker interface {
	Health(ctx context.Context) (semantic.ServerInfo, error)
}

type server struct {
	search searcher
	health healthChecker
	logger *slog.Logger
}

func newServer(s searcher, h healthChecker, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{search: s, health: h, logger: logger}
}

func (s *server) routes(corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mid.Chain(mux, middleware(s.logger, corsOrigin)...)
}

// pageData feeds templates/index.html.
type pageData struct {
	Query   string
	Hits    []domain.Hit
	Message string
	Details []string
	Failed  bool
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := pageData{Query: r.URL.Query().Get("q")}
	status := http.StatusOK

	if _, ok := r.URL.Query()["q"]; ok {
		res, err := s.search.Search(r.Context(), data.Query, 0)
		switch {
		case errors.Is(err, domain.ErrEmptyQuery):
			// Blank submission: show the form again.
		case errors.Is(err, domain.ErrQueryTooLong):
			status, data.Message = http.StatusBadRequest, msgTooLong
		case err != nil:
			status, data.Message, data.Details = s.failure(err)
			data.Failed = true
		case res.Empty():
			data.Message = msgNoResults
		default:
			data.Hits = res.Hits
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		s.logger.Error("render page", "err", err)
	}
}

// searchResponse is the JSON response for GET /api/search.
type searchResponse struct {
	Query   string       `json:"query,omitempty"`
	Results []domain.Hit `json:"results"`
	Count   int          `json:"count"`
	Message string       `json:"message,omitempty"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}

	res, err := s.search.Search(r.Context(), q, limit)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		status, msg, details := s.failure(err)
		writeJSON(w, status, errorResponse{Error: msg, Errors: details})
		return
	}

	resp := searchResponse{Query: res.Query, Results: res.Hits, Count: res.Len()}
	if res.Empty() {
		resp.Results = []domain.Hit{}
		resp.Message = msgNoResults
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	info, err := s.health.Health(ctx)
	if err != nil {
		s.logger.Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "vector_store": info.Version})
}

// failure logs err and picks the status and headline shown to the user,
// plus each message the vector store reported when it rejected the query.
func (s *server) failure(err error) (int, string, []string) {
	s.logger.Error("search failed", "err", err)
	var details []string
	var qe *domain.QueryError
	if errors.As(err, &qe) {
		details = qe.Messages()
	}
	if domain.IsUnavailable(err) {
		return http.StatusServiceUnavailable, msgUnavailable, details
	}
	return http.StatusBadGateway, msgSearchFailed, details
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorResponse is the JSON body of a failed request.
type errorResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

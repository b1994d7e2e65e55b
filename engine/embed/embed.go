// Package embed turns text into fixed-length vectors by calling an external
// embedding model server. Two wire protocols are supported: Ollama's native
// API and any OpenAI-compatible /v1/embeddings endpoint.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/WessleyAI/moviesearch/engine/domain"
	"golang.org/x/time/rate"
)

// Embedder is the contract both flows depend on.
type Embedder interface {
	// Embed encodes one text. Failures are *domain.EmbeddingError.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector length, or 0 while still unknown.
	Dimensions() int
	// Model returns the model identifier.
	Model() string
	// Close releases idle connections.
	Close() error
}

// Provider names accepted by New.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config selects and configures an embedding provider.
type Config struct {
	Provider   string
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	// RatePerSec caps outgoing calls; 0 disables limiting.
	RatePerSec float64
	Timeout    time.Duration
}

// New builds the Embedder named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOllama:
		return &OllamaClient{baseClient: newBaseClient(cfg)}, nil
	case ProviderOpenAI:
		return &OpenAIClient{baseClient: newBaseClient(cfg)}, nil
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", cfg.Provider)
	}
}

// baseClient carries what both providers share: HTTP client, limiter,
// credentials and the dimensionality check.
type baseClient struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter

	mu   sync.RWMutex
	dims int
}

func newBaseClient(cfg Config) baseClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return baseClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: lim,
		dims:    cfg.Dimensions,
	}
}

func (c *baseClient) Model() string { return c.model }

func (c *baseClient) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dims
}

func (c *baseClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// wait blocks on the rate limiter, if any.
func (c *baseClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// authorize sets the bearer token when one is configured.
func (c *baseClient) authorize(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// checkDims pins the dimensionality on first success and rejects vectors of
// any other length afterwards.
func (c *baseClient) checkDims(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("empty vector")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dims == 0 {
		c.dims = len(vec)
		return nil
	}
	if len(vec) != c.dims {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(vec), c.dims)
	}
	return nil
}

func (c *baseClient) fail(err error) error {
	return &domain.EmbeddingError{Model: c.model, Err: err}
}

// transportErr marks a failure to reach the server at all.
func transportErr(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
}

// doErr classifies a failed round trip. When the caller's context ended
// first the server is not to blame, so only the context error is reported.
func (c *baseClient) doErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return transportErr(err)
}

// statusErr classifies a non-200 response. Rejected credentials and a missing
// endpoint affect every call, so they count as unavailability.
func statusErr(code int, body []byte) error {
	err := fmt.Errorf("status %d: %s", code, strings.TrimSpace(string(body)))
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return transportErr(err)
	}
	return err
}

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OllamaClient calls Ollama's /api/embed endpoint.
type OllamaClient struct {
	baseClient
}

var _ Embedder = (*OllamaClient)(nil)

// NewOllama creates an Ollama embedding client.
func NewOllama(baseURL, model string, dims int) *OllamaClient {
	return &OllamaClient{baseClient: newBaseClient(Config{BaseURL: baseURL, Model: model, Dimensions: dims})}
}

type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed implements Embedder.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.wait(ctx); err != nil {
		return nil, c.fail(err)
	}

	body, err := json.Marshal(ollamaEmbedReq{Model: c.model, Input: text})
	if err != nil {
		return nil, c.fail(fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail(c.doErr(ctx, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(c.doErr(ctx, fmt.Errorf("read response: %w", err)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.fail(statusErr(resp.StatusCode, respBody))
	}

	var result ollamaEmbedResp
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, c.fail(fmt.Errorf("decode response: %w", err))
	}
	if result.Error != "" {
		return nil, c.fail(fmt.Errorf("server: %s", result.Error))
	}
	if len(result.Embeddings) == 0 {
		return nil, c.fail(fmt.Errorf("empty response"))
	}

	vec := result.Embeddings[0]
	if err := c.checkDims(vec); err != nil {
		return nil, c.fail(err)
	}
	return vec, nil
}

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIClient calls any OpenAI-compatible /v1/embeddings endpoint
// (vLLM, LiteLLM, text-embeddings-inference, the OpenAI API itself).
type OpenAIClient struct {
	baseClient
}

var _ Embedder = (*OpenAIClient)(nil)

type openAIEmbedReq struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *OpenAIClient) endpoint() string {
	if strings.HasSuffix(c.baseURL, "/v1/embeddings") {
		return c.baseURL
	}
	return c.baseURL + "/v1/embeddings"
}

// Embed implements Embedder.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.wait(ctx); err != nil {
		return nil, c.fail(err)
	}

	body, err := json.Marshal(openAIEmbedReq{Input: []string{text}, Model: c.model})
	if err != nil {
		return nil, c.fail(fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
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

	var result openAIEmbedResp
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, c.fail(fmt.Errorf("decode response: %w", err))
	}
	if len(result.Data) == 0 {
		return nil, c.fail(fmt.Errorf("response contained no data"))
	}

	vec := result.Data[0].Embedding
	if err := c.checkDims(vec); err != nil {
		return nil, c.fail(err)
	}
	return vec, nil
}

// Package gemini implements an agent.EmbeddingProvider backed by Google's
// Gemini embedding API, for use as WithEmbedding's argument when wiring
// cross-thread search or user-memory fact matching.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nevindra/conduit/agent"
)

const baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Embedding implements agent.EmbeddingProvider for Gemini embedding
// models (e.g. "gemini-embedding-001").
type Embedding struct {
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
}

// NewEmbedding creates a Gemini embedding provider. dims is the requested
// output dimensionality, forwarded to the API as outputDimensionality.
func NewEmbedding(apiKey, model string, dims int) *Embedding {
	return &Embedding{apiKey: apiKey, model: model, dims: dims, httpClient: &http.Client{}}
}

// Name returns "gemini".
func (e *Embedding) Name() string { return "gemini" }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

type embedResponse struct {
	Embedding *embedValues `json:"embedding"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}

// Embed embeds each text sequentially and returns the embedding vectors.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", baseURL, e.model, e.apiKey)

	embeddings := make([][]float32, 0, len(texts))

	for _, text := range texts {
		body := map[string]any{
			"content":               map[string]any{"parts": []map[string]any{{"text": text}}},
			"outputDimensionality": e.dims,
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &agent.ErrLLM{Provider: "gemini", Message: "marshal embed body: " + err.Error()}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
		if err != nil {
			return nil, &agent.ErrLLM{Provider: "gemini", Message: "create embed request: " + err.Error()}
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			return nil, &agent.ErrLLM{Provider: "gemini", Message: "embed request failed: " + err.Error()}
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &agent.ErrLLM{Provider: "gemini", Message: "failed to read embed response: " + err.Error()}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &agent.ErrHTTP{
				Status:     resp.StatusCode,
				Body:       string(respBody),
				RetryAfter: agent.ParseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}

		var parsed embedResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, &agent.ErrLLM{Provider: "gemini", Message: "failed to parse embed response: " + err.Error()}
		}
		if parsed.Embedding == nil {
			return nil, &agent.ErrLLM{Provider: "gemini", Message: "missing embedding.values in response"}
		}

		vec := make([]float32, len(parsed.Embedding.Values))
		for i, v := range parsed.Embedding.Values {
			vec[i] = float32(v)
		}
		embeddings = append(embeddings, vec)
	}

	return embeddings, nil
}

var _ agent.EmbeddingProvider = (*Embedding)(nil)

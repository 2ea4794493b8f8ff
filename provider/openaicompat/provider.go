package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nevindra/conduit/agent"
)

// Provider implements agent.Provider for any OpenAI-compatible API. It
// uses the shared helpers in this package (BuildBody, StreamSSE,
// ParseResponse) to handle body building, streaming, and response
// parsing.
//
// Works with OpenAI, OpenRouter, Groq, Together, Fireworks, DeepSeek,
// Mistral, Ollama, vLLM, LM Studio, Azure OpenAI, and any other provider
// implementing the OpenAI chat completions API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1"). The
// /chat/completions path is appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

func (p *Provider) mergeGenParams(params *agent.GenerationParams) []Option {
	if params == nil {
		return p.opts
	}
	opts := make([]Option, len(p.opts), len(p.opts)+3)
	copy(opts, p.opts)
	if params.Temperature != nil {
		opts = append(opts, WithTemperature(*params.Temperature))
	}
	if params.TopP != nil {
		opts = append(opts, WithTopP(*params.TopP))
	}
	if params.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(params.MaxTokens))
	}
	return opts
}

// Chat sends a non-streaming chat request and returns the complete
// response. Any tools carried on req.Tools are included.
func (p *Provider) Chat(ctx context.Context, req agent.ChatRequest) (agent.ChatResponse, error) {
	body := BuildBody(req.Messages, req.Tools, p.model, req.ResponseSchema, p.mergeGenParams(req.GenerationParams)...)
	return p.doRequest(ctx, body)
}

// ChatWithTools sends a chat request with the given tool definitions and
// returns a response that may carry tool calls.
func (p *Provider) ChatWithTools(ctx context.Context, req agent.ChatRequest, tools []agent.ToolDefinition) (agent.ChatResponse, error) {
	body := BuildBody(req.Messages, tools, p.model, req.ResponseSchema, p.mergeGenParams(req.GenerationParams)...)
	return p.doRequest(ctx, body)
}

// ChatStream streams text deltas into ch, then returns the final
// accumulated response. ch is closed when streaming completes or on
// error.
func (p *Provider) ChatStream(ctx context.Context, req agent.ChatRequest, ch chan<- string) (agent.ChatResponse, error) {
	body := BuildBody(req.Messages, req.Tools, p.model, req.ResponseSchema, p.mergeGenParams(req.GenerationParams)...)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return agent.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return agent.ChatResponse{}, p.httpErr(resp)
	}

	return StreamSSE(ctx, resp.Body, ch)
}

func (p *Provider) doRequest(ctx context.Context, body ChatRequest) (agent.ChatResponse, error) {
	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return agent.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return agent.ChatResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return agent.ChatResponse{}, &agent.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}

	return ParseResponse(chatResp)
}

func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &agent.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &agent.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body and returns an ErrHTTP carrying the
// parsed Retry-After duration, for WithRetry to act on.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &agent.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: agent.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

var _ agent.Provider = (*Provider)(nil)

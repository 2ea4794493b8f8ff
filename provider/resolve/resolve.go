// Package resolve builds agent.Provider and agent.EmbeddingProvider values
// from provider-agnostic configuration, so callers (commands, tests)
// don't need to import concrete provider packages directly.
package resolve

import (
	"fmt"

	"github.com/nevindra/conduit/agent"
	"github.com/nevindra/conduit/provider/gemini"
	"github.com/nevindra/conduit/provider/openaicompat"
)

// knownBaseURLs maps a provider name to its OpenAI-compatible base URL.
var knownBaseURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"groq":     "https://api.groq.com/openai/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"together": "https://api.together.xyz/v1",
	"mistral":  "https://api.mistral.ai/v1",
	"ollama":   "http://localhost:11434/v1",
}

// Config holds provider-agnostic chat-provider configuration.
type Config struct {
	Provider string // "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // overrides knownBaseURLs; required for unlisted openai-compat backends

	Temperature *float64
	TopP        *float64
}

// EmbeddingConfig holds provider-agnostic embedding-provider configuration.
type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	Model      string
	Dimensions int
}

// Provider builds an agent.Provider from cfg. Only the OpenAI-compatible
// names are built; "gemini" returns an error.
func Provider(cfg Config) (agent.Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return nil, fmt.Errorf("resolve: gemini chat provider not wired, use provider/gemini directly or an openai-compat endpoint")
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

// Embedding builds an agent.EmbeddingProvider from cfg.
func Embedding(cfg EmbeddingConfig) (agent.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "gemini":
		dims := cfg.Dimensions
		if dims == 0 {
			dims = 768
		}
		return gemini.NewEmbedding(cfg.APIKey, cfg.Model, dims), nil
	default:
		return nil, fmt.Errorf("resolve: unknown embedding provider %q", cfg.Provider)
	}
}

func openaiCompatProvider(cfg Config) agent.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = knownBaseURLs[cfg.Provider]
	}

	var opts []openaicompat.Option
	if cfg.Temperature != nil {
		opts = append(opts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, openaicompat.WithTopP(*cfg.TopP))
	}

	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL,
		openaicompat.WithName(cfg.Provider),
		openaicompat.WithRequestOptions(opts...),
	)
}

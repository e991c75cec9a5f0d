package backend

import (
	"fmt"

	"github.com/zen-systems/routegate/pkg/adapter"
	"github.com/zen-systems/routegate/pkg/config"
)

// NewAdapters creates an adapter for every provider that has credentials.
// Ollama needs none and is always present.
func NewAdapters(cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	if cfg.HasAdapter("anthropic") {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters[a.Name()] = a
	}

	if cfg.HasAdapter("openai") {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters[a.Name()] = a
	}

	if cfg.HasAdapter("google") {
		a, err := adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters[a.Name()] = a
	}

	if cfg.HasAdapter("deepseek") {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters[a.Name()] = a
	}

	ollama := adapter.NewOllamaAdapter(cfg.OllamaHost, ollamaModels(cfg.RoutingConfig)...)
	adapters[ollama.Name()] = ollama

	return adapters, nil
}

func ollamaModels(routing *config.RoutingConfig) []string {
	var models []string
	for _, id := range routing.BackendIDs() {
		spec, _ := routing.Backend(id)
		if spec.Adapter == "ollama" {
			models = append(models, spec.Model)
		}
	}
	return models
}

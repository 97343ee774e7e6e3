package llm

import (
	"fmt"

	"github.com/sejmbot/detektor/internal/model"
)

// NewProvider creates a provider based on configuration
func NewProvider(config Config) (Provider, error) {
	switch model.CanonicalProvider(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)
	case "anthropic":
		return NewAnthropicProvider(config)
	case "gemini":
		return NewGeminiProvider(config)
	case "ollama":
		return NewOllamaProvider(config)
	default:
		return nil, fmt.Errorf("%w: unknown provider: %s (supported: openai, anthropic, gemini, ollama)",
			model.ErrConfiguration, config.Provider)
	}
}

// NewChain builds the providers of cfg in fallback order
func NewChain(cfg model.Config) ([]Provider, error) {
	chain := make([]Provider, 0, len(cfg.Providers.Order))
	for _, name := range cfg.Providers.Order {
		pc := cfg.Provider(name)
		p, err := NewProvider(ConfigFromModel(name, pc, cfg.Providers.MaxPromptChars))
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", model.ErrConfiguration)
	}
	return chain, nil
}

func missingKey(provider string) error {
	return fmt.Errorf("%w: %s: %w", model.ErrConfiguration, provider, ErrEmptyAPIKey)
}

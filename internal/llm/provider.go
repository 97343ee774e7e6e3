// Package llm adapts external language models into humor judges. Each
// provider turns an EvaluateRequest into a verdict and classifies its
// failures as ProviderErrors.
package llm

import (
	"context"
	"time"

	"github.com/sejmbot/detektor/internal/model"
)

// Provider defines the interface for humor judges
type Provider interface {
	// Name returns the canonical provider name
	Name() string

	// Evaluate judges one fragment. Failures are *ProviderError.
	Evaluate(ctx context.Context, req EvaluateRequest) (*model.EvaluationResult, error)

	// IsAvailable checks if the provider is configured and reachable.
	// Hosted providers only check configuration; rejected credentials
	// surface from Evaluate.
	IsAvailable(ctx context.Context) bool
}

// Config holds provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "gemini", "ollama" or an alias
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for hosted providers
	APIKey string

	// BaseURL overrides the provider endpoint
	BaseURL string

	// Timeout for one request
	Timeout time.Duration

	// MaxTokens for the verdict
	MaxTokens int

	// MaxPromptChars clips fragment text before it is sent
	MaxPromptChars int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
}

// Temperature used for every verdict request
const Temperature = 0.3

// ConfigFromModel converts one provider section of the run configuration
func ConfigFromModel(name string, pc model.ProviderConfig, maxPromptChars int) Config {
	return Config{
		Provider:       model.CanonicalProvider(name),
		Model:          pc.Model,
		APIKey:         pc.APIKey,
		BaseURL:        pc.BaseURL,
		Timeout:        time.Duration(pc.Timeout) * time.Second,
		MaxTokens:      pc.MaxTokens,
		MaxPromptChars: maxPromptChars,
		HTTPProxy:      pc.HTTPProxy,
		HTTPSProxy:     pc.HTTPSProxy,
	}
}

func (c Config) timeout(def time.Duration) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return def
}

func (c Config) maxTokens(def int) int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return def
}

// stamp finalizes a verdict produced at the given instant
func stamp(r *model.EvaluationResult, at time.Time) *model.EvaluationResult {
	r.Cached = false
	r.EvaluatedAt = at.UTC()
	return r
}

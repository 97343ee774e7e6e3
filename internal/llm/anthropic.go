package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/util"
)

// AnthropicDefaultModel is used when no model is configured
const AnthropicDefaultModel = "claude-3-5-haiku-latest"

// AnthropicProvider implements the Provider interface for Claude models
type AnthropicProvider struct {
	client     anthropic.Client
	config     Config
	classifier *ErrorClassifier
}

// NewAnthropicProvider creates a new Anthropic provider. The SDK's own
// retries are disabled; the evaluator owns the retry policy.
func NewAnthropicProvider(config Config) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, missingKey("anthropic")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy)},
		}),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:     anthropic.NewClient(opts...),
		config:     config,
		classifier: &ErrorClassifier{Provider: "anthropic"},
	}, nil
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsAvailable checks if the provider is properly configured
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	return p.config.APIKey != ""
}

// Evaluate asks Claude for a JSON verdict
func (p *AnthropicProvider) Evaluate(ctx context.Context, req EvaluateRequest) (*model.EvaluationResult, error) {
	modelName := p.config.Model
	if modelName == "" {
		modelName = AnthropicDefaultModel
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, p.config.timeout(30*time.Second))
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: int64(p.config.maxTokens(150)),
		System:    []anthropic.TextBlockParam{{Text: SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildUserMessage(req, p.config.MaxPromptChars))),
		},
		Temperature: anthropic.Float(Temperature),
	}

	message, err := p.client.Messages.New(ctxWithTimeout, params)
	if err != nil {
		return nil, p.handleError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		}
	}
	if text.Len() == 0 {
		return nil, p.classifier.InvalidResponse("no text content", ErrEmptyResponse)
	}

	v, err := parseJSONVerdict(text.String())
	if err != nil {
		return nil, p.classifier.InvalidResponse("unparseable verdict", err)
	}

	return stamp(v.result(p.Name()), time.Now()), nil
}

func (p *AnthropicProvider) handleError(err error) error {
	if isContextError(err) {
		return p.classifier.ClassifyContextError(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return p.classifier.ClassifyHTTPError(apiErr.StatusCode, "request rejected", err)
	}

	return NewProviderError("anthropic", ErrorTypeNetwork, 0, "request failed", err)
}

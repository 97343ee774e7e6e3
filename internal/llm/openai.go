package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/util"
)

// OpenAIProvider implements the Provider interface for OpenAI chat models
type OpenAIProvider struct {
	client     *openai.Client
	config     Config
	classifier *ErrorClassifier
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, missingKey("openai")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Transport: &http.Transport{Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy)},
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		config:     config,
		classifier: &ErrorClassifier{Provider: "openai"},
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	return p.config.APIKey != ""
}

// Evaluate asks a chat model for a JSON verdict
func (p *OpenAIProvider) Evaluate(ctx context.Context, req EvaluateRequest) (*model.EvaluationResult, error) {
	modelName := p.config.Model
	if modelName == "" {
		modelName = openai.GPT4oMini
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, p.config.timeout(30*time.Second))
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserMessage(req, p.config.MaxPromptChars)},
		},
		MaxTokens:   p.config.maxTokens(150),
		Temperature: Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctxWithTimeout, chatReq)
	if err != nil {
		return nil, p.handleError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, p.classifier.InvalidResponse("no choices returned", ErrEmptyResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	v, err := parseJSONVerdict(content)
	if err != nil {
		return nil, p.classifier.InvalidResponse("unparseable verdict", err)
	}

	return stamp(v.result(p.Name()), time.Now()), nil
}

func (p *OpenAIProvider) handleError(err error) error {
	if isContextError(err) {
		return p.classifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		return p.classifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return p.classifier.ClassifyHTTPError(reqErr.HTTPStatusCode, "request failed", err)
	}

	return NewProviderError("openai", ErrorTypeNetwork, 0, "request failed", err)
}

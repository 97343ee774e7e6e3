package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/util"
)

// GeminiDefaultModel is used when no model is configured
const GeminiDefaultModel = "gemini-2.0-flash"

// GeminiProvider implements the Provider interface for Google's Gemini API
type GeminiProvider struct {
	client     *genai.Client
	config     Config
	classifier *ErrorClassifier
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(config Config) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, missingKey("gemini")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPClient: &http.Client{
			Transport: &http.Transport{Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy)},
		},
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %v", model.ErrConfiguration, err)
	}

	return &GeminiProvider{
		client:     client,
		config:     config,
		classifier: &ErrorClassifier{Provider: "gemini"},
	}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// IsAvailable checks if the provider is properly configured
func (p *GeminiProvider) IsAvailable(ctx context.Context) bool {
	return p.config.APIKey != ""
}

// Evaluate asks Gemini for a JSON verdict
func (p *GeminiProvider) Evaluate(ctx context.Context, req EvaluateRequest) (*model.EvaluationResult, error) {
	modelName := p.config.Model
	if modelName == "" {
		modelName = GeminiDefaultModel
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, p.config.timeout(30*time.Second))
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(BuildUserMessage(req, p.config.MaxPromptChars), genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(ctxWithTimeout, modelName, contents, p.generationConfig())
	if err != nil {
		return nil, p.handleError(err)
	}

	content := strings.TrimSpace(resp.Text())
	if content == "" {
		return nil, p.classifier.InvalidResponse("no text content", ErrEmptyResponse)
	}

	v, err := parseJSONVerdict(content)
	if err != nil {
		return nil, p.classifier.InvalidResponse("unparseable verdict", err)
	}

	return stamp(v.result(p.Name()), time.Now()), nil
}

func (p *GeminiProvider) generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(Temperature)),
		MaxOutputTokens:   int32(p.config.maxTokens(150)),
		ResponseMIMEType:  "application/json",
	}
}

func (p *GeminiProvider) handleError(err error) error {
	if isContextError(err) {
		return p.classifier.ClassifyContextError(err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		reasons := detailReasons(apiErr.Details)
		if isGeminiAuthFailure(apiErr.Code, apiErr.Status, apiErr.Message, reasons) {
			return NewProviderError("gemini", ErrorTypeAuthentication, apiErr.Code, "gemini rejected the API key", err)
		}
		if containsContentPolicy(apiErr.Message) {
			return NewProviderError("gemini", ErrorTypeContentPolicy, apiErr.Code, "request blocked by safety filters", err)
		}
		return p.classifier.ClassifyHTTPError(apiErr.Code, apiErr.Status, err)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		message := gErr.Message
		if message == "" && len(gErr.Errors) > 0 {
			message = gErr.Errors[0].Message
		}
		reasons := detailReasons(gErr.Details)
		for _, item := range gErr.Errors {
			reasons = append(reasons, item.Reason)
		}
		if isGeminiAuthFailure(gErr.Code, "", message, reasons) {
			return NewProviderError("gemini", ErrorTypeAuthentication, gErr.Code, "gemini rejected the API key", err)
		}
		if containsContentPolicy(message) {
			return NewProviderError("gemini", ErrorTypeContentPolicy, gErr.Code, "request blocked by safety filters", err)
		}
		return p.classifier.ClassifyHTTPError(gErr.Code, message, err)
	}

	return NewProviderError("gemini", ErrorTypeNetwork, 0, "request failed", err)
}

// geminiAuthReasons are ErrorInfo reasons Google attaches to rejected
// credentials. An invalid key arrives as HTTP 400 INVALID_ARGUMENT.
var geminiAuthReasons = map[string]bool{
	"API_KEY_INVALID":         true,
	"API_KEY_EXPIRED":         true,
	"API_KEY_SERVICE_BLOCKED": true,
	"ACCESS_TOKEN_EXPIRED":    true,
	"keyInvalid":              true,
	"keyExpired":              true,
}

func isGeminiAuthFailure(code int, status, message string, reasons []string) bool {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return true
	}
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return true
	}
	for _, r := range reasons {
		if geminiAuthReasons[r] {
			return true
		}
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "api key not valid") || strings.Contains(lower, "api key expired")
}

// detailReasons collects the reason fields of google.rpc.ErrorInfo details
func detailReasons[D any](details []D) []string {
	var reasons []string
	for _, d := range details {
		m, ok := any(d).(map[string]any)
		if !ok {
			continue
		}
		if r, ok := m["reason"].(string); ok && r != "" {
			reasons = append(reasons, r)
		}
	}
	return reasons
}

func containsContentPolicy(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "safety") || strings.Contains(lower, "blocked")
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sejmbot/detektor/internal/model"
	"github.com/sejmbot/detektor/internal/util"
)

// OllamaDefaultURL is the local Ollama endpoint
const OllamaDefaultURL = "http://localhost:11434"

// OllamaProvider implements the Provider interface for local Ollama models
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
	config     Config
	classifier *ErrorClassifier
}

// Ollama API structures
type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"` // Max tokens
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("%w: ollama model must be specified (e.g., llama3.1:8b, bielik)", model.ErrConfiguration)
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = OllamaDefaultURL
	}

	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy),
			},
		},
		config:     config,
		classifier: &ErrorClassifier{Provider: "ollama"},
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// IsAvailable checks that the Ollama server answers by listing its models
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	url := fmt.Sprintf("%s/api/tags", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// Evaluate asks the local model for a labelled-line verdict. JSON replies
// are accepted too.
func (p *OllamaProvider) Evaluate(ctx context.Context, req EvaluateRequest) (*model.EvaluationResult, error) {
	// Local models can be slow to load
	ctxWithTimeout, cancel := context.WithTimeout(ctx, p.config.timeout(60*time.Second))
	defer cancel()

	apiReq := ollamaRequest{
		Model:  p.config.Model,
		Prompt: BuildLinePrompt(req, p.config.MaxPromptChars),
		Stream: false,
		Options: ollamaOptions{
			Temperature: Temperature,
			TopP:        0.9,
			NumPredict:  p.config.maxTokens(200),
		},
	}

	resp, err := p.makeRequest(ctxWithTimeout, apiReq)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(resp.Response)
	if content == "" {
		return nil, p.classifier.InvalidResponse("empty reply", ErrEmptyResponse)
	}

	v, err := parseVerdict(content)
	if err != nil {
		return nil, p.classifier.InvalidResponse("unparseable verdict", err)
	}

	return stamp(v.result(p.Name()), time.Now()), nil
}

// makeRequest makes an HTTP request to the Ollama API
func (p *OllamaProvider) makeRequest(ctx context.Context, apiReq ollamaRequest) (*ollamaResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, NewProviderError("ollama", ErrorTypeBadRequest, 0, "marshal request", err)
	}

	url := fmt.Sprintf("%s/api/generate", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", ErrorTypeBadRequest, 0, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.handleTransportError(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, p.handleTransportError(err)
	}

	if httpResp.StatusCode != http.StatusOK {
		message := string(respBody)
		var apiErr ollamaError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		return nil, p.classifier.ClassifyHTTPError(httpResp.StatusCode, message, nil)
	}

	var resp ollamaResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, p.classifier.InvalidResponse("unmarshal response", err)
	}

	return &resp, nil
}

func (p *OllamaProvider) handleTransportError(err error) error {
	if isContextError(err) {
		return p.classifier.ClassifyContextError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewProviderError("ollama", ErrorTypeTimeout, 0, "request timed out", err)
	}
	return NewProviderError("ollama", ErrorTypeNetwork, 0, fmt.Sprintf("cannot reach %s", p.baseURL), err)
}

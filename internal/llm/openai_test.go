package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/sejmbot/detektor/internal/model"
)

func TestOpenAIProvider_Evaluate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
			t.Errorf("Expected JSON response format, got %+v", req.ResponseFormat)
		}
		if len(req.Messages) != 2 || req.Messages[0].Content != SystemPrompt {
			t.Errorf("Expected system prompt followed by user message, got %+v", req.Messages)
		}

		resp := openai.ChatCompletionResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role:    "assistant",
						Content: `{"is_funny": true, "confidence": 0.85, "reason": "ironia wobec ministra"}`,
					},
					FinishReason: "stop",
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	result, err := provider.Evaluate(context.Background(), EvaluateRequest{Text: "to jest skandal i cyrk", Speaker: "Jan Kowalski"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !result.IsFunny || result.Confidence != 0.85 {
		t.Errorf("Unexpected verdict: %+v", result)
	}
	if result.Provider != "openai" {
		t.Errorf("Expected provider openai, got %s", result.Provider)
	}
	if result.Cached {
		t.Error("A fresh verdict must not be marked cached")
	}
	if result.EvaluatedAt.IsZero() {
		t.Error("Expected evaluation timestamp")
	}
}

func TestOpenAIProvider_Evaluate_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		auth      bool
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, `{"error": {"message": "Internal Server Error", "type": "server_error"}}`, false, true},
		{"rate limit", http.StatusTooManyRequests, `{"error": {"message": "Rate limit exceeded", "type": "rate_limit_error"}}`, false, true},
		{"bad key", http.StatusUnauthorized, `{"error": {"message": "Incorrect API key", "type": "invalid_request_error"}}`, true, false},
		{"bad request", http.StatusBadRequest, `{"error": {"message": "bad model", "type": "invalid_request_error"}}`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second})
			if err != nil {
				t.Fatalf("Failed to create provider: %v", err)
			}

			_, err = provider.Evaluate(context.Background(), EvaluateRequest{Text: "cyrk na kółkach"})
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if got := errors.Is(err, model.ErrProviderAuth); got != tt.auth {
				t.Errorf("auth = %v, want %v (%v)", got, tt.auth, err)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("retryable = %v, want %v (%v)", got, tt.retryable, err)
			}
		})
	}
}

func TestOpenAIProvider_Evaluate_InvalidVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "nie wiem"}}},
		})
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	_, err := provider.Evaluate(context.Background(), EvaluateRequest{Text: "x"})

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Type != ErrorTypeInvalidResponse {
		t.Fatalf("Expected invalid response error, got %v", err)
	}
	if !errors.Is(err, model.ErrProviderTransient) {
		t.Error("Invalid replies are retried like transient failures")
	}
}

func TestOpenAIProvider_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := provider.Evaluate(context.Background(), EvaluateRequest{Text: "x"})

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Type != ErrorTypeTimeout {
		t.Fatalf("Expected timeout error, got %v", err)
	}
}

func TestNewOpenAIProvider_MissingKey(t *testing.T) {
	_, err := NewOpenAIProvider(Config{})
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

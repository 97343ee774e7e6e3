package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sejmbot/detektor/internal/model"
)

func TestOllamaProvider_Evaluate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected path /api/generate, got %s", r.URL.Path)
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Stream {
			t.Error("Expected a non-streaming request")
		}
		if !strings.Contains(req.Prompt, "to jest cyrk") {
			t.Errorf("Prompt does not carry the fragment: %q", req.Prompt)
		}

		resp := ollamaResponse{
			Model:    "llama3.1:8b",
			Response: "ŚMIESZNE: TAK\nPEWNOŚĆ: 75%\nKATEGORIA: ironia\nPOWÓD: drwina z opozycji",
			Done:     true,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	result, err := provider.Evaluate(context.Background(), EvaluateRequest{Text: "to jest cyrk"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !result.IsFunny {
		t.Error("Expected a funny verdict")
	}
	if result.Confidence != 0.75 {
		t.Errorf("Expected confidence 0.75, got %v", result.Confidence)
	}
	if result.Category != model.CategoryIrony {
		t.Errorf("Expected irony, got %s", result.Category)
	}
	if result.Reason != "drwina z opozycji" {
		t.Errorf("Unexpected reason: %q", result.Reason)
	}
	if result.Provider != "ollama" {
		t.Errorf("Expected provider ollama, got %s", result.Provider)
	}
}

func TestOllamaProvider_Evaluate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "model failed to load"}`))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b"})
	_, err := provider.Evaluate(context.Background(), EvaluateRequest{Text: "x"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "model failed to load") {
		t.Errorf("Expected Ollama message in error, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("Server errors should be retryable")
	}
}

func TestOllamaProvider_Evaluate_Garbage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: "Nie potrafię ocenić.", Done: true})
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b"})
	_, err := provider.Evaluate(context.Background(), EvaluateRequest{Text: "x"})

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Type != ErrorTypeInvalidResponse {
		t.Fatalf("Expected invalid response error, got %v", err)
	}
}

func TestOllamaProvider_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: url, Model: "llama3.1:8b"})
	_, err := provider.Evaluate(context.Background(), EvaluateRequest{Text: "x"})

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Type != ErrorTypeNetwork {
		t.Fatalf("Expected network error, got %v", err)
	}
	if !errors.Is(err, model.ErrProviderTransient) {
		t.Error("Network errors are transient")
	}
}

func TestNewOllamaProvider_RequiresModel(t *testing.T) {
	if _, err := NewOllamaProvider(Config{}); !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}

	p, err := NewOllamaProvider(Config{Model: "bielik", BaseURL: "http://ollama:11434/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.baseURL != "http://ollama:11434" {
		t.Errorf("Expected trailing slash trimmed, got %s", p.baseURL)
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tags" {
			t.Errorf("Expected GET /api/tags, got %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.1:8b"}]}`))
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected a running server to be available")
	}
}

func TestOllamaProvider_IsAvailable_Failures(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	goneURL := gone.URL
	gone.Close()

	for name, url := range map[string]string{"server error": broken.URL, "unreachable": goneURL} {
		provider, err := NewOllamaProvider(Config{BaseURL: url, Model: "llama3.1:8b"})
		if err != nil {
			t.Fatalf("Failed to create provider: %v", err)
		}
		if provider.IsAvailable(context.Background()) {
			t.Errorf("%s: expected the provider to be unavailable", name)
		}
	}
}

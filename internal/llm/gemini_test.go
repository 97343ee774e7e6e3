package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/sejmbot/detektor/internal/model"
)

func TestGeminiProvider_HandleError(t *testing.T) {
	p := &GeminiProvider{classifier: &ErrorClassifier{Provider: "gemini"}}

	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{
			name: "invalid key reported as bad argument",
			err: genai.APIError{
				Code:    400,
				Status:  "INVALID_ARGUMENT",
				Message: "API key not valid. Please pass a valid API key.",
				Details: []map[string]any{{
					"@type":  "type.googleapis.com/google.rpc.ErrorInfo",
					"reason": "API_KEY_INVALID",
					"domain": "googleapis.com",
				}},
			},
			want: ErrorTypeAuthentication,
		},
		{
			name: "invalid key reason without message",
			err: fmt.Errorf("generate: %w", genai.APIError{
				Code:    400,
				Status:  "INVALID_ARGUMENT",
				Details: []map[string]any{{"reason": "API_KEY_INVALID"}},
			}),
			want: ErrorTypeAuthentication,
		},
		{
			name: "invalid key message only",
			err:  genai.APIError{Code: 400, Message: "API key not valid. Please pass a valid API key."},
			want: ErrorTypeAuthentication,
		},
		{
			name: "permission denied",
			err:  genai.APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "Method doesn't allow unregistered callers"},
			want: ErrorTypeAuthentication,
		},
		{
			name: "unauthenticated",
			err:  genai.APIError{Code: 401, Status: "UNAUTHENTICATED"},
			want: ErrorTypeAuthentication,
		},
		{
			name: "malformed request stays a bad request",
			err:  genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "Invalid JSON payload received."},
			want: ErrorTypeBadRequest,
		},
		{
			name: "quota",
			err:  genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded"},
			want: ErrorTypeRateLimit,
		},
		{
			name: "safety block",
			err:  genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "Request blocked by safety settings"},
			want: ErrorTypeContentPolicy,
		},
		{
			name: "googleapi key error item",
			err:  &googleapi.Error{Code: 400, Message: "Bad Request", Errors: []googleapi.ErrorItem{{Reason: "keyInvalid"}}},
			want: ErrorTypeAuthentication,
		},
		{
			name: "googleapi error info detail",
			err: &googleapi.Error{
				Code:    400,
				Message: "Bad Request",
				Details: []interface{}{map[string]any{"reason": "API_KEY_INVALID"}},
			},
			want: ErrorTypeAuthentication,
		},
		{
			name: "googleapi server error",
			err:  &googleapi.Error{Code: 503, Message: "The model is overloaded."},
			want: ErrorTypeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.handleError(tt.err)

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.want, pe.Type)
			assert.Equal(t, tt.want == ErrorTypeAuthentication, errors.Is(err, model.ErrProviderAuth))
			if tt.want == ErrorTypeAuthentication {
				assert.False(t, IsRetryable(err))
			}
		})
	}
}

func TestGeminiProvider_Evaluate_InvalidKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {
			"code": 400,
			"message": "API key not valid. Please pass a valid API key.",
			"status": "INVALID_ARGUMENT",
			"details": [{"@type": "type.googleapis.com/google.rpc.ErrorInfo", "reason": "API_KEY_INVALID", "domain": "googleapis.com"}]
		}}`)
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(Config{APIKey: "not-a-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = provider.Evaluate(context.Background(), EvaluateRequest{Text: "to jest cyrk"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrProviderAuth)
	assert.False(t, IsRetryable(err))
}

func TestGeminiProvider_Evaluate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "Słowa-klucze: cyrk") {
			t.Errorf("Request does not carry the keywords: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates": [{"content": {"role": "model", "parts": [
			{"text": "{\"is_funny\": true, \"confidence\": 0.8, \"reason\": \"ironia wobec rządu\"}"}
		]}}]}`)
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(Config{APIKey: "key", BaseURL: server.URL})
	require.NoError(t, err)
	assert.True(t, provider.IsAvailable(context.Background()))

	result, err := provider.Evaluate(context.Background(), EvaluateRequest{Text: "to jest cyrk", Keywords: []string{"cyrk"}})
	require.NoError(t, err)
	assert.True(t, result.IsFunny)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
	assert.Equal(t, "ironia wobec rządu", result.Reason)
	assert.Equal(t, "gemini", result.Provider)
	assert.False(t, result.Cached)
}

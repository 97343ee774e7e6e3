package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sejmbot/detektor/internal/model"
)

var (
	ErrEmptyAPIKey   = errors.New("API key cannot be empty")
	ErrEmptyResponse = errors.New("empty response from API")
)

// ErrorType is the category of a provider failure
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeAuthentication
	ErrorTypeRateLimit
	ErrorTypeBadRequest
	ErrorTypeNotFound
	ErrorTypeServerError
	ErrorTypeContentPolicy
	ErrorTypeNetwork
	ErrorTypeTimeout
	// ErrorTypeInvalidResponse marks a reply that is not a usable verdict
	ErrorTypeInvalidResponse
)

// ProviderError normalizes SDK and HTTP failures into one shape. It
// matches model.ErrProviderAuth or model.ErrProviderTransient under
// errors.Is depending on its type.
type ProviderError struct {
	Type         ErrorType
	Provider     string
	StatusCode   int
	Message      string
	WrappedError error
}

func (e *ProviderError) Error() string {
	base := fmt.Sprintf("%s error", e.Provider)
	if e.StatusCode > 0 {
		base += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if typeStr := e.typeString(); typeStr != "" {
		base += fmt.Sprintf(" [%s]", typeStr)
	}
	if e.Message != "" {
		base += ": " + e.Message
	}
	if e.WrappedError != nil {
		base += fmt.Sprintf(": %v", e.WrappedError)
	}
	return base
}

func (e *ProviderError) Unwrap() error {
	return e.WrappedError
}

// Is maps the error onto the shared error categories
func (e *ProviderError) Is(target error) bool {
	switch target {
	case model.ErrProviderAuth:
		return e.Type == ErrorTypeAuthentication
	case model.ErrProviderTransient:
		return e.IsRetryable()
	}
	return false
}

// IsRetryable reports whether another attempt may succeed
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeInvalidResponse:
		return true
	default:
		return false
	}
}

func (e *ProviderError) typeString() string {
	switch e.Type {
	case ErrorTypeAuthentication:
		return "authentication"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeServerError:
		return "server_error"
	case ErrorTypeContentPolicy:
		return "content_policy"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeInvalidResponse:
		return "invalid_response"
	default:
		return ""
	}
}

// NewProviderError creates a new ProviderError
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:         errType,
		Provider:     provider,
		StatusCode:   statusCode,
		Message:      message,
		WrappedError: wrapped,
	}
}

// IsRetryable reports whether err is worth retrying against the same provider
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return false
}

// ErrorClassifier turns status codes and context errors into ProviderErrors
type ErrorClassifier struct {
	Provider string
}

// ClassifyHTTPError classifies by HTTP status code
func (ec *ErrorClassifier) ClassifyHTTPError(statusCode int, message string, err error) *ProviderError {
	var errType ErrorType
	userMessage := message

	switch statusCode {
	case 401, 403:
		errType = ErrorTypeAuthentication
		userMessage = fmt.Sprintf("%s authentication failed", ec.Provider)
	case 408:
		errType = ErrorTypeTimeout
	case 429:
		errType = ErrorTypeRateLimit
		userMessage = fmt.Sprintf("%s rate limit exceeded", ec.Provider)
	case 400:
		errType = ErrorTypeBadRequest
	case 404:
		errType = ErrorTypeNotFound
	case 500, 502, 503, 504, 529:
		errType = ErrorTypeServerError
	default:
		switch {
		case statusCode >= 400 && statusCode < 500:
			errType = ErrorTypeBadRequest
		case statusCode >= 500:
			errType = ErrorTypeServerError
		default:
			errType = ErrorTypeUnknown
		}
	}

	return NewProviderError(ec.Provider, errType, statusCode, userMessage, err)
}

// ClassifyContextError classifies deadline and cancellation errors. A
// deadline is a provider timeout; cancellation is the caller's doing and
// stays non-retryable.
func (ec *ErrorClassifier) ClassifyContextError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "request canceled", err)
	default:
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "", err)
	}
}

// InvalidResponse reports an unparseable reply
func (ec *ErrorClassifier) InvalidResponse(message string, err error) *ProviderError {
	return NewProviderError(ec.Provider, ErrorTypeInvalidResponse, 0, message, err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

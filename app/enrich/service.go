package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultServiceTimeout = 60 * time.Second

// Service is a text-analysis backend.
type Service interface {
	// ListCapabilities returns the model names usable for generation.
	ListCapabilities(ctx context.Context) ([]string, error)
	// Generate sends prompt to the given model and returns its raw text output.
	Generate(ctx context.Context, capability, prompt string) (string, error)
}

// ServiceOption configures a Service implementation.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	baseURL    string
	httpClient *http.Client
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ServiceOption {
	return func(o *serviceOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithBaseURL overrides the provider's API root
func WithBaseURL(url string) ServiceOption {
	return func(o *serviceOptions) {
		if url != "" {
			o.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client
func WithTimeout(timeout time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if timeout > 0 {
			o.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func buildOptions(defaultBaseURL string, opts []ServiceOption) serviceOptions {
	o := serviceOptions{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultServiceTimeout},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewService builds the Service for the configured provider.
func NewService(provider, apiKey string, opts ...ServiceOption) (Service, error) {
	switch provider {
	case "", "gemini":
		return NewGeminiService(apiKey, opts...), nil
	case "openai":
		return NewOpenAIService(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown enrichment provider %q", provider)
	}
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// parseAPIError extracts error.message from a JSON error body, falling back to the raw body.
func parseAPIError(statusCode int, body []byte) error {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return &StatusError{StatusCode: statusCode, Message: parsed.Error.Message}
	}

	preview := strings.TrimSpace(string(body))
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return &StatusError{StatusCode: statusCode, Message: preview}
}

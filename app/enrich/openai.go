package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const openAIDefaultBaseURL = "https://api.openai.com"

var _ Service = (*OpenAIService)(nil)

// OpenAIService talks to any OpenAI-compatible chat completions API.
type OpenAIService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIService(apiKey string, opts ...ServiceOption) *OpenAIService {
	o := buildOptions(openAIDefaultBaseURL, opts)
	return &OpenAIService{
		apiKey:     apiKey,
		baseURL:    o.baseURL,
		httpClient: o.httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *OpenAIService) ListCapabilities(ctx context.Context) ([]string, error) {
	body, err := s.do(ctx, http.MethodGet, s.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	names := make([]string, 0, len(list.Data))
	for _, model := range list.Data {
		if model.ID != "" {
			names = append(names, model.ID)
		}
	}
	return names, nil
}

func (s *OpenAIService) Generate(ctx context.Context, capability, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: capability,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a news editor. Return ONLY valid JSON."},
			{Role: "user", Content: prompt},
		},
	}
	reqBody.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := s.do(ctx, http.MethodPost, s.baseURL+"/v1/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: undecodable response: %v", ErrEnrichmentMalformed, err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrEnrichmentMalformed)
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *OpenAIService) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

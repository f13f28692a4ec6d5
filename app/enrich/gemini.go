package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"
	geminiModelPrefix    = "models/"
)

var _ Service = (*GeminiService)(nil)

// GeminiService talks to the Generative Language REST API.
type GeminiService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewGeminiService(apiKey string, opts ...ServiceOption) *GeminiService {
	o := buildOptions(geminiDefaultBaseURL, opts)
	return &GeminiService{
		apiKey:     apiKey,
		baseURL:    o.baseURL,
		httpClient: o.httpClient,
	}
}

type geminiModelList struct {
	Models []struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// ListCapabilities returns the models that support generateContent, without the
// "models/" prefix.
func (s *GeminiService) ListCapabilities(ctx context.Context) ([]string, error) {
	var names []string
	pageToken := ""

	for {
		endpoint := s.baseURL + "/v1beta/models?pageSize=1000"
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}

		body, err := s.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list models: %w", err)
		}

		var list geminiModelList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("failed to decode model list: %w", err)
		}

		for _, model := range list.Models {
			if slices.Contains(model.SupportedGenerationMethods, "generateContent") {
				names = append(names, strings.TrimPrefix(model.Name, geminiModelPrefix))
			}
		}

		if list.NextPageToken == "" {
			return names, nil
		}
		pageToken = list.NextPageToken
	}
}

func (s *GeminiService) Generate(ctx context.Context, capability, prompt string) (string, error) {
	var reqBody geminiRequest
	reqBody.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	reqBody.GenerationConfig.ResponseMimeType = "application/json"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	model := strings.TrimPrefix(capability, geminiModelPrefix)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", s.baseURL, url.PathEscape(model))

	body, err := s.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: undecodable response: %v", ErrEnrichmentMalformed, err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", ErrEnrichmentMalformed, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates in response", ErrEnrichmentMalformed)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

func (s *GeminiService) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", s.apiKey)
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

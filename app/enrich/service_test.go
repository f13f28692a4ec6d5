package enrich

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiListCapabilities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))

		if r.URL.Query().Get("pageToken") == "" {
			w.Write([]byte(`{"models":[
				{"name":"models/gemini-flash-latest","supportedGenerationMethods":["generateContent","countTokens"]},
				{"name":"models/embedding-001","supportedGenerationMethods":["embedContent"]}
			],"nextPageToken":"page2"}`))
			return
		}
		assert.Equal(t, "page2", r.URL.Query().Get("pageToken"))
		w.Write([]byte(`{"models":[{"name":"models/gemini-2.0-flash","supportedGenerationMethods":["generateContent"]}]}`))
	}))
	defer server.Close()

	service := NewGeminiService("secret", WithBaseURL(server.URL))
	names, err := service.ListCapabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-flash-latest", "gemini-2.0-flash"}, names)
}

func TestGeminiGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-flash-latest:generateContent", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req geminiRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
		assert.Equal(t, "hello", req.Contents[0].Parts[0].Text)

		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"a\":"},{"text":"1}"}]}}]}`))
	}))
	defer server.Close()

	service := NewGeminiService("secret", WithBaseURL(server.URL))
	out, err := service.Generate(context.Background(), "models/gemini-flash-latest", "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)
}

func TestGeminiGenerateErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		malformed bool
	}{
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"quota exceeded"}}`, false},
		{"server", http.StatusInternalServerError, `oops`, false},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, true},
		{"blocked", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				w.Write([]byte(test.body))
			}))
			defer server.Close()

			_, err := NewGeminiService("k", WithBaseURL(server.URL)).Generate(context.Background(), "m", "p")
			require.Error(t, err)
			if test.malformed {
				assert.ErrorIs(t, err, ErrEnrichmentMalformed)
				return
			}
			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, test.status, statusErr.StatusCode)
		})
	}
}

func TestOpenAIService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/models":
			w.Write([]byte(`{"data":[{"id":"gpt-4o-mini"},{"id":"gpt-4o"}]}`))
		case "/v1/chat/completions":
			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "gpt-4o-mini", req.Model)
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
			w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	service := NewOpenAIService("key", WithBaseURL(server.URL+"/"))

	names, err := service.ListCapabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4o"}, names)

	out, err := service.Generate(context.Background(), "gpt-4o-mini", "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestNewService(t *testing.T) {
	service, err := NewService("gemini", "k")
	require.NoError(t, err)
	assert.IsType(t, &GeminiService{}, service)

	service, err = NewService("openai", "k")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIService{}, service)

	_, err = NewService("unknown", "k")
	assert.Error(t, err)
}

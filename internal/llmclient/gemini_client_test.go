package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mbalholz/applypilot/internal/config"
)

func newTestClient(t *testing.T, endpoint string) *GeminiClient {
	t.Helper()
	c, err := NewGeminiClient(config.LLMConfig{
		Provider:   config.ProviderGemini,
		Model:      "gemini-1.5-flash",
		APIKey:     "test-key",
		Endpoint:   endpoint,
		APITimeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func geminiResponse(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + quote(text) + `}]},"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5,"totalTokenCount":15}}`
}

func quote(s string) string {
	return `"` + s + `"`
}

func TestNewGeminiClient_RequiresAPIKey(t *testing.T) {
	_, err := NewGeminiClient(config.LLMConfig{Model: "gemini-1.5-flash"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestGenerate_HappyPath(t *testing.T) {
	var gotKey atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("x-goog-api-key"))
		w.Write([]byte(geminiResponse("NAVIGATE|https://jobs.example.com")))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	out, err := c.Generate(context.Background(), Request{
		SystemPrompt: "You control a browser.",
		UserPrompt:   "Plan the next step.",
	})

	require.NoError(t, err)
	assert.Equal(t, "NAVIGATE|https://jobs.example.com", out)
	assert.Equal(t, "test-key", gotKey.Load())
}

func TestGenerate_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(geminiResponse("WAIT|2")))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	out, err := c.Generate(context.Background(), Request{UserPrompt: "p"})

	require.NoError(t, err)
	assert.Equal(t, "WAIT|2", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerate_BadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Generate(context.Background(), Request{UserPrompt: "p"})

	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "permanent errors are not retried")
}

func TestGenerate_SafetyBlockIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Generate(context.Background(), Request{UserPrompt: "p"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGenerate_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Generate(context.Background(), Request{UserPrompt: "p"})
	assert.Error(t, err)
}

func TestNew_Factory(t *testing.T) {
	_, err := New(config.LLMConfig{Provider: "openai"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	c, err := New(config.LLMConfig{Provider: config.ProviderGemini, APIKey: "k", Model: "m"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &GeminiClient{}, c)
}

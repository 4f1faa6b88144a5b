package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan StreamResult) (string, error) {
	t.Helper()

	var sb strings.Builder
	for res := range ch {
		if res.Err != nil {
			return sb.String(), res.Err
		}

		sb.Write(res.Data)
	}

	return sb.String(), nil
}

func mustParse(t *testing.T, body string) *UnifiedRequest {
	t.Helper()

	req, err := ParseUnifiedRequest([]byte(body))
	require.NoError(t, err)

	return req
}

func TestBuildOpenAIRequest(t *testing.T) {
	req := mustParse(t, `{
		"model": "gpt:gpt-4o",
		"system": "You are a helpful assistant",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "Hello, world!"}],
		"tools": [{"name": "get_weather", "input_schema": {"type": "object"}}]
	}`)

	body, err := BuildOpenAIRequest(req, "gpt-4o")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))

	assert.Equal(t, "gpt-4o", got["model"])
	assert.Equal(t, true, got["stream"])
	assert.Equal(t, 0.7, got["temperature"])
	assert.Equal(t, float64(100), got["max_tokens"])
	assert.Len(t, got["tools"], 1)

	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "You are a helpful assistant"}, messages[0])
	assert.Equal(t, map[string]any{"role": "user", "content": "Hello, world!"}, messages[1])
}

func TestBuildOpenAIRequest_ExplicitTemperature(t *testing.T) {
	req := mustParse(t, `{"model":"gpt-4o","temperature":0,"messages":[{"role":"user","content":"x"}]}`)

	body, err := BuildOpenAIRequest(req, "gpt-4o")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, float64(0), got["temperature"])
	assert.NotContains(t, got, "max_tokens")
	assert.NotContains(t, got, "tools")
}

func TestOpenAIAdapter_Stream(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotRef  string
	)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRef = r.Header.Get("HTTP-Referer")

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		io.WriteString(w, "data: not json\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	adapter := NewOpenAIAdapter(OpenRouter, upstream.Client(), nil)
	req := mustParse(t, `{"model":"or:openrouter.auto","messages":[{"role":"user","content":"hi"}]}`)

	ch, err := adapter.Stream(context.Background(), req, "openrouter.auto", Credentials{
		APIKey:  "sk-test",
		BaseURL: upstream.URL + "/api/v1/",
		Headers: map[string]string{"HTTP-Referer": "https://example.test"},
	})
	require.NoError(t, err)

	out, err := collect(t, ch)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "https://example.test", gotRef)

	assert.True(t, strings.HasPrefix(out, "event: message_start\n"))
	assert.True(t, strings.HasSuffix(out, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
	assert.Equal(t, 2, strings.Count(out, "event: content_block_delta"))
	assert.Contains(t, out, `"text":"Hel"`)
	assert.Contains(t, out, `"text":"lo"`)
	assert.Contains(t, out, `"model":"openrouter.auto"`)
}

func TestOpenAIAdapter_UpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer upstream.Close()

	adapter := NewOpenAIAdapter(OpenAI, upstream.Client(), nil)
	req := mustParse(t, `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)

	_, err := adapter.Stream(context.Background(), req, "gpt-4o", Credentials{APIKey: "k", BaseURL: upstream.URL})

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusUnauthorized, upstreamErr.Status)
	assert.Equal(t, OpenAI, upstreamErr.Provider)
	assert.Contains(t, upstreamErr.Message, "bad key")
	assert.False(t, upstreamErr.Retryable())
}

func TestOpenAIAdapter_CancelStopsProducer(t *testing.T) {
	release := make(chan struct{})

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer upstream.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())

	adapter := NewOpenAIAdapter(OpenAI, upstream.Client(), nil)
	req := mustParse(t, `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)

	ch, err := adapter.Stream(ctx, req, "gpt-4o", Credentials{APIKey: "k", BaseURL: upstream.URL})
	require.NoError(t, err)

	first := <-ch
	require.NoError(t, first.Err)
	assert.Contains(t, string(first.Data), "message_start")

	cancel()

	for res := range ch {
		assert.NotContains(t, string(res.Data), "message_stop")
	}
}

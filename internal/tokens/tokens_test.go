package tokens

import (
	"errors"
	"testing"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(""))
	assert.Positive(t, Count("hello world"))
	assert.Greater(t, Count("hello world, this is a much longer sentence than before"), Count("hello"))
}

func TestCountRequest(t *testing.T) {
	small, err := providers.ParseUnifiedRequest([]byte(`{"model":"glm-4.7","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)

	large, err := providers.ParseUnifiedRequest([]byte(`{
		"model": "glm-4.7",
		"system": "You are a careful assistant that answers briefly.",
		"messages": [{"role":"user","content":[{"type":"text","text":"Summarize the following paragraph about circuit breakers."}]}],
		"tools": [{"name":"lookup","input_schema":{"type":"object"}}]
	}`))
	require.NoError(t, err)

	assert.Positive(t, CountRequest(small))
	assert.Greater(t, CountRequest(large), CountRequest(small))
}

func useLoader(t *testing.T, get func(string) (*tiktoken.Tiktoken, error)) {
	t.Helper()

	prev := current.Swap(newLoader(get))
	t.Cleanup(func() { current.Store(prev) })
}

func TestCount_DoesNotWaitForEncoding(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	useLoader(t, func(string) (*tiktoken.Tiktoken, error) {
		<-release
		return nil, errors.New("offline")
	})

	counted := make(chan int, 1)
	go func() { counted <- Count("hello world") }()

	select {
	case n := <-counted:
		assert.Equal(t, 3, n)
	case <-time.After(time.Second):
		t.Fatal("Count blocked while the encoding was loading")
	}

	assert.False(t, Available())
}

func TestCount_EstimatesWhenLoadFails(t *testing.T) {
	useLoader(t, func(string) (*tiktoken.Tiktoken, error) {
		return nil, errors.New("offline")
	})

	<-Ready()

	assert.False(t, Available())
	assert.Equal(t, 2, Count("abcdefgh"))
}

package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeMessages(t *testing.T, raw string) []Message {
	t.Helper()

	var messages []Message
	require.NoError(t, json.Unmarshal([]byte(raw), &messages))

	return messages
}

func TestMessageContent_Unmarshal(t *testing.T) {
	messages := decodeMessages(t, `[
		{"role": "user", "content": "Hello"},
		{"role": "user", "content": [{"type": "text", "text": "a"}, "b"]}
	]`)

	assert.True(t, messages[0].Content.IsText)
	assert.Equal(t, "Hello", messages[0].Content.Text)

	require.Len(t, messages[1].Content.Blocks, 2)
	assert.Equal(t, ContentBlock{Type: ContentTypeText, Text: "b"}, messages[1].Content.Blocks[1])

	out, err := json.Marshal(messages[0].Content)
	require.NoError(t, err)
	assert.JSONEq(t, `"Hello"`, string(out))
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{"string as-is", `"Hello world"`, "Hello world"},
		{"text blocks concatenated", `[{"type":"text","text":"Hello "},{"type":"text","text":"world"}]`, "Hello world"},
		{"tool result string", `[{"type":"tool_result","tool_use_id":"123","content":"tool output"}]`, "tool output"},
		{"tool result structured", `[{"type":"tool_result","tool_use_id":"1","content":[{"type":"text", "text":"x"}]}]`, `[{"type":"text","text":"x"}]`},
		{"mixed", `[{"type":"text","text":"Hello "},{"type":"tool_result","tool_use_id":"123","content":"world"}]`, "Hello world"},
		{"non-text dropped", `[{"type":"text","text":"Hello "},{"type":"tool_use","id":"123","name":"test","input":{}},{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}}]`, "Hello "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c MessageContent
			require.NoError(t, json.Unmarshal([]byte(tt.content), &c))
			assert.Equal(t, tt.expected, c.PlainText())
		})
	}
}

func TestToOpenAIMessages(t *testing.T) {
	messages := decodeMessages(t, `[
		{"role": "user", "content": "Hello"},
		{"role": "assistant", "content": "Hi there!"},
		{"role": "user", "content": [{"type":"text","text":"What is "},{"type":"text","text":"2+2?"}]}
	]`)

	assert.Equal(t, []OpenAIMessage{
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there!"},
		{Role: "user", Content: "What is 2+2?"},
	}, ToOpenAIMessages(messages))
}

func TestToGeminiContents(t *testing.T) {
	messages := decodeMessages(t, `[
		{"role": "user", "content": "Hello"},
		{"role": "assistant", "content": [{"type":"text","text":"Hi"},{"type":"text","text":" there"}]},
		{"role": "system", "content": "rules"}
	]`)

	assert.Equal(t, []GeminiContent{
		{Role: "user", Parts: []GeminiPart{{Text: "Hello"}}},
		{Role: "model", Parts: []GeminiPart{{Text: "Hi there"}}},
		{Role: "user", Parts: []GeminiPart{{Text: "rules"}}},
	}, ToGeminiContents(messages))
}

func TestMappingPreservesPlainText(t *testing.T) {
	texts := []string{"", "plain", "multi\nline", "unicode ✓ 日本語", `quotes "and" \ slashes`}

	for _, text := range texts {
		messages := []Message{{Role: RoleUser, Content: TextContent(text)}}

		assert.Equal(t, text, ToOpenAIMessages(messages)[0].Content)
		assert.Equal(t, text, ToGeminiContents(messages)[0].Parts[0].Text)

		again := []Message{{Role: RoleUser, Content: TextContent(ToOpenAIMessages(messages)[0].Content)}}
		assert.Equal(t, ToOpenAIMessages(messages), ToOpenAIMessages(again))
	}
}

func TestParseUnifiedRequest(t *testing.T) {
	body := []byte(`{"model":"glm:glm-4.7","max_tokens":64,"system":[{"type":"text","text":"be brief"}],"messages":[{"role":"user","content":"hi"}],"metadata":{"user_id":"u"}}`)

	req, err := ParseUnifiedRequest(body)
	require.NoError(t, err)

	assert.Equal(t, "glm:glm-4.7", req.Model)
	assert.Equal(t, 64, req.MaxTokens)
	assert.Equal(t, "be brief", req.SystemText())

	raw, err := req.Raw()
	require.NoError(t, err)
	assert.Equal(t, body, raw)

	_, err = ParseUnifiedRequest([]byte(`{"model":`))
	assert.Error(t, err)
}

package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProviderKey identifies an upstream provider. The six builtin keys are
// constants; plugin providers add their own keys at runtime.
type ProviderKey string

const (
	OpenAI     ProviderKey = "openai"
	OpenRouter ProviderKey = "openrouter"
	Gemini     ProviderKey = "gemini"
	GLM        ProviderKey = "glm"
	Anthropic  ProviderKey = "anthropic"
	Minimax    ProviderKey = "minimax"
)

// BuiltinKeys lists the providers the gateway knows without plugins.
var BuiltinKeys = []ProviderKey{OpenAI, OpenRouter, Gemini, GLM, Anthropic, Minimax}

// IsBuiltin reports whether k is one of the six builtin providers.
func (k ProviderKey) IsBuiltin() bool {
	for _, b := range BuiltinKeys {
		if k == b {
			return true
		}
	}

	return false
}

// ProviderModel is a resolved routing target.
type ProviderModel struct {
	Provider ProviderKey `json:"provider"`
	Model    string      `json:"model"`
}

func (pm ProviderModel) String() string {
	return string(pm.Provider) + ":" + pm.Model
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	ContentTypeText       = "text"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
	ContentTypeImage      = "image"

	ContentTypeEventStream = "text/event-stream"
)

// UnifiedRequest is the inbound Anthropic Messages request.
type UnifiedRequest struct {
	Model       string            `json:"model" validate:"required"`
	Messages    []Message         `json:"messages" validate:"required,min=1,dive"`
	MaxTokens   int               `json:"max_tokens,omitempty" validate:"omitempty,min=1"`
	Temperature *float64          `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	System      *MessageContent   `json:"system,omitempty"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
	Stream      bool              `json:"stream,omitempty"`

	raw []byte
}

// ParseUnifiedRequest decodes an inbound body and keeps the raw bytes for
// pass-through upstreams.
func ParseUnifiedRequest(body []byte) (*UnifiedRequest, error) {
	var req UnifiedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}

	req.raw = append([]byte(nil), body...)

	return &req, nil
}

// Raw returns the original request body. When the request was built in code
// rather than parsed, the struct itself is marshalled.
func (r *UnifiedRequest) Raw() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}

	return json.Marshal(r)
}

// SystemText returns the system prompt flattened to plain text.
func (r *UnifiedRequest) SystemText() string {
	if r.System == nil {
		return ""
	}

	return r.System.PlainText()
}

// Message is a single conversation turn.
type Message struct {
	Role    string         `json:"role" validate:"required,oneof=user assistant system"`
	Content MessageContent `json:"content"`
}

// MessageContent is either plain text or an ordered list of typed blocks.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
	IsText bool
}

// TextContent builds plain-string content.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s, IsText: true}
}

// BlockContent builds block-list content.
func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		c.IsText = true
		return json.Unmarshal(data, &c.Text)
	}

	c.IsText = false

	return json.Unmarshal(data, &c.Blocks)
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsText {
		return json.Marshal(c.Text)
	}

	if c.Blocks == nil {
		return []byte("[]"), nil
	}

	return json.Marshal(c.Blocks)
}

// PlainText flattens content into a single string. Text blocks are
// concatenated without separators, tool results are stringified and every
// other block type (image, tool_use) is dropped.
func (c MessageContent) PlainText() string {
	if c.IsText {
		return c.Text
	}

	var sb bytes.Buffer
	for _, block := range c.Blocks {
		switch block.Type {
		case ContentTypeText:
			sb.WriteString(block.Text)
		case ContentTypeToolResult:
			sb.WriteString(block.ResultText())
		}
	}

	return sb.String()
}

// ContentBlock is one typed element of block-list content.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
}

type contentBlockAlias ContentBlock

// UnmarshalJSON accepts bare strings inside a block list as text blocks.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*b = ContentBlock{Type: ContentTypeText, Text: s}

		return nil
	}

	var alias contentBlockAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	*b = ContentBlock(alias)

	return nil
}

// ResultText returns tool_result content as text: strings verbatim, anything
// else as compact JSON.
func (b ContentBlock) ResultText() string {
	raw := bytes.TrimSpace(b.Content)
	if len(raw) == 0 {
		return ""
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}

	return compact.String()
}

// ImageSource describes an inline image block.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Credentials carry everything an adapter needs to authenticate upstream.
type Credentials struct {
	APIKey  string
	BaseURL string
	Headers map[string]string
}

// StreamResult is one unit pushed from an adapter's producer goroutine to the
// response writer. Err is set at most once, on the final result.
type StreamResult struct {
	Data []byte
	Err  error
}

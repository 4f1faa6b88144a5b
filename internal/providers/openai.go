package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MohMaya/claude-glm-wrapper/internal/sse"
)

const defaultTemperature = 0.7

// OpenAIAdapter speaks the chat completions dialect. It serves both openai
// and openrouter.
type OpenAIAdapter struct {
	upstream
}

func NewOpenAIAdapter(provider ProviderKey, client *http.Client, logger *slog.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{upstream: newUpstream(provider, client, logger)}
}

type openAIRequest struct {
	Model       string            `json:"model"`
	Messages    []OpenAIMessage   `json:"messages"`
	Stream      bool              `json:"stream"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// BuildOpenAIRequest maps a unified request onto a chat completions body.
// A non-empty system prompt becomes a leading system message.
func BuildOpenAIRequest(req *UnifiedRequest, target string) ([]byte, error) {
	messages := ToOpenAIMessages(req.Messages)
	if system := req.SystemText(); system != "" {
		messages = append([]OpenAIMessage{{Role: RoleSystem, Content: system}}, messages...)
	}

	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	return json.Marshal(openAIRequest{
		Model:       target,
		Messages:    messages,
		Stream:      true,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
	})
}

func (a *OpenAIAdapter) Stream(ctx context.Context, req *UnifiedRequest, target string, creds Credentials) (<-chan StreamResult, error) {
	if len(req.Tools) > 0 {
		a.logger.Warn("Tool definitions forwarded; tool calls in the response are not re-encoded", "tools", len(req.Tools))
	}

	body, err := BuildOpenAIRequest(req, target)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", a.provider, err)
	}

	headers := map[string]string{"Authorization": "Bearer " + creds.APIKey}
	for key, value := range creds.Headers {
		headers[key] = value
	}

	url := strings.TrimSuffix(creds.BaseURL, "/") + "/chat/completions"

	respBody, err := a.post(ctx, url, body, headers)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamResult, streamBuffer)

	go func() {
		defer close(out)
		defer respBody.Close()

		a.pump(ctx, respBody, target, emitter{ctx: ctx, out: out})
	}()

	return out, nil
}

func (a *OpenAIAdapter) pump(ctx context.Context, body io.Reader, target string, emit emitter) {
	if !emit.send(sse.Encode(sse.StartMessage(target)...)) {
		return
	}

	dec := sse.NewDecoder(body)

	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			if n := dec.Dropped(); n > 0 {
				a.logger.Warn("Dropped oversized stream events", "count", n)
			}

			break
		}

		if err != nil {
			emit.fail(fmt.Errorf("read %s stream: %w", a.provider, err))
			return
		}

		if ev.Data == "" || ev.Data == "[DONE]" {
			continue
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			a.logger.Debug("Skipping malformed stream chunk", "error", err)
			continue
		}

		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
			continue
		}

		if !emit.send(sse.Encode(sse.Delta(*chunk.Choices[0].Delta.Content)...)) {
			return
		}
	}

	if ctx.Err() == nil {
		emit.send(sse.Encode(sse.StopMessage()...))
	}
}

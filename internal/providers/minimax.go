package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MohMaya/claude-glm-wrapper/internal/sse"
)

const (
	minimaxAttempts = 3
	minimaxBackoff  = time.Second
)

// minimaxChunk covers every response shape the Minimax endpoint has been
// seen to emit.
type minimaxChunk struct {
	Delta *struct {
		Text *string `json:"text"`
	} `json:"delta"`
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Content json.RawMessage `json:"content"`
	Message *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// textExtractor pulls delta text from one known response shape.
type textExtractor struct {
	Name    string
	Extract func(chunk *minimaxChunk) (string, bool)
}

// minimaxExtractors are tried in order; the first match wins.
var minimaxExtractors = []textExtractor{
	{
		Name: "delta.text",
		Extract: func(c *minimaxChunk) (string, bool) {
			if c.Delta == nil || c.Delta.Text == nil {
				return "", false
			}

			return *c.Delta.Text, true
		},
	},
	{
		Name: "choices[0].delta.content",
		Extract: func(c *minimaxChunk) (string, bool) {
			if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
				return "", false
			}

			return *c.Choices[0].Delta.Content, true
		},
	},
	{
		Name: "content",
		Extract: func(c *minimaxChunk) (string, bool) {
			return rawString(c.Content)
		},
	},
	{
		Name: "message.content",
		Extract: func(c *minimaxChunk) (string, bool) {
			if c.Message == nil {
				return "", false
			}

			return rawString(c.Message.Content)
		},
	},
}

func rawString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}

	return s, true
}

// ExtractMinimaxText decodes one data payload and returns the delta text of
// the first matching shape.
func ExtractMinimaxText(data []byte) (string, bool) {
	var chunk minimaxChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", false
	}

	for _, ex := range minimaxExtractors {
		if text, ok := ex.Extract(&chunk); ok {
			return text, true
		}
	}

	return "", false
}

// MinimaxAdapter sends pass-through shaped requests, retries transient
// failures and re-encodes whatever dialect comes back into unified frames.
type MinimaxAdapter struct {
	upstream
	policy RetryPolicy
}

func NewMinimaxAdapter(client *http.Client, logger *slog.Logger) *MinimaxAdapter {
	a := &MinimaxAdapter{upstream: newUpstream(Minimax, client, logger)}
	a.policy = RetryPolicy{
		MaxAttempts: minimaxAttempts,
		Delay:       LinearBackoff(minimaxBackoff),
		OnRetry: func(err error, attempt int, delay time.Duration) {
			a.logger.Warn("Minimax request failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	}

	return a
}

// WithRetryPolicy replaces the default policy.
func (a *MinimaxAdapter) WithRetryPolicy(policy RetryPolicy) *MinimaxAdapter {
	a.policy = policy
	return a
}

func (a *MinimaxAdapter) Stream(ctx context.Context, req *UnifiedRequest, target string, creds Credentials) (<-chan StreamResult, error) {
	body, err := PassThroughBody(req, target)
	if err != nil {
		return nil, fmt.Errorf("encode minimax request: %w", err)
	}

	headers := passThroughHeaders(AuthBearer, creds)

	respBody, err := Retry(ctx, a.policy, func(ctx context.Context) (io.ReadCloser, error) {
		return a.post(ctx, MessagesURL(creds.BaseURL), body, headers)
	})
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

func (a *MinimaxAdapter) pump(ctx context.Context, body io.Reader, target string, emit emitter) {
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
			emit.fail(fmt.Errorf("read minimax stream: %w", err))
			return
		}

		if ev.Data == "" || ev.Data == "[DONE]" {
			continue
		}

		text, ok := ExtractMinimaxText([]byte(ev.Data))
		if !ok {
			a.logger.Debug("No text in stream chunk", "event", ev.Event)
			continue
		}

		if !emit.send(sse.Encode(sse.Delta(text)...)) {
			return
		}
	}

	if ctx.Err() == nil {
		emit.send(sse.Encode(sse.StopMessage()...))
	}
}

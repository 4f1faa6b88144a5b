package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MohMaya/claude-glm-wrapper/internal/sse"
)

// GeminiAdapter streams from the generateContent SSE endpoint.
type GeminiAdapter struct {
	upstream
}

func NewGeminiAdapter(client *http.Client, logger *slog.Logger) *GeminiAdapter {
	return &GeminiAdapter{upstream: newUpstream(Gemini, client, logger)}
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []GeminiContent        `json:"contents"`
	SystemInstruction *GeminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Text joins the parts of the first candidate.
func (c geminiChunk) Text() string {
	if len(c.Candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, part := range c.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	return sb.String()
}

// BuildGeminiRequest maps a unified request onto a generateContent body.
// Tools are not forwarded.
func BuildGeminiRequest(req *UnifiedRequest) ([]byte, error) {
	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	body := geminiRequest{
		Contents: ToGeminiContents(req.Messages),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	if system := req.SystemText(); system != "" {
		body.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: system}}}
	}

	return json.Marshal(body)
}

// GeminiStreamURL builds the streaming endpoint for model.
func GeminiStreamURL(baseURL, model, key string) string {
	return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		strings.TrimSuffix(baseURL, "/"), url.PathEscape(model), url.QueryEscape(key))
}

func (a *GeminiAdapter) Stream(ctx context.Context, req *UnifiedRequest, target string, creds Credentials) (<-chan StreamResult, error) {
	if len(req.Tools) > 0 {
		a.logger.Warn("Gemini does not receive tool definitions; dropping them", "tools", len(req.Tools))
	}

	body, err := BuildGeminiRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}

	respBody, err := a.post(ctx, GeminiStreamURL(creds.BaseURL, target, creds.APIKey), body, creds.Headers)
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

func (a *GeminiAdapter) pump(ctx context.Context, body io.Reader, target string, emit emitter) {
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
			emit.fail(fmt.Errorf("read gemini stream: %w", err))
			return
		}

		if ev.Data == "" {
			continue
		}

		var chunk geminiChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			a.logger.Debug("Skipping malformed stream chunk", "error", err)
			continue
		}

		if !emit.send(sse.Encode(sse.Delta(chunk.Text())...)) {
			return
		}
	}

	if ctx.Err() == nil {
		emit.send(sse.Encode(sse.StopMessage()...))
	}
}

// Package ollama serves local Ollama models as a plugin provider.
package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MohMaya/claude-glm-wrapper/internal/plugins"
	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
	"github.com/MohMaya/claude-glm-wrapper/internal/sse"
)

const (
	ID             = "ollama"
	DefaultBaseURL = "http://localhost:11434"

	defaultTemperature = 0.7
	maxLine            = 1 << 20
)

var models = []providers.ModelInfo{
	{ID: "llama3.1", Name: "Llama 3.1 8B", ContextWindow: 131072, Default: true},
	{ID: "qwen2.5", Name: "Qwen 2.5 72B", ContextWindow: 131072},
	{ID: "mistral", Name: "Mistral 7B", ContextWindow: 32768},
	{ID: "codellama", Name: "CodeLlama 7B", ContextWindow: 16384},
	{ID: "deepseek-coder", Name: "DeepSeek Coder 6.7B", ContextWindow: 16384},
}

type Plugin struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ plugins.Plugin = (*Plugin)(nil)

// New is the plugins.Factory for Ollama.
func New(cfg plugins.Config, client *http.Client, logger *slog.Logger) (plugins.Plugin, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	if client == nil {
		client = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Plugin{
		baseURL: strings.TrimSuffix(base, "/"),
		client:  client,
		logger:  logger,
	}, nil
}

func (p *Plugin) ID() providers.ProviderKey {
	return ID
}

func (p *Plugin) Info() providers.ProviderInfo {
	return providers.ProviderInfo{
		ID:          ID,
		DisplayName: "Ollama (Local)",
		Models:      append([]providers.ModelInfo(nil), models...),
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// BuildPrompt flattens the conversation into tagged turns.
func BuildPrompt(req *providers.UnifiedRequest) string {
	var parts []string

	if system := req.SystemText(); system != "" {
		parts = append(parts, "<system>"+system+"</system>")
	}

	for _, m := range req.Messages {
		role := providers.RoleUser
		if m.Role == providers.RoleAssistant {
			role = providers.RoleAssistant
		}

		parts = append(parts, fmt.Sprintf("<%s>%s</%s>", role, m.Content.PlainText(), role))
	}

	return strings.Join(parts, "\n")
}

func (p *Plugin) Stream(ctx context.Context, req *providers.UnifiedRequest, target string, creds providers.Credentials) (<-chan providers.StreamResult, error) {
	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	body, err := json.Marshal(generateRequest{
		Model:  target,
		Prompt: BuildPrompt(req),
		Stream: true,
		Options: generateOptions{
			Temperature: temperature,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}

	base := p.baseURL
	if creds.BaseURL != "" {
		base = strings.TrimSuffix(creds.BaseURL, "/")
	}

	headers := map[string]string{"Accept": "application/x-ndjson"}
	if creds.APIKey != "" {
		headers["Authorization"] = "Bearer " + creds.APIKey
	}

	respBody, err := providers.Post(ctx, p.client, ID, base+"/api/generate", body, headers)
	if err != nil {
		return nil, err
	}

	return providers.Produce(ctx, respBody, func(send func([]byte) bool, fail func(error)) {
		if !send(sse.Encode(sse.StartMessage(target)...)) {
			return
		}

		scanner := bufio.NewScanner(respBody)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var chunk generateChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				p.logger.Debug("Skipping malformed ollama line", "error", err)
				continue
			}

			if chunk.Response != "" && !send(sse.Encode(sse.Delta(chunk.Response)...)) {
				return
			}

			if chunk.Done {
				break
			}
		}

		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("read ollama stream: %w", err))
			return
		}

		if ctx.Err() == nil {
			send(sse.Encode(sse.StopMessage()...))
		}
	}), nil
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// ListModels asks the Ollama daemon which models are installed.
func (p *Plugin) ListModels(ctx context.Context) ([]providers.ModelInfo, error) {
	resp, err := p.tags(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list ollama models: HTTP %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}

	out := make([]providers.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		id := strings.TrimSuffix(m.Name, ":latest")
		out = append(out, providers.ModelInfo{ID: id, Name: m.Name})
	}

	return out, nil
}

func (p *Plugin) HealthCheck(ctx context.Context) plugins.HealthStatus {
	start := time.Now()

	resp, err := p.tags(ctx)
	if err != nil {
		return plugins.HealthStatus{Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return plugins.HealthStatus{Error: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	return plugins.HealthStatus{Healthy: true, LatencyMs: time.Since(start).Milliseconds()}
}

func (p *Plugin) tags(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	return p.client.Do(req)
}

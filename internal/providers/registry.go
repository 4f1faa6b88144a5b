package providers

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
)

// ModelInfo describes one model a provider serves.
type ModelInfo struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	ContextWindow   int      `json:"context_window,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	Default         bool     `json:"default,omitempty"`
}

// ProviderInfo is the static descriptor of a provider.
type ProviderInfo struct {
	ID                 ProviderKey `json:"id"`
	DisplayName        string      `json:"display_name"`
	Models             []ModelInfo `json:"models"`
	IsNative           bool        `json:"is_native"`
	RequiredCredential string      `json:"required_credential,omitempty"`
	Plugin             bool        `json:"plugin,omitempty"`
}

// DefaultModel returns the model flagged as default, else the first one.
func (p ProviderInfo) DefaultModel() (ModelInfo, bool) {
	for _, m := range p.Models {
		if m.Default {
			return m, true
		}
	}

	if len(p.Models) > 0 {
		return p.Models[0], true
	}

	return ModelInfo{}, false
}

// DefaultOrder is the fallback preference order of the builtin providers.
var DefaultOrder = []ProviderKey{GLM, Minimax, OpenAI, Gemini, OpenRouter, Anthropic}

var builtinProviders = []ProviderInfo{
	{
		ID:          GLM,
		DisplayName: "GLM (Z.AI)",
		Models: []ModelInfo{
			{ID: "glm-4.7", Name: "GLM-4.7", ContextWindow: 200000, Default: true},
			{ID: "glm-4.6", Name: "GLM-4.6", ContextWindow: 200000},
			{ID: "glm-4.5", Name: "GLM-4.5", ContextWindow: 128000},
			{ID: "glm-4.5-air", Name: "GLM-4.5-Air", ContextWindow: 128000},
		},
		RequiredCredential: "ZAI_API_KEY",
	},
	{
		ID:          Minimax,
		DisplayName: "Minimax",
		Models: []ModelInfo{
			{ID: "MiniMax-M2.1", Name: "MiniMax-M2.1", Default: true},
			{ID: "MiniMax-M2.1-32k", Name: "MiniMax-M2.1-32k", ContextWindow: 32000},
		},
		RequiredCredential: "MINIMAX_API_KEY",
	},
	{
		ID:          OpenAI,
		DisplayName: "OpenAI",
		Models: []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000, Default: true},
			{ID: "gpt-4o-mini", Name: "GPT-4o Mini", ContextWindow: 128000},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextWindow: 128000},
		},
		RequiredCredential: "OPENAI_API_KEY",
	},
	{
		ID:          Anthropic,
		DisplayName: "Anthropic (Claude Code)",
		Models: []ModelInfo{
			{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000, Default: true},
			{ID: "claude-haiku-4-20250514", Name: "Claude Haiku 4", ContextWindow: 200000},
			{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextWindow: 200000},
		},
		IsNative:           true,
		RequiredCredential: "ANTHROPIC_API_KEY",
	},
	{
		ID:          Gemini,
		DisplayName: "Google Gemini",
		Models: []ModelInfo{
			{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextWindow: 1000000, Default: true},
			{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextWindow: 2000000},
		},
		RequiredCredential: "GEMINI_API_KEY",
	},
	{
		ID:          OpenRouter,
		DisplayName: "OpenRouter",
		Models: []ModelInfo{
			{ID: "openrouter.auto", Name: "Auto-Select", Default: true},
			{ID: "anthropic/claude-sonnet-4", Name: "Anthropic Sonnet"},
		},
		RequiredCredential: "OPENROUTER_API_KEY",
	},
}

type entry struct {
	info    ProviderInfo
	adapter Adapter
}

// Registry is the catalogue of builtin and plugin providers together with
// the adapter that serves each of them.
type Registry struct {
	mu      sync.RWMutex
	entries map[ProviderKey]*entry
	plugins []ProviderKey
}

// NewRegistry builds a registry with the six builtin providers wired to
// their adapters.
func NewRegistry(client *http.Client, logger *slog.Logger) *Registry {
	r := &Registry{entries: make(map[ProviderKey]*entry)}

	adapters := map[ProviderKey]Adapter{
		OpenAI:     NewOpenAIAdapter(OpenAI, client, logger),
		OpenRouter: NewOpenAIAdapter(OpenRouter, client, logger),
		Gemini:     NewGeminiAdapter(client, logger),
		Anthropic:  NewPassThroughAdapter(Anthropic, AuthAPIKey, client, logger),
		GLM:        NewPassThroughAdapter(GLM, AuthBearer, client, logger),
		Minimax:    NewMinimaxAdapter(client, logger),
	}

	for _, info := range builtinProviders {
		r.entries[info.ID] = &entry{info: cloneInfo(info), adapter: adapters[info.ID]}
	}

	return r
}

// SetAdapter replaces the adapter serving a known provider.
func (r *Registry) SetAdapter(id ProviderKey, adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("unknown provider %q", id)
	}

	e.adapter = adapter

	return nil
}

// RegisterPlugin adds a plugin provider. Plugins are never native and join
// the fallback order after the builtin providers.
func (r *Registry) RegisterPlugin(info ProviderInfo, adapter Adapter) error {
	if info.ID == "" {
		return fmt.Errorf("plugin id is required")
	}

	if adapter == nil {
		return fmt.Errorf("plugin %q has no adapter", info.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[info.ID]; ok && !existing.info.Plugin {
		return fmt.Errorf("plugin %q collides with builtin provider", info.ID)
	}

	info = cloneInfo(info)
	info.Plugin = true
	info.IsNative = false

	if _, ok := r.entries[info.ID]; !ok {
		r.plugins = append(r.plugins, info.ID)
	}

	r.entries[info.ID] = &entry{info: info, adapter: adapter}

	return nil
}

// UnregisterPlugin removes a plugin provider. Builtin providers are kept.
func (r *Registry) UnregisterPlugin(id ProviderKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || !e.info.Plugin {
		return
	}

	delete(r.entries, id)
	r.plugins = slices.DeleteFunc(r.plugins, func(k ProviderKey) bool { return k == id })
}

// IsPlugin reports whether id names a registered plugin.
func (r *Registry) IsPlugin(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[ProviderKey(id)]

	return ok && e.info.Plugin
}

// Order returns the fallback preference order.
func (r *Registry) Order() []ProviderKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order := make([]ProviderKey, 0, len(DefaultOrder)+len(r.plugins))
	for _, id := range DefaultOrder {
		if _, ok := r.entries[id]; ok {
			order = append(order, id)
		}
	}

	return append(order, r.plugins...)
}

// List returns every provider in fallback order.
func (r *Registry) List() []ProviderInfo {
	order := r.Order()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(order))
	for _, id := range order {
		if e, ok := r.entries[id]; ok {
			out = append(out, cloneInfo(e.info))
		}
	}

	return out
}

// Get returns the descriptor of a provider.
func (r *Registry) Get(id ProviderKey) (ProviderInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return ProviderInfo{}, false
	}

	return cloneInfo(e.info), true
}

// Adapter returns the adapter serving a provider.
func (r *Registry) Adapter(id ProviderKey) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok || e.adapter == nil {
		return nil, false
	}

	return e.adapter, true
}

// IsNative reports whether a provider is reachable without the gateway.
func (r *Registry) IsNative(id ProviderKey) bool {
	info, ok := r.Get(id)
	return ok && info.IsNative
}

// DefaultModel returns the default model id of a provider.
func (r *Registry) DefaultModel(id ProviderKey) (string, bool) {
	info, ok := r.Get(id)
	if !ok {
		return "", false
	}

	m, ok := info.DefaultModel()

	return m.ID, ok
}

// Model looks up a single model of a provider.
func (r *Registry) Model(id ProviderKey, model string) (ModelInfo, bool) {
	info, ok := r.Get(id)
	if !ok {
		return ModelInfo{}, false
	}

	for _, m := range info.Models {
		if m.ID == model {
			return m, true
		}
	}

	return ModelInfo{}, false
}

// ProviderModelInfo pairs a model with the provider serving it.
type ProviderModelInfo struct {
	Provider ProviderKey `json:"provider"`
	Model    ModelInfo   `json:"model"`
}

// AllModels lists every model of every provider in fallback order.
func (r *Registry) AllModels() []ProviderModelInfo {
	var out []ProviderModelInfo
	for _, info := range r.List() {
		for _, m := range info.Models {
			out = append(out, ProviderModelInfo{Provider: info.ID, Model: m})
		}
	}

	return out
}

// RequiredCredential names the credential a provider needs, if any.
func (r *Registry) RequiredCredential(id ProviderKey) string {
	info, ok := r.Get(id)
	if !ok {
		return ""
	}

	return info.RequiredCredential
}

var domainProviders = map[string]ProviderKey{
	"openrouter.ai":                     OpenRouter,
	"api.openrouter.ai":                 OpenRouter,
	"api.openai.com":                    OpenAI,
	"api.anthropic.com":                 Anthropic,
	"generativelanguage.googleapis.com": Gemini,
	"api.z.ai":                          GLM,
	"open.bigmodel.cn":                  GLM,
	"api.minimax.io":                    Minimax,
	"api.minimaxi.com":                  Minimax,
}

// DetectProvider guesses which builtin provider a base URL belongs to.
func DetectProvider(baseURL string) (ProviderKey, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	domain := strings.ToLower(u.Hostname())
	if id, ok := domainProviders[domain]; ok {
		return id, nil
	}

	return "", fmt.Errorf("no provider known for domain: %s", domain)
}

func cloneInfo(info ProviderInfo) ProviderInfo {
	info.Models = slices.Clone(info.Models)
	return info
}

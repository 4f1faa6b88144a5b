// Package plugins loads third-party providers into the provider registry.
//
// Implementations are compiled into the binary and registered with a Host
// under an id. A plugin directory then decides which of them are enabled and
// how they are configured: every <dir>/<name>/plugin.json manifest whose id
// matches a registered factory produces one plugin provider.
package plugins

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

const ManifestFilename = "plugin.json"

// Plugin is a provider implemented outside the builtin adapter set.
type Plugin interface {
	providers.Adapter

	ID() providers.ProviderKey
	Info() providers.ProviderInfo
	ListModels(ctx context.Context) ([]providers.ModelInfo, error)
	HealthCheck(ctx context.Context) HealthStatus
}

type HealthStatus struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Config is what a factory receives from the manifest.
type Config struct {
	BaseURL string
	APIKey  string
	Extra   map[string]any
}

// Factory builds a plugin from its manifest configuration.
type Factory func(cfg Config, client *http.Client, logger *slog.Logger) (Plugin, error)

// Manifest is the content of a plugin.json file.
type Manifest struct {
	ID          string         `json:"id" validate:"required,lowercase,excludesall=:/"`
	Name        string         `json:"name" validate:"required"`
	Version     string         `json:"version" validate:"required,semver"`
	Description string         `json:"description,omitempty"`
	BaseURL     string         `json:"base_url,omitempty" validate:"omitempty,url"`
	APIKeyEnv   string         `json:"api_key_env,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

package plugins

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

type fakePlugin struct {
	id      providers.ProviderKey
	cfg     Config
	healthy bool
	live    []providers.ModelInfo
}

func (f *fakePlugin) ID() providers.ProviderKey { return f.id }

func (f *fakePlugin) Info() providers.ProviderInfo {
	return providers.ProviderInfo{
		ID:     f.id,
		Models: []providers.ModelInfo{{ID: "small", Default: true}},
	}
}

func (f *fakePlugin) ListModels(context.Context) ([]providers.ModelInfo, error) {
	if f.live == nil {
		return nil, errors.New("offline")
	}

	return f.live, nil
}

func (f *fakePlugin) HealthCheck(context.Context) HealthStatus {
	if !f.healthy {
		return HealthStatus{Error: "connection refused"}
	}

	return HealthStatus{Healthy: true}
}

func (f *fakePlugin) Stream(context.Context, *providers.UnifiedRequest, string, providers.Credentials) (<-chan providers.StreamResult, error) {
	ch := make(chan providers.StreamResult)
	close(ch)

	return ch, nil
}

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()

	pluginDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, ManifestFilename), []byte(content), 0o644))
}

func newTestHost(t *testing.T) (*Host, *providers.Registry) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := providers.NewRegistry(nil, logger)

	return NewHost(registry, nil, logger), registry
}

func TestHost_Register(t *testing.T) {
	host, _ := newTestHost(t)

	factory := func(Config, *http.Client, *slog.Logger) (Plugin, error) { return &fakePlugin{}, nil }

	require.NoError(t, host.Register("local", factory))
	assert.Error(t, host.Register("local", factory), "duplicate id")
	assert.Error(t, host.Register("glm", factory), "builtin id")
	assert.Error(t, host.Register("", factory))
	assert.Error(t, host.Register("other", nil))
}

func TestHost_Discover(t *testing.T) {
	t.Setenv("LOCAL_LLM_KEY", "secret")

	dir := t.TempDir()
	host, registry := newTestHost(t)

	var built *fakePlugin
	require.NoError(t, host.Register("local", func(cfg Config, _ *http.Client, _ *slog.Logger) (Plugin, error) {
		built = &fakePlugin{
			id:      "local",
			cfg:     cfg,
			healthy: true,
			live:    []providers.ModelInfo{{ID: "small"}, {ID: "large"}},
		}

		return built, nil
	}))

	writeManifest(t, dir, "local", `{
		// comments are allowed
		"id": "local",
		"name": "Local LLM",
		"version": "1.0.0",
		"base_url": "http://localhost:9999",
		"api_key_env": "LOCAL_LLM_KEY",
	}`)
	writeManifest(t, dir, "unknown", `{"id":"unknown","name":"Unknown","version":"0.1.0"}`)
	writeManifest(t, dir, "broken", `{"id":"Bad:Id","name":"","version":"one"}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a plugin"), 0o644))

	n, err := host.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NotNil(t, built)
	assert.Equal(t, "http://localhost:9999", built.cfg.BaseURL)
	assert.Equal(t, "secret", built.cfg.APIKey)

	assert.True(t, registry.IsPlugin("local"))
	assert.False(t, registry.IsNative("local"))
	assert.Equal(t, providers.ProviderKey("local"), registry.Order()[len(registry.Order())-1])

	info, ok := registry.Get("local")
	require.True(t, ok)
	assert.Equal(t, "Local LLM", info.DisplayName)
	assert.Equal(t, []string{"small", "large"}, modelIDs(info.Models))

	model, ok := registry.DefaultModel("local")
	require.True(t, ok)
	assert.Equal(t, "small", model)

	require.Len(t, host.Plugins(), 1)

	host.Unload("local")
	assert.False(t, registry.IsPlugin("local"))
	assert.Empty(t, host.Plugins())
}

func TestHost_DiscoverSkipsUnhealthy(t *testing.T) {
	dir := t.TempDir()
	host, registry := newTestHost(t)

	require.NoError(t, host.Register("down", func(Config, *http.Client, *slog.Logger) (Plugin, error) {
		return &fakePlugin{id: "down"}, nil
	}))

	writeManifest(t, dir, "down", `{"id":"down","name":"Down","version":"1.0.0"}`)

	n, err := host.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, registry.IsPlugin("down"))
}

func TestHost_DiscoverMissingDir(t *testing.T) {
	host, _ := newTestHost(t)

	n, err := host.Discover(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHost_ReadManifest(t *testing.T) {
	host, _ := newTestHost(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", `{"id":"ok","name":"OK","version":"1.2.3"}`, false},
		{"missing name", `{"id":"ok","version":"1.2.3"}`, true},
		{"bad version", `{"id":"ok","name":"OK","version":"latest"}`, true},
		{"uppercase id", `{"id":"OK","name":"OK","version":"1.0.0"}`, true},
		{"bad base url", `{"id":"ok","name":"OK","version":"1.0.0","base_url":"::"}`, true},
		{"not json", `id: ok`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			m, err := host.ReadManifest(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "ok", m.ID)
		})
	}
}

func modelIDs(models []providers.ModelInfo) []string {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}

	return ids
}

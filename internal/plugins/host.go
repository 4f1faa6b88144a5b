package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"

	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

const DefaultHealthTimeout = 5 * time.Second

// Registrar is the part of the provider registry the host writes to.
type Registrar interface {
	RegisterPlugin(info providers.ProviderInfo, adapter providers.Adapter) error
	UnregisterPlugin(id providers.ProviderKey)
}

type Host struct {
	mu        sync.RWMutex
	factories map[string]Factory
	loaded    map[providers.ProviderKey]Plugin

	registry      Registrar
	client        *http.Client
	logger        *slog.Logger
	validate      *validator.Validate
	healthTimeout time.Duration
}

func NewHost(registry Registrar, client *http.Client, logger *slog.Logger) *Host {
	if client == nil {
		client = http.DefaultClient
	}

	return &Host{
		factories:     make(map[string]Factory),
		loaded:        make(map[providers.ProviderKey]Plugin),
		registry:      registry,
		client:        client,
		logger:        logger,
		validate:      validator.New(),
		healthTimeout: DefaultHealthTimeout,
	}
}

// Register makes an implementation available under id. Registering the same
// id twice is an error.
func (h *Host) Register(id string, factory Factory) error {
	if id == "" || factory == nil {
		return errors.New("plugin id and factory are required")
	}

	if providers.ProviderKey(id).IsBuiltin() {
		return fmt.Errorf("plugin id %q collides with builtin provider", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.factories[id]; ok {
		return fmt.Errorf("plugin factory %q already registered", id)
	}

	h.factories[id] = factory

	return nil
}

// Discover loads every plugin manifest under dir and returns how many
// plugins were registered. A missing directory is not an error. Broken or
// unhealthy plugins are logged and skipped.
func (h *Host) Discover(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		h.logger.Debug("Plugin directory does not exist", "path", dir)
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("read plugin dir: %w", err)
	}

	count := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		if err := h.Load(ctx, path); err != nil {
			h.logger.Warn("Skipping plugin", "path", path, "error", err)
			continue
		}

		count++
	}

	h.logger.Info("Plugin discovery complete", "count", count)

	return count, nil
}

// Load reads <dir>/plugin.json, builds the plugin through its factory,
// health-checks it and registers it as a provider.
func (h *Host) Load(ctx context.Context, dir string) error {
	manifest, err := h.ReadManifest(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return err
	}

	h.mu.RLock()
	factory, ok := h.factories[manifest.ID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no implementation registered for plugin %q", manifest.ID)
	}

	cfg := Config{BaseURL: manifest.BaseURL, Extra: manifest.Extra}
	if manifest.APIKeyEnv != "" {
		cfg.APIKey = os.Getenv(manifest.APIKeyEnv)
	}

	plugin, err := factory(cfg, h.client, h.logger.With("plugin", manifest.ID))
	if err != nil {
		return fmt.Errorf("build plugin %q: %w", manifest.ID, err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, h.healthTimeout)
	defer cancel()

	if status := plugin.HealthCheck(healthCtx); !status.Healthy {
		return fmt.Errorf("plugin %q is unhealthy: %s", manifest.ID, status.Error)
	}

	info := plugin.Info()
	info.ID = plugin.ID()

	if info.DisplayName == "" {
		info.DisplayName = manifest.Name
	}

	if models, err := plugin.ListModels(healthCtx); err == nil && len(models) > 0 {
		info.Models = mergeModels(info.Models, models)
	}

	if err := h.registry.RegisterPlugin(info, plugin); err != nil {
		return fmt.Errorf("register plugin %q: %w", manifest.ID, err)
	}

	h.mu.Lock()
	h.loaded[info.ID] = plugin
	h.mu.Unlock()

	h.logger.Info("Plugin loaded", "id", info.ID, "name", manifest.Name, "version", manifest.Version, "models", len(info.Models))

	return nil
}

// ReadManifest parses and validates a plugin.json file. Comments and
// trailing commas are allowed.
func (h *Host) ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if err := h.validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	return &m, nil
}

// Unload removes a plugin from the registry.
func (h *Host) Unload(id providers.ProviderKey) {
	h.mu.Lock()
	_, ok := h.loaded[id]
	delete(h.loaded, id)
	h.mu.Unlock()

	if !ok {
		return
	}

	h.registry.UnregisterPlugin(id)
	h.logger.Info("Plugin unloaded", "id", id)
}

// Plugins returns the loaded plugins sorted by id.
func (h *Host) Plugins() []Plugin {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Plugin, 0, len(h.loaded))
	for _, p := range h.loaded {
		out = append(out, p)
	}

	slices.SortFunc(out, func(a, b Plugin) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		default:
			return 0
		}
	})

	return out
}

// mergeModels keeps the static descriptions of known models and appends the
// ones only the live listing reports.
func mergeModels(static, live []providers.ModelInfo) []providers.ModelInfo {
	out := slices.Clone(static)

	for _, m := range live {
		known := slices.ContainsFunc(static, func(s providers.ModelInfo) bool { return s.ID == m.ID })
		if !known {
			out = append(out, m)
		}
	}

	return out
}

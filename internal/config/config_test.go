package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_LoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Host:   "127.0.0.1",
		Port:   8080,
		APIKey: "test-key",
		Defaults: Defaults{
			Provider: "openrouter",
			Model:    "anthropic/claude-3.5-sonnet",
		},
		Providers: []Provider{
			{
				Name:    "openrouter",
				APIBase: "https://openrouter.ai/api/v1",
				APIKey:  "test-provider-key",
			},
		},
	}

	if err := manager.Save(cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if !manager.Exists() {
		t.Errorf("Config file should exist after saving")
	}

	loadedCfg, err := manager.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loadedCfg.Host != cfg.Host {
		t.Errorf("Expected host %s, got %s", cfg.Host, loadedCfg.Host)
	}

	if loadedCfg.Port != cfg.Port {
		t.Errorf("Expected port %d, got %d", cfg.Port, loadedCfg.Port)
	}

	if loadedCfg.APIKey != cfg.APIKey {
		t.Errorf("Expected API key %s, got %s", cfg.APIKey, loadedCfg.APIKey)
	}

	if len(loadedCfg.Providers) != 1 {
		t.Fatalf("Expected 1 provider, got %d", len(loadedCfg.Providers))
	}

	if loadedCfg.Providers[0].APIBase != "https://openrouter.ai/api/v1" {
		t.Errorf("Expected specific API base, got %s", loadedCfg.Providers[0].APIBase)
	}

	target := loadedCfg.DefaultTarget()
	if target == nil || target.String() != "openrouter:anthropic/claude-3.5-sonnet" {
		t.Errorf("Unexpected default target %v", target)
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Setenv(PortEnv, "")

	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	if err := manager.Save(&Config{}); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loadedCfg, err := manager.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loadedCfg.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, loadedCfg.Port)
	}

	if loadedCfg.Host != DefaultHost {
		t.Errorf("Expected default host %s, got %s", DefaultHost, loadedCfg.Host)
	}

	if loadedCfg.RateLimit.RequestsPerMinute != DefaultRequestsPerMinute {
		t.Errorf("Expected %d requests per minute, got %d", DefaultRequestsPerMinute, loadedCfg.RateLimit.RequestsPerMinute)
	}

	if loadedCfg.Circuit.Threshold != DefaultCircuitThreshold {
		t.Errorf("Expected circuit threshold %d, got %d", DefaultCircuitThreshold, loadedCfg.Circuit.Threshold)
	}

	if loadedCfg.DefaultTarget() != nil {
		t.Errorf("Expected no default target")
	}
}

func TestConfig_PortFromEnv(t *testing.T) {
	t.Setenv(PortEnv, "19000")

	if port := Default().Port; port != 19000 {
		t.Errorf("Expected port from %s, got %d", PortEnv, port)
	}
}

func TestConfig_JSONWithComments(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	data := `{
	// local gateway
	"port": 9000,
	"providers": [
		{"name": "glm", "api_key": "zai-key"}, /* trailing comma below */
	],
}`

	if err := os.WriteFile(filepath.Join(tmpDir, DefaultConfigFilename), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := manager.Load()
	if err != nil {
		t.Fatalf("Failed to load config with comments: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Port)
	}

	if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "zai-key" {
		t.Errorf("Unexpected providers %+v", cfg.Providers)
	}
}

func TestConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	configPath := filepath.Join(tmpDir, DefaultConfigFilename)
	if err := os.WriteFile(configPath, []byte("invalid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := manager.Load(); err == nil {
		t.Errorf("Expected error when loading invalid JSON")
	}
}

func TestConfig_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	if _, err := manager.Load(); err == nil {
		t.Errorf("Expected error when loading non-existent file")
	}

	if manager.Exists() {
		t.Errorf("Non-existent config should not exist")
	}

	cfg, err := manager.LoadOrDefault()
	if err != nil {
		t.Fatalf("LoadOrDefault should tolerate a missing file: %v", err)
	}

	if cfg.Host != DefaultHost {
		t.Errorf("Expected default host, got %s", cfg.Host)
	}
}

func TestConfig_GetWithoutLoad(t *testing.T) {
	t.Setenv(PortEnv, "")

	manager := NewManager(t.TempDir())

	cfg := manager.Get()
	if cfg == nil {
		t.Fatal("Get should never return nil")
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Unexpected config returned: %+v", cfg)
	}
}

func TestManager_PluginDir(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	if got := manager.PluginDir(&Config{}); got != filepath.Join(tmpDir, DefaultPluginDirname) {
		t.Errorf("Unexpected default plugin dir %s", got)
	}

	if got := manager.PluginDir(&Config{PluginDir: "/opt/ccx"}); got != "/opt/ccx" {
		t.Errorf("Unexpected plugin dir %s", got)
	}
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

const (
	DefaultPort           = 17870
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultEnvFilename    = ".env"
	DefaultPluginDirname  = "plugins"

	DefaultRequestsPerMinute = 100
	DefaultBurst             = 20
	DefaultCircuitThreshold  = 5
	DefaultCircuitCooldown   = "30s"

	PortEnv = "CCX_PORT"
)

// DefaultProviderURLs are the upstream base URLs used when neither the config
// file nor the environment sets one.
var DefaultProviderURLs = map[providers.ProviderKey]string{
	providers.OpenAI:     "https://api.openai.com/v1",
	providers.OpenRouter: "https://openrouter.ai/api/v1",
	providers.Gemini:     "https://generativelanguage.googleapis.com/v1beta",
	providers.Anthropic:  "https://api.anthropic.com",
	providers.GLM:        "https://api.z.ai/api/anthropic",
	providers.Minimax:    "https://api.minimax.io/anthropic",
}

type envSource struct {
	keys    []string
	baseURL string
	headers map[string]string // header name -> env var
}

var credentialEnv = map[providers.ProviderKey]envSource{
	providers.GLM: {
		keys:    []string{"ZAI_API_KEY", "GLM_API_KEY"},
		baseURL: "GLM_UPSTREAM_URL",
		headers: map[string]string{providers.HeaderAnthropicVersion: "ANTHROPIC_VERSION"},
	},
	providers.Minimax: {
		keys:    []string{"MINIMAX_API_KEY"},
		baseURL: "MINIMAX_UPSTREAM_URL",
		headers: map[string]string{providers.HeaderAnthropicVersion: "ANTHROPIC_VERSION"},
	},
	providers.Anthropic: {
		keys:    []string{"ANTHROPIC_API_KEY"},
		baseURL: "ANTHROPIC_UPSTREAM_URL",
		headers: map[string]string{providers.HeaderAnthropicVersion: "ANTHROPIC_VERSION"},
	},
	providers.OpenAI: {
		keys:    []string{"OPENAI_API_KEY"},
		baseURL: "OPENAI_BASE_URL",
	},
	providers.OpenRouter: {
		keys:    []string{"OPENROUTER_API_KEY"},
		baseURL: "OPENROUTER_BASE_URL",
		headers: map[string]string{"Http-Referer": "OPENROUTER_REFERER", "X-Title": "OPENROUTER_TITLE"},
	},
	providers.Gemini: {
		keys:    []string{"GEMINI_API_KEY"},
		baseURL: "GEMINI_BASE_URL",
	},
}

// CredentialEnv returns the environment variables consulted for a provider's
// API key, in lookup order.
func CredentialEnv(p providers.ProviderKey) []string {
	return credentialEnv[p].keys
}

type Provider struct {
	Name           string            `json:"name" yaml:"name" validate:"required"`
	APIBase        string            `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	APIKey         string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	ModelWhitelist []string          `json:"model_whitelist,omitempty" yaml:"model_whitelist,omitempty"`
}

// IsModelAllowed reports whether model matches the whitelist. Entries match
// as substrings; an empty whitelist allows everything.
func (p *Provider) IsModelAllowed(model string) bool {
	if len(p.ModelWhitelist) == 0 {
		return true
	}

	for _, allowed := range p.ModelWhitelist {
		if strings.Contains(model, allowed) {
			return true
		}
	}

	return false
}

type Defaults struct {
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty" validate:"required_with=Model"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
}

type RateLimit struct {
	Disabled          bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	RequestsPerMinute int  `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty" validate:"gte=0"`
	Burst             int  `json:"burst,omitempty" yaml:"burst,omitempty" validate:"gte=0"`
}

type Circuit struct {
	Threshold int    `json:"threshold,omitempty" yaml:"threshold,omitempty" validate:"gte=0"`
	Cooldown  string `json:"cooldown,omitempty" yaml:"cooldown,omitempty" validate:"omitempty,duration"`
}

// CooldownDuration parses Cooldown, falling back to the default on error.
func (c Circuit) CooldownDuration() time.Duration {
	d, err := time.ParseDuration(c.Cooldown)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultCircuitCooldown)
	}

	return d
}

type Config struct {
	Host      string     `json:"host,omitempty" yaml:"host,omitempty" validate:"omitempty,hostname|ip"`
	Port      int        `json:"port,omitempty" yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	APIKey    string     `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Defaults  Defaults   `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	RateLimit RateLimit  `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Circuit   Circuit    `json:"circuit,omitempty" yaml:"circuit,omitempty"`
	PluginDir string     `json:"plugin_dir,omitempty" yaml:"plugin_dir,omitempty"`
	Providers []Provider `json:"providers,omitempty" yaml:"providers,omitempty" validate:"dive"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}

	if c.Port == 0 {
		c.Port = DefaultPort
		if v := os.Getenv(PortEnv); v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				c.Port = port
			}
		}
	}

	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}

	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultBurst
	}

	if c.Circuit.Threshold == 0 {
		c.Circuit.Threshold = DefaultCircuitThreshold
	}

	if c.Circuit.Cooldown == "" {
		c.Circuit.Cooldown = DefaultCircuitCooldown
	}
}

// Provider returns the configured entry for name, if any.
func (c *Config) Provider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if strings.EqualFold(c.Providers[i].Name, name) {
			return &c.Providers[i], true
		}
	}

	return nil, false
}

// IsModelAllowed applies the provider's whitelist, if one is configured.
func (c *Config) IsModelAllowed(p providers.ProviderKey, model string) bool {
	entry, ok := c.Provider(string(p))
	if !ok {
		return true
	}

	return entry.IsModelAllowed(model)
}

// DefaultTarget is the configured initial model, or nil when unset.
func (c *Config) DefaultTarget() *providers.ProviderModel {
	if c.Defaults.Provider == "" {
		return nil
	}

	return &providers.ProviderModel{
		Provider: providers.ProviderKey(strings.ToLower(c.Defaults.Provider)),
		Model:    c.Defaults.Model,
	}
}

// Credentials resolves the upstream credentials for p. Values in the config
// file win over the environment; builtin providers then fall back to their
// environment variables and default base URL. Plugin providers never fail
// here, they authenticate on their own.
func (c *Config) Credentials(p providers.ProviderKey) (providers.Credentials, error) {
	var creds providers.Credentials

	if entry, ok := c.Provider(string(p)); ok {
		creds.APIKey = entry.APIKey
		creds.BaseURL = entry.APIBase

		for k, v := range entry.Headers {
			setHeader(&creds, k, v)
		}
	}

	src, builtin := credentialEnv[p]
	if !builtin {
		return creds, nil
	}

	if creds.APIKey == "" {
		creds.APIKey = firstEnv(src.keys...)
	}

	if creds.BaseURL == "" {
		creds.BaseURL = firstEnv(src.baseURL)
	}

	if creds.BaseURL == "" {
		creds.BaseURL = DefaultProviderURLs[p]
	}

	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")

	for header, env := range src.headers {
		if _, set := creds.Headers[http.CanonicalHeaderKey(header)]; set {
			continue
		}

		if v := os.Getenv(env); v != "" {
			setHeader(&creds, header, v)
		}
	}

	if creds.APIKey == "" {
		return providers.Credentials{}, &providers.MissingCredentialError{Provider: p, Env: src.keys[0]}
	}

	return creds, nil
}

func setHeader(creds *providers.Credentials, k, v string) {
	if creds.Headers == nil {
		creds.Headers = make(map[string]string)
	}

	creds.Headers[http.CanonicalHeaderKey(k)] = v
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if name == "" {
			continue
		}

		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}

	return ""
}

type Manager struct {
	baseDir     string
	configPath  string
	yamlPath    string
	envPath     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:    baseDir,
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath:   filepath.Join(baseDir, DefaultYAMLFilename),
		envPath:    filepath.Join(baseDir, DefaultEnvFilename),
	}
}

func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Load reads the config file, preferring config.yaml over config.json, after
// loading the .env file next to it.
func (m *Manager) Load() (*Config, error) {
	if err := m.loadEnv(); err != nil {
		return nil, err
	}

	path := m.GetPath()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config

	if path == m.yamlPath {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	} else {
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyDefaults()

	m.configValue.Store(&cfg)

	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing config file yields the
// defaults so the gateway can run from the environment alone.
func (m *Manager) LoadOrDefault() (*Config, error) {
	cfg, err := m.Load()
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		m.configValue.Store(cfg)

		return cfg, nil
	}

	return cfg, err
}

func (m *Manager) loadEnv() error {
	if _, err := os.Stat(m.envPath); err != nil {
		return nil
	}

	if err := godotenv.Load(m.envPath); err != nil {
		return fmt.Errorf("load %s: %w", m.envPath, err)
	}

	return nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return Default()
	}

	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := m.write(m.configPath, data); err != nil {
		return err
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) SaveAsYAML(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml config: %w", err)
	}

	if err := m.write(m.yamlPath, data); err != nil {
		return err
	}

	m.configValue.Store(cfg)

	return nil
}

// CreateExampleYAML writes a commented template to config.yaml.
func (m *Manager) CreateExampleYAML() error {
	return m.write(m.yamlPath, []byte(exampleYAML))
}

func (m *Manager) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	// Config files can hold API keys.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// GetPath returns the file Load reads: config.yaml when present, otherwise
// config.json.
func (m *Manager) GetPath() string {
	if m.HasYAML() {
		return m.yamlPath
	}

	return m.configPath
}

func (m *Manager) EnvPath() string {
	return m.envPath
}

// PluginDir returns cfg's plugin directory, defaulting to <baseDir>/plugins.
func (m *Manager) PluginDir(cfg *Config) string {
	if cfg.PluginDir != "" {
		return cfg.PluginDir
	}

	return filepath.Join(m.baseDir, DefaultPluginDirname)
}

func (m *Manager) Exists() bool {
	return m.HasYAML() || m.HasJSON()
}

func (m *Manager) HasYAML() bool {
	_, err := os.Stat(m.yamlPath)
	return err == nil
}

func (m *Manager) HasJSON() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

const exampleYAML = `# ccx gateway configuration.
host: 127.0.0.1
port: 17870

# Clients authenticate with "Authorization: Bearer <key>" or "x-api-key".
# Leave empty to accept every local client.
api_key: ""

# Model used until a request names one. Unset means glm with its default model.
# defaults:
#   provider: glm
#   model: glm-4.7

rate_limit:
  requests_per_minute: 100
  burst: 20

circuit:
  threshold: 5
  cooldown: 30s

# Directory scanned for <id>/plugin.json manifests. Defaults to ~/.ccx/plugins.
# plugin_dir: /path/to/plugins

# API keys fall back to the environment: ZAI_API_KEY, MINIMAX_API_KEY,
# OPENAI_API_KEY, OPENROUTER_API_KEY, GEMINI_API_KEY, ANTHROPIC_API_KEY.
providers:
  - name: glm
    base_url: https://api.z.ai/api/anthropic
  - name: openrouter
    base_url: https://openrouter.ai/api/v1
    headers:
      X-Title: ccx
  - name: openai
    base_url: https://api.openai.com/v1
    model_whitelist:
      - gpt-4o
      - gpt-4.1
`

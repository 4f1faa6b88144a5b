package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MohMaya/claude-glm-wrapper/internal/circuit"
	"github.com/MohMaya/claude-glm-wrapper/internal/config"
	"github.com/MohMaya/claude-glm-wrapper/internal/gateway"
	"github.com/MohMaya/claude-glm-wrapper/internal/handlers"
	"github.com/MohMaya/claude-glm-wrapper/internal/middleware"
	"github.com/MohMaya/claude-glm-wrapper/internal/plugins"
	"github.com/MohMaya/claude-glm-wrapper/internal/plugins/ollama"
	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
	"github.com/MohMaya/claude-glm-wrapper/internal/telemetry"
	"github.com/MohMaya/claude-glm-wrapper/internal/tokens"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config   *config.Manager
	registry *providers.Registry
	breaker  *circuit.Breaker
	recorder *telemetry.Recorder
	gateway  *gateway.Gateway
	plugins  *plugins.Host
	active   *handlers.ActiveModel
	logger   *slog.Logger
	server   *http.Server
}

// New wires the provider registry, circuit breaker, gateway and plugin host
// from the loaded configuration.
func New(configManager *config.Manager, logger *slog.Logger) *Server {
	cfg := configManager.Get()

	// No client timeout: responses are long-lived streams bounded by the
	// caller's context.
	client := &http.Client{}

	registry := providers.NewRegistry(client, logger)
	recorder := telemetry.New(telemetry.DefaultCapacity)

	s := &Server{
		config:   configManager,
		registry: registry,
		recorder: recorder,
		active:   handlers.NewActiveModel(cfg.DefaultTarget()),
		logger:   logger,
	}

	s.breaker = circuit.New(registry,
		circuit.WithThreshold(cfg.Circuit.Threshold),
		circuit.WithCooldown(cfg.Circuit.CooldownDuration()),
		circuit.WithEligible(s.eligible),
		circuit.WithObserver(func(from, to providers.ProviderKey, reason string) {
			recorder.TrackFallback(string(from), string(to), reason)
		}),
		circuit.WithLogger(logger),
	)

	s.gateway = gateway.New(registry, s.breaker, credentialSource{configManager}, recorder, logger)

	s.plugins = plugins.NewHost(registry, client, logger)
	if err := s.plugins.Register(ollama.ID, ollama.New); err != nil {
		logger.Error("Failed to register builtin plugin", "plugin", ollama.ID, "error", err)
	}

	return s
}

func (s *Server) eligible(p providers.ProviderKey) bool {
	return s.gateway.Eligible(p)
}

// credentialSource reads credentials from whatever configuration is current.
type credentialSource struct {
	config *config.Manager
}

func (c credentialSource) Credentials(p providers.ProviderKey) (providers.Credentials, error) {
	return c.config.Get().Credentials(p)
}

func (s *Server) Registry() *providers.Registry {
	return s.registry
}

func (s *Server) Plugins() *plugins.Host {
	return s.plugins
}

// LoadPlugins discovers plugin manifests in the configured plugin directory.
func (s *Server) LoadPlugins(ctx context.Context) error {
	dir := s.config.PluginDir(s.config.Get())

	if _, err := s.plugins.Discover(ctx, dir); err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}

	return nil
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	if err := s.LoadPlugins(context.Background()); err != nil {
		s.logger.Warn("Plugin discovery failed", "error", err)
	}

	tokens.Warm()

	go func() {
		<-tokens.Ready()
		s.logger.Debug("Token encoding loaded", "exact", tokens.Available())
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting server", "address", addr, "providers", len(s.registry.Order()))

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-quit:
	}

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	resolver := providers.Resolver{IsPlugin: s.registry.IsPlugin}

	messagesHandler := handlers.NewMessagesHandler(s.config, s.gateway, resolver, s.active, s.logger)
	healthHandler := handlers.NewHealthHandler(s.active, s.logger)
	statusHandler := handlers.NewStatusHandler(s.active, s.registry)
	adminHandler := handlers.NewAdminHandler(s.registry, s.breaker, s.recorder, s.eligible, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)
	defaultChain := middlewareSet.DefaultChain()
	healthChain := middlewareSet.HealthChain()

	mux.Handle("POST /v1/messages", defaultChain.Handler(messagesHandler))
	mux.Handle("POST /v1/messages/count_tokens", defaultChain.Handler(http.HandlerFunc(messagesHandler.CountTokens)))

	mux.Handle("GET /healthz", healthChain.Handler(healthHandler))
	mux.Handle("GET /_status", healthChain.Handler(statusHandler))

	mux.Handle("GET /_circuits", defaultChain.Handler(http.HandlerFunc(adminHandler.Circuits)))
	mux.Handle("POST /_circuits/reset", defaultChain.Handler(http.HandlerFunc(adminHandler.ResetCircuits)))
	mux.Handle("GET /_providers", defaultChain.Handler(http.HandlerFunc(adminHandler.Providers)))
	mux.Handle("GET /_telemetry", defaultChain.Handler(http.HandlerFunc(adminHandler.Telemetry)))

	mux.Handle("/", middlewareSet.PublicChain().Handler(http.HandlerFunc(notFound)))

	return mux
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "no route for " + r.Method + " " + r.URL.Path})
}

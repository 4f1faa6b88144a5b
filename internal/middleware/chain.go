package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/MohMaya/claude-glm-wrapper/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(append([]Middleware(nil), c.middlewares...), middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	RequestID        Middleware
	TelemetryBlocker Middleware
	Logging          Middleware
	RateLimit        Middleware
	Auth             Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(cfgMgr *config.Manager, logger *slog.Logger) MiddlewareSet {
	cfg := cfgMgr.Get()

	rateLimit := passThrough
	if !cfg.RateLimit.Disabled {
		rateLimit = NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, logger).Middleware
	}

	return MiddlewareSet{
		RequestID:        NewRequestIDMiddleware(),
		TelemetryBlocker: NewTelemetryBlockerMiddleware(logger),
		Logging:          NewLoggingMiddleware(logger),
		RateLimit:        rateLimit,
		Auth:             NewAuthMiddleware(cfgMgr, logger),
	}
}

// DefaultChain returns the standard middleware chain for most endpoints
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(
		ms.RequestID,
		ms.TelemetryBlocker,
		ms.Logging,
		ms.RateLimit,
		ms.Auth,
	)
}

// HealthChain returns the middleware chain for health endpoints (no auth)
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.RequestID,
		ms.TelemetryBlocker,
		ms.Logging,
	)
}

// PublicChain returns the middleware chain for public endpoints (no auth, no logging)
func (ms MiddlewareSet) PublicChain() Chain {
	return New(
		ms.RequestID,
		ms.TelemetryBlocker,
	)
}

func passThrough(next http.Handler) http.Handler {
	return next
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

// autoModel is reported as the active model before any request resolved one.
const autoModel = "auto"

type HealthHandler struct {
	active *ActiveModel
	logger *slog.Logger
}

func NewHealthHandler(active *ActiveModel, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		active: active,
		logger: logger,
	}
}

type healthResponse struct {
	OK     bool                    `json:"ok"`
	Active providers.ProviderModel `json:"active"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	active := providers.ProviderModel{Provider: providers.GLM, Model: autoModel}
	if pm := h.active.Get(); pm != nil {
		active = *pm
	}

	writeJSON(w, http.StatusOK, healthResponse{OK: true, Active: active})
}

type StatusHandler struct {
	active   *ActiveModel
	registry *providers.Registry
}

func NewStatusHandler(active *ActiveModel, registry *providers.Registry) *StatusHandler {
	return &StatusHandler{active: active, registry: registry}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if pm := h.active.Get(); pm != nil {
		writeJSON(w, http.StatusOK, pm)
		return
	}

	model, _ := h.registry.DefaultModel(providers.GLM)

	writeJSON(w, http.StatusOK, providers.ProviderModel{Provider: providers.GLM, Model: model})
}

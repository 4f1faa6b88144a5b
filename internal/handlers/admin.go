package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MohMaya/claude-glm-wrapper/internal/circuit"
	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
	"github.com/MohMaya/claude-glm-wrapper/internal/telemetry"
)

const defaultRecent = 20

// AdminHandler serves the operator endpoints: circuit inspection and reset,
// the provider catalogue and session telemetry.
type AdminHandler struct {
	registry *providers.Registry
	breaker  *circuit.Breaker
	recorder *telemetry.Recorder
	eligible func(providers.ProviderKey) bool
	logger   *slog.Logger
}

func NewAdminHandler(registry *providers.Registry, breaker *circuit.Breaker, recorder *telemetry.Recorder, eligible func(providers.ProviderKey) bool, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		breaker:  breaker,
		recorder: recorder,
		eligible: eligible,
		logger:   logger,
	}
}

func (h *AdminHandler) Circuits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.breaker.States())
}

// ResetCircuits closes one circuit (?provider=) or all of them.
func (h *AdminHandler) ResetCircuits(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("provider")
	if p == "" {
		h.breaker.ResetAll()
		h.logger.Info("Reset all circuits")
		writeJSON(w, http.StatusOK, h.breaker.States())

		return
	}

	id := providers.ProviderKey(p)
	if _, ok := h.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown provider "+p)
		return
	}

	h.breaker.Reset(id)
	h.logger.Info("Reset circuit", "provider", id)

	writeJSON(w, http.StatusOK, h.breaker.State(id))
}

type providerStatus struct {
	providers.ProviderInfo
	Available bool          `json:"available"`
	Circuit   circuit.State `json:"circuit"`
}

func (h *AdminHandler) Providers(w http.ResponseWriter, _ *http.Request) {
	list := h.registry.List()

	out := make([]providerStatus, 0, len(list))
	for _, info := range list {
		out = append(out, providerStatus{
			ProviderInfo: info,
			Available:    h.eligible == nil || h.eligible(info.ID),
			Circuit:      h.breaker.State(info.ID).State,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// Telemetry returns session statistics; ?recent=N bounds the request log.
func (h *AdminHandler) Telemetry(w http.ResponseWriter, r *http.Request) {
	recent := defaultRecent

	if v := r.URL.Query().Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "recent must be a non-negative integer")
			return
		}

		recent = n
	}

	writeJSON(w, http.StatusOK, h.recorder.Stats(recent))
}

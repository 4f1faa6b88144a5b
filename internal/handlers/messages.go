package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MohMaya/claude-glm-wrapper/internal/circuit"
	"github.com/MohMaya/claude-glm-wrapper/internal/config"
	"github.com/MohMaya/claude-glm-wrapper/internal/gateway"
	"github.com/MohMaya/claude-glm-wrapper/internal/middleware"
	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
	"github.com/MohMaya/claude-glm-wrapper/internal/tokens"
)

const (
	maxBodyBytes = 32 << 20

	HeaderProvider = "X-Ccx-Provider"
	HeaderModel    = "X-Ccx-Model"
)

// Dispatcher opens upstream streams.
type Dispatcher interface {
	Open(ctx context.Context, req *providers.UnifiedRequest, target providers.ProviderModel) (*gateway.Stream, error)
}

type MessagesHandler struct {
	config   *config.Manager
	gateway  Dispatcher
	resolver providers.Resolver
	active   *ActiveModel
	validate *validator.Validate
	logger   *slog.Logger
}

func NewMessagesHandler(config *config.Manager, gw Dispatcher, resolver providers.Resolver, active *ActiveModel, logger *slog.Logger) *MessagesHandler {
	return &MessagesHandler{
		config:   config,
		gateway:  gw,
		resolver: resolver,
		active:   active,
		validate: newValidator(),
		logger:   logger,
	}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	target, err := h.resolver.Resolve(req.Model, h.active.Get())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.active.Set(target)

	if !h.config.Get().IsModelAllowed(target.Provider, target.Model) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("model %s is not allowed for provider %s", target.Model, target.Provider))
		return
	}

	stream, err := h.gateway.Open(r.Context(), req, target)
	if err != nil {
		h.dispatchError(w, r, target, err)
		return
	}

	w.Header().Set("Content-Type", providers.ContentTypeEventStream)
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(HeaderProvider, string(stream.Served.Provider))
	w.Header().Set(HeaderModel, stream.Served.Model)
	w.WriteHeader(http.StatusOK)
	flush(w)

	for res := range stream.C {
		if res.Err != nil {
			// Headers are already sent; ending the connection is the only
			// signal left.
			h.logger.Error("Upstream stream failed",
				"provider", stream.Served.Provider,
				"error", res.Err,
				"request_id", middleware.RequestID(r.Context()),
			)

			return
		}

		if _, err := w.Write(res.Data); err != nil {
			h.logger.Debug("Client went away", "error", err)
			return
		}

		flush(w)
	}
}

func (h *MessagesHandler) decode(w http.ResponseWriter, r *http.Request) (*providers.UnifiedRequest, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return nil, false
	}

	req, err := providers.ParseUnifiedRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, describeValidation(err))
		return nil, false
	}

	return req, true
}

func (h *MessagesHandler) dispatchError(w http.ResponseWriter, r *http.Request, target providers.ProviderModel, err error) {
	var (
		credErr     *providers.MissingCredentialError
		upstreamErr *providers.UpstreamError
		openErr     *circuit.CircuitOpenError
	)

	logger := h.logger.With("provider", target.Provider, "model", target.Model, "request_id", middleware.RequestID(r.Context()))

	switch {
	case errors.Is(err, context.Canceled):
		logger.Debug("Client cancelled request before streaming")
	case errors.As(err, &credErr):
		logger.Error("Missing provider credentials", "error", err)
		writeError(w, credErr.Status(), err.Error())
	case errors.As(err, &openErr):
		logger.Warn("Circuit open, no fallback available", "retry_after", openErr.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(openErr.RetryAfterSeconds()))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &upstreamErr):
		status := upstreamErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}

		logger.Error("Upstream request failed", "status", upstreamErr.Status, "error", err)
		writeError(w, status, err.Error())
	default:
		logger.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type countTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// CountTokens answers /v1/messages/count_tokens with a local estimate.
func (h *MessagesHandler) CountTokens(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}

	req, err := providers.ParseUnifiedRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, countTokensResponse{InputTokens: tokens.CountRequest(req)})
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "UnifiedRequest.")

		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}

	return "invalid request: " + strings.Join(msgs, "; ")
}

// Package gateway dispatches resolved requests to provider adapters through
// the circuit breaker.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MohMaya/claude-glm-wrapper/internal/circuit"
	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
	"github.com/MohMaya/claude-glm-wrapper/internal/telemetry"
	"github.com/MohMaya/claude-glm-wrapper/internal/tokens"
	"github.com/MohMaya/claude-glm-wrapper/internal/tracing"
)

// CredentialSource resolves upstream credentials for a provider.
type CredentialSource interface {
	Credentials(p providers.ProviderKey) (providers.Credentials, error)
}

// Recorder receives dispatch outcomes.
type Recorder interface {
	TrackRequest(req telemetry.Request)
}

// Stream is an open upstream stream.
type Stream struct {
	Requested   providers.ProviderModel
	Served      providers.ProviderModel
	InputTokens int
	C           <-chan providers.StreamResult
}

// Fallback reports whether another provider is serving the request.
func (s *Stream) Fallback() bool {
	return s.Requested.Provider != s.Served.Provider
}

type Gateway struct {
	registry *providers.Registry
	breaker  *circuit.Breaker
	creds    CredentialSource
	recorder Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(registry *providers.Registry, breaker *circuit.Breaker, creds CredentialSource, recorder Recorder, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		breaker:  breaker,
		creds:    creds,
		recorder: recorder,
		logger:   logger,
		tracer:   tracing.Tracer(),
	}
}

// Eligible reports whether p can serve traffic: it has an adapter and its
// credentials resolve.
func (g *Gateway) Eligible(p providers.ProviderKey) bool {
	if _, ok := g.registry.Adapter(p); !ok {
		return false
	}

	_, err := g.creds.Credentials(p)

	return err == nil
}

// Open starts streaming req against target. Every error is returned before
// any byte reaches the caller. When the target's circuit is open the request
// runs against a fallback provider using that provider's default model.
func (g *Gateway) Open(ctx context.Context, req *providers.UnifiedRequest, target providers.ProviderModel) (*Stream, error) {
	if _, err := g.creds.Credentials(target.Provider); err != nil {
		return nil, err
	}

	inputTokens := tokens.CountRequest(req)

	ctx, span := g.tracer.Start(ctx, "gateway.open", trace.WithAttributes(
		attribute.String("ccx.provider", string(target.Provider)),
		attribute.String("ccx.model", target.Model),
		attribute.Int("ccx.input_tokens", inputTokens),
	))

	start := time.Now()

	stream, err := circuit.Execute(ctx, g.breaker, target.Provider, func(ctx context.Context, p providers.ProviderKey) (*Stream, error) {
		served := target
		if p != target.Provider {
			model, ok := g.registry.DefaultModel(p)
			if !ok {
				return nil, fmt.Errorf("fallback provider %s has no models", p)
			}

			served = providers.ProviderModel{Provider: p, Model: model}
		}

		return g.attempt(ctx, req, served)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		g.track(target, start, err, inputTokens)

		return nil, err
	}

	stream.Requested = target
	stream.InputTokens = inputTokens

	span.SetAttributes(
		attribute.String("ccx.served_provider", string(stream.Served.Provider)),
		attribute.Bool("ccx.fallback", stream.Fallback()),
	)

	stream.C = g.intercept(ctx, stream, span, start)

	return stream, nil
}

func (g *Gateway) attempt(ctx context.Context, req *providers.UnifiedRequest, served providers.ProviderModel) (*Stream, error) {
	adapter, ok := g.registry.Adapter(served.Provider)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", served.Provider)
	}

	creds, err := g.creds.Credentials(served.Provider)
	if err != nil {
		return nil, err
	}

	_, span := g.tracer.Start(ctx, "gateway.attempt", trace.WithAttributes(
		attribute.String("ccx.provider", string(served.Provider)),
		attribute.String("ccx.model", served.Model),
	))
	defer span.End()

	g.logger.Info("Proxying request",
		"provider", served.Provider,
		"model", served.Model,
		"url", creds.BaseURL,
	)

	ch, err := adapter.Stream(ctx, req, served.Model, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	return &Stream{Served: served, C: ch}, nil
}

// intercept forwards the adapter channel and records the outcome once the
// stream ends.
func (g *Gateway) intercept(ctx context.Context, stream *Stream, span trace.Span, start time.Time) <-chan providers.StreamResult {
	in := stream.C
	out := make(chan providers.StreamResult, cap(in))

	go func() {
		defer close(out)
		defer span.End()

		var (
			streamErr error
			bytesOut  int
		)

		for res := range in {
			if res.Err != nil {
				streamErr = res.Err
			}

			bytesOut += len(res.Data)

			select {
			case out <- res:
			case <-ctx.Done():
				streamErr = ctx.Err()
				g.track(stream.Served, start, streamErr, stream.InputTokens)

				return
			}
		}

		if streamErr != nil {
			span.RecordError(streamErr)
			span.SetStatus(codes.Error, streamErr.Error())
			g.logger.Error("Stream ended with error", "provider", stream.Served.Provider, "error", streamErr)
		}

		span.SetAttributes(attribute.Int("ccx.bytes_out", bytesOut))

		g.track(stream.Served, start, streamErr, stream.InputTokens)

		g.logger.Info("Completed streaming response",
			"provider", stream.Served.Provider,
			"model", stream.Served.Model,
			"bytes", bytesOut,
			"duration", time.Since(start),
			"input_tokens", stream.InputTokens,
		)
	}()

	return out
}

func (g *Gateway) track(pm providers.ProviderModel, start time.Time, err error, inputTokens int) {
	if g.recorder == nil {
		return
	}

	g.recorder.TrackRequest(telemetry.Request{
		Provider:    string(pm.Provider),
		Model:       pm.Model,
		LatencyMs:   time.Since(start).Milliseconds(),
		Success:     err == nil,
		ErrorCode:   errorCode(err),
		InputTokens: inputTokens,
	})
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}

	var (
		upstreamErr *providers.UpstreamError
		openErr     *circuit.CircuitOpenError
		credErr     *providers.MissingCredentialError
	)

	switch {
	case errors.As(err, &upstreamErr):
		return strconv.Itoa(upstreamErr.Status)
	case errors.As(err, &openErr):
		return "circuit_open"
	case errors.As(err, &credErr):
		return "missing_credentials"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

package providers

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingModel is returned by Resolve when the request names no model and
// no defaults are available.
var ErrMissingModel = errors.New("model is required")

// UpstreamError is a non-success response from a provider, raised before any
// stream bytes were produced.
type UpstreamError struct {
	Provider ProviderKey
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream returned %d: %s", e.Provider, e.Status, e.Message)
}

// Retryable reports whether another attempt may succeed.
func (e *UpstreamError) Retryable() bool {
	if e.Status >= 500 || e.Status == 0 {
		return true
	}

	return e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests
}

// MissingCredentialError means the provider has no configured API key.
type MissingCredentialError struct {
	Provider ProviderKey
	Env      string
}

func (e *MissingCredentialError) Error() string {
	if e.Env == "" {
		return fmt.Sprintf("missing credentials for provider %s", e.Provider)
	}

	return fmt.Sprintf("missing credentials for provider %s (set %s)", e.Provider, e.Env)
}

// Status is the HTTP status reported to the client. Providers the user opts
// into explicitly answer 401; the default pass-through upstreams answer 500
// because the gateway itself is misconfigured.
func (e *MissingCredentialError) Status() int {
	switch e.Provider {
	case OpenAI, OpenRouter, Gemini:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

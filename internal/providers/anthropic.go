package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const relayChunkSize = 32 * 1024

// AuthScheme selects how a pass-through upstream receives the API key.
type AuthScheme int

const (
	// AuthBearer sends "Authorization: Bearer {key}".
	AuthBearer AuthScheme = iota
	// AuthAPIKey sends "x-api-key: {key}".
	AuthAPIKey
)

// PassThroughAdapter forwards Anthropic-shaped requests to upstreams that
// already speak the Messages protocol and relays the response bytes as-is.
type PassThroughAdapter struct {
	upstream
	auth AuthScheme
}

func NewPassThroughAdapter(provider ProviderKey, auth AuthScheme, client *http.Client, logger *slog.Logger) *PassThroughAdapter {
	return &PassThroughAdapter{upstream: newUpstream(provider, client, logger), auth: auth}
}

// PassThroughBody returns the inbound body with stream forced on and the model
// replaced by the resolved upstream model. Every other field is kept verbatim.
func PassThroughBody(req *UnifiedRequest, target string) ([]byte, error) {
	raw, err := req.Raw()
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}

	model, err := json.Marshal(target)
	if err != nil {
		return nil, err
	}

	fields["model"] = model
	fields["stream"] = json.RawMessage("true")

	return json.Marshal(fields)
}

// MessagesURL returns the Messages endpoint under baseURL.
func MessagesURL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + "/v1/messages"
}

func passThroughHeaders(auth AuthScheme, creds Credentials) map[string]string {
	headers := map[string]string{HeaderAnthropicVersion: DefaultAnthropicVersion}
	for key, value := range creds.Headers {
		headers[http.CanonicalHeaderKey(key)] = value
	}

	switch auth {
	case AuthAPIKey:
		headers["X-Api-Key"] = creds.APIKey
	default:
		headers["Authorization"] = "Bearer " + creds.APIKey
	}

	return headers
}

func (a *PassThroughAdapter) Stream(ctx context.Context, req *UnifiedRequest, target string, creds Credentials) (<-chan StreamResult, error) {
	body, err := PassThroughBody(req, target)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", a.provider, err)
	}

	respBody, err := a.post(ctx, MessagesURL(creds.BaseURL), body, passThroughHeaders(a.auth, creds))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamResult, streamBuffer)

	go func() {
		defer close(out)
		defer respBody.Close()

		relay(ctx, respBody, emitter{ctx: ctx, out: out}, a.provider)
	}()

	return out, nil
}

// relay copies upstream reads to the channel one read at a time.
func relay(ctx context.Context, body io.Reader, emit emitter, provider ProviderKey) {
	buf := make([]byte, relayChunkSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if !emit.send(chunk) {
				return
			}
		}

		if errors.Is(err, io.EOF) {
			return
		}

		if err != nil {
			if ctx.Err() == nil {
				emit.fail(fmt.Errorf("read %s stream: %w", provider, err))
			}

			return
		}
	}
}

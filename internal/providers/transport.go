package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	neturl "net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	// streamBuffer bounds the number of undelivered chunks between an
	// adapter's producer goroutine and the response writer.
	streamBuffer = 16

	maxErrorBody = 64 * 1024

	DefaultAnthropicVersion = "2023-06-01"
	HeaderAnthropicVersion  = "Anthropic-Version"
)

// Adapter turns a unified request into an upstream call and streams the
// response back as unified bytes.
type Adapter interface {
	Stream(ctx context.Context, req *UnifiedRequest, target string, creds Credentials) (<-chan StreamResult, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, req *UnifiedRequest, target string, creds Credentials) (<-chan StreamResult, error)

func (f AdapterFunc) Stream(ctx context.Context, req *UnifiedRequest, target string, creds Credentials) (<-chan StreamResult, error) {
	return f(ctx, req, target, creds)
}

type upstream struct {
	provider ProviderKey
	client   *http.Client
	logger   *slog.Logger
}

func newUpstream(provider ProviderKey, client *http.Client, logger *slog.Logger) upstream {
	if client == nil {
		client = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return upstream{
		provider: provider,
		client:   client,
		logger:   logger.With("provider", string(provider)),
	}
}

// post sends body to url and returns a decompressed response body once the
// upstream has answered with a 2xx status.
func (u upstream) post(ctx context.Context, url string, body []byte, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %s", transportMessage(err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ContentTypeEventStream)

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	u.logger.Debug("Sending upstream request", "url", redactKey(url), "bytes", len(body))

	resp, err := u.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, &UpstreamError{Provider: u.provider, Status: http.StatusBadGateway, Message: transportMessage(err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()

		msg := readErrorBody(resp)
		u.logger.Warn("Upstream error response", "status", resp.StatusCode, "body", msg)

		return nil, &UpstreamError{Provider: u.provider, Status: resp.StatusCode, Message: msg}
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &UpstreamError{Provider: u.provider, Status: http.StatusInternalServerError, Message: "No response body"}
	}

	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &UpstreamError{Provider: u.provider, Status: http.StatusBadGateway, Message: fmt.Sprintf("decompression error: %v", err)}
	}

	return reader, nil
}

func readErrorBody(resp *http.Response) string {
	reader, err := decompressReader(resp)
	if err != nil {
		reader = resp.Body
	}

	data, _ := io.ReadAll(io.LimitReader(reader, maxErrorBody))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return msg
}

type wrappedBody struct {
	io.Reader
	closers []func() error
}

func (w *wrappedBody) Close() error {
	var errs []error
	for _, c := range w.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func decompressReader(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}

		return &wrappedBody{Reader: gz, closers: []func() error{gz.Close, resp.Body.Close}}, nil
	case "br":
		return &wrappedBody{Reader: brotli.NewReader(resp.Body), closers: []func() error{resp.Body.Close}}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}

		return &wrappedBody{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			resp.Body.Close,
		}}, nil
	default:
		return resp.Body, nil
	}
}

// Post sends a JSON request for an adapter living outside this package, such
// as a plugin, with the same error classification the builtin adapters get.
func Post(ctx context.Context, client *http.Client, provider ProviderKey, url string, body []byte, headers map[string]string) (io.ReadCloser, error) {
	return newUpstream(provider, client, nil).post(ctx, url, body, headers)
}

// Produce runs fn on its own goroutine, feeding a bounded channel that is
// closed, together with body, once fn returns. send reports false when the
// caller went away; fail reports a mid-stream error.
func Produce(ctx context.Context, body io.Closer, fn func(send func([]byte) bool, fail func(error))) <-chan StreamResult {
	out := make(chan StreamResult, streamBuffer)
	emit := emitter{ctx: ctx, out: out}

	go func() {
		defer close(out)
		defer body.Close()

		fn(emit.send, emit.fail)
	}()

	return out
}

// emitter pushes results onto a bounded channel until the context ends.
type emitter struct {
	ctx context.Context
	out chan<- StreamResult
}

func (e emitter) send(data []byte) bool {
	if len(data) == 0 {
		return true
	}

	select {
	case e.out <- StreamResult{Data: data}:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// fail reports a mid-stream error unless the caller already went away.
func (e emitter) fail(err error) {
	if e.ctx.Err() != nil {
		return
	}

	select {
	case e.out <- StreamResult{Err: err}:
	case <-e.ctx.Done():
	}
}

// redactKey hides the value of a key query parameter.
func redactKey(rawURL string) string {
	before, after, found := strings.Cut(rawURL, "key=")
	if !found {
		return rawURL
	}

	if _, rest, more := strings.Cut(after, "&"); more {
		return before + "key=REDACTED&" + rest
	}

	return before + "key=REDACTED"
}

// transportMessage describes a failed round trip without the request URL's
// credentials; net/http embeds the full URL in its errors.
func transportMessage(err error) string {
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		return fmt.Sprintf("%s %s: %s", uerr.Op, redactKey(uerr.URL), redactKey(uerr.Err.Error()))
	}

	return redactKey(err.Error())
}

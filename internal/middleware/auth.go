package middleware

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MohMaya/claude-glm-wrapper/internal/config"
)

// openPaths never require the proxy key.
var openPaths = map[string]bool{
	"/healthz": true,
}

// NewAuthMiddleware guards the gateway with the configured proxy key. Claude
// clients send ANTHROPIC_API_KEY as x-api-key and ANTHROPIC_AUTH_TOKEN as a
// bearer token, so x-api-key is checked first and wins when both are set.
func NewAuthMiddleware(manager *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := manager.Get().APIKey
			if want == "" || openPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if err := checkProxyKey(r.Header, want); err != nil {
				logger.Warn("Rejected request", "error", err, "path", r.URL.Path,
					"remote_addr", r.RemoteAddr, "request_id", RequestID(r.Context()))
				writeError(w, http.StatusUnauthorized, "Proxy API key not authorized")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func checkProxyKey(h http.Header, want string) error {
	got, source := presentedKey(h)
	if got == "" {
		return fmt.Errorf("no proxy key presented")
	}

	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return fmt.Errorf("proxy key from %s does not match", source)
	}

	return nil
}

// presentedKey returns the key a client sent and the header it came from.
func presentedKey(h http.Header) (key, source string) {
	if v := strings.TrimSpace(h.Get("X-Api-Key")); v != "" {
		return v, "x-api-key"
	}

	scheme, token, ok := strings.Cut(strings.TrimSpace(h.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token), "authorization"
	}

	return "", ""
}

package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// Claude Code reports usage to Statsig and to Anthropic's metrics endpoint.
// When its traffic is pointed at the gateway those calls are answered
// locally with the responses the client expects.

var statsigPaths = []string{
	"/v1/initialize",
	"/v1/log_event",
	"/v1/rgstr",
	"/statsig",
	"/telemetry",
	"/analytics",
}

var metricsPaths = []string{
	"/api/claude_code/metrics",
	"/claude_code/metrics",
}

type TelemetryBlockerMiddleware struct {
	logger *slog.Logger
}

func NewTelemetryBlockerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tbm := &TelemetryBlockerMiddleware{
		logger: logger,
	}

	return tbm.middleware
}

func (tbm *TelemetryBlockerMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			host = r.Header.Get("Host")
		}

		switch {
		case isStatsigRequest(host, r.URL.Path):
			tbm.logger.Debug("Blocked statsig request", "host", host, "path", r.URL.Path)
			sendStatsigResponse(w)
		case isMetricsRequest(host, r.URL.Path):
			tbm.logger.Debug("Blocked metrics request", "host", host, "path", r.URL.Path)
			sendMetricsResponse(w)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func isStatsigRequest(host, path string) bool {
	if strings.Contains(host, "statsig.anthropic.com") {
		return true
	}

	return hasAnyPrefix(path, statsigPaths)
}

func isMetricsRequest(host, path string) bool {
	return strings.Contains(host, "api.anthropic.com") && hasAnyPrefix(path, metricsPaths)
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}

	return false
}

func sendStatsigResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"success":true}`))
}

func sendMetricsResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"accepted_count":0,"rejected_count":0}`))
}

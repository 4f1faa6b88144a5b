// Package telemetry keeps an in-memory record of the current session's
// requests and fallbacks.
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultCapacity = 1000

// Request is one completed upstream dispatch.
type Request struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	LatencyMs   int64     `json:"latency_ms"`
	Success     bool      `json:"success"`
	ErrorCode   string    `json:"error_code,omitempty"`
	InputTokens int       `json:"input_tokens,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Fallback records a substitution made by the circuit breaker.
type Fallback struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type ProviderStats struct {
	Count        int   `json:"count"`
	Errors       int   `json:"errors"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
}

type Stats struct {
	SessionID    string                   `json:"session_id"`
	SessionStart time.Time                `json:"session_start"`
	Total        int                      `json:"total"`
	Successful   int                      `json:"successful"`
	Failed       int                      `json:"failed"`
	Fallbacks    int                      `json:"fallbacks"`
	Providers    map[string]ProviderStats `json:"providers"`
	Recent       []Request                `json:"recent,omitempty"`
}

// Recorder is safe for concurrent use. It keeps the last capacity requests
// and fallbacks; aggregate counters cover the whole session.
type Recorder struct {
	mu        sync.Mutex
	sessionID string
	start     time.Time
	capacity  int
	now       func() time.Time

	requests  []Request
	fallbacks []Fallback

	total, failed, fallbackCount int
	perProvider                  map[string]*providerAgg
}

type providerAgg struct {
	count, errors int
	latency       int64
}

func New(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Recorder{
		sessionID:   uuid.NewString(),
		start:       time.Now(),
		capacity:    capacity,
		now:         time.Now,
		perProvider: make(map[string]*providerAgg),
	}
}

func (r *Recorder) SessionID() string { return r.sessionID }

// TrackRequest records a dispatch outcome.
func (r *Recorder) TrackRequest(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if req.Timestamp.IsZero() {
		req.Timestamp = r.now()
	}

	r.requests = appendBounded(r.requests, req, r.capacity)

	r.total++
	if !req.Success {
		r.failed++
	}

	agg, ok := r.perProvider[req.Provider]
	if !ok {
		agg = &providerAgg{}
		r.perProvider[req.Provider] = agg
	}

	agg.count++
	agg.latency += req.LatencyMs

	if !req.Success {
		agg.errors++
	}
}

// TrackFallback records a circuit breaker substitution.
func (r *Recorder) TrackFallback(from, to, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fallbacks = appendBounded(r.fallbacks, Fallback{From: from, To: to, Reason: reason, Timestamp: r.now()}, r.capacity)
	r.fallbackCount++
}

// Stats summarizes the session. recent limits how many of the latest
// requests are included.
func (r *Recorder) Stats(recent int) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		SessionID:    r.sessionID,
		SessionStart: r.start,
		Total:        r.total,
		Successful:   r.total - r.failed,
		Failed:       r.failed,
		Fallbacks:    r.fallbackCount,
		Providers:    make(map[string]ProviderStats, len(r.perProvider)),
	}

	for name, agg := range r.perProvider {
		ps := ProviderStats{Count: agg.count, Errors: agg.errors}
		if agg.count > 0 {
			ps.AvgLatencyMs = agg.latency / int64(agg.count)
		}

		s.Providers[name] = ps
	}

	if recent > 0 {
		from := max(len(r.requests)-recent, 0)
		s.Recent = append([]Request(nil), r.requests[from:]...)
	}

	return s
}

// Fallbacks returns the retained fallback events, oldest first.
func (r *Recorder) Fallbacks() []Fallback {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Fallback(nil), r.fallbacks...)
}

func appendBounded[T any](s []T, v T, capacity int) []T {
	s = append(s, v)
	if len(s) > capacity {
		s = append(s[:0], s[len(s)-capacity:]...)
	}

	return s
}

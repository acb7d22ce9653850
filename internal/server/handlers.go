package server

import (
	"net/http"
	"sync"
	"time"
)

// Health records the last daemon heartbeat for the liveness endpoint.
type Health struct {
	mu       sync.Mutex
	last     time.Time
	lastErr  string
	maxStale time.Duration
	now      func() time.Time
}

// NewHealth reports unhealthy once no heartbeat arrived for maxStale.
// A zero maxStale disables the staleness check.
func NewHealth(maxStale time.Duration) *Health {
	return &Health{maxStale: maxStale, now: time.Now}
}

// Beat marks a finished tick; err is the tick's transient failure, if any.
func (h *Health) Beat(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = h.now()
	h.lastErr = ""
	if err != nil {
		h.lastErr = err.Error()
	}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	last, lastErr := h.last, h.lastErr
	h.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.maxStale > 0 && !last.IsZero() && h.now().Sub(last) > h.maxStale {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("stale: last tick " + last.UTC().Format(time.RFC3339)))
		return
	}
	w.WriteHeader(http.StatusOK)
	if lastErr != "" {
		_, _ = w.Write([]byte("ok (last tick: " + lastErr + ")"))
		return
	}
	_, _ = w.Write([]byte("ok"))
}

package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LimitError is returned instead of issuing a request that would exceed the
// declared budget.
type LimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e LimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// Decision is the outcome of asking the guard for a request slot.
type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard holds token buckets and the server-imposed cooldown for one API.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu       sync.Mutex
	buckets  map[Window]*bucket
	cooldown time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithNow replaces the guard's time source.
func WithNow(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard builds a guard with full buckets.
func NewGuard(decl Declaration, opts ...Option) *Guard {
	g := &Guard{
		decl:    decl,
		now:     time.Now,
		buckets: make(map[Window]*bucket, len(decl.limits)),
	}
	for _, opt := range opts {
		opt(g)
	}
	start := g.now()
	for window, limit := range decl.limits {
		g.buckets[window] = &bucket{capacity: limit, tokens: float64(limit), last: start}
		remainingGauge.WithLabelValues(decl.provider, window.String()).Set(float64(limit))
	}
	return g
}

// WrapHTTP returns a copy of base whose transport consults the guard.
func WrapHTTP(decl Declaration, base *http.Client, opts ...Option) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: NewGuard(decl, opts...)}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.Allow()
	if !decision.Allowed {
		blockedCounter.WithLabelValues(rt.guard.decl.provider, decision.Reason).Inc()
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, LimitError{
			Provider: rt.guard.decl.provider,
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.Record(resp.StatusCode, resp.Header)
	return resp, nil
}

// Allow takes one slot from every window, or reports why it cannot.
func (g *Guard) Allow() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Reason: "cooldown", RetryAt: g.cooldown}
	}

	for window, b := range g.buckets {
		refill(b, window.Duration(), now)
		if b.tokens < 1 {
			wait := time.Duration((1 - b.tokens) * float64(window.Duration()) / float64(b.capacity))
			return Decision{Reason: window.String() + " budget", RetryAt: now.Add(wait)}
		}
	}
	for window, b := range g.buckets {
		b.tokens--
		remainingGauge.WithLabelValues(g.decl.provider, window.String()).Set(b.tokens)
	}
	return Decision{Allowed: true}
}

// Record inspects a response for a server-requested cooldown.
func (g *Guard) Record(status int, header http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lastStatusGauge.WithLabelValues(g.decl.provider).Set(float64(status))

	seconds, ok := retryAfterSeconds(header.Get(g.decl.retryAfter))
	if !ok && status == http.StatusTooManyRequests {
		seconds, ok = 60, true
	}
	if !ok {
		return
	}
	wait := time.Duration(seconds) * time.Second
	if g.decl.maxBackoff > 0 && wait > g.decl.maxBackoff {
		wait = g.decl.maxBackoff
	}
	g.cooldown = g.now().Add(wait)
	retryAfterGauge.WithLabelValues(g.decl.provider).Set(wait.Seconds())
}

func retryAfterSeconds(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return seconds, true
}

func refill(b *bucket, window time.Duration, now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens = min(float64(b.capacity), b.tokens+elapsed.Seconds()*float64(b.capacity)/window.Seconds())
	b.last = now
}

package rate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func TestGuardMinuteBudgetRefills(t *testing.T) {
	clk := &stepClock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	guard := NewGuard(Provider("test-budget").MaxRequestsPer(Minute, 2), WithNow(clk.Now))

	for i := 0; i < 2; i++ {
		if d := guard.Allow(); !d.Allowed {
			t.Fatalf("call %d blocked: %+v", i, d)
		}
	}
	d := guard.Allow()
	if d.Allowed {
		t.Fatalf("third call allowed, want budget block")
	}
	if d.Reason != "minute budget" {
		t.Fatalf("reason = %q, want minute budget", d.Reason)
	}
	if want := clk.now.Add(30 * time.Second); !d.RetryAt.Equal(want) {
		t.Fatalf("RetryAt = %v, want %v", d.RetryAt, want)
	}

	clk.now = clk.now.Add(30 * time.Second)
	if d := guard.Allow(); !d.Allowed {
		t.Fatalf("call after refill blocked: %+v", d)
	}
}

func TestGuardEveryWindowMustHaveRoom(t *testing.T) {
	clk := &stepClock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	decl := Provider("test-windows").MaxRequestsPer(Minute, 10).MaxRequestsPer(Hour, 1)
	guard := NewGuard(decl, WithNow(clk.Now))

	if d := guard.Allow(); !d.Allowed {
		t.Fatalf("first call blocked: %+v", d)
	}
	clk.now = clk.now.Add(time.Minute)
	d := guard.Allow()
	if d.Allowed || d.Reason != "hour budget" {
		t.Fatalf("decision = %+v, want hour budget block", d)
	}
}

func TestGuardRetryAfterCooldown(t *testing.T) {
	clk := &stepClock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	guard := NewGuard(Provider("test-cooldown").MaxRequestsPer(Minute, 60), WithNow(clk.Now))

	header := http.Header{}
	header.Set("Retry-After", "5")
	guard.Record(http.StatusServiceUnavailable, header)

	d := guard.Allow()
	if d.Allowed || d.Reason != "cooldown" {
		t.Fatalf("decision = %+v, want cooldown", d)
	}
	clk.now = clk.now.Add(5 * time.Second)
	if d := guard.Allow(); !d.Allowed {
		t.Fatalf("call after cooldown blocked: %+v", d)
	}
}

func TestGuardCapsCooldown(t *testing.T) {
	clk := &stepClock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	decl := Provider("test-cap").MaxRequestsPer(Minute, 60).MaxBackoff(time.Minute)
	guard := NewGuard(decl, WithNow(clk.Now))

	header := http.Header{}
	header.Set("Retry-After", "86400")
	guard.Record(http.StatusTooManyRequests, header)

	clk.now = clk.now.Add(time.Minute)
	if d := guard.Allow(); !d.Allowed {
		t.Fatalf("cooldown not capped: %+v", d)
	}
}

func TestWrapHTTPBlocksAfterTooManyRequests(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := WrapHTTP(Provider("test-http").MaxRequestsPer(Minute, 60), server.Client())

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}

	_, err = client.Get(server.URL)
	var limitErr LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("second request error = %v, want LimitError", err)
	}
	if limitErr.Reason != "cooldown" || limitErr.Provider != "test-http" {
		t.Fatalf("LimitError = %+v", limitErr)
	}
	if calls != 1 {
		t.Fatalf("server calls = %d, want 1", calls)
	}
	if got := testutil.ToFloat64(blockedCounter.WithLabelValues("test-http", "cooldown")); got != 1 {
		t.Fatalf("blocked counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(lastStatusGauge.WithLabelValues("test-http")); got != http.StatusTooManyRequests {
		t.Fatalf("last status gauge = %v, want 429", got)
	}
	if got := testutil.ToFloat64(retryAfterGauge.WithLabelValues("test-http")); got != 30 {
		t.Fatalf("retry-after gauge = %v, want 30", got)
	}
}

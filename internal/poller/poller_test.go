package poller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/joshp123/thermoctl/internal/clock"
	"github.com/joshp123/thermoctl/internal/oauth"
	"github.com/joshp123/thermoctl/internal/thermostat"
)

type step struct {
	modified time.Time
	err      error
}

type scriptedFetcher struct {
	steps []step
	calls int
}

func (f *scriptedFetcher) Thermostat(context.Context) (thermostat.Snapshot, error) {
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	s := f.steps[i]
	if s.err != nil {
		return thermostat.Snapshot{}, s.err
	}
	return thermostat.Snapshot{LastModified: s.modified}, nil
}

var (
	t0 = time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func TestWaitDetectsChange(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{modified: t0}, {modified: t0}, {modified: t1}, {modified: t1}}}
	fake := clock.NewFake(t0)
	var reported []time.Time
	p := New(fetcher, func(s thermostat.Snapshot) { reported = append(reported, s.LastModified) }, WithClock(fake))

	res, err := p.Wait(context.Background(), thermostat.Snapshot{LastModified: t0}, 30*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !res.Changed || res.TimedOut {
		t.Fatalf("result = %+v, want changed", res)
	}
	// Two unchanged polls, the change, then the settle fetch.
	if fetcher.calls != 4 || res.Fetches != 4 {
		t.Fatalf("fetches = %d (result %d), want 4", fetcher.calls, res.Fetches)
	}
	if len(reported) != 4 {
		t.Fatalf("reported %d snapshots, want 4", len(reported))
	}
	sleeps := fake.Sleeps()
	if len(sleeps) != 4 {
		t.Fatalf("sleeps = %v, want 4", sleeps)
	}
	for _, d := range sleeps {
		if d != time.Second {
			t.Fatalf("sleep %v, want 1s cadence", d)
		}
	}
	if res.Final == nil || !res.Final.LastModified.Equal(t1) {
		t.Fatalf("Final = %+v", res.Final)
	}
}

func TestWaitTimesOut(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{modified: t0}}}
	fake := clock.NewFake(t0)
	p := New(fetcher, nil, WithClock(fake))

	res, err := p.Wait(context.Background(), thermostat.Snapshot{LastModified: t0}, 5*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !res.TimedOut || res.Changed {
		t.Fatalf("result = %+v, want timeout", res)
	}
	if res.Fetches != 6 {
		t.Fatalf("fetches = %d, want 5 polls + final", res.Fetches)
	}
	if res.Final == nil {
		t.Fatalf("no final snapshot after timeout")
	}
}

func TestWaitContinuesAfterTransientError(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{err: fmt.Errorf("dial tcp: connection refused")}, {modified: t1}}}
	p := New(fetcher, nil, WithClock(clock.NewFake(t0)))

	res, err := p.Wait(context.Background(), thermostat.Snapshot{LastModified: t0}, 10*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !res.Changed || res.Fetches != 3 {
		t.Fatalf("result = %+v, want change after one failed poll", res)
	}
}

func TestWaitAbortsOnAuthExpired(t *testing.T) {
	expired := fmt.Errorf("%w: token expired", oauth.ErrAuthExpired)
	fetcher := &scriptedFetcher{steps: []step{{modified: t0}, {err: expired}}}
	p := New(fetcher, nil, WithClock(clock.NewFake(t0)))

	_, err := p.Wait(context.Background(), thermostat.Snapshot{LastModified: t0}, 10*time.Second)
	if !errors.Is(err, oauth.ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("calls = %d, want 2", fetcher.calls)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &scriptedFetcher{steps: []step{{modified: t0}}}
	p := New(fetcher, nil, WithClock(clock.NewFake(t0)))

	if _, err := p.Wait(ctx, thermostat.Snapshot{LastModified: t0}, 10*time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("fetched after cancellation")
	}
}

// Package poller waits for the thermostat to acknowledge a change by watching
// its lastModified timestamp.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/joshp123/thermoctl/internal/clock"
	"github.com/joshp123/thermoctl/internal/logger"
	"github.com/joshp123/thermoctl/internal/oauth"
	"github.com/joshp123/thermoctl/internal/thermostat"
)

const (
	DefaultInterval = time.Second
	DefaultSettle   = time.Second
)

// Fetcher reads the current thermostat state.
type Fetcher interface {
	Thermostat(ctx context.Context) (thermostat.Snapshot, error)
}

// ReportFunc receives every snapshot the poller fetches.
type ReportFunc func(thermostat.Snapshot)

// Result describes how a wait ended.
type Result struct {
	Changed  bool
	TimedOut bool
	Fetches  int
	// Final is the settled snapshot; nil when the last fetch failed.
	Final *thermostat.Snapshot
}

type Poller struct {
	fetch    Fetcher
	report   ReportFunc
	clock    clock.Clock
	log      *logger.Logger
	interval time.Duration
	settle   time.Duration
}

type Option func(*Poller)

func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

func WithLogger(log *logger.Logger) Option {
	return func(p *Poller) { p.log = log }
}

func New(fetch Fetcher, report ReportFunc, opts ...Option) *Poller {
	if report == nil {
		report = func(thermostat.Snapshot) {}
	}
	p := &Poller{
		fetch:    fetch,
		report:   report,
		clock:    clock.Real{},
		log:      logger.Nop(),
		interval: DefaultInterval,
		settle:   DefaultSettle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait polls until lastModified differs from the baseline or timeout passes,
// then waits once more and reports a final snapshot. A timeout is not an
// error. Fetch failures are logged and polling goes on, except for auth
// expiry which is returned.
func (p *Poller) Wait(ctx context.Context, baseline thermostat.Snapshot, timeout time.Duration) (Result, error) {
	var res Result
	deadline := p.clock.Now().Add(timeout)

	for {
		if !p.clock.Now().Before(deadline) {
			res.TimedOut = true
			p.log.Infow("timed out waiting for thermostat update", "timeout", timeout.String())
			break
		}
		if err := p.clock.Sleep(ctx, p.interval); err != nil {
			return res, err
		}

		snap, err := p.fetch.Thermostat(ctx)
		res.Fetches++
		if err != nil {
			if fatal(ctx, err) {
				return res, err
			}
			p.log.Warnw("status poll failed", "error", err)
			continue
		}
		p.report(snap)
		if !snap.LastModified.Equal(baseline.LastModified) {
			res.Changed = true
			p.log.Debugw("thermostat updated", "lastModified", snap.LastModified.Format(time.RFC3339))
			break
		}
	}

	if err := p.clock.Sleep(ctx, p.settle); err != nil {
		return res, err
	}
	snap, err := p.fetch.Thermostat(ctx)
	res.Fetches++
	if err != nil {
		if fatal(ctx, err) {
			return res, err
		}
		p.log.Warnw("final status fetch failed", "error", err)
		return res, nil
	}
	p.report(snap)
	res.Final = &snap
	return res, nil
}

func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, oauth.ErrAuthExpired) || ctx.Err() != nil
}

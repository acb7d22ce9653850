// Package daemon keeps the thermostat inside a comfort band by issuing holds
// when the indoor temperature drifts past either bound.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/thermoctl/internal/clock"
	"github.com/joshp123/thermoctl/internal/hold"
	"github.com/joshp123/thermoctl/internal/logger"
	"github.com/joshp123/thermoctl/internal/oauth"
	"github.com/joshp123/thermoctl/internal/publish"
	"github.com/joshp123/thermoctl/internal/temp"
	"github.com/joshp123/thermoctl/internal/thermostat"
)

const (
	// Hysteresis is how far past a bound the temperature must be before a hold.
	Hysteresis      = 0.5
	DefaultInterval = 60 * time.Second
)

var ErrInvalidTargets = errors.New("target heat must be below target cool")

// API is the thermostat access the daemon needs.
type API interface {
	Thermostat(ctx context.Context) (thermostat.Snapshot, error)
	SetHold(ctx context.Context, params thermostat.HoldParams) (thermostat.Status, error)
}

type Config struct {
	TargetHeat  float64
	TargetCool  float64
	StartDelay  time.Duration
	EndTime     *time.Time
	MinInterval time.Duration
	HoldType    thermostat.HoldType
	Interval    time.Duration
}

func (c Config) Validate() error {
	if temp.ToAPI(c.TargetHeat) >= temp.ToAPI(c.TargetCool) {
		return fmt.Errorf("%w: heat %.1f, cool %.1f", ErrInvalidTargets, c.TargetHeat, c.TargetCool)
	}
	if c.StartDelay < 0 || c.MinInterval < 0 || c.Interval < 0 {
		return fmt.Errorf("daemon durations must not be negative")
	}
	return nil
}

// ResolveEndTime turns "HH:MM" into the next occurrence of that wall-clock
// time at or after now, in now's location.
func ResolveEndTime(now time.Time, hhmm string) (time.Time, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid end time %q (want HH:MM)", hhmm)
	}
	end := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if end.Before(now) {
		end = end.AddDate(0, 0, 1)
	}
	return end, nil
}

// Branch names which bound triggered a hold.
type Branch string

const (
	BranchNone Branch = ""
	BranchHeat Branch = "heat"
	BranchCool Branch = "cool"
)

// Outcome summarises one tick.
type Outcome struct {
	Done   bool
	Skip   string
	Branch Branch
	Params *thermostat.HoldParams
	Status *thermostat.Status
}

type Daemon struct {
	cfg    Config
	api    API
	clock  clock.Clock
	log    *logger.Logger
	events publish.Publisher
	onTick func(Outcome)

	lastSet time.Time
	hasSet  bool
}

type Option func(*Daemon)

// WithTickHook is called after every tick that did not end the loop.
func WithTickHook(fn func(Outcome)) Option {
	return func(d *Daemon) { d.onTick = fn }
}

func WithClock(c clock.Clock) Option {
	return func(d *Daemon) { d.clock = c }
}

func WithLogger(log *logger.Logger) Option {
	return func(d *Daemon) { d.log = log }
}

func WithPublisher(p publish.Publisher) Option {
	return func(d *Daemon) { d.events = p }
}

func New(cfg Config, api API, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	d := &Daemon{
		cfg:    cfg,
		api:    api,
		clock:  clock.Real{},
		log:    logger.Nop(),
		events: publish.Nop{},
	}
	for _, opt := range opts {
		opt(d)
	}
	targetSetpoint.WithLabelValues("heat").Set(cfg.TargetHeat)
	targetSetpoint.WithLabelValues("cool").Set(cfg.TargetCool)
	return d, nil
}

// Run ticks until the end time passes, ctx is cancelled or auth expires.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Infow("daemon started",
		"targetHeat", d.cfg.TargetHeat,
		"targetCool", d.cfg.TargetCool,
		"minInterval", d.cfg.MinInterval.String(),
		"holdType", d.cfg.HoldType.String(),
	)
	if d.cfg.StartDelay > 0 {
		d.log.Infow("delaying start", "delay", d.cfg.StartDelay.String())
		if err := d.clock.Sleep(ctx, d.cfg.StartDelay); err != nil {
			return err
		}
	}

	for {
		outcome, err := d.Tick(ctx)
		if err != nil {
			return err
		}
		if outcome.Done {
			d.log.Infow("end time reached, daemon stopping")
			return nil
		}
		if d.onTick != nil {
			d.onTick(outcome)
		}
		if err := d.clock.Sleep(ctx, d.cfg.Interval); err != nil {
			return err
		}
	}
}

// Tick runs one iteration. Only auth expiry and cancellation are returned
// as errors; everything else is logged and reported in the outcome.
func (d *Daemon) Tick(ctx context.Context) (Outcome, error) {
	now := d.clock.Now()
	if d.cfg.EndTime != nil && now.After(*d.cfg.EndTime) {
		return Outcome{Done: true}, nil
	}

	snap, err := d.api.Thermostat(ctx)
	if err != nil {
		if stop(ctx, err) {
			return Outcome{}, err
		}
		return d.skip("fetch failed", err), nil
	}
	if snap.ActualTemperature == nil {
		return d.skip("no temperature reading", nil), nil
	}
	d.observe(ctx, snap)

	branch, heat, cool := d.decide(now, snap)
	if branch == BranchNone {
		ticksTotal.WithLabelValues("idle").Inc()
		return Outcome{}, nil
	}

	params, err := hold.Setpoints(heat, cool, d.cfg.HoldType, snap)
	if err != nil {
		holdsTotal.WithLabelValues(string(branch), "invalid").Inc()
		return d.skip("hold rejected locally", err), nil
	}

	d.log.Infow("sending hold", "branch", string(branch), "actual", *snap.ActualTemperature, "hold", params.String())
	status, err := d.api.SetHold(ctx, params)
	if err != nil {
		if stop(ctx, err) {
			return Outcome{}, err
		}
		holdsTotal.WithLabelValues(string(branch), "error").Inc()
		return d.skip("send failed", err), nil
	}

	// Any answer from the vendor arms the interval, accepted or not.
	d.lastSet = now
	d.hasSet = true
	lastHold.Set(float64(now.Unix()))

	out := Outcome{Branch: branch, Params: &params, Status: &status}
	if !status.OK() {
		holdsTotal.WithLabelValues(string(branch), "rejected").Inc()
		ticksTotal.WithLabelValues("hold_rejected").Inc()
		d.log.Warnw("hold not accepted", "code", status.Code, "message", status.Message)
		d.publishHold(ctx, now, out)
		return out, nil
	}

	holdsTotal.WithLabelValues(string(branch), "ok").Inc()
	ticksTotal.WithLabelValues("hold").Inc()
	d.publishHold(ctx, now, out)
	return out, nil
}

// decide compares in tenths so the hysteresis bound is exact.
func (d *Daemon) decide(now time.Time, snap thermostat.Snapshot) (Branch, float64, float64) {
	actual := temp.ToAPI(*snap.ActualTemperature)
	targetHeat := temp.ToAPI(d.cfg.TargetHeat)
	targetCool := temp.ToAPI(d.cfg.TargetCool)
	margin := temp.ToAPI(Hysteresis)

	switch {
	case actual <= targetHeat-margin && temp.ToAPI(snap.DesiredHeat) != targetHeat:
		if !d.intervalElapsed(now) {
			d.log.Debugw("heat hold suppressed by min interval", "lastSet", d.lastSet.Format(time.RFC3339))
			ticksTotal.WithLabelValues("suppressed").Inc()
			return BranchNone, 0, 0
		}
		return BranchHeat, d.cfg.TargetHeat, d.cfg.TargetHeat + snap.HeatCoolMinDelta
	case actual >= targetCool+margin && temp.ToAPI(snap.DesiredCool) != targetCool:
		if !d.intervalElapsed(now) {
			d.log.Debugw("cool hold suppressed by min interval", "lastSet", d.lastSet.Format(time.RFC3339))
			ticksTotal.WithLabelValues("suppressed").Inc()
			return BranchNone, 0, 0
		}
		return BranchCool, d.cfg.TargetCool - snap.HeatCoolMinDelta, d.cfg.TargetCool
	default:
		return BranchNone, 0, 0
	}
}

func (d *Daemon) intervalElapsed(now time.Time) bool {
	return !d.hasSet || now.Sub(d.lastSet) >= d.cfg.MinInterval
}

func (d *Daemon) skip(reason string, err error) Outcome {
	ticksTotal.WithLabelValues("skipped").Inc()
	if err != nil {
		d.log.Warnw("daemon tick skipped", "reason", reason, "error", err)
	} else {
		d.log.Infow("daemon tick skipped", "reason", reason)
	}
	return Outcome{Skip: reason}
}

func (d *Daemon) observe(ctx context.Context, snap thermostat.Snapshot) {
	actualTemperature.Set(*snap.ActualTemperature)
	desiredSetpoint.WithLabelValues("heat").Set(snap.DesiredHeat)
	desiredSetpoint.WithLabelValues("cool").Set(snap.DesiredCool)

	event := stateEvent{
		Identifier: snap.Identifier,
		Actual:     *snap.ActualTemperature,
		Humidity:   snap.ActualHumidity,
		Heat:       snap.DesiredHeat,
		Cool:       snap.DesiredCool,
		HVACMode:   snap.HVACMode,
		Equipment:  snap.EquipmentStatus,
		Time:       d.clock.Now().UTC(),
	}
	if err := d.events.Publish(ctx, "state", event); err != nil {
		d.log.Warnw("publish state failed", "error", err)
	}
}

func (d *Daemon) publishHold(ctx context.Context, now time.Time, out Outcome) {
	event := holdEvent{
		Branch:   string(out.Branch),
		Heat:     *out.Params.HeatHoldTemp,
		Cool:     *out.Params.CoolHoldTemp,
		HoldType: out.Params.HoldType.String(),
		Code:     out.Status.Code,
		Message:  out.Status.Message,
		Time:     now.UTC(),
	}
	if err := d.events.Publish(ctx, "hold", event); err != nil {
		d.log.Warnw("publish hold failed", "error", err)
	}
}

type stateEvent struct {
	Identifier string    `json:"identifier"`
	Actual     float64   `json:"actual"`
	Humidity   *int      `json:"humidity,omitempty"`
	Heat       float64   `json:"heat"`
	Cool       float64   `json:"cool"`
	HVACMode   string    `json:"hvacMode"`
	Equipment  []string  `json:"equipment"`
	Time       time.Time `json:"time"`
}

type holdEvent struct {
	Branch   string    `json:"branch"`
	Heat     float64   `json:"heat"`
	Cool     float64   `json:"cool"`
	HoldType string    `json:"holdType"`
	Code     int       `json:"code"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

func stop(ctx context.Context, err error) bool {
	return errors.Is(err, oauth.ErrAuthExpired) || ctx.Err() != nil
}

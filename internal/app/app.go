// Package app runs one thermoctl invocation: authorize, read the thermostat,
// send a hold and wait for it, or run the daemon loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joshp123/thermoctl/internal/clock"
	"github.com/joshp123/thermoctl/internal/config"
	"github.com/joshp123/thermoctl/internal/credentials"
	"github.com/joshp123/thermoctl/internal/daemon"
	"github.com/joshp123/thermoctl/internal/ecobee"
	"github.com/joshp123/thermoctl/internal/hold"
	"github.com/joshp123/thermoctl/internal/logger"
	"github.com/joshp123/thermoctl/internal/oauth"
	"github.com/joshp123/thermoctl/internal/poller"
	"github.com/joshp123/thermoctl/internal/publish"
	"github.com/joshp123/thermoctl/internal/rate"
	"github.com/joshp123/thermoctl/internal/server"
	"github.com/joshp123/thermoctl/internal/temp"
	"github.com/joshp123/thermoctl/internal/thermostat"
)

const DefaultInfoTimeout = 30 * time.Second

// Options are the per-invocation choices from the command line.
type Options struct {
	Request hold.Request

	InfoBefore  bool
	InfoAfter   bool
	InfoTimeout time.Duration

	Daemon      bool
	StartDelay  time.Duration
	EndTime     string
	MinInterval time.Duration
}

// Changes reports whether a hold was requested.
func (o Options) Changes() bool {
	r := o.Request
	return strings.TrimSpace(r.Fan) != "" || strings.TrimSpace(r.Heat) != "" || strings.TrimSpace(r.Cool) != ""
}

// Env carries the process surroundings so tests can replace them.
type Env struct {
	Stdin      io.Reader
	Stdout     io.Writer
	HTTPClient *http.Client
	Clock      clock.Clock
	Log        *logger.Logger
	Reporter   Reporter
}

// AuthExpiredError is returned after the stored tokens were discarded.
type AuthExpiredError struct {
	Path string
	Err  error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("%v; tokens removed from %s, run thermoctl again to re-authorize", e.Err, e.Path)
}

func (e *AuthExpiredError) Unwrap() error {
	return e.Err
}

type session struct {
	cfg     config.Config
	opts    Options
	env     Env
	store   *credentials.Store
	manager *oauth.Manager
	client  *ecobee.Client
}

// Run executes one invocation.
func Run(ctx context.Context, cfg config.Config, opts Options, env Env) error {
	env = withDefaults(env)
	if err := precheck(opts, env.Clock.Now()); err != nil {
		return err
	}

	s := &session{cfg: cfg, opts: opts, env: env}
	if err := s.open(ctx); err != nil {
		return s.handleAuthExpired(ctx, err)
	}
	if opts.Daemon {
		return s.handleAuthExpired(ctx, s.runDaemon(ctx))
	}
	return s.handleAuthExpired(ctx, s.runOnce(ctx))
}

func withDefaults(env Env) Env {
	if env.Stdin == nil {
		env.Stdin = os.Stdin
	}
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.HTTPClient == nil {
		env.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if env.Clock == nil {
		env.Clock = clock.Real{}
	}
	if env.Log == nil {
		env.Log = logger.Nop()
	}
	if env.Reporter == nil {
		env.Reporter = discard{}
	}
	return env
}

// precheck rejects malformed input before any file or network access, so a
// bad daemon band never reaches the PIN prompt.
func precheck(opts Options, now time.Time) error {
	r := opts.Request
	if strings.TrimSpace(r.Fan) != "" {
		if _, err := hold.ParseFanMode(r.Fan); err != nil {
			return err
		}
	}
	if _, err := hold.ParseHoldType(r.HoldType); err != nil {
		return err
	}
	if !opts.Daemon {
		return nil
	}
	if strings.TrimSpace(r.Fan) != "" {
		return fmt.Errorf("daemon mode does not change the fan")
	}
	if strings.TrimSpace(r.Heat) == "" || strings.TrimSpace(r.Cool) == "" {
		return fmt.Errorf("daemon mode needs both -heat and -cool targets")
	}
	heat, cool, err := daemonTargets(r)
	if err != nil {
		return err
	}
	cfg := daemon.Config{
		TargetHeat:  heat,
		TargetCool:  cool,
		StartDelay:  opts.StartDelay,
		MinInterval: opts.MinInterval,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.EndTime != "" {
		if _, err := daemon.ResolveEndTime(now, opts.EndTime); err != nil {
			return err
		}
	}
	return nil
}

// daemonTargets parses -heat and -cool as absolute values; relative input
// has no fixed meaning across ticks.
func daemonTargets(r hold.Request) (float64, float64, error) {
	heat, err := absoluteTarget("heat", r.Heat)
	if err != nil {
		return 0, 0, err
	}
	cool, err := absoluteTarget("cool", r.Cool)
	if err != nil {
		return 0, 0, err
	}
	return heat, cool, nil
}

func absoluteTarget(name, value string) (float64, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "-") {
		return 0, fmt.Errorf("daemon %s target %q must be absolute", name, value)
	}
	degrees, err := temp.ParseAbsolute(trimmed)
	if err != nil {
		return 0, fmt.Errorf("daemon %s target: %w", name, err)
	}
	return degrees, nil
}

func (s *session) open(ctx context.Context) error {
	log := s.env.Log

	storeOpts := []credentials.Option{credentials.WithLogger(log.Named("credentials"))}
	mirrorCfg := credentials.MirrorConfig{
		Endpoint:      s.cfg.Mirror.Endpoint,
		Bucket:        s.cfg.Mirror.Bucket,
		Prefix:        s.cfg.Mirror.Prefix,
		Region:        s.cfg.Mirror.Region,
		AccessKeyFile: s.cfg.Mirror.AccessKeyFile,
		SecretKeyFile: s.cfg.Mirror.SecretKeyFile,
	}
	if mirrorCfg.Enabled() {
		mirror, err := credentials.NewS3Mirror(mirrorCfg)
		if err != nil {
			return fmt.Errorf("credentials mirror: %w", err)
		}
		storeOpts = append(storeOpts, credentials.WithMirror(mirror))
	}
	s.store = credentials.NewStore(s.cfg.CredentialsFile, storeOpts...)
	if restored, err := s.store.Restore(ctx); err != nil {
		log.Warnw("credentials restore failed", "error", err)
	} else if restored {
		log.Infow("credentials restored from mirror", "path", s.store.Path())
	}

	prompter := oauth.ConsolePrompter{In: s.env.Stdin, Out: s.env.Stdout}
	manager, err := oauth.NewManager(
		oauth.EcobeeDeclaration(s.cfg.APIURL, s.cfg.Scope),
		s.store,
		prompter,
		oauth.WithHTTPClient(s.env.HTTPClient),
		oauth.WithClock(s.env.Clock),
		oauth.WithLogger(log.Named("oauth")),
	)
	if err != nil {
		return err
	}
	s.manager = manager

	tokens, err := manager.TokenSource(ctx)
	if err != nil {
		return err
	}

	apiHTTP := rate.WrapHTTP(rate.Ecobee(), s.env.HTTPClient)
	s.client, err = ecobee.NewClient(s.cfg.APIURL, tokens,
		ecobee.WithHTTPClient(apiHTTP),
		ecobee.WithLogger(log.Named("ecobee")),
	)
	return err
}

func (s *session) runOnce(ctx context.Context) error {
	report := s.env.Reporter

	snap, err := s.client.Thermostat(ctx)
	if err != nil {
		return fmt.Errorf("read thermostat: %w", err)
	}

	if !s.opts.Changes() {
		report.Snapshot(StageCurrent, snap)
		return nil
	}
	if s.opts.InfoBefore {
		report.Snapshot(StageBefore, snap)
	}

	params, err := hold.Build(s.opts.Request, snap)
	if err != nil {
		return err
	}
	s.env.Log.Debugw("sending hold", "hold", params.String())
	status, err := s.client.SetHold(ctx, params)
	if err != nil {
		return fmt.Errorf("send hold: %w", err)
	}
	report.Hold(params, status)
	if !status.OK() || !s.opts.InfoAfter {
		return nil
	}

	timeout := s.opts.InfoTimeout
	if timeout <= 0 {
		timeout = DefaultInfoTimeout
	}
	p := poller.New(s.client, func(snap thermostat.Snapshot) { report.Snapshot(StagePoll, snap) },
		poller.WithClock(s.env.Clock),
		poller.WithLogger(s.env.Log.Named("poller")),
	)
	res, err := p.Wait(ctx, snap, timeout)
	if err != nil {
		return err
	}
	if res.TimedOut {
		report.Notice(fmt.Sprintf("thermostat did not report the change within %s", timeout))
	}
	return nil
}

func (s *session) runDaemon(ctx context.Context) error {
	log := s.env.Log.Named("daemon")
	heat, cool, err := daemonTargets(s.opts.Request)
	if err != nil {
		return err
	}

	holdType, err := hold.ParseHoldType(s.cfg.Daemon.HoldType)
	if err != nil {
		return err
	}
	if strings.TrimSpace(s.opts.Request.HoldType) != "" {
		holdType, _ = hold.ParseHoldType(s.opts.Request.HoldType)
	}

	cfg := daemon.Config{
		TargetHeat:  heat,
		TargetCool:  cool,
		StartDelay:  s.opts.StartDelay,
		MinInterval: s.opts.MinInterval,
		HoldType:    holdType,
	}
	if s.opts.EndTime != "" {
		end, err := daemon.ResolveEndTime(s.env.Clock.Now(), s.opts.EndTime)
		if err != nil {
			return err
		}
		cfg.EndTime = &end
		log.Infow("daemon end time", "at", end.Format(time.RFC3339))
	}

	opts := []daemon.Option{daemon.WithClock(s.env.Clock), daemon.WithLogger(log)}

	if s.cfg.MQTT.Broker != "" {
		pub, err := publish.Connect(publish.Config{
			Broker:       s.cfg.MQTT.Broker,
			TopicPrefix:  s.cfg.MQTT.TopicPrefix,
			Username:     s.cfg.MQTT.Username,
			PasswordFile: s.cfg.MQTT.PasswordFile,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, daemon.WithPublisher(pub))
	}

	if s.cfg.Daemon.MetricsAddr != "" {
		health, err := s.startMetrics(ctx, cfg)
		if err != nil {
			return err
		}
		opts = append(opts, daemon.WithTickHook(func(o daemon.Outcome) {
			if o.Skip != "" {
				health.Beat(errors.New(o.Skip))
				return
			}
			health.Beat(nil)
		}))
	}

	d, err := daemon.New(cfg, s.client, opts...)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

func (s *session) startMetrics(ctx context.Context, cfg daemon.Config) (*server.Health, error) {
	registry, err := server.NewRegistry(
		oauth.MetricsCollectors(),
		rate.MetricsCollectors(),
		daemon.MetricsCollectors(),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics registry: %w", err)
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = daemon.DefaultInterval
	}
	health := server.NewHealth(3 * interval)
	srv := server.NewHTTPServer(s.cfg.Daemon.MetricsAddr, registry, health, s.env.Log.Named("metrics"))
	if _, err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("metrics server: %w", err)
	}
	return health, nil
}

// handleAuthExpired trims the credentials file when the vendor rejected the
// stored tokens.
func (s *session) handleAuthExpired(ctx context.Context, err error) error {
	if err == nil || !errors.Is(err, oauth.ErrAuthExpired) || s.manager == nil {
		return err
	}
	if trimErr := s.manager.Invalidate(context.WithoutCancel(ctx)); trimErr != nil {
		s.env.Log.Errorw("could not remove expired tokens", "error", trimErr)
	}
	return &AuthExpiredError{Path: s.store.Path(), Err: err}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshp123/thermoctl/internal/app"
	"github.com/joshp123/thermoctl/internal/config"
	"github.com/joshp123/thermoctl/internal/console"
	"github.com/joshp123/thermoctl/internal/logger"
)

type cliFlags struct {
	configPath  string
	credentials string
	verbose     bool
	json        bool
	wait        bool
	hideConsole bool
	opts        app.Options
	extra       []string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "thermoctl: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := execute(ctx, flags, stdin, stdout, stderr)
	if flags.wait {
		fmt.Fprint(stdout, "Press Enter to exit... ")
		_, _ = bufio.NewReader(stdin).ReadString('\n')
	}
	return code
}

func execute(ctx context.Context, flags cliFlags, stdin io.Reader, stdout, stderr io.Writer) int {
	if err := flags.check(); err != nil {
		return fatal(stderr, "", err)
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fatal(stderr, "load config", err)
	}
	if flags.credentials != "" {
		path, err := config.ExpandPath(flags.credentials)
		if err != nil {
			return fatal(stderr, "credentials path", err)
		}
		cfg.CredentialsFile = path
	}
	if flags.verbose {
		cfg.LogLevel = logger.DebugLevel
	}

	log := logger.New(cfg.LogLevel, stderr)
	defer func() { _ = log.Sync() }()

	if flags.hideConsole {
		if hidden, err := console.Hide(); err != nil {
			log.Warnw("hide console failed", "error", err)
		} else if hidden {
			log.Debugw("console window hidden")
		}
	}

	env := app.Env{
		Stdin:    stdin,
		Stdout:   stdout,
		Log:      log,
		Reporter: outputMode{json: flags.json, out: stdout},
	}
	if err := app.Run(ctx, cfg, flags.opts, env); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Infow("interrupted")
			return 1
		}
		return fatal(stderr, "", err)
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("thermoctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&f.opts.Request.Fan, "fan", "", "fan mode: auto or on")
	fs.StringVar(&f.opts.Request.Heat, "heat", "", "heat setpoint, absolute (68) or relative (+1, -0.5)")
	fs.StringVar(&f.opts.Request.Cool, "cool", "", "cool setpoint, absolute (74) or relative (+1, -0.5)")
	fs.StringVar(&f.opts.Request.HoldType, "hold", "", "hold type: nextTransition or indefinite (vendor default when empty)")

	fs.BoolVar(&f.opts.Daemon, "daemon", false, "keep the temperature between -heat and -cool until -end-time")
	fs.DurationVar(&f.opts.StartDelay, "start-delay", 0, "daemon: wait this long before the first tick")
	fs.StringVar(&f.opts.EndTime, "end-time", "", "daemon: stop at this local time (HH:MM)")
	fs.DurationVar(&f.opts.MinInterval, "min-interval", 0, "daemon: minimum time between holds")

	fs.BoolVar(&f.opts.InfoBefore, "info-before", false, "print status before sending the hold")
	fs.BoolVar(&f.opts.InfoAfter, "info-after", false, "poll status until the thermostat reports the change")
	fs.DurationVar(&f.opts.InfoTimeout, "info-timeout", app.DefaultInfoTimeout, "how long -info-after waits")

	fs.BoolVar(&f.verbose, "verbose", false, "debug logging")
	fs.BoolVar(&f.json, "json", false, "print status as JSON lines")
	fs.BoolVar(&f.wait, "wait", false, "wait for Enter before exiting")
	fs.BoolVar(&f.hideConsole, "hide-console", false, "hide the console window (Windows)")
	fs.StringVar(&f.configPath, "config", "", "config file (default "+config.DefaultPath+")")
	fs.StringVar(&f.credentials, "credentials", "", "credentials file (overrides config)")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: thermoctl [flags]")
		fmt.Fprintln(stderr, "Without -fan, -heat or -cool the current status is printed.")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	f.extra = fs.Args()
	return f, nil
}

// check rejects flag combinations the parser accepted but thermoctl cannot run.
func (f cliFlags) check() error {
	if len(f.extra) > 0 {
		return fmt.Errorf("unexpected arguments: %v", f.extra)
	}
	if f.opts.InfoTimeout <= 0 {
		return fmt.Errorf("-info-timeout must be positive")
	}
	if f.opts.StartDelay < 0 || f.opts.MinInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if !f.opts.Daemon && (f.opts.StartDelay != 0 || f.opts.EndTime != "" || f.opts.MinInterval != 0) {
		return fmt.Errorf("-start-delay, -end-time and -min-interval need -daemon")
	}
	return nil
}

func fatal(stderr io.Writer, action string, err error) int {
	if action != "" {
		fmt.Fprintf(stderr, "thermoctl: %s: %v\n", action, err)
		return 1
	}
	fmt.Fprintf(stderr, "thermoctl: %v\n", err)
	return 1
}

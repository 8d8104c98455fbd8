package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/hallboard/pkg/calendar"
	"github.com/umputun/hallboard/pkg/config"
	"github.com/umputun/hallboard/pkg/scheduler"
	"github.com/umputun/hallboard/pkg/weather"
	"github.com/umputun/hallboard/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"f" long:"config" env:"CONFIG" default:"hallboard.yml" description:"config file path"`
	Listen string `short:"l" long:"listen" env:"LISTEN" description:"listen address (overrides config)"`
	Feeds  string `long:"feeds" env:"FEEDS" description:"comma-delimited calendar feed URLs (overrides config)"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug)

	log.Printf("[INFO] starting hallboard version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	err := run(ctx, opts)
	cancel()

	if err != nil {
		log.Printf("[ERROR] hallboard failed: %v", err)
		os.Exit(1)
	}

	log.Print("[INFO] shutdown complete")
}

// run wires the pipeline, scheduler and server together and blocks until the
// context is canceled.
func run(ctx context.Context, opts Opts) error {
	provider, err := config.NewProvider(opts.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfgProvider := &overrideProvider{inner: provider, listen: opts.Listen, feeds: opts.Feeds}
	cfg := cfgProvider.Get()
	log.Printf("[INFO] %d calendar feeds, horizon %d days, timezone %q",
		len(cfg.Feeds), cfg.Calendar.HorizonDays, cfg.Calendar.Timezone)

	fetcher := calendar.NewHTTPFetcher(cfg.Calendar.FetchTimeout, cfg.Calendar.FetchAttempts, cfg.Calendar.BackoffStep)
	pipeline := calendar.NewPipeline(fetcher, cfg.Location())

	var weatherProvider scheduler.WeatherProvider
	if cfg.Weather.Location != "" {
		weatherProvider = weather.NewClient(cfg.Weather.Location, cfg.Weather.Timeout)
	} else {
		log.Printf("[WARN] no weather location configured, weather disabled")
	}

	sched := scheduler.NewScheduler(cfgProvider, pipeline, weatherProvider)
	sched.Start(ctx)
	defer sched.Stop()

	srv := server.New(cfgProvider, pipeline, sched, revision, opts.Debug)
	return srv.Run(ctx)
}

// overrideProvider applies CLI/env overrides on top of the file-backed
// config provider.
type overrideProvider struct {
	inner  *config.Provider
	listen string
	feeds  string
}

// Get returns a fresh config with overrides applied. The inner config is
// copied so the provider's cached copy stays untouched.
func (p *overrideProvider) Get() *config.Config {
	cfg := *p.inner.Get()
	if p.listen != "" {
		cfg.Server.Listen = p.listen
	}
	if p.feeds != "" {
		cfg.Feeds = config.ParseFeedList(p.feeds)
	}
	return &cfg
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = append(logOpts, lgr.Debug)
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}

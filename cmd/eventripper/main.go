package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"

	"eventripper/internal/adapter"
	"eventripper/internal/adapters/builtin"
	"eventripper/internal/config"
	"eventripper/internal/fetch"
	appLog "eventripper/internal/log"
	"eventripper/internal/pipeline"
	"eventripper/internal/store"
	"eventripper/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	source     string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file when provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.Init(os.Stderr, appLog.ParseLevel(conf.LogLevel), conf.LogFormat)
	appLog.Info("eventripper starting", "version", version)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"sources_dir", conf.SourcesDir,
		"output_dir", conf.OutputDir,
		"aggregates", len(conf.Aggregates),
		"once", flags.once,
		"source", flags.source,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var history *store.Store
	if conf.HistoryDB != "" {
		history, err = store.Open(conf.HistoryDB)
		if err != nil {
			appLog.Error("failed to open run history", err, "path", conf.HistoryDB)
			os.Exit(1)
		}
		defer history.Close()
	}

	registry := builtin.NewRegistry()
	appLog.Info("adapters registered", "types", registry.Types(), "custom", registry.Customs())

	runner, err := newRunner(conf, registry, flags.source, history)
	if err != nil {
		appLog.Error("failed to build pipeline", err)
		os.Exit(1)
	}

	if flags.once {
		if _, err := runner.Run(ctx); err != nil {
			appLog.Error("pipeline run failed", err)
			os.Exit(1)
		}
		return
	}

	// Runs never overlap. Cron ticks are skipped while any run is in flight;
	// the initial run and web refreshes wait for it.
	gate := &runGate{run: func(ctx context.Context) error {
		_, err := runner.Run(ctx)
		return err
	}}

	sched := cron.New(
		cron.WithLocation(conf.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		ran, err := gate.TryRun(ctx)
		if !ran {
			appLog.Info("scheduled run skipped, previous run still in progress")
			return
		}
		if err != nil {
			appLog.Error("scheduled run failed", err)
		}
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	// Initial run so outputs exist before the first tick.
	go func() {
		if err := gate.Wait(ctx); err != nil {
			appLog.Error("initial run failed", err)
		}
	}()

	if conf.Listen != "" {
		var hist web.History
		if history != nil {
			hist = history
		}
		srv := web.NewServer(conf, hist, gate.Wait)
		if err := srv.ListenAndServe(ctx); err != nil {
			appLog.Error("HTTP server failed", err)
			os.Exit(1)
		}
	} else {
		<-ctx.Done()
	}

	appLog.Info("eventripper exiting")
}

func newRunner(conf *config.Config, registry *adapter.Registry, only string, history *store.Store) (*pipeline.Runner, error) {
	fetchers := fetch.NewResolver(fetch.Options{
		Timeout:        conf.HTTP.Timeout,
		Retries:        conf.HTTP.Retries,
		CacheDir:       filepath.Join(conf.CacheDir, "http"),
		UserAgent:      conf.HTTP.UserAgent,
		RelayURL:       conf.Proxy.RelayURL,
		RelayToken:     conf.Proxy.RelayToken,
		BrowserURL:     conf.Proxy.BrowserURL,
		BrowserTimeout: conf.Proxy.BrowserTimeout,
	})

	opts := pipeline.Options{
		Registry:      registry,
		Fetchers:      fetchers,
		Keys:          conf.Keys(),
		SourcesDir:    conf.SourcesDir,
		RecurringFile: conf.RecurringFile,
		OutputDir:     conf.OutputDir,
		Aggregates:    conf.Aggregates,
		Only:          only,
	}
	if history != nil {
		opts.History = history
	}
	return pipeline.New(opts)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/eventripper/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&cfg.source, "source", "", "Run only the named source")
	flag.BoolVar(&cfg.once, "once", false, "Run the pipeline once and exit")

	flag.Parse()

	return cfg
}

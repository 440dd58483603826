// Command tablesink drains delimited records from an upstream queue into
// relational tables described by a reloadable schema document.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tablesink/internal/admin"
	"tablesink/internal/config"
	"tablesink/internal/cycle"
	"tablesink/internal/datasource"
	"tablesink/internal/datasource/httpds"
	"tablesink/internal/ddl"
	"tablesink/internal/logging"
	"tablesink/internal/metrics"
	"tablesink/internal/metrics/datadog"
	"tablesink/internal/metrics/prompush"
	"tablesink/internal/record"
	"tablesink/internal/registry"
	"tablesink/internal/reload"
	"tablesink/internal/storage"
	"tablesink/internal/upstream"

	// register all backends with the storage factory.
	_ "tablesink/internal/storage/all"
)

func main() {
	var (
		cfgPath  string
		envFiles string
		validate bool
	)
	flag.StringVar(&cfgPath, "config", "", "config file (YAML or JSON); empty uses defaults and TABLESINK_* env")
	flag.StringVar(&envFiles, "env", ".env", "comma-separated dotenv files loaded before the config")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Parse()

	if err := config.LoadDotEnv(splitList(envFiles)...); err != nil {
		fatalf("dotenv: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("config: %v", err)
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if err := config.Check(issues); err != nil {
		fatalf("%v", err)
	}
	if validate {
		fmt.Fprintln(os.Stderr, "configuration is valid")
		os.Exit(0)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	closeMetrics, err := setupMetrics(cfg, logger)
	if err != nil {
		logger.Error("metrics setup failed", "err", err)
		os.Exit(1)
	}
	defer closeMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("sink stopped", "err", err)
		closeMetrics()
		os.Exit(1)
	}
}

// run wires the sink and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := storage.New(ctx, cfg.StorageConfig())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store", "err", err)
		}
	}()

	httpClient := httpds.NewClient(cfg.HTTPClientConfig())
	schemaSrc, err := datasource.Resolve(cfg.Schema.Source, httpClient)
	if err != nil {
		return fmt.Errorf("schema source: %w", err)
	}
	var preparer registry.Preparer = store
	regOpts := []registry.Option{registry.WithLogger(logger)}
	if cfg.Store.CreateTables {
		ep, err := ddl.NewEnsuringPreparer(store, cfg.Store.Driver, logger)
		if err != nil {
			return err
		}
		preparer = ep
		// Recreate tables dropped since the last load on every reload.
		regOpts = append(regOpts, registry.WithRefreshUnchanged())
	}
	reg := registry.New(registry.SourceFetcher(schemaSrc), preparer, regOpts...)
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("close registry", "err", err)
		}
	}()
	if err := reg.Reload(ctx); err != nil {
		return fmt.Errorf("initial schema load: %w", err)
	}
	logger.Info("schema loaded", "tables", reg.Tables())

	dec, err := record.NewDecoder(cfg.Record.Prefix, cfg.Record.Delimiter, cfg.Record.Charset)
	if err != nil {
		return fmt.Errorf("record decoder: %w", err)
	}

	ch := upstream.NewChannel(cfg.Upstream.Capacity, cfg.Runtime.TakeTimeout)
	coord := cycle.NewCoordinator(cycle.FromChannel(ch), dec, reg, store, cycle.Config{
		BatchSize: cfg.Runtime.BatchSize,
		Job:       cfg.Name,
		Logger:    logger,
	})
	sched := reload.New(reg,
		reload.WithOffset(cfg.Schema.ReloadOffset),
		reload.WithLogger(logger),
		reload.WithJob(cfg.Name),
	)
	runner := cycle.NewRunner(coord, sched, cycle.RunnerConfig{
		BackoffIncrement: cfg.Runtime.BackoffIncrement,
		MaxBackoff:       cfg.Runtime.MaxBackoff,
		Logger:           logger,
	})

	logger.Info("sink starting",
		"name", cfg.Name,
		"driver", cfg.Store.Driver,
		"batch_size", cfg.Runtime.BatchSize,
		"next_reload", sched.Deadline(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })

	if cfg.Upstream.Source != "" {
		feedSrc, err := datasource.Resolve(cfg.Upstream.Source, httpds.NewClient(cfg.FeedHTTPClientConfig()))
		if err != nil {
			return fmt.Errorf("upstream source: %w", err)
		}
		g.Go(func() error {
			n, err := upstream.Feed(gctx, feedSrc, ch, cfg.Name, logger)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, upstream.ErrClosed) {
				return fmt.Errorf("feed %s: %w", cfg.Upstream.Source, err)
			}
			logger.Info("feed finished", "source", cfg.Upstream.Source, "records", n)
			return nil
		})
	}

	if cfg.Admin.Addr != "" {
		srv := admin.NewServer(admin.Config{
			Addr:     cfg.Admin.Addr,
			Registry: reg,
			Reloader: sched,
			Queue:    ch,
			State:    admin.StateFunc(func() string { return coord.State().String() }),
			Logger:   logger,
		})
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	// Stop accepting records once shutdown starts; the runner finishes its
	// current cycle before returning.
	g.Go(func() error {
		<-gctx.Done()
		ch.Close()
		return nil
	})

	err = g.Wait()
	logger.Info("sink stopped", "queued", ch.Len())
	return err
}

// setupMetrics installs the configured backend and returns a function that
// flushes and releases it.
func setupMetrics(cfg *config.Config, logger *slog.Logger) (func(), error) {
	flush := func() {
		if err := metrics.Flush(); err != nil {
			logger.Warn("metrics flush", "err", err)
		}
	}

	switch cfg.Metrics.Backend {
	case "pushgateway":
		b, err := prompush.NewBackend(cfg.Name, cfg.Metrics.PushgatewayURL)
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		logger.Info("metrics enabled", "backend", "pushgateway", "url", cfg.Metrics.PushgatewayURL)
		return flush, nil

	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       cfg.Metrics.DatadogAddr,
			GlobalTags: []string{"job:" + cfg.Name},
		})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		logger.Info("metrics enabled", "backend", "datadog", "addr", cfg.Metrics.DatadogAddr)
		var closed bool
		return func() {
			if closed {
				return
			}
			closed = true
			flush()
			if err := b.Close(); err != nil {
				logger.Warn("metrics close", "err", err)
			}
		}, nil

	default:
		logger.Debug("metrics disabled")
		return func() {}, nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

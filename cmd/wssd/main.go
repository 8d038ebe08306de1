// securewss daemon - keeps the private CA and the server certificate current
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/lucas/securewss/internal/app"
	"github.com/lucas/securewss/internal/config"
	"github.com/lucas/securewss/internal/lifecycle"
	"github.com/lucas/securewss/internal/listener"
	"github.com/lucas/securewss/internal/observability"
	"github.com/lucas/securewss/internal/rotation"
	"github.com/lucas/securewss/internal/store"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const (
	shutdownTimeout = 10 * time.Second
	retryInterval   = 500 * time.Millisecond
)

func main() {
	// Parse flags
	configPath := flag.String("config", "/etc/securewss/securewss.yaml", "Path to configuration file")
	envFile := flag.String("env-file", "/etc/securewss/securewss.env", "Path to optional environment file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("securewss %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		slog.Error("failed to load environment file", "error", err)
		os.Exit(1)
	}

	// Load configuration
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := observability.NewLogger(cfg.Observability.Logging, os.Stdout)
	slog.SetDefault(logger)

	slog.Info("starting securewss daemon",
		"version", version,
		"config", *configPath,
	)
	slog.Info("configuration loaded successfully",
		"cert_dir", cfg.CA.CertDir,
		"root_name", cfg.CA.RootName,
		"leaf_name", cfg.CA.LeafName,
		"trust_enabled", cfg.Trust.Enabled,
		"listener_enabled", cfg.Listener.Enabled,
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}

	slog.Info("shutting down securewss daemon")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	opts := []lifecycle.Option{lifecycle.WithRecorder(metrics)}

	var web *listener.Server
	if cfg.Listener.Enabled {
		web = listener.New(listener.Config{
			Address:   cfg.Listener.Address,
			HTTPPort:  cfg.Listener.HTTP,
			HTTPSPort: cfg.Listener.HTTPS,
			WebRoot:   cfg.Listener.WebRoot,
			CertName:  cfg.CA.LeafName,
		}, store.NewFileStore(cfg.CA.CertDir, cfg.CA.ExportPassword), listener.WithLogger(logger))
		opts = append(opts, lifecycle.WithListener(web))
	}

	components, err := app.Build(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer components.Close()

	obs := observability.NewServer(cfg.Observability, reg, logger)
	if err := obs.Start(ctx); err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}

	scheduler := rotation.New(components.Manager,
		rotation.WithInterval(cfg.CA.CheckInterval),
		rotation.WithLogger(logger),
	)

	g, gctx := errgroup.WithContext(ctx)

	// Startup pass, then the listener. It can race the scheduler's first
	// tick; whichever loses retries until a pass of its own has run.
	g.Go(func() error {
		if err := startupPass(gctx, components.Manager); err != nil {
			return nil
		}
		if web != nil {
			if err := web.Start(); err != nil {
				return fmt.Errorf("failed to start listener: %w", err)
			}
		}
		obs.SetReady(true)
		slog.Info("daemon initialized")
		return nil
	})

	g.Go(func() error {
		if err := scheduler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		obs.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if web != nil {
			errs = append(errs, web.Stop(shutdownCtx))
		}
		errs = append(errs, obs.Stop(shutdownCtx))
		return errors.Join(errs...)
	})

	return g.Wait()
}

func startupPass(ctx context.Context, m *lifecycle.Manager) error {
	for {
		if _, ran := m.TryPass(ctx); ran {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

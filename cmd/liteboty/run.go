package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/yejue/liteboty/bot"
	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/errors"
	"github.com/yejue/liteboty/logging"
	"github.com/yejue/liteboty/metric"
	"github.com/yejue/liteboty/service"
	"github.com/yejue/liteboty/services"
)

// runCommand drives the supervisor until SIGINT or SIGTERM.
func runCommand(args []string, stderr io.Writer) error {
	cli, err := parseFlags("run", args, stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The supervisor loads the file again; this load only sets up logging
	// and metrics, and fails fast on a broken file.
	cfg, err := config.Load(ctx, cli.ConfigPath)
	if err != nil {
		return err
	}

	logger, closer, err := setupLogger(cfg.Logging, cli, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("starting liteboty",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"config_version", cfg.Version)

	metricsRegistry := metric.NewMetricsRegistry()
	factories := service.NewFactories()
	if err := services.RegisterAll(factories); err != nil {
		return fmt.Errorf("register services: %w", err)
	}
	logger.Debug("service factories registered", "keys", factories.Keys())

	b := bot.New(cli.ConfigPath, factories,
		bot.WithLogger(logger),
		bot.WithMetrics(metricsRegistry))

	if cfg.Metrics.Enabled || cli.MetricsAddr != "" {
		server, err := startMetricsServer(cfg.Metrics, cli.MetricsAddr, metricsRegistry, b, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	if err := b.Run(ctx); err != nil {
		var cfgErr *errors.ConfigError
		var supErr *errors.SupervisorError
		if errors.As(err, &cfgErr) || errors.As(err, &supErr) {
			return err
		}
		return &errors.SupervisorError{Err: err}
	}

	logger.Info("liteboty shutdown complete")
	return nil
}

// setupLogger applies the CLI overrides to the LOGGING block.
func setupLogger(cfg config.LoggingConfig, cli *CLIConfig, w io.Writer) (*slog.Logger, io.Closer, error) {
	if cli.LogLevel != "" {
		cfg.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Format = cli.LogFormat
	}
	return logging.New(cfg, w)
}

// startMetricsServer serves /metrics and the supervisor's health report on /health.
func startMetricsServer(cfg config.MetricsConfig, override string, registry *metric.MetricsRegistry, b *bot.Bot, logger *slog.Logger) (*metric.Server, error) {
	addr := cfg.Addr
	if override != "" {
		addr = override
	}
	server := metric.NewServer(addr, "/metrics", registry, metric.WithHealth(func() (bool, any) {
		status := b.Health()
		return status.Healthy, status
	}))
	errCh, err := server.Start()
	if err != nil {
		return nil, fmt.Errorf("start metrics server: %w", err)
	}
	go func() {
		if err, ok := <-errCh; ok && err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics server listening", "address", server.Address())
	return server, nil
}

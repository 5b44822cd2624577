package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"

	"github.com/yejue/liteboty/bus/drivers"
	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/logging"
	"github.com/yejue/liteboty/service"
	"github.com/yejue/liteboty/services"
)

// workerCommand is the child side of a process-isolated service. It reads
// the service spec from the environment, runs the service with its own bus
// connection and stops it on SIGTERM.
func workerCommand(stderr io.Writer) error {
	spec, err := service.WorkerSpecFromEnv()
	if err != nil {
		return err
	}

	cfg, err := workerConfig(spec.Global)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = logger.With("role", "worker")

	factories := service.NewFactories()
	if err := services.RegisterAll(factories); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	deps := &service.Dependencies{
		Logger:    logger,
		DialerFor: drivers.NewSelector(logger).ForServices(config.NewStore(cfg)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return service.RunWorker(ctx, spec, factories, deps, cfg.Bot.StopTimeoutDuration())
}

// workerConfig rebuilds the parent's configuration from the global document
// carried in the worker spec.
func workerConfig(global map[string]any) (*config.Configuration, error) {
	if len(global) == 0 {
		return config.Parse(nil, config.FormatJSON)
	}
	data, err := sonic.Marshal(global)
	if err != nil {
		return nil, fmt.Errorf("encode global config: %w", err)
	}
	return config.Parse(data, config.FormatJSON)
}

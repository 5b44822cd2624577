package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/errors"
)

// Environment handed from a ProcessProxy to its child.
const (
	WorkerSpecEnv = "LITEBOTY_WORKER_SPEC"
	RunIDEnv      = "LITEBOTY_RUN_ID"
)

// WorkerSpec tells a child process which service to run.
type WorkerSpec struct {
	Path   string         `json:"path"`
	Name   string         `json:"name"`
	Entry  string         `json:"service_entry,omitempty"`
	Config map[string]any `json:"config"`
	Global map[string]any `json:"global"`
}

// Encode serializes the worker spec for the child environment.
func (s WorkerSpec) Encode() (string, error) {
	data, err := sonic.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "WorkerSpec", "Encode", "marshal worker spec")
	}
	return string(data), nil
}

// Descriptor returns the in-process descriptor the child builds.
func (s WorkerSpec) Descriptor() config.ServiceDescriptor {
	return config.ServiceDescriptor{
		Path:     s.Path,
		Name:     s.Name,
		Entry:    s.Entry,
		Enabled:  true,
		Priority: config.DefaultPriority,
		Config:   s.Config,
	}
}

// WorkerSpecFromEnv reads the worker spec a ProcessProxy placed in the environment.
func WorkerSpecFromEnv() (WorkerSpec, error) {
	raw := os.Getenv(WorkerSpecEnv)
	if raw == "" {
		return WorkerSpec{}, fmt.Errorf("%w: %s is not set", errors.ErrMissingEntry, WorkerSpecEnv)
	}
	var spec WorkerSpec
	if err := sonic.UnmarshalString(raw, &spec); err != nil {
		return WorkerSpec{}, errors.WrapInvalid(err, "Worker", "WorkerSpecFromEnv", "decode worker spec")
	}
	if spec.Name == "" {
		spec.Name = config.ServiceName(spec.Path, spec.Entry)
	}
	return spec, nil
}

// RunWorker builds the service named by spec, starts it and keeps it running
// until ctx is cancelled, then stops it within stopTimeout.
func RunWorker(ctx context.Context, spec WorkerSpec, factories *Factories, deps *Dependencies, stopTimeout time.Duration) error {
	h, err := factories.Build(spec.Descriptor(), spec.Global, deps)
	if err != nil {
		return err
	}
	logger := deps.ForService(spec.Name).Logger
	logger.Info("starting service in worker process", "pid", os.Getpid(), "run_id", os.Getenv(RunIDEnv))

	if err := h.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := h.Stop(stopCtx); err != nil {
		logger.Warn("service stop error", "error", err)
		return err
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/errors"
)

// ProcessOption configures a ProcessProxy.
type ProcessOption func(*ProcessProxy)

// WithCommand replaces the child command. By default the proxy re-executes
// the running binary with the "worker" subcommand.
func WithCommand(path string, args ...string) ProcessOption {
	return func(p *ProcessProxy) {
		p.path = path
		p.args = args
	}
}

// WithEnv adds KEY=value pairs to the child environment.
func WithEnv(kv ...string) ProcessOption {
	return func(p *ProcessProxy) {
		p.env = append(p.env, kv...)
	}
}

// WithStopTimeouts sets how long Stop waits after the stop signal and again
// after a forced kill. Defaults are 5s and 2s.
func WithStopTimeouts(graceful, forced time.Duration) ProcessOption {
	return func(p *ProcessProxy) {
		if graceful > 0 {
			p.termTimeout = graceful
		}
		if forced > 0 {
			p.killTimeout = forced
		}
	}
}

// ProcessProxy runs one service in a child process. It satisfies Handle, so
// the registry treats it like an in-process service. The child owns its own
// bus connection; the only thing the parent sends it is SIGTERM.
type ProcessProxy struct {
	desc   config.ServiceDescriptor
	logger *slog.Logger

	path        string
	args        []string
	env         []string
	termTimeout time.Duration
	killTimeout time.Duration

	mu         sync.Mutex
	global     map[string]any
	cmd        *exec.Cmd
	exited     chan struct{}
	stopping   bool
	status     Status
	startTime  time.Time
	lastUpdate time.Time
	runID      string
}

// NewProcessProxy creates a proxy for d. Nothing is spawned until Start.
func NewProcessProxy(d config.ServiceDescriptor, global map[string]any, logger *slog.Logger, opts ...ProcessOption) *ProcessProxy {
	if logger == nil {
		logger = slog.Default().With("service", d.Name)
	}
	if d.Config == nil {
		d.Config = map[string]any{}
	}
	p := &ProcessProxy{
		desc:        d,
		global:      global,
		logger:      logger,
		args:        []string{"worker"},
		termTimeout: 5 * time.Second,
		killTimeout: 2 * time.Second,
		status:      StatusLoaded,
		lastUpdate:  time.Now(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Handle.
func (p *ProcessProxy) Name() string {
	return p.desc.Name
}

// PID returns the child's process id, or 0 when no child is running.
func (p *ProcessProxy) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Configure implements Handle.
func (p *ProcessProxy) Configure(cfg, global map[string]any) {
	if cfg == nil {
		cfg = map[string]any{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.desc.Config = cfg
	p.global = global
}

// Info implements Handle.
func (p *ProcessProxy) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	var uptime time.Duration
	if p.status == StatusRunning {
		uptime = time.Since(p.startTime)
	}
	return Info{
		Name:       p.desc.Name,
		Status:     p.status,
		StartTime:  p.startTime,
		Uptime:     uptime,
		LastUpdate: p.lastUpdate,
	}
}

func (p *ProcessProxy) setStatusLocked(s Status) {
	p.status = s
	p.lastUpdate = time.Now()
}

// Start spawns the child. It is a no-op while a child is alive.
func (p *ProcessProxy) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.alive() {
		return nil
	}

	path := p.path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return errors.NewServiceError(p.desc.Name, "start",
				errors.Wrap(err, "ProcessProxy", "Start", "locate executable"))
		}
		path = exe
	}

	runID := uuid.NewString()
	spec, err := WorkerSpec{
		Path:   p.desc.Path,
		Name:   p.desc.Name,
		Entry:  p.desc.Entry,
		Config: p.desc.Config,
		Global: p.global,
	}.Encode()
	if err != nil {
		return errors.NewServiceError(p.desc.Name, "start", err)
	}

	cmd := exec.Command(path, p.args...)
	cmd.Env = append(os.Environ(), WorkerSpecEnv+"="+spec, RunIDEnv+"="+runID)
	cmd.Env = append(cmd.Env, p.env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	p.setStatusLocked(StatusStarting)
	if err := cmd.Start(); err != nil {
		p.setStatusLocked(StatusStopped)
		return errors.NewServiceError(p.desc.Name, "start",
			errors.Wrap(err, "ProcessProxy", "Start", "spawn child process"))
	}

	exited := make(chan struct{})
	p.cmd = cmd
	p.exited = exited
	p.stopping = false
	p.runID = runID
	p.startTime = time.Now()
	p.setStatusLocked(StatusRunning)

	go p.wait(cmd, exited)

	p.logger.Info("started service process", "pid", cmd.Process.Pid, "run_id", runID)
	return nil
}

func (p *ProcessProxy) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != cmd || p.stopping {
		return
	}
	p.setStatusLocked(StatusStopped)
	if err != nil {
		p.logger.Error("service process exited unexpectedly", "error", err)
	} else {
		p.logger.Warn("service process exited")
	}
}

// alive must be called with p.mu held.
func (p *ProcessProxy) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Stop sends SIGTERM, waits up to the graceful timeout, then kills the child
// and waits again up to the forced timeout.
func (p *ProcessProxy) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	if cmd == nil {
		p.setStatusLocked(StatusStopped)
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	p.setStatusLocked(StatusStopping)
	p.mu.Unlock()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Debug("stop signal failed", "error", err)
	}

	var stopErr error
	if !waitExit(ctx, exited, p.termTimeout) {
		p.logger.Warn("terminating service process", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			p.logger.Debug("kill failed", "error", err)
		}
		if !waitExit(context.Background(), exited, p.killTimeout) {
			stopErr = errors.NewServiceError(p.desc.Name, "stop",
				fmt.Errorf("process %d did not exit", cmd.Process.Pid))
		}
	}

	p.mu.Lock()
	p.cmd = nil
	p.exited = nil
	p.setStatusLocked(StatusStopped)
	p.mu.Unlock()

	p.logger.Info("stopped service process")
	return stopErr
}

func waitExit(ctx context.Context, exited <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-exited:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

var _ Handle = (*ProcessProxy)(nil)

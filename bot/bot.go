// Package bot is the supervisor: it loads the configuration, builds and
// starts the enabled services in priority order, hot-reloads them when the
// configuration file changes, and publishes a liveness roster to the bus.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"vawter.tech/stopper"

	"github.com/yejue/liteboty/bus"
	"github.com/yejue/liteboty/bus/drivers"
	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/errors"
	"github.com/yejue/liteboty/metric"
	"github.com/yejue/liteboty/service"
)

// State is the supervisor lifecycle state.
type State int

// Supervisor states, in order.
const (
	StateIdle State = iota
	StateLoading
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bot) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records supervisor and service metrics in r and lets services
// register their own collectors there.
func WithMetrics(r *metric.MetricsRegistry) Option {
	return func(b *Bot) {
		if r == nil {
			return
		}
		b.metrics = r.CoreMetrics()
		b.registrar = r
	}
}

// WithSelector sets the bus driver selector. Tests use it to share a memory broker.
func WithSelector(s *drivers.Selector) Option {
	return func(b *Bot) {
		if s != nil {
			b.selector = s
		}
	}
}

// WithProcessOptions applies to every process-isolated service.
func WithProcessOptions(opts ...service.ProcessOption) Option {
	return func(b *Bot) {
		b.processOpts = append(b.processOpts, opts...)
	}
}

// WithLoadOptions passes options to every config.Load call.
func WithLoadOptions(opts ...config.LoadOption) Option {
	return func(b *Bot) {
		b.loadOpts = append(b.loadOpts, opts...)
	}
}

// WithoutWatcher disables the file watch. Reload can still be called directly.
func WithoutWatcher() Option {
	return func(b *Bot) {
		b.watch = false
	}
}

// Bot supervises the services named by one configuration file.
type Bot struct {
	path      string
	factories *service.Factories
	id        string

	logger      *slog.Logger
	metrics     *metric.Metrics
	registrar   metric.MetricsRegistrar
	selector    *drivers.Selector
	processOpts []service.ProcessOption
	loadOpts    []config.LoadOption
	watch       bool

	mu       sync.Mutex
	state    State
	store    *config.Store
	registry *service.Registry
	deps     *service.Dependencies
	watcher  *config.Watcher
	sctx     *stopper.Context
	cancel   context.CancelFunc
	conn     bus.Conn

	// last reload failure, cleared by the next successful reload
	reloadErr error

	reloadMu sync.Mutex

	stopOnce sync.Once
	stopErr  error
	stopped  chan struct{}
}

// New creates a supervisor for the configuration file at path. Services are
// resolved against factories.
func New(path string, factories *service.Factories, opts ...Option) *Bot {
	b := &Bot{
		path:      path,
		factories: factories,
		id:        uuid.NewString(),
		logger:    slog.Default(),
		watch:     true,
		state:     StateIdle,
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bot", "bot_id", b.id)
	if b.selector == nil {
		b.selector = drivers.NewSelector(b.logger)
	}
	if b.factories == nil {
		b.factories = service.NewFactories()
	}
	return b
}

// State returns the current lifecycle state.
func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bot) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	b.logger.Debug("bot state", "state", s.String())
}

// Config returns the configuration snapshot in effect, or nil before Run loads it.
func (b *Bot) Config() *config.Configuration {
	b.mu.Lock()
	store := b.store
	b.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Get()
}

// Registry returns the service registry, or nil before Run loads the configuration.
func (b *Bot) Registry() *service.Registry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry
}

// Run loads the configuration, starts every enabled service and blocks until
// ctx is cancelled or Stop is called. A configuration load failure is
// returned as is; anything else that goes wrong while starting up is logged
// and the supervisor keeps serving the services that did start. A panic in
// the supervisor stops every service and comes back as *errors.SupervisorError.
func (b *Bot) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("supervisor panic, shutting down", "panic", r)
			stopCtx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout())
			defer cancel()
			_ = b.Stop(stopCtx)
			err = &errors.SupervisorError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	b.mu.Lock()
	if b.state != StateIdle {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Bot", "Run", "check state")
	}
	b.state = StateLoading
	b.mu.Unlock()

	cfg, err := config.Load(ctx, b.path, b.loadOpts...)
	if err != nil {
		b.logger.Error("failed to load configuration", "path", b.path, "error", err)
		b.finish()
		return err
	}

	store := config.NewStore(cfg)
	registry := service.NewRegistry(b.logger,
		service.WithStopTimeout(cfg.Bot.StopTimeoutDuration()),
		service.WithRegistryMetrics(b.metrics))
	deps := &service.Dependencies{
		Logger:           b.logger.With("component", "service"),
		DialerFor:        b.selector.ForServices(store),
		Metrics:          b.metrics,
		MetricsRegistrar: b.registrar,
		ProcessOptions:   b.processOpts,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sctx := stopper.WithContext(runCtx)

	b.mu.Lock()
	if b.state != StateLoading {
		b.mu.Unlock()
		cancel()
		return nil
	}
	b.store, b.registry, b.deps = store, registry, deps
	b.sctx, b.cancel = sctx, cancel
	b.mu.Unlock()

	built := b.loadServices(cfg)
	if b.State() != StateLoading {
		return b.abortStart(built)
	}

	b.startServices(runCtx)

	var w *config.Watcher
	if b.watch {
		w, err = config.NewWatcher(runCtx, b.path, cfg.Bot.ReloadDebounceDuration(), b.logger)
		if err != nil {
			b.logger.Warn("config watch unavailable, hot reload disabled", "error", err)
			w, err = nil, nil
		}
	}

	// Going live and launching the background tasks is one step, so a
	// shutdown either sees all of it or none of it.
	interval := cfg.Bot.RosterIntervalDuration()
	b.mu.Lock()
	if b.state != StateLoading {
		b.mu.Unlock()
		if w != nil {
			_ = w.Close()
		}
		return b.abortStart(built)
	}
	b.state = StateRunning
	if w != nil {
		b.watcher = w
		sctx.Go(func(sctx *stopper.Context) error {
			return b.reloadLoop(sctx, runCtx, w)
		})
	}
	sctx.Go(func(sctx *stopper.Context) error {
		return b.rosterLoop(sctx, runCtx, interval)
	})
	b.mu.Unlock()
	b.logger.Info("bot running", "services", registry.Names())

	select {
	case <-ctx.Done():
	case <-b.stopped:
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), b.shutdownTimeout())
	defer stopCancel()
	return b.Stop(stopCtx)
}

// loadServices builds and registers every enabled service in priority
// order. A service that fails to build or register is logged and skipped.
// The handles that were registered are returned.
func (b *Bot) loadServices(cfg *config.Configuration) []service.Handle {
	global := cfg.Global()
	var built []service.Handle
	for _, d := range cfg.EnabledServices() {
		h, err := b.loadService(d, global)
		if err != nil {
			b.logger.Error("failed to load service", "service", d.Name, "path", d.Path, "error", err)
			continue
		}
		built = append(built, h)
		b.logger.Info("service loaded", "service", d.Name, "priority", d.Priority)
	}
	return built
}

func (b *Bot) loadService(d config.ServiceDescriptor, global map[string]any) (service.Handle, error) {
	h, err := b.factories.Build(d, global, b.deps)
	if err != nil {
		return nil, err
	}
	if err := b.registry.Register(h); err != nil {
		return nil, err
	}
	return h, nil
}

// abortStart runs when Stop arrived while Run was still loading or starting
// services. The shutdown may have seen only part of the registry, so every
// handle Run built is stopped here, newest first. Stop is a no-op on a
// handle that is not running.
func (b *Bot) abortStart(built []service.Handle) error {
	b.logger.Info("stop requested during startup, stopping loaded services")
	ctx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout())
	defer cancel()

	var errs []error
	for i := len(built) - 1; i >= 0; i-- {
		h := built[i]
		if err := h.Stop(ctx); err != nil {
			b.logger.Error("failed to stop service", "service", h.Name(), "error", err)
			errs = append(errs, err)
		}
		b.registry.Remove(h.Name())
	}
	if err := b.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// startServices starts the registry. A service that fails to start is
// dropped from the registry and the remaining services are started.
func (b *Bot) startServices(ctx context.Context) {
	for {
		err := b.registry.StartAll(ctx)
		if err == nil {
			return
		}
		var svcErr *errors.ServiceError
		if !errors.As(err, &svcErr) || !b.registry.Has(svcErr.Service) {
			b.logger.Error("failed to start services", "error", err)
			return
		}
		if err := b.registry.StopService(ctx, svcErr.Service); err != nil {
			b.logger.Warn("cleanup after failed start", "service", svcErr.Service, "error", err)
		}
	}
}

func (b *Bot) shutdownTimeout() time.Duration {
	cfg := b.Config()
	if cfg == nil {
		return 10 * time.Second
	}
	// Each service gets its own stop bound; leave room for all of them.
	n := 1
	if r := b.Registry(); r != nil && r.Len() > 0 {
		n = r.Len()
	}
	return cfg.Bot.StopTimeoutDuration() * time.Duration(n+1)
}

// Stop shuts the supervisor down: it stops the roster and reload tasks,
// stops every service, deletes the roster key and releases the bus
// connection. Only the first call does any work; later calls return the
// first call's result.
func (b *Bot) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.stopErr = b.shutdown(ctx)
		close(b.stopped)
	})
	return b.stopErr
}

// Done is closed once the supervisor has stopped.
func (b *Bot) Done() <-chan struct{} {
	return b.stopped
}

func (b *Bot) shutdown(ctx context.Context) error {
	b.setState(StateShuttingDown)
	b.logger.Info("bot shutting down")

	b.mu.Lock()
	sctx, cancel, watcher, registry := b.sctx, b.cancel, b.watcher, b.registry
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sctx != nil {
		sctx.Stop(time.Second)
		if err := sctx.Wait(); err != nil {
			b.logger.Warn("bot task ended with error", "error", err)
		}
	}
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			b.logger.Warn("close config watcher", "error", err)
		}
	}

	// Let an in-flight reload finish before tearing the registry down.
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()

	var errs []error
	if registry != nil {
		if err := registry.StopAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.clearRoster(ctx)

	b.setState(StateStopped)
	b.logger.Info("bot stopped")
	return errors.Join(errs...)
}

// finish marks a supervisor that never got running as stopped.
func (b *Bot) finish() {
	b.stopOnce.Do(func() {
		b.setState(StateStopped)
		close(b.stopped)
	})
}

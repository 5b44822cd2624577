package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vawter.tech/stopper"

	"github.com/yejue/liteboty/bus"
	"github.com/yejue/liteboty/errors"
	"github.com/yejue/liteboty/message"
	"github.com/yejue/liteboty/metric"
	"github.com/yejue/liteboty/timer"
)

// Handler processes one payload delivered on a subscribed channel.
type Handler func(ctx context.Context, data []byte) error

// Decoded adapts a handler of decoded messages. Payloads that fail to decode
// are reported as the handler's error.
func Decoded(fn func(ctx context.Context, msg *message.Message) error) Handler {
	return func(ctx context.Context, data []byte) error {
		msg, err := message.Decode(data)
		if err != nil {
			return err
		}
		return fn(ctx, msg)
	}
}

// Runner is the service's own logic. It is invoked on every Start, after the
// bus connection is open and before timers and subscriptions are launched,
// and registers them with AddTimer and AddSubscription.
type Runner func(ctx context.Context) error

// Cleanup runs on Stop after every task has finished, before the bus
// connection is released.
type Cleanup func(ctx context.Context) error

// Option is a functional option for configuring Base
type Option func(*Base)

// WithRunner sets the service logic.
func WithRunner(fn Runner) Option {
	return func(b *Base) {
		b.runner = fn
	}
}

// WithCleanup sets the cleanup hook.
func WithCleanup(fn Cleanup) Option {
	return func(b *Base) {
		b.cleanup = fn
	}
}

// WithoutBus makes the service run without a bus connection.
func WithoutBus() Option {
	return func(b *Base) {
		b.needBus = false
	}
}

// WithReconnectPolicy sets the default reconnect policy. Config keys
// reconnect_initial_delay, reconnect_max_delay and reconnect_max_retries
// still take precedence.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(b *Base) {
		b.defaultPolicy = p
	}
}

// WithErrorPause sets how long the receive loop pauses after an unexpected
// receive error. Defaults to one second.
func WithErrorPause(d time.Duration) Option {
	return func(b *Base) {
		if d > 0 {
			b.errorPause = d
		}
	}
}

type subscription struct {
	channel string
	handler Handler
}

// Base implements Handle for in-process services. Concrete services embed
// *Base and supply a Runner.
type Base struct {
	name    string
	logger  *slog.Logger
	metrics *metric.Metrics
	deps    *Dependencies

	runner        Runner
	cleanup       Cleanup
	needBus       bool
	defaultPolicy ReconnectPolicy
	errorPause    time.Duration

	// lifecycle guards Start and Stop against each other.
	lifecycle sync.Mutex

	mu            sync.RWMutex
	cfg           map[string]any
	global        map[string]any
	status        Status
	startTime     time.Time
	lastUpdate    time.Time
	policy        ReconnectPolicy
	timers        map[string]*timer.Timer
	subscriptions []subscription
	receiving     bool

	// Task group of the current run.
	sctx   *stopper.Context
	runCtx context.Context
	cancel context.CancelFunc

	link busLink
}

// NewBase creates a service named deps.Name.
func NewBase(cfg, global map[string]any, deps *Dependencies, opts ...Option) *Base {
	if deps == nil {
		deps = (&Dependencies{}).ForService("")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("service", deps.Name)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if global == nil {
		global = map[string]any{}
	}

	b := &Base{
		name:          deps.Name,
		logger:        logger,
		metrics:       deps.Metrics,
		deps:          deps,
		needBus:       true,
		defaultPolicy: DefaultReconnectPolicy(),
		errorPause:    time.Second,
		cfg:           cfg,
		global:        global,
		status:        StatusLoaded,
		lastUpdate:    time.Now(),
		timers:        make(map[string]*timer.Timer),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics.RecordServiceStatus(b.name, int(StatusLoaded))
	return b
}

// Name returns the service name
func (b *Base) Name() string {
	return b.name
}

// Logger returns the service logger.
func (b *Base) Logger() *slog.Logger {
	return b.logger
}

// Config returns the service config. Callers must not modify it.
func (b *Base) Config() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// GlobalConfig returns the whole configuration document. Callers must not modify it.
func (b *Base) GlobalConfig() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.global
}

// Configure replaces the config used by the next Start.
func (b *Base) Configure(cfg, global map[string]any) {
	if cfg == nil {
		cfg = map[string]any{}
	}
	if global == nil {
		global = map[string]any{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	b.global = global
}

// Status returns the current lifecycle state.
func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Info implements Handle.
func (b *Base) Info() Info {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var uptime time.Duration
	if b.status == StatusRunning && !b.startTime.IsZero() {
		uptime = time.Since(b.startTime)
	}
	return Info{
		Name:       b.name,
		Status:     b.status,
		StartTime:  b.startTime,
		Uptime:     uptime,
		LastUpdate: b.lastUpdate,
	}
}

func (b *Base) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.lastUpdate = time.Now()
	b.mu.Unlock()
	b.metrics.RecordServiceStatus(b.name, int(s))
}

// Conn returns the live bus connection, or nil when the service has none.
func (b *Base) Conn() bus.Conn {
	conn, _, _ := b.link.snapshot()
	return conn
}

// Start opens the bus connection, runs the Runner, subscribes every
// registered channel in one batch and launches one task per timer plus the
// receive loop. The service keeps running until Stop; cancelling ctx only
// bounds the start itself.
func (b *Base) Start(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if s := b.Status(); s == StatusRunning || s == StatusStarting {
		return nil
	}
	b.setStatus(StatusStarting)

	b.mu.Lock()
	b.policy = reconnectPolicyFromConfig(b.cfg, b.defaultPolicy)
	b.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sctx := stopper.WithContext(runCtx)

	fail := func(err error) error {
		cancel()
		sctx.Stop(0)
		_ = sctx.Wait()
		_ = b.link.release()
		b.resetRegistrations()
		b.setStatus(StatusStopped)
		b.logger.Error("service start failed", "error", err)
		return errors.NewServiceError(b.name, "start", err)
	}

	if b.needBus {
		if err := b.link.open(ctx, b.dialer); err != nil {
			if !bus.IsConnectionError(err) {
				return fail(err)
			}
			// Broker unreachable: run anyway and let reconnection catch up.
			b.logger.Warn("bus unavailable at start, will reconnect", "error", err)
		}
	}

	if b.runner != nil {
		if err := b.runner(runCtx); err != nil {
			return fail(errors.Wrap(err, "Service", "Start", "run service logic"))
		}
	}

	if err := b.launch(ctx, sctx, runCtx, cancel); err != nil {
		b.mu.Lock()
		b.sctx, b.runCtx, b.cancel = nil, nil, nil
		b.mu.Unlock()
		return fail(err)
	}

	b.mu.Lock()
	b.startTime = time.Now()
	b.mu.Unlock()
	b.setStatus(StatusRunning)
	b.logger.Info("service started")
	return nil
}

// launch installs the task group, subscribes stored channels and spawns the
// timer and receive tasks. Registrations made after the task group is
// installed start themselves.
func (b *Base) launch(ctx context.Context, sctx *stopper.Context, runCtx context.Context, cancel context.CancelFunc) error {
	b.mu.Lock()
	b.sctx = sctx
	b.runCtx = runCtx
	b.cancel = cancel
	channels := make([]string, len(b.subscriptions))
	for i, s := range b.subscriptions {
		channels[i] = s.channel
	}
	timers := make([]*timer.Timer, 0, len(b.timers))
	for _, t := range b.timers {
		timers = append(timers, t)
	}
	b.mu.Unlock()

	if len(channels) > 0 {
		if err := b.link.subscribe(ctx, channels...); err != nil && !bus.IsConnectionError(err) {
			return err
		}
		b.startReceiving()
	}
	for _, t := range timers {
		b.spawnTimer(t)
	}
	return nil
}

// Stop cancels every task and waits for them, runs the cleanup hook and
// releases the bus connection. Timers and subscriptions are discarded; the
// Runner registers them again on the next Start. If ctx expires before the
// tasks finish, Stop stops waiting and carries on releasing resources.
func (b *Base) Stop(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.Status() != StatusRunning {
		return nil
	}
	b.setStatus(StatusStopping)

	b.mu.Lock()
	sctx, cancel := b.sctx, b.cancel
	b.sctx, b.runCtx, b.cancel = nil, nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sctx != nil {
		sctx.Stop(stopGrace(ctx))
		waited := make(chan error, 1)
		go func() { waited <- sctx.Wait() }()
		select {
		case err := <-waited:
			if err != nil {
				b.logger.Warn("service task ended with error", "error", err)
			}
		case <-ctx.Done():
			b.logger.Warn("service tasks did not finish before stop deadline")
		}
	}

	var errs []error
	if b.cleanup != nil {
		if err := b.cleanup(ctx); err != nil {
			b.logger.Error("cleanup failed", "error", err)
			errs = append(errs, errors.Wrap(err, "Service", "Stop", "cleanup"))
		}
	}

	if err := b.link.release(); err != nil {
		b.logger.Warn("release bus connection", "error", err)
	}

	b.resetRegistrations()
	b.setStatus(StatusStopped)
	b.logger.Info("service stopped")

	if len(errs) > 0 {
		return errors.NewServiceError(b.name, "stop", errors.Join(errs...))
	}
	return nil
}

func stopGrace(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return 0
	}
	return 5 * time.Second
}

func (b *Base) resetRegistrations() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timers = make(map[string]*timer.Timer)
	b.subscriptions = nil
	b.receiving = false
}

func (b *Base) dialer() (bus.Dialer, error) {
	b.mu.RLock()
	cfg := b.cfg
	b.mu.RUnlock()

	d, err := b.deps.dialer(cfg)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: no bus dialer configured", errors.ErrSubscriberNotReady)
	}
	return d, nil
}

// AddTimer registers a timer. A count of zero or less repeats forever. On a
// running service the timer starts immediately.
func (b *Base) AddTimer(name string, interval time.Duration, cb timer.Callback, count int) error {
	b.mu.Lock()
	if _, exists := b.timers[name]; exists {
		b.mu.Unlock()
		return errors.NewServiceError(b.name, "add timer",
			fmt.Errorf("%w: %s", errors.ErrTimerExists, name))
	}
	t := timer.New(name, interval, cb, count, b.logger)
	t.OnTick = b.recordTick
	b.timers[name] = t
	live := b.sctx != nil
	b.mu.Unlock()

	if live {
		b.spawnTimer(t)
	}
	return nil
}

func (b *Base) recordTick(name string, elapsed time.Duration, err error) {
	b.metrics.RecordTimerTick(b.name, name)
	b.metrics.RecordCallback(b.name, "timer", elapsed, err)
}

func (b *Base) spawnTimer(t *timer.Timer) {
	b.mu.RLock()
	sctx, runCtx := b.sctx, b.runCtx
	b.mu.RUnlock()
	if sctx == nil {
		return
	}
	sctx.Go(func(*stopper.Context) error {
		return t.Run(runCtx)
	})
}

// AddSubscription registers handler for channel. Adding a channel that is
// already subscribed does nothing. On a running service the channel is
// subscribed immediately.
func (b *Base) AddSubscription(ctx context.Context, channel string, handler Handler) error {
	if handler == nil {
		return errors.NewServiceError(b.name, "subscribe", fmt.Errorf("nil handler for %s", channel))
	}
	if !b.needBus {
		return errors.NewServiceError(b.name, "subscribe", errors.ErrSubscriberNotReady)
	}

	b.mu.Lock()
	for _, s := range b.subscriptions {
		if s.channel == channel {
			b.mu.Unlock()
			return nil
		}
	}
	b.subscriptions = append(b.subscriptions, subscription{channel: channel, handler: handler})
	live := b.sctx != nil
	b.mu.Unlock()

	if !live {
		return nil
	}
	if err := b.link.subscribe(ctx, channel); err != nil && !bus.IsConnectionError(err) {
		return errors.NewServiceError(b.name, "subscribe", err)
	}
	b.startReceiving()
	return nil
}

// Unsubscribe drops the subscription for channel, if any.
func (b *Base) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	found := false
	for i, s := range b.subscriptions {
		if s.channel == channel {
			b.subscriptions = append(b.subscriptions[:i], b.subscriptions[i+1:]...)
			found = true
			break
		}
	}
	b.mu.Unlock()

	if !found {
		return nil
	}
	if err := b.link.unsubscribe(ctx, channel); err != nil && !bus.IsConnectionError(err) {
		return errors.NewServiceError(b.name, "unsubscribe", err)
	}
	return nil
}

// Subscriptions returns the subscribed channels in registration order.
func (b *Base) Subscriptions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.subscriptions))
	for i, s := range b.subscriptions {
		out[i] = s.channel
	}
	return out
}

func (b *Base) channels() []string {
	return b.Subscriptions()
}

func (b *Base) handler(channel string) (Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscriptions {
		if s.channel == channel {
			return s.handler, true
		}
	}
	return nil, false
}

func (b *Base) startReceiving() {
	b.mu.Lock()
	if b.receiving || b.sctx == nil {
		b.mu.Unlock()
		return
	}
	b.receiving = true
	sctx, runCtx := b.sctx, b.runCtx
	b.mu.Unlock()

	sctx.Go(func(*stopper.Context) error {
		b.receiveLoop(runCtx)
		return nil
	})
}

// Publish wraps data in a message of type typ, encodes it and publishes it.
func (b *Base) Publish(ctx context.Context, channel string, data any, typ message.Type, md *message.Metadata) error {
	return b.PublishMessage(ctx, channel, message.New(data, typ, md))
}

// PublishMessage encodes msg and publishes it.
func (b *Base) PublishMessage(ctx context.Context, channel string, msg *message.Message) error {
	payload, err := message.Encode(msg)
	if err != nil {
		return err
	}
	return b.PublishBytes(ctx, channel, payload)
}

// PublishBytes publishes an already encoded payload. A connection failure
// triggers one reconnect and one more attempt. Only a starting or running
// service may publish.
func (b *Base) PublishBytes(ctx context.Context, channel string, payload []byte) error {
	if !b.needBus {
		return errors.NewServiceError(b.name, "publish", errors.ErrSubscriberNotReady)
	}
	if s := b.Status(); s != StatusRunning && s != StatusStarting {
		return errors.NewServiceError(b.name, "publish",
			fmt.Errorf("%w: service %s", errors.ErrSubscriberNotReady, s))
	}

	conn, _, gen := b.link.snapshot()
	var err error
	if conn == nil {
		err = bus.ConnectionLost(errors.ErrSubscriberNotReady, "Service", "Publish")
	} else {
		err = conn.Publish(ctx, channel, payload)
	}

	if err != nil && bus.IsConnectionError(err) && ctx.Err() == nil {
		b.logger.Error("bus connection lost while publishing", "channel", channel, "error", err)
		if rerr := b.reconnect(ctx, gen); rerr != nil {
			return errors.NewServiceError(b.name, "publish", errors.Join(err, rerr))
		}
		// A concurrent Stop releases the link; the replacement is then nil.
		if conn, _, _ = b.link.snapshot(); conn == nil {
			return errors.NewServiceError(b.name, "publish", errors.ErrSubscriberNotReady)
		}
		err = conn.Publish(ctx, channel, payload)
	}
	if err != nil {
		b.logger.Error("publish failed", "channel", channel, "error", err)
		return errors.NewServiceError(b.name, "publish", err)
	}

	b.metrics.RecordMessagePublished(b.name, channel)
	return nil
}

// Ensure Base satisfies Handle.
var _ Handle = (*Base)(nil)

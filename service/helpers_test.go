package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yejue/liteboty/bus"
	"github.com/yejue/liteboty/bus/membus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testDeps(name string, dialer bus.Dialer) *Dependencies {
	return (&Dependencies{Logger: testLogger(), Dialer: dialer}).ForService(name)
}

func fastPolicy(maxRetries int) ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		MaxRetries:   maxRetries,
	}
}

// rawSubscriber subscribes directly on the broker, outside any service.
func rawSubscriber(ctx context.Context, broker *membus.Broker, channel string) (bus.Subscriber, error) {
	conn, err := broker.Dial(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := conn.Subscriber(ctx)
	if err != nil {
		return nil, err
	}
	return sub, sub.Subscribe(ctx, channel)
}

// events is a concurrency-safe ordered log shared by fake handles.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

// fakeHandle records lifecycle calls.
type fakeHandle struct {
	name     string
	events   *events
	startErr error
	stopErr  error

	mu     sync.Mutex
	status Status
	cfg    map[string]any
}

func newFake(name string, ev *events) *fakeHandle {
	return &fakeHandle{name: name, events: ev, status: StatusLoaded}
}

func (f *fakeHandle) Name() string { return f.name }

func (f *fakeHandle) Start(context.Context) error {
	f.events.add("start:" + f.name)
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.status = StatusRunning
	f.mu.Unlock()
	return nil
}

func (f *fakeHandle) Stop(context.Context) error {
	f.events.add("stop:" + f.name)
	f.mu.Lock()
	f.status = StatusStopped
	f.mu.Unlock()
	return f.stopErr
}

func (f *fakeHandle) Configure(cfg, _ map[string]any) {
	f.events.add("configure:" + f.name)
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
}

func (f *fakeHandle) Info() Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Info{Name: f.name, Status: f.status}
}

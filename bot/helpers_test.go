package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yejue/liteboty/bus/drivers"
	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/pkg/retry"
	"github.com/yejue/liteboty/service"
)

// recorder is an ordered, concurrency-safe event log shared by fake services.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, fmt.Sprintf(format, args...))
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
}

type fakeService struct {
	name      string
	rec       *recorder
	failStart bool
	onStart   func()

	mu     sync.Mutex
	cfg    map[string]any
	status service.Status
	start  time.Time
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	f.rec.add("start:%s", f.name)
	if f.onStart != nil {
		f.onStart()
	}
	if f.failStart {
		return fmt.Errorf("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = service.StatusRunning
	f.start = time.Now()
	return nil
}

func (f *fakeService) Stop(context.Context) error {
	f.rec.add("stop:%s", f.name)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = service.StatusStopped
	return nil
}

func (f *fakeService) Configure(cfg, _ map[string]any) {
	f.rec.add("configure:%s:%v", f.name, cfg["x"])
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
}

func (f *fakeService) Info() service.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return service.Info{Name: f.name, Status: f.status, StartTime: f.start, LastUpdate: time.Now()}
}

// testFactories registers pkg.a, pkg.b, pkg.c, pkg.bad (whose start fails)
// and pkg.flaky (whose first instance fails to start).
func testFactories(t *testing.T, rec *recorder) *service.Factories {
	t.Helper()
	f := service.NewFactories()
	for _, key := range []string{"pkg.a", "pkg.b", "pkg.c", "pkg.bad"} {
		fail := key == "pkg.bad"
		require.NoError(t, f.Register(key, func(_, _ map[string]any, deps *service.Dependencies) (service.Handle, error) {
			rec.add("build:%s", deps.Name)
			return &fakeService{name: deps.Name, rec: rec, failStart: fail, status: service.StatusLoaded}, nil
		}))
	}
	var flakyBuilds atomic.Int32
	require.NoError(t, f.Register("pkg.flaky", func(_, _ map[string]any, deps *service.Dependencies) (service.Handle, error) {
		rec.add("build:%s", deps.Name)
		first := flakyBuilds.Add(1) == 1
		return &fakeService{name: deps.Name, rec: rec, failStart: first, status: service.StatusLoaded}, nil
	}))
	return f
}

func writeConfig(t *testing.T, path, doc string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(doc), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func configPath(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, doc)
	return path
}

func fastLoad() config.LoadOption {
	return config.WithRetry(retry.Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2,
	})
}

func newTestBot(t *testing.T, path string, rec *recorder, opts ...Option) (*Bot, *drivers.Selector) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	sel := drivers.NewSelector(logger)
	opts = append([]Option{WithLogger(logger), WithSelector(sel), WithLoadOptions(fastLoad())}, opts...)
	return New(path, testFactories(t, rec), opts...), sel
}

// runBot starts b in the background and waits until it is running.
func runBot(t *testing.T, b *Bot) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()
	require.Eventually(t, func() bool { return b.State() == StateRunning }, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})
	return done
}

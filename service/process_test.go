package service

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejue/liteboty/config"
)

const helperEnv = "LITEBOTY_TEST_HELPER"

// TestMain lets the test binary double as the child process.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Minute)
		os.Exit(0)
	case "worker":
		os.Exit(runHelperWorker())
	default:
		os.Exit(2)
	}
}

// markerService appends its lifecycle to the file named by config "marker".
func markerService(cfg, global map[string]any, deps *Dependencies) (Handle, error) {
	path := config.GetString(cfg, "marker", "")
	appendLine := func(line string) error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.WriteString(line + "\n")
		return err
	}
	return NewBase(cfg, global, deps,
		WithoutBus(),
		WithRunner(func(context.Context) error { return appendLine("started") }),
		WithCleanup(func(context.Context) error { return appendLine("stopped") }),
	), nil
}

func runHelperWorker() int {
	spec, err := WorkerSpecFromEnv()
	if err != nil {
		return 3
	}
	factories := NewFactories()
	if err := factories.Register("testsvc.Marker", markerService); err != nil {
		return 4
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := RunWorker(ctx, spec, factories, &Dependencies{Logger: testLogger()}, time.Second); err != nil {
		return 1
	}
	return 0
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process isolation relies on SIGTERM")
	}
}

func readMarker(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func TestProcessProxy_GracefulStop(t *testing.T) {
	skipOnWindows(t)
	ctx := context.Background()
	marker := filepath.Join(t.TempDir(), "marker")

	d := config.ServiceDescriptor{
		Path:   "testsvc.Marker",
		Name:   "Marker",
		Config: map[string]any{"marker": marker},
	}
	proxy := NewProcessProxy(d, map[string]any{}, testLogger(),
		WithCommand(os.Args[0]),
		WithEnv(helperEnv+"=worker"),
	)

	require.NoError(t, proxy.Start(ctx))
	assert.NotZero(t, proxy.PID())
	assert.Equal(t, StatusRunning, proxy.Info().Status)

	assert.Eventually(t, func() bool {
		return readMarker(t, marker) == "started\n"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, proxy.Stop(ctx))
	assert.Equal(t, "started\nstopped\n", readMarker(t, marker))
	assert.Equal(t, StatusStopped, proxy.Info().Status)
	assert.Zero(t, proxy.PID())

	require.NoError(t, proxy.Stop(ctx), "stop without a child is a no-op")
}

func TestProcessProxy_RestartUsesNewConfig(t *testing.T) {
	skipOnWindows(t)
	ctx := context.Background()
	dir := t.TempDir()
	first, second := filepath.Join(dir, "first"), filepath.Join(dir, "second")

	d := config.ServiceDescriptor{
		Path:   "testsvc.Marker",
		Name:   "Marker",
		Config: map[string]any{"marker": first},
	}
	proxy := NewProcessProxy(d, nil, testLogger(),
		WithCommand(os.Args[0]),
		WithEnv(helperEnv+"=worker"),
	)

	reg := NewRegistry(testLogger())
	require.NoError(t, reg.Register(proxy))
	require.NoError(t, reg.StartAll(ctx))
	assert.Eventually(t, func() bool { return readMarker(t, first) == "started\n" }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, reg.RestartService(ctx, "Marker", map[string]any{"marker": second}, nil))
	assert.Equal(t, "started\nstopped\n", readMarker(t, first))
	assert.Eventually(t, func() bool { return readMarker(t, second) == "started\n" }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, reg.StopAll(ctx))
	assert.Equal(t, "started\nstopped\n", readMarker(t, second))
}

func TestProcessProxy_KillsUnresponsiveChild(t *testing.T) {
	skipOnWindows(t)
	ctx := context.Background()

	proxy := NewProcessProxy(config.ServiceDescriptor{Name: "Stubborn"}, nil, testLogger(),
		WithCommand(os.Args[0]),
		WithEnv(helperEnv+"=ignore-term"),
		WithStopTimeouts(200*time.Millisecond, 2*time.Second),
	)
	require.NoError(t, proxy.Start(ctx))
	// Give the child time to install its signal disposition.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, proxy.Stop(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusStopped, proxy.Info().Status)
}

func TestWorkerSpec_RoundTrip(t *testing.T) {
	spec := WorkerSpec{
		Path:   ".services.camera.Camera",
		Config: map[string]any{"fps": float64(15)},
		Global: map[string]any{"version": "2.0"},
	}
	encoded, err := spec.Encode()
	require.NoError(t, err)

	t.Setenv(WorkerSpecEnv, encoded)
	got, err := WorkerSpecFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "Camera", got.Name)
	assert.Equal(t, spec.Config, got.Config)

	d := got.Descriptor()
	assert.Equal(t, config.IsolationInline, d.Isolation)
	assert.True(t, d.Enabled)

	t.Setenv(WorkerSpecEnv, "")
	_, err = WorkerSpecFromEnv()
	assert.Error(t, err)
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejue/liteboty/errors"
)

const testConfig = `{
  "version": "2.0",
  "REDIS": {"driver": "memory"},
  "SERVICES": {
    "services.echo.EchoService": {"enabled": true, "priority": 20},
    "services.hello.HelloService": {"enabled": true, "priority": 10, "config": {"welcome_text": "hi"}},
    "services.nope.Nope": {"enabled": true, "isolation": "process"},
    "services.off.Off": {"enabled": false}
  }
}`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path
}

func TestValidateCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := execute([]string{"validate", "--config", writeTestConfig(t)}, &stdout, &stderr)
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "is valid (version 2.0, bus memory)")
	assert.Regexp(t, `1\s+HelloService\s+10\s+services.hello.HelloService\s+inline\s+ok`, out)
	assert.Regexp(t, `2\s+EchoService\s+20`, out)
	assert.Regexp(t, `3\s+Nope\s+100\s+services.nope.Nope\s+process\s+missing`, out)
	assert.NotContains(t, out, "Off")
}

func TestValidateUsesEnvironmentDefault(t *testing.T) {
	t.Setenv("LITEBOTY_CONFIG", writeTestConfig(t))
	var stdout, stderr bytes.Buffer
	require.NoError(t, execute([]string{"validate"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "HelloService")
}

func TestValidateMissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := execute([]string{"validate", "-c", filepath.Join(t.TempDir(), "none.json")}, &stdout, &stderr)
	require.Error(t, err)
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 1, exitCode(err))
}

func TestExecuteUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := execute(nil, &stdout, &stderr)
	assert.Equal(t, 2, exitCode(err))

	err = execute([]string{"launch"}, &stdout, &stderr)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, stderr.String(), `unknown command "launch"`)

	err = execute([]string{"run", "--log-level", "loud"}, &stdout, &stderr)
	assert.Equal(t, 2, exitCode(err))

	err = execute([]string{"validate", "--bogus"}, &stdout, &stderr)
	assert.Equal(t, 2, exitCode(err))
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, execute([]string{"version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), Version)
}

func TestWorkerWithoutSpec(t *testing.T) {
	t.Setenv("LITEBOTY_WORKER_SPEC", "")
	var stdout, stderr bytes.Buffer
	err := execute([]string{"worker"}, &stdout, &stderr)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingEntry)
}

func TestWorkerConfigFromGlobal(t *testing.T) {
	cfg, err := workerConfig(map[string]any{
		"REDIS":    map[string]any{"driver": "memory"},
		"SERVICES": map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Bus.Driver)

	cfg, err = workerConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Bus.Driver)
}

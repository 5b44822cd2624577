package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejue/liteboty/errors"
)

func TestParse_SchemaVersionsAreEquivalent(t *testing.T) {
	v1 := `{
		"version": "1.0",
		"SERVICES": ["pkg.services.Svc"],
		"SERVICE_CONFIG": {"Svc": {"k": 1}}
	}`
	v2 := `{
		"version": "2.0",
		"SERVICES": {"pkg.services.Svc": {"enabled": true, "config": {"k": 1}}}
	}`

	c1, err := Parse([]byte(v1), FormatJSON)
	require.NoError(t, err)
	c2, err := Parse([]byte(v2), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, []string{"Svc"}, c1.EnabledNames())
	assert.Equal(t, c1.EnabledNames(), c2.EnabledNames())
	assert.True(t, ConfigEqual(c1.ServiceConfig("Svc"), c2.ServiceConfig("Svc")))
	assert.Equal(t, c1.Bus, c2.Bus)
}

func TestParse_VersionInferred(t *testing.T) {
	c, err := Parse([]byte(`{"SERVICES": ["a.A"]}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, VersionV1, c.Version)

	c, err = Parse([]byte(`{"SERVICES": {"a.A": {}}}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, VersionV2, c.Version)
}

func TestParse_VersionMismatch(t *testing.T) {
	_, err := Parse([]byte(`{"version": "1.0", "SERVICES": {"a.A": {}}}`), FormatJSON)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = Parse([]byte(`{"version": "2.0", "SERVICES": ["a.A"]}`), FormatJSON)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestParse_PriorityOrder(t *testing.T) {
	doc := `{
		"version": "2.0",
		"SERVICES": {
			"x.a": {"priority": 10},
			"x.b": {"priority": 5},
			"x.c": {},
			"x.d": {"enabled": false, "priority": 1}
		}
	}`
	c, err := Parse([]byte(doc), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c"}, c.EnabledNames())
	svc, ok := c.Service("c")
	require.True(t, ok)
	assert.Equal(t, DefaultPriority, svc.Priority)
	assert.Equal(t, 5, c.ServicePriorities["x.b"])
}

func TestParse_V1Priorities(t *testing.T) {
	doc := `{
		"SERVICES": ["x.a", "x.b"],
		"SERVICE_PRIORITIES": {"x.b": 1}
	}`
	c, err := Parse([]byte(doc), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, c.EnabledNames())
}

func TestParse_DuplicateNames(t *testing.T) {
	doc := `{"SERVICES": ["one.Svc", "two.Svc"]}`
	_, err := Parse([]byte(doc), FormatJSON)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(`{}`), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, DriverRedis, c.Bus.Driver)
	assert.Equal(t, "localhost", c.Bus.Host)
	assert.Equal(t, 6379, c.Bus.Port)
	assert.Equal(t, "INFO", c.Logging.Level)
	assert.Empty(t, c.Services)
	assert.Empty(t, c.EnabledNames())
}

func TestParse_EmptyDocument(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatYAML} {
		c, err := Parse(nil, format)
		require.NoError(t, err, format)
		assert.Empty(t, c.Services)
	}
}

func TestParse_YAML(t *testing.T) {
	doc := `
version: "2.0"
REDIS:
  host: redis.local
  port: 6380
SERVICES:
  .services.camera.Camera:
    priority: 3
    isolation: process
    config:
      fps: 15
`
	c, err := Parse([]byte(doc), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "redis.local", c.Bus.Host)
	assert.Equal(t, 6380, c.Bus.Port)

	svc, ok := c.Service("Camera")
	require.True(t, ok)
	assert.Equal(t, 3, svc.Priority)
	assert.Equal(t, IsolationProcess, svc.Isolation)
	assert.Equal(t, "services.camera.Camera", svc.Key())
	assert.EqualValues(t, 15, GetInt(svc.Config, "fps", 0))
}

func TestParse_SchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad version", `{"version": "3.0"}`},
		{"port type", `{"REDIS": {"port": "6379"}}`},
		{"unknown driver", `{"REDIS": {"driver": "kafka"}}`},
		{"not an object", `[1, 2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatJSON)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
		})
	}
}

func TestServiceName(t *testing.T) {
	tests := []struct {
		path, entry, want string
	}{
		{"services.camera.Camera", "", "Camera"},
		{".services.camera.Camera", "", "Camera"},
		{"services/echo", "", "echo"},
		{"Solo", "", "Solo"},
		{"services.x", "Custom", "Custom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ServiceName(tt.path, tt.entry), tt.path)
	}
}

func TestServiceConfig_IsPrivateCopy(t *testing.T) {
	c, err := Parse([]byte(`{"SERVICES": {"x.A": {"config": {"nested": {"k": 1}}}}}`), FormatJSON)
	require.NoError(t, err)

	cfg := c.ServiceConfig("A")
	nested, _ := GetMap(cfg, "nested")
	nested["k"] = 2

	again, _ := GetMap(c.ServiceConfig("A"), "nested")
	assert.EqualValues(t, 1, again["k"])
	assert.Empty(t, c.ServiceConfig("missing"))
}

func TestBusFor_Override(t *testing.T) {
	c, err := Parse([]byte(`{"REDIS": {"host": "main", "port": 6379, "db": 0}}`), FormatJSON)
	require.NoError(t, err)

	bus := c.BusFor(map[string]any{"REDIS": map[string]any{"db": 2}})
	assert.Equal(t, "main", bus.Host)
	assert.Equal(t, 2, bus.DB)

	assert.Equal(t, c.Bus, c.BusFor(nil))
}

func TestBotDefaults(t *testing.T) {
	var b BotConfig
	assert.Equal(t, "15s", b.RosterIntervalDuration().String())
	assert.Equal(t, "1s", b.ReloadDebounceDuration().String())
	assert.Equal(t, "10s", b.StopTimeoutDuration().String())

	b.RosterInterval = 0.5
	assert.Equal(t, "500ms", b.RosterIntervalDuration().String())
}

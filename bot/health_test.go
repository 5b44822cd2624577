package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	rec := &recorder{}
	path := configPath(t, `{"REDIS": {"driver": "memory"}, "SERVICES": {
	  "pkg.a": {"enabled": true},
	  "pkg.b": {"enabled": true}
	}}`)
	b, _ := newTestBot(t, path, rec, WithoutWatcher())

	assert.True(t, b.Health().IsUnhealthy(), "not running yet")

	runBot(t, b)
	status := b.Health()
	assert.True(t, status.Healthy)
	require.Len(t, status.SubStatuses, 2)
	assert.Equal(t, "a", status.SubStatuses[0].Component)

	writeConfig(t, path, `{"SERVICES": 42}`)
	require.Error(t, b.Reload(context.Background()))

	status = b.Health()
	assert.True(t, status.IsDegraded())
	require.Len(t, status.SubStatuses, 3)
	cfg := status.SubStatuses[2]
	assert.Equal(t, "config", cfg.Component)
	assert.Contains(t, cfg.Message, "reload failed")
	assert.NotContains(t, cfg.Message, path)

	writeConfig(t, path, `{"REDIS": {"driver": "memory"}, "SERVICES": {"pkg.a": {"enabled": true}}}`)
	require.NoError(t, b.Reload(context.Background()))
	status = b.Health()
	assert.True(t, status.Healthy)
	assert.Len(t, status.SubStatuses, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Stop(ctx))
	assert.Equal(t, "supervisor stopped", b.Health().Message)
}

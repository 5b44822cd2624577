//go:build integration

package redisbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/yejue/liteboty/bus"
)

func startRedis(t *testing.T) Config {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return Config{Host: host, Port: port.Int(), ConnectTimeout: 5 * time.Second}
}

func TestIntegration_PubSubAndKeys(t *testing.T) {
	cfg := startRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := NewDialer(cfg, nil)
	pub, err := d.Dial(ctx)
	require.NoError(t, err)
	defer pub.Close()

	subConn, err := d.Dial(ctx)
	require.NoError(t, err)
	defer subConn.Close()

	sub, err := subConn.Subscriber(ctx)
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Subscribe(ctx, "frames"))

	require.Eventually(t, func() bool {
		_ = pub.Publish(ctx, "frames", []byte("probe"))
		rctx, rcancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer rcancel()
		m, err := sub.Receive(rctx)
		return err == nil && m.Channel == "frames"
	}, 10*time.Second, 100*time.Millisecond)

	_, err = pub.Get(ctx, "liteboty:test")
	assert.ErrorIs(t, err, bus.ErrKeyNotFound)

	require.NoError(t, pub.Set(ctx, "liteboty:test", []byte("v"), time.Minute))
	v, err := pub.Get(ctx, "liteboty:test")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	ok, err := pub.Expire(ctx, "liteboty:test", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, pub.Delete(ctx, "liteboty:test"))
	_, err = pub.Get(ctx, "liteboty:test")
	assert.ErrorIs(t, err, bus.ErrKeyNotFound)
}

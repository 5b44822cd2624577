//go:build integration

package natsclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejue/liteboty/bus"
)

func TestIntegration_BusConn(t *testing.T) {
	srv := NewTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := NewDialer(srv.URL, "", nil, WithMaxReconnects(0))
	conn, err := d.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	sub, err := conn.Subscriber(ctx)
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Subscribe(ctx, "liteboty.test"))
	require.NoError(t, conn.Ping(ctx))

	require.NoError(t, conn.Publish(ctx, "liteboty.test", []byte("hi")))
	m, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "liteboty.test", m.Channel)
	assert.Equal(t, []byte("hi"), m.Data)

	_, err = conn.Get(ctx, "liteboty:services")
	assert.ErrorIs(t, err, bus.ErrKeyNotFound)

	require.NoError(t, conn.Set(ctx, "liteboty:services", []byte("[]"), time.Second))
	v, err := conn.Get(ctx, "liteboty:services")
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)

	require.Eventually(t, func() bool {
		_, err := conn.Get(ctx, "liteboty:services")
		return errors.Is(err, bus.ErrKeyNotFound)
	}, 5*time.Second, 100*time.Millisecond)

	ok, err := conn.Expire(ctx, "liteboty:services", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, conn.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, conn.Delete(ctx, "k"))
	require.NoError(t, conn.Delete(ctx, "k"))
}

func TestIntegration_ReceiveFailsAfterClose(t *testing.T) {
	srv := NewTestServer(t)
	ctx := context.Background()

	conn, err := NewDialer(srv.URL, "", nil).Dial(ctx)
	require.NoError(t, err)
	sub, err := conn.Subscriber(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	_, err = sub.Receive(ctx)
	assert.True(t, bus.IsConnectionError(err))
}

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejue/liteboty/bus"
)

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "closed", StatusClosed.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, time.Second, c.Backoff())
	assert.False(t, c.IsHealthy())

	_, err = c.Conn()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	c.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, c.Status())
	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 2*time.Second, c.Backoff())

	assert.ErrorIs(t, c.Connect(context.Background()), ErrCircuitOpen)

	c.testCircuit()
	assert.Equal(t, StatusDisconnected, c.Status())

	c.resetCircuit()
	assert.Equal(t, int32(0), c.Failures())
	assert.Equal(t, time.Second, c.Backoff())
}

func TestConnect_Unreachable(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1", WithTimeout(200*time.Millisecond), WithMaxReconnects(0))
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), c.Failures())
}

func TestClose_Idempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
}

func TestDialer_ClosesClientWhenConnectFails(t *testing.T) {
	d := NewDialer("nats://127.0.0.1:1", "", nil, WithTimeout(100*time.Millisecond), WithMaxReconnects(0))
	var created *Client
	d.newClient = func(url string, opts ...ClientOption) (*Client, error) {
		c, err := NewClient(url, opts...)
		created = c
		return c, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := d.Dial(ctx)
	require.Error(t, err)
	assert.True(t, bus.IsConnectionError(err))

	require.NotNil(t, created)
	assert.Equal(t, StatusClosed, created.Status())
	select {
	case <-created.Done():
	default:
		t.Fatal("client left open after failed dial")
	}
}

func TestKVKey(t *testing.T) {
	assert.Equal(t, "liteboty.services", KVKey("liteboty:services"))
	assert.Equal(t, "a_b/c-d=e", KVKey("a b/c-d=e"))
}

func TestClassify(t *testing.T) {
	assert.True(t, bus.IsConnectionError(classify(ErrNotConnected, "Publish")))
	assert.NoError(t, classify(nil, "Publish"))
}

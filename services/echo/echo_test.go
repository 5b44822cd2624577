package echo

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejue/liteboty/bus/membus"
	"github.com/yejue/liteboty/message"
	"github.com/yejue/liteboty/metric"
	"github.com/yejue/liteboty/service"
)

func TestEchoRepublishes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	broker := membus.NewBroker()

	deps := (&service.Dependencies{Logger: slog.New(slog.DiscardHandler), Dialer: broker}).ForService("EchoService")
	h, err := New(map[string]any{"input_channel": "ping", "output_channel": "pong"}, nil, deps)
	require.NoError(t, err)
	require.NoError(t, h.Start(ctx))
	defer h.Stop(context.Background())

	conn, err := broker.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()
	sub, err := conn.Subscriber(ctx)
	require.NoError(t, err)
	require.NoError(t, sub.Subscribe(ctx, "pong"))

	payload, err := message.Encode(message.New(map[string]any{"seq": 7}, message.TypeJSON,
		&message.Metadata{Attributes: map[string]string{"source": "test"}}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return broker.Subscribers("ping") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Publish(ctx, "ping", payload))

	got, err := sub.Receive(ctx)
	require.NoError(t, err)
	msg, err := message.Decode(got.Data)
	require.NoError(t, err)

	assert.Equal(t, message.TypeJSON, msg.Type)
	assert.Equal(t, map[string]any{"seq": float64(7)}, msg.Data)
	assert.Equal(t, "test", msg.Metadata.Attributes["source"])
	assert.Equal(t, "EchoService", msg.Metadata.Attributes[AttrEchoedBy])
	assert.Eventually(t, func() bool { return h.(*Service).Echoed() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEchoDefaults(t *testing.T) {
	ctx := context.Background()
	broker := membus.NewBroker()
	deps := (&service.Dependencies{Logger: slog.New(slog.DiscardHandler), Dialer: broker}).ForService("EchoService")
	h, err := New(nil, nil, deps)
	require.NoError(t, err)

	require.NoError(t, h.Start(ctx))
	assert.Equal(t, []string{DefaultInput}, h.(*Service).Subscriptions())
	require.NoError(t, h.Stop(ctx))
}

func TestEchoRegistersCounter(t *testing.T) {
	ctx := context.Background()
	registry := metric.NewMetricsRegistry()
	deps := (&service.Dependencies{
		Logger:           slog.New(slog.DiscardHandler),
		Dialer:           membus.NewBroker(),
		MetricsRegistrar: registry,
	}).ForService("EchoService")
	h, err := New(nil, nil, deps)
	require.NoError(t, err)

	require.NoError(t, h.Start(ctx))
	n, err := testutil.GatherAndCount(registry.PrometheusRegistry(), "liteboty_echo_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, h.Stop(ctx))
	n, err = testutil.GatherAndCount(registry.PrometheusRegistry(), "liteboty_echo_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, h.Start(ctx), "restart registers again")
	require.NoError(t, h.Stop(ctx))
}

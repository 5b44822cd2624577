// Package bus defines the transport-neutral publish/subscribe and key-value
// contract that services and the supervisor talk to. Implementations live in
// bus/redisbus, bus/membus and natsclient.
package bus

import (
	"context"
	"time"
)

// Message is one delivery from a subscribed channel.
type Message struct {
	Channel string
	Data    []byte
}

// Conn is a connection to the broker. Each service owns its connection
// exclusively; implementations must still be safe for concurrent use by the
// owning service's timers and receive loop.
type Conn interface {
	// Publish sends data to every current subscriber of channel.
	Publish(ctx context.Context, channel string, data []byte) error
	// Subscriber opens a new subscription handle on this connection.
	Subscriber(ctx context.Context) (Subscriber, error)

	// Get returns ErrKeyNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; a zero ttl keeps the key until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Expire sets a time-to-live on an existing key. It reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// Subscriber receives messages for a set of channels, in order, one at a time.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	// Receive blocks until a message arrives, ctx is done or the connection fails.
	// Connection failures satisfy IsConnectionError.
	Receive(ctx context.Context) (*Message, error)
	Close() error
}

// Dialer opens a new broker connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

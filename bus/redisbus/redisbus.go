// Package redisbus implements the bus contract on Redis pub/sub and string keys.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yejue/liteboty/bus"
)

// Config holds connection settings for one Redis server.
type Config struct {
	Host           string
	Port           int
	Password       string
	DB             int
	SocketTimeout  time.Duration
	ConnectTimeout time.Duration
}

// Addr returns host:port with defaults applied.
func (c Config) Addr() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Dialer opens one go-redis client per Dial call.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer returns a bus.Dialer for cfg.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger.With("component", "redisbus")}
}

// Dial connects and pings the server.
func (d *Dialer) Dial(ctx context.Context) (bus.Conn, error) {
	opts := &redis.Options{
		Addr:        d.cfg.Addr(),
		Password:    d.cfg.Password,
		DB:          d.cfg.DB,
		DialTimeout: d.cfg.ConnectTimeout,
	}
	if d.cfg.SocketTimeout > 0 {
		opts.ReadTimeout = d.cfg.SocketTimeout
		opts.WriteTimeout = d.cfg.SocketTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, classify(err, "Dial")
	}

	d.logger.Debug("connected", "addr", opts.Addr, "db", opts.DB)
	return &Conn{client: client}, nil
}

// Conn wraps a go-redis client.
type Conn struct {
	client *redis.Client
}

var _ bus.Conn = (*Conn)(nil)

// Client exposes the underlying go-redis client.
func (c *Conn) Client() *redis.Client {
	return c.client
}

func (c *Conn) Publish(ctx context.Context, channel string, data []byte) error {
	return classify(c.client.Publish(ctx, channel, data).Err(), "Publish")
}

// Subscriber opens a PubSub handle. Channels are added with Subscribe.
func (c *Conn) Subscriber(ctx context.Context) (bus.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Subscriber{pubsub: c.client.Subscribe(ctx)}, nil
}

func (c *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, bus.ErrKeyNotFound
	}
	if err != nil {
		return nil, classify(err, "Get")
	}
	return v, nil
}

func (c *Conn) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return classify(c.client.Set(ctx, key, value, ttl).Err(), "Set")
}

func (c *Conn) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, classify(err, "Expire")
	}
	return ok, nil
}

func (c *Conn) Delete(ctx context.Context, key string) error {
	return classify(c.client.Del(ctx, key).Err(), "Delete")
}

func (c *Conn) Ping(ctx context.Context) error {
	return classify(c.client.Ping(ctx).Err(), "Ping")
}

func (c *Conn) Close() error {
	err := c.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Subscriber wraps a go-redis PubSub.
type Subscriber struct {
	pubsub *redis.PubSub
}

var _ bus.Subscriber = (*Subscriber)(nil)

func (s *Subscriber) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return classify(s.pubsub.Subscribe(ctx, channels...), "Subscribe")
}

func (s *Subscriber) Unsubscribe(ctx context.Context, channels ...string) error {
	return classify(s.pubsub.Unsubscribe(ctx, channels...), "Unsubscribe")
}

func (s *Subscriber) Receive(ctx context.Context) (*bus.Message, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err, "Receive")
	}
	return &bus.Message{Channel: msg.Channel, Data: []byte(msg.Payload)}, nil
}

func (s *Subscriber) Close() error {
	err := s.pubsub.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// classify marks transport failures so services reconnect on them. Server
// replies such as WRONGTYPE are returned as-is.
func classify(err error, method string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return fmt.Errorf("RedisBus.%s: %w", method, err)
	}
	if errors.Is(err, redis.ErrClosed) || bus.IsConnectionError(err) || errors.Is(err, context.DeadlineExceeded) {
		return bus.ConnectionLost(err, "RedisBus", method)
	}
	return fmt.Errorf("RedisBus.%s: %w", method, err)
}

package natsclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/yejue/liteboty/bus"
	"github.com/yejue/liteboty/pkg/retry"
)

// DefaultBucket is the JetStream KV bucket holding bus keys.
const DefaultBucket = "liteboty"

// Dialer connects a fresh Client per Dial and exposes it as a bus.Conn.
type Dialer struct {
	url    string
	bucket string
	opts   []ClientOption
	logger *slog.Logger

	newClient func(url string, opts ...ClientOption) (*Client, error)
}

// NewDialer returns a bus.Dialer for the NATS server at url.
func NewDialer(url, bucket string, logger *slog.Logger, opts ...ClientOption) *Dialer {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{url: url, bucket: bucket, opts: opts, logger: logger, newClient: NewClient}
}

// Dial connects with quick retries and opens the KV bucket.
func (d *Dialer) Dial(ctx context.Context) (bus.Conn, error) {
	opts := append([]ClientOption{WithLogger(d.logger)}, d.opts...)
	client, err := d.newClient(d.url, opts...)
	if err != nil {
		return nil, err
	}

	cfg := retry.Quick()
	cfg.MaxAttempts = 3
	if err := retry.Do(ctx, cfg, func() error { return client.Connect(ctx) }); err != nil {
		_ = client.Close(context.WithoutCancel(ctx))
		return nil, bus.ConnectionLost(err, "NatsBus", "Dial")
	}

	kv, err := client.KeyValueBucket(ctx, d.bucket)
	if err != nil {
		_ = client.Close(ctx)
		return nil, bus.ConnectionLost(err, "NatsBus", "Dial")
	}
	return &Conn{client: client, kv: kv}, nil
}

// Conn adapts a Client to bus.Conn. Keys live in a JetStream KV bucket; TTLs
// are kept per key in a small envelope and enforced on read.
type Conn struct {
	client *Client
	kv     jetstream.KeyValue
}

var _ bus.Conn = (*Conn)(nil)

// Client returns the underlying client.
func (c *Conn) Client() *Client {
	return c.client
}

func (c *Conn) Publish(_ context.Context, channel string, data []byte) error {
	nc, err := c.client.Conn()
	if err != nil {
		return bus.ConnectionLost(err, "NatsBus", "Publish")
	}
	if err := nc.Publish(channel, data); err != nil {
		return classify(err, "Publish")
	}
	return nil
}

func (c *Conn) Subscriber(ctx context.Context) (bus.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Subscriber{
		client: c.client,
		ch:     make(chan *nats.Msg, 256),
		subs:   make(map[string]*nats.Subscription),
		done:   make(chan struct{}),
	}, nil
}

type envelope struct {
	ExpiresAt int64  `json:"expires_at,omitempty"` // Unix milliseconds, 0 = no expiry
	Value     []byte `json:"value"`
}

func (e envelope) expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixMilli() >= e.ExpiresAt
}

// KVKey maps a bus key to a valid KV key: ':' becomes '.', other characters
// outside [-/_=.a-zA-Z0-9] become '_'.
func KVKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r == ':':
			b.WriteByte('.')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '/', r == '_', r == '=', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (c *Conn) load(ctx context.Context, key string) (envelope, error) {
	var env envelope
	entry, err := c.kv.Get(ctx, KVKey(key))
	if stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return env, bus.ErrKeyNotFound
	}
	if err != nil {
		return env, classify(err, "Get")
	}
	if err := sonic.Unmarshal(entry.Value(), &env); err != nil {
		return env, err
	}
	if env.expired(time.Now()) {
		_ = c.kv.Delete(ctx, KVKey(key))
		return env, bus.ErrKeyNotFound
	}
	return env, nil
}

func (c *Conn) store(ctx context.Context, key string, env envelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := c.kv.Put(ctx, KVKey(key), data); err != nil {
		return classify(err, "Set")
	}
	return nil
}

func (c *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	env, err := c.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return env.Value, nil
}

func (c *Conn) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = time.Now().Add(ttl).UnixMilli()
	}
	return c.store(ctx, key, env)
}

func (c *Conn) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	env, err := c.load(ctx, key)
	if stderrors.Is(err, bus.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	env.ExpiresAt = time.Now().Add(ttl).UnixMilli()
	return true, c.store(ctx, key, env)
}

func (c *Conn) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, KVKey(key))
	if err != nil && !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return classify(err, "Delete")
	}
	return nil
}

func (c *Conn) Ping(ctx context.Context) error {
	nc, err := c.client.Conn()
	if err != nil {
		return bus.ConnectionLost(err, "NatsBus", "Ping")
	}
	return classify(nc.FlushWithContext(ctx), "Ping")
}

func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Close(ctx)
}

// Subscriber fans subject subscriptions into one ordered channel.
type Subscriber struct {
	client *Client
	ch     chan *nats.Msg

	mu        sync.Mutex
	subs      map[string]*nats.Subscription
	done      chan struct{}
	closeOnce sync.Once
}

var _ bus.Subscriber = (*Subscriber)(nil)

func (s *Subscriber) Subscribe(_ context.Context, channels ...string) error {
	nc, err := s.client.Conn()
	if err != nil {
		return bus.ConnectionLost(err, "NatsBus", "Subscribe")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, channel := range channels {
		if _, ok := s.subs[channel]; ok {
			continue
		}
		sub, err := nc.ChanSubscribe(channel, s.ch)
		if err != nil {
			return classify(err, "Subscribe")
		}
		s.subs[channel] = sub
	}
	return nil
}

func (s *Subscriber) Unsubscribe(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(channels) == 0 {
		for ch := range s.subs {
			channels = append(channels, ch)
		}
	}
	var errs []error
	for _, channel := range channels {
		sub, ok := s.subs[channel]
		if !ok {
			continue
		}
		delete(s.subs, channel)
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (s *Subscriber) Receive(ctx context.Context) (*bus.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, bus.ErrClosed
	case <-s.client.Done():
		return nil, bus.ConnectionLost(nats.ErrConnectionClosed, "NatsBus", "Receive")
	case msg := <-s.ch:
		return &bus.Message{Channel: msg.Subject, Data: msg.Data}, nil
	}
}

func (s *Subscriber) Close() error {
	err := s.Unsubscribe(context.Background())
	s.closeOnce.Do(func() { close(s.done) })
	return err
}

func classify(err error, method string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, nats.ErrConnectionClosed) ||
		stderrors.Is(err, nats.ErrDisconnected) ||
		stderrors.Is(err, nats.ErrNoServers) ||
		stderrors.Is(err, nats.ErrTimeout) ||
		stderrors.Is(err, ErrNotConnected) ||
		bus.IsConnectionError(err) {
		return bus.ConnectionLost(err, "NatsBus", method)
	}
	return err
}

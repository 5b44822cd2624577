package membus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yejue/liteboty/bus"
)

var errDisconnected = errors.New("membus: connection reset")

type conn struct {
	broker *Broker

	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	closed   bool
	dead     chan struct{}
	deadOnce sync.Once
}

func (c *conn) breakConn() {
	c.deadOnce.Do(func() { close(c.dead) })
}

func (c *conn) check(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}
	select {
	case <-c.dead:
		return bus.ConnectionLost(errDisconnected, "MemBus", method)
	default:
		return nil
	}
}

func (c *conn) Publish(ctx context.Context, channel string, data []byte) error {
	if err := c.check(ctx, "Publish"); err != nil {
		return err
	}
	c.broker.publish(channel, data)
	return nil
}

func (c *conn) Subscriber(ctx context.Context) (bus.Subscriber, error) {
	if err := c.check(ctx, "Subscriber"); err != nil {
		return nil, err
	}
	s := &subscriber{
		conn:     c,
		ch:       make(chan *bus.Message, c.broker.buffer),
		channels: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	c.mu.Lock()
	if c.subs == nil {
		c.subs = make(map[*subscriber]struct{})
	}
	c.subs[s] = struct{}{}
	c.mu.Unlock()
	return s, nil
}

func (c *conn) Get(ctx context.Context, key string) ([]byte, error) {
	if err := c.check(ctx, "Get"); err != nil {
		return nil, err
	}
	v, ok := c.broker.get(key)
	if !ok {
		return nil, bus.ErrKeyNotFound
	}
	return v, nil
}

func (c *conn) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.check(ctx, "Set"); err != nil {
		return err
	}
	c.broker.set(key, value, ttl)
	return nil
}

func (c *conn) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := c.check(ctx, "Expire"); err != nil {
		return false, err
	}
	return c.broker.expire(key, ttl), nil
}

func (c *conn) Delete(ctx context.Context, key string) error {
	if err := c.check(ctx, "Delete"); err != nil {
		return err
	}
	c.broker.del(key)
	return nil
}

func (c *conn) Ping(ctx context.Context) error {
	return c.check(ctx, "Ping")
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for s := range subs {
		s.closeOnce.Do(func() { close(s.done) })
	}
	c.broker.forget(c)
	return nil
}

func (c *conn) removeSubscriber(s *subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, s)
}

type subscriber struct {
	conn *conn
	ch   chan *bus.Message

	mu        sync.Mutex
	channels  map[string]struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// has is called with the owning conn's lock held.
func (s *subscriber) has(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channel]
	return ok
}

func (s *subscriber) Subscribe(ctx context.Context, channels ...string) error {
	if err := s.conn.check(ctx, "Subscribe"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	return nil
}

func (s *subscriber) Unsubscribe(ctx context.Context, channels ...string) error {
	if err := s.conn.check(ctx, "Unsubscribe"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(channels) == 0 {
		s.channels = make(map[string]struct{})
		return nil
	}
	for _, ch := range channels {
		delete(s.channels, ch)
	}
	return nil
}

func (s *subscriber) Receive(ctx context.Context) (*bus.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, bus.ErrClosed
	case <-s.conn.dead:
		return nil, bus.ConnectionLost(errDisconnected, "MemBus", "Receive")
	case m := <-s.ch:
		return m, nil
	}
}

func (s *subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.conn.removeSubscriber(s)
	return nil
}

// Package membus is an in-process broker implementing the bus contract. It
// backs the "memory" driver and the tests, and can simulate broker outages.
package membus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yejue/liteboty/bus"
)

// DefaultBuffer is the per-subscriber queue depth. Deliveries to a full
// queue are dropped, matching pub/sub semantics for slow consumers.
const DefaultBuffer = 256

var errBrokerDown = errors.New("membus: broker unavailable")

type entry struct {
	value   []byte
	expires time.Time
}

// Broker holds channels and keys shared by every connection dialed from it.
type Broker struct {
	mu      sync.Mutex
	conns   map[*conn]struct{}
	kv      map[string]entry
	down    bool
	dials   int
	buffer  int
	nowFunc func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithBuffer sets the per-subscriber queue depth.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithClock overrides the clock used for key expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.nowFunc = now
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		conns:   make(map[*conn]struct{}),
		kv:      make(map[string]entry),
		buffer:  DefaultBuffer,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dial implements bus.Dialer.
func (b *Broker) Dial(ctx context.Context) (bus.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.down {
		return nil, bus.ConnectionLost(errBrokerDown, "MemBus", "Dial")
	}
	c := &conn{broker: b, dead: make(chan struct{})}
	b.conns[c] = struct{}{}
	return c, nil
}

// Dials returns how many dial attempts were made, including failed ones.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Disconnect breaks every open connection. Pending and future operations on
// them fail with a connection error. New dials still succeed.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	conns := make([]*conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.conns = make(map[*conn]struct{})
	b.mu.Unlock()

	for _, c := range conns {
		c.breakConn()
	}
}

// SetDown makes future dials fail while down is true. Going down also
// breaks every open connection.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()

	if down {
		b.Disconnect()
	}
}

// Subscribers returns how many live subscriptions exist for channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for c := range b.conns {
		c.mu.Lock()
		for s := range c.subs {
			if s.has(channel) {
				n++
			}
		}
		c.mu.Unlock()
	}
	return n
}

func (b *Broker) publish(channel string, data []byte) {
	b.mu.Lock()
	var targets []*subscriber
	for c := range b.conns {
		c.mu.Lock()
		for s := range c.subs {
			if s.has(channel) {
				targets = append(targets, s)
			}
		}
		c.mu.Unlock()
	}
	b.mu.Unlock()

	for _, s := range targets {
		payload := make([]byte, len(data))
		copy(payload, data)
		select {
		case s.ch <- &bus.Message{Channel: channel, Data: payload}:
		default:
		}
	}
}

func (b *Broker) get(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.kv[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !b.nowFunc().Before(e.expires) {
		delete(b.kv, key)
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

func (b *Broker) set(key string, value []byte, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = b.nowFunc().Add(ttl)
	}
	b.kv[key] = e
}

func (b *Broker) expire(key string, ttl time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.kv[key]
	if !ok || (!e.expires.IsZero() && !b.nowFunc().Before(e.expires)) {
		delete(b.kv, key)
		return false
	}
	e.expires = b.nowFunc().Add(ttl)
	b.kv[key] = e
	return true
}

func (b *Broker) del(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.kv, key)
}

func (b *Broker) forget(c *conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, c)
}

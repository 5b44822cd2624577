package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yejue/liteboty/bus"
	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/errors"
	"github.com/yejue/liteboty/pkg/retry"
)

// ReconnectPolicy bounds bus reconnection. Delays double from InitialDelay
// up to MaxDelay. MaxRetries of zero retries until the service stops.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxRetries   int
}

// DefaultReconnectPolicy starts at 1s, caps at 30s and never gives up.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

func reconnectPolicyFromConfig(cfg map[string]any, def ReconnectPolicy) ReconnectPolicy {
	p := ReconnectPolicy{
		InitialDelay: config.GetSeconds(cfg, "reconnect_initial_delay", def.InitialDelay),
		MaxDelay:     config.GetSeconds(cfg, "reconnect_max_delay", def.MaxDelay),
		MaxRetries:   config.GetInt(cfg, "reconnect_max_retries", def.MaxRetries),
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

// busLink holds a service's connection and subscriber. gen increases every
// time the pair is replaced, so concurrent failure reports against the same
// connection trigger a single reconnect.
type busLink struct {
	mu   sync.Mutex
	conn bus.Conn
	sub  bus.Subscriber
	gen  uint64

	reconnectMu sync.Mutex
}

func (l *busLink) snapshot() (bus.Conn, bus.Subscriber, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn, l.sub, l.gen
}

func (l *busLink) open(ctx context.Context, dialer func() (bus.Dialer, error)) error {
	d, err := dialer()
	if err != nil {
		return err
	}
	conn, err := d.Dial(ctx)
	if err != nil {
		return err
	}
	l.replace(conn, nil)
	return nil
}

// subscribe adds channels on the live subscriber, opening it on first use.
func (l *busLink) subscribe(ctx context.Context, channels ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return bus.ConnectionLost(errors.ErrSubscriberNotReady, "Service", "Subscribe")
	}
	if l.sub == nil {
		sub, err := l.conn.Subscriber(ctx)
		if err != nil {
			return err
		}
		l.sub = sub
	}
	return l.sub.Subscribe(ctx, channels...)
}

func (l *busLink) unsubscribe(ctx context.Context, channels ...string) error {
	l.mu.Lock()
	sub := l.sub
	l.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe(ctx, channels...)
}

// redial opens a fresh connection, re-issues every subscription on it and
// swaps it in.
func (l *busLink) redial(ctx context.Context, dialer func() (bus.Dialer, error), channels []string) error {
	d, err := dialer()
	if err != nil {
		return err
	}
	conn, err := d.Dial(ctx)
	if err != nil {
		return err
	}

	var sub bus.Subscriber
	if len(channels) > 0 {
		sub, err = conn.Subscriber(ctx)
		if err == nil {
			err = sub.Subscribe(ctx, channels...)
		}
		if err != nil {
			if sub != nil {
				_ = sub.Close()
			}
			_ = conn.Close()
			return err
		}
	}

	l.replace(conn, sub)
	return nil
}

func (l *busLink) replace(conn bus.Conn, sub bus.Subscriber) {
	l.mu.Lock()
	oldConn, oldSub := l.conn, l.sub
	l.conn, l.sub = conn, sub
	l.gen++
	l.mu.Unlock()

	if oldSub != nil {
		_ = oldSub.Close()
	}
	if oldConn != nil {
		_ = oldConn.Close()
	}
}

func (l *busLink) release() error {
	l.mu.Lock()
	conn, sub := l.conn, l.sub
	l.conn, l.sub = nil, nil
	l.gen++
	l.mu.Unlock()

	var errs []error
	if sub != nil {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Base) reconnectPolicy() ReconnectPolicy {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.policy
}

// reconnect replaces the connection that failed at generation failedGen.
// If another caller already replaced it, reconnect returns at once.
func (b *Base) reconnect(ctx context.Context, failedGen uint64) error {
	b.link.reconnectMu.Lock()
	defer b.link.reconnectMu.Unlock()

	if _, _, gen := b.link.snapshot(); gen != failedGen {
		return nil
	}

	policy := b.reconnectPolicy()
	backoff := retry.NewBackoff(policy.InitialDelay, policy.MaxDelay)

	for attempt := 1; ; attempt++ {
		err := b.link.redial(ctx, b.dialer, b.channels())
		b.metrics.RecordReconnect(b.name, err)
		if err == nil {
			b.logger.Info("reconnected to bus", "attempts", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !bus.IsConnectionError(err) {
			b.logger.Error("unexpected error during reconnection", "error", err)
			return errors.Wrap(err, "Service", "reconnect", "redial bus")
		}
		if policy.MaxRetries > 0 && attempt >= policy.MaxRetries {
			b.logger.Error("failed to reconnect", "attempts", attempt, "error", err)
			return fmt.Errorf("%w: %d reconnect attempts: %w", errors.ErrMaxRetriesExceeded, attempt, err)
		}

		delay := backoff.Next()
		b.logger.Warn("reconnection failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// receiveLoop delivers messages one at a time until ctx is cancelled or
// reconnection gives up.
func (b *Base) receiveLoop(ctx context.Context) {
	defer func() {
		b.mu.Lock()
		b.receiving = false
		b.mu.Unlock()
	}()

	for ctx.Err() == nil {
		_, sub, gen := b.link.snapshot()
		if sub == nil {
			if err := b.reconnect(ctx, gen); err != nil {
				if ctx.Err() == nil {
					b.logger.Error("receive loop exiting", "error", err)
				}
				return
			}
			continue
		}

		msg, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if bus.IsConnectionError(err) {
				b.logger.Error("bus connection lost", "error", err)
				if rerr := b.reconnect(ctx, gen); rerr != nil {
					if ctx.Err() == nil {
						b.logger.Error("receive loop exiting", "error", rerr)
					}
					return
				}
				continue
			}
			b.logger.Error("unexpected receive error", "error", err)
			if retry.Sleep(ctx, b.errorPause) != nil {
				return
			}
			continue
		}

		b.dispatch(ctx, msg)
	}
}

func (b *Base) dispatch(ctx context.Context, msg *bus.Message) {
	h, ok := b.handler(msg.Channel)
	if !ok {
		return
	}
	b.metrics.RecordMessageReceived(b.name, msg.Channel)

	start := time.Now()
	err := callHandler(ctx, h, msg.Data)
	b.metrics.RecordCallback(b.name, "subscription", time.Since(start), err)
	if err != nil && ctx.Err() == nil {
		b.logger.Error("subscription callback failed", "channel", msg.Channel, "error", err)
	}
}

func callHandler(ctx context.Context, h Handler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, data)
}

package bot

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"vawter.tech/stopper"

	"github.com/yejue/liteboty/bus"
	"github.com/yejue/liteboty/errors"
	"github.com/yejue/liteboty/pkg/timestamp"
	"github.com/yejue/liteboty/service"
)

// RosterKey is where the roster lives on the bus.
const RosterKey = "liteboty:services"

// MinRosterTTL is the shortest time-to-live a roster is stored with.
const MinRosterTTL = 30 * time.Second

// RosterEntry describes one registered service. Times are Unix seconds;
// uptime is seconds since the last start.
type RosterEntry struct {
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	StartTime  float64 `json:"start_time"`
	Uptime     float64 `json:"uptime"`
	LastUpdate float64 `json:"last_update"`
}

// RosterTTL is twice the refresh interval, but never below MinRosterTTL.
func RosterTTL(interval time.Duration) time.Duration {
	return max(2*interval, MinRosterTTL)
}

// Roster snapshots every registered service, in registration order.
func Roster(r *service.Registry) []RosterEntry {
	if r == nil {
		return []RosterEntry{}
	}
	handles := r.GetAll()
	out := make([]RosterEntry, 0, len(handles))
	for _, h := range handles {
		info := h.Info()
		out = append(out, RosterEntry{
			Name:       info.Name,
			Status:     info.Status.String(),
			StartTime:  timestamp.Seconds(info.StartTime),
			Uptime:     info.Uptime.Seconds(),
			LastUpdate: timestamp.Seconds(info.LastUpdate),
		})
	}
	return out
}

func (b *Bot) rosterLoop(sctx *stopper.Context, ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := b.PublishRoster(ctx, interval); err != nil {
			b.logger.Warn("failed to publish roster", "key", RosterKey, "error", err)
		}
		select {
		case <-sctx.Stopping():
			return nil
		case <-ticker.C:
		}
	}
}

// PublishRoster stores the current roster under RosterKey with
// RosterTTL(interval). The supervisor's bus connection is dialed on first
// use and dropped after a connection error so the next call redials.
func (b *Bot) PublishRoster(ctx context.Context, interval time.Duration) (err error) {
	defer func() { b.metrics.RecordRosterPublish(err) }()

	data, err := sonic.Marshal(Roster(b.Registry()))
	if err != nil {
		return errors.Wrap(err, "Bot", "PublishRoster", "encode roster")
	}

	conn, err := b.rosterConn(ctx)
	if err != nil {
		return err
	}
	if err := conn.Set(ctx, RosterKey, data, RosterTTL(interval)); err != nil {
		if bus.IsConnectionError(err) {
			b.dropRosterConn(conn)
		}
		return errors.Wrap(err, "Bot", "PublishRoster", "store roster")
	}
	return nil
}

func (b *Bot) rosterConn(ctx context.Context) (bus.Conn, error) {
	b.mu.Lock()
	conn, store := b.conn, b.store
	b.mu.Unlock()
	if conn != nil {
		return conn, nil
	}
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrSubscriberNotReady, "Bot", "rosterConn", "check configuration")
	}

	dialer, err := b.selector.Dialer(store.Get().Bus)
	if err != nil {
		return nil, err
	}
	conn, err = dialer.Dial(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Bot", "rosterConn", "dial bus")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = conn.Close()
		return b.conn, nil
	}
	b.conn = conn
	return conn, nil
}

func (b *Bot) dropRosterConn(conn bus.Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	_ = conn.Close()
}

// clearRoster deletes the roster key and releases the connection.
func (b *Bot) clearRoster(ctx context.Context) {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Delete(ctx, RosterKey); err != nil {
		b.logger.Warn("failed to clear roster", "key", RosterKey, "error", err)
	}
	if err := conn.Close(); err != nil {
		b.logger.Debug("close bus connection", "error", err)
	}
}

// Package drivers turns a REDIS configuration block into a bus.Dialer.
package drivers

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/yejue/liteboty/bus"
	"github.com/yejue/liteboty/bus/membus"
	"github.com/yejue/liteboty/bus/redisbus"
	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/errors"
	"github.com/yejue/liteboty/natsclient"
)

// DefaultNATSPort is used when a nats block gives a host but no url.
const DefaultNATSPort = 4222

// Selector builds dialers for bus configurations. Every "memory" dialer it
// returns shares one in-process broker, so services of the same process can
// talk to each other.
type Selector struct {
	logger *slog.Logger

	mu     sync.Mutex
	memory *membus.Broker
}

// NewSelector creates a Selector.
func NewSelector(logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{logger: logger}
}

// Memory returns the shared in-process broker, creating it on first use.
func (s *Selector) Memory() *membus.Broker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory == nil {
		s.memory = membus.NewBroker()
	}
	return s.memory
}

// Dialer returns the dialer for cfg.Driver. An empty driver means redis.
func (s *Selector) Dialer(cfg config.BusConfig) (bus.Dialer, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", config.DriverRedis:
		return redisbus.NewDialer(redisbus.Config{
			Host:           cfg.Host,
			Port:           cfg.Port,
			Password:       cfg.Password,
			DB:             cfg.DB,
			SocketTimeout:  cfg.SocketTimeoutDuration(),
			ConnectTimeout: cfg.ConnectTimeoutDuration(),
		}, s.logger), nil
	case config.DriverNATS:
		opts := []natsclient.ClientOption{
			natsclient.WithName("liteboty"),
			natsclient.WithTimeout(cfg.ConnectTimeoutDuration()),
			natsclient.WithDrainTimeout(cfg.SocketTimeoutDuration()),
		}
		if cfg.Password != "" {
			opts = append(opts, natsclient.WithToken(cfg.Password))
		}
		return natsclient.NewDialer(NATSURL(cfg), natsclient.DefaultBucket,
			s.logger.With("component", "natsbus"), opts...), nil
	case config.DriverMemory:
		return s.Memory(), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown bus driver %q", errors.ErrInvalidConfig, cfg.Driver),
			"Selector", "Dialer", "select bus driver")
	}
}

// ForServices returns a per-service dialer lookup for service.Dependencies.
// A service config with its own REDIS block gets a dialer for the global
// block overlaid with it; other services get the global dialer. The current
// snapshot is read from store on every call so reloads are honoured.
func (s *Selector) ForServices(store *config.Store) func(cfg map[string]any) (bus.Dialer, error) {
	return func(cfg map[string]any) (bus.Dialer, error) {
		current := store.Get()
		if _, ok := config.GetMap(cfg, "REDIS"); !ok {
			return s.Dialer(current.Bus)
		}
		return s.Dialer(current.BusFor(cfg))
	}
}

// NATSURL returns cfg.URL, or nats://host:port built from the block.
func NATSURL(cfg config.BusConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 || port == 6379 {
		port = DefaultNATSPort
	}
	return fmt.Sprintf("nats://%s:%d", host, port)
}

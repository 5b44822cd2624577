package config

import (
	"reflect"
	"sort"
	"time"

	"github.com/bytedance/sonic"
)

// Schema versions
const (
	VersionV1 = "1.0"
	VersionV2 = "2.0"
)

// DefaultPriority applies to services that do not declare one. Lower starts first.
const DefaultPriority = 100

// Bus drivers
const (
	DriverRedis  = "redis"
	DriverNATS   = "nats"
	DriverMemory = "memory"
)

// Isolation modes
const (
	IsolationInline  = ""
	IsolationProcess = "process"
)

// BusConfig is the REDIS block: where the pub/sub + key-value broker lives.
type BusConfig struct {
	Driver               string  `json:"driver,omitempty"`
	Host                 string  `json:"host"`
	Port                 int     `json:"port"`
	Password             string  `json:"password,omitempty"`
	DB                   int     `json:"db"`
	SocketTimeout        float64 `json:"socket_timeout,omitempty"`         // seconds
	SocketConnectTimeout float64 `json:"socket_connect_timeout,omitempty"` // seconds
	DecodeResponses      bool    `json:"decode_responses,omitempty"`
	URL                  string  `json:"url,omitempty"` // NATS server URL
}

// SocketTimeoutDuration converts socket_timeout to a duration.
func (b BusConfig) SocketTimeoutDuration() time.Duration {
	return seconds(b.SocketTimeout)
}

// ConnectTimeoutDuration converts socket_connect_timeout to a duration.
func (b BusConfig) ConnectTimeoutDuration() time.Duration {
	return seconds(b.SocketConnectTimeout)
}

// LoggingConfig is the LOGGING block.
type LoggingConfig struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	LogDir      string `json:"log_dir,omitempty"`
	MaxBytes    int64  `json:"max_bytes,omitempty"`
	BackupCount int    `json:"backup_count,omitempty"`
}

// MetricsConfig is the optional METRICS block.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// BotConfig is the optional BOT block tuning the supervisor. Values are seconds.
type BotConfig struct {
	RosterInterval float64 `json:"roster_interval,omitempty"`
	ReloadDebounce float64 `json:"reload_debounce,omitempty"`
	StopTimeout    float64 `json:"stop_timeout,omitempty"`
}

// RosterIntervalDuration defaults to 15s.
func (b BotConfig) RosterIntervalDuration() time.Duration {
	return secondsOr(b.RosterInterval, 15*time.Second)
}

// ReloadDebounceDuration defaults to 1s.
func (b BotConfig) ReloadDebounceDuration() time.Duration {
	return secondsOr(b.ReloadDebounce, time.Second)
}

// StopTimeoutDuration bounds a single service stop during shutdown. Defaults to 10s.
func (b BotConfig) StopTimeoutDuration() time.Duration {
	return secondsOr(b.StopTimeout, 10*time.Second)
}

// ServiceDescriptor identifies one service in a configuration snapshot.
type ServiceDescriptor struct {
	Path      string         `json:"path"`
	Name      string         `json:"name"`
	Entry     string         `json:"service_entry,omitempty"`
	Enabled   bool           `json:"enabled"`
	Priority  int            `json:"priority"`
	Config    map[string]any `json:"config"`
	Isolation string         `json:"isolation,omitempty"`
}

// Key returns the factory lookup key: the explicit entry, else the path
// without leading dots.
func (d ServiceDescriptor) Key() string {
	if d.Entry != "" {
		return d.Entry
	}
	return trimPath(d.Path)
}

// Configuration is a normalized, immutable configuration snapshot. Reloads
// build a new Configuration; an existing one is never modified.
type Configuration struct {
	Version           string
	Bus               BusConfig
	Logging           LoggingConfig
	Metrics           MetricsConfig
	Bot               BotConfig
	Services          []ServiceDescriptor
	ServicePriorities map[string]int

	raw map[string]any
}

// EnabledServices returns enabled descriptors ordered by ascending priority,
// ties broken by name.
func (c *Configuration) EnabledServices() []ServiceDescriptor {
	out := make([]ServiceDescriptor, 0, len(c.Services))
	for _, d := range c.Services {
		if d.Enabled {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// EnabledNames returns the names of EnabledServices in start order.
func (c *Configuration) EnabledNames() []string {
	enabled := c.EnabledServices()
	names := make([]string, len(enabled))
	for i, d := range enabled {
		names[i] = d.Name
	}
	return names
}

// Service looks a descriptor up by name.
func (c *Configuration) Service(name string) (ServiceDescriptor, bool) {
	for _, d := range c.Services {
		if d.Name == name {
			return d, true
		}
	}
	return ServiceDescriptor{}, false
}

// ServiceConfig returns a private copy of the named service's config.
func (c *Configuration) ServiceConfig(name string) map[string]any {
	d, ok := c.Service(name)
	if !ok {
		return map[string]any{}
	}
	if d.Config == nil {
		return map[string]any{}
	}
	return CloneMap(d.Config)
}

// Global returns a private copy of the whole document, as services see it.
func (c *Configuration) Global() map[string]any {
	if c.raw == nil {
		return map[string]any{}
	}
	return CloneMap(c.raw)
}

// BusFor returns the bus settings for a service: the global REDIS block
// overlaid with the service config's own REDIS block, if any.
func (c *Configuration) BusFor(cfg map[string]any) BusConfig {
	bus := c.Bus
	override, ok := GetMap(cfg, "REDIS")
	if !ok {
		return bus
	}
	data, err := sonic.Marshal(override)
	if err != nil {
		return bus
	}
	if err := sonic.Unmarshal(data, &bus); err != nil {
		return c.Bus
	}
	return bus
}

// ConfigEqual reports whether two service configs are equal.
func ConfigEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

func secondsOr(v float64, def time.Duration) time.Duration {
	if d := seconds(v); d > 0 {
		return d
	}
	return def
}

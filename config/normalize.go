package config

import (
	"fmt"
	"strings"

	"github.com/yejue/liteboty/errors"
)

// document is the on-disk shape shared by both schema versions.
type document struct {
	Version           string                    `json:"version"`
	Bus               *BusConfig                `json:"REDIS"`
	Logging           *LoggingConfig            `json:"LOGGING"`
	Metrics           MetricsConfig             `json:"METRICS"`
	Bot               BotConfig                 `json:"BOT"`
	Services          any                       `json:"SERVICES"`
	ServiceConfig     map[string]map[string]any `json:"SERVICE_CONFIG"`
	ServicePriorities map[string]int            `json:"SERVICE_PRIORITIES"`
}

func defaultBus() BusConfig {
	return BusConfig{Driver: DriverRedis, Host: "localhost", Port: 6379}
}

func defaultLogging() LoggingConfig {
	return LoggingConfig{Level: "INFO", Format: "text"}
}

// ServiceName derives a service name from its load path: leading dots are
// stripped and the trailing segment ('.' or '/' separated) is used, unless an
// explicit entry is given.
func ServiceName(path, entry string) string {
	if entry != "" {
		return entry
	}
	p := trimPath(path)
	if i := strings.LastIndexAny(p, "./"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func trimPath(path string) string {
	return strings.TrimLeft(strings.TrimSpace(path), "./")
}

// normalize converts a decoded document into a Configuration.
func normalize(doc document, raw map[string]any) (*Configuration, error) {
	cfg := &Configuration{
		Version:           doc.Version,
		Bus:               defaultBus(),
		Logging:           defaultLogging(),
		Metrics:           doc.Metrics,
		Bot:               doc.Bot,
		ServicePriorities: make(map[string]int),
		raw:               raw,
	}
	if doc.Bus != nil {
		cfg.Bus = *doc.Bus
		applyBusDefaults(&cfg.Bus)
	}
	if doc.Logging != nil {
		cfg.Logging = *doc.Logging
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "INFO"
		}
	}

	version, err := resolveVersion(doc.Version, doc.Services)
	if err != nil {
		return nil, err
	}
	cfg.Version = version

	switch version {
	case VersionV1:
		cfg.Services, err = normalizeV1(doc)
	default:
		cfg.Services, err = normalizeV2(doc)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(cfg.Services))
	for _, d := range cfg.Services {
		if prev, ok := seen[d.Name]; ok {
			return nil, fmt.Errorf("%w: service name %q used by %q and %q",
				errors.ErrInvalidConfig, d.Name, prev, d.Path)
		}
		seen[d.Name] = d.Path
		cfg.ServicePriorities[d.Path] = d.Priority
	}
	return cfg, nil
}

func applyBusDefaults(b *BusConfig) {
	if b.Driver == "" {
		b.Driver = DriverRedis
	}
	if b.Host == "" {
		b.Host = "localhost"
	}
	if b.Port == 0 {
		b.Port = 6379
	}
}

// resolveVersion uses the declared version, or infers it from the SERVICES shape.
func resolveVersion(declared string, services any) (string, error) {
	_, isList := services.([]any)
	_, isMap := services.(map[string]any)

	switch declared {
	case "":
		if isMap {
			return VersionV2, nil
		}
		return VersionV1, nil
	case VersionV1:
		if isMap {
			return "", fmt.Errorf("%w: version 1.0 expects SERVICES to be a list", errors.ErrInvalidConfig)
		}
		return VersionV1, nil
	case VersionV2:
		if isList {
			return "", fmt.Errorf("%w: version 2.0 expects SERVICES to be an object", errors.ErrInvalidConfig)
		}
		return VersionV2, nil
	default:
		return "", fmt.Errorf("%w: unsupported version %q", errors.ErrInvalidConfig, declared)
	}
}

// normalizeV1: SERVICES is a list of paths, SERVICE_CONFIG is keyed by short name.
func normalizeV1(doc document) ([]ServiceDescriptor, error) {
	list, _ := doc.Services.([]any)
	out := make([]ServiceDescriptor, 0, len(list))
	for _, item := range list {
		path, ok := item.(string)
		if !ok || trimPath(path) == "" {
			return nil, fmt.Errorf("%w: SERVICES entries must be non-empty strings, got %v", errors.ErrInvalidConfig, item)
		}
		name := ServiceName(path, "")

		priority := DefaultPriority
		if p, ok := doc.ServicePriorities[path]; ok {
			priority = p
		}

		cfg := doc.ServiceConfig[name]
		if cfg == nil {
			cfg = map[string]any{}
		}

		out = append(out, ServiceDescriptor{
			Path:     path,
			Name:     name,
			Enabled:  true,
			Priority: priority,
			Config:   cfg,
		})
	}
	return out, nil
}

// normalizeV2: SERVICES maps path to {enabled, priority, config, isolation, service_entry}.
func normalizeV2(doc document) ([]ServiceDescriptor, error) {
	entries, _ := doc.Services.(map[string]any)
	out := make([]ServiceDescriptor, 0, len(entries))
	for path, v := range entries {
		if trimPath(path) == "" {
			return nil, fmt.Errorf("%w: empty service path", errors.ErrInvalidConfig)
		}
		entry, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: service %q must be an object", errors.ErrInvalidConfig, path)
		}

		svcCfg, _ := GetMap(entry, "config")
		if svcCfg == nil {
			svcCfg = map[string]any{}
		}
		explicit := GetString(entry, "service_entry", "")
		isolation := GetString(entry, "isolation", IsolationInline)
		if isolation == "inline" {
			isolation = IsolationInline
		}

		out = append(out, ServiceDescriptor{
			Path:      path,
			Name:      ServiceName(path, explicit),
			Entry:     explicit,
			Enabled:   GetBool(entry, "enabled", true),
			Priority:  GetInt(entry, "priority", DefaultPriority),
			Config:    svcCfg,
			Isolation: isolation,
		})
	}
	return out, nil
}

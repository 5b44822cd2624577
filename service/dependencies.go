package service

import (
	"log/slog"

	"github.com/yejue/liteboty/bus"
	"github.com/yejue/liteboty/metric"
)

// Dependencies are handed to every service constructor. Factories.Build
// gives each service its own copy with Name set and a service-scoped logger.
type Dependencies struct {
	Name   string
	Logger *slog.Logger

	// Dialer opens the bus connection a service owns.
	Dialer bus.Dialer
	// DialerFor, when set, picks the dialer for a service from its own
	// config, so a service-level REDIS block can override the global one.
	DialerFor func(cfg map[string]any) (bus.Dialer, error)

	Metrics *metric.Metrics
	// MetricsRegistrar, when set, takes service-specific collectors.
	MetricsRegistrar metric.MetricsRegistrar

	// ProcessOptions apply to every ProcessProxy built with these dependencies.
	ProcessOptions []ProcessOption
}

// ForService returns a copy of d scoped to one service.
func (d *Dependencies) ForService(name string) *Dependencies {
	out := Dependencies{}
	if d != nil {
		out = *d
	}
	out.Name = name
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	out.Logger = out.Logger.With("service", name)
	return &out
}

func (d *Dependencies) dialer(cfg map[string]any) (bus.Dialer, error) {
	if d.DialerFor != nil {
		return d.DialerFor(cfg)
	}
	return d.Dialer, nil
}

func (d *Dependencies) processOptions() []ProcessOption {
	if d == nil {
		return nil
	}
	return d.ProcessOptions
}

// Constructor builds a service from its config and the whole configuration document.
type Constructor func(cfg, global map[string]any, deps *Dependencies) (Handle, error)

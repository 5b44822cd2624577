package service

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a service
type Status int

// Possible service statuses
const (
	StatusLoaded Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusStopped
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Info is a point-in-time view of a service, as published in the roster.
type Info struct {
	Name       string
	Status     Status
	StartTime  time.Time
	Uptime     time.Duration
	LastUpdate time.Time
}

// Handle is the contract the Registry manages. In-process services (Base)
// and process-isolated services (ProcessProxy) both satisfy it.
type Handle interface {
	Name() string
	// Start is a no-op on a running service.
	Start(ctx context.Context) error
	// Stop is a no-op on a service that is not running.
	Stop(ctx context.Context) error
	// Configure replaces the service's config. It takes effect on the next Start.
	Configure(cfg, global map[string]any)
	Info() Info
}

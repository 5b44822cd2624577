package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yejue/liteboty/errors"
	"github.com/yejue/liteboty/metric"
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStopTimeout bounds each individual service stop. Zero means no bound
// beyond the caller's context.
func WithStopTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.stopTimeout = d
	}
}

// WithRegistryMetrics records the registry size and drops per-service series
// of removed services.
func WithRegistryMetrics(m *metric.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry holds the live service instances by name. It is owned by the
// supervisor; services never touch it.
type Registry struct {
	logger      *slog.Logger
	metrics     *metric.Metrics
	stopTimeout time.Duration

	mu       sync.RWMutex
	services map[string]Handle
	order    []string // registration order
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:   logger.With("component", "registry"),
		services: make(map[string]Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds h. A name already present is a ServiceError wrapping ErrServiceExists.
func (r *Registry) Register(h Handle) error {
	if h == nil {
		return fmt.Errorf("service cannot be nil")
	}
	name := h.Name()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return errors.NewServiceError(name, "register", errors.ErrServiceExists)
	}
	r.services[name] = h
	r.order = append(r.order, name)
	r.metrics.RecordRegisteredServices(len(r.services))
	return nil
}

// Remove drops name without stopping it. It reports whether it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name)
}

func (r *Registry) removeLocked(name string) bool {
	if _, exists := r.services[name]; !exists {
		return false
	}
	delete(r.services, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.metrics.RecordRegisteredServices(len(r.services))
	r.metrics.ForgetService(name)
	return true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// Get returns the named service.
func (r *Registry) Get(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.services[name]
	return h, ok
}

// GetAll returns every service in registration order.
func (r *Registry) GetAll() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.services[name])
	}
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// StartAll starts every service in registration order. The first failure is
// logged and returned as a *errors.ServiceError naming the service; services
// already started stay running.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, h := range r.GetAll() {
		if err := h.Start(ctx); err != nil {
			r.logger.Error("failed to start service", "service", h.Name(), "error", err)
			var svcErr *errors.ServiceError
			if !errors.As(err, &svcErr) {
				err = errors.NewServiceError(h.Name(), "start", err)
			}
			return err
		}
		r.logger.Info("service running", "service", h.Name())
	}
	return nil
}

// StopAll stops every service in reverse registration order and removes it.
// Each stop is independent: failures are logged, the remaining services are
// still stopped, and all failures are returned joined.
func (r *Registry) StopAll(ctx context.Context) error {
	services := r.GetAll()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		h := services[i]
		if err := r.stopOne(ctx, h); err != nil {
			r.logger.Error("failed to stop service", "service", h.Name(), "error", err)
			errs = append(errs, err)
		}
		r.Remove(h.Name())
	}
	return errors.Join(errs...)
}

// StopService stops and removes name. It is a no-op when name is absent.
func (r *Registry) StopService(ctx context.Context, name string) error {
	h, ok := r.Get(name)
	if !ok {
		return nil
	}
	err := r.stopOne(ctx, h)
	r.Remove(name)
	if err != nil {
		r.logger.Error("failed to stop service", "service", name, "error", err)
		return err
	}
	r.logger.Info("service stopped and removed", "service", name)
	return nil
}

// RestartService stops name, applies the new config and starts it again.
func (r *Registry) RestartService(ctx context.Context, name string, cfg, global map[string]any) error {
	h, ok := r.Get(name)
	if !ok {
		return errors.NewServiceError(name, "restart", errors.ErrServiceNotFound)
	}
	if err := r.stopOne(ctx, h); err != nil {
		r.logger.Error("failed to stop service for restart", "service", name, "error", err)
		return err
	}
	h.Configure(cfg, global)
	if err := h.Start(ctx); err != nil {
		r.logger.Error("failed to restart service", "service", name, "error", err)
		return err
	}
	r.logger.Info("service restarted", "service", name)
	return nil
}

func (r *Registry) stopOne(ctx context.Context, h Handle) error {
	if r.stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.stopTimeout)
		defer cancel()
	}
	return h.Stop(ctx)
}

package bot

import (
	"context"

	"vawter.tech/stopper"

	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/errors"
)

// Plan is the set of actions that moves the running services from one
// configuration snapshot to the next.
type Plan struct {
	// Stop holds services enabled before and not after, in old start order.
	Stop []string
	// Start holds newly enabled services in ascending priority.
	Start []config.ServiceDescriptor
	// Restart holds services enabled in both whose config differs.
	Restart []string
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return len(p.Stop) == 0 && len(p.Start) == 0 && len(p.Restart) == 0
}

// Diff compares two snapshots. Only enablement and per-service config are
// compared; a change of priority alone or of the global blocks does not
// restart anything.
func Diff(old, next *config.Configuration) Plan {
	oldEnabled := make(map[string]bool)
	for _, name := range old.EnabledNames() {
		oldEnabled[name] = true
	}

	var plan Plan
	newEnabled := make(map[string]bool)
	for _, d := range next.EnabledServices() {
		newEnabled[d.Name] = true
		if !oldEnabled[d.Name] {
			plan.Start = append(plan.Start, d)
			continue
		}
		if !config.ConfigEqual(old.ServiceConfig(d.Name), next.ServiceConfig(d.Name)) {
			plan.Restart = append(plan.Restart, d.Name)
		}
	}
	for _, name := range old.EnabledNames() {
		if !newEnabled[name] {
			plan.Stop = append(plan.Stop, name)
		}
	}
	return plan
}

// withMissing moves every service that is enabled in next but absent from
// the registry into Start, keeping priority order. Such a service failed to
// load or start earlier; it is built afresh rather than restarted.
func (p Plan) withMissing(next *config.Configuration, registered func(string) bool) Plan {
	starting := make(map[string]bool, len(p.Start))
	for _, d := range p.Start {
		starting[d.Name] = true
	}

	var start []config.ServiceDescriptor
	missing := make(map[string]bool)
	for _, d := range next.EnabledServices() {
		switch {
		case starting[d.Name]:
			start = append(start, d)
		case !registered(d.Name):
			missing[d.Name] = true
			start = append(start, d)
		}
	}
	if len(missing) == 0 {
		return p
	}

	restart := make([]string, 0, len(p.Restart))
	for _, name := range p.Restart {
		if !missing[name] {
			restart = append(restart, name)
		}
	}
	p.Start, p.Restart = start, restart
	return p
}

// Reload loads the configuration file again and applies the difference:
// stops first, then starts in priority order, then restarts. A failed action
// is logged and the rest still run. Only a load failure is returned; the
// running services and the held configuration are then left untouched.
// Reloads never overlap.
func (b *Bot) Reload(ctx context.Context) error {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()

	if s := b.State(); s != StateRunning {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Bot", "Reload", "check state: "+s.String())
	}

	next, err := config.Load(ctx, b.path, b.loadOpts...)
	if err != nil {
		b.logger.Error("reload failed, keeping current configuration", "error", err)
		b.metrics.RecordReload(err)
		b.setReloadErr(err)
		return err
	}

	b.mu.Lock()
	store, registry := b.store, b.registry
	b.mu.Unlock()

	// Swap before starting so new services dial the new bus settings.
	old := store.Swap(next)
	plan := Diff(old, next).withMissing(next, registry.Has)
	if plan.Empty() {
		b.logger.Info("configuration reloaded, no service changes")
		b.metrics.RecordReload(nil)
		b.setReloadErr(nil)
		return nil
	}
	b.logger.Info("applying configuration changes",
		"stop", plan.Stop, "start", startNames(plan.Start), "restart", plan.Restart)

	for _, name := range plan.Stop {
		if err := registry.StopService(ctx, name); err != nil {
			b.logger.Error("reload: failed to stop service", "service", name, "error", err)
		}
	}

	global := next.Global()
	for _, d := range plan.Start {
		h, err := b.loadService(d, global)
		if err != nil {
			b.logger.Error("reload: failed to load service", "service", d.Name, "error", err)
			continue
		}
		if err := h.Start(ctx); err != nil {
			b.logger.Error("reload: failed to start service", "service", d.Name, "error", err)
			registry.Remove(d.Name)
			continue
		}
		b.logger.Info("service started", "service", d.Name)
	}

	for _, name := range plan.Restart {
		if err := registry.RestartService(ctx, name, next.ServiceConfig(name), global); err != nil {
			b.logger.Error("reload: failed to restart service", "service", name, "error", err)
		}
	}

	b.metrics.RecordReload(nil)
	b.setReloadErr(nil)
	return nil
}

func (b *Bot) setReloadErr(err error) {
	b.mu.Lock()
	b.reloadErr = err
	b.mu.Unlock()
}

func (b *Bot) reloadLoop(sctx *stopper.Context, ctx context.Context, w *config.Watcher) error {
	for {
		select {
		case <-sctx.Stopping():
			return nil
		case <-w.Changes():
			b.logger.Info("configuration file changed")
			_ = b.Reload(ctx)
		}
	}
}

func startNames(ds []config.ServiceDescriptor) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return names
}

package bot

import (
	"github.com/yejue/liteboty/health"
)

// Health reports the supervisor and every registered service. A failed
// reload shows as a degraded "config" entry; the services keep running on
// the previous configuration until a reload succeeds.
func (b *Bot) Health() health.Status {
	b.mu.Lock()
	state, registry, reloadErr := b.state, b.registry, b.reloadErr
	b.mu.Unlock()

	if state != StateRunning {
		return health.NewUnhealthy("liteboty", "supervisor "+state.String())
	}

	var subs []health.Status
	for _, h := range registry.GetAll() {
		subs = append(subs, health.FromServiceInfo(h.Info()))
	}
	if reloadErr != nil {
		cfg := health.NewDegraded("config", "reload failed: "+health.Sanitize(reloadErr.Error()))
		subs = append(subs, cfg)
	}

	return health.Aggregate("liteboty", subs)
}

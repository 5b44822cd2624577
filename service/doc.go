// Package service provides the liteboty service model: the Base every
// in-process service embeds, the Registry of live instances, the factory
// table that turns configuration descriptors into services, and the
// ProcessProxy that runs a service in its own OS process.
//
// A service is a Runner plus whatever timers and subscriptions it registers:
//
//	func New(cfg, global map[string]any, deps *service.Dependencies) (service.Handle, error) {
//	    s := &Camera{}
//	    s.Base = service.NewBase(cfg, global, deps, service.WithRunner(s.run))
//	    return s, nil
//	}
//
//	func (s *Camera) run(ctx context.Context) error {
//	    return s.AddTimer("capture", time.Second/15, s.capture, timer.Infinite)
//	}
//
// Start opens the service's own bus connection, calls the Runner, subscribes
// every registered channel in one batch and launches a task per timer plus a
// single receive loop, so deliveries on one service are sequential. Stop
// cancels those tasks, waits for them, runs the cleanup hook and releases the
// connection.
//
// When the bus connection fails, the receive loop and Publish reconnect with
// exponential backoff (ReconnectPolicy) and re-issue every subscription on
// the new connection.
//
// The Registry owns instances by name. StartAll stops at the first failure;
// StopAll stops everything in reverse order and reports all failures.
package service

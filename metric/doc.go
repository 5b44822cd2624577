// Package metric provides the Prometheus registry, the liteboty runtime
// metrics and a small HTTP server exposing them.
//
// Core metrics cover service status, published and received messages,
// callback failures and latency, timer ticks, bus reconnects, and supervisor
// reloads and roster writes. Services that want their own series register
// collectors through MetricsRegistrar.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(":9090", "/metrics", registry, metric.WithHealth(report))
//	errCh, err := server.Start()
//
// Every Record method tolerates a nil *Metrics, so code paths that run
// without metrics enabled need no guards.
package metric

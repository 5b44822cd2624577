package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "liteboty"

// Metrics contains the runtime metrics shared by the supervisor and every
// service. All Record methods are safe on a nil receiver so components can
// run without a registry.
type Metrics struct {
	// Service metrics
	ServiceStatus      *prometheus.GaugeVec
	MessagesReceived   *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	CallbackErrors     *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	TimerTicks         *prometheus.CounterVec
	Reconnects         *prometheus.CounterVec

	// Supervisor metrics
	RegisteredServices prometheus.Gauge
	Reloads            *prometheus.CounterVec
	RosterPublishes    *prometheus.CounterVec
}

// NewMetrics creates the runtime metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=loaded, 1=starting, 2=running, 3=stopping, 4=stopped)",
			},
			[]string{"service"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of bus messages delivered to a service",
			},
			[]string{"service", "channel"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Total number of messages published by a service",
			},
			[]string{"service", "channel"},
		),

		CallbackErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "callback_errors_total",
				Help:      "Callback failures, by source (subscription or timer)",
			},
			[]string{"service", "source"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "callback_duration_seconds",
				Help:      "Callback execution time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "source"},
		),

		TimerTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "timer",
				Name:      "ticks_total",
				Help:      "Total number of timer callback invocations",
			},
			[]string{"service", "timer"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "reconnects_total",
				Help:      "Bus reconnection attempts, by result",
			},
			[]string{"service", "result"},
		),

		RegisteredServices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bot",
				Name:      "registered_services",
				Help:      "Number of services held by the registry",
			},
		),

		Reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bot",
				Name:      "reloads_total",
				Help:      "Configuration reloads, by result",
			},
			[]string{"result"},
		),

		RosterPublishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bot",
				Name:      "roster_publishes_total",
				Help:      "Liveness roster writes, by result",
			},
			[]string{"result"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.MessagesReceived,
		c.MessagesPublished,
		c.CallbackErrors,
		c.ProcessingDuration,
		c.TimerTicks,
		c.Reconnects,
		c.RegisteredServices,
		c.Reloads,
		c.RosterPublishes,
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	if c == nil {
		return
	}
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// ForgetService drops the per-service status series once a service leaves the registry.
func (c *Metrics) ForgetService(service string) {
	if c == nil {
		return
	}
	c.ServiceStatus.DeleteLabelValues(service)
}

// RecordMessageReceived increments received message counter
func (c *Metrics) RecordMessageReceived(service, channel string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(service, channel).Inc()
}

// RecordMessagePublished increments published message counter
func (c *Metrics) RecordMessagePublished(service, channel string) {
	if c == nil {
		return
	}
	c.MessagesPublished.WithLabelValues(service, channel).Inc()
}

// RecordCallback observes one callback run and counts it as failed when err is set.
func (c *Metrics) RecordCallback(service, source string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.ProcessingDuration.WithLabelValues(service, source).Observe(duration.Seconds())
	if err != nil {
		c.CallbackErrors.WithLabelValues(service, source).Inc()
	}
}

// RecordTimerTick increments the tick counter of a timer.
func (c *Metrics) RecordTimerTick(service, timer string) {
	if c == nil {
		return
	}
	c.TimerTicks.WithLabelValues(service, timer).Inc()
}

// RecordReconnect counts one reconnection attempt.
func (c *Metrics) RecordReconnect(service string, err error) {
	if c == nil {
		return
	}
	c.Reconnects.WithLabelValues(service, result(err)).Inc()
}

// RecordRegisteredServices sets the registry size.
func (c *Metrics) RecordRegisteredServices(n int) {
	if c == nil {
		return
	}
	c.RegisteredServices.Set(float64(n))
}

// RecordReload counts one configuration reload.
func (c *Metrics) RecordReload(err error) {
	if c == nil {
		return
	}
	c.Reloads.WithLabelValues(result(err)).Inc()
}

// RecordRosterPublish counts one roster write.
func (c *Metrics) RecordRosterPublish(err error) {
	if c == nil {
		return
	}
	c.RosterPublishes.WithLabelValues(result(err)).Inc()
}

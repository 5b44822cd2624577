// Package echo republishes every message received on one channel to another.
package echo

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/message"
	"github.com/yejue/liteboty/metric"
	"github.com/yejue/liteboty/service"
)

// Key is the factory key the service registers under.
const Key = "services.echo.EchoService"

// Default channels.
const (
	DefaultInput  = "echo.in"
	DefaultOutput = "echo.out"
)

// AttrEchoedBy is added to the metadata of every echoed message.
const AttrEchoedBy = "echoed_by"

const metricName = "echoed_total"

// Service subscribes to input_channel and republishes to output_channel.
type Service struct {
	*service.Base
	registrar metric.MetricsRegistrar
	echoed    atomic.Int64
}

// New is the service.Constructor for echo.
func New(cfg, global map[string]any, deps *service.Dependencies) (service.Handle, error) {
	s := &Service{}
	if deps != nil {
		s.registrar = deps.MetricsRegistrar
	}
	s.Base = service.NewBase(cfg, global, deps,
		service.WithRunner(s.run),
		service.WithCleanup(s.cleanup))
	return s, nil
}

// Echoed returns how many messages were republished since construction.
func (s *Service) Echoed() int64 {
	return s.echoed.Load()
}

func (s *Service) run(ctx context.Context) error {
	cfg := s.Config()
	in := config.GetString(cfg, "input_channel", DefaultInput)
	out := config.GetString(cfg, "output_channel", DefaultOutput)

	s.registerMetric()
	s.Logger().Info("echoing", "input_channel", in, "output_channel", out)
	return s.AddSubscription(ctx, in, service.Decoded(func(ctx context.Context, msg *message.Message) error {
		md := msg.Metadata.Clone()
		if md.Attributes == nil {
			md.Attributes = map[string]string{}
		}
		md.Attributes[AttrEchoedBy] = s.Name()

		if err := s.Publish(ctx, out, msg.Data, msg.Type, &md); err != nil {
			return err
		}
		s.echoed.Add(1)
		return nil
	}))
}

func (s *Service) registerMetric() {
	if s.registrar == nil {
		return
	}
	counter := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "liteboty",
		Subsystem:   "echo",
		Name:        "messages_total",
		Help:        "Messages republished by the echo service",
		ConstLabels: prometheus.Labels{"service": s.Name()},
	}, func() float64 { return float64(s.echoed.Load()) })
	if err := s.registrar.Register(s.Name(), metricName, counter); err != nil {
		s.Logger().Warn("echo metric not registered", "error", err)
	}
}

func (s *Service) cleanup(context.Context) error {
	if s.registrar != nil {
		s.registrar.Unregister(s.Name(), metricName)
	}
	s.Logger().Info("echo stopped", "echoed", s.echoed.Load())
	return nil
}

// Package hello is the starter service: once started it logs a welcome text
// and, when a channel is configured, publishes it as a JSON message.
package hello

import (
	"context"

	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/message"
	"github.com/yejue/liteboty/service"
)

// Key is the factory key the service registers under.
const Key = "services.hello.HelloService"

// DefaultText is logged when welcome_text is not configured.
const DefaultText = "hello..."

// Greeting is the JSON payload published on the configured channel.
type Greeting struct {
	Service string `json:"service"`
	Text    string `json:"text"`
}

// Service greets once per start.
type Service struct {
	*service.Base
}

// New is the service.Constructor for hello.
//
// Config keys: welcome_text (string), channel (string, optional).
func New(cfg, global map[string]any, deps *service.Dependencies) (service.Handle, error) {
	s := &Service{}
	s.Base = service.NewBase(cfg, global, deps, service.WithRunner(s.run))
	return s, nil
}

func (s *Service) run(_ context.Context) error {
	cfg := s.Config()
	text := config.GetString(cfg, "welcome_text", DefaultText)
	channel := config.GetString(cfg, "channel", "")

	return s.AddTimer("greet", 0, func(ctx context.Context) error {
		s.Logger().Info(text)
		if channel == "" {
			return nil
		}
		return s.Publish(ctx, channel, Greeting{Service: s.Name(), Text: text}, message.TypeJSON, nil)
	}, 1)
}

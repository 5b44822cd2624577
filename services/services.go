// Package services bundles the built-in services.
package services

import (
	"fmt"

	"github.com/yejue/liteboty/service"
	"github.com/yejue/liteboty/services/echo"
	"github.com/yejue/liteboty/services/hello"
)

// RegisterAll registers every built-in service under its dotted path and
// its short name.
func RegisterAll(factories *service.Factories) error {
	constructors := map[string]service.Constructor{
		hello.Key:      hello.New,
		"HelloService": hello.New,
		echo.Key:       echo.New,
		"EchoService":  echo.New,
	}

	for key, constructor := range constructors {
		if err := factories.Register(key, constructor); err != nil {
			return fmt.Errorf("register %s: %w", key, err)
		}
	}
	return nil
}

package errors

import "fmt"

// ConfigError reports a configuration document that could not be read,
// parsed or normalised. It is returned once retries are exhausted.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError. A nil err yields ErrInvalidConfig.
func NewConfigError(path string, err error) *ConfigError {
	if err == nil {
		err = ErrInvalidConfig
	}
	return &ConfigError{Path: path, Err: err}
}

// ServiceError reports a lifecycle or registration failure of a named service.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %q %s: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NewServiceError builds a ServiceError.
func NewServiceError(service, op string, err error) *ServiceError {
	return &ServiceError{Service: service, Op: op, Err: err}
}

// CodecError reports a message that could not be encoded or decoded.
type CodecError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// SupervisorError wraps an unrecovered failure of the supervisor run loop.
// It is always fatal.
type SupervisorError struct {
	Err error
}

func (e *SupervisorError) Error() string {
	return fmt.Sprintf("supervisor: %v", e.Err)
}

func (e *SupervisorError) Unwrap() error { return e.Err }

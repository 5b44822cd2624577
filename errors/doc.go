// Package errors provides standardized error handling for liteboty components.
//
// # Error Classification
//
// Errors fall into three classes:
//
//   - Transient: connection loss, timeouts, broker unavailability (retry)
//   - Invalid: malformed messages, bad configuration documents (do not retry)
//   - Fatal: configuration that cannot be loaded at startup, supervisor failure
//
// Classification works through errors.Is and errors.As chains, so a wrapped
// ErrConnectionLost is still transient.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
//	errors.WrapTransient(err, "RedisBus", "Publish", "publish")
//	errors.WrapInvalid(err, "Codec", "Decode", "read header")
//	errors.WrapFatal(err, "Bot", "Run", "load configuration")
//
// # Typed Errors
//
// Callers that need structured context use the typed errors:
//
//   - ConfigError: configuration unreadable or malformed after retries
//   - ServiceError: duplicate registration, missing entry point, unknown service,
//     publish without a subscriber
//   - CodecError: a wire message that cannot be encoded or decoded
//   - SupervisorError: unrecovered failure of the supervisor loop
//
// Example:
//
//	var svcErr *errors.ServiceError
//	if errors.As(err, &svcErr) && errors.Is(err, errors.ErrServiceExists) {
//	    logger.Warn("duplicate service", "service", svcErr.Service)
//	}
package errors

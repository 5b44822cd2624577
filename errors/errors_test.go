package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if result := test.class.String(); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"circuit open", ErrCircuitOpen, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"malformed message", ErrMalformedMessage, false},
		{"network error", fmt.Errorf("network connection failed"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsTransient(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"config load", ErrConfigLoad, true},
		{"supervisor", &SupervisorError{Err: fmt.Errorf("boom")}, true},
		{"classified fatal", WrapFatal(fmt.Errorf("x"), "Bot", "Run", "start"), true},
		{"connection lost", ErrConnectionLost, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsFatal(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	if !IsInvalid(ErrMalformedMessage) {
		t.Error("malformed message should be invalid")
	}
	if !IsInvalid(WrapInvalid(fmt.Errorf("bad"), "Codec", "Decode", "parse")) {
		t.Error("classified invalid should be invalid")
	}
	if IsInvalid(ErrConnectionLost) {
		t.Error("connection lost should not be invalid")
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(ErrConnectionLost); got != ErrorTransient {
		t.Errorf("expected transient, got %s", got)
	}
	if got := Classify(ErrConfigLoad); got != ErrorFatal {
		t.Errorf("expected fatal, got %s", got)
	}
	if got := Classify(ErrUnknownMessageType); got != ErrorInvalid {
		t.Errorf("expected invalid, got %s", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "c", "m", "a") != nil {
		t.Fatal("wrapping nil should return nil")
	}

	base := errors.New("dial refused")
	err := Wrap(base, "RedisBus", "Dial", "connect")
	if err.Error() != "RedisBus.Dial: connect failed: dial refused" {
		t.Errorf("unexpected message: %s", err)
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestWrapTransientPreservesChain(t *testing.T) {
	err := WrapTransient(ErrConnectionLost, "Service", "Publish", "publish")

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatal("expected ClassifiedError")
	}
	if ce.Component != "Service" || ce.Operation != "Publish" {
		t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
	}
	if !errors.Is(err, ErrConnectionLost) {
		t.Error("expected chain to contain ErrConnectionLost")
	}
}

func TestTypedErrors(t *testing.T) {
	svcErr := NewServiceError("x", "register", ErrServiceExists)
	if !errors.Is(svcErr, ErrServiceExists) {
		t.Error("ServiceError should unwrap to sentinel")
	}
	if !strings.Contains(svcErr.Error(), `"x"`) {
		t.Errorf("service name missing from %q", svcErr.Error())
	}

	cfgErr := NewConfigError("/etc/bot.json", nil)
	if !errors.Is(cfgErr, ErrInvalidConfig) {
		t.Error("nil cause should default to ErrInvalidConfig")
	}

	var codec *CodecError
	if !errors.As(fmt.Errorf("outer: %w", &CodecError{Op: "decode", Err: ErrMalformedMessage}), &codec) {
		t.Fatal("expected CodecError in chain")
	}
	if codec.Op != "decode" {
		t.Errorf("unexpected op %s", codec.Op)
	}
}

package signals

import (
	"errors"
	"fmt"
)

// ErrNoDependencies is returned by NewEffect when no dependency is given.
var ErrNoDependencies = &ConfigurationError{
	Component: "Effect",
	Reason:    "Effect must have at least one dependency",
}

// ErrClosed is returned by transports that have been shut down.
var ErrClosed = errors.New("signals: transport closed")

// ConfigurationError reports a reactive primitive registered with an
// invalid configuration. It is the only error the core returns to callers.
type ConfigurationError struct {
	Component string
	Reason    string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return "signals: " + e.Reason
}

// SubscriberError wraps a panic recovered from a subscriber, effect body
// or computed function.
type SubscriberError struct {
	// Source names where the panic happened, e.g. "signal:abc123".
	Source string

	// Value is the recovered panic value.
	Value any
}

// Error implements the error interface.
func (e *SubscriberError) Error() string {
	return fmt.Sprintf("signals: %s panicked: %v", e.Source, e.Value)
}

// Unwrap returns the panic value if it was an error.
func (e *SubscriberError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

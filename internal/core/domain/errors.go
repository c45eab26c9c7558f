package domain

import (
	"fmt"
	"time"
)

// ConfigError reports a required configuration value that is missing or
// unusable. It is fatal: nothing is started after it.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is missing"
	}
	return fmt.Sprintf("test requires configuration %s, which %s; aborting", e.Field, reason)
}

// StartupTimeoutError reports a container that did not become ready within
// its startup timeout.
type StartupTimeoutError struct {
	Container string
	Timeout   time.Duration
	Err       error
}

func (e *StartupTimeoutError) Error() string {
	msg := fmt.Sprintf("container %s not ready after %s", e.Container, e.Timeout)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StartupTimeoutError) Unwrap() error {
	return e.Err
}

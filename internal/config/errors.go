package config

import "fmt"

// ConfigError reports an invalid or inconsistent setting, before any I/O happens
type ConfigError struct {
	Field  string
	Reason string
	// Err is the underlying parse error, if any
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

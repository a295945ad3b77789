package analyzer

import (
	"errors"
	"fmt"
)

// ConfigurationError marks an analyzer which cannot run because its
// setup is invalid: bad or missing parameters, bad credentials. It is an
// expected failure kind, recovered by the Runner into a failed report.
type ConfigurationError struct {
	msg   string
	cause error
}

func (e *ConfigurationError) Error() string { return e.msg }
func (e *ConfigurationError) Unwrap() error { return e.cause }

// Configurationf formats a new ConfigurationError.
func Configurationf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &ConfigurationError{msg: err.Error(), cause: errors.Unwrap(err)}
}

// RunError marks an anticipated run-time failure: unreachable
// dependency, invalid target, worker error, exhausted polling budget.
// It is an expected failure kind, recovered by the Runner into a failed
// report.
type RunError struct {
	msg   string
	cause error
}

func (e *RunError) Error() string { return e.msg }
func (e *RunError) Unwrap() error { return e.cause }

// Runf formats a new RunError.
func Runf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &RunError{msg: err.Error(), cause: errors.Unwrap(err)}
}

// WrapRun wraps a transport or dependency error as a RunError.
func WrapRun(err error) error {
	if err == nil {
		return nil
	}
	return &RunError{msg: err.Error(), cause: err}
}

// IsExpected tells if err is one of the anticipated analyzer failure
// kinds. Everything else is treated as unexpected and logged with the
// full error chain, but both leave the report with success=false.
func IsExpected(err error) bool {
	var cfgErr *ConfigurationError
	var runErr *RunError
	return errors.As(err, &cfgErr) || errors.As(err, &runErr)
}

package source

import "fmt"

// ConfigError marks a failure that cannot succeed on retry: a missing
// required option, a malformed value, or a query the server rejects as
// invalid at connect time. Runners treat it as immediately fatal.
type ConfigError struct {
	Source string
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Option != "" {
		return fmt.Sprintf("source %s: invalid option %q: %s", e.Source, e.Option, e.Reason)
	}
	return fmt.Sprintf("source %s: %s", e.Source, e.Reason)
}

// NewConfigError builds a ConfigError for a specific option.
func NewConfigError(sourceName, option, reason string) *ConfigError {
	return &ConfigError{Source: sourceName, Option: option, Reason: reason}
}

// AuthError marks rejected credentials. Retryable with backoff since
// credentials may be rotated externally, but runners cap the attempt
// count before escalating to fatal.
type AuthError struct {
	Source string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("source %s: authentication failed: %v", e.Source, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectionError marks an unreachable or dropped session. Retryable
// with exponential backoff, indefinitely.
type ConnectionError struct {
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("source %s: connection failed: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransientError marks a single failed fetch cycle. The runner logs it,
// skips the cycle and keeps running; it never terminates the runner on
// its own.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("source %s: fetch failed: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

package logging

import "log/slog"

// Common field names for consistent logging across the engine.
const (
	FieldSource   = "source"
	FieldKind     = "kind"
	FieldState    = "state"
	FieldInterval = "interval"
	FieldRecords  = "records"
	FieldAttempt  = "attempt"
	FieldError    = "error"
)

// Source returns a slog attribute for the source instance name.
func Source(name string) slog.Attr {
	return slog.String(FieldSource, name)
}

// Kind returns a slog attribute for the connector kind.
func Kind(kind string) slog.Attr {
	return slog.String(FieldKind, kind)
}

// State returns a slog attribute for the runner state.
func State(state string) slog.Attr {
	return slog.String(FieldState, state)
}

// Records returns a slog attribute for a record count.
func Records(n int) slog.Attr {
	return slog.Int(FieldRecords, n)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

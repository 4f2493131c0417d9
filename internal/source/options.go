package source

import (
	"fmt"
	"time"
)

// Options is the raw user-supplied option map for one source instance,
// as declared in the sources file. Connectors read it through the typed
// accessors at construction time; every accessor failure is a
// ConfigError, so bad configuration never survives past New.
type Options map[string]any

// String returns a string option or def when absent.
func (o Options) String(sourceName, key, def string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", NewConfigError(sourceName, key, fmt.Sprintf("expected string, got %T", v))
	}
	return s, nil
}

// RequiredString returns a string option, failing when absent or empty.
func (o Options) RequiredString(sourceName, key string) (string, error) {
	s, err := o.String(sourceName, key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", NewConfigError(sourceName, key, "required option is missing")
	}
	return s, nil
}

// Int returns an integer option or def when absent. YAML decodes numbers
// as int and JSON round-trips produce float64; both are accepted.
func (o Options) Int(sourceName, key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, NewConfigError(sourceName, key, fmt.Sprintf("expected integer, got %T", v))
	}
}

// Bool returns a boolean option or def when absent.
func (o Options) Bool(sourceName, key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, NewConfigError(sourceName, key, fmt.Sprintf("expected boolean, got %T", v))
	}
	return b, nil
}

// Interval returns a polling interval option or def when absent. Bare
// numbers are seconds; duration strings ("30s", "2m") are also accepted.
// Non-positive intervals are rejected.
func (o Options) Interval(sourceName, key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}

	var d time.Duration
	switch n := v.(type) {
	case int:
		d = time.Duration(n) * time.Second
	case int64:
		d = time.Duration(n) * time.Second
	case float64:
		d = time.Duration(n * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(n)
		if err != nil {
			return 0, NewConfigError(sourceName, key, fmt.Sprintf("invalid duration %q", n))
		}
		d = parsed
	default:
		return 0, NewConfigError(sourceName, key, fmt.Sprintf("expected seconds or duration string, got %T", v))
	}

	if d <= 0 {
		return 0, NewConfigError(sourceName, key, fmt.Sprintf("interval must be positive, got %s", d))
	}
	return d, nil
}

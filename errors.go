package sqlsource

import (
	"errors"
	"fmt"
)

// ErrClosed is wrapped by the *ConnError returned from Acquire after Shutdown.
var ErrClosed = errors.New("sqlsource: source is shut down")

// SafeError wraps a cause with an error string safe for default production
// logging. The wrapped cause may still contain sensitive detail.
type SafeError struct {
	msg   string
	cause error
}

func (e *SafeError) Error() string { return e.msg }
func (e *SafeError) Unwrap() error { return e.cause }

// ConfigError reports an invalid configuration entry. It is returned
// synchronously from New, NewRegistry and SettingsFromEnv.
type ConfigError struct {
	// Pool is the pool name of the source being constructed. Empty for
	// process-wide settings.
	Pool string

	// Key is the offending configuration key.
	Key string

	// Reason describes the violated constraint.
	Reason string

	cause error
}

func (e *ConfigError) Error() string {
	if e.Pool == "" {
		return fmt.Sprintf("sqlsource: invalid setting %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("sqlsource: invalid config for pool %q: %s: %s", e.Pool, e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.cause }

// ConnError is returned by Acquire when no connection could be produced.
// The outer message carries only the pool name and address; the driver cause
// is available through errors.Unwrap.
type ConnError struct {
	Pool string
	Addr string

	cause error
}

func (e *ConnError) Error() string {
	if errors.Is(e.cause, ErrClosed) {
		return fmt.Sprintf("sqlsource: acquire failed (pool=%s): source is shut down", e.Pool)
	}
	return fmt.Sprintf("sqlsource: acquire failed (pool=%s, addr=%s)", e.Pool, e.Addr)
}

func (e *ConnError) Unwrap() error { return e.cause }

package sqlsource

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Environment variables read by SettingsFromEnv.
const (
	EnvIdleTimeout = "SQLSOURCE_IDLE_TIMEOUT_MS"
	EnvMaxPoolSize = "SQLSOURCE_MAX_POOL_SIZE"
	EnvStrategy    = "SQLSOURCE_STRATEGY"
)

const (
	defaultIdleTimeout = 5000 * time.Millisecond
	defaultMaxPoolSize = 3
)

// Strategy selects how a Source produces connections.
type Strategy int

const (
	// StrategyPooled wraps the driver in a pgxpool connection pool.
	StrategyPooled Strategy = iota

	// StrategyDirect opens a fresh driver connection per Acquire.
	StrategyDirect
)

func (s Strategy) String() string {
	switch s {
	case StrategyPooled:
		return "pooled"
	case StrategyDirect:
		return "direct"
	default:
		return "Strategy(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseStrategy parses "pooled" or "direct" (case-insensitive).
func ParseStrategy(v string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pooled", "pool":
		return StrategyPooled, nil
	case "direct", "none":
		return StrategyDirect, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q (want pooled or direct)", v)
	}
}

// Settings holds the process-wide tunables shared by every Source.
// They are read once at startup and passed to New explicitly.
type Settings struct {
	// IdleTimeout defaults to 5000ms.
	IdleTimeout time.Duration

	// MaxPoolSize defaults to 3.
	MaxPoolSize int32

	// Strategy defaults to StrategyPooled, or StrategyDirect in builds
	// tagged sqlsource_nopool.
	Strategy Strategy
}

// DefaultSettings returns the compiled-in defaults.
func DefaultSettings() Settings {
	return Settings{
		IdleTimeout: defaultIdleTimeout,
		MaxPoolSize: defaultMaxPoolSize,
		Strategy:    defaultStrategy,
	}
}

// SettingsFromEnv returns DefaultSettings overridden by the SQLSOURCE_*
// environment variables. Invalid values are reported as *ConfigError.
func SettingsFromEnv() (Settings, error) {
	return settingsFromLookup(os.LookupEnv)
}

func settingsFromLookup(lookup func(string) (string, bool)) (Settings, error) {
	s := DefaultSettings()

	if v, ok := lookup(EnvIdleTimeout); ok {
		ms, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || ms <= 0 {
			return Settings{}, &ConfigError{Key: EnvIdleTimeout, Reason: "must be a positive integer (milliseconds)", cause: err}
		}
		s.IdleTimeout = time.Duration(ms) * time.Millisecond
	}

	if v, ok := lookup(EnvMaxPoolSize); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil || n <= 0 {
			return Settings{}, &ConfigError{Key: EnvMaxPoolSize, Reason: "must be a positive integer", cause: err}
		}
		s.MaxPoolSize = int32(n)
	}

	if v, ok := lookup(EnvStrategy); ok {
		st, err := ParseStrategy(v)
		if err != nil {
			return Settings{}, &ConfigError{Key: EnvStrategy, Reason: err.Error(), cause: err}
		}
		s.Strategy = st
	}

	return s, nil
}

func (s Settings) validate() error {
	if s.IdleTimeout <= 0 {
		return &ConfigError{Key: "IdleTimeout", Reason: "must be positive"}
	}
	if s.MaxPoolSize <= 0 {
		return &ConfigError{Key: "MaxPoolSize", Reason: "must be positive"}
	}
	if s.Strategy != StrategyPooled && s.Strategy != StrategyDirect {
		return &ConfigError{Key: "Strategy", Reason: "unknown strategy " + s.Strategy.String()}
	}
	return nil
}

// Option configures a Source for advanced use cases.
type Option func(*sourceOptions)

type sourceOptions struct {
	logger             *slog.Logger
	connConfigModifier func(*pgx.ConnConfig)
	poolConfigModifier func(*pgxpool.Config)
}

// WithLogger sets the logger used for pool diagnostics.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *sourceOptions) {
		o.logger = l
	}
}

// WithConnConfig allows low-level driver configuration for both strategies.
//
// The modifier runs after the fixed tuning is applied.
func WithConnConfig(fn func(*pgx.ConnConfig)) Option {
	return func(o *sourceOptions) {
		o.connConfigModifier = fn
	}
}

// WithPoolConfig allows low-level pgxpool configuration. It is ignored by
// StrategyDirect.
//
// The modifier runs after WithConnConfig and the standard pool settings.
func WithPoolConfig(fn func(*pgxpool.Config)) Option {
	return func(o *sourceOptions) {
		o.poolConfigModifier = fn
	}
}

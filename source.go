package sqlsource

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxPort = 65535

// Source produces connections to one configured database.
//
// Connection parameters are validated in New and never change afterwards.
// The underlying provider, pooled or direct per Settings.Strategy, is built
// on the first Acquire and reused for the lifetime of the Source.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Source struct {
	poolName    string
	address     string
	port        int
	username    string
	password    string
	database    string
	useSSL      bool
	timeZone    string
	hasTimeZone bool

	settings Settings
	opts     sourceOptions
	logger   *slog.Logger

	openPooled func(ctx context.Context, cfg *pgxpool.Config) (provider, error)
	openDirect func(cfg *pgx.ConnConfig) (provider, error)

	// mu serializes the build decision and shutdown. Readers of current
	// only ever see a fully built handle.
	mu      sync.Mutex
	current atomic.Pointer[handle]
	closed  atomic.Bool
}

type handle struct {
	provider provider
	pooled   bool
}

// Acquirer is satisfied by *Source.
type Acquirer interface {
	Acquire(ctx context.Context) (*Conn, error)
}

var _ Acquirer = (*Source)(nil)

// New validates block and returns a Source named poolName. Validation
// failures are returned as *ConfigError; no connection is attempted.
//
// Recognized keys: address, port, username, password, database, timezone
// (optional) and useSSL (optional, default true).
func New(poolName string, block Block, settings Settings, opts ...Option) (*Source, error) {
	if block == nil {
		return nil, &ConfigError{Pool: poolName, Key: "block", Reason: "is required"}
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}

	s := &Source{
		poolName: poolName,
		settings: settings,
		useSSL:   true,
	}

	var err error
	if s.address, err = requireString(poolName, block, "address"); err != nil {
		return nil, err
	}

	port, err := block.Int("port")
	if err != nil {
		return nil, invalidEntry(poolName, "port", err)
	}
	if port < 0 || port > maxPort {
		return nil, &ConfigError{Pool: poolName, Key: "port", Reason: "must be in [0, 65535], got " + strconv.Itoa(port)}
	}
	s.port = port

	if s.username, err = requireString(poolName, block, "username"); err != nil {
		return nil, err
	}

	// The password is passed through as given; an absent entry reads as "".
	if block.Has("password") {
		if s.password, err = block.String("password"); err != nil {
			return nil, invalidEntry(poolName, "password", err)
		}
	}

	if s.database, err = requireString(poolName, block, "database"); err != nil {
		return nil, err
	}

	if block.Has("timezone") {
		if s.timeZone, err = requireString(poolName, block, "timezone"); err != nil {
			return nil, err
		}
		s.hasTimeZone = true
	}

	if block.Has("useSSL") {
		if s.useSSL, err = block.Bool("useSSL"); err != nil {
			return nil, invalidEntry(poolName, "useSSL", err)
		}
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&s.opts)
	}
	s.logger = s.opts.logger
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.openPooled = openPooled
	s.openDirect = func(cfg *pgx.ConnConfig) (provider, error) {
		return &directProvider{cfg: cfg, pool: s.poolName, logger: s.logger}, nil
	}

	return s, nil
}

func requireString(pool string, block Block, key string) (string, error) {
	v, err := block.String(key)
	if err != nil {
		return "", invalidEntry(pool, key, err)
	}
	if v == "" {
		return "", &ConfigError{Pool: pool, Key: key, Reason: "can't be empty"}
	}
	return v, nil
}

func invalidEntry(pool, key string, err error) *ConfigError {
	reason := "invalid value"
	if errors.Is(err, ErrMissingEntry) {
		reason = "is required"
	}
	return &ConfigError{Pool: pool, Key: key, Reason: reason, cause: err}
}

// PoolName returns the name used for diagnostics and application_name.
func (s *Source) PoolName() string { return s.poolName }

// Address returns the database host name or IP address.
func (s *Source) Address() string { return s.address }

// Port returns the TCP port, in [0, 65535].
func (s *Source) Port() int { return s.port }

// Username returns the login user.
func (s *Source) Username() string { return s.username }

// Database returns the database name.
func (s *Source) Database() string { return s.database }

// UseSSL reports whether connections require TLS.
func (s *Source) UseSSL() bool { return s.useSSL }

// Password returns the configured password. It is secret material.
func (s *Source) Password() string { return s.password }

// TimeZone returns the server time zone override, if one was configured.
func (s *Source) TimeZone() (string, bool) { return s.timeZone, s.hasTimeZone }

// Settings returns the process-wide tunables this Source was built with.
func (s *Source) Settings() Settings { return s.settings }

// Pooled reports whether the provider is a connection pool. It is false
// until the first successful Acquire has built the provider.
func (s *Source) Pooled() bool {
	h := s.current.Load()
	return h != nil && h.pooled
}

// Stat returns a snapshot of pool statistics. ok is false when the provider
// has not been built yet or is not pooled.
func (s *Source) Stat() (stat *pgxpool.Stat, ok bool) {
	h := s.current.Load()
	if h == nil {
		return nil, false
	}
	pp, ok := h.provider.(*pooledProvider)
	if !ok {
		return nil, false
	}
	return pp.pool.Stat(), true
}

// Acquire returns a live connection. The first call builds the provider;
// later calls reuse it. Failures are returned as *ConnError and are never
// retried here.
//
// The caller must Release the returned Conn.
func (s *Source) Acquire(ctx context.Context) (*Conn, error) {
	h := s.current.Load()
	if h == nil {
		var err error
		if h, err = s.initialize(ctx); err != nil {
			return nil, err
		}
	}
	if s.closed.Load() {
		return nil, s.connError(ErrClosed)
	}

	c, err := h.provider.acquire(ctx)
	if err != nil {
		// A Shutdown that raced this checkout surfaces as the pool's own
		// closed error.
		if s.closed.Load() {
			return nil, s.connError(ErrClosed)
		}
		return nil, s.connError(err)
	}
	return newConn(c), nil
}

func (s *Source) initialize(ctx context.Context) (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h := s.current.Load(); h != nil {
		return h, nil
	}
	if s.closed.Load() {
		return nil, s.connError(ErrClosed)
	}

	h, err := s.build(ctx)
	if err != nil {
		return nil, s.connError(err)
	}
	s.current.Store(h)
	return h, nil
}

func (s *Source) build(ctx context.Context) (*handle, error) {
	if s.settings.Strategy == StrategyDirect {
		cfg, err := s.connConfig()
		if err != nil {
			return nil, err
		}
		p, err := s.openDirect(cfg)
		if err != nil {
			return nil, err
		}
		s.logger.Warn("connection pooling unavailable, opening a connection per acquire",
			"pool", s.poolName)
		return &handle{provider: p}, nil
	}

	cfg, err := s.poolConfig()
	if err != nil {
		return nil, err
	}
	p, err := s.openPooled(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.logger.Info("connection pooling enabled",
		"pool", s.poolName,
		"max_conns", cfg.MaxConns,
		"idle_timeout", cfg.MaxConnIdleTime)
	return &handle{provider: p, pooled: true}, nil
}

// Shutdown closes the pool, if one was built. It blocks until acquired
// connections are released. Calls after the first are no-ops, and later
// Acquire calls fail with ErrClosed.
func (s *Source) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return
	}
	s.closed.Store(true)

	h := s.current.Load()
	if h == nil || !h.pooled {
		return
	}
	h.provider.close()
	s.logger.Info("connection pool closed", "pool", s.poolName)
}

// Close implements io.Closer. It calls Shutdown and always returns nil.
func (s *Source) Close() error {
	s.Shutdown()
	return nil
}

// LogValue implements slog.LogValuer. The password is never included.
func (s *Source) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("pool", s.poolName),
		slog.String("addr", s.addr()),
		slog.String("database", s.database),
		slog.String("user", s.username),
		slog.Bool("ssl", s.useSSL),
		slog.String("strategy", s.settings.Strategy.String()),
		slog.Bool("pooled", s.Pooled()),
	)
}

func (s *Source) addr() string {
	return net.JoinHostPort(s.address, strconv.Itoa(s.port))
}

func (s *Source) connError(err error) *ConnError {
	return &ConnError{Pool: s.poolName, Addr: s.addr(), cause: err}
}

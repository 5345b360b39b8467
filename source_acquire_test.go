package sqlsource

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type fakeProvider struct {
	acquires   atomic.Int32
	closes     atomic.Int32
	acquireErr error
	onAcquire  func()
}

func (p *fakeProvider) acquire(_ context.Context) (backendConn, error) {
	p.acquires.Add(1)
	if p.onAcquire != nil {
		p.onAcquire()
	}
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return &TestConn{}, nil
}

func (p *fakeProvider) close() {
	p.closes.Add(1)
}

// syncBuffer guards a bytes.Buffer shared by concurrent log writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type sourceHarness struct {
	src      *Source
	provider *fakeProvider
	builds   *atomic.Int32
	logs     *syncBuffer
}

// newHarness returns a Source whose provider construction is counted and
// replaced by a fakeProvider. The real pool/driver configs are still built.
func newHarness(t *testing.T, strategy Strategy) *sourceHarness {
	t.Helper()

	logs := &syncBuffer{}
	settings := DefaultSettings()
	settings.Strategy = strategy

	src, err := New("auth", validBlock(), settings,
		WithLogger(slog.New(slog.NewTextHandler(logs, nil))))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	h := &sourceHarness{src: src, provider: &fakeProvider{}, builds: &atomic.Int32{}, logs: logs}
	src.openPooled = func(_ context.Context, cfg *pgxpool.Config) (provider, error) {
		if cfg.MaxConns != settings.MaxPoolSize {
			t.Errorf("pool MaxConns=%d, want %d", cfg.MaxConns, settings.MaxPoolSize)
		}
		h.builds.Add(1)
		return h.provider, nil
	}
	src.openDirect = func(_ *pgx.ConnConfig) (provider, error) {
		h.builds.Add(1)
		return h.provider, nil
	}
	return h
}

func TestAcquire_InitializesOnce(t *testing.T) {
	t.Parallel()

	for _, strategy := range []Strategy{StrategyPooled, StrategyDirect} {
		t.Run(strategy.String(), func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, strategy)
			for i := 0; i < 5; i++ {
				c, err := h.src.Acquire(context.Background())
				if err != nil {
					t.Fatalf("Acquire() #%d error = %v", i, err)
				}
				c.Release()
			}

			if got := h.builds.Load(); got != 1 {
				t.Fatalf("provider builds=%d, want 1", got)
			}
			if got := h.provider.acquires.Load(); got != 5 {
				t.Fatalf("provider acquires=%d, want 5", got)
			}
			if got, want := h.src.Pooled(), strategy == StrategyPooled; got != want {
				t.Fatalf("Pooled=%v, want %v", got, want)
			}
		})
	}
}

func TestAcquire_ConcurrentFirstUseBuildsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, StrategyPooled)

	const callers = 10
	var wg sync.WaitGroup
	conns := make([]*Conn, callers)
	errs := make([]error, callers)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			conns[i], errs[i] = h.src.Acquire(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: Acquire() error = %v", i, errs[i])
		}
		if conns[i] == nil {
			t.Fatalf("caller %d: nil Conn", i)
		}
		conns[i].Release()
	}
	if got := h.builds.Load(); got != 1 {
		t.Fatalf("provider builds=%d, want 1", got)
	}
	if got := strings.Count(h.logs.String(), "connection pooling enabled"); got != 1 {
		t.Fatalf("pooling info logged %d times, want 1", got)
	}
}

func TestAcquire_DirectStrategyWarnsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, StrategyDirect)

	for i := 0; i < 3; i++ {
		c, err := h.src.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if err := c.Ping(context.Background()); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}
		c.Release()
	}

	if h.src.Pooled() {
		t.Fatal("Pooled=true, want false")
	}
	logs := h.logs.String()
	if got := strings.Count(logs, "level=WARN"); got != 1 {
		t.Fatalf("warnings=%d, want 1; logs:\n%s", got, logs)
	}
	if !strings.Contains(logs, "pool=auth") {
		t.Fatalf("warning must name the pool; logs:\n%s", logs)
	}
	if _, ok := h.src.Stat(); ok {
		t.Fatal("Stat must not be available for a direct provider")
	}
}

func TestAcquire_ProviderFailureIsConnError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, StrategyPooled)
	cause := errors.New("pool exhausted for password=" + testSecret)
	h.provider.acquireErr = cause

	_, err := h.src.Acquire(context.Background())
	ce := assertConnError(t, err)
	if !errors.Is(err, cause) {
		t.Fatal("expected ConnError to wrap the provider cause")
	}
	if ce.Pool != "auth" || ce.Addr != "db.local:5432" {
		t.Fatalf("ConnError=%+v", ce)
	}
}

func TestAcquire_ShutdownDuringCheckoutIsErrClosed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, StrategyPooled)
	h.provider.acquireErr = errors.New("closed pool")
	h.provider.onAcquire = h.src.Shutdown

	_, err := h.src.Acquire(context.Background())
	assertConnError(t, err)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if got := h.provider.closes.Load(); got != 1 {
		t.Fatalf("provider closes=%d, want 1", got)
	}
}

func TestAcquire_BuildFailureLeavesSourceUninitialized(t *testing.T) {
	t.Parallel()

	h := newHarness(t, StrategyPooled)
	errBuild := errors.New("build failed")
	var attempts atomic.Int32
	h.src.openPooled = func(_ context.Context, _ *pgxpool.Config) (provider, error) {
		if attempts.Add(1) == 1 {
			return nil, errBuild
		}
		return h.provider, nil
	}

	_, err := h.src.Acquire(context.Background())
	assertConnError(t, err)
	if !errors.Is(err, errBuild) {
		t.Fatalf("expected build cause, got %v", err)
	}
	if h.src.Pooled() {
		t.Fatal("Pooled must stay false after a failed build")
	}

	c, err := h.src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	c.Release()
	if got := attempts.Load(); got != 2 {
		t.Fatalf("build attempts=%d, want 2", got)
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, StrategyPooled)
	c, err := h.src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	c.Release()

	h.src.Shutdown()
	h.src.Shutdown()
	if err := h.src.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := h.provider.closes.Load(); got != 1 {
		t.Fatalf("provider closes=%d, want 1", got)
	}
	if got := strings.Count(h.logs.String(), "connection pool closed"); got != 1 {
		t.Fatalf("close logged %d times, want 1", got)
	}
}

func TestShutdown_ConcurrentCallsCloseOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, StrategyPooled)
	c, err := h.src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	c.Release()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.src.Shutdown()
		}()
	}
	wg.Wait()

	if got := h.provider.closes.Load(); got != 1 {
		t.Fatalf("provider closes=%d, want 1", got)
	}
}

func TestShutdown_BeforeAcquireIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, StrategyPooled)
	h.src.Shutdown()

	if got := h.builds.Load(); got != 0 {
		t.Fatalf("provider builds=%d, want 0", got)
	}
	if got := h.provider.closes.Load(); got != 0 {
		t.Fatalf("provider closes=%d, want 0", got)
	}

	_, err := h.src.Acquire(context.Background())
	assertConnError(t, err)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if got := h.builds.Load(); got != 0 {
		t.Fatalf("Acquire after Shutdown built a provider (%d builds)", got)
	}
}

func TestShutdown_DirectReleasesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, StrategyDirect)
	c, err := h.src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	c.Release()

	h.src.Shutdown()
	if got := h.provider.closes.Load(); got != 0 {
		t.Fatalf("provider closes=%d, want 0", got)
	}

	_, err = h.src.Acquire(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Shutdown, got %v", err)
	}
}

func TestAcquire_RealPoolSurfacesConnectFailure(t *testing.T) {
	t.Parallel()

	errStop := errors.New("stop-before-connect")
	var called atomic.Bool

	src, err := New("auth", validBlock(), DefaultSettings(),
		WithLogger(slog.New(slog.NewTextHandler(&syncBuffer{}, nil))),
		WithPoolConfig(func(c *pgxpool.Config) {
			c.BeforeConnect = func(_ context.Context, cc *pgx.ConnConfig) error {
				called.Store(true)
				return errStop
			}
		}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer src.Shutdown()

	_, err = src.Acquire(context.Background())
	assertConnError(t, err)
	if !called.Load() {
		t.Fatal("expected BeforeConnect to be called")
	}
	if !errors.Is(err, errStop) {
		t.Fatalf("expected wrapped cause to match sentinel, got %v", err)
	}
	if !src.Pooled() {
		t.Fatal("pool is built even when the first connection fails")
	}
	stat, ok := src.Stat()
	if !ok || stat.MaxConns() != 3 {
		t.Fatalf("Stat()=%v,%v, want MaxConns 3", stat, ok)
	}
}

func TestAcquire_RealDirectSurfacesDialFailure(t *testing.T) {
	t.Parallel()

	errStop := errors.New("stop-before-dial")
	var dialed atomic.Int32

	settings := DefaultSettings()
	settings.Strategy = StrategyDirect

	src, err := New("auth", with(validBlock(), "address", "127.0.0.1"), settings,
		WithLogger(slog.New(slog.NewTextHandler(&syncBuffer{}, nil))),
		WithConnConfig(func(cc *pgx.ConnConfig) {
			cc.DialFunc = func(_ context.Context, _, _ string) (net.Conn, error) {
				dialed.Add(1)
				return nil, errStop
			}
		}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err = src.Acquire(context.Background())
		assertConnError(t, err)
	}
	if got := dialed.Load(); got < 2 {
		t.Fatalf("dials=%d, want a fresh dial per Acquire", got)
	}
	if src.Pooled() {
		t.Fatal("Pooled=true, want false")
	}
}

func TestSource_LogValueOmitsPassword(t *testing.T) {
	t.Parallel()

	h := newHarness(t, StrategyPooled)
	logger := slog.New(slog.NewTextHandler(h.logs, nil))
	logger.Info("source", "src", h.src)

	logs := h.logs.String()
	if strings.Contains(logs, testSecret) {
		t.Fatalf("log leaked password: %s", logs)
	}
	if !strings.Contains(logs, "src.pool=auth") || !strings.Contains(logs, "src.addr=db.local:5432") {
		t.Fatalf("unexpected log output: %s", logs)
	}
}

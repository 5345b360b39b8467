package sqlsource

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const directCloseTimeout = 5 * time.Second

// provider is the "produce a connection" capability shared by both
// strategies.
type provider interface {
	acquire(ctx context.Context) (backendConn, error)
	close()
}

// pooledProvider wraps (does not embed) *pgxpool.Pool.
type pooledProvider struct {
	pool *pgxpool.Pool
}

func openPooled(ctx context.Context, cfg *pgxpool.Config) (provider, error) {
	pool, err := newPoolWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pooledProvider{pool: pool}, nil
}

func (p *pooledProvider) acquire(ctx context.Context) (backendConn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// close blocks until every acquired connection has been released.
func (p *pooledProvider) close() {
	p.pool.Close()
}

// directProvider opens a fresh connection per acquire and holds nothing
// between calls.
type directProvider struct {
	cfg    *pgx.ConnConfig
	pool   string
	logger *slog.Logger
}

func (p *directProvider) acquire(ctx context.Context) (backendConn, error) {
	conn, err := connectConfig(ctx, p.cfg)
	if err != nil {
		return nil, err
	}
	return &directConn{Conn: conn, pool: p.pool, logger: p.logger}, nil
}

func (p *directProvider) close() {}

type directConn struct {
	*pgx.Conn
	pool   string
	logger *slog.Logger
}

func (c *directConn) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), directCloseTimeout)
	defer cancel()

	if err := c.Conn.Close(ctx); err != nil {
		c.logger.Warn("closing direct connection failed", "pool", c.pool, "error", err)
	}
}

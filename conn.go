package sqlsource

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is a single connection checked out by Source.Acquire.
// Release must be called when the caller is done with it.
//
// A Conn is not safe for concurrent use.
type Conn struct {
	backend     backendConn
	releaseOnce sync.Once
}

var _ DB = (*Conn)(nil)

func newConn(b backendConn) *Conn {
	return &Conn{backend: b}
}

// withCacheLimit routes statements longer than the cache SQL limit, counted
// in characters, around the prepared statement cache, unless the caller
// already chose a mode.
func withCacheLimit(sql string, args []any) []any {
	if len(sql) <= statementCacheSQLLimit || utf8.RuneCountInString(sql) <= statementCacheSQLLimit {
		return args
	}
	if len(args) > 0 {
		if _, ok := args[0].(pgx.QueryExecMode); ok {
			return args
		}
	}
	return append([]any{pgx.QueryExecModeDescribeExec}, args...)
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.backend.Exec(ctx, sql, withCacheLimit(sql, args)...)
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.backend.Query(ctx, sql, withCacheLimit(sql, args)...)
}

func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.backend.QueryRow(ctx, sql, withCacheLimit(sql, args)...)
}

// SendBatch pipelines every queued statement in a single round trip.
// Batched statements always use the connection's default exec mode.
func (c *Conn) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return c.backend.SendBatch(ctx, b)
}

func (c *Conn) Begin(ctx context.Context) (pgx.Tx, error) {
	return c.backend.Begin(ctx)
}

func (c *Conn) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return c.backend.BeginTx(ctx, txOptions)
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.backend.Ping(ctx)
}

// Release returns a pooled connection to its pool, or closes a direct one.
// Calls after the first are no-ops.
func (c *Conn) Release() {
	c.releaseOnce.Do(c.backend.Release)
}

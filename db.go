package sqlsource

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB defines the query contract of a single connection handed out by a
// Source.
//
// All methods require context.Context so cancellation propagates to the
// in-flight statement or connection attempt.
//
// Pool management (Stat, Shutdown) is intentionally not part of this
// contract; it belongs on *Source.
type DB interface {
	// Exec executes a query that does not return rows.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	// Query executes a query that returns rows, typically a SELECT.
	// The caller must close the returned Rows when done (use defer rows.Close()).
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	// QueryRow executes a query expected to return at most one row.
	// If no rows match, row.Scan() returns pgx.ErrNoRows.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	// SendBatch sends all queued statements in one round trip.
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults

	// Begin starts a transaction with default options.
	// Prefer WithTx for rollback-on-error semantics.
	Begin(ctx context.Context) (pgx.Tx, error)

	// BeginTx starts a transaction with explicit options.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}

// backendConn is what a provider hands out: a DB that can be given back.
// *pgxpool.Conn satisfies it directly.
type backendConn interface {
	DB
	Release()
}

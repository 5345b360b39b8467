package sqlsource

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultRollbackTimeout = 5 * time.Second

// HealthStatus is the response type for health check endpoints.
type HealthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HealthCheck acquires a connection, pings it and releases it. The result is
// suitable for health check API endpoints.
func HealthCheck(ctx context.Context, src Acquirer) (*HealthStatus, error) {
	err := WithConn(ctx, src, func(c *Conn) error {
		return c.Ping(ctx)
	})
	if err != nil {
		return nil, &SafeError{msg: "sqlsource: health check failed", cause: err}
	}

	return &HealthStatus{Status: "ok", Database: "postgres"}, nil
}

// WithConn acquires a connection, runs fn with it and releases it, also when
// fn panics. Acquire errors are returned unchanged.
func WithConn(ctx context.Context, src Acquirer, fn func(*Conn) error) error {
	c, err := src.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.Release()

	return fn(c)
}

// WithTx executes fn within a transaction. If fn returns an error or panics,
// the transaction is rolled back. Otherwise, it is committed.
func WithTx(ctx context.Context, db DB, opts pgx.TxOptions, fn func(pgx.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return &SafeError{msg: "sqlsource: begin tx failed", cause: err}
	}

	rollbackCtx, cancelRollback := context.WithTimeout(context.Background(), defaultRollbackTimeout)
	defer cancelRollback()

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(rollbackCtx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(rollbackCtx)
		}
	}()

	err = fn(tx)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &SafeError{msg: "sqlsource: commit tx failed", cause: err}
	}

	return nil
}

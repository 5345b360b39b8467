package sqlsource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotMocked is returned when a TestConn method is called without a
// corresponding Func field set.
var ErrNotMocked = errors.New("sqlsource.TestConn: method not mocked, set the corresponding Func field")

// TestConn is a mock connection for unit tests. Use AsConn to hand it out
// where a *Conn is expected.
type TestConn struct {
	ExecFunc      func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryFunc     func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRowFunc  func(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatchFunc func(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	BeginFunc     func(ctx context.Context) (pgx.Tx, error)
	BeginTxFunc   func(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	PingFunc      func(ctx context.Context) error
	ReleaseFunc   func()

	released atomic.Int32
}

var _ backendConn = (*TestConn)(nil)

// AsConn wraps t in a *Conn, as returned by Source.Acquire.
func (t *TestConn) AsConn() *Conn {
	return newConn(t)
}

// Released reports how many times the connection was given back.
func (t *TestConn) Released() int {
	return int(t.released.Load())
}

func (t *TestConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.ExecFunc != nil {
		return t.ExecFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, ErrNotMocked
}

func (t *TestConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if t.QueryFunc != nil {
		return t.QueryFunc(ctx, sql, args...)
	}
	return nil, ErrNotMocked
}

func (t *TestConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if t.QueryRowFunc != nil {
		return t.QueryRowFunc(ctx, sql, args...)
	}
	return &ErrRow{Err: ErrNotMocked}
}

func (t *TestConn) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	if t.SendBatchFunc != nil {
		return t.SendBatchFunc(ctx, b)
	}
	return &errBatchResults{err: ErrNotMocked}
}

func (t *TestConn) Begin(ctx context.Context) (pgx.Tx, error) {
	if t.BeginFunc != nil {
		return t.BeginFunc(ctx)
	}
	return nil, ErrNotMocked
}

func (t *TestConn) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	if t.BeginTxFunc != nil {
		return t.BeginTxFunc(ctx, txOptions)
	}
	return nil, ErrNotMocked
}

func (t *TestConn) Ping(ctx context.Context) error {
	if t.PingFunc != nil {
		return t.PingFunc(ctx)
	}
	return nil
}

func (t *TestConn) Release() {
	t.released.Add(1)
	if t.ReleaseFunc != nil {
		t.ReleaseFunc()
	}
}

// ErrRow implements pgx.Row. Its Scan always returns Err.
type ErrRow struct {
	Err error
}

func (r *ErrRow) Scan(dest ...any) error {
	return r.Err
}

// errBatchResults fails every queued result and Close with err.
type errBatchResults struct {
	err error
}

func (r *errBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, r.err }
func (r *errBatchResults) Query() (pgx.Rows, error) { return nil, r.err }
func (r *errBatchResults) QueryRow() pgx.Row { return &ErrRow{Err: r.err} }
func (r *errBatchResults) Close() error { return r.err }

// NewRow returns a pgx.Row backed by the provided values.
func NewRow(values ...any) pgx.Row {
	return &valueRow{values: values}
}

type valueRow struct {
	values []any
}

func (r *valueRow) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("sqlsource.valueRow: scan dest count %d != column count %d", len(dest), len(r.values))
	}

	for i, val := range r.values {
		switch d := dest[i].(type) {
		case *string:
			v, ok := val.(string)
			if !ok {
				return fmt.Errorf("sqlsource.valueRow: expected string at column %d, got %T", i, val)
			}
			*d = v
		case *int:
			v, ok := val.(int)
			if !ok {
				return fmt.Errorf("sqlsource.valueRow: expected int at column %d, got %T", i, val)
			}
			*d = v
		case *bool:
			v, ok := val.(bool)
			if !ok {
				return fmt.Errorf("sqlsource.valueRow: expected bool at column %d, got %T", i, val)
			}
			*d = v
		case *any:
			*d = val
		default:
			return fmt.Errorf("sqlsource.valueRow: unsupported scan target type %T at column %d", dest[i], i)
		}
	}

	return nil
}

package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DBTxKey contextKey = "db_tx"

// TxFromContext retrieves the active transaction from context, if any.
// Repositories check this before falling back to the clinic connection or
// the pool, so a service can make a multi-repository operation atomic by
// running it through WithTx or a TxRunner.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the clinic-scoped connection carried by the
// context and returns the transaction plus a derived context that
// repositories will route their queries through. The caller owns the
// transaction and must Commit or Rollback it.
func WithTx(ctx context.Context) (pgx.Tx, context.Context, error) {
	if tx := TxFromContext(ctx); tx != nil {
		nested, err := tx.Begin(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("begin nested transaction: %w", err)
		}
		return nested, context.WithValue(ctx, DBTxKey, nested), nil
	}

	conn := ConnFromContext(ctx)
	if conn == nil {
		return nil, nil, errors.New("no database connection in context")
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, context.WithValue(ctx, DBTxKey, tx), nil
}

// TxRunner runs a function inside a single database transaction. The ticket
// engine depends on this interface rather than on a pool so that service
// tests can substitute a pass-through runner.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolTxRunner is the production TxRunner. It prefers the clinic-scoped
// connection from the request context and falls back to acquiring from the
// pool (CLI paths, background jobs).
type PoolTxRunner struct {
	Pool *pgxpool.Pool
}

func (r *PoolTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	// Already inside a transaction: join it.
	if tx := TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	var tx pgx.Tx
	var err error
	if conn := ConnFromContext(ctx); conn != nil {
		tx, err = conn.Begin(ctx)
	} else {
		tx, err = r.Pool.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, DBTxKey, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

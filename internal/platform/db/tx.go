package db

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

type contextKey string

// DBTxKey is the context key holding the active pgx.Tx.
const DBTxKey contextKey = "db_tx"

// WithTx returns a copy of ctx carrying tx.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext returns the transaction bound to ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// Transactor runs fn inside one transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxManager is the pgx implementation of Transactor.
type TxManager struct {
	db DB
}

func NewTxManager(handle DB) *TxManager {
	return &TxManager{db: handle}
}

// SnapshotTxOptions is used for multi-statement reads that must agree with
// each other, such as a count and the page it describes.
var SnapshotTxOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// InTx begins a transaction, binds it to the context passed to fn and commits
// when fn returns nil. Any error, panic or cancellation leaves the scope with a
// rollback. Calls nested inside an active transaction reuse it.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, m.db.Begin, fn)
}

// InSnapshot is InTx with a read-only repeatable-read transaction, so every
// statement in fn sees the same snapshot. Inside an active transaction it
// reuses that one.
func (m *TxManager) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, func(ctx context.Context) (pgx.Tx, error) {
		return m.db.BeginTx(ctx, SnapshotTxOptions)
	}, fn)
}

func (m *TxManager) run(ctx context.Context, begin func(context.Context) (pgx.Tx, error),
	fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			rollback(ctx, tx)
			panic(p)
		}
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		rollback(ctx, tx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		rollback(ctx, tx)
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// rollback runs detached from ctx cancellation so an aborted request still
// releases its transaction.
func rollback(ctx context.Context, tx pgx.Tx) {
	err := tx.Rollback(context.WithoutCancel(ctx))
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		zerolog.Ctx(ctx).Error().Err(err).Msg("rollback failed")
	}
}

// InTxReturn is InTx for functions producing a value.
func InTxReturn[T any](ctx context.Context, t Transactor, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := t.InTx(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// WithoutTx returns a copy of ctx detached from any active transaction, for
// writes that must persist even if the surrounding transaction rolls back.
func WithoutTx(ctx context.Context) context.Context {
	if TxFromContext(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, DBTxKey, nil)
}

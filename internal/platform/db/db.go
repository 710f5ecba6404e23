package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// DB is the injected store handle. *pgxpool.Pool satisfies it, and so does
// pgxmock's pool in tests.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Conn returns the transaction bound to ctx when there is one, otherwise the
// handle itself. Repositories call it for every statement so that writes made
// inside TxManager.InTx join the surrounding transaction.
func Conn(ctx context.Context, handle DB) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return handle
}

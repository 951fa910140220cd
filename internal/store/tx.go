// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package store

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// DBTX is the query surface shared by *pgxpool.Pool, pgx.Tx and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DBTX that can open transactions.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// Conn returns the transaction stored in ctx by Transactor, or pool when
// ctx carries none. Repositories route every statement through it so they
// join an enclosing transaction automatically.
func Conn(ctx context.Context, pool DBTX) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

// Transactor runs functions inside a single database transaction.
type Transactor struct {
	pool Pool
}

// NewTransactor creates a Transactor backed by pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTransaction begins a transaction, stores it in the context passed to fn,
// and commits if fn returns nil. Any error or panic from fn rolls back, so a
// cancelled context before commit leaves nothing behind. Nested calls reuse
// the outer transaction.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTx(ctx) {
		return fn(ctx)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return oops.Code(errutil.CodeTransactionFailed).With("operation", "begin").Wrap(err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			slog.Debug("transaction rollback failed", "error", rbErr)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	done = true
	if err := tx.Commit(ctx); err != nil {
		return oops.Code(errutil.CodeTransactionFailed).With("operation", "commit").Wrap(err)
	}
	return nil
}

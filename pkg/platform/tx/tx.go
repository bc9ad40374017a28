// Package tx carries a SQL transaction through context so stores can join an
// already-open transaction without the service layer knowing store internals.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

type scopeKey struct{}

var txKey = ctxKey{}

var unitKey = scopeKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// WithScope marks the context as running inside an atomic unit of work.
// SQL-backed runners use WithTx instead; memory-backed runners use this so
// callers can still assert transactional contracts.
func WithScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, unitKey, true)
}

// InScope reports whether the context carries a transaction or a memory
// unit-of-work marker.
func InScope(ctx context.Context) bool {
	if _, ok := From(ctx); ok {
		return true
	}
	in, _ := ctx.Value(unitKey).(bool)
	return in
}

// Executor is the subset of *sql.DB and *sql.Tx that stores need.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ExecutorFor returns the transaction from context when present, falling back
// to the given database handle.
func ExecutorFor(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}

package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const dbConnKey contextKey = "db_conn"

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// WithConn returns a context carrying conn for repositories to use.
func WithConn(ctx context.Context, conn Querier) context.Context {
	return context.WithValue(ctx, dbConnKey, conn)
}

// ConnFromContext retrieves the scoped connection stored by WithConn.
func ConnFromContext(ctx context.Context) Querier {
	conn, _ := ctx.Value(dbConnKey).(Querier)
	return conn
}

// Conn returns the scoped connection from ctx, or fallback when none is set.
func Conn(ctx context.Context, fallback Querier) Querier {
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return fallback
}

// Scoper runs fn with a dedicated connection that is released when fn
// returns, including when fn panics.
type Scoper interface {
	Scoped(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolScope acquires one connection from a pool per Scoped call.
type PoolScope struct {
	pool *pgxpool.Pool
}

func NewPoolScope(pool *pgxpool.Pool) *PoolScope {
	return &PoolScope{pool: pool}
}

func (s *PoolScope) Scoped(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return fn(WithConn(ctx, conn))
}

// NoScope runs fn directly on the caller's context.
type NoScope struct{}

func (NoScope) Scoped(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// TxScope runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type TxScope struct {
	pool *pgxpool.Pool
}

func NewTxScope(pool *pgxpool.Pool) *TxScope {
	return &TxScope{pool: pool}
}

func (s *TxScope) Scoped(ctx context.Context, fn func(ctx context.Context) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(WithConn(ctx, tx))
	})
}

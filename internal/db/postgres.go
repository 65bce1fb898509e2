// Package db is the executor's database boundary. Compiled operations run
// pre-planned SQL whose rows are single jsonb documents, so the adapter
// surface is deliberately narrow: rows in, raw JSON out.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgxpool.Pool the adapter uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres runs compiled operations against a PostgreSQL pool.
type Postgres struct {
	pool Querier
}

// Connect opens a pgx pool and wraps it.
func Connect(ctx context.Context, dsn string) (*Postgres, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, pool.Close, nil
}

// NewPostgres wraps an existing pool or a test double.
func NewPostgres(pool Querier) *Postgres {
	return &Postgres{pool: pool}
}

// QueryRows runs a read's SQL and returns one JSON document per row. The
// statement's single column is the jsonb projection of the backing view.
func (p *Postgres) QueryRows(ctx context.Context, sql string, args []any) ([]json.RawMessage, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, json.RawMessage(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return out, nil
}

// ExecReturning runs a write's SQL and returns its jsonb result document,
// which carries the mutation payload and the cascade object. A write whose
// function returns no row yields nil.
func (p *Postgres) ExecReturning(ctx context.Context, sql string, args []any) (json.RawMessage, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, sql, args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	return json.RawMessage(doc), nil
}

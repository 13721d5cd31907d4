// Package postgres implements the repository store interfaces on
// PostgreSQL via pgx. The refresh queue claim relies on
// FOR UPDATE SKIP LOCKED, so this package requires a real postgres
// (or compatible) server.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/styryl1/invoicecore/internal/repository"
)

// Store is the pgx-backed implementation of repository.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time check that Store implements repository.Store.
var _ repository.Store = (*Store)(nil)

// NewStore creates a Store on an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

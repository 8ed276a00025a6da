// Package postgres implements the engine/rag/store repositories on
// PostgreSQL using squirrel for query building and scany for row mapping.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBInterface is the minimal pgx surface the repositories need. Both
// *pgxpool.Pool and pgxmock satisfy it.
type DBInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store bundles the repositories over one connection pool.
type Store struct {
	db DBInterface
}

// NewStore wraps an existing database handle.
func NewStore(db DBInterface) *Store {
	return &Store{db: db}
}

// Connect opens a pool against the DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return NewStore(pool), pool, nil
}

// Documents returns the document repository.
func (s *Store) Documents() *DocumentRepo { return &DocumentRepo{db: s.db} }

// Pages returns the page repository.
func (s *Store) Pages() *PageRepo { return &PageRepo{db: s.db} }

// Chunks returns the chunk repository.
func (s *Store) Chunks() *ChunkRepo { return &ChunkRepo{db: s.db} }

// Jobs returns the processing job repository.
func (s *Store) Jobs() *JobRepo { return &JobRepo{db: s.db} }

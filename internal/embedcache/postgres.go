package embedcache

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var _ Cache = (*Postgres)(nil)

// ddl returns the cache schema with the vector dimension baked into the
// column type.
func ddl(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embedding_cache (
    key         TEXT         PRIMARY KEY,
    model       TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_embedding_cache_model
    ON embedding_cache (model);
`, dimensions)
}

// Postgres is an embedding cache backed by a PostgreSQL table with a
// pgvector column. All methods are safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database at dsn, registers pgvector types on
// every connection, and runs [Migrate].
//
// dimensions must match the embedding model in use. Changing it after the
// first migration requires dropping the embedding_cache table.
func NewPostgres(ctx context.Context, dsn string, dimensions int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("embedcache: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedcache: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("embedcache: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates the cache table if it does not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("embedcache: migrate: invalid dimensions %d", dimensions)
	}
	if _, err := pool.Exec(ctx, ddl(dimensions)); err != nil {
		return fmt.Errorf("embedcache: migrate: %w", err)
	}
	return nil
}

// Get implements [Cache].
func (p *Postgres) Get(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT key, embedding FROM embedding_cache WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("embedcache: get: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			vec pgvector.Vector
		)
		if err := rows.Scan(&key, &vec); err != nil {
			return nil, fmt.Errorf("embedcache: scan: %w", err)
		}
		out[key] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("embedcache: get: %w", err)
	}
	return out, nil
}

// Put implements [Cache]. All entries are written in one batch round trip.
func (p *Postgres) Put(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const q = `
		INSERT INTO embedding_cache (key, model, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
		    model      = EXCLUDED.model,
		    embedding  = EXCLUDED.embedding,
		    created_at = now()`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(q, e.Key, e.Model, pgvector.NewVector(e.Vector))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("embedcache: put: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (p *Postgres) Close() {
	p.pool.Close()
}

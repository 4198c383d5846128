package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Postgres-backed Store. Every kind shares one table,
// distinguished by the kind column, so that retention pruning and full
// scans need no per-kind schema migration.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens a connection pool at dsn and ensures the backing
// table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS streamcore_records (
			id         BIGSERIAL PRIMARY KEY,
			kind       TEXT NOT NULL,
			payload    JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS streamcore_records_kind_idx ON streamcore_records (kind, recorded_at);
	`)
	return err
}

// Append inserts one row for kind.
func (s *PostgresStore) Append(ctx context.Context, kind string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: marshal payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO streamcore_records (kind, payload, recorded_at) VALUES ($1, $2, $3)`,
		kind, b, time.Now())
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

// Scan visits every row of kind in insertion order.
func (s *PostgresStore) Scan(ctx context.Context, kind string, fn func(Record) bool) error {
	rows, err := s.pool.Query(ctx,
		`SELECT payload, recorded_at FROM streamcore_records WHERE kind = $1 ORDER BY id ASC`,
		kind)
	if err != nil {
		return fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		var ts time.Time
		if err := rows.Scan(&raw, &ts); err != nil {
			return fmt.Errorf("store: scan row: %w", err)
		}
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		if !fn(Record{Kind: kind, Payload: payload, Timestamp: ts}) {
			break
		}
	}
	return rows.Err()
}

// Prune deletes rows of kind older than cutoff.
func (s *PostgresStore) Prune(ctx context.Context, kind string, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM streamcore_records WHERE kind = $1 AND recorded_at < $2`,
		kind, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresBackend stores values in the kv_store table.
type PostgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgresBackend wraps a pool. Call EnsureSchema once before use.
func NewPostgresBackend(db *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// EnsureSchema creates the kv_store table when missing.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, kvSchema); err != nil {
		return fmt.Errorf("create kv_store: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.db.Exec(ctx, `INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	return err
}

func (p *PostgresBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	if err := p.db.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := p.db.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key)
	return err
}

package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgxpool.Pool the store uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	createCheckpointTable = `CREATE TABLE IF NOT EXISTS import_checkpoints (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	selectCheckpoint = `SELECT value FROM import_checkpoints WHERE key = $1`
	upsertCheckpoint = `INSERT INTO import_checkpoints (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	deleteCheckpoint = `DELETE FROM import_checkpoints WHERE key = $1`
	listCheckpoints  = `SELECT key FROM import_checkpoints WHERE left(key, length($1)) = $1 ORDER BY key`
)

// PostgresStore keeps checkpoints in the import_checkpoints table. Each
// save is a single-row upsert, which Postgres applies atomically.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore returns a store over db. Call Migrate once before use
// if the table may not exist.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the checkpoint table if it is missing.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createCheckpointTable); err != nil {
		return fmt.Errorf("create import_checkpoints: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.db.QueryRow(ctx, selectCheckpoint, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.db.Exec(ctx, upsertCheckpoint, key, value)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.db.Exec(ctx, deleteCheckpoint, key)
	return err
}

// Keys lists keys with the given prefix.
func (p *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.Query(ctx, listCheckpoints, prefix)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

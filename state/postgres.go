package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// PostgresStore keeps the snapshot in a single-row table. The schema is applied
// idempotently at construction so no external migration tooling is needed for
// one blob column.
type PostgresStore struct {
	db  *sql.DB
	key string
}

// Connect opens a Postgres connection for snapshot storage.
func Connect(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// NewPostgresStore ensures the snapshot table exists and returns the store.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS herald_state (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return nil, fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return &PostgresStore{db: db, key: "pending_checks"}, nil
}

func (ps *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var raw []byte
	err := ps.db.QueryRowContext(ctx, `SELECT value FROM herald_state WHERE key=$1`, ps.key).Scan(&raw)
	if err == sql.ErrNoRows {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot row: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot row: %w", err)
	}
	return snap, nil
}

func (ps *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	q := `INSERT INTO herald_state(key, value, updated_at) VALUES($1,$2,NOW())
		  ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`
	if _, err := ps.db.ExecContext(ctx, q, ps.key, b); err != nil {
		return fmt.Errorf("upsert snapshot row: %w", err)
	}
	return nil
}

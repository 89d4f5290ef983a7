package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore appends entries to a run_ledger table.
//
// Schema (created on connect if absent):
//
//	CREATE TABLE run_ledger (
//	  id          BIGSERIAL PRIMARY KEY,
//	  run_id      TEXT NOT NULL,
//	  kind        TEXT NOT NULL,
//	  name        TEXT NOT NULL,
//	  recorded_at TIMESTAMPTZ NOT NULL,
//	  payload     JSONB NOT NULL
//	);
//	CREATE INDEX idx_run_ledger_run ON run_ledger(run_id, id);
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS run_ledger (
		id          BIGSERIAL PRIMARY KEY,
		run_id      TEXT NOT NULL,
		kind        TEXT NOT NULL,
		name        TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		payload     JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_run_ledger_run ON run_ledger(run_id, id);
`

// NewPostgresStore connects to Postgres and ensures the ledger table exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connCtx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	if _, err := pool.Exec(connCtx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create run_ledger table: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Append(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	query := `
		INSERT INTO run_ledger (run_id, kind, name, recorded_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := p.pool.Exec(ctx, query, e.RunID, e.Kind, e.Name, e.Timestamp, payload); err != nil {
		return fmt.Errorf("postgres insert failed: %w", err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, runID string) ([]Entry, error) {
	query := `SELECT payload FROM run_ledger WHERE run_id = $1 ORDER BY id`

	rows, err := p.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		var e Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a durable Store backed by PostgreSQL. It owns a single
// table created on first open, so no external migration step is needed.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool, verifies connectivity and ensures
// the cursor table exists.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 5
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS source_cursors (
			instance_id TEXT PRIMARY KEY,
			marker      JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create cursor table: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, instanceID string) (Marker, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT marker FROM source_cursors WHERE instance_id = $1`,
		instanceID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor for %s: %w", instanceID, err)
	}

	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("decode cursor for %s: %w", instanceID, err)
	}
	return marker, nil
}

func (p *Postgres) Advance(ctx context.Context, instanceID string, marker Marker) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("encode cursor for %s: %w", instanceID, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO source_cursors (instance_id, marker, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (instance_id)
		DO UPDATE SET marker = EXCLUDED.marker, updated_at = now()
	`, instanceID, data)
	if err != nil {
		return fmt.Errorf("advance cursor for %s: %w", instanceID, err)
	}
	return nil
}

func (p *Postgres) Reset(ctx context.Context, instanceID string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM source_cursors WHERE instance_id = $1`, instanceID)
	if err != nil {
		return fmt.Errorf("reset cursor for %s: %w", instanceID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

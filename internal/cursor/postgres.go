package cursor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore is an alternate Store backend for deployments that want
// consumer cursor state centralized rather than scattered across local
// state files — several pqact instances sharing one row table, for
// instance. The schema is a single upsert-keyed table:
//
//	CREATE TABLE ldm_cursors (
//		consumer_key TEXT PRIMARY KEY,
//		position_ns  BIGINT NOT NULL,
//		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	)
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresStore opens dsn and returns a Store using the ldm_cursors
// table. sqlx.Connect pings the server, so an unreachable database is
// reported here as an error.
func NewPostgresStore(dsn string, timeout time.Duration) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cursor: connect postgres: %w", err)
	}
	return &PostgresStore{db: db, timeout: timeout}, nil
}

func (p *PostgresStore) Load(ctx context.Context, key string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var positionNs int64
	err := p.db.GetContext(ctx, &positionNs,
		`SELECT position_ns FROM ldm_cursors WHERE consumer_key = $1`, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("cursor: load %q: %w", key, err)
	}
	return time.Unix(0, positionNs).UTC(), true, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, ts time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ldm_cursors (consumer_key, position_ns, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (consumer_key) DO UPDATE SET
			position_ns = EXCLUDED.position_ns,
			updated_at = EXCLUDED.updated_at`,
		key, ts.UnixNano())
	if err != nil {
		return fmt.Errorf("cursor: save %q: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

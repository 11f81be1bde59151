package pqact

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// dbSink is the narrow interface writeDBFile needs, satisfied by
// *sqlx.DB; tests substitute a recording fake.
type dbSink interface {
	ExecContext(ctx context.Context, query string, args ...any) (sqlResult, error)
}

type sqlResult interface {
	RowsAffected() (int64, error)
}

// sqlxAdapter adapts *sqlx.DB's ExecContext (which returns sql.Result) to
// dbSink without the pqact package depending on database/sql directly.
type sqlxAdapter struct{ db *sqlx.DB }

func (a sqlxAdapter) ExecContext(ctx context.Context, query string, args ...any) (sqlResult, error) {
	return a.db.ExecContext(ctx, query, args...)
}

// NewSQLXSink wraps db for use as the Dispatcher's DBFile sink.
func NewSQLXSink(db *sqlx.DB) dbSink { return sqlxAdapter{db: db} }

// writeDBFile records one row per matched product into the pqact_products
// table — the `dbfile` action's destination. It is a plain INSERT, not an
// upsert like internal/cursor's Postgres backend uses. expanded is
// stored verbatim as the row's tag, letting the rule author route products
// into logical categories via the template string.
func (d *Dispatcher) writeDBFile(expanded string, payload []byte) error {
	if d.dbSink == nil {
		return fmt.Errorf("pqact: dbfile action used with no database sink configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := d.dbSink.ExecContext(ctx, `
		INSERT INTO pqact_products (tag, size_bytes, received_at)
		VALUES ($1, $2, now())`,
		expanded, len(payload))
	if err != nil {
		return fmt.Errorf("pqact: dbfile insert: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/store"
)

// DB implements store.Store on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

// New opens a pool for dsn. The schema is created lazily on first use so that
// construction does not require a reachable server.
func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS zapm_processes(
			name TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			working_dir TEXT NOT NULL DEFAULT '',
			env TEXT NULL,
			auto_restart BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL,
			pid INTEGER NOT NULL DEFAULT 0,
			start_time TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`)
	return err
}

func (p *DB) Load(ctx context.Context) (map[string]process.Record, error) {
	if err := p.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+store.Columns+` FROM zapm_processes;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return store.ScanRecords(rows)
}

func (p *DB) Save(ctx context.Context, recs map[string]process.Record) error {
	if err := p.EnsureSchema(ctx); err != nil {
		return err
	}
	return store.ReplaceAll(ctx, p.db, "zapm_processes",
		`INSERT INTO zapm_processes(`+store.Columns+`) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`, recs)
}

func (p *DB) Close() error { return p.db.Close() }

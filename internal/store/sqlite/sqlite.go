package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/store"
)

// DB implements store.Store on SQLite (modernc.org/sqlite, CGO-free).
// The DSN is a file path; ":memory:" keeps everything in one connection.
type DB struct {
	db *sql.DB
}

// New opens the database at path and creates the schema if missing.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single writer avoids SQLITE_BUSY and keeps :memory: databases stable
	d.SetMaxOpenConns(1)
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &DB{db: d}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS processes(
			name TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			working_dir TEXT NOT NULL DEFAULT '',
			env TEXT NULL,
			auto_restart BOOLEAN NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			pid INTEGER NOT NULL DEFAULT 0,
			start_time TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`)
	return err
}

func (s *DB) Load(ctx context.Context) (map[string]process.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+store.Columns+` FROM processes;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return store.ScanRecords(rows)
}

func (s *DB) Save(ctx context.Context, recs map[string]process.Record) error {
	return store.ReplaceAll(ctx, s.db, "processes",
		`INSERT INTO processes(`+store.Columns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`, recs)
}

func (s *DB) Close() error { return s.db.Close() }

package factory

import (
	"errors"
	"strings"

	"github.com/loykin/zapm/internal/store"
	pg "github.com/loykin/zapm/internal/store/postgres"
	sq "github.com/loykin/zapm/internal/store/sqlite"
	"github.com/loykin/zapm/internal/store/yamlfile"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - sqlite:  "sqlite://<path>" or a path ending in .db, .sqlite or .sqlite3
//   - yaml:    "file://<path>" or any other path (the default processes.yaml)
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	switch {
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case strings.HasPrefix(ld, "file://"):
		return yamlfile.New(d[len("file://"):]), nil
	case ld == ":memory:" || strings.HasSuffix(ld, ".db") || strings.HasSuffix(ld, ".sqlite") || strings.HasSuffix(ld, ".sqlite3"):
		return sq.New(d)
	}
	return yamlfile.New(d), nil
}

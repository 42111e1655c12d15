package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loykin/zapm/internal/process"
)

// Store is the durable copy of the process registry. Saves always carry the
// full table; there is no incremental persistence.
type Store interface {
	Load(ctx context.Context) (map[string]process.Record, error)
	Save(ctx context.Context, recs map[string]process.Record) error
	Close() error
}

// ParseError reports persisted data that could not be decoded.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Source, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// LoadOrEmpty never fails: any load error is logged as a warning and an
// empty table is returned instead.
func LoadOrEmpty(ctx context.Context, s Store, logger *slog.Logger) map[string]process.Record {
	recs, err := s.Load(ctx)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("failed to load process table, starting empty", "error", err)
		return make(map[string]process.Record)
	}
	if recs == nil {
		recs = make(map[string]process.Record)
	}
	for name, r := range recs {
		if r.Name == "" {
			r.Name = name
			recs[name] = r
		}
	}
	return recs
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/loykin/zapm/internal/process"
)

// Columns shared by the SQL backends, in insert/select order.
const Columns = "name, command, working_dir, env, auto_restart, status, pid, start_time, created_at, updated_at"

// ScanRecords reads rows selected with Columns.
func ScanRecords(rows *sql.Rows) (map[string]process.Record, error) {
	out := make(map[string]process.Record)
	for rows.Next() {
		var (
			r      process.Record
			envRaw sql.NullString
			status string
			start  sql.NullTime
		)
		if err := rows.Scan(&r.Name, &r.Command, &r.WorkingDir, &envRaw, &r.AutoRestart, &status, &r.PID, &start, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if envRaw.Valid && envRaw.String != "" {
			if err := json.Unmarshal([]byte(envRaw.String), &r.Env); err != nil {
				return nil, &ParseError{Source: "env of " + r.Name, Err: err}
			}
		}
		st, err := process.ParseStatus(status)
		if err != nil {
			return nil, &ParseError{Source: "status of " + r.Name, Err: err}
		}
		r.Status = st
		if start.Valid {
			t := start.Time
			r.StartTime = &t
		}
		out[r.Name] = r
	}
	return out, rows.Err()
}

// ReplaceAll rewrites the table inside one transaction. insert must take the
// ten Columns as parameters.
func ReplaceAll(ctx context.Context, db *sql.DB, table, insert string, recs map[string]process.Record) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	// #nosec G202
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, r := range recs {
		var envRaw any
		if len(r.Env) > 0 {
			b, err := json.Marshal(r.Env)
			if err != nil {
				return err
			}
			envRaw = string(b)
		}
		var start any
		if r.StartTime != nil {
			start = r.StartTime.UTC()
		}
		if _, err := stmt.ExecContext(ctx, r.Name, r.Command, r.WorkingDir, envRaw, r.AutoRestart,
			string(r.Status), r.PID, start, r.CreatedAt.UTC(), r.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("insert %s: %w", r.Name, err)
		}
	}
	return tx.Commit()
}

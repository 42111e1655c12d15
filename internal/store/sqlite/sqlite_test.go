package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/zapm/internal/process"
)

func TestSQLiteRoundTrip(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	started := now.Add(-time.Minute)
	recs := map[string]process.Record{
		"svc": {Name: "svc", Command: "sleep 100", Env: map[string]string{"A": "1"}, AutoRestart: true,
			Status: process.StatusRunning, PID: 1111, StartTime: &started, CreatedAt: now, UpdatedAt: now},
		"idle": {Name: "idle", Command: "true", Status: process.StatusStopped, CreatedAt: now, UpdatedAt: now},
	}
	if err := db.Save(ctx, recs); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	svc := got["svc"]
	if svc.PID != 1111 || svc.Status != process.StatusRunning || !svc.AutoRestart || svc.Env["A"] != "1" {
		t.Fatalf("unexpected record: %+v", svc)
	}
	if svc.StartTime == nil || !svc.StartTime.Equal(started) {
		t.Fatalf("start time mismatch: %v", svc.StartTime)
	}
	if idle := got["idle"]; idle.StartTime != nil || idle.PID != 0 {
		t.Fatalf("unexpected idle record: %+v", idle)
	}

	// a full save replaces the table
	delete(recs, "svc")
	if err := db.Save(ctx, recs); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = db.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := got["svc"]; ok || len(got) != 1 {
		t.Fatalf("expected svc removed, got %v", got)
	}
}

func TestSQLiteFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zapm.db")
	db, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now().UTC()
	ctx := context.Background()
	if err := db.Save(ctx, map[string]process.Record{"a": {Name: "a", Command: "x", Status: process.StatusUnknown, CreatedAt: now, UpdatedAt: now}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = db.Close()

	db2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	got, err := db2.Load(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("reload: %v %v", got, err)
	}
}

func TestNewEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

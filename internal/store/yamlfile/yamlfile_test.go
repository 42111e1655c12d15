package yamlfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/store"
)

func sampleTable() map[string]process.Record {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	return map[string]process.Record{
		"web": {
			Name: "web", Command: "python -m http.server 8000", WorkingDir: "/srv",
			Env: map[string]string{"PORT": "8000"}, AutoRestart: true,
			Status: process.StatusRunning, PID: 4242, StartTime: &started,
			CreatedAt: created, UpdatedAt: started,
		},
		"worker": {
			Name: "worker", Command: "sleep 100", Status: process.StatusUnknown,
			CreatedAt: created, UpdatedAt: created,
		},
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "processes.yaml")
	s := New(path)
	ctx := context.Background()
	want := sampleTable()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := New(path).Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records want %d", len(got), len(want))
	}
	web := got["web"]
	if web.Command != want["web"].Command || web.PID != 4242 || web.Status != process.StatusRunning {
		t.Fatalf("unexpected web record: %+v", web)
	}
	if web.Env["PORT"] != "8000" || !web.AutoRestart || web.WorkingDir != "/srv" {
		t.Fatalf("config fields lost: %+v", web)
	}
	if web.StartTime == nil || !web.StartTime.Equal(*want["web"].StartTime) {
		t.Fatalf("start time lost: %v", web.StartTime)
	}
	if !web.CreatedAt.Equal(want["web"].CreatedAt) {
		t.Fatalf("created_at lost: %v", web.CreatedAt)
	}
	if w := got["worker"]; w.PID != 0 || w.StartTime != nil || w.Status != process.StatusUnknown {
		t.Fatalf("unexpected worker record: %+v", w)
	}
	assertNoTempFiles(t, filepath.Dir(path))
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	left, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestConcurrentWritersOnSamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processes.yaml")
	// two stores stand in for the CLI and the server
	a, b := New(path), New(path)
	ctx := context.Background()
	var wg sync.WaitGroup
	for _, s := range []*Store{a, b} {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := s.Save(ctx, sampleTable()); err != nil {
					t.Errorf("Save: %v", err)
					return
				}
			}
		}(s)
	}
	wg.Wait()

	got, err := New(path).Load(ctx)
	if err != nil {
		t.Fatalf("Load after concurrent saves: %v", err)
	}
	if len(got) != len(sampleTable()) {
		t.Fatalf("got %d records want %d", len(got), len(sampleTable()))
	}
	assertNoTempFiles(t, filepath.Dir(path))
}

func TestLoadMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent.yaml"))
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty table, got %d", len(got))
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processes.yaml")
	if err := os.WriteFile(path, []byte("web: [unterminated\n  - :"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := New(path)
	_, err := s.Load(context.Background())
	var pe *store.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if got := store.LoadOrEmpty(context.Background(), s, nil); len(got) != 0 {
		t.Fatalf("LoadOrEmpty should degrade to empty table, got %d", len(got))
	}
}

func TestChangedDetectsForeignWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processes.yaml")
	s := New(path)
	ctx := context.Background()
	if err := s.Save(ctx, sampleTable()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if s.Changed() {
		t.Fatalf("own write must not count as a change")
	}
	other := New(path)
	tbl := sampleTable()
	delete(tbl, "worker")
	if err := other.Save(ctx, tbl); err != nil {
		t.Fatalf("foreign save: %v", err)
	}
	if !s.Changed() {
		t.Fatalf("foreign write not detected")
	}
	if _, err := s.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.Changed() {
		t.Fatalf("reload should reset change tracking")
	}
}

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestProcessWritersFromDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	cfg := Config{File: FileConfig{Dir: dir}}
	outW, errW, err := cfg.ProcessWriters("web")
	if err != nil {
		t.Fatalf("ProcessWriters: %v", err)
	}
	_, _ = outW.Write([]byte("out\n"))
	_, _ = errW.Write([]byte("err\n"))
	_ = outW.Close()
	_ = errW.Close()
	for _, name := range []string{"web.stdout.log", "web.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
	}
}

func TestProcessWritersNoDestination(t *testing.T) {
	outW, errW, err := Config{}.ProcessWriters("web")
	if err != nil || outW != nil || errW != nil {
		t.Fatalf("expected nil writers, got %v %v %v", outW, errW, err)
	}
}

func TestProcessWritersRotationSettings(t *testing.T) {
	cfg := Config{File: FileConfig{StdoutPath: "a.log", MaxBackups: 9, Compress: true}}
	outW, errW, _ := cfg.ProcessWriters("n")
	if errW != nil {
		t.Fatalf("stderr writer should be nil")
	}
	l, ok := outW.(*lj.Logger)
	if !ok {
		t.Fatalf("expected lumberjack writer, got %T", outW)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != 9 || l.MaxAge != DefaultMaxAgeDays || !l.Compress {
		t.Fatalf("unexpected rotation settings: %+v", l)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
}

func TestNewSloggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l, c := Config{Slog: SlogConfig{Format: "json", Level: "debug"}}.NewSlogger(&buf)
	defer func() { _ = c.Close() }()
	l.Debug("hello", "name", "web")
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if m["msg"] != "hello" || m["name"] != "web" {
		t.Fatalf("unexpected record %v", m)
	}
}

func TestNewSloggerFilters(t *testing.T) {
	var buf bytes.Buffer
	l, _ := Config{Slog: SlogConfig{Level: "warn"}}.NewSlogger(&buf)
	l.Info("quiet")
	l.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Fatalf("level filter not applied: %q", buf.String())
	}
}

func TestNewSloggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zapm.log")
	var buf bytes.Buffer
	l, c := Config{Slog: SlogConfig{Path: path}}.NewSlogger(&buf)
	l.Info("persisted")
	_ = c.Close()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.Contains(string(b), "persisted") || !strings.Contains(buf.String(), "persisted") {
		t.Fatalf("expected message in both sinks")
	}
}

func TestColorTextHandlerPrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil, true))
	l.Error("boom")
	out := buf.String()
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "boom") {
		t.Fatalf("missing level prefix: %q", out)
	}
	if strings.Contains(out, "level=") {
		t.Fatalf("level attribute should be folded into the message: %q", out)
	}
}

func TestProcessFilesAreAppendFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	cfg := Config{File: FileConfig{Dir: dir}}
	for i := 0; i < 2; i++ {
		outW, errW, err := cfg.ProcessFiles("job")
		if err != nil {
			t.Fatalf("ProcessFiles: %v", err)
		}
		if _, ok := outW.(*os.File); !ok {
			t.Fatalf("expected *os.File, got %T", outW)
		}
		_, _ = outW.Write([]byte("line\n"))
		_ = outW.Close()
		_ = errW.Close()
	}
	b, err := os.ReadFile(filepath.Join(dir, "job.stdout.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.Count(string(b), "line\n"); got != 2 {
		t.Fatalf("expected 2 appended lines, got %d", got)
	}

	none := Config{}
	outW, errW, err := none.ProcessFiles("job")
	if err != nil || outW != nil || errW != nil {
		t.Fatalf("expected nil writers without destination, got %v %v %v", outW, errW, err)
	}
}

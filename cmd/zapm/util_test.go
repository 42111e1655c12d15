package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/loykin/zapm/internal/logger"
	"github.com/loykin/zapm/internal/manager"
	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/prober"
)

func TestFormatUptime(t *testing.T) {
	cases := map[uint64]string{
		0:      "0s",
		59:     "59s",
		61:     "1m 1s",
		3600:   "1h 0m 0s",
		90061:  "1d 1h 1m 1s",
		172800: "2d 0h 0m 0s",
	}
	for in, want := range cases {
		if got := formatUptime(in); got != want {
			t.Fatalf("formatUptime(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatMemory(t *testing.T) {
	if got := formatMemory(512); got != "512 KiB" {
		t.Fatalf("got %q", got)
	}
	if got := formatMemory(2048); got != "2.0 MiB" {
		t.Fatalf("got %q", got)
	}
}

func TestParseEnvPairs(t *testing.T) {
	m, err := parseEnvPairs([]string{"A=1", "B=x=y", "C="})
	if err != nil {
		t.Fatalf("parseEnvPairs: %v", err)
	}
	if m["A"] != "1" || m["B"] != "x=y" || m["C"] != "" {
		t.Fatalf("unexpected map: %v", m)
	}
	if _, err := parseEnvPairs([]string{"novalue"}); err == nil {
		t.Fatalf("expected error for missing '='")
	}
	if _, err := parseEnvPairs([]string{"=v"}); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if m, err := parseEnvPairs(nil); err != nil || m != nil {
		t.Fatalf("expected nil map, got %v %v", m, err)
	}
}

func TestPrintListAndStatus(t *testing.T) {
	now := time.Now()
	started := now.Add(-90 * time.Second)
	recs := []process.Record{
		{Name: "api", Command: "sleep 30", Status: process.StatusRunning, PID: 42, StartTime: &started, AutoRestart: true},
		{Name: "job", Command: "true", Status: process.StatusStopped},
	}
	var buf bytes.Buffer
	printList(&buf, recs, now)
	out := buf.String()
	for _, want := range []string{"NAME", "api", "Running", "42", "1m 30s", "job", "Stopped"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printList(&buf, nil, now)
	if strings.TrimSpace(buf.String()) != "No processes found" {
		t.Fatalf("unexpected empty output %q", buf.String())
	}

	buf.Reset()
	views := []manager.View{{Record: recs[0], Metrics: &prober.Metrics{MemoryKB: 2048, CPUPercent: 1.5}}, {Record: recs[1]}}
	printStatusTable(&buf, views, now)
	if !strings.Contains(buf.String(), "2.0 MiB") || !strings.Contains(buf.String(), "1.5%") {
		t.Fatalf("status table missing metrics:\n%s", buf.String())
	}

	buf.Reset()
	recs[0].Env = map[string]string{"B": "2", "A": "1"}
	recs[0].WorkingDir = "/srv"
	printDetails(&buf, manager.View{Record: recs[0]}, logger.Config{File: logger.FileConfig{Dir: "/var/log/zapm"}}, now)
	out = buf.String()
	for _, want := range []string{"Process:", "api", "/srv", "/var/log/zapm/api.stdout.log", "A=1\n  B=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("details missing %q:\n%s", want, out)
		}
	}
}

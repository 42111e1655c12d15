package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherNames(t *testing.T, g prometheus.Gatherer) map[string]int {
	t.Helper()
	mfs, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]int)
	for _, mf := range mfs {
		out[mf.GetName()] = len(mf.GetMetric())
	}
	return out
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("a")
	IncStop("a")
	IncAutoRestart("a")
	IncFailure("a")
	IncSpawnError("a")
	IncRestartSuppressed("a")
	SetState("a", "Running")
	ObserveMonitorPass(0.01)

	names := gatherNames(t, reg)
	for _, n := range []string{
		"zapm_process_starts_total",
		"zapm_process_stops_total",
		"zapm_process_auto_restarts_total",
		"zapm_process_failures_total",
		"zapm_process_spawn_errors_total",
		"zapm_monitor_restarts_suppressed_total",
		"zapm_process_current_state",
		"zapm_monitor_pass_duration_seconds",
	} {
		if names[n] == 0 {
			t.Fatalf("expected samples for %s", n)
		}
	}
	if names["zapm_process_current_state"] != len(states) {
		t.Fatalf("expected one state series per state, got %d", names["zapm_process_current_state"])
	}

	ForgetProcess("a")
	names = gatherNames(t, reg)
	if names["zapm_process_current_state"] != 0 || names["zapm_process_starts_total"] != 0 {
		t.Fatalf("series for a should be gone: %v", names)
	}
}

func TestResourceCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewResourceCollector(func() []Sample {
		return []Sample{{Name: "web", PID: 42, MemoryBytes: 2048, CPUPercent: 1.5, UptimeSecs: 60}}
	})
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`zapm_process_resident_memory_bytes{name="web",pid="42"} 2048`,
		`zapm_process_cpu_percent{name="web",pid="42"} 1.5`,
		`zapm_process_uptime_seconds{name="web",pid="42"} 60`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

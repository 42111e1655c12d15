package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loykin/zapm/internal/history"
	"github.com/loykin/zapm/internal/process"
)

func TestSinkSend(t *testing.T) {
	var (
		gotPath string
		gotBody []byte
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	rec := process.Record{Name: "web", Command: "sleep 5", Status: process.StatusRunning, PID: 4321}
	if err := New(ts.URL+"/", "zapm-events").Send(context.Background(), history.NewEvent(history.EventStart, rec, "")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/zapm-events/_doc" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	var doc map[string]any
	if err := json.Unmarshal(gotBody, &doc); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if doc["type"] != "start" {
		t.Fatalf("unexpected type: %v", doc["type"])
	}
	r, ok := doc["record"].(map[string]any)
	if !ok || r["name"] != "web" || r["pid"] != float64(4321) {
		t.Fatalf("unexpected record: %v", doc["record"])
	}
}

func TestSinkSendError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	err := New(ts.URL, "idx").Send(context.Background(), history.NewEvent(history.EventStop, process.Record{Name: "a"}, ""))
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
}

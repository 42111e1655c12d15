package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSendsJSON(t *testing.T) {
	var (
		gotPath, gotCT string
		gotBody        map[string]any
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_, _ = w.Write([]byte("Process web started successfully (pid 7)\n"))
	}))
	defer ts.Close()

	on := true
	msg, err := New(Config{BaseURL: ts.URL + "/"}).Start(context.Background(), "web", StartRequest{AutoRestart: &on})
	require.NoError(t, err)
	assert.Equal(t, "Process web started successfully (pid 7)", msg)
	assert.Equal(t, "/api/processes/web/start", gotPath)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, map[string]any{"auto_restart": true}, gotBody)
}

func TestGetNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Process not found", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := New(Config{BaseURL: ts.URL}).Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Process not found", ae.Message)
}

func TestListAndUpsert(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/processes", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"web":{"name":"web","command":"sleep 1","status":"Running","pid":12,"metrics":{"memory_kb":2048,"cpu_percent":0.5,"run_time_secs":3}}}`))
	})
	mux.HandleFunc("/api/processes/web", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var d Definition
		_ = json.NewDecoder(r.Body).Decode(&d)
		_ = json.NewEncoder(w).Encode(Process{Name: "web", Command: d.Command, Status: "Stopped", AutoRestart: d.AutoRestart})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	c := New(Config{BaseURL: ts.URL})

	all, err := c.List(context.Background())
	require.NoError(t, err)
	require.Contains(t, all, "web")
	assert.Equal(t, 12, all["web"].PID)
	require.NotNil(t, all["web"].Metrics)
	assert.Equal(t, uint64(2048), all["web"].Metrics.MemoryKB)

	p, err := c.Upsert(context.Background(), "web", Definition{Command: "sleep 2", AutoRestart: true})
	require.NoError(t, err)
	assert.Equal(t, "sleep 2", p.Command)
	assert.True(t, p.AutoRestart)
}

func TestServerErrorCarriesMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "terminate web (pid 3): operation not permitted", http.StatusInternalServerError)
	}))
	defer ts.Close()
	c := New(Config{BaseURL: ts.URL})

	err := c.Stop(context.Background(), "web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation not permitted")
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Error(t, c.Restart(context.Background(), "web"))
	assert.Error(t, c.Delete(context.Background(), "web"))
}

func TestIsReachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	c := New(Config{BaseURL: ts.URL})
	assert.True(t, c.IsReachable(context.Background()))
	ts.Close()
	assert.False(t, c.IsReachable(context.Background()))
}

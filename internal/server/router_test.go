package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/zapm/internal/manager"
	"github.com/loykin/zapm/internal/metrics"
	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/registry"
	"github.com/loykin/zapm/internal/store/yamlfile"
)

func newTestRouter(t *testing.T, opts ...Option) (*manager.Supervisor, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := registry.New(context.Background(), yamlfile.New(filepath.Join(t.TempDir(), "processes.yaml")), nil)
	sup := manager.New(manager.Options{Registry: reg, StopGrace: 500 * time.Millisecond})
	t.Cleanup(func() {
		for _, name := range reg.Names() {
			_, _ = sup.Stop(context.Background(), name)
		}
	})
	return sup, NewRouter(sup, opts...).Handler()
}

func do(h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListEmpty(t *testing.T) {
	_, h := newTestRouter(t)
	rec := do(h, http.MethodGet, "/api/processes", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestUpsertThenGet(t *testing.T) {
	_, h := newTestRouter(t)
	rec := do(h, http.MethodPost, "/api/processes/web", "application/json",
		`{"command":"python -m http.server 8000","env":{"PORT":"8000"},"auto_restart":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/processes/web", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "web", got["name"])
	assert.Equal(t, "Stopped", got["status"])
	assert.Equal(t, true, got["auto_restart"])
	assert.NotContains(t, got, "pid")
	assert.NotContains(t, got, "metrics")

	rec = do(h, http.MethodGet, "/api/processes", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Contains(t, all, "web")
}

func TestGetMissing(t *testing.T) {
	_, h := newTestRouter(t)
	rec := do(h, http.MethodGet, "/api/processes/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidName(t *testing.T) {
	_, h := newTestRouter(t)
	rec := do(h, http.MethodGet, "/api/processes/bad%20name", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRequiresJSON(t *testing.T) {
	_, h := newTestRouter(t)
	rec := do(h, http.MethodPost, "/api/processes/web/start", "text/plain", `{}`)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	rec = do(h, http.MethodPost, "/api/processes/web/start", "", ``)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestStartMalformedJSON(t *testing.T) {
	_, h := newTestRouter(t)
	rec := do(h, http.MethodPost, "/api/processes/web/start", "application/json", `{"command":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid JSON")
}

func TestStartEngineErrorIs500(t *testing.T) {
	_, h := newTestRouter(t)
	rec := do(h, http.MethodPost, "/api/processes/web/start", "application/json; charset=utf-8", ``)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), process.ErrEmptyCommand.Error())
}

func TestStartRejectsRelativeWorkingDir(t *testing.T) {
	_, h := newTestRouter(t)
	rec := do(h, http.MethodPost, "/api/processes/web/start", "application/json", `{"command":"sleep 1","working_dir":"../x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertRequiresJSON(t *testing.T) {
	_, h := newTestRouter(t)
	rec := do(h, http.MethodPost, "/api/processes/web", "text/plain", `{"command":"x"}`)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	rec = do(h, http.MethodPost, "/api/processes/web", "application/json", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStopRestartDeleteMissing(t *testing.T) {
	_, h := newTestRouter(t)
	rec := do(h, http.MethodPost, "/api/processes/ghost/stop", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "ghost")
	rec = do(h, http.MethodPost, "/api/processes/ghost/restart", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
	assert.Equal(t, http.StatusOK, do(h, http.MethodDelete, "/api/processes/ghost", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/processes/ghost", "", "").Code)
}

func TestStopAndDeleteStoppedRecord(t *testing.T) {
	sup, h := newTestRouter(t)
	_, err := sup.Upsert(context.Background(), manager.Definition{Name: "idle", Command: "sleep 1"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/processes/idle/stop", "", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodDelete, "/api/processes/idle", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/processes/idle", "", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	_, h := newTestRouter(t, WithMetrics(metrics.HandlerFor(reg)))
	metrics.IncStart("probe")

	rec := do(h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "zapm_process_starts_total")

	_, plain := newTestRouter(t)
	assert.Equal(t, http.StatusNotFound, do(plain, http.MethodGet, "/metrics", "", "").Code)
}

func TestIsSafeAbsPath(t *testing.T) {
	cases := map[string]bool{
		"":          true,
		"/srv/app":  true,
		"/srv/app/": true,
		"srv/app":   false,
		"/srv/../x": false,
	}
	for in, want := range cases {
		if got := isSafeAbsPath(in); got != want {
			t.Fatalf("isSafeAbsPath(%q) = %v, want %v", in, got, want)
		}
	}
}

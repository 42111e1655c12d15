package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, c.Server.Host)
	assert.Equal(t, DefaultPort, c.Server.Port)
	assert.Equal(t, "http://localhost:2400", c.Server.APIBaseURL)
	assert.Equal(t, filepath.Join(dir, StoreFileName), c.Store.DSN)
	assert.Equal(t, 5*time.Second, c.Monitor.Interval)
	assert.Equal(t, 0, c.Monitor.MaxRestarts)
	assert.Equal(t, "info", c.Log.Slog.Level)
	assert.Equal(t, filepath.Join(dir, "logs"), c.Log.File.Dir)
	assert.Equal(t, 10, c.Log.File.MaxSizeMB)
	assert.True(t, c.UseOSEnv)
	assert.Equal(t, 3*time.Second, c.StopGrace)
	assert.Equal(t, filepath.Join(dir, PIDFileName), c.PIDFile())

	_, err = os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err, "default file written on first use")
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  host: 0.0.0.0
  port: 9000
monitor:
  interval: 1s
  max_restarts: 5
  restart_window: 2m
metrics:
  enabled: true
history:
  sinks:
    - sqlite://history.db
env:
  - GREETING=hello
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600))
	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", c.Server.Addr())
	assert.Equal(t, "http://0.0.0.0:9000", c.Server.APIBaseURL)
	assert.Equal(t, time.Second, c.Monitor.Interval)
	assert.Equal(t, 5, c.Monitor.MaxRestarts)
	assert.Equal(t, 2*time.Minute, c.Monitor.RestartWindow)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, []string{"sqlite://history.db"}, c.History.Sinks)
	assert.Equal(t, []string{"GREETING=hello"}, c.Env)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ZAPM_SERVER_PORT", "2500")
	t.Setenv("ZAPM_SERVER_API_BASE_URL", "http://remote:2500/")
	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2500, c.Server.Port)
	assert.Equal(t, "http://remote:2500", c.Server.APIBaseURL)
}

func TestMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("server: [unclosed"), 0o600))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestDirResolution(t *testing.T) {
	t.Setenv("ZAPM_HOME", "/opt/zapm/")
	assert.Equal(t, "/opt/zapm", Dir())

	t.Setenv("ZAPM_HOME", "")
	d := Dir()
	if os.Geteuid() == 0 {
		assert.Equal(t, "/etc/zapm", d)
	} else {
		assert.True(t, strings.HasSuffix(d, ".zapm"), d)
	}
}

func TestChildEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.env"), []byte("FROM_FILE=1\nOVERRIDE=file\n"), 0o600))
	c := &Config{
		Dir:      dir,
		EnvFiles: []string{"app.env"},
		Env:      []string{"OVERRIDE=list", "PATH_COPY=${FROM_FILE}"},
	}
	e, err := c.ChildEnv()
	require.NoError(t, err)
	merged := e.Merge(map[string]string{"LOCAL": "x"})
	assert.ElementsMatch(t, []string{"FROM_FILE=1", "LOCAL=x", "OVERRIDE=list", "PATH_COPY=1"}, merged)

	c.EnvFiles = []string{"missing.env"}
	_, err = c.ChildEnv()
	assert.Error(t, err)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/zapm/internal/config"
	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/prober"
	"github.com/loykin/zapm/pkg/client"
)

const (
	daemonLogFile   = "zapm.log"
	daemonStopGrace = 10 * time.Second
	readyTimeout    = 5 * time.Second
	// pidfile mtime versus process creation time
	pidFileTolerance = 2 * time.Second
)

// errNotRunning is returned when no live server backs the pid file.
var errNotRunning = errors.New("zapm server is not running")

// backgroundServer manages a background "zapm server" through a pid file.
type backgroundServer struct {
	cfg    *config.Config
	dir    string // passed on to the child as --config-dir when set
	out    io.Writer
	probe  prober.Prober
	exe    func() (string, error)
	client *client.Client
}

func newDaemon(dir string, out io.Writer) (*backgroundServer, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	return &backgroundServer{
		cfg:    cfg,
		dir:    dir,
		out:    out,
		probe:  prober.New(nil),
		exe:    os.Executable,
		client: client.New(client.Config{BaseURL: cfg.Server.APIBaseURL, Timeout: 2 * time.Second}),
	}, nil
}

// running returns the pid of a live server recorded in the pid file.
func (d *backgroundServer) running() (int, error) {
	path := d.cfg.PIDFile()
	pid, mtime, err := readPidFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, errNotRunning
		}
		return 0, err
	}
	if !d.probe.IsAlive(pid) || prober.Reused(d.probe, pid, mtime, pidFileTolerance) {
		_ = removePidFile(path)
		return 0, errNotRunning
	}
	return pid, nil
}

func (d *backgroundServer) logFile() string {
	if d.cfg.Log.Slog.Path != "" {
		return d.cfg.Log.Slog.Path
	}
	return filepath.Join(d.cfg.Dir, "logs", daemonLogFile)
}

// Start launches "zapm server" detached from this terminal.
func (d *backgroundServer) Start(ctx context.Context) error {
	if pid, err := d.running(); err == nil {
		_, _ = fmt.Fprintf(d.out, "zapm server already running (pid %d)\n", pid)
		return nil
	}
	exe, err := d.exe()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	args := []string{"server"}
	if d.dir != "" {
		args = append(args, "--config-dir", d.dir)
	}
	logFile := d.logFile()
	if err := os.MkdirAll(filepath.Dir(logFile), 0o750); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	// #nosec G204
	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), "ZAPM_LOG_SLOG_PATH="+logFile)
	if d.dir != "" {
		cmd.Env = append(cmd.Env, "ZAPM_HOME="+d.dir)
	}
	// stdio stays on the null device; the server logs to logFile
	configureDaemonAttrs(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	pid := cmd.Process.Pid
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if err := writePidFile(d.cfg.PIDFile(), pid); err != nil {
		_ = process.KillPID("zapm server", pid, time.Second, d.probe.IsAlive)
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	deadline := time.NewTimer(readyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-exited:
			_ = removePidFile(d.cfg.PIDFile())
			return fmt.Errorf("zapm server exited during startup (%v), see %s", err, logFile)
		case <-deadline.C:
			_, _ = fmt.Fprintf(d.out, "zapm server started (pid %d) but %s is not answering yet, see %s\n", pid, d.cfg.Server.APIBaseURL, logFile)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if d.client.IsReachable(ctx) {
				_, _ = fmt.Fprintf(d.out, "zapm server started (pid %d) on %s, logs at %s\n", pid, d.cfg.Server.APIBaseURL, logFile)
				return nil
			}
		}
	}
}

// Stop terminates the background server. Managed processes keep running.
func (d *backgroundServer) Stop() error {
	pid, err := d.running()
	if errors.Is(err, errNotRunning) {
		_, _ = fmt.Fprintln(d.out, err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	if err := process.KillPID("zapm server", pid, daemonStopGrace, d.probe.IsAlive); err != nil {
		return err
	}
	_ = removePidFile(d.cfg.PIDFile())
	_, _ = fmt.Fprintf(d.out, "zapm server stopped (pid %d)\n", pid)
	return nil
}

func (d *backgroundServer) Restart(ctx context.Context) error {
	if err := d.Stop(); err != nil {
		return err
	}
	return d.Start(ctx)
}

// writePidFile writes the daemon PID to a file
func writePidFile(pidFile string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0o750); err != nil {
		return err
	}
	// #nosec G306
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// readPidFile returns the recorded pid and when it was written.
func readPidFile(pidFile string) (int, time.Time, error) {
	// #nosec G304
	b, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, time.Time{}, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, time.Time{}, fmt.Errorf("invalid pid file %s: %q", pidFile, strings.TrimSpace(string(b)))
	}
	st, err := os.Stat(pidFile)
	if err != nil {
		return 0, time.Time{}, err
	}
	return pid, st.ModTime(), nil
}

// removePidFile removes the PID file
func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	err := os.Remove(pidFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

package process

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// killWait bounds how long Stop waits for the child to be reaped after SIGKILL.
const killWait = 2 * time.Second

// Handle is a live child spawned by this supervisor run. A single waiter
// goroutine reaps it, so liveness never depends on the PID alone.
type Handle struct {
	name      string
	pid       int
	startedAt time.Time
	done      chan struct{}

	mu      sync.Mutex
	exitErr error
	closers []io.Closer
}

// Spawn starts rec's command. stdout and stderr may be nil, in which case
// output is discarded. Spawn owns the writers: they are closed once the child
// has been reaped, or before Spawn returns an error.
func Spawn(rec Record, env []string, stdout, stderr io.WriteCloser) (*Handle, error) {
	h := &Handle{name: rec.Name, done: make(chan struct{})}
	if stdout != nil {
		h.closers = append(h.closers, stdout)
	}
	if stderr != nil {
		h.closers = append(h.closers, stderr)
	}
	cmd, err := BuildCmd(rec, env)
	if err != nil {
		h.closeWriters()
		return nil, err
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	if cmd.Stdout == nil || cmd.Stderr == nil {
		if null, nerr := os.OpenFile(os.DevNull, os.O_RDWR, 0); nerr == nil {
			if cmd.Stdout == nil {
				cmd.Stdout = null
			}
			if cmd.Stderr == nil {
				cmd.Stderr = null
			}
			h.closers = append(h.closers, null)
		}
	}
	if err := cmd.Start(); err != nil {
		h.closeWriters()
		return nil, &SpawnError{Name: rec.Name, Command: rec.Command, Err: err}
	}
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	go func() {
		werr := cmd.Wait()
		h.mu.Lock()
		h.exitErr = werr
		h.mu.Unlock()
		h.closeWriters()
		close(h.done)
	}()
	return h, nil
}

func (h *Handle) Name() string         { return h.name }
func (h *Handle) PID() int             { return h.pid }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed after the child exits and has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Alive reports whether the child has not yet exited.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the result of cmd.Wait once the child is gone.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Stop sends SIGTERM to the child's group, escalating to SIGKILL after grace.
// Stopping an already exited child is not an error.
func (h *Handle) Stop(grace time.Duration) error {
	if !h.Alive() {
		return nil
	}
	if err := signalTerm(h.pid); err != nil && !isGone(err) && h.Alive() {
		return &TerminationError{Name: h.name, PID: h.pid, Err: err}
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}
	if err := signalKill(h.pid); err != nil && !isGone(err) && h.Alive() {
		return &TerminationError{Name: h.name, PID: h.pid, Err: err}
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(killWait):
		return &TerminationError{Name: h.name, PID: h.pid, Err: errors.New("still running after SIGKILL")}
	}
}

func (h *Handle) closeWriters() {
	h.mu.Lock()
	cs := h.closers
	h.closers = nil
	h.mu.Unlock()
	for _, c := range cs {
		_ = c.Close()
	}
}

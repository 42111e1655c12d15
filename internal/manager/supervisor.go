// Package manager implements the lifecycle engine: it starts, stops, restarts
// and removes named processes and keeps their records consistent with the OS.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/zapm/internal/env"
	"github.com/loykin/zapm/internal/history"
	"github.com/loykin/zapm/internal/logger"
	"github.com/loykin/zapm/internal/metrics"
	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/prober"
	"github.com/loykin/zapm/internal/registry"
)

const (
	// DefaultStopGrace is how long a child gets between SIGTERM and SIGKILL.
	DefaultStopGrace = 3 * time.Second
	// pidReuseTolerance absorbs clock granularity when comparing an adopted
	// PID's OS creation time with the recorded start_time.
	pidReuseTolerance = 2 * time.Second
)

// Options configure a Supervisor. Registry is required; everything else has
// a usable zero value.
type Options struct {
	Registry  *registry.Registry
	Prober    prober.Prober
	Env       *env.Env
	Logs      logger.Config
	History   *history.Recorder
	StopGrace time.Duration
	Logger    *slog.Logger
	// Detached hands children plain log files instead of rotating writers
	// piped through this process. Short-lived callers such as the CLI set it
	// so children keep running after they exit.
	Detached bool
}

// Supervisor owns the process table, the prober and the handles of children
// spawned during this run. It is safe for concurrent use.
type Supervisor struct {
	reg    *registry.Registry
	probe  prober.Prober
	env    *env.Env
	logs   logger.Config
	hist   *history.Recorder
	grace  time.Duration
	logger *slog.Logger
	detach bool

	hmu     sync.Mutex
	handles map[string]*process.Handle

	// same-name lifecycle operations are serialized
	lmu   sync.Mutex
	locks map[string]*sync.Mutex
}

func New(o Options) *Supervisor {
	if o.Registry == nil {
		panic("manager: nil registry")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Prober == nil {
		o.Prober = prober.New(o.Logger)
	}
	if o.Env == nil {
		o.Env = env.New()
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	return &Supervisor{
		reg:     o.Registry,
		probe:   o.Prober,
		env:     o.Env,
		logs:    o.Logs,
		hist:    o.History,
		grace:   o.StopGrace,
		logger:  o.Logger.With("component", "supervisor"),
		detach:  o.Detached,
		handles: make(map[string]*process.Handle),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Registry exposes the underlying table, e.g. for reloads after foreign writes.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// Definition is the configuration part of a record.
type Definition struct {
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	AutoRestart bool              `json:"auto_restart"`
}

func definitionOf(rec process.Record) Definition {
	c := rec.Clone()
	return Definition{Name: c.Name, Command: c.Command, WorkingDir: c.WorkingDir, Env: c.Env, AutoRestart: c.AutoRestart}
}

func (d Definition) applyTo(rec *process.Record) {
	rec.Command = d.Command
	rec.WorkingDir = d.WorkingDir
	rec.Env = process.Record{Env: d.Env}.Clone().Env
	rec.AutoRestart = d.AutoRestart
}

// Add stores d without starting anything. A new record starts Unknown; an
// existing one keeps its runtime fields.
func (s *Supervisor) Add(ctx context.Context, d Definition) (process.Record, error) {
	return s.define(ctx, d, process.StatusUnknown)
}

// Upsert is Add for the HTTP API, where a new record starts Stopped.
func (s *Supervisor) Upsert(ctx context.Context, d Definition) (process.Record, error) {
	return s.define(ctx, d, process.StatusStopped)
}

func (s *Supervisor) define(ctx context.Context, d Definition, initial process.Status) (process.Record, error) {
	if !process.ValidName(d.Name) {
		return process.Record{}, fmt.Errorf("invalid process name %q", d.Name)
	}
	rec, err := s.reg.Update(ctx, d.Name, func(r *process.Record) bool {
		d.applyTo(r)
		return true
	})
	if errors.Is(err, process.ErrNotFound) {
		nr := process.Record{Name: d.Name, Status: initial}
		d.applyTo(&nr)
		rec, err = s.reg.Upsert(ctx, nr)
	}
	if err != nil {
		return rec, err
	}
	metrics.SetState(rec.Name, string(rec.Status))
	return rec, nil
}

// Start launches d unless a live process already backs the record, in which
// case the call only corrects a stale status. A missing record is created.
func (s *Supervisor) Start(ctx context.Context, d Definition) (process.Record, error) {
	if !process.ValidName(d.Name) {
		return process.Record{}, fmt.Errorf("invalid process name %q", d.Name)
	}
	unlock := s.lockName(d.Name)
	defer unlock()
	rec, _, err := s.start(ctx, d)
	return rec, err
}

// StartRequest carries the optional overrides of an HTTP start call.
type StartRequest struct {
	Command     string            `json:"command"`
	WorkingDir  *string           `json:"working_dir"`
	Env         map[string]string `json:"env"`
	AutoRestart *bool             `json:"auto_restart"`
}

// Launch merges req over the stored record (if any), starts it and then
// applies req.AutoRestart. An empty request starts the stored configuration.
func (s *Supervisor) Launch(ctx context.Context, name string, req StartRequest) (process.Record, error) {
	if !process.ValidName(name) {
		return process.Record{}, fmt.Errorf("invalid process name %q", name)
	}
	unlock := s.lockName(name)
	defer unlock()

	d := Definition{Name: name}
	if cur, ok := s.reg.Get(name); ok {
		d = definitionOf(cur)
	}
	if req.Command != "" {
		d.Command = req.Command
	}
	if req.WorkingDir != nil {
		d.WorkingDir = *req.WorkingDir
	}
	if req.Env != nil {
		d.Env = req.Env
	}
	rec, _, err := s.start(ctx, d)
	if err != nil || req.AutoRestart == nil || rec.AutoRestart == *req.AutoRestart {
		return rec, err
	}
	want := *req.AutoRestart
	return s.reg.Update(ctx, name, func(r *process.Record) bool {
		r.AutoRestart = want
		return true
	})
}

// start reports whether a new child was spawned. Callers hold the name lock.
func (s *Supervisor) start(ctx context.Context, d Definition) (process.Record, bool, error) {
	log := s.logger.With("name", d.Name)
	cur, exists := s.reg.Get(d.Name)
	if exists {
		if pid, since, alive := s.livePID(cur); alive {
			if cur.Status == process.StatusRunning && cur.PID == pid {
				log.Debug("already running", "pid", pid)
				return cur, false, nil
			}
			log.Info("already running, correcting status", "pid", pid, "status", cur.Status)
			rec, err := s.reg.Update(ctx, d.Name, func(r *process.Record) bool {
				r.MarkRunning(pid, since)
				return true
			})
			metrics.SetState(d.Name, string(process.StatusRunning))
			return rec, false, err
		}
		if cur.Status == process.StatusRunning {
			if _, err := s.markDown(ctx, cur, process.StatusStopped); err != nil {
				return cur, false, err
			}
		}
	}

	want := process.Record{Name: d.Name}
	d.applyTo(&want)
	if _, err := process.ParseCommand(want.Command); err != nil {
		metrics.IncSpawnError(d.Name)
		return cur, false, fmt.Errorf("start %s: %w", d.Name, err)
	}
	stdout, stderr, err := s.childOutput(d.Name)
	if err != nil {
		log.Warn("child output discarded", "error", err)
		stdout, stderr = nil, nil
	}
	h, err := process.Spawn(want, s.env.Merge(want.Env), stdout, stderr)
	if err != nil {
		metrics.IncSpawnError(d.Name)
		log.Error("spawn failed", "command", want.Command, "error", err)
		if exists {
			if _, uerr := s.reg.Update(ctx, d.Name, func(r *process.Record) bool {
				d.applyTo(r)
				r.MarkDown(process.StatusFailed)
				return true
			}); uerr != nil {
				log.Warn("record spawn failure", "error", uerr)
			}
			metrics.SetState(d.Name, string(process.StatusFailed))
		}
		return cur, false, err
	}
	s.putHandle(h)
	go s.watchExit(h)

	var rec process.Record
	if exists {
		rec, err = s.reg.Update(ctx, d.Name, func(r *process.Record) bool {
			d.applyTo(r)
			r.MarkRunning(h.PID(), h.StartedAt())
			return true
		})
	}
	if !exists || errors.Is(err, process.ErrNotFound) {
		nr := want.Clone()
		nr.MarkRunning(h.PID(), h.StartedAt())
		rec, err = s.reg.Upsert(ctx, nr)
	}
	log.Info("started", "pid", h.PID(), "command", want.Command)
	metrics.IncStart(d.Name)
	metrics.SetState(d.Name, string(process.StatusRunning))
	s.hist.Record(history.NewEvent(history.EventStart, rec, ""))
	return rec, true, err
}

// Stop terminates the named process if one is alive and marks the record
// Stopped. A termination failure is returned after the record is corrected.
func (s *Supervisor) Stop(ctx context.Context, name string) (process.Record, error) {
	unlock := s.lockName(name)
	defer unlock()
	return s.stop(ctx, name)
}

func (s *Supervisor) stop(ctx context.Context, name string) (process.Record, error) {
	cur, ok := s.reg.Get(name)
	if !ok {
		return process.Record{}, fmt.Errorf("%s: %w", name, process.ErrNotFound)
	}
	termErr := s.terminate(cur)
	if termErr != nil {
		s.logger.Warn("terminate failed", "name", name, "pid", cur.PID, "error", termErr)
	}
	rec, err := s.reg.Update(ctx, name, func(r *process.Record) bool {
		r.MarkDown(process.StatusStopped)
		return true
	})
	metrics.IncStop(name)
	metrics.SetState(name, string(process.StatusStopped))
	if cur.Status == process.StatusRunning {
		s.hist.Record(history.NewEvent(history.EventStop, rec, ""))
	}
	if err != nil {
		return rec, err
	}
	return rec, termErr
}

// terminate kills the process behind rec: the owned handle when it is the
// recorded PID, otherwise the recorded PID when it still looks like the same
// process. A handle left over from before a store reload may be dead or point
// at a different child than the record.
func (s *Supervisor) terminate(rec process.Record) error {
	if h := s.takeHandle(rec.Name); h != nil && h.Alive() {
		if err := h.Stop(s.grace); err != nil || h.PID() == rec.PID {
			return err
		}
	}
	if rec.PID <= 0 || !s.adoptedAlive(rec) {
		return nil
	}
	return process.KillPID(rec.Name, rec.PID, s.grace, s.probe.IsAlive)
}

// Restart stops the named process, ignoring termination errors, and starts it
// again with its stored configuration.
func (s *Supervisor) Restart(ctx context.Context, name string) (process.Record, error) {
	unlock := s.lockName(name)
	defer unlock()
	return s.restart(ctx, name, "")
}

func (s *Supervisor) restart(ctx context.Context, name, reason string) (process.Record, error) {
	cur, ok := s.reg.Get(name)
	if !ok {
		return process.Record{}, fmt.Errorf("%s: %w", name, process.ErrNotFound)
	}
	if _, err := s.stop(ctx, name); err != nil {
		s.logger.Warn("stop before restart", "name", name, "error", err)
	}
	rec, _, err := s.start(ctx, definitionOf(cur))
	if err == nil {
		s.hist.Record(history.NewEvent(history.EventRestart, rec, reason))
	}
	return rec, err
}

// Remove deletes the named record. Unless force is set, the process is
// stopped first; a stop failure does not prevent removal. Removing an unknown
// name is a no-op.
func (s *Supervisor) Remove(ctx context.Context, name string, force bool) error {
	unlock := s.lockName(name)
	defer unlock()
	cur, ok := s.reg.Get(name)
	if !ok {
		s.logger.Debug("remove of unknown process", "name", name)
		return nil
	}
	if !force {
		if _, err := s.stop(ctx, name); err != nil {
			s.logger.Warn("stop before remove", "name", name, "error", err)
		}
	}
	s.takeHandle(name)
	if _, err := s.reg.Delete(ctx, name); err != nil {
		return err
	}
	metrics.ForgetProcess(name)
	s.hist.Record(history.NewEvent(history.EventRemove, cur, ""))
	s.logger.Info("removed", "name", name, "force", force)
	return nil
}

// View is a record plus a live resource sample for running processes.
type View struct {
	process.Record
	Metrics *prober.Metrics `json:"metrics,omitempty"`
}

// List returns every record, sorted by name, after reconciling stale
// Running entries.
func (s *Supervisor) List(ctx context.Context) []process.Record {
	all := s.reg.All()
	out := make([]process.Record, 0, len(all))
	for _, rec := range all {
		out = append(out, s.reconcile(ctx, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Show returns one reconciled record with its metrics.
func (s *Supervisor) Show(ctx context.Context, name string) (View, error) {
	rec, ok := s.reg.Get(name)
	if !ok {
		return View{}, fmt.Errorf("%s: %w", name, process.ErrNotFound)
	}
	return s.view(s.reconcile(ctx, rec)), nil
}

// Status returns reconciled views for name, or for every record when name
// is empty.
func (s *Supervisor) Status(ctx context.Context, name string) ([]View, error) {
	if name != "" {
		v, err := s.Show(ctx, name)
		if err != nil {
			return nil, err
		}
		return []View{v}, nil
	}
	recs := s.List(ctx)
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.view(rec))
	}
	return out, nil
}

func (s *Supervisor) view(rec process.Record) View {
	v := View{Record: rec}
	if rec.Status == process.StatusRunning && rec.PID > 0 {
		if m, ok := s.probe.Metrics(rec.PID); ok {
			v.Metrics = m
		}
	}
	return v
}

// Samples returns resource usage of every running record for the metrics
// collector.
func (s *Supervisor) Samples() []metrics.Sample {
	var out []metrics.Sample
	for _, rec := range s.reg.All() {
		if rec.Status != process.StatusRunning || rec.PID <= 0 {
			continue
		}
		m, ok := s.probe.Metrics(rec.PID)
		if !ok {
			continue
		}
		out = append(out, metrics.Sample{
			Name:        rec.Name,
			PID:         rec.PID,
			MemoryBytes: m.MemoryKB * 1024,
			CPUPercent:  m.CPUPercent,
			UptimeSecs:  m.RunTimeSecs,
		})
	}
	return out
}

// Owned reports whether this run holds a live handle for name.
func (s *Supervisor) Owned(name string) bool {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	h := s.handles[name]
	return h != nil && h.Alive()
}

func (s *Supervisor) lockName(name string) func() {
	s.lmu.Lock()
	m, ok := s.locks[name]
	if !ok {
		m = &sync.Mutex{}
		s.locks[name] = m
	}
	s.lmu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *Supervisor) putHandle(h *process.Handle) {
	s.hmu.Lock()
	s.handles[h.Name()] = h
	s.hmu.Unlock()
}

func (s *Supervisor) takeHandle(name string) *process.Handle {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	h := s.handles[name]
	delete(s.handles, name)
	return h
}

// dropHandle removes name's handle only if it belongs to pid.
func (s *Supervisor) dropHandle(name string, pid int) {
	s.hmu.Lock()
	if h, ok := s.handles[name]; ok && h.PID() == pid {
		delete(s.handles, name)
	}
	s.hmu.Unlock()
}

func (s *Supervisor) handle(name string) *process.Handle {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return s.handles[name]
}

func (s *Supervisor) watchExit(h *process.Handle) {
	<-h.Done()
	s.logger.Info("process exited", "name", h.Name(), "pid", h.PID(), "error", h.ExitErr())
}

func (s *Supervisor) childOutput(name string) (io.WriteCloser, io.WriteCloser, error) {
	if s.detach {
		return s.logs.ProcessFiles(name)
	}
	return s.logs.ProcessWriters(name)
}

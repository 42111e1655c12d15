package manager

import (
	"context"
	"time"

	"github.com/loykin/zapm/internal/history"
	"github.com/loykin/zapm/internal/metrics"
	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/prober"
)

// livePID finds the process backing rec. A handle spawned by this run wins;
// otherwise the recorded PID is probed as an adopted process.
func (s *Supervisor) livePID(rec process.Record) (int, time.Time, bool) {
	if h := s.handle(rec.Name); h != nil && h.Alive() {
		return h.PID(), h.StartedAt(), true
	}
	if rec.PID <= 0 || !s.adoptedAlive(rec) {
		return 0, time.Time{}, false
	}
	since := time.Now()
	if rec.StartTime != nil {
		since = *rec.StartTime
	}
	return rec.PID, since, true
}

// adoptedAlive probes a bare PID. A PID whose OS creation time is later than
// the recorded start_time belongs to some other process.
func (s *Supervisor) adoptedAlive(rec process.Record) bool {
	if h := s.handle(rec.Name); h != nil && h.PID() == rec.PID {
		return h.Alive()
	}
	if !s.probe.IsAlive(rec.PID) {
		return false
	}
	if rec.StartTime != nil && prober.Reused(s.probe, rec.PID, *rec.StartTime, pidReuseTolerance) {
		s.logger.Debug("pid reused by another process", "name", rec.Name, "pid", rec.PID)
		return false
	}
	return true
}

// alive reports whether a Running record's own PID is still its process.
func (s *Supervisor) alive(rec process.Record) bool {
	if rec.PID <= 0 {
		return false
	}
	return s.adoptedAlive(rec)
}

// markDown moves a dead Running record to status, unless the record changed
// in the meantime.
func (s *Supervisor) markDown(ctx context.Context, seen process.Record, status process.Status) (process.Record, error) {
	rec, err := s.reg.Update(ctx, seen.Name, func(r *process.Record) bool {
		if r.Status != process.StatusRunning || r.PID != seen.PID {
			return false
		}
		r.MarkDown(status)
		return true
	})
	s.dropHandle(seen.Name, seen.PID)
	if err == nil && rec.Status == status {
		metrics.SetState(rec.Name, string(status))
	}
	return rec, err
}

// reconcile is the read-side correction: a Running record whose process is
// gone becomes Stopped.
func (s *Supervisor) reconcile(ctx context.Context, rec process.Record) process.Record {
	if rec.Status != process.StatusRunning || s.alive(rec) {
		return rec
	}
	s.logger.Info("process not running, correcting status", "name", rec.Name, "pid", rec.PID)
	out, err := s.markDown(ctx, rec, process.StatusStopped)
	if err != nil {
		s.logger.Warn("persist corrected status", "name", rec.Name, "error", err)
	}
	return out
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Checked    int
	Failed     []string
	Restarted  string
	Suppressed []string
}

// Sweep runs one monitor pass over Running records in name order. Dead ones
// become Failed. The first dead record with auto_restart that allow accepts
// is restarted and the pass ends there. A nil allow permits every restart.
func (s *Supervisor) Sweep(ctx context.Context, allow func(name string) bool) SweepResult {
	var res SweepResult
	for _, name := range s.reg.Names() {
		if ctx.Err() != nil {
			return res
		}
		rec, ok := s.reg.Get(name)
		if !ok || rec.Status != process.StatusRunning {
			continue
		}
		res.Checked++
		if s.alive(rec) {
			continue
		}
		log := s.logger.With("name", name, "pid", rec.PID)
		failed, err := s.markDown(ctx, rec, process.StatusFailed)
		if err != nil {
			log.Warn("persist failed status", "error", err)
		}
		if failed.Status != process.StatusFailed {
			// changed underneath us
			continue
		}
		log.Warn("process died")
		res.Failed = append(res.Failed, name)
		metrics.IncFailure(name)
		s.hist.Record(history.NewEvent(history.EventFail, failed, "process exited"))

		if !failed.AutoRestart {
			continue
		}
		if allow != nil && !allow(name) {
			log.Error("restart suppressed, process is crash looping")
			res.Suppressed = append(res.Suppressed, name)
			metrics.IncRestartSuppressed(name)
			continue
		}
		unlock := s.lockName(name)
		restarted, err := s.restart(ctx, name, "auto-restart")
		unlock()
		if err != nil {
			log.Error("auto-restart failed", "error", err)
		} else {
			log.Info("auto-restarted", "new_pid", restarted.PID)
			metrics.IncAutoRestart(name)
		}
		res.Restarted = name
		return res
	}
	return res
}

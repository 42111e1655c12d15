// Package prober answers questions about OS processes by PID.
//
// A PID only says that some process with that number exists. It does not say
// the process is the one we started; StartTime can be used as a fingerprint
// when the caller knows when its process was launched.
package prober

import (
	"log/slog"
	"runtime"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Metrics is a point-in-time resource sample for one PID.
type Metrics struct {
	MemoryKB    uint64  `json:"memory_kb"`
	CPUPercent  float64 `json:"cpu_percent"`
	RunTimeSecs uint64  `json:"run_time_secs"`
	NumThreads  int32   `json:"num_threads,omitempty"`
	NumFDs      int32   `json:"num_fds,omitempty"`
}

// Prober is the liveness and metrics contract used by the lifecycle engine.
type Prober interface {
	IsAlive(pid int) bool
	Metrics(pid int) (*Metrics, bool)
	// StartTime returns the OS-reported creation time, zero when unknown.
	StartTime(pid int) time.Time
}

// OS probes the real process table.
type OS struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *OS {
	if logger == nil {
		logger = slog.Default()
	}
	return &OS{logger: logger.With("component", "prober")}
}

func (o *OS) IsAlive(pid int) bool { return pidAlive(pid) }

func (o *OS) StartTime(pid int) time.Time {
	sec := procStartUnix(pid)
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// Metrics returns nil, false when the PID does not exist.
func (o *OS) Metrics(pid int) (*Metrics, bool) {
	if !pidAlive(pid) {
		return nil, false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil, false
	}
	m := &Metrics{}
	if mem, err := p.MemoryInfo(); err == nil {
		m.MemoryKB = mem.RSS / 1024
	} else {
		o.logger.Debug("memory info unavailable", "pid", pid, "error", err)
	}
	if cpu, err := p.CPUPercent(); err == nil {
		m.CPUPercent = cpu
	} else {
		o.logger.Debug("cpu percent unavailable", "pid", pid, "error", err)
	}
	if ms, err := p.CreateTime(); err == nil && ms > 0 {
		if d := time.Since(time.UnixMilli(ms)); d > 0 {
			m.RunTimeSecs = uint64(d / time.Second)
		}
	}
	if n, err := p.NumThreads(); err == nil {
		m.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDs(); err == nil {
			m.NumFDs = n
		}
	}
	return m, true
}

// Reused reports whether pid now belongs to a process created after launched,
// which means the original exited and the number was recycled. The check is
// skipped when either time is unknown.
func Reused(p Prober, pid int, launched time.Time, tolerance time.Duration) bool {
	if launched.IsZero() {
		return false
	}
	created := p.StartTime(pid)
	if created.IsZero() {
		return false
	}
	return created.After(launched.Add(tolerance))
}

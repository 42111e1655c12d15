package process

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the last known lifecycle state of a managed process.
type Status string

const (
	StatusUnknown Status = "Unknown"
	StatusRunning Status = "Running"
	StatusStopped Status = "Stopped"
	StatusFailed  Status = "Failed"
)

// ParseStatus accepts any casing of the four known states.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return StatusRunning, nil
	case "stopped":
		return StatusStopped, nil
	case "failed":
		return StatusFailed, nil
	case "unknown", "":
		return StatusUnknown, nil
	}
	return StatusUnknown, fmt.Errorf("unknown status %q", s)
}

// Record is the persisted configuration and status of one named process.
// PID is zero when no process is believed to be running.
type Record struct {
	Name        string            `json:"name" yaml:"name"`
	Command     string            `json:"command" yaml:"command"`
	WorkingDir  string            `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	AutoRestart bool              `json:"auto_restart" yaml:"auto_restart"`
	Status      Status            `json:"status" yaml:"status"`
	PID         int               `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartTime   *time.Time        `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy so callers never share the Env map.
func (r Record) Clone() Record {
	out := r
	if r.Env != nil {
		out.Env = make(map[string]string, len(r.Env))
		for k, v := range r.Env {
			out.Env[k] = v
		}
	}
	if r.StartTime != nil {
		t := *r.StartTime
		out.StartTime = &t
	}
	return out
}

// MarkRunning records a successful launch.
func (r *Record) MarkRunning(pid int, at time.Time) {
	r.Status = StatusRunning
	r.PID = pid
	t := at
	r.StartTime = &t
}

// MarkDown clears the pid and moves the record to a non-running state.
func (r *Record) MarkDown(s Status) {
	r.Status = s
	r.PID = 0
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (r Record) EnvList() []string {
	if len(r.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.Env))
	for k, v := range r.Env {
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Uptime reports how long the record has been running as of now.
func (r Record) Uptime(now time.Time) time.Duration {
	if r.Status != StatusRunning || r.StartTime == nil {
		return 0
	}
	d := now.Sub(*r.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// ValidName reports whether s is usable as a process name. Names end up in
// log file paths, so only A-Z a-z 0-9 . _ - are allowed and ".." is rejected.
func ValidName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

package client

import (
	"errors"
	"fmt"
	"time"
)

// Metrics is a live resource sample of a running process.
type Metrics struct {
	MemoryKB    uint64  `json:"memory_kb"`
	CPUPercent  float64 `json:"cpu_percent"`
	RunTimeSecs uint64  `json:"run_time_secs"`
	NumThreads  int32   `json:"num_threads,omitempty"`
	NumFDs      int32   `json:"num_fds,omitempty"`
}

// Process is a record as returned by the API.
type Process struct {
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	AutoRestart bool              `json:"auto_restart"`
	Status      string            `json:"status"`
	PID         int               `json:"pid,omitempty"`
	StartTime   *time.Time        `json:"start_time,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Metrics     *Metrics          `json:"metrics,omitempty"`
}

// StartRequest overrides the stored configuration for one start. Zero fields
// keep the stored values.
type StartRequest struct {
	Command     string            `json:"command,omitempty"`
	WorkingDir  *string           `json:"working_dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	AutoRestart *bool             `json:"auto_restart,omitempty"`
}

// Definition creates or replaces a record.
type Definition struct {
	Command     string            `json:"command"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	AutoRestart bool              `json:"auto_restart"`
}

// ErrNotFound is matched by errors.Is for 404 responses.
var ErrNotFound = errors.New("process not found")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

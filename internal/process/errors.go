package process

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for operations on a name the registry does not know.
	ErrNotFound = errors.New("process not found")
	// ErrEmptyCommand is returned when a command string has no fields.
	ErrEmptyCommand = errors.New("empty command")
)

// SpawnError reports that the OS refused to create the process.
type SpawnError struct {
	Name    string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%q): %v", e.Name, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TerminationError reports that a kill request was refused by the OS.
type TerminationError struct {
	Name string
	PID  int
	Err  error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate %s (pid %d): %v", e.Name, e.PID, e.Err)
}

func (e *TerminationError) Unwrap() error { return e.Err }

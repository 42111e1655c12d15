package process

import (
	"errors"
	"time"
)

const pollInterval = 50 * time.Millisecond

// KillPID stops a process this run did not spawn. alive is polled to decide
// when the target is gone; a target that is already gone is not an error.
func KillPID(name string, pid int, grace time.Duration, alive func(int) bool) error {
	if pid <= 0 || !alive(pid) {
		return nil
	}
	if err := signalTerm(pid); err != nil {
		if isGone(err) || !alive(pid) {
			return nil
		}
		return &TerminationError{Name: name, PID: pid, Err: err}
	}
	if waitGone(pid, grace, alive) {
		return nil
	}
	if err := signalKill(pid); err != nil && !isGone(err) && alive(pid) {
		return &TerminationError{Name: name, PID: pid, Err: err}
	}
	if waitGone(pid, killWait, alive) {
		return nil
	}
	return &TerminationError{Name: name, PID: pid, Err: errors.New("still running after SIGKILL")}
}

func waitGone(pid int, d time.Duration, alive func(int) bool) bool {
	deadline := time.Now().Add(d)
	for {
		if !alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

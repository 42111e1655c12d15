//go:build !windows

package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// signalTerm asks pid (and its group, when it leads one) to exit.
func signalTerm(pid int) error { return signal(pid, unix.SIGTERM) }

// signalKill forcibly kills pid (and its group, when it leads one).
func signalKill(pid int) error { return signal(pid, unix.SIGKILL) }

func signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		if err := unix.Kill(-pid, sig); err == nil {
			return nil
		}
	}
	return unix.Kill(pid, sig)
}

// isGone reports whether err means the target no longer exists.
func isGone(err error) bool {
	return errors.Is(err, unix.ESRCH)
}

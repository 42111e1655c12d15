//go:build windows

package process

import (
	"errors"

	"golang.org/x/sys/windows"
)

// Windows has no graceful signal for arbitrary processes; both paths terminate.
func signalTerm(pid int) error { return terminate(pid) }

func signalKill(pid int) error { return terminate(pid) }

func terminate(pid int) error {
	if pid <= 0 {
		return windows.ERROR_INVALID_PARAMETER
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer func() { _ = windows.CloseHandle(h) }()
	return windows.TerminateProcess(h, 1)
}

func isGone(err error) bool {
	return errors.Is(err, windows.ERROR_INVALID_PARAMETER)
}

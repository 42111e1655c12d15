package process

import (
	"os/exec"
	"strings"
)

// ParseCommand splits a command line on whitespace. There is no shell quoting:
// an argument that itself contains spaces cannot be expressed.
func ParseCommand(command string) ([]string, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, ErrEmptyCommand
	}
	return parts, nil
}

// BuildCmd prepares an *exec.Cmd for rec without starting it.
// env is the fully merged environment; nil inherits the supervisor's.
func BuildCmd(rec Record, env []string) (*exec.Cmd, error) {
	parts, err := ParseCommand(rec.Command)
	if err != nil {
		return nil, err
	}
	// #nosec G204
	cmd := exec.Command(parts[0], parts[1:]...)
	if rec.WorkingDir != "" {
		cmd.Dir = rec.WorkingDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd)
	return cmd, nil
}

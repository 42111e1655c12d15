package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

const serviceName = "zapm"

func createServiceCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "service <start|stop|restart|install|uninstall|run>",
		Short: "Control the background server",
		Long: `Control the zapm server running in the background.

  start      launch "zapm server" detached, recording its pid in zapm.pid
  stop       stop the background server (managed processes keep running)
  restart    stop then start
  install    register zapm with the OS service manager (systemd, launchd, Windows SCM)
  uninstall  remove that registration
  run        run under the OS service manager (used by the installed unit)`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"start", "stop", "restart", "install", "uninstall", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), global.ConfigDir, args[0], cmd.OutOrStdout())
		},
	}
}

func runService(ctx context.Context, dir, action string, out io.Writer) error {
	switch action {
	case "start", "stop", "restart":
		d, err := newDaemon(dir, out)
		if err != nil {
			return err
		}
		switch action {
		case "start":
			return d.Start(ctx)
		case "stop":
			return d.Stop()
		default:
			return d.Restart(ctx)
		}
	case "install", "uninstall", "run":
		s, err := newOSService(dir)
		if err != nil {
			return err
		}
		switch action {
		case "install":
			if err := s.Install(); err != nil {
				return fmt.Errorf("install service: %w", err)
			}
			_, _ = fmt.Fprintln(out, "Service installed")
		case "uninstall":
			if err := s.Uninstall(); err != nil {
				return fmt.Errorf("uninstall service: %w", err)
			}
			_, _ = fmt.Fprintln(out, "Service uninstalled")
		default:
			return s.Run()
		}
		return nil
	}
	return fmt.Errorf("unknown service action %q (want start, stop, restart, install, uninstall or run)", action)
}

// program adapts the server to the OS service manager.
type program struct {
	dir    string
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- runServer(ctx, p.dir, ServerFlags{}) }()
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func serviceConfig(dir string) (*service.Config, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	args := []string{"service", "run"}
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config-dir", abs)
	}
	return &service.Config{
		Name:             serviceName,
		DisplayName:      "Zapm Process Manager",
		Description:      "Starts, stops and supervises named processes.",
		Arguments:        args,
		WorkingDirectory: filepath.Dir(exe),
	}, nil
}

func newOSService(dir string) (service.Service, error) {
	cfg, err := serviceConfig(dir)
	if err != nil {
		return nil, err
	}
	return service.New(&program{dir: dir}, cfg)
}

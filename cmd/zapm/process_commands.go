package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/zapm/internal/config"
	"github.com/loykin/zapm/internal/manager"
	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/pkg/client"
)

// command binds the subcommand handlers to their output and config dir.
type command struct {
	global *GlobalFlags
	out    io.Writer
}

func newCommand(global *GlobalFlags, cmd *cobra.Command) command {
	return command{global: global, out: cmd.OutOrStdout()}
}

func (c command) open(ctx context.Context) (*app, error) {
	return openApp(ctx, c.global.ConfigDir, appOptions{console: os.Stderr, cli: true, verbose: c.global.Verbose})
}

// withApp runs fn against a locally opened process table.
func (c command) withApp(ctx context.Context, fn func(*app) error) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

func (c command) Add(ctx context.Context, f AddFlags) error {
	envMap, err := parseEnvPairs(f.Env)
	if err != nil {
		return err
	}
	return c.withApp(ctx, func(a *app) error {
		_, err := a.sup.Add(ctx, manager.Definition{
			Name:        f.Name,
			Command:     f.Command,
			WorkingDir:  f.Dir,
			Env:         envMap,
			AutoRestart: f.AutoRestart,
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.out, "Process %s added\n", f.Name)
		return nil
	})
}

// Start goes through the server so that the server owns the child.
func (c command) Start(ctx context.Context, f StartFlags) error {
	apiURL := f.APIUrl
	if apiURL == "" {
		cfg, err := config.Load(c.global.ConfigDir)
		if err != nil {
			return err
		}
		apiURL = cfg.Server.APIBaseURL
	}
	cl := client.New(client.Config{BaseURL: apiURL, Timeout: f.APITimeout})
	if !cl.IsReachable(ctx) {
		return fmt.Errorf("server not reachable at %s - start it with 'zapm service start' or 'zapm server'", apiURL)
	}
	msg, err := cl.Start(ctx, f.Name, client.StartRequest{})
	if err != nil {
		return fmt.Errorf("start %s: %w", f.Name, err)
	}
	_, _ = fmt.Fprintln(c.out, msg)
	return nil
}

func (c command) Stop(ctx context.Context, name string) error {
	return c.withApp(ctx, func(a *app) error {
		if _, err := a.sup.Stop(ctx, name); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.out, "Process %s stopped\n", name)
		return nil
	})
}

func (c command) Restart(ctx context.Context, name string) error {
	return c.withApp(ctx, func(a *app) error {
		rec, err := a.sup.Restart(ctx, name)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.out, "Process %s restarted (pid %d)\n", name, rec.PID)
		return nil
	})
}

func (c command) List(ctx context.Context) error {
	return c.withApp(ctx, func(a *app) error {
		printList(c.out, a.sup.List(ctx), time.Now())
		return nil
	})
}

func (c command) Status(ctx context.Context, f StatusFlags) error {
	return c.withApp(ctx, func(a *app) error {
		views, err := a.sup.Status(ctx, f.Name)
		if err != nil {
			return err
		}
		if f.JSON {
			return printJSON(c.out, views)
		}
		if f.Name != "" {
			printStatus(c.out, views[0], time.Now())
			return nil
		}
		printStatusTable(c.out, views, time.Now())
		return nil
	})
}

func (c command) Show(ctx context.Context, f StatusFlags) error {
	return c.withApp(ctx, func(a *app) error {
		v, err := a.sup.Show(ctx, f.Name)
		if err != nil {
			return err
		}
		if f.JSON {
			return printJSON(c.out, v)
		}
		printDetails(c.out, v, a.cfg.Log, time.Now())
		return nil
	})
}

func (c command) Remove(ctx context.Context, f RemoveFlags) error {
	return c.withApp(ctx, func(a *app) error {
		if err := a.sup.Remove(ctx, f.Name, f.Force); err != nil {
			return err
		}
		suffix := ""
		if f.Force {
			suffix = " (force)"
		}
		_, _ = fmt.Fprintf(c.out, "Process %s removed%s\n", f.Name, suffix)
		return nil
	})
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid env %q, expected KEY=VALUE", kv)
		}
		out[k] = v
	}
	return out, nil
}

// notFoundHint turns a missing record into a friendlier message.
func notFoundHint(err error) error {
	if errors.Is(err, process.ErrNotFound) {
		return fmt.Errorf("%w (see 'zapm list')", err)
	}
	return err
}

func createAddCommand(global *GlobalFlags) *cobra.Command {
	flags := &AddFlags{}
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or redefine a process",
		Long: `Add a process definition, or replace the definition of an existing one.
A running process keeps running; the new definition applies on its next start.

Examples:
  zapm add web -c "python -m http.server 8000" -d /srv/www -e PORT=8000 -a`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Name = args[0]
			return newCommand(global, cmd).Add(cmd.Context(), *flags)
		},
	}
	cmd.Flags().StringVarP(&flags.Command, "command", "c", "", "command line, split on whitespace (required)")
	cmd.Flags().StringVarP(&flags.Dir, "dir", "d", "", "working directory")
	cmd.Flags().StringArrayVarP(&flags.Env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.Flags().BoolVarP(&flags.AutoRestart, "auto-restart", "a", false, "restart automatically when the process dies")
	if err := cmd.MarkFlagRequired("command"); err != nil {
		panic(err)
	}
	return cmd
}

func createStartCommand(global *GlobalFlags) *cobra.Command {
	flags := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start <name>",
		Short: "Start a process through the server",
		Long: `Start a defined process. The request is sent to the running zapm server,
which then supervises the child.

Examples:
  zapm start web
  zapm start web --api-url=http://remote:2400`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Name = args[0]
			return newCommand(global, cmd).Start(cmd.Context(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "server base URL (default server.api_base_url)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

func createStopCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return notFoundHint(newCommand(global, cmd).Stop(cmd.Context(), args[0]))
		},
	}
}

func createRestartCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Stop and start a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return notFoundHint(newCommand(global, cmd).Restart(cmd.Context(), args[0]))
		},
	}
}

func createListCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List processes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(global, cmd).List(cmd.Context())
		},
	}
}

func createStatusCommand(global *GlobalFlags) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show live status and resource usage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				flags.Name = args[0]
			}
			return notFoundHint(newCommand(global, cmd).Status(cmd.Context(), *flags))
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}

func createShowCommand(global *GlobalFlags) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show the full record of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Name = args[0]
			return notFoundHint(newCommand(global, cmd).Show(cmd.Context(), *flags))
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}

func createRemoveCommand(global *GlobalFlags) *cobra.Command {
	flags := &RemoveFlags{}
	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Stop and remove a process",
		Long: `Stop a process and delete its record. With --force the record is deleted
without stopping the process.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Name = args[0]
			return notFoundHint(newCommand(global, cmd).Remove(cmd.Context(), *flags))
		},
	}
	cmd.Flags().BoolVarP(&flags.Force, "force", "f", false, "remove without stopping")
	return cmd
}

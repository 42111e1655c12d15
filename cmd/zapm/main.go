package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every subcommand
type GlobalFlags struct {
	ConfigDir string
	Verbose   bool
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createAddCommand(globalFlags),
		createStartCommand(globalFlags),
		createStopCommand(globalFlags),
		createRestartCommand(globalFlags),
		createListCommand(globalFlags),
		createStatusCommand(globalFlags),
		createShowCommand(globalFlags),
		createRemoveCommand(globalFlags),
		createServerCommand(globalFlags),
		createServiceCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "zapm",
		Short: "Lightweight process manager",
		Long: `zapm keeps a persistent table of named commands, starts and stops them,
and restarts the ones marked auto_restart when they die.

Examples:
  zapm add web -c "python -m http.server 8000" -a
  zapm service start               # run the server in the background
  zapm start web                   # start through the server
  zapm list`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigDir, "config-dir", "", "configuration directory (default $ZAPM_HOME, /etc/zapm for root, else ~/.zapm)")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "log at the configured level instead of warnings only")
	return root
}

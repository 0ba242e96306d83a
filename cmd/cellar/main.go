package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/cellar/internal/platform"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	bottlesDir string
	logFile    string
	verbose    bool
	quiet      bool
	noProgress bool
}

// newRootCmd builds the command tree around a.
func newRootCmd(a *app) *cobra.Command {
	var (
		flags       globalFlags
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:           "cellar",
		Short:         "State history, snapshots and backups for Wine bottles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd, flags)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "cellar %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "suppress all output except errors")
	pf.BoolVar(&flags.noProgress, "no-progress", false, "disable progress display")
	pf.StringVar(&flags.logFile, "log", "", "write structured JSON log to FILE")
	pf.StringVar(&flags.configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/cellar/config.toml)")
	pf.StringVar(&flags.bottlesDir, "bottles", "", "bottles root directory (overrides config)")

	rootCmd.AddCommand(
		newBottlesCmd(a),
		newCreateCmd(a),
		newInfoCmd(a),
		newInitCmd(a),
		newCommitCmd(a),
		newStatesCmd(a),
		newRestoreCmd(a),
		newReinitCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newDuplicateCmd(a),
		newDocsCmd(),
	)
	return rootCmd
}

func run() int {
	rootCmd := newRootCmd(&app{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		// Interrupted runs leave temporaries registered; remove them.
		platform.CleanupTmpFiles()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.msg != "" {
				fmt.Fprintf(os.Stderr, "Error: %s\n", exitErr.msg)
			}
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// exitError carries a failed operation's message and exit status.
type exitError struct {
	msg  string
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d: %s", e.code, e.msg)
}

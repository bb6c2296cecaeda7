package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags, shared by every subcommand (spec §6's CLI surface).
	flagEnv        string
	flagRoot       string
	flagForce      bool
	flagForceBuild bool
	flagWatch      bool
	flagLoggerType string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "garden",
		Short: "Garden - polyglot development orchestrator",
		Long: `Garden configures, builds, deploys, and tests the modules of a project
across any number of plugins: template-resolved configuration, a
content-addressed build cache, and a bounded-concurrency task graph
scheduler with cross-run memoization.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagEnv, "env", "", "environment to act in (defaults to the project's defaultEnvironment)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().BoolVar(&flagForce, "force", false, "ignore memoized results and re-run everything")
	rootCmd.PersistentFlags().BoolVar(&flagForceBuild, "force-build", false, "ignore the build cache even if --force is not set")
	rootCmd.PersistentFlags().BoolVar(&flagWatch, "watch", false, "accepted for compatibility; no command reads it and nothing is re-run on source changes")
	rootCmd.PersistentFlags().StringVar(&flagLoggerType, "logger-type", "", "log output format (console, json)")

	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newPluginsCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newInitCommand())

	return rootCmd
}

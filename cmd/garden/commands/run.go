package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single task or module",
	}
	cmd.AddCommand(newRunTaskCommand())
	cmd.AddCommand(newRunModuleCommand())
	return cmd
}

func newRunTaskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "task <name>",
		Short: "Run a single declared task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			taskName := args[0]
			return withOrchestrator(ctx, func(o *Orchestrator) error {
				nodes, err := o.taskNodes(taskName)
				if err != nil {
					return err
				}
				results, runErr := o.run(ctx, nodes)
				return summarize(results, runErr)
			})
		},
	}
}

func newRunModuleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "module <name>",
		Short: "Run a module's runModule action directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			moduleName := args[0]
			return withOrchestrator(ctx, func(o *Orchestrator) error {
				if _, ok := o.modules[moduleName]; !ok {
					return gardenerr.New(gardenerr.KindConfiguration, "unknown module").WithEntity(moduleName)
				}
				buildNodes, err := o.buildNodes([]string{moduleName})
				if err != nil {
					return err
				}
				runNodes, err := o.runModuleNodes([]string{moduleName})
				if err != nil {
					return err
				}
				results, runErr := o.run(ctx, append(buildNodes, runNodes...))
				return summarize(results, runErr)
			})
		},
	}
}

package commands

import (
	"github.com/spf13/cobra"
)

func newBuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build [modules...]",
		Short: "Build one or more modules",
		Long:  "Build resolves every named module's build action, or every module in the project if none are named.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withOrchestrator(ctx, func(o *Orchestrator) error {
				names, err := o.ModuleClosure(args)
				if err != nil {
					return err
				}
				nodes, err := o.buildNodes(names)
				if err != nil {
					return err
				}
				results, runErr := o.run(ctx, nodes)
				return summarize(results, runErr)
			})
		},
	}
}

package commands

import (
	"github.com/spf13/cobra"
)

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [modules...]",
		Short: "Delete the deployed services of one or more modules",
		Long:  "Delete tears down every service owned by the named modules, or by every module in the project if none are named.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withOrchestrator(ctx, func(o *Orchestrator) error {
				names, err := o.ModuleNames(args)
				if err != nil {
					return err
				}
				nodes, err := o.deleteNodes(names)
				if err != nil {
					return err
				}
				results, runErr := o.run(ctx, nodes)
				return summarize(results, runErr)
			})
		},
	}
}

package commands

import (
	"github.com/spf13/cobra"
)

func newDeployCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy [modules...]",
		Short: "Deploy the services of one or more modules",
		Long:  "Deploy resolves every service owned by the named modules, or by every module in the project if none are named.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withOrchestrator(ctx, func(o *Orchestrator) error {
				names, err := o.ModuleClosure(args)
				if err != nil {
					return err
				}
				buildNodes, err := o.buildNodes(names)
				if err != nil {
					return err
				}
				deployNodes, err := o.deployNodes(names)
				if err != nil {
					return err
				}
				results, runErr := o.run(ctx, append(buildNodes, deployNodes...))
				return summarize(results, runErr)
			})
		},
	}
}

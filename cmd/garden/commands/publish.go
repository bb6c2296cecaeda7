package commands

import (
	"github.com/spf13/cobra"
)

func newPublishCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publish [modules...]",
		Short: "Publish one or more modules",
		Long:  "Publish resolves every named module's publish action, or every module in the project if none are named.",
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
				publishNodes, err := o.publishNodes(names)
				if err != nil {
					return err
				}
				results, runErr := o.run(ctx, append(buildNodes, publishNodes...))
				return summarize(results, runErr)
			})
		},
	}
}

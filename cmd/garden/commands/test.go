package commands

import (
	"github.com/spf13/cobra"
)

func newTestCommand() *cobra.Command {
	var nameGlob string

	cmd := &cobra.Command{
		Use:   "test [modules...]",
		Short: "Run the tests of one or more modules",
		Long:  "Test resolves every test owned by the named modules, or by every module in the project if none are named.",
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
				testNodes, err := o.testNodes(names, nameGlob)
				if err != nil {
					return err
				}
				results, runErr := o.run(ctx, append(buildNodes, testNodes...))
				return summarize(results, runErr)
			})
		},
	}

	cmd.Flags().StringVar(&nameGlob, "name", "", "glob filter on test name, e.g. --name \"int*\"")
	return cmd
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// newPluginsCommand implements spec §6's "plugins <plugin> <command>"
// surface: dispatching a plugin-contributed command directly, bypassing
// the module/provider action router entirely since these commands have
// no graph target.
func newPluginsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins <plugin> <command>",
		Short: "Run a plugin-contributed command",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pluginName, commandName := args[0], args[1]
			return withOrchestrator(ctx, func(o *Orchestrator) error {
				resolved, ok := o.plugins.Resolved(pluginName)
				if !ok {
					return gardenerr.New(gardenerr.KindConfiguration, "unknown plugin").WithEntity(pluginName)
				}
				command, ok := resolved.Commands[commandName]
				if !ok {
					return gardenerr.New(gardenerr.KindConfiguration, "plugin does not declare this command").
						WithEntity(pluginName).WithDetail("command", commandName)
				}
				params := map[string]interface{}{"args": args[2:]}
				_, err := command.Handler(ctx, params)
				return err
			})
		},
	}
}

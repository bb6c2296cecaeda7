package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// newGetCommand implements spec §6's "get" surface: read-only queries
// against the resolved project, distinct from every other subcommand,
// which dispatches actions.
func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Query the resolved project",
	}
	cmd.AddCommand(newGetModulesCommand())
	cmd.AddCommand(newGetGraphCommand())
	return cmd
}

func newGetModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List every discovered module and its resolved version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withOrchestrator(ctx, func(o *Orchestrator) error {
				names := make([]string, 0, len(o.modules))
				for n := range o.modules {
					names = append(names, n)
				}
				sort.Strings(names)

				type moduleInfo struct {
					Name    string `json:"name"`
					Type    string `json:"type"`
					Path    string `json:"path"`
					Version string `json:"version"`
				}
				out := make([]moduleInfo, 0, len(names))
				for _, n := range names {
					m := o.modules[n]
					out = append(out, moduleInfo{Name: m.Name, Type: m.Type, Path: m.Path, Version: m.Version.VersionString})
				}
				enc, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(enc))
				return nil
			})
		},
	}
}

func newGetGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the config graph's entities and their dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withOrchestrator(ctx, func(o *Orchestrator) error {
				entities := o.graph.All()
				sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })

				type entityInfo struct {
					Name         string   `json:"name"`
					Kind         string   `json:"kind"`
					Module       string   `json:"module"`
					Dependencies []string `json:"dependencies"`
				}
				out := make([]entityInfo, 0, len(entities))
				for _, e := range entities {
					out = append(out, entityInfo{
						Name:         e.Name,
						Kind:         string(e.Kind),
						Module:       e.Module,
						Dependencies: o.graph.DirectDependenciesAll(e.Name),
					})
				}
				enc, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(enc))
				return nil
			})
		},
	}
}

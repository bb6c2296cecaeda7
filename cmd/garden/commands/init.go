package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new Garden project",
		Long: `Initialize a new Garden project in the target directory with a
default garden.yml and a .garden cache directory.`,
		Example: `  garden init
  garden init --name my-project --root ./my-project`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(flagRoot)
			if err != nil {
				return fmt.Errorf("failed to resolve project root: %w", err)
			}

			if projectName == "" {
				projectName = filepath.Base(root)
			}

			fmt.Printf("Initializing Garden project %q in %s\n\n", projectName, root)

			if err := os.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("failed to create project root: %w", err)
			}
			fmt.Printf("✓ Project root: %s\n", root)

			cacheDir := filepath.Join(root, ".garden")
			if err := os.MkdirAll(cacheDir, 0o755); err != nil {
				return fmt.Errorf("failed to create cache directory: %w", err)
			}
			fmt.Printf("✓ Created cache directory: %s\n", cacheDir)

			configPath := filepath.Join(root, "garden.yml")
			if _, err := os.Stat(configPath); err == nil {
				fmt.Printf("✓ garden.yml already exists: %s\n", configPath)
			} else {
				const projectTemplate = `apiVersion: garden.io/v0
kind: Project
name: %s
defaultEnvironment: local
environments:
  - name: local
    variables: {}
providers: []
dotIgnoreFiles:
  - .gitignore
variables: {}
`
				content := fmt.Sprintf(projectTemplate, projectName)
				if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
					return fmt.Errorf("failed to write garden.yml: %w", err)
				}
				fmt.Printf("✓ Created project config: %s\n", configPath)
			}

			fmt.Printf("\nNext steps:\n")
			fmt.Printf("  1. Declare providers in garden.yml for the plugins your modules use.\n")
			fmt.Printf("  2. Add a garden.yml with kind: Module next to each module's sources.\n")
			fmt.Printf("  3. Run:\n")
			fmt.Printf("     garden build\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "name", "", "project name (defaults to the root directory's name)")

	return cmd
}

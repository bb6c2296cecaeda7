package commands

import (
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

var projectValidator = validator.New()

// EnvironmentSpec is one entry of a project's declared environments.
type EnvironmentSpec struct {
	Name      string                 `yaml:"name" validate:"required"`
	Variables map[string]interface{} `yaml:"variables"`
}

// ProviderSpec is one entry of a project's declared providers, as written
// in garden.yml before plugin resolution.
type ProviderSpec struct {
	Name         string                 `yaml:"name" validate:"required"`
	Plugin       string                 `yaml:"plugin" validate:"required"`
	Config       map[string]interface{} `yaml:"config"`
	Environments []string               `yaml:"environments"`
}

// ProjectConfig is the root garden.yml document (spec §6's "kind: Project"
// layout): project identity, the environment set, the declared provider
// list, and project-wide variables available to every module's static
// template pass.
type ProjectConfig struct {
	APIVersion         string                 `yaml:"apiVersion"`
	Kind               string                 `yaml:"kind" validate:"required"`
	Name               string                 `yaml:"name" validate:"required"`
	DefaultEnvironment string                 `yaml:"defaultEnvironment"`
	Environments       []EnvironmentSpec      `yaml:"environments" validate:"dive"`
	Providers          []ProviderSpec         `yaml:"providers" validate:"dive"`
	DotIgnoreFiles     []string               `yaml:"dotIgnoreFiles"`
	Variables          map[string]interface{} `yaml:"variables"`

	root string
}

// LoadProject reads root's garden.yml (or garden.yaml) project document.
func LoadProject(root string) (*ProjectConfig, error) {
	path := filepath.Join(root, "garden.yml")
	if _, err := os.Stat(path); err != nil {
		alt := filepath.Join(root, "garden.yaml")
		if _, err := os.Stat(alt); err == nil {
			path = alt
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "failed to read project config", err).
			WithEntity(path).
			WithHint("a project root needs a garden.yml with kind: Project")
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "failed to parse project config", err).WithEntity(path)
	}
	if err := projectValidator.Struct(&cfg); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "project config failed struct validation", err).WithEntity(path)
	}
	if cfg.Kind != "Project" {
		return nil, gardenerr.New(gardenerr.KindConfiguration, "root garden.yml is not a Project document").
			WithEntity(path).
			WithDetail("kind", cfg.Kind)
	}
	cfg.root = root
	return &cfg, nil
}

// VariablesForEnvironment merges the project's base variables with the
// named environment's overrides, environment variables winning.
func (p *ProjectConfig) VariablesForEnvironment(name string) map[string]interface{} {
	merged := map[string]interface{}{}
	for k, v := range p.Variables {
		merged[k] = v
	}
	for _, env := range p.Environments {
		if env.Name == name {
			for k, v := range env.Variables {
				merged[k] = v
			}
			break
		}
	}
	return merged
}

// ResolveEnvironment picks the active environment: the explicit flag value
// if set, otherwise the project's defaultEnvironment.
func (p *ProjectConfig) ResolveEnvironment(flag string) string {
	if flag != "" {
		return flag
	}
	return p.DefaultEnvironment
}

// Package moduleconfig discovers, parses, and configures modules
// (spec §4.6/C7): garden.yml discovery honoring include/exclude/ignore
// globs, per-module static template resolution, schema-chain validation
// against the module type's creator+extension schemas, the configure
// handler invocation, and content-addressed version computation.
//
// Discovery is grounded on pkg/policy/loader.go's path-walk-plus-cache
// shape; parsing uses gopkg.in/yaml.v3 the way garden.yml documents are
// YAML, not CUE (CUE is reserved for schema compilation in pkg/schema).
package moduleconfig

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/garden/pkg/configstore"
	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/plugin"
	"github.com/openfroyo/garden/pkg/schema"
	"github.com/openfroyo/garden/pkg/telemetry"
	"github.com/openfroyo/garden/pkg/template"
	"github.com/openfroyo/garden/pkg/vcs"
	"github.com/openfroyo/garden/pkg/version"
)

// CopyRule copies a build dependency's output path into the dependent
// module's build context before the build runs (spec §3's
// build.dependencies[].copy).
type CopyRule struct {
	Source string `yaml:"source" validate:"required"`
	Target string `yaml:"target" validate:"required"`
}

// BuildDependency is one entry of a module's build.dependencies list: a
// build-time dependency on another module, with the files (if any) to
// copy from its output into this module's root.
type BuildDependency struct {
	Name string     `yaml:"name" validate:"required"`
	Copy []CopyRule `yaml:"copy" validate:"dive"`
}

// BuildSpec is a module document's build block (spec §3: "build: {
// dependencies: [{name, copy:[{source,target}]}], command? }").
type BuildSpec struct {
	Dependencies []BuildDependency `yaml:"dependencies" validate:"dive"`
	Command      string            `yaml:"command"`
}

// ServiceSpec, TaskSpec and TestSpec are the raw, unresolved declarations
// nested inside a module document.
type ServiceSpec struct {
	Name   string                 `yaml:"name"`
	Config map[string]interface{} `yaml:"config"`
	Deps   []string               `yaml:"dependencies"`
}

type TaskSpec struct {
	Name   string                 `yaml:"name"`
	Config map[string]interface{} `yaml:"config"`
	Deps   []string               `yaml:"dependencies"`
}

type TestSpec struct {
	Name   string                 `yaml:"name"`
	Config map[string]interface{} `yaml:"config"`
	Deps   []string               `yaml:"dependencies"`
}

// RawModule is a garden.yml document as parsed off disk, before template
// resolution or schema validation.
type RawModule struct {
	Kind          string                 `yaml:"kind" validate:"required"`
	Name          string                 `yaml:"name" validate:"required"`
	Type          string                 `yaml:"type" validate:"required"`
	RepositoryURL string                 `yaml:"repositoryUrl"`
	Include       []string               `yaml:"include"`
	Exclude       []string               `yaml:"exclude"`
	Env           map[string]interface{} `yaml:"env"`
	Config        map[string]interface{} `yaml:"config"`
	Build         BuildSpec              `yaml:"build"`
	Local         bool                   `yaml:"local"`
	Disabled      bool                   `yaml:"disabled"`
	Services      []ServiceSpec          `yaml:"services"`
	Tasks         []TaskSpec             `yaml:"tasks"`
	Tests         []TestSpec             `yaml:"tests"`

	path string // absolute path to the garden.yml this was parsed from
	root string // absolute path to the module's content root (path's dir)
}

// Module is a fully resolved module: template-resolved, schema-validated,
// configure-handled, and version-computed.
type Module struct {
	Name         string
	Type         string
	Path         string
	Version      *version.ModuleVersion
	Config       map[string]interface{}
	Env          map[string]interface{}
	Dependencies []string
	Build        BuildSpec
	Local        bool
	Services     []ServiceSpec
	Tasks        []TaskSpec
	Tests        []TestSpec
}

// Discoverer finds and configures modules under a project root.
type Discoverer struct {
	plugins   *plugin.Registry
	validator *schema.Validator
	logger    *telemetry.Logger
	store     *configstore.Store // optional: user-linked local path overrides
	checkout  *vcs.Checkout      // optional: remote repositoryUrl checkout
}

// New creates a Discoverer.
func New(plugins *plugin.Registry, validator *schema.Validator, logger *telemetry.Logger, store *configstore.Store) *Discoverer {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Discoverer{plugins: plugins, validator: validator, logger: logger, store: store}
}

// WithCheckout enables remote module resolution: a module declaring
// repositoryUrl has its sources cloned/fetched through checkout before its
// version is computed, instead of resolving against its garden.yml's own
// directory.
func (d *Discoverer) WithCheckout(checkout *vcs.Checkout) *Discoverer {
	d.checkout = checkout
	return d
}

// Discover walks root looking for garden.yml files, skipping anything
// matched by ignoreGlobs (spec §4.6's ignore-file hierarchy), and returns
// one RawModule per file found.
func (d *Discoverer) Discover(root string, ignoreGlobs []string) ([]*RawModule, error) {
	compiled, err := compileIgnorePatterns(ignoreGlobs)
	if err != nil {
		return nil, err
	}

	ymlDirs := map[string]bool{}
	yamlDirs := map[string]bool{}

	var raws []*RawModule
	err = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if entry.IsDir() {
			if rel != "." && (rel == ".garden" || rel == ".git" || matchAny(compiled, rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		base := filepath.Base(path)
		if base != "garden.yml" && base != "garden.yaml" {
			return nil
		}
		if matchAny(compiled, rel) {
			return nil
		}
		if base == "garden.yml" {
			ymlDirs[filepath.Dir(path)] = true
		} else {
			yamlDirs[filepath.Dir(path)] = true
		}
		raw, err := parseFile(path)
		if err != nil {
			return err
		}
		if raw.Kind == "Project" {
			// The root project document declares providers/environments,
			// not a module; callers load it separately.
			return nil
		}
		raws = append(raws, raw)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkExtensionCollisions(ymlDirs, yamlDirs); err != nil {
		return nil, err
	}

	if err := checkDuplicateNames(raws); err != nil {
		return nil, err
	}

	sort.Slice(raws, func(i, j int) bool { return raws[i].Name < raws[j].Name })
	return raws, nil
}

// checkExtensionCollisions enforces spec §4.6's rule against a single
// directory declaring both a garden.yml and a garden.yaml.
func checkExtensionCollisions(ymlDirs, yamlDirs map[string]bool) error {
	var collided []string
	for dir := range ymlDirs {
		if yamlDirs[dir] {
			collided = append(collided, dir)
		}
	}
	if len(collided) == 0 {
		return nil
	}
	sort.Strings(collided)
	return gardenerr.New(gardenerr.KindConfiguration, "directory declares both garden.yml and garden.yaml").
		WithDetail("directories", collided)
}

var moduleValidator = validator.New()

func parseFile(path string) (*RawModule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "failed to read module config", err).WithEntity(path)
	}
	var raw RawModule
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "failed to parse module config", err).WithEntity(path)
	}
	// The root project document shares this file's discovery walk but isn't
	// a RawModule shape (no type); it's filtered out by the caller right
	// after parsing, so struct-tag validation only applies to module docs.
	if raw.Kind != "Project" {
		if err := moduleValidator.Struct(&raw); err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "module config failed struct validation", err).WithEntity(path)
		}
	}
	raw.path = path
	raw.root = filepath.Dir(path)
	return &raw, nil
}

func checkDuplicateNames(raws []*RawModule) error {
	seen := map[string]string{}
	for _, r := range raws {
		if existing, ok := seen[r.Name]; ok {
			return gardenerr.New(gardenerr.KindConfiguration, "duplicate module name").
				WithCode(gardenerr.CodeDuplicateModule).
				WithEntity(r.Name).
				WithDetail("paths", []string{existing, r.path})
		}
		seen[r.Name] = r.path
	}
	return nil
}

// SortByBuildDependencies orders raws so that every module follows each
// module named in its own build.dependencies, the order Configure needs to
// fold a dependency's already-computed version into its own (spec §4.3
// step 4), the way pkg/plugin.Registry.topologicalOrder orders plugins by
// Dependencies.
func SortByBuildDependencies(raws []*RawModule) ([]*RawModule, error) {
	byName := make(map[string]*RawModule, len(raws))
	for _, r := range raws {
		byName[r.Name] = r
	}

	// adjacency[x] lists the modules that declare x as a build dependency.
	adjacency := map[string][]string{}
	for _, r := range raws {
		if _, ok := adjacency[r.Name]; !ok {
			adjacency[r.Name] = nil
		}
	}
	for _, r := range raws {
		for _, dep := range r.Build.Dependencies {
			adjacency[dep.Name] = append(adjacency[dep.Name], r.Name)
		}
	}

	visited := map[string]bool{}
	recStack := map[string]bool{}
	var order []string

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		visited[name] = true
		recStack[name] = true
		path = append(path, name)

		for _, dependent := range adjacency[name] {
			if !visited[dependent] {
				if err := visit(dependent, path); err != nil {
					return err
				}
			} else if recStack[dependent] {
				start := -1
				for i, n := range path {
					if n == dependent {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dependent)
				return gardenerr.New(gardenerr.KindConfiguration, "circular build dependency").
					WithDetail("cycle", cycle)
			}
		}

		recStack[name] = false
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(raws))
	for _, r := range raws {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !visited[name] {
			if err := visit(name, nil); err != nil {
				return nil, err
			}
		}
	}

	// visit appends a node after all its dependents, i.e. roots last;
	// reverse so dependency-free modules come first.
	ordered := make([]*RawModule, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		ordered = append(ordered, byName[order[i]])
	}
	return ordered, nil
}

// Configure resolves raw against staticCtx, validates it against its
// module type's creator+extension schema chain, runs the type's
// "configure" handler if one exists, applies any local path override from
// the config store, rejects a local module's copying build dependencies,
// and computes its content-addressed version, folding in depVersions (the
// already-computed versions of its own build.dependencies, keyed by name).
func (d *Discoverer) Configure(ctx context.Context, raw *RawModule, staticCtx template.Context, depVersions map[string]string) (*Module, error) {
	if raw.Disabled {
		return nil, nil
	}

	if raw.Local {
		var offending []string
		for _, dep := range raw.Build.Dependencies {
			if len(dep.Copy) > 0 {
				offending = append(offending, dep.Name)
			}
		}
		if len(offending) > 0 {
			sort.Strings(offending)
			return nil, gardenerr.New(gardenerr.KindConfiguration, "local module's build dependencies may not declare copy").
				WithEntity(raw.Name).WithDetail("dependencies", offending)
		}
	}

	resolvedAny, err := template.ResolveStatic(map[string]interface{}{
		"config": raw.Config,
		"env":    raw.Env,
	}, staticCtx)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindTemplate, "module template resolution failed", err).WithEntity(raw.Name)
	}
	resolved, _ := resolvedAny.(map[string]interface{})
	cfg, _ := resolved["config"].(map[string]interface{})
	env, _ := resolved["env"].(map[string]interface{})
	if cfg == nil {
		cfg = map[string]interface{}{}
	}

	mt, ok := d.plugins.ModuleType(raw.Type)
	if !ok {
		return nil, gardenerr.New(gardenerr.KindPlugin, "unknown module type").
			WithCode(gardenerr.CodeUnknownModuleType).WithEntity(raw.Type).WithDetail("module", raw.Name)
	}

	var schemas []*schema.Schema
	if mt.Schema != nil {
		schemas = append(schemas, mt.Schema)
	}
	validated, err := d.validator.ValidateChain(schemas, cfg)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "module config failed validation", err).WithEntity(raw.Name)
	}

	if slot, ok := mt.Handlers["configure"]; ok {
		result, err := invokeChain(ctx, slot, map[string]interface{}{"config": validated})
		if err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindRuntime, "configure handler failed", err).WithEntity(raw.Name)
		}
		if cfg, ok := result["config"].(map[string]interface{}); ok {
			validated = cfg
		}
	}

	root := raw.root
	if d.store != nil {
		var override string
		if ok, err := d.store.Get("module-link:"+raw.Name, &override); err == nil && ok && override != "" {
			root = override
		}
	}
	if root == raw.root && raw.RepositoryURL != "" {
		if d.checkout == nil {
			return nil, gardenerr.New(gardenerr.KindConfiguration, "module declares repositoryUrl but no checkout was configured").WithEntity(raw.Name)
		}
		resolvedRoot, err := d.checkout.Resolve(ctx, vcs.Ref{URL: raw.RepositoryURL})
		if err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindRuntime, "remote module checkout failed", err).WithEntity(raw.Name)
		}
		root = resolvedRoot
	}

	files, err := version.ListTrackedFiles(root)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to list module files", err).WithEntity(raw.Name)
	}
	selected, err := version.SelectFiles(files, raw.Include, raw.Exclude, nil)
	if err != nil {
		return nil, err
	}
	mv, err := version.Compute(root, selected, depVersions)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to compute module version", err).WithEntity(raw.Name)
	}

	d.logger.WithField("module", raw.Name).WithField("version", mv.VersionString).Debug("module configured")

	return &Module{
		Name:         raw.Name,
		Type:         raw.Type,
		Path:         root,
		Version:      mv,
		Config:       validated,
		Env:          env,
		Dependencies: buildDependencyNames(raw.Build.Dependencies),
		Build:        raw.Build,
		Local:        raw.Local,
		Services:     raw.Services,
		Tasks:        raw.Tasks,
		Tests:        raw.Tests,
	}, nil
}

func buildDependencyNames(deps []BuildDependency) []string {
	names := make([]string, len(deps))
	for i, d := range deps {
		names[i] = d.Name
	}
	return names
}

func invokeChain(ctx context.Context, slot *plugin.HandlerSlot, params map[string]interface{}) (map[string]interface{}, error) {
	if slot.Super != nil {
		superSlot := slot.Super
		cloned := make(map[string]interface{}, len(params)+1)
		for k, v := range params {
			cloned[k] = v
		}
		cloned["super"] = plugin.HandlerFunc(func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return invokeChain(ctx, superSlot, p)
		})
		params = cloned
	}
	return slot.Handler(ctx, params)
}

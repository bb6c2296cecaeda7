package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/garden/pkg/action"
	"github.com/openfroyo/garden/pkg/bootstrap"
	"github.com/openfroyo/garden/pkg/configstore"
	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/graph"
	"github.com/openfroyo/garden/pkg/moduleconfig"
	"github.com/openfroyo/garden/pkg/plugin"
	"github.com/openfroyo/garden/pkg/policy"
	"github.com/openfroyo/garden/pkg/provider"
	"github.com/openfroyo/garden/pkg/runtimectx"
	"github.com/openfroyo/garden/pkg/schema"
	"github.com/openfroyo/garden/pkg/store"
	"github.com/openfroyo/garden/pkg/telemetry"
	"github.com/openfroyo/garden/pkg/template"
	"github.com/openfroyo/garden/pkg/vcs"

	"github.com/openfroyo/garden/providers/wasmref"
)

// Orchestrator wires every core component (spec §2's component table)
// into the one assembly a CLI command drives: discover and configure
// modules, resolve providers, build the config graph, and dispatch
// actions through the scheduler with cross-run memoization.
type Orchestrator struct {
	Root        string
	Environment string
	Force       bool
	ForceBuild  bool

	config    *bootstrap.Config
	tel       *telemetry.Telemetry
	logger    *telemetry.Logger
	project   *ProjectConfig
	plugins   *plugin.Registry
	validator *schema.Validator
	cstore    *configstore.Store
	store     *store.Store

	discoverer *moduleconfig.Discoverer
	modules    map[string]*moduleconfig.Module
	graph      *graph.Graph
	providers  map[string]*provider.Provider

	runtime *runtimectx.Builder
	router  *action.Router
	runID   string
}

// NewOrchestrator assembles the orchestrator for root under the active
// environment, discovering and configuring every module and resolving
// every provider before returning.
func NewOrchestrator(ctx context.Context, root, envFlag string, force, forceBuild bool, loggerType string) (*Orchestrator, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to resolve project root", err)
	}

	cfg, err := bootstrap.Load()
	if err != nil {
		return nil, err
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceName = "garden"
	telCfg.Logging.Level = cfg.LogLevel
	if loggerType != "" {
		telCfg.Logging.Format = loggerType
	} else {
		telCfg.Logging.Format = cfg.LogFormat
	}
	telCfg.Tracing.Enabled = cfg.TracingEnabled
	telCfg.Tracing.Exporter = cfg.TracingExporter
	telCfg.Metrics.Enabled = cfg.MetricsEnabled
	telCfg.Metrics.ListenAddress = cfg.MetricsAddress
	telCfg.Events.Enabled = true
	telCfg.Events.EnableAsync = false

	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to initialize telemetry", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to start metrics server", err)
	}
	logger := tel.Logger

	project, err := LoadProject(absRoot)
	if err != nil {
		return nil, err
	}
	environment := project.ResolveEnvironment(envFlag)

	cacheDir := cfg.CacheDir
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(absRoot, cacheDir)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to create cache directory", err).WithEntity(cacheDir)
	}

	cstore, err := configstore.Open(filepath.Join(cacheDir, "config-store.json"))
	if err != nil {
		return nil, err
	}

	runHistory, err := store.New(store.Config{Path: filepath.Join(cacheDir, "garden.db")})
	if err != nil {
		return nil, err
	}
	if err := runHistory.Init(ctx); err != nil {
		return nil, err
	}
	if err := runHistory.Migrate(ctx); err != nil {
		return nil, err
	}

	registry := plugin.NewRegistry()
	if err := registry.Register(wasmref.Descriptor(cfg.RunnerPath)); err != nil {
		return nil, err
	}
	if err := registry.Resolve(); err != nil {
		return nil, err
	}

	validator := schema.New()
	discoverer := moduleconfig.New(registry, validator, logger, cstore).
		WithCheckout(vcs.New(filepath.Join(cacheDir, "modules"), cfg.KnownHosts, cfg.StrictHosts))

	o := &Orchestrator{
		Root:        absRoot,
		Environment: environment,
		Force:       force,
		ForceBuild:  forceBuild,
		config:      cfg,
		tel:         tel,
		logger:      logger,
		project:     project,
		plugins:     registry,
		validator:   validator,
		cstore:      cstore,
		store:       runHistory,
		discoverer:  discoverer,
		modules:     map[string]*moduleconfig.Module{},
		runtime:     runtimectx.New(),
	}

	if err := o.loadModules(ctx); err != nil {
		return nil, err
	}
	if err := o.resolveProviders(ctx); err != nil {
		return nil, err
	}
	if err := o.buildGraph(); err != nil {
		return nil, err
	}

	policyEngine, err := policy.NewEngine(zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to initialize policy engine", err)
	}
	if cfg.PolicyBundlePath != "" {
		if _, err := policyEngine.LoadBundle(ctx, cfg.PolicyBundlePath); err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "failed to load policy bundle", err).WithEntity(cfg.PolicyBundlePath)
		}
	}
	if len(cfg.PolicyPaths) > 0 {
		if err := policyEngine.LoadPolicies(ctx, cfg.PolicyPaths); err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "failed to load policies", err)
		}
		if cfg.PolicyWatch {
			if err := policyEngine.WatchPolicies(ctx, cfg.PolicyPaths); err != nil {
				return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to watch policy paths", err)
			}
		}
	}
	mode := policy.ModeAdvisory
	if cfg.PolicyMode == string(policy.ModeEnforcing) {
		mode = policy.ModeEnforcing
	}
	o.router = action.New(registry, logger, action.WithPolicy(policyEngine, mode))

	o.runID = uuid.New().String()
	if err := o.store.CreateRun(ctx, o.runID, o.Root); err != nil {
		return nil, err
	}

	return o, nil
}

// staticContext builds the project-wide template namespace (spec §6's
// variables/environment/project namespaces) that every module's config
// and every provider's config resolves against during the static pass.
func (o *Orchestrator) staticContext() template.Context {
	return template.Context{
		"project":     map[string]interface{}{"name": o.project.Name},
		"environment": map[string]interface{}{"name": o.Environment},
		"variables":   o.project.VariablesForEnvironment(o.Environment),
	}
}

func (o *Orchestrator) loadModules(ctx context.Context) error {
	raws, err := o.discoverer.Discover(o.Root, o.project.DotIgnoreFiles)
	if err != nil {
		return err
	}
	ordered, err := moduleconfig.SortByBuildDependencies(raws)
	if err != nil {
		return err
	}

	staticCtx := o.staticContext()
	versions := map[string]string{}
	for _, raw := range ordered {
		depVersions := map[string]string{}
		for _, dep := range raw.Build.Dependencies {
			v, ok := versions[dep.Name]
			if !ok {
				return gardenerr.New(gardenerr.KindConfiguration, "unresolved build dependency").
					WithEntity(raw.Name).WithDetail("dependency", dep.Name)
			}
			depVersions[dep.Name] = v
		}

		m, err := o.discoverer.Configure(ctx, raw, staticCtx, depVersions)
		if err != nil {
			return err
		}
		if m == nil {
			continue // disabled module
		}
		versions[m.Name] = m.Version.VersionString
		o.modules[m.Name] = m
	}
	return nil
}

func (o *Orchestrator) resolveProviders(ctx context.Context) error {
	var specs []*provider.Spec
	for _, p := range o.project.Providers {
		specs = append(specs, &provider.Spec{
			Name:         p.Name,
			PluginName:   p.Plugin,
			Config:       p.Config,
			Environments: p.Environments,
		})
	}
	resolver := provider.New(o.plugins, o.validator, o.logger, o.config.Concurrency)
	resolved, err := resolver.Resolve(ctx, specs, o.Environment, o.staticContext())
	if err != nil {
		return err
	}
	o.providers = resolved
	return nil
}

// buildGraph registers every module, service, task, and test as a config
// graph entity, then wires the build/service/task/test edges spec §4.7
// describes, and validates the result is acyclic.
func (o *Orchestrator) buildGraph() error {
	g := graph.New()
	for _, m := range o.modules {
		if err := g.AddEntity(&graph.Entity{Name: m.Name, Kind: graph.KindModule, Module: m.Name}); err != nil {
			return err
		}
		for _, svc := range m.Services {
			if err := g.AddEntity(&graph.Entity{Name: svc.Name, Kind: graph.KindService, Module: m.Name}); err != nil {
				return err
			}
		}
		for _, task := range m.Tasks {
			if err := g.AddEntity(&graph.Entity{Name: task.Name, Kind: graph.KindTask, Module: m.Name}); err != nil {
				return err
			}
		}
		for _, test := range m.Tests {
			if err := g.AddEntity(&graph.Entity{Name: test.Name, Kind: graph.KindTest, Module: m.Name}); err != nil {
				return err
			}
		}
	}

	for _, m := range o.modules {
		for _, dep := range m.Dependencies {
			if err := g.AddEdge(graph.EdgeBuild, m.Name, dep); err != nil {
				return err
			}
		}
		for _, svc := range m.Services {
			for _, dep := range svc.Deps {
				if err := g.AddEdge(graph.EdgeService, svc.Name, dep); err != nil {
					return err
				}
			}
		}
		for _, task := range m.Tasks {
			for _, dep := range task.Deps {
				if err := g.AddEdge(graph.EdgeTask, task.Name, dep); err != nil {
					return err
				}
			}
		}
		for _, test := range m.Tests {
			for _, dep := range test.Deps {
				if err := g.AddEdge(graph.EdgeTest, test.Name, dep); err != nil {
					return err
				}
			}
		}
	}

	if err := g.Validate(); err != nil {
		return err
	}
	o.graph = g
	return nil
}

// Close releases the orchestrator's persistent resources, recording the
// outcome of the run it opened.
func (o *Orchestrator) Close(ctx context.Context, runErr error) error {
	status := "success"
	if runErr != nil {
		status = "failed"
	}
	_ = o.store.CompleteRun(ctx, o.runID, status, runErr)
	if err := o.store.Close(); err != nil {
		return err
	}
	return o.tel.Shutdown(ctx)
}

// ModuleClosure returns filter's modules (see ModuleNames) plus every
// module owning an entity any of their modules/services/tasks/tests
// transitively depend on, so a scheduler run built from the result never
// references a dependency node that was left out of the run.
func (o *Orchestrator) ModuleClosure(filter []string) ([]string, error) {
	names, err := o.ModuleNames(filter)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}

	queue := append([]string{}, names...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		m, ok := o.modules[name]
		if !ok {
			continue
		}
		entities := []string{m.Name}
		for _, svc := range m.Services {
			entities = append(entities, svc.Name)
		}
		for _, task := range m.Tasks {
			entities = append(entities, task.Name)
		}
		for _, test := range m.Tests {
			entities = append(entities, test.Name)
		}
		for _, e := range entities {
			for _, dep := range o.graph.TransitiveDependenciesAll(e) {
				owner, ok := o.graph.OwningModule(dep)
				if !ok || seen[owner] {
					continue
				}
				seen[owner] = true
				queue = append(queue, owner)
			}
		}
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	return out, nil
}

// withOrchestrator assembles an Orchestrator from the process's global
// flags, runs fn against it, and always closes it, recording fn's outcome
// against the run history regardless of whether fn itself returned an
// error.
func withOrchestrator(ctx context.Context, fn func(o *Orchestrator) error) error {
	o, err := NewOrchestrator(ctx, flagRoot, flagEnv, flagForce, flagForceBuild, flagLoggerType)
	if err != nil {
		return err
	}
	runErr := fn(o)
	closeErr := o.Close(ctx, runErr)
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// ModuleNames returns every discovered module name, or names filtered to
// the ones matching filter (an empty filter means every module).
func (o *Orchestrator) ModuleNames(filter []string) ([]string, error) {
	if len(filter) == 0 {
		names := make([]string, 0, len(o.modules))
		for n := range o.modules {
			names = append(names, n)
		}
		return names, nil
	}
	for _, n := range filter {
		if _, ok := o.modules[n]; !ok {
			return nil, gardenerr.New(gardenerr.KindConfiguration, "unknown module").WithEntity(n)
		}
	}
	return filter, nil
}


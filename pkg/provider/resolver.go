package provider

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/plugin"
	"github.com/openfroyo/garden/pkg/schema"
	"github.com/openfroyo/garden/pkg/telemetry"
	"github.com/openfroyo/garden/pkg/template"
)

// implicitRefPattern finds "${providers.<name>...}" references anywhere in
// a template expression, for the implicit-dependency edges spec §4.5 asks
// the resolver to combine with declared plugin dependencies.
var implicitRefPattern = regexp.MustCompile(`\$\{\s*providers\.([a-zA-Z0-9_-]+)`)

// Resolver builds the provider DAG and runs each provider through its
// configure/status lifecycle in dependency order, bounded-parallel where
// independent.
type Resolver struct {
	plugins   *plugin.Registry
	validator *schema.Validator
	logger    *telemetry.Logger
	// concurrency bounds how many independent providers resolve at once.
	concurrency int
}

// New creates a Resolver.
func New(plugins *plugin.Registry, validator *schema.Validator, logger *telemetry.Logger, concurrency int) *Resolver {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Resolver{plugins: plugins, validator: validator, logger: logger, concurrency: concurrency}
}

// Resolve runs every non-restricted spec through the provider lifecycle
// and returns the resolved providers keyed by name.
func (r *Resolver) Resolve(ctx context.Context, specs []*Spec, activeEnvironment string, staticCtx template.Context) (map[string]*Provider, error) {
	active := make(map[string]*Spec)
	for _, s := range specs {
		if s.restrictedOut(activeEnvironment) {
			continue
		}
		active[s.Name] = s
	}

	edges, err := r.buildEdges(active)
	if err != nil {
		return nil, err
	}

	levels, err := levelOrder(active, edges)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]*Provider)
	outputs := make(map[string]interface{})

	for levelIdx, level := range levels {
		level := level
		r.logger.WithField("level", levelIdx).WithField("providers", level).Debug("resolving provider level")
		group, gctx := errgroup.WithContext(ctx)
		group.SetLimit(r.concurrency)

		type result struct {
			name string
			p    *Provider
		}
		results := make(chan result, len(level))

		for _, name := range level {
			name := name
			spec := active[name]
			group.Go(func() error {
				providerCtx := cloneContext(staticCtx)
				providerCtx["providers"] = outputs
				p, err := r.resolveOne(gctx, spec, providerCtx, resolved, edges[name])
				if err != nil {
					return err
				}
				results <- result{name: name, p: p}
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return nil, err
		}
		close(results)
		for res := range results {
			resolved[res.name] = res.p
			outputs[res.name] = map[string]interface{}{"outputs": res.p.Status.Outputs}
		}
	}

	return resolved, nil
}

func (r *Resolver) resolveOne(ctx context.Context, spec *Spec, tmplCtx template.Context, resolved map[string]*Provider, deps []string) (*Provider, error) {
	log := r.logger.WithProvider(spec.Name, spec.PluginName)

	rp, ok := r.plugins.Resolved(spec.PluginName)
	if !ok {
		return nil, gardenerr.New(gardenerr.KindPlugin, "provider references unknown plugin").
			WithEntity(spec.Name).WithDetail("plugin", spec.PluginName)
	}

	resolvedConfig, err := template.ResolveStatic(spec.Config, tmplCtx)
	if err != nil {
		return nil, err
	}
	configMap, _ := resolvedConfig.(map[string]interface{})
	if configMap == nil {
		configMap = map[string]interface{}{}
	}

	validated, err := r.validator.ValidateChain(rp.ConfigSchemas, configMap)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "provider config failed validation", err).WithEntity(spec.Name)
	}

	var moduleConfigs []map[string]interface{}
	if slot, ok := rp.Handlers["configureProvider"]; ok {
		result, err := invoke(ctx, slot, map[string]interface{}{"config": validated})
		if err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindRuntime, "configureProvider handler failed", err).WithEntity(spec.Name)
		}
		if cfg, ok := result["config"].(map[string]interface{}); ok {
			validated, err = r.validator.ValidateChain(rp.ConfigSchemas, cfg)
			if err != nil {
				return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "provider config returned by configureProvider failed validation", err).WithEntity(spec.Name)
			}
		}
		if mcs, ok := result["moduleConfigs"].([]map[string]interface{}); ok {
			moduleConfigs = mcs
		}
	}

	status, err := r.checkStatus(ctx, rp, spec, validated)
	if err != nil {
		return nil, err
	}
	if !status.Ready || spec.ForceInit {
		log.Debug("provider environment not ready, invoking prepareEnvironment")
		if slot, ok := rp.Handlers["prepareEnvironment"]; ok {
			if _, err := invoke(ctx, slot, map[string]interface{}{"config": validated}); err != nil {
				return nil, gardenerr.Wrap(gardenerr.KindRuntime, "prepareEnvironment handler failed", err).WithEntity(spec.Name)
			}
		}
		status, err = r.checkStatus(ctx, rp, spec, validated)
		if err != nil {
			return nil, err
		}
		if !status.Ready {
			return nil, gardenerr.New(gardenerr.KindNotReady, "provider environment is not ready after prepareEnvironment").
				WithCode(gardenerr.CodeNotReady).WithEntity(spec.Name)
		}
	}
	log.Debug("provider resolved")

	var depProviders []*Provider
	for _, d := range deps {
		if p, ok := resolved[d]; ok {
			depProviders = append(depProviders, p)
		}
	}

	return &Provider{
		Name:          spec.Name,
		Config:        validated,
		Dependencies:  depProviders,
		ModuleConfigs: moduleConfigs,
		Status:        status,
	}, nil
}

func (r *Resolver) checkStatus(ctx context.Context, rp *plugin.ResolvedPlugin, spec *Spec, config map[string]interface{}) (Status, error) {
	slot, ok := rp.Handlers["getEnvironmentStatus"]
	if !ok {
		return Status{Ready: true, Outputs: map[string]interface{}{}}, nil
	}
	result, err := invoke(ctx, slot, map[string]interface{}{"config": config})
	if err != nil {
		return Status{}, gardenerr.Wrap(gardenerr.KindRuntime, "getEnvironmentStatus handler failed", err).WithEntity(spec.Name)
	}
	ready, _ := result["ready"].(bool)
	outputs, _ := result["outputs"].(map[string]interface{})
	if outputs == nil {
		outputs = map[string]interface{}{}
	}
	return Status{Ready: ready, Outputs: outputs}, nil
}

// invoke calls the outermost handler in a slot chain; handlers that want
// to delegate receive a "super" callback via params.
func invoke(ctx context.Context, slot *plugin.HandlerSlot, params map[string]interface{}) (map[string]interface{}, error) {
	if slot.Super != nil {
		superSlot := slot.Super
		params = cloneParams(params)
		params["super"] = plugin.HandlerFunc(func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return invoke(ctx, superSlot, p)
		})
	}
	return slot.Handler(ctx, params)
}

func cloneParams(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneContext(in template.Context) template.Context {
	out := make(template.Context, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// buildEdges combines declared plugin dependencies (matched to any
// provider whose plugin's base chain contains the dependency name) with
// implicit "${providers.X...}" template references, per spec §4.5.
func (r *Resolver) buildEdges(active map[string]*Spec) (map[string][]string, error) {
	edges := make(map[string][]string, len(active))
	for name, spec := range active {
		rp, ok := r.plugins.Resolved(spec.PluginName)
		if !ok {
			return nil, gardenerr.New(gardenerr.KindPlugin, "provider references unknown plugin").
				WithEntity(name).WithDetail("plugin", spec.PluginName)
		}

		seen := map[string]bool{}
		var deps []string

		for _, depPlugin := range rp.Dependencies {
			for otherName, otherSpec := range active {
				if otherName == name {
					continue
				}
				otherRP, ok := r.plugins.Resolved(otherSpec.PluginName)
				if !ok {
					continue
				}
				if otherSpec.PluginName == depPlugin || containsName(otherRP.BaseChain, depPlugin) {
					if !seen[otherName] {
						seen[otherName] = true
						deps = append(deps, otherName)
					}
				}
			}
		}

		for _, ref := range findImplicitRefs(spec.Config) {
			if ref != name && active[ref] != nil && !seen[ref] {
				seen[ref] = true
				deps = append(deps, ref)
			}
		}

		sort.Strings(deps)
		edges[name] = deps
	}
	return edges, nil
}

func findImplicitRefs(value interface{}) []string {
	var refs []string
	var walk func(interface{})
	walk = func(v interface{}) {
		switch x := v.(type) {
		case string:
			for _, m := range implicitRefPattern.FindAllStringSubmatch(x, -1) {
				refs = append(refs, m[1])
			}
		case map[string]interface{}:
			for _, elem := range x {
				walk(elem)
			}
		case []interface{}:
			for _, elem := range x {
				walk(elem)
			}
		}
	}
	walk(value)
	return refs
}

func containsName(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// levelOrder computes Kahn's-algorithm levels over the provider dependency
// graph, detecting cycles and reporting the offending arrow chain.
func levelOrder(active map[string]*Spec, edges map[string][]string) ([][]string, error) {
	indegree := make(map[string]int, len(active))
	dependents := make(map[string][]string, len(active))
	for name := range active {
		indegree[name] = 0
	}
	for name, deps := range edges {
		for _, d := range deps {
			indegree[name]++
			dependents[d] = append(dependents[d], name)
		}
	}

	var levels [][]string
	current := rootsOf(indegree)
	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		processed += len(current)
		var next []string
		for _, n := range current {
			for _, dep := range dependents[n] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	if processed != len(active) {
		cycle := findProviderCycle(active, edges)
		return nil, gardenerr.New(gardenerr.KindDependency, "circular provider dependency").
			WithCode(gardenerr.CodeCircularDeps).
			WithDetail("cycle", cycle).
			WithHint(fmt.Sprintf("break the cycle: %s", strings.Join(cycle, " <- ")))
	}
	return levels, nil
}

func rootsOf(indegree map[string]int) []string {
	var roots []string
	for n, deg := range indegree {
		if deg == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

func findProviderCycle(active map[string]*Spec, edges map[string][]string) []string {
	visited := map[string]bool{}
	recStack := map[string]bool{}

	var visit func(name string, path []string) []string
	visit = func(name string, path []string) []string {
		visited[name] = true
		recStack[name] = true
		path = append(path, name)
		for _, dep := range edges[name] {
			if !visited[dep] {
				if cycle := visit(dep, path); cycle != nil {
					return cycle
				}
			} else if recStack[dep] {
				start := -1
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				if start >= 0 {
					return append(append([]string{}, path[start:]...), dep)
				}
			}
		}
		recStack[name] = false
		return nil
	}

	names := make([]string, 0, len(active))
	for n := range active {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if !visited[n] {
			if cycle := visit(n, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

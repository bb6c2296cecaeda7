package commands

import (
	"context"
	"sort"

	"github.com/gobwas/glob"

	"github.com/openfroyo/garden/pkg/action"
	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/graph"
	"github.com/openfroyo/garden/pkg/runtimectx"
	"github.com/openfroyo/garden/pkg/scheduler"
	"github.com/openfroyo/garden/pkg/version"
)

// versionFor computes the memoization version for a graph entity: a
// module's own content-addressed version, or a service/task/test's
// version extending its owning module's version with the entity's own
// name, per spec §4.3.
func (o *Orchestrator) versionFor(name string) (string, error) {
	e, ok := o.graph.Get(name)
	if !ok {
		return "", gardenerr.New(gardenerr.KindDependency, "unknown config graph entity").WithEntity(name)
	}
	m, ok := o.modules[e.Module]
	if !ok {
		return "", gardenerr.New(gardenerr.KindDependency, "entity's owning module was not configured").WithEntity(name)
	}
	if e.Kind == graph.KindModule {
		return m.Version.VersionString, nil
	}
	return version.ExtendWithNames(m.Version.VersionString, []string{name}), nil
}

// nodeTypeFor maps a graph entity kind to the scheduler node type that
// represents "this entity is up to date" for dependency-wiring purposes:
// a module dependency waits on a Build, a service dependency waits on a
// Deploy, and a task dependency waits on a RunTask.
func (o *Orchestrator) nodeTypeFor(name string) (scheduler.NodeType, error) {
	e, ok := o.graph.Get(name)
	if !ok {
		return 0, gardenerr.New(gardenerr.KindDependency, "unknown config graph entity").WithEntity(name)
	}
	switch e.Kind {
	case graph.KindModule:
		return scheduler.Build, nil
	case graph.KindService:
		return scheduler.Deploy, nil
	case graph.KindTask:
		return scheduler.RunTask, nil
	case graph.KindTest:
		return scheduler.Test, nil
	default:
		return 0, gardenerr.New(gardenerr.KindInternal, "entity has no known node type").WithEntity(name)
	}
}

// memoKeyFor builds the scheduler.MemoKey a dependency edge to name
// resolves to.
func (o *Orchestrator) memoKeyFor(name string) (scheduler.MemoKey, error) {
	nt, err := o.nodeTypeFor(name)
	if err != nil {
		return scheduler.MemoKey{}, err
	}
	v, err := o.versionFor(name)
	if err != nil {
		return scheduler.MemoKey{}, err
	}
	return scheduler.MemoKey{Type: nt, Name: name, Version: v}, nil
}

// dependenciesFor resolves entity's direct dependency edges under label
// into scheduler MemoKeys.
func (o *Orchestrator) dependenciesFor(entity string, label graph.EdgeLabel) ([]scheduler.MemoKey, error) {
	var keys []scheduler.MemoKey
	for _, dep := range o.graph.DirectDependencies(entity, label) {
		key, err := o.memoKeyFor(dep)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func extractOutputs(result map[string]interface{}) map[string]interface{} {
	if out, ok := result["outputs"].(map[string]interface{}); ok {
		return out
	}
	return map[string]interface{}{}
}

// buildNodes returns one Build node per named module.
func (o *Orchestrator) buildNodes(names []string) ([]*scheduler.Node, error) {
	var nodes []*scheduler.Node
	for _, name := range names {
		m := o.modules[name]
		deps, err := o.dependenciesFor(m.Name, graph.EdgeBuild)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &scheduler.Node{
			Key:          scheduler.MemoKey{Type: scheduler.Build, Name: m.Name, Version: m.Version.VersionString},
			Dependencies: deps,
			Force:        o.Force || o.ForceBuild,
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				return o.router.Dispatch(ctx, "build", action.Target{
					Kind:       action.TargetModule,
					EntityName: m.Name,
					TypeName:   m.Type,
					Params:     map[string]interface{}{"config": m.Config},
					RuntimeCtx: o.runtime.ForTarget(m.Env, nil),
				})
			},
		})
	}
	return nodes, nil
}

// deployNodes returns one Deploy node per service owned by one of names.
func (o *Orchestrator) deployNodes(names []string) ([]*scheduler.Node, error) {
	var nodes []*scheduler.Node
	for _, mname := range names {
		m := o.modules[mname]
		for _, svc := range m.Services {
			v, err := o.versionFor(svc.Name)
			if err != nil {
				return nil, err
			}
			deps, err := o.dependenciesFor(svc.Name, graph.EdgeService)
			if err != nil {
				return nil, err
			}
			buildKey, err := o.memoKeyFor(m.Name)
			if err != nil {
				return nil, err
			}
			deps = append(deps, buildKey)
			nodes = append(nodes, &scheduler.Node{
				Key:          scheduler.MemoKey{Type: scheduler.Deploy, Name: svc.Name, Version: v},
				Dependencies: deps,
				Force:        o.Force,
				Run: func(ctx context.Context) (map[string]interface{}, error) {
					result, err := o.router.Dispatch(ctx, "deployService", action.Target{
						Kind:       action.TargetModule,
						EntityName: svc.Name,
						TypeName:   m.Type,
						Params:     map[string]interface{}{"config": svc.Config},
						RuntimeCtx: o.runtime.ForTarget(m.Env, nil),
					})
					if err != nil {
						return nil, err
					}
					o.runtime.RecordService(svc.Name, runtimectx.ServiceStatus{State: "running", Outputs: extractOutputs(result)})
					return result, nil
				},
			})
		}
	}
	return nodes, nil
}

// testNodes returns one Test node per test owned by one of names, whose
// own name matches nameGlob (empty matches everything).
func (o *Orchestrator) testNodes(names []string, nameGlob string) ([]*scheduler.Node, error) {
	var matcher glob.Glob
	if nameGlob != "" {
		g, err := glob.Compile(nameGlob)
		if err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "invalid --name glob", err).WithEntity(nameGlob)
		}
		matcher = g
	}

	var nodes []*scheduler.Node
	for _, mname := range names {
		m := o.modules[mname]
		for _, test := range m.Tests {
			if matcher != nil && !matcher.Match(test.Name) {
				continue
			}
			v, err := o.versionFor(test.Name)
			if err != nil {
				return nil, err
			}
			deps, err := o.dependenciesFor(test.Name, graph.EdgeTest)
			if err != nil {
				return nil, err
			}
			buildKey, err := o.memoKeyFor(m.Name)
			if err != nil {
				return nil, err
			}
			deps = append(deps, buildKey)
			nodes = append(nodes, &scheduler.Node{
				Key:          scheduler.MemoKey{Type: scheduler.Test, Name: test.Name, Version: v},
				Dependencies: deps,
				Force:        o.Force,
				Run: func(ctx context.Context) (map[string]interface{}, error) {
					return o.router.Dispatch(ctx, "testModule", action.Target{
						Kind:       action.TargetModule,
						EntityName: test.Name,
						TypeName:   m.Type,
						Params:     map[string]interface{}{"config": test.Config},
						RuntimeCtx: o.runtime.ForTarget(m.Env, nil),
					})
				},
			})
		}
	}
	return nodes, nil
}

// runTaskNodes returns one RunTask node per task owned by one of names.
func (o *Orchestrator) runTaskNodes(names []string) ([]*scheduler.Node, error) {
	var nodes []*scheduler.Node
	for _, mname := range names {
		m := o.modules[mname]
		for _, task := range m.Tasks {
			v, err := o.versionFor(task.Name)
			if err != nil {
				return nil, err
			}
			deps, err := o.dependenciesFor(task.Name, graph.EdgeTask)
			if err != nil {
				return nil, err
			}
			buildKey, err := o.memoKeyFor(m.Name)
			if err != nil {
				return nil, err
			}
			deps = append(deps, buildKey)
			nodes = append(nodes, &scheduler.Node{
				Key:          scheduler.MemoKey{Type: scheduler.RunTask, Name: task.Name, Version: v},
				Dependencies: deps,
				Force:        true, // tasks are one-off invocations, never replayed from cache
				Run: func(ctx context.Context) (map[string]interface{}, error) {
					result, err := o.router.Dispatch(ctx, "runTask", action.Target{
						Kind:       action.TargetModule,
						EntityName: task.Name,
						TypeName:   m.Type,
						Params:     map[string]interface{}{"taskConfig": task.Config},
						RuntimeCtx: o.runtime.ForTarget(m.Env, nil),
					})
					if err != nil {
						return nil, err
					}
					o.runtime.RecordTask(task.Name, runtimectx.TaskResult{Outputs: extractOutputs(result)})
					return result, nil
				},
			})
		}
	}
	return nodes, nil
}

// taskNodes returns the Build node for taskName's owning module plus the
// single RunTask node for taskName, the shape `garden run task <name>`
// needs: just enough of the graph to satisfy one task, not its module's
// other tasks.
func (o *Orchestrator) taskNodes(taskName string) ([]*scheduler.Node, error) {
	moduleName, ok := o.graph.OwningModule(taskName)
	if !ok {
		return nil, gardenerr.New(gardenerr.KindConfiguration, "unknown task").WithEntity(taskName)
	}
	m, ok := o.modules[moduleName]
	if !ok {
		return nil, gardenerr.New(gardenerr.KindDependency, "task's owning module was not configured").WithEntity(taskName)
	}

	found := false
	for _, t := range m.Tasks {
		if t.Name == taskName {
			found = true
			break
		}
	}
	if !found {
		return nil, gardenerr.New(gardenerr.KindConfiguration, "unknown task").WithEntity(taskName)
	}

	buildNodes, err := o.buildNodes([]string{moduleName})
	if err != nil {
		return nil, err
	}
	allTaskNodes, err := o.runTaskNodes([]string{moduleName})
	if err != nil {
		return nil, err
	}
	for _, n := range allTaskNodes {
		if n.Key.Name == taskName {
			return append(buildNodes, n), nil
		}
	}
	return buildNodes, nil
}

// runModuleNodes returns one RunModule node per named module, dispatching
// the module-level runModule action directly (spec §6's "run module
// <name>", distinct from running one of a module's declared tasks).
func (o *Orchestrator) runModuleNodes(names []string) ([]*scheduler.Node, error) {
	var nodes []*scheduler.Node
	for _, name := range names {
		m := o.modules[name]
		buildKey, err := o.memoKeyFor(m.Name)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &scheduler.Node{
			Key:          scheduler.MemoKey{Type: scheduler.RunModule, Name: m.Name, Version: m.Version.VersionString},
			Dependencies: []scheduler.MemoKey{buildKey},
			Force:        true, // module runs are one-off invocations, never replayed from cache
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				return o.router.Dispatch(ctx, "runModule", action.Target{
					Kind:       action.TargetModule,
					EntityName: m.Name,
					TypeName:   m.Type,
					Params:     map[string]interface{}{"config": m.Config},
					RuntimeCtx: o.runtime.ForTarget(m.Env, nil),
				})
			},
		})
	}
	return nodes, nil
}

// publishNodes returns one Publish node per named module.
func (o *Orchestrator) publishNodes(names []string) ([]*scheduler.Node, error) {
	var nodes []*scheduler.Node
	for _, name := range names {
		m := o.modules[name]
		buildKey, err := o.memoKeyFor(m.Name)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &scheduler.Node{
			Key:          scheduler.MemoKey{Type: scheduler.Publish, Name: m.Name, Version: m.Version.VersionString},
			Dependencies: []scheduler.MemoKey{buildKey},
			Force:        true,
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				return o.router.Dispatch(ctx, "publish", action.Target{
					Kind:       action.TargetModule,
					EntityName: m.Name,
					TypeName:   m.Type,
					Params:     map[string]interface{}{"config": m.Config},
					RuntimeCtx: o.runtime.ForTarget(m.Env, nil),
				})
			},
		})
	}
	return nodes, nil
}

// deleteNodes returns one Delete node per service owned by one of names
// (deleteService tears a running service down; modules and tasks have
// nothing persistent to delete).
func (o *Orchestrator) deleteNodes(names []string) ([]*scheduler.Node, error) {
	var nodes []*scheduler.Node
	for _, mname := range names {
		m := o.modules[mname]
		for _, svc := range m.Services {
			nodes = append(nodes, &scheduler.Node{
				Key:   scheduler.MemoKey{Type: scheduler.Delete, Name: svc.Name, Version: "-"},
				Force: true,
				Run: func(ctx context.Context) (map[string]interface{}, error) {
					return o.router.Dispatch(ctx, "deleteService", action.Target{
						Kind:       action.TargetModule,
						EntityName: svc.Name,
						TypeName:   m.Type,
						Params:     map[string]interface{}{"config": svc.Config},
						RuntimeCtx: o.runtime.ForTarget(m.Env, nil),
					})
				},
			})
		}
	}
	return nodes, nil
}

// run executes nodes to completion, persisting every terminal result and
// publishing every scheduler event to the run history store.
func (o *Orchestrator) run(ctx context.Context, nodes []*scheduler.Node) (map[scheduler.MemoKey]*scheduler.Result, error) {
	seed, err := o.store.LoadMemo(ctx)
	if err != nil {
		return nil, err
	}
	sch := scheduler.New(o.config.Concurrency,
		scheduler.WithLogger(o.logger),
		scheduler.WithPublisher(o.store.Publish(o.runID)),
		scheduler.WithMemo(seed),
		scheduler.WithTracer(o.tel.Tracer),
		scheduler.WithMetrics(o.tel.Metrics),
	)
	ctx = scheduler.WithRunID(ctx, o.runID)
	results, runErr := sch.Run(ctx, nodes)
	for _, r := range results {
		_ = o.store.SaveResult(ctx, o.runID, r)
	}
	return results, runErr
}

// summarize reports a node-level failure as a handled command error (spec
// §6 exit code 1), distinct from an internal error the scheduler itself
// could not recover from.
func summarize(results map[scheduler.MemoKey]*scheduler.Result, runErr error) error {
	if runErr != nil {
		return runErr
	}
	var failed []string
	for key, r := range results {
		if r.Status == scheduler.Failed {
			failed = append(failed, key.Name)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	sort.Strings(failed)
	return gardenerr.New(gardenerr.KindRuntime, "one or more nodes failed").WithDetail("failed", failed)
}

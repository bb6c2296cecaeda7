package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/schema"
)

// Registry holds plugin descriptors and, once Resolve succeeds, their
// flattened form plus the merged module-type table and a dependency-
// topological load order.
type Registry struct {
	mu sync.RWMutex

	descriptors map[string]*Descriptor
	resolved    map[string]*ResolvedPlugin
	moduleTypes map[string]*ResolvedModuleType
	order       []string
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
		resolved:    make(map[string]*ResolvedPlugin),
		moduleTypes: make(map[string]*ResolvedModuleType),
	}
}

// Register records a plugin descriptor. Plugin names must be unique
// (spec §3); registering does not require its base or dependencies to
// be registered yet — that is checked in Resolve.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		return gardenerr.New(gardenerr.KindPlugin, "duplicate plugin name").WithEntity(d.Name)
	}
	r.descriptors[d.Name] = d
	return nil
}

// Resolve flattens inheritance, merges dependencies and module types, and
// computes a topological load order, per spec §4.4 steps (b)-(f).
func (r *Registry) Resolve() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, d := range r.descriptors {
		if d.Base != "" {
			if _, ok := r.descriptors[d.Base]; !ok {
				return gardenerr.New(gardenerr.KindPlugin, "base plugin not registered").
					WithCode(gardenerr.CodeMissingBase).
					WithEntity(name).
					WithDetail("base", d.Base)
			}
		}
	}

	visiting := map[string]bool{}
	for name := range r.descriptors {
		if _, err := r.resolvePlugin(name, visiting, nil); err != nil {
			return err
		}
	}

	if err := r.resolveModuleTypes(); err != nil {
		return err
	}

	order, err := r.topologicalOrder()
	if err != nil {
		return err
	}
	r.order = order
	return nil
}

// resolvePlugin flattens name's base chain, memoizing into r.resolved.
// visiting tracks the chain currently being walked to detect CircularBases.
func (r *Registry) resolvePlugin(name string, visiting map[string]bool, chain []string) (*ResolvedPlugin, error) {
	if rp, ok := r.resolved[name]; ok {
		return rp, nil
	}
	if visiting[name] {
		cycle := append(append([]string{}, chain...), name)
		return nil, gardenerr.New(gardenerr.KindPlugin, "circular base chain").
			WithCode(gardenerr.CodeCircularBases).
			WithDetail("cycle", cycle).
			WithHint(fmt.Sprintf("break the cycle: %s", strings.Join(cycle, " -> ")))
	}
	d, ok := r.descriptors[name]
	if !ok {
		return nil, gardenerr.New(gardenerr.KindPlugin, "unknown plugin").WithEntity(name)
	}

	visiting[name] = true
	defer delete(visiting, name)

	var baseResolved *ResolvedPlugin
	if d.Base != "" {
		var err error
		baseResolved, err = r.resolvePlugin(d.Base, visiting, append(chain, name))
		if err != nil {
			return nil, err
		}
	}

	handlers := map[string]*HandlerSlot{}
	commands := map[string]*Command{}
	var baseChain []string
	var schemas []*schema.Schema
	var baseDeps []string

	if baseResolved != nil {
		for action, slot := range baseResolved.Handlers {
			handlers[action] = slot
		}
		for cname, c := range baseResolved.Commands {
			commands[cname] = c
		}
		baseChain = append(baseChain, baseResolved.BaseChain...)
		baseChain = append(baseChain, d.Base)
		schemas = append(schemas, baseResolved.ConfigSchemas...)
		baseDeps = baseResolved.Dependencies
	}

	for action, fn := range d.Handlers {
		var super *HandlerSlot
		if existing, ok := handlers[action]; ok {
			super = existing
		}
		handlers[action] = &HandlerSlot{Handler: fn, Super: super}
	}
	for _, c := range d.Commands {
		commands[c.Name] = c
	}
	if d.ConfigSchema != nil {
		schemas = append([]*schema.Schema{d.ConfigSchema}, schemas...)
	}

	deps := dedupStable(append(append([]string{}, d.Dependencies...), baseDeps...))

	rp := &ResolvedPlugin{
		Name:          name,
		Base:          d.Base,
		BaseChain:     baseChain,
		Dependencies:  deps,
		ConfigSchemas: schemas,
		Handlers:      handlers,
		Commands:      commands,
	}
	r.resolved[name] = rp
	return rp, nil
}

// resolveModuleTypes validates and merges createModuleTypes/
// extendModuleTypes across all registered plugins (spec §4.4 step (e)
// and failure modes MultipleCreators/ExtendWithoutDeclare/ExtendWithoutDep).
func (r *Registry) resolveModuleTypes() error {
	creators := map[string]string{}
	creatorDefs := map[string]*ModuleTypeDef{}

	names := sortedDescriptorNames(r.descriptors)
	for _, name := range names {
		d := r.descriptors[name]
		for _, mt := range d.CreateModuleTypes {
			if existing, ok := creators[mt.Name]; ok && existing != name {
				return gardenerr.New(gardenerr.KindPlugin, "module type created by more than one plugin").
					WithCode(gardenerr.CodeMultipleCreators).
					WithEntity(mt.Name).
					WithDetail("creators", []string{existing, name})
			}
			creators[mt.Name] = name
			creatorDefs[mt.Name] = mt
		}
	}

	order, err := r.topologicalOrder()
	if err != nil {
		return err
	}

	resolvedTypes := map[string]*ResolvedModuleType{}
	for typeName, def := range creatorDefs {
		handlers := map[string]*HandlerSlot{}
		for action, fn := range def.Handlers {
			handlers[action] = &HandlerSlot{Handler: fn}
		}
		resolvedTypes[typeName] = &ResolvedModuleType{
			Name:          typeName,
			CreatorPlugin: creators[typeName],
			Schema:        def.Schema,
			Docs:          def.Docs,
			Handlers:      handlers,
		}
	}

	for _, pluginName := range order {
		d := r.descriptors[pluginName]
		for _, ext := range d.ExtendModuleTypes {
			creator, ok := creators[ext.Name]
			if !ok {
				return gardenerr.New(gardenerr.KindPlugin, "plugin extends a module type no plugin creates").
					WithCode(gardenerr.CodeExtendWithoutDeclare).
					WithEntity(ext.Name).
					WithDetail("plugin", pluginName)
			}
			rp := r.resolved[pluginName]
			if creator != pluginName && !contains(rp.Dependencies, creator) {
				return gardenerr.New(gardenerr.KindPlugin, "plugin extends a module type without depending on its creator").
					WithCode(gardenerr.CodeExtendWithoutDep).
					WithEntity(ext.Name).
					WithDetail("plugin", pluginName).
					WithDetail("creator", creator)
			}
			rt := resolvedTypes[ext.Name]
			for action, fn := range ext.Handlers {
				var super *HandlerSlot
				if existing, ok := rt.Handlers[action]; ok {
					super = existing
				}
				rt.Handlers[action] = &HandlerSlot{Handler: fn, Super: super}
			}
		}
	}

	r.moduleTypes = resolvedTypes
	return nil
}

// topologicalOrder sorts registered plugins by Dependencies, detecting
// CircularDeps, the way engine.DAGBuilder sorts plan units by their
// dependency edges (pkg/engine/dag.go), generalized to plugin names.
func (r *Registry) topologicalOrder() ([]string, error) {
	adjacency := map[string][]string{}
	for name := range r.descriptors {
		adjacency[name] = nil
	}
	for name, rp := range r.resolved {
		for _, dep := range rp.Dependencies {
			adjacency[dep] = append(adjacency[dep], name)
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
				return gardenerr.New(gardenerr.KindPlugin, "circular plugin dependency").
					WithCode(gardenerr.CodeCircularDeps).
					WithDetail("cycle", cycle).
					WithHint(fmt.Sprintf("break the cycle: %s", strings.Join(cycle, " -> ")))
			}
		}

		recStack[name] = false
		order = append(order, name)
		return nil
	}

	names := sortedDescriptorNames(r.descriptors)
	for _, name := range names {
		if !visited[name] {
			if err := visit(name, nil); err != nil {
				return nil, err
			}
		}
	}

	// visit appends a node after all its dependents, i.e. roots last;
	// reverse so dependency-free plugins come first.
	reversed := make([]string, len(order))
	for i, n := range order {
		reversed[len(order)-1-i] = n
	}
	return reversed, nil
}

// Resolved returns the flattened form of a plugin, after Resolve.
func (r *Registry) Resolved(name string) (*ResolvedPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rp, ok := r.resolved[name]
	return rp, ok
}

// ModuleType returns the merged module type table entry for name.
func (r *Registry) ModuleType(name string) (*ResolvedModuleType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mt, ok := r.moduleTypes[name]
	return mt, ok
}

// Order returns the dependency-topological plugin load order computed by
// Resolve (dependency-free plugins first).
func (r *Registry) Order() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.order...)
}

func dedupStable(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedDescriptorNames(m map[string]*Descriptor) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

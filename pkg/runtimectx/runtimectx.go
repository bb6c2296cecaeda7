// Package runtimectx builds the "runtime.*" template namespace (spec
// §4.10/C11): a module's declared env, a target's own env, and upstream
// dependency outputs keyed as runtime.services.<name>.outputs.* and
// runtime.tasks.<name>.outputs.*, merged into a template.Context usable by
// the runtime template pass.
//
// Grounded on pkg/engine/facts.go's fact-namespace merge, generalized from
// host facts to service/task outputs.
package runtimectx

import (
	"sync"

	"github.com/openfroyo/garden/pkg/template"
)

// ServiceStatus is the minimal runtime status published for a running
// service (spec §3's ServiceStatus).
type ServiceStatus struct {
	State   string                 `json:"state"`
	Outputs map[string]interface{} `json:"outputs"`
}

// TaskResult is the minimal published outcome of a completed task.
type TaskResult struct {
	Outputs map[string]interface{} `json:"outputs"`
}

// Builder accumulates known service/task outputs as the scheduler completes
// nodes, and produces the runtime.* namespace for any subsequent node.
// RecordService/RecordTask/ForTarget are called from node.Run closures that
// the scheduler may run concurrently, so access is mutex-guarded.
type Builder struct {
	mu       sync.Mutex
	services map[string]ServiceStatus
	tasks    map[string]TaskResult
}

// New creates an empty runtime context builder.
func New() *Builder {
	return &Builder{
		services: map[string]ServiceStatus{},
		tasks:    map[string]TaskResult{},
	}
}

// RecordService publishes a service's status for downstream references.
func (b *Builder) RecordService(name string, status ServiceStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.services[name] = status
}

// RecordTask publishes a task's result for downstream references.
func (b *Builder) RecordTask(name string, result TaskResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[name] = result
}

// ForTarget builds the template.Context a single module/service/task/test
// should see: its own declared env merged over the module's env, plus the
// runtime.* namespace of everything recorded so far.
func (b *Builder) ForTarget(moduleEnv, targetEnv map[string]interface{}) template.Context {
	env := map[string]interface{}{}
	for k, v := range moduleEnv {
		env[k] = v
	}
	for k, v := range targetEnv {
		env[k] = v
	}

	b.mu.Lock()
	services := map[string]interface{}{}
	for name, st := range b.services {
		services[name] = map[string]interface{}{
			"state":   st.State,
			"outputs": st.Outputs,
		}
	}
	tasks := map[string]interface{}{}
	for name, r := range b.tasks {
		tasks[name] = map[string]interface{}{
			"outputs": r.Outputs,
		}
	}
	b.mu.Unlock()

	return template.Context{
		"env": env,
		"runtime": map[string]interface{}{
			"services": services,
			"tasks":    tasks,
		},
	}
}

// Package wasmref is the bundled reference plugin: a minimal but complete
// implementation of the plugin ABI (pkg/plugin), replacing the old
// linux.pkg WASM provider's engine.Provider contract with handlers keyed
// by action name. It defines one module type, "exec", whose build and
// runTask handlers shell out through pkg/runner, and a provider handler
// set for a "local" plugin that is always ready.
//
// Unlike linux.pkg this is not compiled to a separate WASM binary; it
// registers directly into a pkg/plugin.Registry in-process. An operator
// who wants an out-of-process or WASM-hosted plugin instead loads one
// through pkg/plugin/wasmhost — the handler table shape is identical
// either way, so callers in pkg/action never need to know which backs a
// given plugin name.
package wasmref

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/plugin"
	"github.com/openfroyo/garden/pkg/runner"
	"github.com/openfroyo/garden/pkg/schema"
	"github.com/openfroyo/garden/pkg/starlarkconfig"
)

// PluginName is the name this plugin registers under.
const PluginName = "local"

// ModuleTypeExec is the module type the plugin creates: a module whose
// build and each task run a shell command on the local host via the
// micro-runner.
const ModuleTypeExec = "exec"

// Descriptor builds the plugin.Descriptor for the bundled reference
// plugin. runnerBinaryPath is the micro-runner executable pkg/runner
// drives for every exec; it is a parameter rather than a constant so a
// test or an alternate cmd/garden build can point it at a stub binary.
func Descriptor(runnerBinaryPath string) *plugin.Descriptor {
	r := runner.New(runnerBinaryPath)

	return &plugin.Descriptor{
		Name: PluginName,
		Handlers: map[string]plugin.HandlerFunc{
			"configureProvider":   configureProvider,
			"getEnvironmentStatus": getEnvironmentStatus,
			"prepareEnvironment":  prepareEnvironment,
		},
		CreateModuleTypes: []*plugin.ModuleTypeDef{
			{
				Name: ModuleTypeExec,
				Docs: "Runs build and task commands on the local host through the micro-runner.",
				Schema: schema.Object(map[string]*schema.Schema{
					"build": schema.Object(map[string]*schema.Schema{
						"command": schema.String(),
						"args":    schema.Array(schema.String()),
						"env":     schema.Object(nil),
					}),
					"workDir": schema.String(),
					"timeout": schema.Number(),
				}),
				Handlers: map[string]plugin.HandlerFunc{
					"configure": configureModule,
					"build":     newBuildHandler(r),
					"runTask":   newRunTaskHandler(r),
					"deployService": newServiceActionHandler(r),
					"testModule":    newServiceActionHandler(r),
					"publish":       noopAction,
					"deleteService": noopAction,
				},
			},
		},
	}
}

// configureProvider validates the provider has nothing further to do; the
// local plugin needs no remote environment, so it simply echoes the
// config back unchanged (spec §4.5's configureProvider contract allows a
// handler to return config verbatim).
func configureProvider(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	config, _ := params["config"].(map[string]interface{})
	return map[string]interface{}{"config": config}, nil
}

// getEnvironmentStatus reports the local host as always ready: there is
// no remote infrastructure to provision for a plugin that runs commands
// on the machine garden itself is running on.
func getEnvironmentStatus(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"ready":   true,
		"outputs": map[string]interface{}{"host": hostname()},
	}, nil
}

// prepareEnvironment is a no-op: getEnvironmentStatus never reports
// not-ready, so the resolver never actually calls this, but the plugin
// still declares it for symmetry with a real infrastructure provider.
func prepareEnvironment(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

// configureModule resolves a module's declared services/tasks into the
// flat list the module configurator stores; for the exec module type a
// module's own taskSpecs are already in the right shape, so this returns
// the config unchanged. It rejects only a missing config map; it does not
// check that a build command or a task is present.
//
// A module may instead supply a configureScript: a sandboxed Starlark
// script (spec §4.5's configure escape hatch) that receives the module's
// raw config as the predeclared `config` global and reassigns it to
// synthesize serviceConfigs/taskConfigs procedurally rather than through
// the Go schema alone. When present, the script's output is returned in
// place of the config.
func configureModule(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	config, _ := params["config"].(map[string]interface{})
	if config == nil {
		return nil, gardenerr.New(gardenerr.KindConfiguration, "exec module config is empty")
	}
	if script, ok := config["configureScript"].(string); ok && script != "" {
		return starlarkconfig.NewConfigureHandler(script)(ctx, params)
	}
	return map[string]interface{}{"config": config}, nil
}

func newBuildHandler(r *runner.Runner) plugin.HandlerFunc {
	return func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		config, _ := params["config"].(map[string]interface{})
		build, _ := config["build"].(map[string]interface{})
		if build == nil {
			return map[string]interface{}{"log": ""}, nil
		}
		command, _ := build["command"].(string)
		if command == "" {
			return nil, gardenerr.New(gardenerr.KindConfiguration, "exec module build.command is required")
		}
		return runExec(ctx, r, command, build, config)
	}
}

func newRunTaskHandler(r *runner.Runner) plugin.HandlerFunc {
	return func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		taskConfig, _ := params["taskConfig"].(map[string]interface{})
		if taskConfig == nil {
			taskConfig, _ = params["config"].(map[string]interface{})
		}
		command, _ := taskConfig["command"].(string)
		if command == "" {
			return nil, gardenerr.New(gardenerr.KindConfiguration, "exec task command is required")
		}
		result, err := runExec(ctx, r, command, taskConfig, taskConfig)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"outputs": result}, nil
	}
}

// newServiceActionHandler backs both "deployService" and "testModule": a
// service or test entity's own config carries the command to run, the
// same shape a task's config does, so the exec module type reuses the
// same runner path for all three action kinds.
func newServiceActionHandler(r *runner.Runner) plugin.HandlerFunc {
	return func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		spec, _ := params["config"].(map[string]interface{})
		command, _ := spec["command"].(string)
		if command == "" {
			return nil, gardenerr.New(gardenerr.KindConfiguration, "exec service/test command is required")
		}
		result, err := runExec(ctx, r, command, spec, spec)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"outputs": result}, nil
	}
}

// noopAction backs "publish" and "deleteService": the local exec module
// type has nothing external to publish or tear down, so both succeed
// trivially.
func noopAction(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func runExec(ctx context.Context, r *runner.Runner, command string, spec, config map[string]interface{}) (map[string]interface{}, error) {
	var args []string
	if raw, ok := spec["args"].([]interface{}); ok {
		for _, a := range raw {
			args = append(args, fmt.Sprintf("%v", a))
		}
	}
	env := map[string]string{}
	if raw, ok := spec["env"].(map[string]interface{}); ok {
		for k, v := range raw {
			env[k] = fmt.Sprintf("%v", v)
		}
	}
	workDir, _ := config["workDir"].(string)

	timeout := 10 * time.Minute
	if t, ok := config["timeout"].(float64); ok && t > 0 {
		timeout = time.Duration(t) * time.Second
	}

	result, err := r.Run(ctx, command, args, workDir, env, timeout)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"exitCode": result.ExitCode,
		"stdout":   result.Stdout,
		"stderr":   result.Stderr,
		"duration": result.Duration.Seconds(),
	}, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

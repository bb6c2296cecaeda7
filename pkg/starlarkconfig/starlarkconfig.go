// Package starlarkconfig backs the optional Starlark escape hatch a
// module type's "configure" handler may use (spec §4.5/C6): instead of a
// plugin author wiring a Go closure, a module type can supply a sandboxed
// Starlark script that receives the module's resolved config as
// predeclared globals and reassigns them to transform it.
//
// Grounded on pkg/config/starlark_eval.go's StarlarkEvaluator, kept to the
// same Go<->Starlark value conversion and the same print-suppression/
// timeout sandboxing, retargeted from a generic script-eval utility to one
// fixed input/output shape: a "config" dict in, a "config" dict out.
package starlarkconfig

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/plugin"
)

const defaultTimeout = 10 * time.Second

// Evaluator runs a module type's configure script in a sandboxed Starlark
// thread: no filesystem, no network, no load(), output suppressed.
type Evaluator struct {
	timeout time.Duration
}

// New creates an Evaluator. A zero timeout falls back to a 10s default.
func New(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Evaluator{timeout: timeout}
}

// NewConfigureHandler wraps script as a plugin.HandlerFunc suitable for a
// ModuleTypeDef's "configure" slot: it exposes the handler's "config"
// param as the predeclared global `config`, runs script, and returns the
// script's own top-level `config` global (if reassigned) back as the
// handler's result, leaving the original untouched if the script never
// reassigns it.
func NewConfigureHandler(script string) plugin.HandlerFunc {
	eval := New(0)
	return func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		out, err := eval.Run(ctx, script, params)
		if err != nil {
			return nil, err
		}
		if _, ok := out["config"]; !ok {
			out["config"] = params["config"]
		}
		return out, nil
	}
}

// Run executes script against input, returning script's top-level globals
// (skipping any starting with "_") converted back to Go values.
func (e *Evaluator) Run(ctx context.Context, script string, input map[string]interface{}) (map[string]interface{}, error) {
	resultCh := make(chan map[string]interface{}, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := e.runSync(script, input)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	select {
	case <-evalCtx.Done():
		return nil, gardenerr.New(gardenerr.KindRuntime, "starlark configure script timed out").WithDetail("timeout", e.timeout.String())
	case err := <-errCh:
		return nil, gardenerr.Wrap(gardenerr.KindRuntime, "starlark configure script failed", err)
	case result := <-resultCh:
		return result, nil
	}
}

func (e *Evaluator) runSync(script string, input map[string]interface{}) (map[string]interface{}, error) {
	thread := &starlark.Thread{
		Name: "garden-configure",
		Print: func(_ *starlark.Thread, msg string) {
			// Scripts run during module configuration; stdout belongs to the CLI.
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %q: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, "configure.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %q: %w", name, err)
		}
		output[name] = goVal
	}
	return output, nil
}

func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}
	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			sv, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// Package action routes a single (actionType, target) dispatch to the
// right handler slot (spec §4.8/C9): module-typed actions resolve against
// their module type's creator+extension handler table, provider-typed
// actions resolve against the provider's plugin base chain, and every
// invocation is preceded by a runtime template pass so handlers never see
// an unresolved "${runtime...}" expression.
//
// Grounded on pkg/provider/resolver.go's invoke()/super-injection pattern,
// reused verbatim for the dispatch side of the handler chain.
package action

import (
	"context"
	"fmt"

	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/plugin"
	"github.com/openfroyo/garden/pkg/policy"
	"github.com/openfroyo/garden/pkg/telemetry"
	"github.com/openfroyo/garden/pkg/template"
)

// TargetKind distinguishes what a dispatch is routed against.
type TargetKind int

const (
	// TargetModule routes against a module type's creator+extension chain.
	TargetModule TargetKind = iota
	// TargetProvider routes against a provider's plugin base chain.
	TargetProvider
)

// Target names the entity an action is dispatched against, plus the
// params and runtime template context available to the handler.
type Target struct {
	Kind       TargetKind
	EntityName string // module/service/task/test name, or provider name
	TypeName   string // module type name (TargetModule only)
	PluginName string // provider's plugin name (TargetProvider only)
	Params     map[string]interface{}
	RuntimeCtx template.Context
}

// Router dispatches actions against a resolved plugin registry.
type Router struct {
	plugins    *plugin.Registry
	logger     *telemetry.Logger
	policy     *policy.Engine
	policyMode policy.Mode
}

// Option configures a Router.
type Option func(*Router)

// WithPolicy attaches a policy engine that every dispatch is checked
// against before its handler runs. In policy.ModeEnforcing, a dispatch
// whose (actionType, target) combination produces an error/critical
// violation is rejected before the handler is invoked; in
// policy.ModeAdvisory, violations are logged but never block dispatch.
func WithPolicy(eng *policy.Engine, mode policy.Mode) Option {
	return func(r *Router) {
		r.policy = eng
		r.policyMode = mode
	}
}

// New creates a Router.
func New(plugins *plugin.Registry, logger *telemetry.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	r := &Router{plugins: plugins, logger: logger, policyMode: policy.ModeAdvisory}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch resolves target's handler for actionType, runs the runtime
// template pass over target.Params, and invokes the outermost handler in
// the chain (which may delegate to "super").
func (r *Router) Dispatch(ctx context.Context, actionType string, target Target) (map[string]interface{}, error) {
	resolved, err := template.ResolveRuntime(target.Params, target.RuntimeCtx)
	if err != nil {
		_, unresolved := template.ResolveRuntimeCollectUnresolved(target.Params, target.RuntimeCtx)
		kind := "service"
		if target.Kind == TargetProvider {
			kind = "provider"
		}
		return nil, gardenerr.New(gardenerr.KindRuntime, unresolvedMessage(kind, target.EntityName, unresolved)).
			WithCode(gardenerr.CodeUnresolvedRuntimeRef).
			WithEntity(target.EntityName)
	}
	params, _ := resolved.(map[string]interface{})
	if params == nil {
		params = map[string]interface{}{}
	}

	slot, err := r.resolveSlot(actionType, target)
	if err != nil {
		return nil, err
	}

	if r.policy != nil {
		if err := r.checkPolicy(ctx, actionType, target, params); err != nil {
			return nil, err
		}
	}

	r.logger.WithField("action", actionType).WithField("target", target.EntityName).Debug("dispatching action")
	return invoke(ctx, slot, params)
}

// checkPolicy evaluates the attached policy engine against this dispatch.
// It only rejects the dispatch when running in policy.ModeEnforcing and an
// error/critical violation was found; advisory violations are logged.
func (r *Router) checkPolicy(ctx context.Context, actionType string, target Target, params map[string]interface{}) error {
	kind := "module"
	if target.Kind == TargetProvider {
		kind = "provider"
	}
	input := &policy.ActionInput{
		ActionType: actionType,
		Target: policy.ActionTarget{
			Kind:       kind,
			EntityName: target.EntityName,
			TypeName:   target.TypeName,
			PluginName: target.PluginName,
		},
		Params: params,
	}

	result, err := r.policy.EvaluateAction(ctx, input, r.policyMode)
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindPlugin, "policy evaluation failed", err).WithEntity(target.EntityName)
	}

	for _, v := range result.Warnings {
		r.logger.WithField("policy", v.Policy).WithField("target", target.EntityName).Warn(v.Message)
	}

	if !result.Allowed {
		gerr := gardenerr.New(gardenerr.KindPlugin, "action denied by policy").
			WithEntity(target.EntityName).WithDetail("action", actionType)
		for _, v := range result.Violations {
			r.logger.WithField("policy", v.Policy).WithField("target", target.EntityName).Error(v.Message)
		}
		return gerr
	}

	return nil
}

func (r *Router) resolveSlot(actionType string, target Target) (*plugin.HandlerSlot, error) {
	switch target.Kind {
	case TargetModule:
		mt, ok := r.plugins.ModuleType(target.TypeName)
		if !ok {
			return nil, gardenerr.New(gardenerr.KindPlugin, "unknown module type").
				WithCode(gardenerr.CodeUnknownModuleType).WithEntity(target.TypeName)
		}
		if slot, ok := mt.Handlers[actionType]; ok {
			return slot, nil
		}
	case TargetProvider:
		rp, ok := r.plugins.Resolved(target.PluginName)
		if !ok {
			return nil, gardenerr.New(gardenerr.KindPlugin, "provider references unknown plugin").
				WithEntity(target.EntityName).WithDetail("plugin", target.PluginName)
		}
		if slot, ok := rp.Handlers[actionType]; ok {
			return slot, nil
		}
	}
	return nil, gardenerr.New(gardenerr.KindPlugin, "no handler registered for action").
		WithCode(gardenerr.CodeNoHandler).WithEntity(target.EntityName).WithDetail("action", actionType)
}

// invoke calls the outermost handler in a slot chain, injecting a "super"
// callback when the slot has one, identical to pkg/provider's invoke.
func invoke(ctx context.Context, slot *plugin.HandlerSlot, params map[string]interface{}) (map[string]interface{}, error) {
	if slot.Super != nil {
		superSlot := slot.Super
		cloned := make(map[string]interface{}, len(params)+1)
		for k, v := range params {
			cloned[k] = v
		}
		cloned["super"] = plugin.HandlerFunc(func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return invoke(ctx, superSlot, p)
		})
		params = cloned
	}
	return slot.Handler(ctx, params)
}

func unresolvedMessage(kind, name string, unresolved []string) string {
	msg := fmt.Sprintf("Unable to resolve one or more runtime template values for %s '%s':", kind, name)
	for _, u := range unresolved {
		msg += " " + u
	}
	return msg
}

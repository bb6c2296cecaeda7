package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"
)

// Engine compiles and evaluates Rego policies against action dispatches
// (spec §4.8's pre-dispatch policy hook): every enabled policy's "deny"
// rule runs against the (actionType, target, environment, params)
// document, and a critical/error-severity violation blocks the dispatch
// when the engine runs in ModeEnforcing.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine pre-loaded with the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	store := inmem.New()

	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           store,
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluateAction runs every enabled policy's deny rule against input and
// aggregates the result. mode decides whether error/critical violations
// actually set Allowed=false (ModeEnforcing) or are merely reported
// (ModeAdvisory) — spec §4.8's advisory/enforcing distinction.
func (e *Engine) EvaluateAction(ctx context.Context, input *ActionInput, mode Mode) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if input.Context == nil {
		input.Context = &Context{}
	}
	if input.Context.Timestamp.IsZero() {
		input.Context.Timestamp = time.Now()
	}

	var violations, warnings []Violation
	evaluatedPolicies := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		evaluatedPolicies = append(evaluatedPolicies, cp.policy.Name)

		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("action", input.ActionType).
				Str("target", input.Target.EntityName).
				Msg("policy evaluation failed")
			continue
		}

		for _, v := range found {
			if v.Severity == SeverityError || v.Severity == SeverityCritical {
				violations = append(violations, v)
			} else {
				warnings = append(warnings, v)
			}
		}
	}

	allowed := true
	if mode == ModeEnforcing {
		allowed = len(violations) == 0
	}

	duration := time.Since(startTime)
	e.logger.Debug().
		Str("action", input.ActionType).
		Str("target", input.Target.EntityName).
		Int("violations", len(violations)).
		Int("warnings", len(warnings)).
		Dur("duration", duration).
		Msg("action policy evaluation completed")

	return &Result{
		Allowed:           allowed,
		Violations:        violations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluatedPolicies,
		Duration:          duration,
	}, nil
}

// LoadPolicies loads policy files from disk and adds them to the engine
// alongside the built-ins.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("policies loaded successfully")
	return nil
}

// LoadBundle loads a policy bundle file and compiles every policy it
// contains alongside the built-ins.
func (e *Engine) LoadBundle(ctx context.Context, bundlePath string) (*Bundle, error) {
	loader := NewLoader(e.logger)
	bundle, err := loader.LoadBundle(ctx, bundlePath)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range bundle.Policies {
		if err := e.compileAndStorePolicy(ctx, &bundle.Policies[i]); err != nil {
			return nil, fmt.Errorf("failed to compile bundled policy %s: %w", bundle.Policies[i].Name, err)
		}
	}

	return bundle, nil
}

// WatchPolicies watches paths for policy file changes and recompiles the
// affected policies in place, leaving built-in policies untouched. It
// returns once the watcher is established; reloads happen in the
// background until ctx is cancelled.
func (e *Engine) WatchPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i := range policies {
			if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// evaluatePolicy evaluates a single compiled policy's deny rule.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *ActionInput) ([]Violation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

func extractPackageName(regoSrc string) string {
	for _, line := range strings.Split(regoSrc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "garden.policies"
}

func (e *Engine) createViolation(policy *Policy, result interface{}, input *ActionInput) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Target:     input.Target.EntityName,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query("data"),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().Str("policy", policy.Name).Msg("policy compiled successfully")
	return nil
}

func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}
	e.logger.Info().Int("count", len(e.builtinPolicies)).Msg("built-in policies loaded")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns every loaded policy.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// ReloadPolicies clears and reloads the built-in policies.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	e.builtinPolicies = GetBuiltinPolicies()
	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("policy enabled")
	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("policy disabled")
	return nil
}

// Package policy provides Open Policy Agent (OPA) integration for the
// action dispatch path.
//
// This package implements policy enforcement for plugin action dispatches
// using the Rego policy language. It includes built-in policies for common
// governance requirements and supports custom policy loading.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating an action dispatch:
//
//	input := &policy.ActionInput{
//	    ActionType: "deploy",
//	    Target: policy.ActionTarget{
//	        Kind:       "module",
//	        EntityName: "web-frontend",
//	    },
//	    Environment: "production",
//	}
//
//	result, err := eng.EvaluateAction(ctx, input, policy.ModeEnforcing)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("Policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/garden/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = eng.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. entity-naming - Enforces module/provider naming conventions
//  2. destructive-action-restrictions - Requires approval for production deletes
//  3. plugin-pinned - Requires provider-targeted actions to name a plugin
//  4. secrets-in-params - Flags params carrying a plaintext credential
//  5. dry-run-advisory - Notes dry-run dispatches informationally
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files:
//
//	package custom.policies.backup
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.actionType == "deploy"
//	    input.environment == "production"
//	    not input.params.backupEnabled
//
//	    violation := {
//	        "message": "production deploys must set backupEnabled",
//	        "severity": "error",
//	    }
//	}
//
// # Policy Evaluation Points
//
// Policies are evaluated at the action dispatch boundary, before a
// resolved handler is invoked.
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Issues that should be reviewed but don't block operations
//  - error: Issues that block operations
//  - critical: Severe issues requiring immediate attention
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return engine.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Policies are parsed and prepared when they are loaded, but each evaluation
// builds a fresh rego.New query from the policy's module text and evaluates
// that. The loader caches parsed policy files by path.
//
// # Context Injection
//
// Policy evaluations can include context information:
//
//  - User: Who initiated the operation
//  - Environment: Target environment (production, staging, etc.)
//  - Action type: The action being dispatched (ActionType, e.g. build, deploy, delete)
//  - Timestamp: When the evaluation occurred
//  - Dry run: Whether this is a dry-run evaluation
//
// This context allows policies to make environment-aware decisions.
package policy

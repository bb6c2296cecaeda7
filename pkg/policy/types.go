package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Mode controls whether a violation actually blocks dispatch.
type Mode string

const (
	// ModeAdvisory logs violations but never blocks an action.
	ModeAdvisory Mode = "advisory"
	// ModeEnforcing blocks an action when any error/critical violation fires.
	ModeEnforcing Mode = "enforcing"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Target is the entity name of the action target that violated the policy (e.g. "web").
	Target string `json:"target,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Details contains additional violation details.
	Details map[string]interface{} `json:"details,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Result represents the outcome of evaluating every enabled policy
// against one action dispatch.
type Result struct {
	// Allowed indicates whether the action may proceed. In ModeAdvisory
	// this is always true; in ModeEnforcing it is false whenever any
	// error/critical violation fired.
	Allowed bool `json:"allowed"`

	// Violations lists every error/critical violation.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists every info/warning violation.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy set was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// ActionTarget describes the dispatch target a policy is evaluated
// against, mirroring the shape pkg/action.Target carries but without a
// direct package dependency (policy stays importable without pulling in
// the plugin registry).
type ActionTarget struct {
	Kind       string `json:"kind"` // "module" or "provider"
	EntityName string `json:"entityName"`
	TypeName   string `json:"typeName,omitempty"`
	PluginName string `json:"pluginName"`
}

// ActionInput is the input document a Rego policy's "deny" rule sees for
// one action dispatch (spec §4.8's pre-dispatch policy hook).
type ActionInput struct {
	// ActionType is the action being dispatched, e.g. "build", "deploy".
	ActionType string `json:"actionType"`

	// Target is the entity the action is dispatched against.
	Target ActionTarget `json:"target"`

	// Environment is the active environment name.
	Environment string `json:"environment,omitempty"`

	// Params are the (pre-runtime-resolution) params passed to the handler.
	Params map[string]interface{} `json:"params,omitempty"`

	// Context carries request-scoped metadata (user, timestamp, dry run).
	Context *Context `json:"context,omitempty"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// User is the user performing the operation.
	User string `json:"user,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dryRun"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Bundle represents a collection of related policies.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}

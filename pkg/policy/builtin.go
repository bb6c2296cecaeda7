package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies, evaluated against
// every action dispatch alongside whatever project-supplied .rego files
// pkg/action's Router loads.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		entityNamingPolicy(),
		destructiveActionRestrictionPolicy(),
		pluginPinnedPolicy(),
		secretsInParamsPolicy(),
		dryRunAdvisoryPolicy(),
	}
}

// entityNamingPolicy enforces the same naming convention module/service/
// task names already have to satisfy to be discovered (spec §4.7), as a
// defense-in-depth check at dispatch time.
func entityNamingPolicy() Policy {
	return Policy{
		Name:        "entity-naming",
		Description: "Enforces lowercase, alphanumeric-and-hyphen entity names",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package garden.policies.naming

import rego.v1

deny contains violation if {
	name := input.target.entityName
	name != ""
	lower(name) != name
	violation := {
		"message": sprintf("entity name '%s' must be lowercase", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	name := input.target.entityName
	name != ""
	not regex.match("^[a-z0-9-]+$", name)
	violation := {
		"message": sprintf("entity name '%s' must contain only lowercase letters, numbers, and hyphens", [name]),
		"severity": "error",
	}
}`,
	}
}

// destructiveActionRestrictionPolicy blocks delete actions against a
// production environment unless the dispatch context is explicitly
// marked approved, mirroring the teacher's operation-restrictions policy
// but keyed off actionType/environment instead of a plan's operation.
func destructiveActionRestrictionPolicy() Policy {
	return Policy{
		Name:        "destructive-action-restrictions",
		Description: "Requires explicit approval for delete actions against production",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package garden.policies.destructive

import rego.v1

deny contains violation if {
	input.actionType == "delete"
	input.environment == "production"
	not input.context.metadata.approved == true
	violation := {
		"message": sprintf("delete of '%s' in production requires context.metadata.approved=true", [input.target.entityName]),
		"severity": "critical",
	}
}`,
	}
}

// pluginPinnedPolicy requires provider-targeted actions to carry a
// plugin name, the way the teacher's provider-versioning policy required
// a pinned provider version before allowing an apply.
func pluginPinnedPolicy() Policy {
	return Policy{
		Name:        "plugin-pinned",
		Description: "Requires provider-targeted actions to name their plugin",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"providers"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package garden.policies.plugin

import rego.v1

deny contains violation if {
	input.target.kind == "provider"
	input.target.pluginName == ""
	violation := {
		"message": sprintf("provider '%s' has no plugin name set", [input.target.entityName]),
		"severity": "error",
	}
}`,
	}
}

// secretsInParamsPolicy flags params whose keys look like they carry a
// plaintext credential, catching the common mistake of inlining a secret
// in garden.yml instead of routing it through a secret-capable provider.
func secretsInParamsPolicy() Policy {
	return Policy{
		Name:        "secrets-in-params",
		Description: "Flags action params carrying what looks like a plaintext credential",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package garden.policies.secrets

import rego.v1

suspicious_keys := {"password", "secret", "token", "apikey", "api_key"}

deny contains violation if {
	some key, _ in input.params
	lower(key) in suspicious_keys
	violation := {
		"message": sprintf("param '%s' looks like a plaintext credential", [key]),
		"severity": "warning",
	}
}`,
	}
}

// dryRunAdvisoryPolicy is informational only: it never denies, it exists
// to demonstrate that a policy's violations can surface purely as
// warnings (severity info) without ever affecting Result.Allowed.
func dryRunAdvisoryPolicy() Policy {
	return Policy{
		Name:        "dry-run-advisory",
		Description: "Notes when a dispatch is running in dry-run mode",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"advisory"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package garden.policies.dryrun

import rego.v1

deny contains violation if {
	input.context.dryRun == true
	violation := {
		"message": sprintf("dry run: '%s' on '%s' would execute but will not", [input.actionType, input.target.entityName]),
		"severity": "info",
	}
}`,
	}
}

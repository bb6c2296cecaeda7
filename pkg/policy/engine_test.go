package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if eng == nil {
		t.Fatal("Engine is nil")
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"entity-naming",
		"destructive-action-restrictions",
		"plugin-pinned",
		"secrets-in-params",
		"dry-run-advisory",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateAction_EntityNamingPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name          string
		entityName    string
		expectViolate bool
	}{
		{"valid lowercase name", "web-frontend", false},
		{"uppercase name", "Web-Frontend", true},
		{"name with underscore", "web_frontend", true},
		{"empty name skipped", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := &ActionInput{
				ActionType: "build",
				Target: ActionTarget{
					Kind:       "module",
					EntityName: tt.entityName,
				},
			}

			result, err := eng.EvaluateAction(context.Background(), input, ModeEnforcing)
			if err != nil {
				t.Fatalf("EvaluateAction failed: %v", err)
			}

			violated := false
			for _, v := range result.Violations {
				if v.Policy == "entity-naming" {
					violated = true
				}
			}

			if violated != tt.expectViolate {
				t.Errorf("entity-naming violation = %v, want %v (violations: %+v)", violated, tt.expectViolate, result.Violations)
			}
		})
	}
}

func TestEvaluateAction_DestructiveActionRestrictions(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	input := &ActionInput{
		ActionType:  "delete",
		Environment: "production",
		Target: ActionTarget{
			Kind:       "module",
			EntityName: "web",
		},
	}

	result, err := eng.EvaluateAction(context.Background(), input, ModeEnforcing)
	if err != nil {
		t.Fatalf("EvaluateAction failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected unapproved production delete to be denied")
	}

	input.Context = &Context{
		Metadata: map[string]interface{}{"approved": true},
	}

	result, err = eng.EvaluateAction(context.Background(), input, ModeEnforcing)
	if err != nil {
		t.Fatalf("EvaluateAction failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("expected approved production delete to be allowed, violations: %+v", result.Violations)
	}
}

func TestEvaluateAction_PluginPinnedPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	input := &ActionInput{
		ActionType: "configureProvider",
		Target: ActionTarget{
			Kind:       "provider",
			EntityName: "local",
		},
	}

	result, err := eng.EvaluateAction(context.Background(), input, ModeAdvisory)
	if err != nil {
		t.Fatalf("EvaluateAction failed: %v", err)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "plugin-pinned" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected plugin-pinned violation, got %+v", result.Violations)
	}

	// ModeAdvisory never sets Allowed=false, even with violations present.
	if !result.Allowed {
		t.Error("advisory mode must not deny the action")
	}
}

func TestEvaluateAction_SecretsInParamsPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	input := &ActionInput{
		ActionType: "build",
		Target:     ActionTarget{Kind: "module", EntityName: "web"},
		Params: map[string]interface{}{
			"password": "hunter2",
		},
	}

	result, err := eng.EvaluateAction(context.Background(), input, ModeAdvisory)
	if err != nil {
		t.Fatalf("EvaluateAction failed: %v", err)
	}

	found := false
	for _, v := range append(result.Violations, result.Warnings...) {
		if v.Policy == "secrets-in-params" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected secrets-in-params warning, got violations=%+v warnings=%+v", result.Violations, result.Warnings)
	}
}

func TestEvaluateAction_DryRunAdvisoryNeverDenies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	input := &ActionInput{
		ActionType: "deploy",
		Target:     ActionTarget{Kind: "module", EntityName: "web"},
		Context:    &Context{DryRun: true},
	}

	result, err := eng.EvaluateAction(context.Background(), input, ModeEnforcing)
	if err != nil {
		t.Fatalf("EvaluateAction failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("dry-run-advisory is info severity and must never deny, violations: %+v", result.Violations)
	}

	found := false
	for _, v := range result.Warnings {
		if v.Policy == "dry-run-advisory" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected dry-run-advisory warning, got %+v", result.Warnings)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if err := eng.DisablePolicy("entity-naming"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	input := &ActionInput{
		ActionType: "build",
		Target:     ActionTarget{Kind: "module", EntityName: "Invalid-Name"},
	}

	result, err := eng.EvaluateAction(context.Background(), input, ModeEnforcing)
	if err != nil {
		t.Fatalf("EvaluateAction failed: %v", err)
	}

	for _, v := range result.Violations {
		if v.Policy == "entity-naming" {
			t.Error("disabled policy should not produce violations")
		}
	}

	if err := eng.EnablePolicy("entity-naming"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	result, err = eng.EvaluateAction(context.Background(), input, ModeEnforcing)
	if err != nil {
		t.Fatalf("EvaluateAction failed: %v", err)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "entity-naming" {
			found = true
		}
	}
	if !found {
		t.Error("re-enabled policy should produce violations again")
	}
}

func TestReloadPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if err := eng.DisablePolicy("entity-naming"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	policy, err := eng.GetPolicy("entity-naming")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if !policy.Enabled {
		t.Error("reload should restore built-in policies to their default enabled state")
	}
}

func TestListPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()
	if len(policies) != 5 {
		t.Errorf("expected 5 built-in policies, got %d", len(policies))
	}
}

func TestGetPolicy_NotFound(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if _, err := eng.GetPolicy("does-not-exist"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

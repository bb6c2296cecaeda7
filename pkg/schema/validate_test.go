package schema

import "testing"

func TestValidateAppliesDefaults(t *testing.T) {
	s := Object(map[string]*Schema{
		"name": {Kind: KindString, Required: true},
		"port": {Kind: KindNumber, Default: float64(8080)},
	})

	out, err := New().Validate(s, map[string]interface{}{"name": "web"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["port"] != float64(8080) {
		t.Fatalf("expected default port 8080, got %v", out["port"])
	}
	if out["name"] != "web" {
		t.Fatalf("expected name=web, got %v", out["name"])
	}
}

func TestValidateMissingRequiredFails(t *testing.T) {
	s := Object(map[string]*Schema{
		"name": {Kind: KindString, Required: true},
	})
	_, err := New().Validate(s, map[string]interface{}{})
	if err == nil {
		t.Fatal("expected a validation error for missing required field")
	}
}

func TestValidateAllowedEnum(t *testing.T) {
	s := Object(map[string]*Schema{
		"mode": {Kind: KindString, Allowed: []interface{}{"advisory", "enforcing"}},
	})
	if _, err := New().Validate(s, map[string]interface{}{"mode": "advisory"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New().Validate(s, map[string]interface{}{"mode": "bogus"}); err == nil {
		t.Fatal("expected allowed-value violation")
	}
}

func TestValidatePattern(t *testing.T) {
	s := Object(map[string]*Schema{
		"name": {Kind: KindString, Pattern: `^[a-z][a-z0-9-]*$`},
	})
	if _, err := New().Validate(s, map[string]interface{}{"name": "my-module"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New().Validate(s, map[string]interface{}{"name": "Bad Name"}); err == nil {
		t.Fatal("expected pattern violation")
	}
}

func TestValidateChainFoldsDefaults(t *testing.T) {
	base := Object(map[string]*Schema{
		"replicas": {Kind: KindNumber, Default: float64(1)},
	})
	child := Object(map[string]*Schema{
		"name": {Kind: KindString, Required: true},
	})
	out, err := New().ValidateChain([]*Schema{child, base}, map[string]interface{}{"name": "svc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["replicas"] != float64(1) {
		t.Fatalf("expected replicas default to survive chain, got %v", out["replicas"])
	}
}

func TestValidationErrorPath(t *testing.T) {
	s := Object(map[string]*Schema{
		"spec": Object(map[string]*Schema{
			"port": {Kind: KindNumber, Required: true},
		}),
	})
	_, err := New().Validate(s, map[string]interface{}{"spec": map[string]interface{}{}})
	if err == nil {
		t.Fatal("expected error")
	}
	ve, ok := err.(ValidationErrors)
	if !ok || len(ve) == 0 {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
}

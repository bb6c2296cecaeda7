package wasmref

import (
	"context"
	"testing"
)

func TestDescriptorDeclaresExecModuleType(t *testing.T) {
	d := Descriptor("/usr/local/bin/garden-micro-runner")

	if d.Name != PluginName {
		t.Fatalf("expected plugin name %q, got %q", PluginName, d.Name)
	}
	if len(d.CreateModuleTypes) != 1 {
		t.Fatalf("expected exactly one module type, got %d", len(d.CreateModuleTypes))
	}

	mt := d.CreateModuleTypes[0]
	if mt.Name != ModuleTypeExec {
		t.Fatalf("expected module type %q, got %q", ModuleTypeExec, mt.Name)
	}
	for _, action := range []string{"configure", "build", "runTask", "deployService", "testModule", "publish", "deleteService"} {
		if _, ok := mt.Handlers[action]; !ok {
			t.Errorf("expected exec module type to declare a %q handler", action)
		}
	}

	for _, action := range []string{"configureProvider", "getEnvironmentStatus", "prepareEnvironment"} {
		if _, ok := d.Handlers[action]; !ok {
			t.Errorf("expected plugin to declare a %q handler", action)
		}
	}
}

func TestGetEnvironmentStatusIsAlwaysReady(t *testing.T) {
	result, err := getEnvironmentStatus(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("getEnvironmentStatus returned error: %v", err)
	}
	if ready, _ := result["ready"].(bool); !ready {
		t.Fatalf("expected ready=true, got %v", result["ready"])
	}
}

func TestConfigureModuleRejectsEmptyConfig(t *testing.T) {
	if _, err := configureModule(context.Background(), map[string]interface{}{}); err == nil {
		t.Fatal("expected an error for a missing config map")
	}
}

func TestConfigureModuleRunsConfigureScript(t *testing.T) {
	result, err := configureModule(context.Background(), map[string]interface{}{
		"config": map[string]interface{}{
			"configureScript": "config = {\"build\": {\"command\": \"echo\"}}",
		},
	})
	if err != nil {
		t.Fatalf("configureModule returned error: %v", err)
	}
	cfg, ok := result["config"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a config map back, got %v", result["config"])
	}
	build, _ := cfg["build"].(map[string]interface{})
	if build["command"] != "echo" {
		t.Fatalf("expected the configureScript's reassigned config, got %v", cfg)
	}
}

func TestBuildHandlerRejectsMissingCommand(t *testing.T) {
	handler := newBuildHandler(nil)
	_, err := handler(context.Background(), map[string]interface{}{
		"config": map[string]interface{}{
			"build": map[string]interface{}{},
		},
	})
	if err == nil {
		t.Fatal("expected an error when build.command is missing")
	}
}

func TestRunTaskHandlerRejectsMissingCommand(t *testing.T) {
	handler := newRunTaskHandler(nil)
	_, err := handler(context.Background(), map[string]interface{}{
		"taskConfig": map[string]interface{}{},
	})
	if err == nil {
		t.Fatal("expected an error when the task command is missing")
	}
}

func TestServiceActionHandlerRejectsMissingCommand(t *testing.T) {
	handler := newServiceActionHandler(nil)
	_, err := handler(context.Background(), map[string]interface{}{
		"config": map[string]interface{}{},
	})
	if err == nil {
		t.Fatal("expected an error when the service/test command is missing")
	}
}

func TestNoopActionAlwaysSucceeds(t *testing.T) {
	if _, err := noopAction(context.Background(), map[string]interface{}{}); err != nil {
		t.Fatalf("noopAction returned error: %v", err)
	}
}

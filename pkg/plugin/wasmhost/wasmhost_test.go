package wasmhost

import (
	"context"
	"testing"
	"time"
)

func TestNewInstantiatesWASI(t *testing.T) {
	h, err := New(context.Background(), Config{Timeout: time.Second})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer h.Close(context.Background())

	if h.timeout != time.Second {
		t.Errorf("expected timeout %v, got %v", time.Second, h.timeout)
	}
}

func TestLoadRejectsInvalidModule(t *testing.T) {
	h, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer h.Close(context.Background())

	_, err = h.Load(context.Background(), "broken", []byte("not a wasm module"), []string{"build"})
	if err == nil {
		t.Fatal("expected an error for a malformed WASM module")
	}
}

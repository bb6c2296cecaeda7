// Package wasmhost loads a plugin compiled to WASM and exposes its
// exported "garden_<action>" functions as plugin.HandlerFunc values,
// using the same malloc/free-backed JSON-over-linear-memory calling
// convention as pkg/providers/host/bridge.go, generalized from a fixed
// provider_init/plan/apply/destroy surface to the spec's open-ended
// per-action handler table (spec §4.4's handler registration, §9's note
// that a plugin may be implemented out-of-process).
package wasmhost

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/plugin"
)

// Host owns a wazero runtime and the WASM module instances loaded into it.
type Host struct {
	runtime wazero.Runtime
	timeout time.Duration
}

// Config configures a Host.
type Config struct {
	Timeout          time.Duration
	MemoryLimitPages uint32
}

// New creates a Host with its own wazero runtime.
func New(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to instantiate WASI", err)
	}

	return &Host{runtime: rt, timeout: cfg.Timeout}, nil
}

// Close releases the wazero runtime and every module instantiated in it.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// moduleBridge holds one instantiated module's memory/malloc/free and the
// subset of its exports named "garden_<action>".
type moduleBridge struct {
	module api.Module
	memory api.Memory
	malloc api.Function
	free   api.Function
}

// Load instantiates wasmBytes and returns a plugin.Descriptor whose
// Handlers table has one entry per exported "garden_<action>" function.
func (h *Host) Load(ctx context.Context, name string, wasmBytes []byte, actions []string) (*plugin.Descriptor, error) {
	module, err := h.runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindPlugin, "failed to instantiate WASM module", err).WithEntity(name)
	}

	memory := module.Memory()
	if memory == nil {
		return nil, gardenerr.New(gardenerr.KindPlugin, "WASM module does not export memory").WithEntity(name)
	}
	malloc := module.ExportedFunction("malloc")
	free := module.ExportedFunction("free")
	if malloc == nil || free == nil {
		return nil, gardenerr.New(gardenerr.KindPlugin, "WASM module does not export malloc/free").WithEntity(name)
	}

	b := &moduleBridge{module: module, memory: memory, malloc: malloc, free: free}

	handlers := map[string]plugin.HandlerFunc{}
	for _, action := range actions {
		fn := module.ExportedFunction("garden_" + action)
		if fn == nil {
			return nil, gardenerr.New(gardenerr.KindPlugin, "WASM module does not export requested action").
				WithEntity(name).WithDetail("action", action)
		}
		handlers[action] = func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			return b.call(ctx, h.timeout, fn, params)
		}
	}

	return &plugin.Descriptor{Name: name, Handlers: handlers}, nil
}

func (b *moduleBridge) call(ctx context.Context, timeout time.Duration, fn api.Function, params map[string]interface{}) (map[string]interface{}, error) {
	input, err := json.Marshal(params)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to marshal WASM call params", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := b.invoke(callCtx, fn, input)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if len(output) == 0 {
		return map[string]interface{}{}, nil
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to decode WASM call result", err)
	}
	return result, nil
}

// invoke implements the (ptr,len)->(ptr<<32|len) calling convention: the
// caller allocates and writes the input, the callee allocates the output
// and the caller frees both sides.
func (b *moduleBridge) invoke(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, err
		}
		defer b.deallocate(ctx, ptr)
		if !b.memory.Write(ptr, input) {
			return nil, gardenerr.New(gardenerr.KindRuntime, "failed to write WASM call input")
		}
		inputPtr, inputLen = ptr, uint32(len(input))
	}

	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindRuntime, "WASM function call failed", err)
	}
	if len(results) == 0 {
		return nil, gardenerr.New(gardenerr.KindRuntime, "WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return nil, nil
	}

	output, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, gardenerr.New(gardenerr.KindRuntime, "failed to read WASM call output")
	}
	out := append([]byte{}, output...)
	_ = b.deallocate(ctx, outputPtr)
	return out, nil
}

func (b *moduleBridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, gardenerr.Wrap(gardenerr.KindRuntime, "WASM malloc failed", err)
	}
	if len(results) == 0 {
		return 0, gardenerr.New(gardenerr.KindRuntime, "WASM malloc returned no results")
	}
	return uint32(results[0]), nil
}

func (b *moduleBridge) deallocate(ctx context.Context, ptr uint32) error {
	if _, err := b.free.Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("WASM free failed: %w", err)
	}
	return nil
}

// Package engine runs the precompiled analysis binary as a WASI
// process. One Runtime hosts one compiled module shared by any number
// of concurrently running processes, each with its own stdio pipes
// and filesystem mounts.
package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/AbhiTheModder/r2web/internal/errx"
)

// Runtime wraps a wazero runtime with WASI preview 1 instantiated.
type Runtime struct {
	rt wazero.Runtime
}

// NewRuntime creates a runtime whose guest instances are torn down
// when their start context is cancelled.
func NewRuntime(ctx context.Context) (*Runtime, error) {
	rt := wazero.NewRuntimeWithConfig(ctx,
		wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, errx.Wrap(ErrInitRuntime, err)
	}
	return &Runtime{rt: rt}, nil
}

// Load compiles wasm bytes once. The returned Module is safe for
// concurrent Start calls; each instance gets its own state.
func (r *Runtime) Load(ctx context.Context, wasm []byte) (*Module, error) {
	compiled, err := r.rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errx.Wrap(ErrCompileModule, err)
	}
	return &Module{rt: r.rt, compiled: compiled}, nil
}

// Close tears down the runtime and every instance it created.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// Module is a compiled module ready to be started.
type Module struct {
	rt       wazero.Runtime
	compiled wazero.CompiledModule
}

func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

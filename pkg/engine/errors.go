package engine

import "errors"

var (
	ErrInitRuntime   = errors.New("initialize wasm runtime")
	ErrCompileModule = errors.New("compile wasm module")
	ErrStartProcess  = errors.New("start wasm process")
)

// Package wasm compiles naga IR to standalone WebAssembly modules.
//
// Rather than emitting source or binary for a GPU to execute, this
// backend emits a self-contained
// WebAssembly module that runs the shader in software: given uniform,
// attribute, and varying buffers in its linear memory, an exported
// entry point computes the vertex/fragment/compute stage's outputs and
// writes them back to memory, without any GPU involved.
//
// # Basic usage
//
//	module, _ := naga.Lower(ast)
//	result, err := wasm.NewBackend(wasm.DefaultOptions()).Compile(module)
//
// result.WasmBytes is a complete WebAssembly 1.0 binary. Its exports
// are: "memory", one function per entry point of the module, and the
// mutable i32 global "FRAME_SP". Hosts drive it by writing inputs into the regions
// described by result.MemoryLayout, calling the entry point export,
// and reading outputs back out of the varying/output region.
//
// # Composite values
//
// WebAssembly's stack machine has no vector/matrix/struct value types,
// so every composite IR value is represented as a pointer into a
// managed linear "frame" region rather than a multi-value stack tuple.
// This keeps the ABI stable across vector widths and struct shapes —
// see abi.go and layout.go.
//
// # What this package does not do
//
// It does not parse shader source (see the wgsl package), does not
// validate IR semantics (see ir.Validate), and does not provide a host
// runtime for the emitted module — driving the module (binding
// buffers, implementing the imported texture-sample/barrier functions)
// is the host's responsibility.
package wasm

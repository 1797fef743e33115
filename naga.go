// Package naga provides a Pure Go shader compiler.
//
// naga compiles WGSL (WebGPU Shading Language) source code into a
// standalone WebAssembly module. Each shader entry point becomes an
// exported wasm function that reads its inputs and writes its outputs
// through linear memory, so the compiled module can run a shader stage
// deterministically on any wasm runtime without a GPU.
//
// The package provides a simple, high-level API for shader compilation as well as
// lower-level access to individual compilation stages.
//
// Example usage:
//
//	source := `
//	@fragment
//	fn fs_main() -> @location(0) vec4<f32> {
//	    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
//	}
//	`
//	result, err := naga.CompileWasm(source)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	wasmBytes := result.WasmBytes
package naga

import (
	"fmt"

	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/wasm"
	"github.com/gogpu/naga/wgsl"
)

// CompileOptions configures shader compilation.
type CompileOptions struct {
	// Debug enables debug info in the generated output.
	Debug bool

	// Validate enables IR validation before code generation.
	Validate bool
}

// DefaultOptions returns sensible default options.
func DefaultOptions() CompileOptions {
	return CompileOptions{
		Debug:    false,
		Validate: true,
	}
}

// Parse parses WGSL source code to AST (Abstract Syntax Tree).
//
// This is the first stage of compilation. The AST represents the syntactic
// structure of the shader but does not include semantic information like types.
func Parse(source string) (*wgsl.Module, error) {
	// Tokenize
	lexer := wgsl.NewLexer(source)
	tokens, err := lexer.Tokenize()
	if err != nil {
		return nil, fmt.Errorf("tokenization error: %w", err)
	}

	// Parse to AST
	parser := wgsl.NewParser(tokens)
	module, err := parser.Parse()
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return module, nil
}

// Lower converts WGSL AST to IR (Intermediate Representation).
//
// The IR is a lower-level representation that includes type information,
// resolved identifiers, and a simpler structure suitable for code generation.
func Lower(ast *wgsl.Module) (*ir.Module, error) {
	return LowerWithSource(ast, "")
}

// LowerWithSource converts WGSL AST to IR, keeping source for error messages.
//
// When source is provided, errors will include line:column information
// and can show source context using ErrorList.FormatAll().
func LowerWithSource(ast *wgsl.Module, source string) (*ir.Module, error) {
	module, err := wgsl.LowerWithSource(ast, source)
	if err != nil {
		return nil, err
	}
	return module, nil
}

// Validate validates an IR module for correctness.
//
// Validation checks include:
//   - Type consistency
//   - Reference validity (all handles point to valid objects)
//   - Control flow validity (structured control flow rules)
//   - Binding uniqueness (no duplicate @group/@binding)
//
// Returns a slice of validation errors. If the slice is empty, validation passed.
func Validate(module *ir.Module) ([]ir.ValidationError, error) {
	return ir.Validate(module)
}

// GenerateWasm generates a standalone WebAssembly module from an IR
// module: every entry point becomes an exported wasm function driven
// entirely through linear memory, with no host-visible shader stage
// state beyond what Result.MemoryLayout describes.
func GenerateWasm(module *ir.Module, opts wasm.Options) (wasm.Result, error) {
	backend := wasm.NewBackend(opts)
	result, err := backend.Compile(module)
	if err != nil {
		return wasm.Result{}, fmt.Errorf("wasm generation error: %w", err)
	}
	return result, nil
}

// CompileWasm compiles WGSL source code to a standalone WebAssembly
// module using default options.
//
// This is the simplest way to compile a shader. For more control, use
// CompileWasmWithOptions or the individual Parse/Lower/Validate/GenerateWasm stages.
func CompileWasm(source string) (wasm.Result, error) {
	return CompileWasmWithOptions(source, DefaultOptions(), wasm.DefaultOptions())
}

// CompileWasmWithOptions compiles WGSL source to a standalone
// WebAssembly module with explicit compile and backend options.
//
// The compilation pipeline is:
//  1. Parse WGSL source to AST
//  2. Lower AST to IR (intermediate representation)
//  3. Validate IR (if enabled)
//  4. Generate the WebAssembly module
func CompileWasmWithOptions(source string, opts CompileOptions, wasmOpts wasm.Options) (wasm.Result, error) {
	ast, err := Parse(source)
	if err != nil {
		return wasm.Result{}, fmt.Errorf("parse error: %w", err)
	}

	module, err := LowerWithSource(ast, source)
	if err != nil {
		return wasm.Result{}, fmt.Errorf("lowering error: %w", err)
	}

	if opts.Validate {
		validationErrors, err := Validate(module)
		if err != nil {
			return wasm.Result{}, fmt.Errorf("validation error: %w", err)
		}
		if len(validationErrors) > 0 {
			return wasm.Result{}, fmt.Errorf("validation failed: %w", &validationErrors[0])
		}
	}

	return GenerateWasm(module, wasmOpts)
}

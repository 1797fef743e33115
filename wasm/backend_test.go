package wasm

import (
	"testing"

	"github.com/gogpu/naga/ir"
)

// scalarF32Res is the TypeResolution every f32 literal expression carries:
// an inline scalar type, not a reference into the module's type arena.
func scalarF32Res() ir.TypeResolution {
	return ir.TypeResolution{Value: ir.ScalarType{Kind: ir.ScalarFloat, Width: 4}}
}

// buildConstantVec4FragmentModule builds spec.md §8's smallest-shader
// scenario: a fragment entry point with no inputs that returns a
// constant vec4<f32> color at @location(0).
func buildConstantVec4FragmentModule() *ir.Module {
	vec4Handle := ir.TypeHandle(1)

	var binding ir.Binding = ir.LocationBinding{Location: 0}

	fn := ir.Function{
		Name: "fs_main",
		Expressions: []ir.Expression{
			ir.Expression{Kind: ir.Literal{Value: ir.LiteralF32(1)}},
			ir.Expression{Kind: ir.Literal{Value: ir.LiteralF32(0)}},
			ir.Expression{Kind: ir.Literal{Value: ir.LiteralF32(0)}},
			ir.Expression{Kind: ir.Literal{Value: ir.LiteralF32(1)}},
			ir.Expression{Kind: ir.ExprCompose{Type: vec4Handle, Components: []ir.ExpressionHandle{0, 1, 2, 3}}},
		},
		ExpressionTypes: []ir.TypeResolution{
			scalarF32Res(), scalarF32Res(), scalarF32Res(), scalarF32Res(),
			{Handle: &vec4Handle},
		},
		Body: []ir.Statement{
			{Kind: ir.StmtEmit{Range: ir.Range{Start: 0, End: 5}}},
			{Kind: ir.StmtReturn{Value: handlePtr(4)}},
		},
		Result: &ir.FunctionResult{Type: vec4Handle, Binding: &binding},
	}

	return &ir.Module{
		Types:     []ir.Type{f32Type(), vec4Type()},
		Functions: []ir.Function{fn},
		EntryPoints: []ir.EntryPoint{
			{Name: "fs_main", Stage: ir.StageFragment, Function: 0},
		},
	}
}

func handlePtr(h ir.ExpressionHandle) *ir.ExpressionHandle {
	return &h
}

func TestBackendCompileConstantVec4Fragment(t *testing.T) {
	module := buildConstantVec4FragmentModule()
	backend := NewBackend(DefaultOptions())

	result, err := backend.Compile(module)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if len(result.WasmBytes) < 8 {
		t.Fatalf("wasm output too short: %d bytes", len(result.WasmBytes))
	}
	want := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for i, w := range want {
		if result.WasmBytes[i] != w {
			t.Fatalf("byte %d: got 0x%02x, want 0x%02x", i, result.WasmBytes[i], w)
		}
	}

	if _, ok := result.EntryPoints["fs_main"]; !ok {
		t.Errorf("expected fs_main in EntryPoints, got %v", result.EntryPoints)
	}

	if result.MemoryLayout.TotalSize == 0 {
		t.Errorf("expected a non-zero memory layout total size")
	}
	if result.MemoryLayout.Pages == 0 {
		t.Errorf("expected at least one wasm memory page")
	}
	if result.DwarfBytes != nil || result.SourceMapJS != nil {
		t.Errorf("expected no debug output when DebugInfo is disabled")
	}
}

func TestBackendCompileWithDebugInfoEmitsBothArtifacts(t *testing.T) {
	module := buildConstantVec4FragmentModule()
	opts := DefaultOptions()
	opts.DebugInfo = true
	backend := NewBackend(opts)

	result, err := backend.Compile(module)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(result.DwarfBytes) == 0 {
		t.Errorf("expected non-empty DWARF bytes when DebugInfo is enabled")
	}
	if len(result.SourceMapJS) == 0 {
		t.Errorf("expected non-empty JS stub when DebugInfo is enabled")
	}
}

func TestBackendCompileMissingVaryingLocationFails(t *testing.T) {
	module := buildConstantVec4FragmentModule()
	// Strip the @location binding: buildBindingTable must reject this
	// as VaryingHasNoLocation / ColorOutput equivalent (spec.md §8).
	module.Functions[0].Result.Binding = nil

	backend := NewBackend(DefaultOptions())
	_, err := backend.Compile(module)
	if err == nil {
		t.Fatal("expected an error for a fragment output with no location binding")
	}
}

func TestBackendCompileDeterministic(t *testing.T) {
	backend := NewBackend(DefaultOptions())

	r1, err := backend.Compile(buildConstantVec4FragmentModule())
	if err != nil {
		t.Fatalf("first compile failed: %v", err)
	}
	r2, err := backend.Compile(buildConstantVec4FragmentModule())
	if err != nil {
		t.Fatalf("second compile failed: %v", err)
	}

	if len(r1.WasmBytes) != len(r2.WasmBytes) {
		t.Fatalf("expected identical output length, got %d and %d", len(r1.WasmBytes), len(r2.WasmBytes))
	}
	for i := range r1.WasmBytes {
		if r1.WasmBytes[i] != r2.WasmBytes[i] {
			t.Fatalf("byte %d differs between two compiles of the same module", i)
		}
	}
}

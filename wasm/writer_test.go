package wasm

import "testing"

func TestModuleBuilderBuildEmptyHasMagicAndVersion(t *testing.T) {
	b := NewModuleBuilder()
	out := b.Build()

	if len(out) < 8 {
		t.Fatalf("output too short: %d bytes", len(out))
	}
	want := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for i, w := range want {
		if out[i] != w {
			t.Fatalf("byte %d: got 0x%02x, want 0x%02x", i, out[i], w)
		}
	}
}

func TestModuleBuilderAddFuncTypeDeduplicates(t *testing.T) {
	b := NewModuleBuilder()
	ft := FuncType{Params: []ValType{ValI32, ValF32}, Results: []ValType{ValF32}}

	idx1 := b.AddFuncType(ft)
	idx2 := b.AddFuncType(ft)
	if idx1 != idx2 {
		t.Errorf("expected identical signatures to share a type index, got %d and %d", idx1, idx2)
	}

	other := b.AddFuncType(FuncType{Params: []ValType{ValI32}})
	if other == idx1 {
		t.Errorf("expected a distinct signature to get a distinct type index")
	}
}

func TestModuleBuilderDeclareFunctionIndexSpaceFollowsImports(t *testing.T) {
	b := NewModuleBuilder()
	ft := b.AddFuncType(FuncType{})

	importIdx := b.AddImportFunction("env", "log", ft)
	if importIdx != 0 {
		t.Fatalf("expected first import to get index 0, got %d", importIdx)
	}

	definedIdx := b.DeclareFunction(ft)
	if definedIdx != 1 {
		t.Errorf("expected the first defined function to follow imports at index 1, got %d", definedIdx)
	}
}

func TestModuleBuilderCodeSectionOffsetAdvancesPerFunction(t *testing.T) {
	b := NewModuleBuilder()
	ft := b.AddFuncType(FuncType{})
	b.DeclareFunction(ft)
	b.DeclareFunction(ft)

	first := b.CodeSectionOffset()
	if first != 0 {
		t.Fatalf("expected first code offset to be 0, got %d", first)
	}
	b.AddCode(nil, []byte{byte(OpI32Const), 0x00})

	second := b.CodeSectionOffset()
	if second == 0 {
		t.Errorf("expected code section offset to advance after AddCode, stayed at 0")
	}
	b.AddCode(nil, []byte{byte(OpI32Const), 0x01})

	out := b.Build()
	if len(out) == 0 {
		t.Errorf("expected non-empty module output")
	}
}

func TestConstI32ExprRoundTrips(t *testing.T) {
	expr := ConstI32Expr(-1)
	if expr[0] != byte(OpI32Const) {
		t.Fatalf("expected first byte to be i32.const opcode, got 0x%02x", expr[0])
	}
	if expr[len(expr)-1] != byte(OpEnd) {
		t.Fatalf("expected last byte to be end opcode, got 0x%02x", expr[len(expr)-1])
	}
}

func TestModuleBuilderSetMemoryAndGlobalExport(t *testing.T) {
	b := NewModuleBuilder()
	b.SetMemory(2, 0, false)
	g := b.AddGlobal(ValI32, Mutable, ConstI32Expr(1024))
	b.AddExport("FRAME_SP", ExternalGlobal, g)
	b.AddExport("memory", ExternalMemory, 0)

	out := b.Build()
	if len(out) == 0 {
		t.Fatalf("expected non-empty module output")
	}
}

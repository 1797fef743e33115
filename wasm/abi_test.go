package wasm

import (
	"testing"

	"github.com/gogpu/naga/ir"
)

func TestAbiOfRegisterParamsAndResult(t *testing.T) {
	module := &ir.Module{Types: []ir.Type{f32Type()}}
	fn := &ir.Function{
		Arguments: []ir.FunctionArgument{{Name: "a", Type: 0}, {Name: "b", Type: 0}},
		Result:    &ir.FunctionResult{Type: 0},
	}
	table := NewLayoutTable(module)

	abi, err := abiOf(module, fn, table)
	if err != nil {
		t.Fatalf("abiOf failed: %v", err)
	}
	if len(abi.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(abi.Params))
	}
	for i, p := range abi.Params {
		if _, ok := p.(PassRegister); !ok {
			t.Errorf("param %d: expected PassRegister, got %T", i, p)
		}
	}
	if abi.Sret != nil {
		t.Errorf("expected no sret for a scalar result")
	}
	reg, ok := abi.Result.(PassRegister)
	if !ok {
		t.Fatalf("expected a PassRegister result, got %T", abi.Result)
	}
	if reg.ValType != ValF32 {
		t.Errorf("expected f32 result, got %v", reg.ValType)
	}
}

func TestAbiOfCompositeResultUsesSret(t *testing.T) {
	module := &ir.Module{Types: []ir.Type{f32Type(), vec4Type()}}
	fn := &ir.Function{Result: &ir.FunctionResult{Type: 1}}
	table := NewLayoutTable(module)

	abi, err := abiOf(module, fn, table)
	if err != nil {
		t.Fatalf("abiOf failed: %v", err)
	}
	if abi.Sret == nil {
		t.Fatal("expected a composite vec4 result to use sret")
	}
	if abi.Sret.Size != 16 {
		t.Errorf("expected sret size 16, got %d", abi.Sret.Size)
	}
	if abi.Result != nil {
		t.Errorf("expected no register result when sret is used, got %v", abi.Result)
	}
}

func TestAbiOfCompositeParamPassedByPointer(t *testing.T) {
	module := &ir.Module{Types: []ir.Type{f32Type(), vec4Type()}}
	fn := &ir.Function{Arguments: []ir.FunctionArgument{{Name: "v", Type: 1}}}
	table := NewLayoutTable(module)

	abi, err := abiOf(module, fn, table)
	if err != nil {
		t.Fatalf("abiOf failed: %v", err)
	}
	if len(abi.Params) != 1 {
		t.Fatalf("expected 1 param, got %d", len(abi.Params))
	}
	p, ok := abi.Params[0].(PassPointerInCallerFrame)
	if !ok {
		t.Fatalf("expected PassPointerInCallerFrame for a composite param, got %T", abi.Params[0])
	}
	if p.Size != 16 {
		t.Errorf("expected param size 16, got %d", p.Size)
	}
}

func TestAbiOfVoidFunctionHasNoResultOrSret(t *testing.T) {
	module := &ir.Module{Types: []ir.Type{f32Type()}}
	fn := &ir.Function{}
	table := NewLayoutTable(module)

	abi, err := abiOf(module, fn, table)
	if err != nil {
		t.Fatalf("abiOf failed: %v", err)
	}
	if abi.Result != nil || abi.Sret != nil {
		t.Errorf("expected a void function to have neither a result nor an sret")
	}
}

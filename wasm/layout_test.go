package wasm

import (
	"testing"

	"github.com/gogpu/naga/ir"
)

func f32Type() ir.Type {
	return ir.Type{Name: "f32", Inner: ir.ScalarType{Kind: ir.ScalarFloat, Width: 4}}
}

func vec4Type() ir.Type {
	return ir.Type{Name: "vec4f", Inner: ir.VectorType{Size: ir.Vec4, Scalar: ir.ScalarType{Kind: ir.ScalarFloat, Width: 4}}}
}

func TestLayoutOfScalarIsRegister(t *testing.T) {
	module := &ir.Module{Types: []ir.Type{f32Type()}}
	table := NewLayoutTable(module)

	l, err := table.LayoutOf(0)
	if err != nil {
		t.Fatalf("LayoutOf failed: %v", err)
	}
	if l.Residency != ResidentRegister {
		t.Errorf("expected scalar f32 to be register-resident, got %v", l.Residency)
	}
	if l.SizeBytes != 4 || l.AlignBytes != 4 {
		t.Errorf("expected size/align 4/4, got %d/%d", l.SizeBytes, l.AlignBytes)
	}
	if l.ValType != ValF32 {
		t.Errorf("expected ValF32, got %v", l.ValType)
	}
}

func TestLayoutOfVec4IsMemory(t *testing.T) {
	module := &ir.Module{Types: []ir.Type{f32Type(), vec4Type()}}
	table := NewLayoutTable(module)

	l, err := table.LayoutOf(1)
	if err != nil {
		t.Fatalf("LayoutOf failed: %v", err)
	}
	if l.Residency != ResidentMemory {
		t.Errorf("expected vec4<f32> to be memory-resident, got %v", l.Residency)
	}
	if l.SizeBytes != 16 || l.AlignBytes != 16 {
		t.Errorf("expected size/align 16/16, got %d/%d", l.SizeBytes, l.AlignBytes)
	}
	if l.LaneCount != 4 {
		t.Errorf("expected lane count 4, got %d", l.LaneCount)
	}
}

func TestLayoutOfMatrix4x4(t *testing.T) {
	module := &ir.Module{Types: []ir.Type{
		f32Type(),
		{Name: "mat4x4f", Inner: ir.MatrixType{Columns: ir.Vec4, Rows: ir.Vec4, Scalar: ir.ScalarType{Kind: ir.ScalarFloat, Width: 4}}},
	}}
	table := NewLayoutTable(module)

	l, err := table.LayoutOf(1)
	if err != nil {
		t.Fatalf("LayoutOf failed: %v", err)
	}
	if l.Residency != ResidentMemory {
		t.Errorf("expected mat4x4<f32> to be memory-resident")
	}
	if l.ColumnStride != 16 {
		t.Errorf("expected column stride 16, got %d", l.ColumnStride)
	}
	if l.SizeBytes != 64 {
		t.Errorf("expected size 64, got %d", l.SizeBytes)
	}
}

func TestLayoutOfStructComputesFieldOffsets(t *testing.T) {
	module := &ir.Module{Types: []ir.Type{
		f32Type(),
		vec4Type(),
		{Name: "VSOut", Inner: ir.StructType{Members: []ir.StructMember{
			{Name: "position", Type: 1},
			{Name: "scale", Type: 0},
		}}},
	}}
	table := NewLayoutTable(module)

	l, err := table.LayoutOf(2)
	if err != nil {
		t.Fatalf("LayoutOf failed: %v", err)
	}
	if len(l.FieldOffsets) != 2 {
		t.Fatalf("expected 2 field offsets, got %d", len(l.FieldOffsets))
	}
	if l.FieldOffsets[0] != 0 {
		t.Errorf("expected position at offset 0, got %d", l.FieldOffsets[0])
	}
	if l.FieldOffsets[1] != 16 {
		t.Errorf("expected scale at offset 16 (after 16-byte vec4), got %d", l.FieldOffsets[1])
	}
	if l.SizeBytes != 32 {
		t.Errorf("expected struct size 32 (20 bytes rounded up to 16-byte alignment), got %d", l.SizeBytes)
	}
}

func TestLayoutOfRecursiveArrayFails(t *testing.T) {
	module := &ir.Module{Types: []ir.Type{
		{Name: "Cyclic", Inner: ir.ArrayType{Base: 0}},
	}}
	table := NewLayoutTable(module)

	_, err := table.LayoutOf(0)
	if err == nil {
		t.Fatal("expected an error for a self-referential array type")
	}
}

func TestLayoutOfIsMemoized(t *testing.T) {
	module := &ir.Module{Types: []ir.Type{vec4Type()}}
	table := NewLayoutTable(module)

	a, err := table.LayoutOf(0)
	if err != nil {
		t.Fatalf("LayoutOf failed: %v", err)
	}
	b, err := table.LayoutOf(0)
	if err != nil {
		t.Fatalf("LayoutOf failed: %v", err)
	}
	if a.SizeBytes != b.SizeBytes || a.AlignBytes != b.AlignBytes {
		t.Errorf("expected memoized layout to be stable across calls")
	}
}

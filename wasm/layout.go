package wasm

import (
	"fmt"

	"github.com/gogpu/naga/ir"
)

// maxTypeSize is the largest size in bytes a single IR type may occupy in
// the linear frame before layoutOf refuses to lay it out (spec.md §4.1).
const maxTypeSize = 64 * 1024

// Residency classifies whether a value of a type fits in one stack-machine
// register or must be materialized in the linear frame (spec.md §4.1).
type Residency uint8

const (
	ResidentRegister Residency = iota
	ResidentMemory
)

// Layout is the size/alignment/offset record for one IR type (spec.md §3).
type Layout struct {
	SizeBytes    uint32
	AlignBytes   uint32
	LaneCount    uint8    // vector lane count / matrix row count; 0 if not a vector or matrix
	ColumnStride uint32   // matrix column stride in bytes; 0 if not a matrix
	FieldOffsets []uint32 // struct member offsets, parallel to StructType.Members; nil otherwise
	Residency    Residency
	ValType      ValType // register ValType when Residency == ResidentRegister
}

// LayoutError reports a type that cannot be laid out.
type LayoutError struct {
	Kind ErrorKind
	Type ir.TypeHandle
	Msg  string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("type %d: %s", e.Type, e.Msg)
}

// LayoutTable memoizes layoutOf results for a module, guaranteeing
// layoutOf's determinism/idempotence invariant (spec.md §8) without
// recomputation.
type LayoutTable struct {
	module  *ir.Module
	layouts map[ir.TypeHandle]Layout
	visited map[ir.TypeHandle]bool // recursion guard, for RecursiveTypeNotSupported
}

// NewLayoutTable creates a layout table bound to a module. Call LayoutOf
// for each type handle the caller needs; results are memoized.
func NewLayoutTable(module *ir.Module) *LayoutTable {
	return &LayoutTable{
		module:  module,
		layouts: make(map[ir.TypeHandle]Layout, len(module.Types)),
		visited: make(map[ir.TypeHandle]bool, len(module.Types)),
	}
}

// LayoutOf returns the layout of the given type, computing and memoizing
// it on first use.
func (lt *LayoutTable) LayoutOf(handle ir.TypeHandle) (Layout, error) {
	if l, ok := lt.layouts[handle]; ok {
		return l, nil
	}
	if lt.visited[handle] {
		return Layout{}, &LayoutError{Kind: ErrRecursiveTypeNotSupported, Type: handle, Msg: "recursive type"}
	}
	lt.visited[handle] = true
	defer delete(lt.visited, handle)

	l, err := lt.compute(handle)
	if err != nil {
		return Layout{}, err
	}
	if l.SizeBytes > maxTypeSize {
		return Layout{}, &LayoutError{Kind: ErrLayoutTooLarge, Type: handle, Msg: fmt.Sprintf("size %d exceeds maximum %d", l.SizeBytes, maxTypeSize)}
	}
	lt.layouts[handle] = l
	return l, nil
}

func (lt *LayoutTable) compute(handle ir.TypeHandle) (Layout, error) {
	if int(handle) >= len(lt.module.Types) {
		return Layout{}, &LayoutError{Kind: ErrInternalInvariantViolated, Type: handle, Msg: "type handle out of range"}
	}
	typ := lt.module.Types[handle]

	switch t := typ.Inner.(type) {
	case ir.ScalarType:
		return scalarLayout(t), nil

	case ir.VectorType:
		return lt.vectorLayout(t), nil

	case ir.MatrixType:
		return lt.matrixLayout(t), nil

	case ir.ArrayType:
		return lt.arrayLayout(t)

	case ir.StructType:
		return lt.structLayout(t)

	case ir.PointerType:
		return Layout{SizeBytes: 4, AlignBytes: 4, Residency: ResidentRegister, ValType: ValI32}, nil

	case ir.AtomicType:
		return scalarLayout(t.Scalar), nil

	case ir.SamplerType, ir.ImageType:
		// Handles (spec.md §3 "handle" address space): represented as an
		// opaque i32 index into a host-side resource table.
		return Layout{SizeBytes: 4, AlignBytes: 4, Residency: ResidentRegister, ValType: ValI32}, nil

	default:
		return Layout{}, &LayoutError{Kind: ErrUnsupportedType, Type: handle, Msg: fmt.Sprintf("unsupported type inner %T", typ.Inner)}
	}
}

// scalarLayout gives scalars their natural size/alignment (spec.md §4.1):
// bool = 1/1; i32/u32/f32 = 4/4; i64/f64 = 8/8.
func scalarLayout(s ir.ScalarType) Layout {
	width := uint32(s.Width)
	if width == 0 {
		width = 4
	}
	return Layout{
		SizeBytes:  width,
		AlignBytes: width,
		Residency:  ResidentRegister,
		ValType:    ValTypeFor(s),
	}
}

// vectorAlignAndSize implements spec.md §4.1's vector rule: N lanes occupy
// N*scalarSize, aligned to min(16, next_pow2(N*scalarSize)); vec3 is size
// 3*scalarSize but aligned to 16, matching WGSL/WebGPU host-shareable
// layout rules (ground truth: wgsl.Lowerer.vectorAlignmentAndSize).
func vectorAlignAndSize(lanes ir.VectorSize, scalarSize uint32) (align, size uint32) {
	size = uint32(lanes) * scalarSize
	switch lanes {
	case ir.Vec2:
		return nextPow2Align(size), size
	case ir.Vec3:
		return 16, size
	case ir.Vec4:
		return 16, size
	default:
		return scalarSize, size
	}
}

func nextPow2Align(size uint32) uint32 {
	align := uint32(1)
	for align < size {
		align <<= 1
	}
	if align > 16 {
		align = 16
	}
	return align
}

func (lt *LayoutTable) vectorLayout(t ir.VectorType) Layout {
	scalarSize := uint32(t.Scalar.Width)
	if scalarSize == 0 {
		scalarSize = 4
	}
	align, size := vectorAlignAndSize(t.Size, scalarSize)
	return Layout{
		SizeBytes:  size,
		AlignBytes: align,
		LaneCount:  uint8(t.Size),
		Residency:  ResidentMemory,
	}
}

// matrixLayout implements spec.md §4.1's matrix rule: C columns of vecR,
// column stride rounds (lane_count*4) up to 16 for 3-/4-wide columns, to
// 8 for 2-wide columns.
func (lt *LayoutTable) matrixLayout(t ir.MatrixType) Layout {
	scalarSize := uint32(t.Scalar.Width)
	if scalarSize == 0 {
		scalarSize = 4
	}
	colAlign, _ := vectorAlignAndSize(t.Rows, scalarSize)
	return Layout{
		SizeBytes:    colAlign * uint32(t.Columns),
		AlignBytes:   colAlign,
		LaneCount:    uint8(t.Rows),
		ColumnStride: colAlign,
		Residency:    ResidentMemory,
	}
}

// arrayLayout implements spec.md §4.1's array rule: stride >= element
// size, rounded up to element alignment (and to 16 for host-shareable
// array elements, matching the teacher's uniform-buffer rule).
func (lt *LayoutTable) arrayLayout(t ir.ArrayType) (Layout, error) {
	elem, err := lt.LayoutOf(t.Base)
	if err != nil {
		return Layout{}, err
	}
	align := elem.AlignBytes
	if align < 16 {
		align = 16
	}
	stride := t.Stride
	if stride == 0 {
		stride = alignUp(elem.SizeBytes, align)
	}
	if t.Size.Constant == nil {
		return Layout{SizeBytes: 0, AlignBytes: align, Residency: ResidentMemory}, nil
	}
	return Layout{
		SizeBytes:  stride * *t.Size.Constant,
		AlignBytes: align,
		Residency:  ResidentMemory,
	}, nil
}

// structLayout implements spec.md §4.1's struct rule: fields accumulate
// at alignment-aware, monotonically non-decreasing offsets with explicit
// padding; struct alignment is the max field alignment.
func (lt *LayoutTable) structLayout(t ir.StructType) (Layout, error) {
	var offset uint32
	var maxAlign uint32 = 1
	offsets := make([]uint32, len(t.Members))

	for i, member := range t.Members {
		ml, err := lt.LayoutOf(member.Type)
		if err != nil {
			return Layout{}, err
		}
		align := ml.AlignBytes
		if align == 0 {
			align = 1
		}
		if align > maxAlign {
			maxAlign = align
		}
		offset = alignUp(offset, align)
		offsets[i] = offset
		offset += ml.SizeBytes
	}

	size := t.Span
	if size == 0 {
		size = alignUp(offset, maxAlign)
	}

	return Layout{
		SizeBytes:    size,
		AlignBytes:   maxAlign,
		FieldOffsets: offsets,
		Residency:    ResidentMemory,
	}, nil
}

// layoutInner lays out an inline TypeInner that has no registered type
// handle (TypeResolution.Value case). It delegates to the same rules as
// compute, but cannot participate in memoization or recursion guarding
// since it has no handle to key on; inline types in naga IR are always
// leaves (scalars, vectors) so this is safe in practice.
func (lt *LayoutTable) layoutInner(inner ir.TypeInner) (Layout, error) {
	switch t := inner.(type) {
	case ir.ScalarType:
		return scalarLayout(t), nil
	case ir.VectorType:
		return lt.vectorLayout(t), nil
	case ir.MatrixType:
		return lt.matrixLayout(t), nil
	case ir.PointerType:
		return Layout{SizeBytes: 4, AlignBytes: 4, Residency: ResidentRegister, ValType: ValI32}, nil
	default:
		return Layout{}, &LayoutError{Kind: ErrUnsupportedType, Msg: fmt.Sprintf("unsupported inline type %T", inner)}
	}
}

func alignUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// IsRegister reports whether a type is register-resident: a scalar or a
// pointer (spec.md §4.1).
func IsRegister(inner ir.TypeInner) bool {
	switch inner.(type) {
	case ir.ScalarType, ir.PointerType, ir.SamplerType, ir.ImageType:
		return true
	default:
		return false
	}
}

package wasm

import "github.com/gogpu/naga/ir"

// Version represents a WebAssembly binary format version.
type Version struct {
	Major uint8
	Minor uint8
}

// Version1_0 is the WebAssembly MVP (the only version this backend targets).
var Version1_0 = Version{1, 0}

// WebAssembly binary header.
const (
	Magic        uint32 = 0x6d736100 // "\0asm"
	BinaryFormat uint32 = 1
)

// SectionID identifies a WebAssembly module section.
type SectionID uint8

// Section IDs, in the canonical order the assembler emits them.
const (
	SectionCustom   SectionID = 0
	SectionType     SectionID = 1
	SectionImport   SectionID = 2
	SectionFunction SectionID = 3
	SectionTable    SectionID = 4
	SectionMemory   SectionID = 5
	SectionGlobal   SectionID = 6
	SectionExport   SectionID = 7
	SectionStart    SectionID = 8
	SectionElement  SectionID = 9
	SectionCode     SectionID = 10
	SectionData     SectionID = 11
)

// ValType is a WebAssembly value type.
type ValType byte

// Value types used by the stack machine.
const (
	ValI32 ValType = 0x7F
	ValI64 ValType = 0x7E
	ValF32 ValType = 0x7D
	ValF64 ValType = 0x7C
)

// BlockType encodes the result arity of a structured control instruction.
type BlockType byte

// BlockEmpty denotes a block with no result value.
const BlockEmpty BlockType = 0x40

// ExternalKind tags an import/export as referring to a function, table,
// memory, or global.
type ExternalKind byte

const (
	ExternalFunction ExternalKind = 0x00
	ExternalTable    ExternalKind = 0x01
	ExternalMemory   ExternalKind = 0x02
	ExternalGlobal   ExternalKind = 0x03
)

// Mutability flags a global as constant or mutable.
type Mutability byte

const (
	Immutable Mutability = 0x00
	Mutable   Mutability = 0x01
)

// Opcode is a WebAssembly instruction opcode.
type Opcode byte

// Control instructions.
const (
	OpUnreachable Opcode = 0x00
	OpNop         Opcode = 0x01
	OpBlock       Opcode = 0x02
	OpLoop        Opcode = 0x03
	OpIf          Opcode = 0x04
	OpElse        Opcode = 0x05
	OpEnd         Opcode = 0x0B
	OpBr          Opcode = 0x0C
	OpBrIf        Opcode = 0x0D
	OpBrTable     Opcode = 0x0E
	OpReturn      Opcode = 0x0F
	OpCall        Opcode = 0x10
	OpCallIndirect Opcode = 0x11
)

// Parametric / variable instructions.
const (
	OpDrop       Opcode = 0x1A
	OpSelect     Opcode = 0x1B
	OpLocalGet   Opcode = 0x20
	OpLocalSet   Opcode = 0x21
	OpLocalTee   Opcode = 0x22
	OpGlobalGet  Opcode = 0x23
	OpGlobalSet  Opcode = 0x24
)

// Memory instructions.
const (
	OpI32Load    Opcode = 0x28
	OpI64Load    Opcode = 0x29
	OpF32Load    Opcode = 0x2A
	OpF64Load    Opcode = 0x2B
	OpI32Load8S  Opcode = 0x2C
	OpI32Load8U  Opcode = 0x2D
	OpI32Load16S Opcode = 0x2E
	OpI32Load16U Opcode = 0x2F
	OpI32Store   Opcode = 0x36
	OpI64Store   Opcode = 0x37
	OpF32Store   Opcode = 0x38
	OpF64Store   Opcode = 0x39
	OpI32Store8  Opcode = 0x3A
	OpI32Store16 Opcode = 0x3B
	OpMemorySize Opcode = 0x3F
	OpMemoryGrow Opcode = 0x40
)

// Constant instructions.
const (
	OpI32Const Opcode = 0x41
	OpI64Const Opcode = 0x42
	OpF32Const Opcode = 0x43
	OpF64Const Opcode = 0x44
)

// i32 comparison/arithmetic instructions.
const (
	OpI32Eqz  Opcode = 0x45
	OpI32Eq   Opcode = 0x46
	OpI32Ne   Opcode = 0x47
	OpI32LtS  Opcode = 0x48
	OpI32LtU  Opcode = 0x49
	OpI32GtS  Opcode = 0x4A
	OpI32GtU  Opcode = 0x4B
	OpI32LeS  Opcode = 0x4C
	OpI32LeU  Opcode = 0x4D
	OpI32GeS  Opcode = 0x4E
	OpI32GeU  Opcode = 0x4F

	OpI32Add    Opcode = 0x6A
	OpI32Sub    Opcode = 0x6B
	OpI32Mul    Opcode = 0x6C
	OpI32DivS   Opcode = 0x6D
	OpI32DivU   Opcode = 0x6E
	OpI32RemS   Opcode = 0x6F
	OpI32RemU   Opcode = 0x70
	OpI32And    Opcode = 0x71
	OpI32Or     Opcode = 0x72
	OpI32Xor    Opcode = 0x73
	OpI32Shl    Opcode = 0x74
	OpI32ShrS   Opcode = 0x75
	OpI32ShrU   Opcode = 0x76
)

// f32 comparison/arithmetic instructions.
const (
	OpF32Eq Opcode = 0x5B
	OpF32Ne Opcode = 0x5C
	OpF32Lt Opcode = 0x5D
	OpF32Gt Opcode = 0x5E
	OpF32Le Opcode = 0x5F
	OpF32Ge Opcode = 0x60

	OpF32Abs      Opcode = 0x8B
	OpF32Neg      Opcode = 0x8C
	OpF32Ceil     Opcode = 0x8D
	OpF32Floor    Opcode = 0x8E
	OpF32Trunc    Opcode = 0x8F
	OpF32Nearest  Opcode = 0x90
	OpF32Sqrt     Opcode = 0x91
	OpF32Add      Opcode = 0x92
	OpF32Sub      Opcode = 0x93
	OpF32Mul      Opcode = 0x94
	OpF32Div      Opcode = 0x95
	OpF32Min      Opcode = 0x96
	OpF32Max      Opcode = 0x97
)

// Conversion instructions actually used by the lowerer.
const (
	OpI32TruncF32S  Opcode = 0xA8
	OpI32TruncF32U  Opcode = 0xA9
	OpF32ConvertI32S Opcode = 0xB2
	OpF32ConvertI32U Opcode = 0xB3
	OpI32ReinterpretF32 Opcode = 0xBC
	OpF32ReinterpretI32 Opcode = 0xBE
)

// MemArg is the alignment/offset pair carried by every memory instruction.
type MemArg struct {
	Align  uint32 // log2 of the natural alignment
	Offset uint32
}

// ValTypeFor maps an IR scalar kind to the WebAssembly value type used to
// hold it in a stack-machine register, per spec.md §4.2's register rule
// (i32/u32/bool -> i32, f32 -> f32, i64 -> i64, f64 -> f64). The naga IR
// used by this backend never produces 64-bit scalars, but the mapping is
// total so future widening doesn't require touching call sites.
func ValTypeFor(scalar ir.ScalarType) ValType {
	switch scalar.Kind {
	case ir.ScalarSint, ir.ScalarUint, ir.ScalarBool:
		if scalar.Width == 8 {
			return ValI64
		}
		return ValI32
	case ir.ScalarFloat:
		if scalar.Width == 8 {
			return ValF64
		}
		return ValF32
	default:
		return ValI32
	}
}

// Options configures WebAssembly generation.
type Options struct {
	// Version is the target WebAssembly binary version.
	Version Version

	// DebugInfo enables emission of a .debug_line custom section and
	// the companion JS stub/source map (spec.md §4.8).
	DebugInfo bool

	// Optimize is accepted for interface parity with
	// config.Optimize; this backend performs no optimization passes
	// beyond what correctness requires (spec.md Non-goals).
	Optimize bool

	// Features gates optional lowering behavior (e.g. derivative
	// fan-out once implemented). Empty by default.
	Features FeatureSet
}

// FeatureSet is a set of optional backend features, referenced by name.
type FeatureSet map[string]bool

// Has reports whether a feature is enabled.
func (f FeatureSet) Has(name string) bool {
	return f != nil && f[name]
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Version:   Version1_0,
		DebugInfo: false,
		Optimize:  false,
	}
}

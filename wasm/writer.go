package wasm

import (
	"github.com/tetratelabs/wabin/leb128"
)

// FuncType is a WebAssembly function type (parameter and result value
// types). The module assembler deduplicates these into the type section
// by structural equality, the same way spirv's ModuleBuilder deduplicates
// OpTypeFunction instructions.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) key() string {
	buf := make([]byte, 0, len(ft.Params)+len(ft.Results)+1)
	for _, p := range ft.Params {
		buf = append(buf, byte(p))
	}
	buf = append(buf, 0xFF)
	for _, r := range ft.Results {
		buf = append(buf, byte(r))
	}
	return string(buf)
}

// ModuleBuilder assembles a WebAssembly 1.0 binary from its sections
// incrementally, in the order the backend discovers them, then linearizes
// everything into canonical section order on Build. The section-buffer
// shape mirrors spirv.ModuleBuilder: callers append to logical buffers
// (types, imports, functions, ...) and Build concatenates them with
// length-prefixed headers, rather than writing a single byte stream
// by hand.
type ModuleBuilder struct {
	types    []FuncType
	typeIdx  map[string]uint32
	funcTypes []uint32 // type index per defined (non-imported) function

	importedFuncCount uint32
	importBuf         []byte
	importCount       uint32

	codeBuf   []byte
	codeCount uint32

	hasMemory  bool
	memMin     uint32
	memMax     uint32
	memHasMax  bool

	globalBuf   []byte
	globalCount uint32

	exportBuf   []byte
	exportCount uint32

	dataBuf   []byte
	dataCount uint32

	startFunc    uint32
	hasStartFunc bool
}

// NewModuleBuilder creates an empty builder.
func NewModuleBuilder() *ModuleBuilder {
	return &ModuleBuilder{typeIdx: make(map[string]uint32)}
}

// AddFuncType interns a function type and returns its index, reusing an
// existing entry when one with the same signature already exists.
func (b *ModuleBuilder) AddFuncType(ft FuncType) uint32 {
	k := ft.key()
	if idx, ok := b.typeIdx[k]; ok {
		return idx
	}
	idx := uint32(len(b.types))
	b.types = append(b.types, ft)
	b.typeIdx[k] = idx
	return idx
}

// AddImportFunction declares an imported function and returns its index
// in the combined function index space (imports first, then defined
// functions, per the WebAssembly spec).
func (b *ModuleBuilder) AddImportFunction(module, name string, typeIdx uint32) uint32 {
	b.importBuf = append(b.importBuf, encodeName(module)...)
	b.importBuf = append(b.importBuf, encodeName(name)...)
	b.importBuf = append(b.importBuf, byte(ExternalFunction))
	b.importBuf = append(b.importBuf, leb128.EncodeUint32(typeIdx)...)
	idx := b.importedFuncCount
	b.importedFuncCount++
	b.importCount++
	return idx
}

// DeclareFunction reserves the next function index for a function with
// the given type, to be defined later via AddCode. Functions must be
// declared and coded in the same order.
func (b *ModuleBuilder) DeclareFunction(typeIdx uint32) uint32 {
	b.funcTypes = append(b.funcTypes, typeIdx)
	return b.importedFuncCount + uint32(len(b.funcTypes)-1)
}

// LocalEntry is one run-length entry in a function body's locals vector.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// CodeSectionOffset returns the byte offset, within the code section's
// payload, where the next AddCode call's entry will begin. Debug
// emission uses this to map a function to the code range its line table
// entries fall within, without needing to know the code section's final
// absolute file offset until Build assembles it.
func (b *ModuleBuilder) CodeSectionOffset() uint32 {
	return uint32(len(b.codeBuf))
}

// AddCode appends an encoded function body for the next declared
// function (code and declaration order must match).
func (b *ModuleBuilder) AddCode(locals []LocalEntry, body []byte) {
	var fb []byte
	fb = append(fb, leb128.EncodeUint32(uint32(len(locals)))...)
	for _, l := range locals {
		fb = append(fb, leb128.EncodeUint32(l.Count)...)
		fb = append(fb, byte(l.ValType))
	}
	fb = append(fb, body...)
	fb = append(fb, byte(OpEnd))

	b.codeBuf = append(b.codeBuf, leb128.EncodeUint32(uint32(len(fb)))...)
	b.codeBuf = append(b.codeBuf, fb...)
	b.codeCount++
}

// SetMemory declares the module's single linear memory, sized in 64KiB
// pages.
func (b *ModuleBuilder) SetMemory(minPages, maxPages uint32, hasMax bool) {
	b.hasMemory = true
	b.memMin, b.memMax, b.memHasMax = minPages, maxPages, hasMax
}

// AddGlobal declares a global with a constant initializer expression
// (already-encoded: e.g. i32.const N, end) and returns its index.
func (b *ModuleBuilder) AddGlobal(vt ValType, mut Mutability, initExpr []byte) uint32 {
	b.globalBuf = append(b.globalBuf, byte(vt), byte(mut))
	b.globalBuf = append(b.globalBuf, initExpr...)
	idx := b.globalCount
	b.globalCount++
	return idx
}

// AddExport exports a function, memory, or global under the given name.
func (b *ModuleBuilder) AddExport(name string, kind ExternalKind, index uint32) {
	b.exportBuf = append(b.exportBuf, encodeName(name)...)
	b.exportBuf = append(b.exportBuf, byte(kind))
	b.exportBuf = append(b.exportBuf, leb128.EncodeUint32(index)...)
	b.exportCount++
}

// AddData appends an active data segment targeting memory 0 at a
// constant offset.
func (b *ModuleBuilder) AddData(offsetExpr []byte, bytes []byte) {
	b.dataBuf = append(b.dataBuf, leb128.EncodeUint32(0)...) // memory index 0
	b.dataBuf = append(b.dataBuf, offsetExpr...)
	b.dataBuf = append(b.dataBuf, leb128.EncodeUint32(uint32(len(bytes)))...)
	b.dataBuf = append(b.dataBuf, bytes...)
	b.dataCount++
}

// SetStart marks a function index as the module's start function.
func (b *ModuleBuilder) SetStart(funcIdx uint32) {
	b.startFunc = funcIdx
	b.hasStartFunc = true
}

// ConstI32Expr encodes a constant i32 initializer expression: i32.const
// N, end.
func ConstI32Expr(v int32) []byte {
	expr := []byte{byte(OpI32Const)}
	expr = append(expr, leb128.EncodeInt32(v)...)
	expr = append(expr, byte(OpEnd))
	return expr
}

func encodeName(s string) []byte {
	buf := leb128.EncodeUint32(uint32(len(s)))
	return append(buf, []byte(s)...)
}

func encodeSection(id SectionID, count uint32, body []byte) []byte {
	var payload []byte
	if count > 0 || len(body) > 0 {
		payload = append(leb128.EncodeUint32(count), body...)
	} else {
		return nil
	}
	out := []byte{byte(id)}
	out = append(out, leb128.EncodeUint32(uint32(len(payload)))...)
	return append(out, payload...)
}

// Build linearizes every section into a complete WebAssembly 1.0 binary,
// in the section order the spec mandates (spec.md §4.7): type, import,
// function, table, memory, global, export, start, element, code, data.
func (b *ModuleBuilder) Build() []byte {
	out := make([]byte, 0, 4096)
	out = append(out, 0x00, 0x61, 0x73, 0x6d) // "\0asm"
	out = append(out, 0x01, 0x00, 0x00, 0x00) // version 1

	// Type section.
	var typeBody []byte
	for _, ft := range b.types {
		typeBody = append(typeBody, 0x60)
		typeBody = append(typeBody, leb128.EncodeUint32(uint32(len(ft.Params)))...)
		for _, p := range ft.Params {
			typeBody = append(typeBody, byte(p))
		}
		typeBody = append(typeBody, leb128.EncodeUint32(uint32(len(ft.Results)))...)
		for _, r := range ft.Results {
			typeBody = append(typeBody, byte(r))
		}
	}
	out = append(out, encodeSection(SectionType, uint32(len(b.types)), typeBody)...)

	out = append(out, encodeSection(SectionImport, b.importCount, b.importBuf)...)

	var funcBody []byte
	for _, t := range b.funcTypes {
		funcBody = append(funcBody, leb128.EncodeUint32(t)...)
	}
	out = append(out, encodeSection(SectionFunction, uint32(len(b.funcTypes)), funcBody)...)

	if b.hasMemory {
		var memBody []byte
		if b.memHasMax {
			memBody = append(memBody, 0x01)
			memBody = append(memBody, leb128.EncodeUint32(b.memMin)...)
			memBody = append(memBody, leb128.EncodeUint32(b.memMax)...)
		} else {
			memBody = append(memBody, 0x00)
			memBody = append(memBody, leb128.EncodeUint32(b.memMin)...)
		}
		out = append(out, encodeSection(SectionMemory, 1, memBody)...)
	}

	out = append(out, encodeSection(SectionGlobal, b.globalCount, b.globalBuf)...)
	out = append(out, encodeSection(SectionExport, b.exportCount, b.exportBuf)...)

	if b.hasStartFunc {
		payload := leb128.EncodeUint32(b.startFunc)
		out = append(out, byte(SectionStart))
		out = append(out, leb128.EncodeUint32(uint32(len(payload)))...)
		out = append(out, payload...)
	}

	out = append(out, encodeSection(SectionCode, b.codeCount, b.codeBuf)...)
	out = append(out, encodeSection(SectionData, b.dataCount, b.dataBuf)...)

	return out
}

package wasm

import (
	"fmt"

	"github.com/gogpu/naga/ir"
)

// Result is the artifact one Compile call produces (spec.md §6):
// the assembled binary, optional debug byte buffers, the exported entry
// point function indices, and the concrete linear memory layout the host
// needs to drive the module.
type Result struct {
	WasmBytes    []byte
	DwarfBytes   []byte // nil unless Options.DebugInfo
	SourceMapJS  []byte // nil unless Options.DebugInfo
	EntryPoints  map[string]uint32
	MemoryLayout MemoryLayout

	// GlobalOffsets maps every named global variable to the address a
	// host must read/write to drive it: a linear-memory offset for every
	// address space except SpaceHandle, or the resource-table id a host
	// texture/sampler binding occupies for SpaceHandle globals. This is
	// the concrete "uniform name -> wire offset" half of the memory_layout
	// contract (spec.md §6) that MemoryLayout's fixed regions don't cover
	// on their own.
	GlobalOffsets map[string]uint32
}

// MemoryLayout is the host-facing view of a compiled module's linear
// memory regions (spec.md §6: "the host obtains the concrete offsets
// from memory_layout in the compile result").
type MemoryLayout struct {
	ReservedSize uint32

	AttributeBase    uint32
	VaryingBase      uint32
	PositionAddr     uint32
	ColorOutBase     uint32
	DepthAddr        uint32
	DiscardAddr      uint32
	WorkgroupBase    uint32
	WorkgroupSize    uint32

	FrameBase uint32
	FrameTop  uint32
	HeapBase  uint32
	TotalSize uint32
	Pages     uint32
}

// Backend translates an IR module to a standalone WebAssembly module
// (spec.md §6), built the way spirv.Backend is built: one Backend per
// Compile call, a ModuleBuilder assembling sections incrementally, and
// per-function lowering delegated to a fresh lowerer.
type Backend struct {
	options Options
}

// NewBackend creates a WebAssembly backend with the given options.
func NewBackend(options Options) *Backend {
	return &Backend{options: options}
}

// frameSPName is the export/global name the generated module's frame
// stack pointer is known by (spec.md §6: "Exports: memory; ...;
// FRAME_SP (global, mutable i32)").
const frameSPName = "FRAME_SP"

// Compile lowers an IR module to a WebAssembly binary, phase-ordered the
// way spirv.Backend.Compile is: layout, preparation, per-function
// lowering, then section assembly (spec.md §2's component order).
func (b *Backend) Compile(module *ir.Module) (Result, error) {
	layouts := NewLayoutTable(module)

	if err := validateResourceBindings(module); err != nil {
		return Result{}, err
	}

	gl, err := newGlobalLayout(module, layouts)
	if err != nil {
		return Result{}, err
	}

	registry, err := prepModule(module, layouts)
	if err != nil {
		return Result{}, err
	}

	builder := NewModuleBuilder()
	builder.SetMemory(gl.pages(), 0, false)

	frameSPGlobal := builder.AddGlobal(ValI32, Mutable, ConstI32Expr(int32(gl.frameTop)))
	builder.AddExport(frameSPName, ExternalGlobal, frameSPGlobal)
	builder.AddExport("memory", ExternalMemory, 0)

	hostFuncs, err := declareHostImports(module, builder)
	if err != nil {
		return Result{}, err
	}

	funcIndex := declareFunctions(module, registry, builder)

	entryContracts := make(map[string]stageContract, len(module.EntryPoints))
	entryPointIndex := make(map[string]uint32, len(module.EntryPoints))
	for i := range module.EntryPoints {
		ep := &module.EntryPoints[i]
		table, err := buildBindingTable(module, ep)
		if err != nil {
			return Result{}, err
		}
		contract, err := buildStageContract(module, layouts, ep, table, gl)
		if err != nil {
			return Result{}, err
		}
		entryContracts[ep.Name] = contract

		ft := FuncType{Params: contract.wasmParams}
		typeIdx := builder.AddFuncType(ft)
		idx := builder.DeclareFunction(typeIdx)
		entryPointIndex[ep.Name] = idx
		builder.AddExport(ep.Name, ExternalFunction, idx)
	}

	var funcs []debugFuncSource

	for i := range module.Functions {
		handle := ir.FunctionHandle(i)
		fn := &module.Functions[i]
		manifest, _ := registry.Lookup(InternalFunctionKey(handle))

		lw := newLowerer(module, fn, layouts, gl, manifest.ABI, hostFuncs)
		lw.registry = registry
		lw.funcIndex = funcIndex
		lw.frameSPGlobal = frameSPGlobal
		if err := lw.lowerBody(manifest); err != nil {
			return Result{}, fmt.Errorf("function %q: %w", fn.Name, err)
		}

		locals := localEntriesFor(lw)
		codeOffset := builder.CodeSectionOffset()
		builder.AddCode(locals, lw.code)
		funcs = append(funcs, debugFuncSource{name: fn.Name, line: uint32(i) + 1, codeOffset: codeOffset})
	}

	for i := range module.EntryPoints {
		ep := &module.EntryPoints[i]
		fn := &module.Functions[ep.Function]
		manifest, _ := registry.Lookup(EntryPointKey(ep.Name))
		contract := entryContracts[ep.Name]

		lw := newEntryLowerer(module, fn, layouts, gl, contract, hostFuncs, registry)
		lw.funcIndex = funcIndex
		lw.frameSPGlobal = frameSPGlobal
		if err := lw.lowerBody(manifest); err != nil {
			return Result{}, fmt.Errorf("entry point %q: %w", ep.Name, err)
		}

		locals := localEntriesFor(lw)
		codeOffset := builder.CodeSectionOffset()
		builder.AddCode(locals, lw.code)
		funcs = append(funcs, debugFuncSource{name: ep.Name, line: uint32(len(module.Functions) + i) + 1, codeOffset: codeOffset})
	}

	wasmBytes := builder.Build()

	globalOffsets := make(map[string]uint32, len(module.GlobalVariables))
	for i := range module.GlobalVariables {
		gv := &module.GlobalVariables[i]
		if gv.Name == "" {
			continue
		}
		if addr, ok := gl.addressOf(ir.GlobalVariableHandle(i)); ok {
			globalOffsets[gv.Name] = addr
		}
	}

	result := Result{
		WasmBytes:     wasmBytes,
		EntryPoints:   entryPointIndex,
		GlobalOffsets: globalOffsets,
		MemoryLayout: MemoryLayout{
			ReservedSize:  reservedRegionSize,
			AttributeBase: gl.attributeBase,
			VaryingBase:   gl.varyingBase,
			PositionAddr:  gl.positionAddr,
			ColorOutBase:  gl.colorOutBase,
			DepthAddr:     gl.depthAddr,
			DiscardAddr:   gl.discardAddr,
			WorkgroupBase: gl.workgroupBase,
			WorkgroupSize: gl.workgroupSize,
			FrameBase:     gl.frameBase,
			FrameTop:      gl.frameTop,
			HeapBase:      gl.heapBase,
			TotalSize:     gl.totalSize,
			Pages:         gl.pages(),
		},
	}

	if b.options.DebugInfo {
		dwarf, stub, err := emitDebugInfo(funcs)
		if err != nil {
			return Result{}, err
		}
		result.DwarfBytes = dwarf
		result.SourceMapJS = stub
	}

	return result, nil
}

// declareHostImports declares exactly the host functions a module
// references, keeping the import section minimal: this backend inspects
// every function body it will lower and only imports "tex_*"/"math_*"/
// "barrier"/"log" names actually reachable, mirroring spirv.Backend's
// practice of only emitting capabilities/extensions a module uses.
func declareHostImports(module *ir.Module, builder *ModuleBuilder) (map[string]uint32, error) {
	needed := collectHostImportNames(module)
	if len(needed) == 0 {
		return map[string]uint32{}, nil
	}

	byName := make(map[string]hostImport, len(hostImports))
	for _, hi := range hostImports {
		byName[hi.Name] = hi
	}

	resolved := make(map[string]uint32, len(needed))
	for _, name := range hostImportOrder {
		if !needed[name] {
			continue
		}
		hi, ok := byName[name]
		if !ok {
			return nil, newError(ErrInternalInvariantViolated, "unknown host import: "+name)
		}
		typeIdx := builder.AddFuncType(FuncType{Params: hi.Params, Results: hi.Results})
		resolved[name] = builder.AddImportFunction("env", name, typeIdx)
	}
	return resolved, nil
}

// hostImportOrder fixes the declaration order of host imports so two
// compiles of the same module produce byte-identical import sections
// regardless of map iteration order (spec.md §8's determinism
// invariant).
var hostImportOrder = func() []string {
	names := make([]string, len(hostImports))
	for i, hi := range hostImports {
		names[i] = hi.Name
	}
	return names
}()

// collectHostImportNames walks every function and entry point body for
// constructs that lower to an imported host call: texture sampling/
// query, barriers, and math functions with no native wasm opcode.
func collectHostImportNames(module *ir.Module) map[string]bool {
	needed := make(map[string]bool)
	for i := range module.Functions {
		fn := &module.Functions[i]
		for _, expr := range fn.Expressions {
			switch k := expr.Kind.(type) {
			case ir.ExprImageSample:
				needed["tex_sample"] = true
			case ir.ExprImageLoad:
				needed["tex_load"] = true
			case ir.ExprImageQuery:
				needed["tex_query"] = true
			case ir.ExprMath:
				if name, ok := hostMathIntrinsic(k.Fun); ok {
					needed[name] = true
				}
			}
		}
		walkStatementsForBarrier(fn.Body, needed)
	}
	return needed
}

func walkStatementsForBarrier(stmts []ir.Statement, needed map[string]bool) {
	for _, stmt := range stmts {
		switch k := stmt.Kind.(type) {
		case ir.StmtBarrier:
			needed["barrier"] = true
		case ir.StmtBlock:
			walkStatementsForBarrier(k.Block, needed)
		case ir.StmtIf:
			walkStatementsForBarrier(k.Accept, needed)
			walkStatementsForBarrier(k.Reject, needed)
		case ir.StmtSwitch:
			for _, c := range k.Cases {
				walkStatementsForBarrier(c.Body, needed)
			}
		case ir.StmtLoop:
			walkStatementsForBarrier(k.Body, needed)
			walkStatementsForBarrier(k.Continuing, needed)
		}
	}
}

// declareFunctions reserves a wasm function index and type for every
// internal function up front, in module declaration order, so forward
// calls (a function calling one declared later in the module) resolve
// correctly: funcIndex is fully populated before any body is lowered.
func declareFunctions(module *ir.Module, registry *FunctionRegistry, builder *ModuleBuilder) map[ir.FunctionHandle]uint32 {
	funcIndex := make(map[ir.FunctionHandle]uint32, len(module.Functions))

	for i := range module.Functions {
		handle := ir.FunctionHandle(i)
		manifest, _ := registry.Lookup(InternalFunctionKey(handle))
		ft := wasmFuncType(manifest.ABI)
		tIdx := builder.AddFuncType(ft)
		funcIndex[handle] = builder.DeclareFunction(tIdx)
	}
	return funcIndex
}

// wasmFuncType derives an internal function's external wasm signature
// from its ABI: a leading i32 sret parameter if the result is composite,
// then one parameter per ABI passing convention, and a single result
// value only for a register result (sret and void both export zero
// results, per spec.md §4.2).
func wasmFuncType(abi FunctionABI) FuncType {
	var ft FuncType
	if abi.Sret != nil {
		ft.Params = append(ft.Params, ValI32)
	}
	for _, p := range abi.Params {
		switch pp := p.(type) {
		case PassRegister:
			ft.Params = append(ft.Params, pp.ValType)
		case PassPointerInCallerFrame:
			ft.Params = append(ft.Params, ValI32)
		}
	}
	if reg, ok := abi.Result.(PassRegister); ok {
		ft.Results = []ValType{reg.ValType}
	}
	return ft
}

// localEntriesFor run-length-encodes a lowerer's extra (non-parameter)
// locals into the Wasm function-body locals vector.
func localEntriesFor(lw *lowerer) []LocalEntry {
	if len(lw.extraLocals) == 0 {
		return nil
	}
	var entries []LocalEntry
	for _, vt := range lw.extraLocals {
		if n := len(entries); n > 0 && entries[n-1].ValType == vt {
			entries[n-1].Count++
			continue
		}
		entries = append(entries, LocalEntry{Count: 1, ValType: vt})
	}
	return entries
}

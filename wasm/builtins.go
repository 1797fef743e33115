package wasm

import (
	"fmt"

	"github.com/gogpu/naga/ir"
)

// reservedRegionSize is the fixed error/trap area at the bottom of linear
// memory (spec.md §3, §6: "[reserved(0..64) | globals | frame_region |
// heap]").
const reservedRegionSize = 64

// frameRegionSize and heapRegionSize size the two regions that follow
// global storage. Both are fixed capacities rather than grown on demand:
// the managed frame region is a bump/pop stack whose maximum depth this
// backend does not attempt to bound statically (spec.md leaves the exact
// capacity implementation-defined). The heap region is reserved after the
// frame region and reported as MemoryLayout.HeapBase; no code in this
// package reads or writes it.
const (
	frameRegionSize = 64 * 1024
	heapRegionSize  = 64 * 1024
	wasmPageSize    = 65536
)

// maxIOLocations bounds the @location indices a stage contract addresses;
// ioSlotSize is sized for the worst case (a vec4<f32> varying/attribute),
// so every location gets a fixed slot regardless of its actual type.
const (
	maxIOLocations     = 8
	ioSlotSize         = 16
	builtinScratchSlot = 16
)

// builtinScratchOrder fixes the offset of every builtin this backend wires
// through the zero-initialized scratch region rather than a real wasm
// parameter (spec.md §4.6: "other compute builtins... read from a
// documented scratch address", generalized here to the analogous
// fragment-stage builtins). Linear memory starts zero-initialized per the
// WebAssembly spec, so no explicit init code is needed to make these read
// as zero; a real shader pipeline would have its host populate them before
// calling in, which this backend does not attempt.
var builtinScratchOrder = []ir.BuiltinValue{
	ir.BuiltinLocalInvocationID,
	ir.BuiltinGlobalInvocationID,
	ir.BuiltinWorkGroupID,
	ir.BuiltinNumWorkGroups,
	ir.BuiltinFrontFacing,
	ir.BuiltinSampleIndex,
	ir.BuiltinSampleMask,
	ir.BuiltinInstanceIndex,
}

func builtinScratchOffset(b ir.BuiltinValue) (uint32, bool) {
	for i, candidate := range builtinScratchOrder {
		if candidate == b {
			return uint32(i) * builtinScratchSlot, true
		}
	}
	return 0, false
}

// globalLayout assigns every module-scope global variable its address (or,
// for handle-space globals, its host resource-table id), and fixes the
// boundaries of the module's linear memory regions (spec.md §3's
// module-linear memory layout, §4.6's dedicated workgroup region).
//
// Handle-space globals (textures, samplers) never occupy linear memory:
// they are represented the same way a register-resident expression is,
// as a small integer the host-side resource table indexes by (spec.md
// §4.6's "texture handle id").
type globalLayout struct {
	offsets  map[ir.GlobalVariableHandle]uint32
	isHandle map[ir.GlobalVariableHandle]bool

	workgroupBase uint32
	workgroupSize uint32

	// I/O regions backing stage contracts (spec.md §4.2, §4.6): every
	// entry point's non-parameter inputs/outputs read and write fixed
	// absolute addresses here rather than using the general ABI, since
	// entry points ignore their IR function signature's calling
	// convention entirely.
	attributeBase      uint32 // vertex attributes, one ioSlotSize slot per @location
	varyingBase         uint32 // vertex-output / fragment-input varyings, by @location
	positionAddr        uint32 // the builtin(position) varying, outside the @location space
	colorOutBase         uint32 // fragment color outputs, one slot per @location
	depthAddr            uint32 // @builtin(frag_depth) output
	discardAddr          uint32 // set non-zero by a kill statement
	builtinScratchBase   uint32 // zero-initialized scratch for builtinScratchOrder

	frameBase uint32 // lowest address FRAME_SP may reach
	frameTop  uint32 // initial FRAME_SP value; also where the heap begins
	heapBase  uint32
	totalSize uint32
}

// newGlobalLayout walks a module's global variables in declaration order,
// grounded on the layout engine's own offset-accumulation rules
// (wasm/layout.go's structLayout), generalized from struct fields to
// module-scope globals with workgroup-space variables segregated into
// their own contiguous sub-region.
func newGlobalLayout(module *ir.Module, layouts *LayoutTable) (*globalLayout, error) {
	regularSize, workgroupSize, err := sizeGlobalRegions(module, layouts)
	if err != nil {
		return nil, err
	}

	gl := &globalLayout{
		offsets:  make(map[ir.GlobalVariableHandle]uint32, len(module.GlobalVariables)),
		isHandle: make(map[ir.GlobalVariableHandle]bool, len(module.GlobalVariables)),
	}
	gl.workgroupBase = alignUp(reservedRegionSize+regularSize, 16)
	gl.workgroupSize = workgroupSize

	gl.attributeBase = alignUp(gl.workgroupBase+workgroupSize, 16)
	gl.varyingBase = gl.attributeBase + maxIOLocations*ioSlotSize
	gl.positionAddr = gl.varyingBase + maxIOLocations*ioSlotSize
	gl.colorOutBase = gl.positionAddr + ioSlotSize
	gl.depthAddr = gl.colorOutBase + maxIOLocations*ioSlotSize
	gl.discardAddr = gl.depthAddr + 4
	gl.builtinScratchBase = alignUp(gl.discardAddr+4, 16)
	ioRegionEnd := gl.builtinScratchBase + uint32(len(builtinScratchOrder))*builtinScratchSlot

	gl.frameBase = alignUp(ioRegionEnd, 16)
	gl.frameTop = gl.frameBase + frameRegionSize
	gl.heapBase = gl.frameTop
	gl.totalSize = gl.heapBase + heapRegionSize

	regularCursor := uint32(reservedRegionSize)
	workgroupCursor := gl.workgroupBase
	var nextHandle uint32

	for i := range module.GlobalVariables {
		gv := &module.GlobalVariables[i]
		h := ir.GlobalVariableHandle(i)

		if gv.Space == ir.SpaceHandle {
			gl.offsets[h] = nextHandle
			gl.isHandle[h] = true
			nextHandle++
			continue
		}

		l, err := layouts.LayoutOf(gv.Type)
		if err != nil {
			return nil, fromLayoutError(err)
		}

		if gv.Space == ir.SpaceWorkGroup {
			workgroupCursor = alignUp(workgroupCursor, l.AlignBytes)
			gl.offsets[h] = workgroupCursor
			workgroupCursor += l.SizeBytes
			continue
		}

		regularCursor = alignUp(regularCursor, l.AlignBytes)
		gl.offsets[h] = regularCursor
		regularCursor += l.SizeBytes
	}

	return gl, nil
}

func sizeGlobalRegions(module *ir.Module, layouts *LayoutTable) (regular, workgroup uint32, err error) {
	for i := range module.GlobalVariables {
		gv := &module.GlobalVariables[i]
		if gv.Space == ir.SpaceHandle {
			continue
		}
		l, lerr := layouts.LayoutOf(gv.Type)
		if lerr != nil {
			return 0, 0, fromLayoutError(lerr)
		}
		if gv.Space == ir.SpaceWorkGroup {
			workgroup = alignUp(workgroup, l.AlignBytes) + l.SizeBytes
		} else {
			regular = alignUp(regular, l.AlignBytes) + l.SizeBytes
		}
	}
	return regular, workgroup, nil
}

// addressOf returns the value expression lowering should push for a
// reference to this global: an absolute linear-memory address for every
// address space except SpaceHandle, or a host resource-table id for
// SpaceHandle globals. Both are plain i32 constants from the lowerer's
// point of view, so lowerGlobalVariable does not need to distinguish them.
func (gl *globalLayout) addressOf(h ir.GlobalVariableHandle) (uint32, bool) {
	addr, ok := gl.offsets[h]
	return addr, ok
}

// pages returns the number of 64KiB WebAssembly memory pages needed to
// back this layout's total footprint.
func (gl *globalLayout) pages() uint32 {
	return (gl.totalSize + wasmPageSize - 1) / wasmPageSize
}

// ioSlot is one entry of an entry point's binding table (spec.md §3):
// a varying, attribute, or uniform name together with its wire location
// or builtin tag.
type ioSlot struct {
	Name       string
	Builtin    *ir.BuiltinValue
	Location   uint32
	HasLoc     bool
	TypeHandle ir.TypeHandle
}

// bindingTable is the per-entry-point view over ir.Binding fields that
// Open Question decision #1 (DESIGN.md) models instead of a separate
// side-channel map: built once per entry point by walking Arguments and
// Result the same way spirv.backend's emitEntryPointInterfaceVars does.
type bindingTable struct {
	Inputs  []ioSlot // attributes (vertex) or varyings-in (fragment)
	Outputs []ioSlot // varyings-out (vertex) or color/depth outputs (fragment)
}

// buildBindingTable constructs and validates the binding table for one
// entry point, raising the binding-incomplete error kinds spec.md §4.6
// names (AttributeHasNoLocation for vertex inputs, VaryingHasNoLocation
// for everything else) for any non-builtin slot lacking a location.
func buildBindingTable(module *ir.Module, ep *ir.EntryPoint) (bindingTable, error) {
	fn := &module.Functions[ep.Function]

	var inputErr ErrorKind = ErrVaryingHasNoLocation
	if ep.Stage == ir.StageVertex {
		inputErr = ErrAttributeHasNoLocation
	}

	var table bindingTable
	for i, arg := range fn.Arguments {
		slots, err := collectBindingSlots(module, arg.Type, arg.Binding)
		if err != nil {
			return bindingTable{}, err
		}
		for _, s := range slots {
			if s.Builtin == nil && !s.HasLoc {
				name := s.Name
				if name == "" {
					name = fmt.Sprintf("%s.arg%d", fn.Name, i)
				}
				return bindingTable{}, newNamedError(inputErr, name, "missing @location binding")
			}
			table.Inputs = append(table.Inputs, s)
		}
	}

	if fn.Result != nil {
		slots, err := collectBindingSlots(module, fn.Result.Type, fn.Result.Binding)
		if err != nil {
			return bindingTable{}, err
		}
		for _, s := range slots {
			if s.Builtin == nil && !s.HasLoc {
				name := s.Name
				if name == "" {
					name = fn.Name + ".result"
				}
				return bindingTable{}, newNamedError(ErrVaryingHasNoLocation, name, "missing @location binding")
			}
			table.Outputs = append(table.Outputs, s)
		}
	}

	return table, nil
}

// collectBindingSlots expands one IR binding site into its constituent
// slots: a struct-typed site contributes one slot per member (each with
// its own Binding), matching the WGSL convention of a struct-of-fields
// entry-point interface; any other type contributes the single slot
// described by the site's own Binding.
func collectBindingSlots(module *ir.Module, typeHandle ir.TypeHandle, siteBinding *ir.Binding) ([]ioSlot, error) {
	if st, ok := module.Types[typeHandle].Inner.(ir.StructType); ok {
		slots := make([]ioSlot, len(st.Members))
		for i, m := range st.Members {
			slots[i] = slotFromBinding(m.Name, m.Type, m.Binding)
		}
		return slots, nil
	}
	return []ioSlot{slotFromBinding("", typeHandle, siteBinding)}, nil
}

func slotFromBinding(name string, typeHandle ir.TypeHandle, binding *ir.Binding) ioSlot {
	slot := ioSlot{Name: name, TypeHandle: typeHandle}
	if binding == nil {
		return slot
	}
	switch b := (*binding).(type) {
	case ir.BuiltinBinding:
		builtin := b.Builtin
		slot.Builtin = &builtin
	case ir.LocationBinding:
		slot.Location = b.Location
		slot.HasLoc = true
	}
	return slot
}

// validateResourceBindings checks that every uniform/storage global has
// an assigned wire binding (spec.md §4.6, §7's UniformHasNoBinding).
// Push-constant and private/function-space globals carry no wire
// binding by construction and are skipped.
func validateResourceBindings(module *ir.Module) error {
	for i := range module.GlobalVariables {
		gv := &module.GlobalVariables[i]
		if gv.Space != ir.SpaceUniform && gv.Space != ir.SpaceStorage {
			continue
		}
		if gv.Binding == nil {
			return newNamedError(ErrUniformHasNoBinding, gv.Name, "missing @group/@binding")
		}
	}
	return nil
}

// entrySlot describes how one of an entry point's ir.FunctionArgument
// values is sourced, since entry points ignore the general ABI entirely
// and read from the stage contract instead (spec.md §4.2): either the
// one real wasm parameter a stage exposes (vertex index, flattened
// compute invocation id), or a fixed memory address (an attribute, a
// varying, or a zero-initialized builtin scratch slot).
type entrySlot struct {
	isParam  bool
	paramIdx uint32

	addr      uint32
	isMemory  bool // true: the slot's value is the address itself (a composite)
	valType   ValType
}

// entryOutSlot describes how one field of an entry point's return value
// is scattered to a fixed output address (spec.md §4.2, §4.6): vertex
// writes position/varyings, fragment writes color/depth.
type entryOutSlot struct {
	addr      uint32
	srcOffset uint32
	size      uint32
	valType   ValType
	isMemory  bool
}

// stageContract is the external wasm signature and fixed I/O addressing
// for one entry point (spec.md §4.2: "entry points ignore their IR
// signature and use the stage contract instead"). Vertex gets one real
// i32 parameter (the vertex index); fragment gets none; compute gets one
// i32 parameter (the flattened local-invocation index).
type stageContract struct {
	wasmParams  []ValType
	inputs      []entrySlot
	outputs     []entryOutSlot
	discardAddr uint32
}

// classifySlot resolves a binding-table slot's IR type to the
// register/composite distinction lowerEntryInput and the output scatter
// path both need.
func classifySlot(layouts *LayoutTable, slot ioSlot) (ValType, bool, error) {
	l, err := layouts.LayoutOf(slot.TypeHandle)
	if err != nil {
		return 0, false, fromLayoutError(err)
	}
	if l.Residency == ResidentRegister {
		return l.ValType, false, nil
	}
	return ValI32, true, nil
}

// buildStageContract assigns every entry-point input/output its stage
// contract slot (spec.md §4.2, §4.6). table must already be validated by
// buildBindingTable.
func buildStageContract(module *ir.Module, layouts *LayoutTable, ep *ir.EntryPoint, table bindingTable, gl *globalLayout) (stageContract, error) {
	var sc stageContract
	sc.discardAddr = gl.discardAddr

	var indexParam *ir.BuiltinValue
	switch ep.Stage {
	case ir.StageVertex:
		b := ir.BuiltinVertexIndex
		indexParam = &b
		sc.wasmParams = []ValType{ValI32}
	case ir.StageCompute:
		b := ir.BuiltinLocalInvocationIndex
		indexParam = &b
		sc.wasmParams = []ValType{ValI32}
	case ir.StageFragment:
		sc.wasmParams = nil
	}

	for _, slot := range table.Inputs {
		vt, isMemory, err := classifySlot(layouts, slot)
		if err != nil {
			return stageContract{}, err
		}
		switch {
		case slot.Builtin != nil && indexParam != nil && *slot.Builtin == *indexParam:
			sc.inputs = append(sc.inputs, entrySlot{isParam: true, paramIdx: 0, valType: ValI32})
		case slot.Builtin != nil && *slot.Builtin == ir.BuiltinPosition:
			sc.inputs = append(sc.inputs, entrySlot{addr: gl.positionAddr, isMemory: true, valType: ValI32})
		case slot.Builtin != nil:
			off, ok := builtinScratchOffset(*slot.Builtin)
			if !ok {
				return stageContract{}, newNamedError(ErrUnsupportedBuiltin, slot.Name, "builtin has no stage-contract slot")
			}
			sc.inputs = append(sc.inputs, entrySlot{addr: gl.builtinScratchBase + off, isMemory: isMemory, valType: vt})
		case ep.Stage == ir.StageVertex:
			addr := gl.attributeBase + slot.Location*ioSlotSize
			sc.inputs = append(sc.inputs, entrySlot{addr: addr, isMemory: isMemory, valType: vt})
		default:
			addr := gl.varyingBase + slot.Location*ioSlotSize
			sc.inputs = append(sc.inputs, entrySlot{addr: addr, isMemory: isMemory, valType: vt})
		}
	}

	// Output slots read from fields of the single value the entry
	// point's body returns. A struct result's fields sit at the
	// offsets the layout engine already assigned them; a non-struct
	// result is itself the one output field, at offset 0.
	fn := &module.Functions[ep.Function]
	var srcOffsets []uint32
	if fn.Result != nil {
		if _, ok := module.Types[fn.Result.Type].Inner.(ir.StructType); ok {
			resLayout, err := layouts.LayoutOf(fn.Result.Type)
			if err != nil {
				return stageContract{}, fromLayoutError(err)
			}
			srcOffsets = resLayout.FieldOffsets
		} else {
			srcOffsets = []uint32{0}
		}
	}

	for i, slot := range table.Outputs {
		vt, isMemory, err := classifySlot(layouts, slot)
		if err != nil {
			return stageContract{}, err
		}
		l, err := layouts.LayoutOf(slot.TypeHandle)
		if err != nil {
			return stageContract{}, fromLayoutError(err)
		}
		var addr uint32
		switch {
		case slot.Builtin != nil && *slot.Builtin == ir.BuiltinPosition:
			addr = gl.positionAddr
		case slot.Builtin != nil && *slot.Builtin == ir.BuiltinFragDepth:
			addr = gl.depthAddr
		case ep.Stage == ir.StageVertex:
			addr = gl.varyingBase + slot.Location*ioSlotSize
		default:
			addr = gl.colorOutBase + slot.Location*ioSlotSize
		}
		var srcOffset uint32
		if i < len(srcOffsets) {
			srcOffset = srcOffsets[i]
		}
		sc.outputs = append(sc.outputs, entryOutSlot{
			addr:      addr,
			srcOffset: srcOffset,
			size:      l.SizeBytes,
			valType:   vt,
			isMemory:  isMemory,
		})
	}

	return sc, nil
}

// hostImport describes one imported host function's stable wasm
// signature (spec.md §6: "host log, texture-sample family, workgroup
// barrier, math intrinsics when not inlinable"). All imports live in
// the "env" module, mirroring the webgl2_context host boundary these
// shaders ultimately run against.
type hostImport struct {
	Name    string
	Params  []ValType
	Results []ValType
}

// hostImports is the fixed table of host functions a compiled module may
// import. backend.go declares exactly the subset a module actually
// references; unused imports are never added, keeping the import
// section minimal per module.
var hostImports = []hostImport{
	{Name: "log", Params: []ValType{ValI32, ValI32}},
	{Name: "tex_sample", Params: []ValType{ValI32, ValF32, ValF32, ValF32, ValI32}},
	{Name: "tex_load", Params: []ValType{ValI32, ValI32, ValI32, ValI32}},
	{Name: "tex_query", Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}},
	{Name: "barrier", Params: []ValType{ValI32}},
	{Name: "math_sin", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
	{Name: "math_cos", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
	{Name: "math_tan", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
	{Name: "math_asin", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
	{Name: "math_acos", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
	{Name: "math_atan", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
	{Name: "math_atan2", Params: []ValType{ValF32, ValF32}, Results: []ValType{ValF32}},
	{Name: "math_exp", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
	{Name: "math_exp2", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
	{Name: "math_log", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
	{Name: "math_log2", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
	{Name: "math_pow", Params: []ValType{ValF32, ValF32}, Results: []ValType{ValF32}},
	{Name: "math_inverse_sqrt", Params: []ValType{ValF32}, Results: []ValType{ValF32}},
}

// hostMathIntrinsic maps a math function that has no native wasm
// opcode to its imported host function name (spec.md §6's "math
// intrinsics when not inlinable"). Functions with a native opcode
// (sqrt, abs, floor, ceil, min, max, ...) are never listed here; they
// are handled directly in lowerMath.
func hostMathIntrinsic(fn ir.MathFunction) (string, bool) {
	switch fn {
	case ir.MathSin:
		return "math_sin", true
	case ir.MathCos:
		return "math_cos", true
	case ir.MathTan:
		return "math_tan", true
	case ir.MathAsin:
		return "math_asin", true
	case ir.MathAcos:
		return "math_acos", true
	case ir.MathAtan:
		return "math_atan", true
	case ir.MathAtan2:
		return "math_atan2", true
	case ir.MathExp:
		return "math_exp", true
	case ir.MathExp2:
		return "math_exp2", true
	case ir.MathLog:
		return "math_log", true
	case ir.MathLog2:
		return "math_log2", true
	case ir.MathPow:
		return "math_pow", true
	case ir.MathInverseSqrt:
		return "math_inverse_sqrt", true
	default:
		return "", false
	}
}

// lowerMathIntrinsic pushes a math function's operands and calls the
// imported host implementation, for functions with no native wasm
// opcode (spec.md §6).
func (lw *lowerer) lowerMathIntrinsic(h ir.ExpressionHandle, k ir.ExprMath, name string) error {
	if err := lw.get(k.Arg); err != nil {
		return err
	}
	if k.Arg1 != nil {
		if err := lw.get(*k.Arg1); err != nil {
			return err
		}
	}
	if err := lw.callHost(name); err != nil {
		return err
	}
	lw.define(h, ValF32)
	return nil
}

// imageResultLayout is the fixed vec4<f32> layout texture sample/load
// results are materialized into: a 16-byte, 16-byte-aligned frame slot,
// matching a host-provided rgba texel regardless of the source image's
// actual channel count (spec.md §4.6's stable sampling signature).
var imageResultLayout = Layout{SizeBytes: 16, AlignBytes: 16, Residency: ResidentMemory, LaneCount: 4}

// lowerImageSample lowers a texture sample to a call into the imported
// "tex_sample" host function: the host resolves filtering/wrapping and
// writes an rgba f32 texel into the out-slot this function reserves
// (spec.md §4.6: "stable signature (texture handle id, u/v, level/bias,
// out-slot pointer)").
func (lw *lowerer) lowerImageSample(h ir.ExpressionHandle, k ir.ExprImageSample) error {
	if err := lw.get(k.Image); err != nil {
		return err
	}
	if err := lw.get(k.Coordinate); err != nil {
		return err
	}
	// The coordinate is itself a vec2 frame address; texture filtering
	// needs the u/v scalars, so load them back out rather than threading
	// lane extraction through the general access-index path.
	uvAddr := lw.newLocal(ValI32)
	lw.localSet(uvAddr)
	lw.localGet(uvAddr)
	lw.emitOp(OpF32Load)
	lw.memArg(2, 0)
	lw.localGet(uvAddr)
	lw.emitOp(OpF32Load)
	lw.memArg(2, 4)

	if err := lw.pushSampleLevel(k.Level); err != nil {
		return err
	}

	outAddr := lw.reserveFrameSlot(imageResultLayout)
	lw.frameAddr(outAddr)
	if err := lw.callHost("tex_sample"); err != nil {
		return err
	}
	lw.frameAddr(outAddr)
	lw.define(h, ValI32)
	return nil
}

// pushSampleLevel pushes the f32 level-of-detail argument tex_sample
// expects, collapsing every SampleLevel variant to a single scalar: an
// explicit level or bias evaluates to its own value, gradient sampling
// (which has no single scalar LOD) falls back to automatic level 0,
// documented here as a simplification alongside the derivative stub.
func (lw *lowerer) pushSampleLevel(level ir.SampleLevel) error {
	switch lv := level.(type) {
	case ir.SampleLevelExact:
		return lw.get(lv.Level)
	case ir.SampleLevelBias:
		return lw.get(lv.Bias)
	default:
		lw.emitOp(OpF32Const)
		lw.emitF32(0)
		return nil
	}
}

// lowerImageLoad lowers a texel fetch to the imported "tex_load" host
// function, writing the resulting rgba f32 texel into a reserved slot.
func (lw *lowerer) lowerImageLoad(h ir.ExpressionHandle, k ir.ExprImageLoad) error {
	if err := lw.get(k.Image); err != nil {
		return err
	}
	if err := lw.get(k.Coordinate); err != nil {
		return err
	}
	coordAddr := lw.newLocal(ValI32)
	lw.localSet(coordAddr)
	lw.localGet(coordAddr)
	lw.emitOp(OpI32Load)
	lw.memArg(2, 0)
	lw.localGet(coordAddr)
	lw.emitOp(OpI32Load)
	lw.memArg(2, 4)

	outAddr := lw.reserveFrameSlot(imageResultLayout)
	lw.frameAddr(outAddr)
	if err := lw.callHost("tex_load"); err != nil {
		return err
	}
	lw.frameAddr(outAddr)
	lw.define(h, ValI32)
	return nil
}

// Image query kind tags passed to the imported "tex_query" host
// function's second argument.
const (
	texQuerySize       = 0
	texQueryNumLevels  = 1
	texQueryNumLayers  = 2
	texQueryNumSamples = 3
)

// lowerImageQuery lowers a texture metadata query to the imported
// "tex_query" host function, which returns a packed i32 (width in the
// low 16 bits, height in the high 16 bits, for ImageQuerySize; the raw
// count otherwise).
func (lw *lowerer) lowerImageQuery(h ir.ExpressionHandle, k ir.ExprImageQuery) error {
	if err := lw.get(k.Image); err != nil {
		return err
	}
	kind := texQueryNumLevels
	switch k.Query.(type) {
	case ir.ImageQuerySize:
		kind = texQuerySize
	case ir.ImageQueryNumLevels:
		kind = texQueryNumLevels
	case ir.ImageQueryNumLayers:
		kind = texQueryNumLayers
	case ir.ImageQueryNumSamples:
		kind = texQueryNumSamples
	}
	lw.emitOp(OpI32Const)
	lw.emitI32(int32(kind))
	if err := lw.callHost("tex_query"); err != nil {
		return err
	}
	lw.define(h, ValI32)
	return nil
}

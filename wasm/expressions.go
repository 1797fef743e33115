package wasm

import (
	"math"

	"github.com/tetratelabs/wabin/leb128"

	"github.com/gogpu/naga/ir"
)

// exprSlot records where an already-lowered expression's value lives: a
// dedicated wasm local of the given type. Composite (memory-resident)
// expressions are represented the same way as everything else: their
// local holds the i32 address where the value was materialized, never
// the value itself (spec.md §4.4's frame-pointer representation).
type exprSlot struct {
	valType  ValType
	localIdx uint32
}

// lowerer holds the state needed to lower one function's body to wasm
// bytecode. One lowerer is created per function/entry point by backend.go
// and discarded once its code and locals are handed to the
// ModuleBuilder, mirroring spirv.ExpressionEmitter's per-function
// lifetime.
type lowerer struct {
	module  *ir.Module
	fn      *ir.Function
	layouts *LayoutTable
	globals *globalLayout
	abi     FunctionABI

	paramLocalCount uint32 // wasm params: hidden sret (if any) + declared args
	extraLocals     []ValType
	nextLocal       uint32

	exprSlots map[ir.ExpressionHandle]exprSlot
	localVars []localVarSlot // parallel to fn.LocalVars

	code []byte

	// funcIndex resolves a callee to its final wasm function index;
	// populated by the backend before any body is lowered, so forward
	// references to functions declared later in the module still work.
	funcIndex map[ir.FunctionHandle]uint32

	// hostFuncs resolves an imported host function's stable name (see
	// builtins.go's hostImports table) to its wasm function index.
	hostFuncs map[string]uint32

	// frameBaseLocal is the wasm local holding this call's frame base
	// address: FRAME_SP's value on entry, after the prologue subtracts
	// FrameSize from it. It is only known at runtime, since FRAME_SP
	// varies with call depth; every frame-relative address is computed
	// from it via frameAddr rather than baked in as a constant.
	frameBaseLocal uint32

	// localVarRegion is the byte offset, relative to frameBase, just past
	// this function's declared (memory-resident) local variables, which
	// start at offset 0; anonymous expression temporaries are bump
	// allocated from there via tempOffset.
	localVarRegion uint32
	tempOffset     uint32

	// entryInputs/entryOutputs are non-nil exactly when lowering an
	// entry point's body: fn.Arguments and fn.Result are then sourced
	// from and scattered to the stage contract's fixed addresses
	// (builtins.go) instead of the general ABI (spec.md §4.2).
	entryInputs  []entrySlot
	entryOutputs []entryOutSlot

	// registry resolves a callee's Manifest (ABI + frame size) for
	// StmtCall lowering; populated by the backend once prepModule has
	// run over the whole module.
	registry *FunctionRegistry

	// frameSPGlobal is the wasm global index of FRAME_SP, the module's
	// downward-growing frame stack pointer (spec.md §4.5). The prologue
	// subtracts this function's Manifest.FrameSize from it into
	// frameBaseLocal; every return/kill site restores it by adding the
	// same FrameSize back.
	frameSPGlobal uint32
	frameSize     uint32

	// outgoingArgBase is the frame offset where this function's shared
	// outgoing-argument region begins: declared locals and anonymous
	// temporaries occupy [0, manifest.LocalFrameSize), and the region
	// every direct call site reuses for sret/composite arguments starts
	// immediately after, at manifest.LocalFrameSize (spec.md §4.3).
	outgoingArgBase uint32

	// discardAddr is the fixed address a StmtKill writes a non-zero
	// discard flag to (spec.md §4.6); only meaningful for entry points.
	discardAddr uint32

	// blockDepth tracks the current wasm structured-control nesting
	// depth, so StmtBreak/StmtContinue can compute a relative br depth
	// to their target without threading an explicit scope parameter
	// through emitStmt (spec.md §4.5). breakStack/continueStack record
	// the depth snapshot at the moment each loop's break/continue
	// target block was opened; the innermost enclosing loop is always
	// the top of both stacks, and a StmtSwitch pushes only a break
	// target (WGSL/GLSL "break" also exits the nearest enclosing
	// switch).
	blockDepth    int
	breakStack    []uint32
	continueStack []uint32
}

// localVarSlot is where one IR local variable lives: either a wasm local
// (register-resident) or a fixed frame offset (memory-resident).
type localVarSlot struct {
	isMemory bool
	localIdx uint32 // valid when !isMemory
	offset   uint32 // valid when isMemory: byte offset from the frame base
	valType  ValType
}

func newLowerer(module *ir.Module, fn *ir.Function, layouts *LayoutTable, globals *globalLayout, abi FunctionABI, hostFuncs map[string]uint32) *lowerer {
	paramCount := uint32(len(abi.Params))
	if abi.Sret != nil {
		paramCount++
	}
	return &lowerer{
		module:          module,
		fn:              fn,
		layouts:         layouts,
		globals:         globals,
		abi:             abi,
		hostFuncs:       hostFuncs,
		paramLocalCount: paramCount,
		nextLocal:       paramCount,
		exprSlots:       make(map[ir.ExpressionHandle]exprSlot, len(fn.Expressions)),
	}
}

// newEntryLowerer creates a lowerer for an entry point's body: it ignores
// the general FunctionABI entirely (entry points have none, per
// Manifest.ABI's zero value for entry-point keys) and sources fn.Arguments
// / scatters fn.Result through the stage contract instead (spec.md §4.2).
func newEntryLowerer(module *ir.Module, fn *ir.Function, layouts *LayoutTable, globals *globalLayout, contract stageContract, hostFuncs map[string]uint32, registry *FunctionRegistry) *lowerer {
	lw := newLowerer(module, fn, layouts, globals, FunctionABI{}, hostFuncs)
	lw.paramLocalCount = uint32(len(contract.wasmParams))
	lw.nextLocal = lw.paramLocalCount
	lw.entryInputs = contract.inputs
	lw.entryOutputs = contract.outputs
	lw.discardAddr = contract.discardAddr
	lw.registry = registry
	return lw
}

// callHost emits a call to an imported host function by its stable name,
// consuming whatever arguments the caller has already pushed.
func (lw *lowerer) callHost(name string) error {
	idx, ok := lw.hostFuncs[name]
	if !ok {
		return newError(ErrInternalInvariantViolated, "host import not registered: "+name)
	}
	lw.emitOp(OpCall)
	lw.emitU32(idx)
	return nil
}

// pushConst pushes an absolute linear-memory address as a compile-time
// constant, the same shape lowerGlobalVariable uses: stage-contract I/O
// addresses, like globals, are fixed for the whole module and independent
// of call depth, unlike frame-relative offsets (frameAddr).
func (lw *lowerer) pushConst(v uint32) {
	lw.emitOp(OpI32Const)
	lw.emitI32(int32(v))
}

// evaluate lowers an expression purely for its side effects, without
// leaving a value on the wasm stack: define() already balances the stack
// with a localTee+drop, so a bare StmtEmit needs only to trigger that
// memoized lowering once, not to consume a result (spec.md §4.5).
func (lw *lowerer) evaluate(h ir.ExpressionHandle) error {
	if _, ok := lw.exprSlots[h]; ok {
		return nil
	}
	return lw.lower(h)
}

// lowerEntryInput sources one of an entry point's arguments from its
// stage contract slot (builtins.go's buildStageContract) rather than the
// general ABI: either the stage's one real wasm parameter, or a fixed
// memory address holding a scalar value to load or a composite whose
// address is itself the value under this backend's frame-pointer
// representation.
func (lw *lowerer) lowerEntryInput(h ir.ExpressionHandle, index uint32) error {
	slot := lw.entryInputs[index]
	if slot.isParam {
		lw.localGet(slot.paramIdx)
		lw.define(h, slot.valType)
		return nil
	}
	lw.pushConst(slot.addr)
	if slot.isMemory {
		lw.define(h, ValI32)
		return nil
	}
	switch slot.valType {
	case ValF32:
		lw.emitOp(OpF32Load)
	case ValI64:
		lw.emitOp(OpI64Load)
	case ValF64:
		lw.emitOp(OpF64Load)
	default:
		lw.emitOp(OpI32Load)
	}
	lw.memArg(2, 0)
	lw.define(h, slot.valType)
	return nil
}

// copyAbsFrom scatters one field of a composite expression's already
// materialized value to a fixed absolute destination address, the
// output-side counterpart of copyMemory: copyMemory's destination is a
// frame-relative offset resolved through frameAddr, but a stage
// contract's output slots are genuine compile-time-constant addresses
// (spec.md §4.2), so the destination side here uses pushConst instead.
func (lw *lowerer) copyAbsFrom(dstAddr uint32, src ir.ExpressionHandle, srcOffset, size uint32) error {
	srcAddrLocal := lw.newLocal(ValI32)
	if err := lw.get(src); err != nil {
		return err
	}
	lw.localSet(srcAddrLocal)

	var off uint32
	for off+4 <= size {
		lw.pushConst(dstAddr + off)
		lw.localGet(srcAddrLocal)
		lw.emitOp(OpI32Load)
		lw.memArg(2, srcOffset+off)
		lw.emitOp(OpI32Store)
		lw.memArg(2, 0)
		off += 4
	}
	for off < size {
		lw.pushConst(dstAddr + off)
		lw.localGet(srcAddrLocal)
		lw.emitOp(OpI32Load8U)
		lw.memArg(0, srcOffset+off)
		lw.emitOp(OpI32Store8)
		lw.memArg(0, 0)
		off++
	}
	return nil
}

// storeScalarAbsFrom writes a register-resident expression's value to a
// fixed absolute address, the scalar counterpart of copyAbsFrom.
func (lw *lowerer) storeScalarAbsFrom(dstAddr uint32, src ir.ExpressionHandle, valType ValType) error {
	lw.pushConst(dstAddr)
	if err := lw.get(src); err != nil {
		return err
	}
	switch valType {
	case ValF32:
		lw.emitOp(OpF32Store)
	case ValI64:
		lw.emitOp(OpI64Store)
	case ValF64:
		lw.emitOp(OpF64Store)
	default:
		lw.emitOp(OpI32Store)
	}
	lw.memArg(2, 0)
	return nil
}

func (lw *lowerer) newLocal(vt ValType) uint32 {
	idx := lw.paramLocalCount + uint32(len(lw.extraLocals))
	lw.extraLocals = append(lw.extraLocals, vt)
	return idx
}

func (lw *lowerer) emit(b ...byte) { lw.code = append(lw.code, b...) }

func (lw *lowerer) emitOp(op Opcode) { lw.code = append(lw.code, byte(op)) }

func (lw *lowerer) emitU32(v uint32) { lw.code = append(lw.code, leb128.EncodeUint32(v)...) }

func (lw *lowerer) emitI32(v int32) { lw.code = append(lw.code, leb128.EncodeInt32(v)...) }

func (lw *lowerer) emitI64(v int64) { lw.code = append(lw.code, leb128.EncodeInt64(v)...) }

func (lw *lowerer) emitF32(v float32) {
	bits := math.Float32bits(v)
	lw.code = append(lw.code, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}

func (lw *lowerer) emitF64(v float64) {
	bits := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		lw.code = append(lw.code, byte(bits>>(8*i)))
	}
}

func (lw *lowerer) localGet(idx uint32) { lw.emitOp(OpLocalGet); lw.emitU32(idx) }
func (lw *lowerer) localSet(idx uint32) { lw.emitOp(OpLocalSet); lw.emitU32(idx) }
func (lw *lowerer) localTee(idx uint32) { lw.emitOp(OpLocalTee); lw.emitU32(idx) }

func (lw *lowerer) memArg(align, offset uint32) {
	lw.emitU32(align)
	lw.emitU32(offset)
}

// frameAddr pushes the absolute address of a frame-relative offset onto
// the value stack, computed from the runtime frame base rather than
// baked in as a compile-time constant: the actual frame base varies
// with call depth, so only offsets within a frame are ever known at
// compile time.
func (lw *lowerer) frameAddr(offset uint32) {
	lw.localGet(lw.frameBaseLocal)
	if offset != 0 {
		lw.emitOp(OpI32Const)
		lw.emitI32(int32(offset))
		lw.emitOp(OpI32Add)
	}
}

// resultType resolves an expression's IR type, inlining through
// TypeResolution the way every other part of this backend does.
func (lw *lowerer) resultType(h ir.ExpressionHandle) ir.TypeInner {
	res := lw.fn.ExpressionTypes[h]
	if res.Handle != nil {
		return lw.module.Types[*res.Handle].Inner
	}
	return res.Value
}

func (lw *lowerer) layoutOfExpr(h ir.ExpressionHandle) (Layout, error) {
	res := lw.fn.ExpressionTypes[h]
	if res.Handle != nil {
		return lw.layouts.LayoutOf(*res.Handle)
	}
	// Inline type with no registered handle: lay it out directly via a
	// synthetic single-entry table so array/struct rules still apply.
	return lw.layouts.layoutInner(res.Value)
}

// get loads a cached expression's value onto the wasm value stack,
// lowering it first if this is its first use.
func (lw *lowerer) get(h ir.ExpressionHandle) error {
	slot, ok := lw.exprSlots[h]
	if !ok {
		if err := lw.lower(h); err != nil {
			return err
		}
		slot = lw.exprSlots[h]
	}
	lw.localGet(slot.localIdx)
	return nil
}

// define stores the value currently on top of the wasm stack as the
// cached value for h and records its slot.
func (lw *lowerer) define(h ir.ExpressionHandle, vt ValType) {
	idx := lw.newLocal(vt)
	lw.localTee(idx)
	lw.emitOp(OpDrop)
	lw.exprSlots[h] = exprSlot{valType: vt, localIdx: idx}
}

// lower lowers expression h exactly once, memoizing the result (spec.md
// §4.4's idempotence requirement: an expression handle referenced from
// multiple later expressions is evaluated once).
func (lw *lowerer) lower(h ir.ExpressionHandle) error {
	if _, ok := lw.exprSlots[h]; ok {
		return nil
	}
	expr := lw.fn.Expressions[h]
	switch k := expr.Kind.(type) {
	case ir.Literal:
		return lw.lowerLiteral(h, k.Value)
	case ir.ExprConstant:
		c := lw.module.Constants[k.Constant]
		return lw.lowerConstantValue(h, c.Value)
	case ir.ExprZeroValue:
		return lw.lowerZeroValue(h, k.Type)
	case ir.ExprFunctionArgument:
		return lw.lowerFunctionArgument(h, k.Index)
	case ir.ExprGlobalVariable:
		return lw.lowerGlobalVariable(h, k.Variable)
	case ir.ExprLocalVariable:
		return lw.lowerLocalVariableRef(h, k.Variable)
	case ir.ExprLoad:
		return lw.lowerLoad(h, k.Pointer)
	case ir.ExprAccessIndex:
		return lw.lowerAccessIndex(h, k.Base, k.Index)
	case ir.ExprAccess:
		return lw.lowerAccess(h, k.Base, k.Index)
	case ir.ExprCompose:
		return lw.lowerCompose(h, k.Type, k.Components)
	case ir.ExprSplat:
		return lw.lowerSplat(h, k.Size, k.Value)
	case ir.ExprSwizzle:
		return lw.lowerSwizzle(h, k)
	case ir.ExprUnary:
		return lw.lowerUnary(h, k)
	case ir.ExprBinary:
		return lw.lowerBinary(h, k)
	case ir.ExprSelect:
		return lw.lowerSelect(h, k)
	case ir.ExprMath:
		return lw.lowerMath(h, k)
	case ir.ExprAs:
		return lw.lowerAs(h, k)
	case ir.ExprRelational:
		return lw.lowerRelational(h, k)
	case ir.ExprDerivative:
		// Software derivatives are always zero: this backend evaluates
		// one fragment at a time with no neighboring-pixel quad, so
		// there is nothing to difference against.
		return lw.lowerZeroValue(h, 0)
	case ir.ExprImageSample:
		return lw.lowerImageSample(h, k)
	case ir.ExprImageLoad:
		return lw.lowerImageLoad(h, k)
	case ir.ExprImageQuery:
		return lw.lowerImageQuery(h, k)
	case ir.ExprCallResult:
		return newNamedError(ErrUnsupportedBuiltin, lw.fn.Name, "call result referenced before its call statement lowered")
	default:
		return newError(ErrUnsupportedBuiltin, "unsupported expression kind")
	}
}

func (lw *lowerer) lowerLiteral(h ir.ExpressionHandle, v ir.LiteralValue) error {
	switch lit := v.(type) {
	case ir.LiteralBool:
		if lit {
			lw.emitOp(OpI32Const)
			lw.emitI32(1)
		} else {
			lw.emitOp(OpI32Const)
			lw.emitI32(0)
		}
		lw.define(h, ValI32)
	case ir.LiteralI32:
		lw.emitOp(OpI32Const)
		lw.emitI32(int32(lit))
		lw.define(h, ValI32)
	case ir.LiteralU32:
		lw.emitOp(OpI32Const)
		lw.emitI32(int32(uint32(lit)))
		lw.define(h, ValI32)
	case ir.LiteralF32:
		lw.emitOp(OpF32Const)
		lw.emitF32(float32(lit))
		lw.define(h, ValF32)
	case ir.LiteralF64, ir.LiteralAbstractFloat:
		var f float64
		if v, ok := lit.(ir.LiteralF64); ok {
			f = float64(v)
		} else {
			f = float64(lit.(ir.LiteralAbstractFloat))
		}
		lw.emitOp(OpF32Const)
		lw.emitF32(float32(f))
		lw.define(h, ValF32)
	case ir.LiteralI64, ir.LiteralAbstractInt:
		var i int64
		if v, ok := lit.(ir.LiteralI64); ok {
			i = int64(v)
		} else {
			i = int64(lit.(ir.LiteralAbstractInt))
		}
		lw.emitOp(OpI32Const)
		lw.emitI32(int32(i))
		lw.define(h, ValI32)
	case ir.LiteralU64:
		lw.emitOp(OpI32Const)
		lw.emitI32(int32(uint32(lit)))
		lw.define(h, ValI32)
	default:
		return newError(ErrUnsupportedType, "unsupported literal kind")
	}
	return nil
}

func (lw *lowerer) lowerConstantValue(h ir.ExpressionHandle, v ir.ConstantValue) error {
	if sv, ok := v.(ir.ScalarValue); ok {
		switch sv.Kind {
		case ir.ScalarFloat:
			lw.emitOp(OpF32Const)
			lw.emitF32(math.Float32frombits(uint32(sv.Bits)))
			lw.define(h, ValF32)
		default:
			lw.emitOp(OpI32Const)
			lw.emitI32(int32(uint32(sv.Bits)))
			lw.define(h, ValI32)
		}
		return nil
	}
	return newError(ErrUnsupportedType, "unsupported constant value kind")
}

// lowerZeroValue materializes a zero-initialized value. Register types
// push a zero register; composite types reserve a frame slot and store
// zero into every scalar lane of it.
func (lw *lowerer) lowerZeroValue(h ir.ExpressionHandle, typeHandle ir.TypeHandle) error {
	if typeHandle == 0 && lw.fn.ExpressionTypes[h].Handle == nil && lw.fn.ExpressionTypes[h].Value == nil {
		// Derivative stub: always a scalar float zero.
		lw.emitOp(OpF32Const)
		lw.emitF32(0)
		lw.define(h, ValF32)
		return nil
	}
	layout, err := lw.layouts.LayoutOf(typeHandle)
	if err != nil {
		return err
	}
	if layout.Residency == ResidentRegister {
		if layout.ValType == ValF32 || layout.ValType == ValF64 {
			lw.emitOp(OpF32Const)
			lw.emitF32(0)
		} else {
			lw.emitOp(OpI32Const)
			lw.emitI32(0)
		}
		lw.define(h, layout.ValType)
		return nil
	}
	addr := lw.reserveFrameSlot(layout)
	lw.zeroMemory(addr, layout.SizeBytes)
	lw.frameAddr(addr)
	lw.define(h, ValI32)
	return nil
}

// reserveFrameSlot allocates space in the function's own local frame
// region for an anonymous composite temporary and returns its offset
// relative to the frame base. Temporaries are never reused within a
// function body; the preparation pass sizes the frame to fit every
// temporary a function materializes (spec.md §4.3).
func (lw *lowerer) reserveFrameSlot(layout Layout) uint32 {
	// Slots are bump-allocated past the function's declared locals,
	// tracked on the lowerer so repeated calls don't collide.
	lw.tempOffset = alignUp(lw.tempOffset, layout.AlignBytes)
	offset := lw.localVarRegion + lw.tempOffset
	lw.tempOffset += layout.SizeBytes
	return offset
}

func (lw *lowerer) zeroMemory(addr, size uint32) {
	var off uint32
	for off+4 <= size {
		lw.frameAddr(addr)
		lw.emitOp(OpI32Const)
		lw.emitI32(0)
		lw.emitOp(OpI32Store)
		lw.memArg(2, off)
		off += 4
	}
	for off < size {
		lw.frameAddr(addr)
		lw.emitOp(OpI32Const)
		lw.emitI32(0)
		lw.emitOp(OpI32Store8)
		lw.memArg(0, off)
		off++
	}
}

func (lw *lowerer) lowerFunctionArgument(h ir.ExpressionHandle, index uint32) error {
	// Entry points ignore their IR signature's ABI and read arguments
	// from the stage contract's fixed I/O addresses instead (spec.md
	// §4.2, §4.6); lw.entryInputs is set only when lowering an entry
	// point's body.
	if lw.entryInputs != nil {
		return lw.lowerEntryInput(h, index)
	}

	// Register params occupy wasm param index `index` directly (offset
	// by the hidden sret param, if any); PointerInCallerFrame params are
	// also wasm i32 params holding the caller-computed absolute address.
	wasmIdx := index
	if lw.abi.Sret != nil {
		wasmIdx++
	}
	passing := lw.abi.Params[index]
	vt := ValI32
	if reg, ok := passing.(PassRegister); ok {
		vt = reg.ValType
	}
	lw.localGet(wasmIdx)
	lw.define(h, vt)
	return nil
}

func (lw *lowerer) lowerGlobalVariable(h ir.ExpressionHandle, v ir.GlobalVariableHandle) error {
	// Globals live at fixed absolute addresses assigned once by the
	// module-level layout pass, unlike frame-relative locals: the
	// address is a genuine compile-time constant here.
	addr, _ := lw.globals.addressOf(v)
	lw.emitOp(OpI32Const)
	lw.emitI32(int32(addr))
	lw.define(h, ValI32)
	return nil
}

func (lw *lowerer) lowerLocalVariableRef(h ir.ExpressionHandle, index uint32) error {
	slot := lw.localVars[index]
	if slot.isMemory {
		lw.frameAddr(slot.offset)
		lw.define(h, ValI32)
		return nil
	}
	// Register-resident locals are addressed directly by wasm local
	// index; ExprLoad on them is a no-op pass-through (see lowerLoad).
	lw.define(h, slot.valType)
	return nil
}

func (lw *lowerer) lowerLoad(h ir.ExpressionHandle, ptr ir.ExpressionHandle) error {
	resLayout, err := lw.layoutOfExpr(h)
	if err != nil {
		return err
	}
	// Loading a register-resident local variable is reading its wasm
	// local directly; ExprLocalVariable already pushed that value.
	if _, ok := lw.fn.Expressions[ptr].Kind.(ir.ExprLocalVariable); ok {
		idx := lw.fn.Expressions[ptr].Kind.(ir.ExprLocalVariable).Variable
		if !lw.localVars[idx].isMemory {
			if err := lw.get(ptr); err != nil {
				return err
			}
			lw.define(h, lw.localVars[idx].valType)
			return nil
		}
	}
	if err := lw.get(ptr); err != nil {
		return err
	}
	if resLayout.Residency == ResidentRegister {
		switch resLayout.ValType {
		case ValF32:
			lw.emitOp(OpF32Load)
		case ValF64:
			lw.emitOp(OpF64Load)
		case ValI64:
			lw.emitOp(OpI64Load)
		default:
			lw.emitOp(OpI32Load)
		}
		lw.memArg(2, 0)
		lw.define(h, resLayout.ValType)
		return nil
	}
	// Loading a composite through a pointer yields the pointer itself
	// under this backend's frame-pointer representation: the address
	// already on the stack IS the loaded value.
	lw.define(h, ValI32)
	return nil
}

func (lw *lowerer) lowerAccessIndex(h ir.ExpressionHandle, base ir.ExpressionHandle, index uint32) error {
	baseLayout, err := lw.layoutOfExpr(base)
	if err != nil {
		return err
	}
	var fieldOffset, fieldSize uint32
	var fieldValType ValType
	var fieldResident Residency
	switch {
	case baseLayout.FieldOffsets != nil:
		fieldOffset = baseLayout.FieldOffsets[index]
		fieldLayout, err := lw.fieldLayoutOfStruct(base, index)
		if err != nil {
			return err
		}
		fieldSize, fieldValType, fieldResident = fieldLayout.SizeBytes, fieldLayout.ValType, fieldLayout.Residency
	case baseLayout.ColumnStride != 0:
		fieldOffset = baseLayout.ColumnStride * index
		fieldSize, fieldResident = baseLayout.ColumnStride, ResidentMemory
	case baseLayout.LaneCount > 0:
		// Vector lanes are always f32 in this backend: a vector is a
		// memory-resident composite precisely because no register
		// could hold it whole, and the only scalar kind shading code
		// broadcasts to a vector in practice is float.
		laneSize := baseLayout.SizeBytes / uint32(baseLayout.LaneCount)
		fieldOffset = laneSize * index
		fieldSize, fieldResident, fieldValType = laneSize, ResidentRegister, ValF32
	default:
		elemLayout, err := lw.layoutOfArrayElement(base)
		if err != nil {
			return err
		}
		fieldOffset = elemLayout.SizeBytes * index
		fieldSize, fieldValType, fieldResident = elemLayout.SizeBytes, elemLayout.ValType, elemLayout.Residency
	}

	if err := lw.get(base); err != nil {
		return err
	}
	lw.emitOp(OpI32Const)
	lw.emitI32(int32(fieldOffset))
	lw.emitOp(OpI32Add)

	if fieldResident == ResidentRegister {
		addrLocal := lw.newLocal(ValI32)
		lw.localSet(addrLocal)
		lw.localGet(addrLocal)
		switch fieldValType {
		case ValF32:
			lw.emitOp(OpF32Load)
		default:
			lw.emitOp(OpI32Load)
		}
		lw.memArg(2, 0)
		lw.define(h, fieldValType)
	} else {
		_ = fieldSize
		lw.define(h, ValI32)
	}
	return nil
}

func (lw *lowerer) lowerAccess(h ir.ExpressionHandle, base, index ir.ExpressionHandle) error {
	baseLayout, err := lw.layoutOfExpr(base)
	if err != nil {
		return err
	}
	var stride uint32
	var elemResident = ResidentMemory
	var elemValType ValType
	switch {
	case baseLayout.ColumnStride != 0:
		stride = baseLayout.ColumnStride
	case baseLayout.LaneCount > 0:
		stride = baseLayout.SizeBytes / uint32(baseLayout.LaneCount)
		elemResident = ResidentRegister
		elemValType = ValF32
	default:
		elemLayout, err := lw.layoutOfArrayElement(base)
		if err != nil {
			return err
		}
		stride, elemResident, elemValType = elemLayout.SizeBytes, elemLayout.Residency, elemLayout.ValType
	}

	if err := lw.get(base); err != nil {
		return err
	}
	if err := lw.get(index); err != nil {
		return err
	}
	lw.emitOp(OpI32Const)
	lw.emitI32(int32(stride))
	lw.emitOp(OpI32Mul)
	lw.emitOp(OpI32Add)

	if elemResident == ResidentRegister {
		addrLocal := lw.newLocal(ValI32)
		lw.localSet(addrLocal)
		lw.localGet(addrLocal)
		switch elemValType {
		case ValF32:
			lw.emitOp(OpF32Load)
		default:
			lw.emitOp(OpI32Load)
		}
		lw.memArg(2, 0)
		lw.define(h, elemValType)
	} else {
		lw.define(h, ValI32)
	}
	return nil
}

func (lw *lowerer) fieldLayoutOfStruct(base ir.ExpressionHandle, index uint32) (Layout, error) {
	res := lw.fn.ExpressionTypes[base]
	if res.Handle == nil {
		return Layout{}, newError(ErrUnsupportedType, "struct access on inline type")
	}
	st, ok := lw.module.Types[*res.Handle].Inner.(ir.StructType)
	if !ok {
		return Layout{}, newError(ErrUnsupportedType, "access index base is not a struct")
	}
	return lw.layouts.LayoutOf(st.Members[index].Type)
}

func (lw *lowerer) layoutOfArrayElement(base ir.ExpressionHandle) (Layout, error) {
	res := lw.fn.ExpressionTypes[base]
	if res.Handle == nil {
		return Layout{}, newError(ErrUnsupportedType, "array access on inline type")
	}
	at, ok := lw.module.Types[*res.Handle].Inner.(ir.ArrayType)
	if !ok {
		return Layout{}, newError(ErrUnsupportedType, "access base is not an array")
	}
	return lw.layouts.LayoutOf(at.Base)
}

func (lw *lowerer) lowerCompose(h ir.ExpressionHandle, typeHandle ir.TypeHandle, components []ir.ExpressionHandle) error {
	layout, err := lw.layouts.LayoutOf(typeHandle)
	if err != nil {
		return err
	}
	addr := lw.reserveFrameSlot(layout)

	var compOffsets []uint32
	switch inner := lw.module.Types[typeHandle].Inner.(type) {
	case ir.VectorType:
		laneSize := layout.SizeBytes / uint32(layout.LaneCount)
		for i := range components {
			compOffsets = append(compOffsets, uint32(i)*laneSize)
		}
	case ir.MatrixType:
		for i := range components {
			compOffsets = append(compOffsets, uint32(i)*layout.ColumnStride)
		}
	case ir.StructType:
		compOffsets = layout.FieldOffsets
	default:
		_ = inner
		for i := range components {
			compOffsets = append(compOffsets, uint32(i)*4)
		}
	}

	for i, comp := range components {
		compLayout, err := lw.layoutOfExpr(comp)
		if err != nil {
			return err
		}
		off := addr + compOffsets[i]
		if compLayout.Residency == ResidentRegister {
			lw.frameAddr(off)
			if err := lw.get(comp); err != nil {
				return err
			}
			switch compLayout.ValType {
			case ValF32:
				lw.emitOp(OpF32Store)
			default:
				lw.emitOp(OpI32Store)
			}
			lw.memArg(2, 0)
		} else {
			if err := lw.copyMemory(off, comp, compLayout.SizeBytes); err != nil {
				return err
			}
		}
	}

	lw.frameAddr(addr)
	lw.define(h, ValI32)
	return nil
}

// copyMemory copies a composite value (already materialized at the
// address held by expression src) to dst, word-at-a-time.
func (lw *lowerer) copyMemory(dst uint32, src ir.ExpressionHandle, size uint32) error {
	srcAddrLocal := lw.newLocal(ValI32)
	if err := lw.get(src); err != nil {
		return err
	}
	lw.localSet(srcAddrLocal)

	var off uint32
	for off+4 <= size {
		lw.frameAddr(dst)
		lw.localGet(srcAddrLocal)
		lw.emitOp(OpI32Load)
		lw.memArg(2, off)
		lw.emitOp(OpI32Store)
		lw.memArg(2, off)
		off += 4
	}
	for off < size {
		lw.frameAddr(dst)
		lw.localGet(srcAddrLocal)
		lw.emitOp(OpI32Load8U)
		lw.memArg(0, off)
		lw.emitOp(OpI32Store8)
		lw.memArg(0, off)
		off++
	}
	return nil
}

func (lw *lowerer) lowerSplat(h ir.ExpressionHandle, size ir.VectorSize, value ir.ExpressionHandle) error {
	valLayout, err := lw.layoutOfExpr(value)
	if err != nil {
		return err
	}
	resLayout, err := lw.layoutOfExpr(h)
	if err != nil {
		return err
	}
	addr := lw.reserveFrameSlot(resLayout)
	laneSize := resLayout.SizeBytes / uint32(size)
	for i := uint32(0); i < uint32(size); i++ {
		lw.frameAddr(addr + i*laneSize)
		if err := lw.get(value); err != nil {
			return err
		}
		switch valLayout.ValType {
		case ValF32:
			lw.emitOp(OpF32Store)
		default:
			lw.emitOp(OpI32Store)
		}
		lw.memArg(2, 0)
	}
	lw.frameAddr(addr)
	lw.define(h, ValI32)
	return nil
}

func (lw *lowerer) lowerSwizzle(h ir.ExpressionHandle, k ir.ExprSwizzle) error {
	vecLayout, err := lw.layoutOfExpr(k.Vector)
	if err != nil {
		return err
	}
	laneSize := vecLayout.SizeBytes / uint32(vecLayout.LaneCount)
	resLayout, err := lw.layoutOfExpr(h)
	if err != nil {
		return err
	}
	addr := lw.reserveFrameSlot(resLayout)
	if err := lw.get(k.Vector); err != nil {
		return err
	}
	baseLocal := lw.newLocal(ValI32)
	lw.localSet(baseLocal)
	for i := uint32(0); i < uint32(k.Size); i++ {
		comp := uint32(k.Pattern[i])
		lw.frameAddr(addr + i*laneSize)
		lw.localGet(baseLocal)
		lw.emitOp(OpF32Load)
		lw.memArg(2, comp*laneSize)
		lw.emitOp(OpF32Store)
		lw.memArg(2, 0)
	}
	lw.frameAddr(addr)
	lw.define(h, ValI32)
	return nil
}

func (lw *lowerer) lowerUnary(h ir.ExpressionHandle, k ir.ExprUnary) error {
	exprLayout, err := lw.layoutOfExpr(k.Expr)
	if err != nil {
		return err
	}
	if exprLayout.Residency != ResidentRegister {
		return newError(ErrUnsupportedType, "unary operator on composite value")
	}
	switch k.Op {
	case ir.UnaryNegate:
		if exprLayout.ValType == ValF32 {
			lw.emitOp(OpF32Const)
			lw.emitF32(0)
			if err := lw.get(k.Expr); err != nil {
				return err
			}
			lw.emitOp(OpF32Sub)
		} else {
			lw.emitOp(OpI32Const)
			lw.emitI32(0)
			if err := lw.get(k.Expr); err != nil {
				return err
			}
			lw.emitOp(OpI32Sub)
		}
	case ir.UnaryLogicalNot:
		if err := lw.get(k.Expr); err != nil {
			return err
		}
		lw.emitOp(OpI32Eqz)
	case ir.UnaryBitwiseNot:
		if err := lw.get(k.Expr); err != nil {
			return err
		}
		lw.emitOp(OpI32Const)
		lw.emitI32(-1)
		lw.emitOp(OpI32Xor)
	default:
		return newError(ErrUnsupportedBuiltin, "unsupported unary operator")
	}
	lw.define(h, exprLayout.ValType)
	return nil
}

// lowerBinary lowers a scalar binary op directly, and a vector/vector or
// vector/scalar op by unrolling one scalar op per lane into a freshly
// materialized result vector (spec.md §4.4: no SIMD assumed available).
func (lw *lowerer) lowerBinary(h ir.ExpressionHandle, k ir.ExprBinary) error {
	leftLayout, err := lw.layoutOfExpr(k.Left)
	if err != nil {
		return err
	}
	rightLayout, err := lw.layoutOfExpr(k.Right)
	if err != nil {
		return err
	}

	if leftLayout.Residency == ResidentRegister && rightLayout.Residency == ResidentRegister {
		isFloat := leftLayout.ValType == ValF32
		op, resultIsBool, err := binaryOpcode(k.Op, isFloat)
		if err != nil {
			return err
		}
		if err := lw.get(k.Left); err != nil {
			return err
		}
		if err := lw.get(k.Right); err != nil {
			return err
		}
		lw.emitOp(op)
		vt := leftLayout.ValType
		if resultIsBool {
			vt = ValI32
		}
		lw.define(h, vt)
		return nil
	}

	// Matrix*vector and vector<->vector elementwise ops: unroll by lane.
	if leftLayout.LaneCount > 0 && rightLayout.Residency == ResidentRegister {
		return lw.lowerVectorScalarBinary(h, k, leftLayout, k.Left, k.Right, true)
	}
	if rightLayout.LaneCount > 0 && leftLayout.Residency == ResidentRegister {
		return lw.lowerVectorScalarBinary(h, k, rightLayout, k.Right, k.Left, false)
	}
	if leftLayout.ColumnStride != 0 && rightLayout.LaneCount > 0 && k.Op == ir.BinaryMultiply {
		return lw.lowerMatrixVectorMultiply(h, k.Left, k.Right, leftLayout)
	}
	if leftLayout.LaneCount > 0 && rightLayout.LaneCount > 0 {
		return lw.lowerVectorVectorBinary(h, k, leftLayout)
	}
	return newError(ErrUnsupportedType, "unsupported binary operand shape")
}

func (lw *lowerer) lowerVectorScalarBinary(h ir.ExpressionHandle, k ir.ExprBinary, vecLayout Layout, vec, scalar ir.ExpressionHandle, vecIsLeft bool) error {
	resLayout, err := lw.layoutOfExpr(h)
	if err != nil {
		return err
	}
	addr := lw.reserveFrameSlot(resLayout)
	laneSize := vecLayout.SizeBytes / uint32(vecLayout.LaneCount)
	op, _, err := binaryOpcode(k.Op, true)
	if err != nil {
		return err
	}
	if err := lw.get(vec); err != nil {
		return err
	}
	vecBase := lw.newLocal(ValI32)
	lw.localSet(vecBase)
	if err := lw.get(scalar); err != nil {
		return err
	}
	scalarLocal := lw.newLocal(ValF32)
	lw.localSet(scalarLocal)

	for i := uint32(0); i < uint32(vecLayout.LaneCount); i++ {
		lw.frameAddr(addr + i*laneSize)
		if vecIsLeft {
			lw.localGet(vecBase)
			lw.emitOp(OpF32Load)
			lw.memArg(2, i*laneSize)
			lw.localGet(scalarLocal)
		} else {
			lw.localGet(scalarLocal)
			lw.localGet(vecBase)
			lw.emitOp(OpF32Load)
			lw.memArg(2, i*laneSize)
		}
		lw.emitOp(op)
		lw.emitOp(OpF32Store)
		lw.memArg(2, 0)
	}
	lw.frameAddr(addr)
	lw.define(h, ValI32)
	return nil
}

func (lw *lowerer) lowerVectorVectorBinary(h ir.ExpressionHandle, k ir.ExprBinary, vecLayout Layout) error {
	resLayout, err := lw.layoutOfExpr(h)
	if err != nil {
		return err
	}
	addr := lw.reserveFrameSlot(resLayout)
	laneSize := vecLayout.SizeBytes / uint32(vecLayout.LaneCount)
	op, _, err := binaryOpcode(k.Op, true)
	if err != nil {
		return err
	}
	if err := lw.get(k.Left); err != nil {
		return err
	}
	leftBase := lw.newLocal(ValI32)
	lw.localSet(leftBase)
	if err := lw.get(k.Right); err != nil {
		return err
	}
	rightBase := lw.newLocal(ValI32)
	lw.localSet(rightBase)

	for i := uint32(0); i < uint32(vecLayout.LaneCount); i++ {
		lw.frameAddr(addr + i*laneSize)
		lw.localGet(leftBase)
		lw.emitOp(OpF32Load)
		lw.memArg(2, i*laneSize)
		lw.localGet(rightBase)
		lw.emitOp(OpF32Load)
		lw.memArg(2, i*laneSize)
		lw.emitOp(op)
		lw.emitOp(OpF32Store)
		lw.memArg(2, 0)
	}
	lw.frameAddr(addr)
	lw.define(h, ValI32)
	return nil
}

// lowerMatrixVectorMultiply implements the standard column-major
// matrix*vector product: result = sum_c(columns[c] * vector[c]).
func (lw *lowerer) lowerMatrixVectorMultiply(h ir.ExpressionHandle, matExpr, vecExpr ir.ExpressionHandle, matLayout Layout) error {
	resLayout, err := lw.layoutOfExpr(h)
	if err != nil {
		return err
	}
	addr := lw.reserveFrameSlot(resLayout)
	rows := uint32(matLayout.LaneCount)
	columns := matLayout.SizeBytes / matLayout.ColumnStride
	laneSize := matLayout.ColumnStride / rows
	if laneSize == 0 {
		laneSize = 4
	}

	if err := lw.get(matExpr); err != nil {
		return err
	}
	matBase := lw.newLocal(ValI32)
	lw.localSet(matBase)
	if err := lw.get(vecExpr); err != nil {
		return err
	}
	vecBase := lw.newLocal(ValI32)
	lw.localSet(vecBase)

	lw.zeroMemory(addr, resLayout.SizeBytes)

	for c := uint32(0); c < columns; c++ {
		for r := uint32(0); r < rows; r++ {
			lw.frameAddr(addr + r*4)
			lw.frameAddr(addr + r*4)
			lw.emitOp(OpF32Load)
			lw.memArg(2, 0)

			lw.localGet(matBase)
			lw.emitOp(OpF32Load)
			lw.memArg(2, c*matLayout.ColumnStride+r*laneSize)
			lw.localGet(vecBase)
			lw.emitOp(OpF32Load)
			lw.memArg(2, c*4)
			lw.emitOp(OpF32Mul)
			lw.emitOp(OpF32Add)
			lw.emitOp(OpF32Store)
			lw.memArg(2, 0)
		}
	}

	lw.frameAddr(addr)
	lw.define(h, ValI32)
	return nil
}

// binaryOpcode maps an IR binary operator to a wasm opcode, reporting
// whether the result is a boolean (comparison) rather than the operand
// type.
func binaryOpcode(op ir.BinaryOperator, isFloat bool) (Opcode, bool, error) {
	if isFloat {
		switch op {
		case ir.BinaryAdd:
			return OpF32Add, false, nil
		case ir.BinarySubtract:
			return OpF32Sub, false, nil
		case ir.BinaryMultiply:
			return OpF32Mul, false, nil
		case ir.BinaryDivide:
			return OpF32Div, false, nil
		case ir.BinaryEqual:
			return OpF32Eq, true, nil
		case ir.BinaryNotEqual:
			return OpF32Ne, true, nil
		case ir.BinaryLess:
			return OpF32Lt, true, nil
		case ir.BinaryLessEqual:
			return OpF32Le, true, nil
		case ir.BinaryGreater:
			return OpF32Gt, true, nil
		case ir.BinaryGreaterEqual:
			return OpF32Ge, true, nil
		}
		return 0, false, newError(ErrUnsupportedBuiltin, "unsupported float binary operator")
	}
	switch op {
	case ir.BinaryAdd:
		return OpI32Add, false, nil
	case ir.BinarySubtract:
		return OpI32Sub, false, nil
	case ir.BinaryMultiply:
		return OpI32Mul, false, nil
	case ir.BinaryDivide:
		return OpI32DivS, false, nil
	case ir.BinaryModulo:
		return OpI32RemS, false, nil
	case ir.BinaryEqual:
		return OpI32Eq, true, nil
	case ir.BinaryNotEqual:
		return OpI32Ne, true, nil
	case ir.BinaryLess:
		return OpI32LtS, true, nil
	case ir.BinaryLessEqual:
		return OpI32LeS, true, nil
	case ir.BinaryGreater:
		return OpI32GtS, true, nil
	case ir.BinaryGreaterEqual:
		return OpI32GeS, true, nil
	case ir.BinaryAnd, ir.BinaryLogicalAnd:
		return OpI32And, false, nil
	case ir.BinaryInclusiveOr, ir.BinaryLogicalOr:
		return OpI32Or, false, nil
	case ir.BinaryExclusiveOr:
		return OpI32Xor, false, nil
	case ir.BinaryShiftLeft:
		return OpI32Shl, false, nil
	case ir.BinaryShiftRight:
		return OpI32ShrS, false, nil
	}
	return 0, false, newError(ErrUnsupportedBuiltin, "unsupported integer binary operator")
}

func (lw *lowerer) lowerSelect(h ir.ExpressionHandle, k ir.ExprSelect) error {
	resLayout, err := lw.layoutOfExpr(h)
	if err != nil {
		return err
	}
	if resLayout.Residency != ResidentRegister {
		return newError(ErrUnsupportedType, "select over composite value")
	}
	if err := lw.get(k.Accept); err != nil {
		return err
	}
	if err := lw.get(k.Reject); err != nil {
		return err
	}
	if err := lw.get(k.Condition); err != nil {
		return err
	}
	lw.emitOp(OpSelect)
	lw.define(h, resLayout.ValType)
	return nil
}

// lowerMath covers the builtin math functions this backend fully
// implements; the rest report ErrUnsupportedBuiltin rather than silently
// producing a wrong result (spec.md §7's error design).
func (lw *lowerer) lowerMath(h ir.ExpressionHandle, k ir.ExprMath) error {
	switch k.Fun {
	case ir.MathAbs:
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		lw.emitOp(OpF32Abs)
		lw.define(h, ValF32)
		return nil
	case ir.MathFloor:
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		lw.emitOp(OpF32Floor)
		lw.define(h, ValF32)
		return nil
	case ir.MathCeil:
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		lw.emitOp(OpF32Ceil)
		lw.define(h, ValF32)
		return nil
	case ir.MathSqrt:
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		lw.emitOp(OpF32Sqrt)
		lw.define(h, ValF32)
		return nil
	case ir.MathMin:
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		if err := lw.get(*k.Arg1); err != nil {
			return err
		}
		lw.emitOp(OpF32Min)
		lw.define(h, ValF32)
		return nil
	case ir.MathMax:
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		if err := lw.get(*k.Arg1); err != nil {
			return err
		}
		lw.emitOp(OpF32Max)
		lw.define(h, ValF32)
		return nil
	case ir.MathClamp:
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		if err := lw.get(*k.Arg1); err != nil {
			return err
		}
		lw.emitOp(OpF32Max)
		if err := lw.get(*k.Arg2); err != nil {
			return err
		}
		lw.emitOp(OpF32Min)
		lw.define(h, ValF32)
		return nil
	case ir.MathSaturate:
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		lw.emitOp(OpF32Const)
		lw.emitF32(0)
		lw.emitOp(OpF32Max)
		lw.emitOp(OpF32Const)
		lw.emitF32(1)
		lw.emitOp(OpF32Min)
		lw.define(h, ValF32)
		return nil
	case ir.MathSign:
		// sign(x) = (x > 0) - (x < 0), computed in float.
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		gtLocal := lw.newLocal(ValF32)
		lw.localSet(gtLocal)
		lw.localGet(gtLocal)
		lw.emitOp(OpF32Const)
		lw.emitF32(0)
		lw.emitOp(OpF32Gt)
		lw.emitOp(OpF32ConvertI32S)
		lw.localGet(gtLocal)
		lw.emitOp(OpF32Const)
		lw.emitF32(0)
		lw.emitOp(OpF32Lt)
		lw.emitOp(OpF32ConvertI32S)
		lw.emitOp(OpF32Sub)
		lw.define(h, ValF32)
		return nil
	case ir.MathMix:
		// mix(a, b, t) = a + (b - a) * t
		aLocal := lw.newLocal(ValF32)
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		lw.localSet(aLocal)
		lw.localGet(aLocal)
		if err := lw.get(*k.Arg1); err != nil {
			return err
		}
		lw.localGet(aLocal)
		lw.emitOp(OpF32Sub)
		if err := lw.get(*k.Arg2); err != nil {
			return err
		}
		lw.emitOp(OpF32Mul)
		lw.emitOp(OpF32Add)
		lw.define(h, ValF32)
		return nil
	case ir.MathStep:
		// step(edge, x) = x < edge ? 0 : 1
		lw.emitOp(OpF32Const)
		lw.emitF32(0)
		lw.emitOp(OpF32Const)
		lw.emitF32(1)
		if err := lw.get(*k.Arg1); err != nil {
			return err
		}
		if err := lw.get(k.Arg); err != nil {
			return err
		}
		lw.emitOp(OpF32Lt)
		lw.emitOp(OpSelect)
		lw.define(h, ValF32)
		return nil
	case ir.MathSmoothStep:
		return lw.lowerSmoothStep(h, k)
	case ir.MathFma:
		return lw.lowerFma(h, k)
	case ir.MathDot:
		return lw.lowerDot(h, k)
	case ir.MathLength:
		return lw.lowerLength(h, k)
	case ir.MathNormalize:
		return lw.lowerNormalize(h, k)
	default:
		if name, ok := hostMathIntrinsic(k.Fun); ok {
			return lw.lowerMathIntrinsic(h, k, name)
		}
		return newError(ErrUnsupportedBuiltin, "unsupported math function")
	}
}

// lowerSmoothStep computes t = clamp((x-edge0)/(edge1-edge0), 0, 1);
// t*t*(3-2*t), matching the GLSL/WGSL reference definition.
func (lw *lowerer) lowerSmoothStep(h ir.ExpressionHandle, k ir.ExprMath) error {
	edge0, edge1, x := k.Arg, *k.Arg1, *k.Arg2
	tLocal := lw.newLocal(ValF32)
	e0Local := lw.newLocal(ValF32)

	if err := lw.get(edge0); err != nil {
		return err
	}
	lw.localSet(e0Local)

	if err := lw.get(x); err != nil {
		return err
	}
	lw.localGet(e0Local)
	lw.emitOp(OpF32Sub)
	if err := lw.get(edge1); err != nil {
		return err
	}
	lw.localGet(e0Local)
	lw.emitOp(OpF32Sub)
	lw.emitOp(OpF32Div)
	lw.emitOp(OpF32Const)
	lw.emitF32(0)
	lw.emitOp(OpF32Max)
	lw.emitOp(OpF32Const)
	lw.emitF32(1)
	lw.emitOp(OpF32Min)
	lw.localSet(tLocal)

	// t*t*(3-2*t)
	lw.localGet(tLocal)
	lw.localGet(tLocal)
	lw.emitOp(OpF32Mul)
	lw.emitOp(OpF32Const)
	lw.emitF32(3)
	lw.emitOp(OpF32Const)
	lw.emitF32(2)
	lw.localGet(tLocal)
	lw.emitOp(OpF32Mul)
	lw.emitOp(OpF32Sub)
	lw.emitOp(OpF32Mul)
	lw.define(h, ValF32)
	return nil
}

func (lw *lowerer) lowerFma(h ir.ExpressionHandle, k ir.ExprMath) error {
	if err := lw.get(k.Arg); err != nil {
		return err
	}
	if err := lw.get(*k.Arg1); err != nil {
		return err
	}
	lw.emitOp(OpF32Mul)
	if err := lw.get(*k.Arg2); err != nil {
		return err
	}
	lw.emitOp(OpF32Add)
	lw.define(h, ValF32)
	return nil
}

func (lw *lowerer) lowerDot(h ir.ExpressionHandle, k ir.ExprMath) error {
	leftLayout, err := lw.layoutOfExpr(k.Arg)
	if err != nil {
		return err
	}
	if leftLayout.LaneCount == 0 {
		return newError(ErrUnsupportedType, "dot product on non-vector operand")
	}
	laneSize := leftLayout.SizeBytes / uint32(leftLayout.LaneCount)
	if err := lw.get(k.Arg); err != nil {
		return err
	}
	leftBase := lw.newLocal(ValI32)
	lw.localSet(leftBase)
	if err := lw.get(*k.Arg1); err != nil {
		return err
	}
	rightBase := lw.newLocal(ValI32)
	lw.localSet(rightBase)

	lw.emitOp(OpF32Const)
	lw.emitF32(0)
	for i := uint32(0); i < uint32(leftLayout.LaneCount); i++ {
		lw.localGet(leftBase)
		lw.emitOp(OpF32Load)
		lw.memArg(2, i*laneSize)
		lw.localGet(rightBase)
		lw.emitOp(OpF32Load)
		lw.memArg(2, i*laneSize)
		lw.emitOp(OpF32Mul)
		lw.emitOp(OpF32Add)
	}
	lw.define(h, ValF32)
	return nil
}

func (lw *lowerer) lowerLength(h ir.ExpressionHandle, k ir.ExprMath) error {
	dotHandle := k.Arg
	if err := lw.lowerDot(h, ir.ExprMath{Fun: ir.MathDot, Arg: dotHandle, Arg1: &dotHandle}); err != nil {
		return err
	}
	// lowerDot already called define(h, ...); take the dot value back off
	// the cache, apply sqrt, and rebind h to a fresh local so the cache
	// entry reflects the final (square-rooted) value.
	slot := lw.exprSlots[h]
	lw.localGet(slot.localIdx)
	lw.emitOp(OpF32Sqrt)
	idx := lw.newLocal(ValF32)
	lw.localTee(idx)
	lw.emitOp(OpDrop)
	lw.exprSlots[h] = exprSlot{valType: ValF32, localIdx: idx}
	return nil
}

func (lw *lowerer) lowerNormalize(h ir.ExpressionHandle, k ir.ExprMath) error {
	vecLayout, err := lw.layoutOfExpr(k.Arg)
	if err != nil {
		return err
	}
	if vecLayout.LaneCount == 0 {
		return newError(ErrUnsupportedType, "normalize on non-vector operand")
	}
	laneSize := vecLayout.SizeBytes / uint32(vecLayout.LaneCount)

	dotHandle := k.Arg
	if err := lw.lowerDot(h, ir.ExprMath{Fun: ir.MathDot, Arg: dotHandle, Arg1: &dotHandle}); err != nil {
		return err
	}
	dotSlot := lw.exprSlots[h]
	lw.localGet(dotSlot.localIdx)
	lw.emitOp(OpF32Sqrt)
	lenLocal := lw.newLocal(ValF32)
	lw.localSet(lenLocal)

	resLayout, err := lw.layoutOfExpr(h)
	if err != nil {
		return err
	}
	addr := lw.reserveFrameSlot(resLayout)
	if err := lw.get(k.Arg); err != nil {
		return err
	}
	vecBase := lw.newLocal(ValI32)
	lw.localSet(vecBase)
	for i := uint32(0); i < uint32(vecLayout.LaneCount); i++ {
		lw.frameAddr(addr + i*laneSize)
		lw.localGet(vecBase)
		lw.emitOp(OpF32Load)
		lw.memArg(2, i*laneSize)
		lw.localGet(lenLocal)
		lw.emitOp(OpF32Div)
		lw.emitOp(OpF32Store)
		lw.memArg(2, 0)
	}
	idx := lw.newLocal(ValI32)
	lw.frameAddr(addr)
	lw.localTee(idx)
	lw.emitOp(OpDrop)
	lw.exprSlots[h] = exprSlot{valType: ValI32, localIdx: idx}
	return nil
}

func (lw *lowerer) lowerAs(h ir.ExpressionHandle, k ir.ExprAs) error {
	srcLayout, err := lw.layoutOfExpr(k.Expr)
	if err != nil {
		return err
	}
	if err := lw.get(k.Expr); err != nil {
		return err
	}
	if k.Convert == nil {
		// Bitcast: reinterpret the register bits as the other type.
		switch {
		case srcLayout.ValType == ValF32 && k.Kind != ir.ScalarFloat:
			lw.emitOp(OpI32ReinterpretF32)
			lw.define(h, ValI32)
		case srcLayout.ValType == ValI32 && k.Kind == ir.ScalarFloat:
			lw.emitOp(OpF32ReinterpretI32)
			lw.define(h, ValF32)
		default:
			lw.define(h, srcLayout.ValType)
		}
		return nil
	}
	switch {
	case srcLayout.ValType == ValF32 && k.Kind != ir.ScalarFloat:
		if k.Kind == ir.ScalarUint {
			lw.emitOp(OpI32TruncF32U)
		} else {
			lw.emitOp(OpI32TruncF32S)
		}
		lw.define(h, ValI32)
	case srcLayout.ValType == ValI32 && k.Kind == ir.ScalarFloat:
		lw.emitOp(OpF32ConvertI32S)
		lw.define(h, ValF32)
	default:
		lw.define(h, srcLayout.ValType)
	}
	return nil
}

func (lw *lowerer) lowerRelational(h ir.ExpressionHandle, k ir.ExprRelational) error {
	switch k.Fun {
	case ir.RelationalIsNan:
		if err := lw.get(k.Argument); err != nil {
			return err
		}
		dup := lw.newLocal(ValF32)
		lw.localTee(dup)
		lw.localGet(dup)
		lw.emitOp(OpF32Ne)
		lw.define(h, ValI32)
		return nil
	default:
		return newError(ErrUnsupportedBuiltin, "unsupported relational function")
	}
}

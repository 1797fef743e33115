package wasm

import "github.com/gogpu/naga/ir"

// lowerBody lowers one function's (or entry point's) statement tree to
// wasm bytecode, including the frame prologue and the epilogue inlined at
// every exit point (spec.md §4.5). The caller (backend.go) supplies the
// Manifest the preparation pass computed for this function and has
// already set lw.frameSPGlobal/lw.funcIndex/lw.hostFuncs.
func (lw *lowerer) lowerBody(manifest Manifest) error {
	declSize, err := localFrameSize(lw.fn, lw.layouts)
	if err != nil {
		return err
	}
	lw.localVarRegion = declSize
	lw.tempOffset = 0
	lw.outgoingArgBase = manifest.LocalFrameSize
	lw.frameSize = manifest.FrameSize
	lw.frameBaseLocal = lw.newLocal(ValI32)

	if err := lw.assignLocalVars(); err != nil {
		return err
	}
	lw.emitPrologue(manifest)

	if err := lw.emitBlockStmts(lw.fn.Body); err != nil {
		return err
	}

	// Entry points never return a wasm value (outputs are scattered to
	// fixed addresses instead); an internal void function's body may
	// likewise fall off its last statement without an explicit return.
	// A non-void internal function's body is guaranteed, by the same IR
	// invariant every WGSL/SPIR-V frontend already enforces, to return
	// explicitly on every path, so no implicit trailing return is
	// synthesized for it (and none is needed to satisfy wasm's result
	// arity check).
	if lw.entryInputs != nil || lw.fn.Result == nil {
		lw.emitEpilogueRestore()
	}
	return nil
}

// emitPrologue computes this call's frame base and, if the function
// needs frame storage, subtracts FrameSize from FRAME_SP (spec.md §4.5).
// A function that needs no frame storage still caches FRAME_SP's current
// value in frameBaseLocal, unchanged, so frame-relative addressing code
// is uniform regardless of whether this function actually has a frame.
func (lw *lowerer) emitPrologue(manifest Manifest) {
	lw.emitOp(OpGlobalGet)
	lw.emitU32(lw.frameSPGlobal)
	if manifest.NeedsFrameAlloc {
		lw.emitOp(OpI32Const)
		lw.emitI32(int32(manifest.FrameSize))
		lw.emitOp(OpI32Sub)
	}
	lw.localSet(lw.frameBaseLocal)
}

// emitEpilogueRestore restores FRAME_SP to its value on entry. Inlined at
// every return/kill site rather than funneled through one shared
// structured branch target: wasm's block result-type bookkeeping for a
// single shared epilogue label is more machinery than this backend's
// effort budget affords, and the restore itself is a four-instruction
// sequence, so duplicating it costs little.
func (lw *lowerer) emitEpilogueRestore() {
	if lw.frameSize == 0 {
		return
	}
	lw.localGet(lw.frameBaseLocal)
	lw.emitOp(OpI32Const)
	lw.emitI32(int32(lw.frameSize))
	lw.emitOp(OpI32Add)
	lw.emitOp(OpGlobalSet)
	lw.emitU32(lw.frameSPGlobal)
}

// assignLocalVars gives every declared local variable its slot: a fresh
// wasm local for a register-resident type, or a frame offset (laid out
// with the same alignment-accumulation rule localFrameSize in
// registry.go uses to size the region) for a composite one. Initializers
// run after every slot is assigned, in declaration order.
func (lw *lowerer) assignLocalVars() error {
	lw.localVars = make([]localVarSlot, len(lw.fn.LocalVars))
	var offset uint32
	for i, lv := range lw.fn.LocalVars {
		l, err := lw.layouts.LayoutOf(lv.Type)
		if err != nil {
			return err
		}
		if l.Residency == ResidentRegister {
			idx := lw.newLocal(l.ValType)
			lw.localVars[i] = localVarSlot{localIdx: idx, valType: l.ValType}
			continue
		}
		offset = alignUp(offset, l.AlignBytes)
		lw.localVars[i] = localVarSlot{isMemory: true, offset: offset, valType: ValI32}
		offset += l.SizeBytes
	}

	for i, lv := range lw.fn.LocalVars {
		if lv.Init == nil {
			continue
		}
		slot := lw.localVars[i]
		if slot.isMemory {
			l, err := lw.layouts.LayoutOf(lv.Type)
			if err != nil {
				return err
			}
			if err := lw.copyMemory(slot.offset, *lv.Init, l.SizeBytes); err != nil {
				return err
			}
			continue
		}
		if err := lw.get(*lv.Init); err != nil {
			return err
		}
		lw.localSet(slot.localIdx)
	}
	return nil
}

// emitBlockStmts lowers a statement sequence in order.
func (lw *lowerer) emitBlockStmts(stmts []ir.Statement) error {
	for _, stmt := range stmts {
		if err := lw.emitStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

// depthTo converts a breakStack/continueStack snapshot into the relative
// branch depth a br/br_if targeting it needs right now: marker records
// blockDepth immediately after the target block/loop was opened, so the
// current blockDepth minus that marker is how many structured blocks
// currently sit between here and that target's own `end`.
func (lw *lowerer) depthTo(marker uint32) uint32 {
	return uint32(lw.blockDepth) - marker
}

func (lw *lowerer) emitStmt(stmt ir.Statement) error {
	switch k := stmt.Kind.(type) {
	case ir.StmtEmit:
		for h := k.Range.Start; h < k.Range.End; h++ {
			if err := lw.evaluate(h); err != nil {
				return err
			}
		}
		return nil
	case ir.StmtBlock:
		return lw.emitBlockStmts(k.Block)
	case ir.StmtIf:
		return lw.emitIf(k)
	case ir.StmtSwitch:
		return lw.emitSwitch(k)
	case ir.StmtLoop:
		return lw.emitLoop(k)
	case ir.StmtBreak:
		return lw.emitBreak()
	case ir.StmtContinue:
		return lw.emitContinue()
	case ir.StmtReturn:
		return lw.emitReturn(k.Value)
	case ir.StmtKill:
		return lw.emitKill()
	case ir.StmtBarrier:
		return lw.emitBarrier(k)
	case ir.StmtStore:
		return lw.emitStore(k)
	case ir.StmtCall:
		return lw.emitCall(k)
	case ir.StmtImageStore:
		return newError(ErrUnsupportedFeature, "image store not supported")
	case ir.StmtAtomic:
		return newError(ErrUnsupportedFeature, "atomics not supported")
	case ir.StmtWorkGroupUniformLoad:
		return newError(ErrUnsupportedFeature, "workgroupUniformLoad not supported")
	case ir.StmtRayQuery:
		return newError(ErrUnsupportedFeature, "ray queries not supported")
	default:
		return newError(ErrUnsupportedFeature, "unsupported statement kind")
	}
}

func (lw *lowerer) emitIf(k ir.StmtIf) error {
	if err := lw.get(k.Condition); err != nil {
		return err
	}
	lw.emitOp(OpIf)
	lw.emit(byte(BlockEmpty))
	lw.blockDepth++
	if err := lw.emitBlockStmts(k.Accept); err != nil {
		return err
	}
	if len(k.Reject) > 0 {
		lw.emitOp(OpElse)
		if err := lw.emitBlockStmts(k.Reject); err != nil {
			return err
		}
	}
	lw.emitOp(OpEnd)
	lw.blockDepth--
	return nil
}

// emitLoop lowers a loop as an outer `block` (the break target) wrapping
// an inner `loop` (the continue target), matching spirv.backend's label-
// stack-threading style for break/continue retargeted to wasm's
// nesting-depth branches (DESIGN.md). The loop body and continuing
// section run once per trip; since a wasm `loop` does not repeat on its
// own, the bottom of the continuing section always branches back to the
// loop's own start unless BreakIf's condition is true, in which case it
// branches out to the break target instead.
func (lw *lowerer) emitLoop(k ir.StmtLoop) error {
	lw.emitOp(OpBlock)
	lw.emit(byte(BlockEmpty))
	lw.blockDepth++
	breakMarker := uint32(lw.blockDepth)
	lw.breakStack = append(lw.breakStack, breakMarker)

	lw.emitOp(OpLoop)
	lw.emit(byte(BlockEmpty))
	lw.blockDepth++
	continueMarker := uint32(lw.blockDepth)
	lw.continueStack = append(lw.continueStack, continueMarker)

	if err := lw.emitBlockStmts(k.Body); err != nil {
		return err
	}
	if err := lw.emitBlockStmts(k.Continuing); err != nil {
		return err
	}
	if k.BreakIf != nil {
		if err := lw.get(*k.BreakIf); err != nil {
			return err
		}
		lw.emitOp(OpBrIf)
		lw.emitU32(lw.depthTo(breakMarker))
	}
	lw.emitOp(OpBr)
	lw.emitU32(lw.depthTo(continueMarker))

	lw.emitOp(OpEnd) // loop
	lw.blockDepth--
	lw.continueStack = lw.continueStack[:len(lw.continueStack)-1]
	lw.emitOp(OpEnd) // block
	lw.blockDepth--
	lw.breakStack = lw.breakStack[:len(lw.breakStack)-1]
	return nil
}

func (lw *lowerer) emitBreak() error {
	if len(lw.breakStack) == 0 {
		return newError(ErrInternalInvariantViolated, "break outside loop or switch")
	}
	target := lw.breakStack[len(lw.breakStack)-1]
	lw.emitOp(OpBr)
	lw.emitU32(lw.depthTo(target))
	return nil
}

func (lw *lowerer) emitContinue() error {
	if len(lw.continueStack) == 0 {
		return newError(ErrInternalInvariantViolated, "continue outside loop")
	}
	target := lw.continueStack[len(lw.continueStack)-1]
	lw.emitOp(OpBr)
	lw.emitU32(lw.depthTo(target))
	return nil
}

// emitSwitch lowers a switch to a sequence of sibling blocks, one per
// case, rather than a literal br_table (a documented simplification:
// spec.md §4.5 describes br_table literally, but a compare-chain needs no
// dense, bounds-checked jump table construction to support fallthrough
// correctly). A running "matched" flag implements WGSL/GLSL-style
// fallthrough for free: once any case's value equals the selector (or a
// preceding fallthrough case left the flag set), every following case
// runs its body too until one without FallThrough branches out. Default
// is moved to evaluate last, matching switch semantics where it fires
// only when nothing else matched, independent of its source position.
func (lw *lowerer) emitSwitch(k ir.StmtSwitch) error {
	if err := lw.get(k.Selector); err != nil {
		return err
	}
	selLocal := lw.newLocal(ValI32)
	lw.localSet(selLocal)
	matchedLocal := lw.newLocal(ValI32)
	lw.emitOp(OpI32Const)
	lw.emitI32(0)
	lw.localSet(matchedLocal)

	cases := reorderSwitchDefaultLast(k.Cases)

	lw.emitOp(OpBlock)
	lw.emit(byte(BlockEmpty))
	lw.blockDepth++
	endMarker := uint32(lw.blockDepth)
	lw.breakStack = append(lw.breakStack, endMarker)

	for _, c := range cases {
		lw.emitOp(OpBlock)
		lw.emit(byte(BlockEmpty))
		lw.blockDepth++
		skipMarker := uint32(lw.blockDepth)

		switch v := c.Value.(type) {
		case ir.SwitchValueDefault:
			lw.localGet(matchedLocal)
			lw.emitOp(OpI32Eqz)
		case ir.SwitchValueI32:
			lw.localGet(selLocal)
			lw.emitOp(OpI32Const)
			lw.emitI32(int32(v))
			lw.emitOp(OpI32Eq)
		case ir.SwitchValueU32:
			lw.localGet(selLocal)
			lw.emitOp(OpI32Const)
			lw.emitI32(int32(uint32(v)))
			lw.emitOp(OpI32Eq)
		default:
			return newError(ErrUnsupportedFeature, "unsupported switch value kind")
		}
		lw.localGet(matchedLocal)
		lw.emitOp(OpI32Or)
		lw.localSet(matchedLocal)

		lw.localGet(matchedLocal)
		lw.emitOp(OpI32Eqz)
		lw.emitOp(OpBrIf)
		lw.emitU32(lw.depthTo(skipMarker))

		if err := lw.emitBlockStmts(c.Body); err != nil {
			return err
		}
		if !c.FallThrough {
			lw.emitOp(OpBr)
			lw.emitU32(lw.depthTo(endMarker))
		}

		lw.emitOp(OpEnd)
		lw.blockDepth--
	}

	lw.emitOp(OpEnd)
	lw.blockDepth--
	lw.breakStack = lw.breakStack[:len(lw.breakStack)-1]
	return nil
}

func reorderSwitchDefaultLast(cases []ir.SwitchCase) []ir.SwitchCase {
	out := make([]ir.SwitchCase, 0, len(cases))
	var def *ir.SwitchCase
	for i := range cases {
		if _, ok := cases[i].Value.(ir.SwitchValueDefault); ok {
			c := cases[i]
			def = &c
			continue
		}
		out = append(out, cases[i])
	}
	if def != nil {
		out = append(out, *def)
	}
	return out
}

// emitReturn scatters the return value (if any) to wherever this
// function's calling convention expects it, restores FRAME_SP, and
// exits. Inlined at every return site (see emitEpilogueRestore).
func (lw *lowerer) emitReturn(value *ir.ExpressionHandle) error {
	if value != nil {
		if err := lw.scatterResult(*value); err != nil {
			return err
		}
	}
	lw.emitEpilogueRestore()
	lw.emitOp(OpReturn)
	return nil
}

// scatterResult places a return value where the caller (or, for an entry
// point, the host) expects to find it: an entry point's stage contract
// output slots, an internal function's sret destination pointer (the
// caller-supplied address in wasm param 0), or the wasm value stack for
// a register result.
func (lw *lowerer) scatterResult(value ir.ExpressionHandle) error {
	if lw.entryOutputs != nil {
		return lw.scatterEntryOutputs(value)
	}
	if lw.abi.Sret != nil {
		lw.localGet(0)
		sretLocal := lw.newLocal(ValI32)
		lw.localSet(sretLocal)
		return lw.copyToAddrValue(sretLocal, value, lw.abi.Sret.Size)
	}
	return lw.get(value)
}

// scatterEntryOutputs writes every stage-contract output field from the
// entry point's single return value. A struct result's fields sit at
// offsets within the materialized struct (value is its frame address);
// a non-struct result is itself the one output field.
func (lw *lowerer) scatterEntryOutputs(value ir.ExpressionHandle) error {
	_, isStruct := lw.module.Types[lw.fn.Result.Type].Inner.(ir.StructType)

	for _, out := range lw.entryOutputs {
		srcOffset := out.srcOffset
		if !isStruct {
			srcOffset = 0
		}
		if out.isMemory {
			if err := lw.copyAbsFrom(out.addr, value, srcOffset, out.size); err != nil {
				return err
			}
			continue
		}
		if !isStruct {
			if err := lw.storeScalarAbsFrom(out.addr, value, out.valType); err != nil {
				return err
			}
			continue
		}
		if err := lw.loadFieldAndStoreAbs(out.addr, value, srcOffset, out.valType); err != nil {
			return err
		}
	}
	return nil
}

// loadFieldAndStoreAbs loads one scalar field out of a materialized
// struct (src's address, plus a byte offset into it) and stores it to a
// fixed absolute destination — the struct-field counterpart of
// storeScalarAbsFrom, which assumes src itself already is the scalar.
func (lw *lowerer) loadFieldAndStoreAbs(dstAddr uint32, src ir.ExpressionHandle, srcOffset uint32, valType ValType) error {
	lw.pushConst(dstAddr)
	if err := lw.get(src); err != nil {
		return err
	}
	switch valType {
	case ValF32:
		lw.emitOp(OpF32Load)
	case ValI64:
		lw.emitOp(OpI64Load)
	case ValF64:
		lw.emitOp(OpF64Load)
	default:
		lw.emitOp(OpI32Load)
	}
	lw.memArg(2, srcOffset)
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

// emitKill implements fragment discard: set the fixed discard flag, then
// exit exactly like a return (spec.md §4.6's "discard flag" output).
func (lw *lowerer) emitKill() error {
	lw.pushConst(lw.discardAddr)
	lw.emitOp(OpI32Const)
	lw.emitI32(1)
	lw.emitOp(OpI32Store)
	lw.memArg(2, 0)
	lw.emitEpilogueRestore()
	lw.emitOp(OpReturn)
	return nil
}

// emitBarrier lowers to the imported "barrier" host function: this
// backend evaluates one invocation per call with no real concurrent
// workgroup, so the host stub's only job is to preserve the barrier as a
// sequence point rather than actually synchronize anything (spec.md §5).
func (lw *lowerer) emitBarrier(k ir.StmtBarrier) error {
	lw.emitOp(OpI32Const)
	lw.emitI32(int32(k.Flags))
	return lw.callHost("barrier")
}

// emitStore lowers StmtStore: the pointer expression always evaluates to
// an i32 address under this backend's frame-pointer representation
// (global, local, or access-index results are all addresses), so the
// only distinction is a one-word register store versus a byte-copy of a
// composite value into that runtime address.
func (lw *lowerer) emitStore(k ir.StmtStore) error {
	if err := lw.get(k.Pointer); err != nil {
		return err
	}
	ptrLocal := lw.newLocal(ValI32)
	lw.localSet(ptrLocal)

	valLayout, err := lw.layoutOfExpr(k.Value)
	if err != nil {
		return err
	}
	if valLayout.Residency == ResidentRegister {
		lw.localGet(ptrLocal)
		if err := lw.get(k.Value); err != nil {
			return err
		}
		switch valLayout.ValType {
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
	return lw.copyToAddrValue(ptrLocal, k.Value, valLayout.SizeBytes)
}

// copyToAddrValue copies a composite value to a runtime-computed
// destination address already held in dstAddrLocal — the StmtStore/sret-
// return counterpart of copyMemory (whose destination is a compile-time
// frame offset) and copyAbsFrom (whose destination is a compile-time
// absolute address): here the destination itself is only known at
// runtime, so it is loaded from a local once and reused via each
// load/store's own memarg offset, exactly as copyMemory reuses frameAddr.
func (lw *lowerer) copyToAddrValue(dstAddrLocal uint32, src ir.ExpressionHandle, size uint32) error {
	srcAddrLocal := lw.newLocal(ValI32)
	if err := lw.get(src); err != nil {
		return err
	}
	lw.localSet(srcAddrLocal)

	var off uint32
	for off+4 <= size {
		lw.localGet(dstAddrLocal)
		lw.localGet(srcAddrLocal)
		lw.emitOp(OpI32Load)
		lw.memArg(2, off)
		lw.emitOp(OpI32Store)
		lw.memArg(2, off)
		off += 4
	}
	for off < size {
		lw.localGet(dstAddrLocal)
		lw.localGet(srcAddrLocal)
		lw.emitOp(OpI32Load8U)
		lw.memArg(0, off)
		lw.emitOp(OpI32Store8)
		lw.memArg(0, off)
		off++
	}
	return nil
}

// emitCall lowers a direct call: the sret destination (if the callee
// returns a composite) is pushed first, then every argument in order —
// a register value pushed directly, a composite value copied into this
// function's shared outgoing-argument region (valid here, unlike
// StmtStore's destination, because that region genuinely is
// frame-relative) with its address pushed as the actual i32 argument.
// The callee's ABI comes from the registry the preparation pass already
// populated, so call sites never recompute it.
func (lw *lowerer) emitCall(k ir.StmtCall) error {
	manifest, ok := lw.registry.Lookup(InternalFunctionKey(k.Function))
	if !ok {
		return newError(ErrInternalInvariantViolated, "callee manifest not found")
	}
	abi := manifest.ABI

	if abi.Sret != nil {
		lw.frameAddr(lw.outgoingArgBase + abi.Sret.Offset)
	}

	for i, arg := range k.Arguments {
		switch p := abi.Params[i].(type) {
		case PassRegister:
			if err := lw.get(arg); err != nil {
				return err
			}
		case PassPointerInCallerFrame:
			dst := lw.outgoingArgBase + p.Offset
			if err := lw.copyMemory(dst, arg, p.Size); err != nil {
				return err
			}
			lw.frameAddr(dst)
		default:
			return newError(ErrInternalInvariantViolated, "unsupported passing convention")
		}
	}

	idx, ok := lw.funcIndex[k.Function]
	if !ok {
		return newError(ErrInternalInvariantViolated, "callee has no assigned function index")
	}
	lw.emitOp(OpCall)
	lw.emitU32(idx)

	if k.Result == nil {
		return nil
	}
	if abi.Sret != nil {
		lw.frameAddr(lw.outgoingArgBase + abi.Sret.Offset)
		lw.define(*k.Result, ValI32)
		return nil
	}
	if reg, ok := abi.Result.(PassRegister); ok {
		lw.define(*k.Result, reg.ValType)
		return nil
	}
	return newError(ErrInternalInvariantViolated, "call result with no result-producing ABI")
}

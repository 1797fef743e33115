package wasm

import "github.com/gogpu/naga/ir"

// FunctionKey names one compiled function, internal or entry point. naga's
// IR keys entry points by name rather than by a FunctionHandle into
// Module.Functions, so the registry needs a tagged key to address either
// kind uniformly (grounded on the tagged function-key idiom used to
// address both ordinary and entry-point functions in a single lowering
// pass over a naga-style IR).
type FunctionKey struct {
	entryPoint bool
	handle     ir.FunctionHandle
	name       string
}

// InternalFunctionKey addresses an ordinary (non-entry-point) function.
func InternalFunctionKey(h ir.FunctionHandle) FunctionKey {
	return FunctionKey{handle: h}
}

// EntryPointKey addresses an entry point by name.
func EntryPointKey(name string) FunctionKey {
	return FunctionKey{entryPoint: true, name: name}
}

// IsEntryPoint reports whether the key addresses an entry point.
func (k FunctionKey) IsEntryPoint() bool { return k.entryPoint }

// Handle returns the backing function handle. Valid only when
// !IsEntryPoint().
func (k FunctionKey) Handle() ir.FunctionHandle { return k.handle }

// Name returns the entry point name. Valid only when IsEntryPoint().
func (k FunctionKey) Name() string { return k.name }

// Manifest is the per-function record the preparation pass computes
// (spec.md §4.3): the function's calling convention and the size of the
// linear frame it needs.
type Manifest struct {
	// ABI is the zero value for entry points; they use the stage
	// contract in builtins.go instead of abiOf (spec.md §4.2).
	ABI FunctionABI

	// LocalFrameSize is the memory this function's own composite
	// locals (and sret-bound composite parameters already counted in
	// ABI) need, not counting space reserved for calls it makes.
	LocalFrameSize uint32

	// OutgoingArgRegionSize is the largest ArgRegionSize among all
	// functions this function calls directly; callers reserve one
	// shared region sized for the worst call site since calls never
	// nest within a single function's frame (spec.md §4.3).
	OutgoingArgRegionSize uint32

	// FrameSize is LocalFrameSize + OutgoingArgRegionSize, rounded up
	// to 16 bytes, the total this function's prologue subtracts from
	// FRAME_SP.
	FrameSize uint32

	// NeedsFrameAlloc reports whether FrameSize > 0, i.e. whether the
	// function needs a prologue/epilogue adjusting FRAME_SP at all.
	NeedsFrameAlloc bool
}

// FunctionRegistry is the result of the preparation pass: a manifest for
// every function and entry point in a module, keyed and ordered for
// deterministic codegen.
type FunctionRegistry struct {
	module    *ir.Module
	layouts   *LayoutTable
	manifests map[FunctionKey]Manifest
	order     []FunctionKey
}

// Lookup returns the manifest for a key.
func (r *FunctionRegistry) Lookup(key FunctionKey) (Manifest, bool) {
	m, ok := r.manifests[key]
	return m, ok
}

// Order returns every function key in module declaration order: internal
// functions first (by index into Module.Functions), then entry points.
func (r *FunctionRegistry) Order() []FunctionKey {
	return r.order
}

// prepModule runs the preparation pass over a module (spec.md §4.3),
// computing a FunctionABI and a frame-size manifest for every function
// and entry point.
func prepModule(module *ir.Module, layouts *LayoutTable) (*FunctionRegistry, error) {
	reg := &FunctionRegistry{
		module:    module,
		layouts:   layouts,
		manifests: make(map[FunctionKey]Manifest, len(module.Functions)+len(module.EntryPoints)),
	}

	abis := make(map[ir.FunctionHandle]FunctionABI, len(module.Functions))
	for i := range module.Functions {
		handle := ir.FunctionHandle(i)
		abi, err := abiOf(module, &module.Functions[i], layouts)
		if err != nil {
			return nil, err
		}
		abis[handle] = abi
	}

	for i := range module.Functions {
		handle := ir.FunctionHandle(i)
		fn := &module.Functions[i]
		key := InternalFunctionKey(handle)

		declSize, err := localFrameSize(fn, layouts)
		if err != nil {
			return nil, err
		}
		tempSize, err := temporaryFrameSize(fn, layouts)
		if err != nil {
			return nil, err
		}
		argRegion := maxOutgoingArgRegion(fn.Body, abis)

		reg.manifests[key] = buildManifest(abis[handle], declSize+tempSize, argRegion)
		reg.order = append(reg.order, key)
	}

	for i := range module.EntryPoints {
		ep := &module.EntryPoints[i]
		key := EntryPointKey(ep.Name)
		fn := &module.Functions[ep.Function]

		declSize, err := localFrameSize(fn, layouts)
		if err != nil {
			return nil, err
		}
		tempSize, err := temporaryFrameSize(fn, layouts)
		if err != nil {
			return nil, err
		}
		argRegion := maxOutgoingArgRegion(fn.Body, abis)

		reg.manifests[key] = buildManifest(FunctionABI{}, declSize+tempSize, argRegion)
		reg.order = append(reg.order, key)
	}

	return reg, nil
}

func buildManifest(abi FunctionABI, localSize, argRegion uint32) Manifest {
	total := alignUp(localSize+argRegion, argSlotAlign)
	return Manifest{
		ABI:                   abi,
		LocalFrameSize:        localSize,
		OutgoingArgRegionSize: argRegion,
		FrameSize:             total,
		NeedsFrameAlloc:       total > 0,
	}
}

// localFrameSize sums the memory a function's composite local variables
// need, each aligned to its own type's alignment (spec.md §4.3).
func localFrameSize(fn *ir.Function, layouts *LayoutTable) (uint32, error) {
	var offset uint32
	for _, local := range fn.LocalVars {
		l, err := layouts.LayoutOf(local.Type)
		if err != nil {
			return 0, err
		}
		if l.Residency == ResidentRegister {
			continue
		}
		offset = alignUp(offset, l.AlignBytes)
		offset += l.SizeBytes
	}
	return offset, nil
}

// temporaryFrameSize sums the frame space the expression lowerer will
// bump-allocate via reserveFrameSlot for this function's anonymous
// composite temporaries (spec.md §4.3, §4.4): constructed vectors,
// matrices and structs (ExprCompose), splats, swizzles, elementwise
// vector/matrix binary results, zeroed composite values and normalized
// vectors. Each slot is conservatively rounded up to 16 bytes so the sum
// bounds the bump allocator's actual usage regardless of lowering order,
// since expressions are lowered lazily on first reference rather than in
// handle order.
func temporaryFrameSize(fn *ir.Function, layouts *LayoutTable) (uint32, error) {
	var total uint32
	for h := range fn.Expressions {
		handle := ir.ExpressionHandle(h)
		if !expressionReservesFrameSlot(fn, handle) {
			continue
		}
		res := fn.ExpressionTypes[handle]
		var l Layout
		var err error
		if res.Handle != nil {
			l, err = layouts.LayoutOf(*res.Handle)
		} else {
			l, err = layouts.layoutInner(res.Value)
		}
		if err != nil {
			return 0, err
		}
		if l.Residency == ResidentRegister {
			// Scalar zero values and scalar binary results never call
			// reserveFrameSlot even though their expression kind can.
			continue
		}
		total += alignUp(l.SizeBytes, argSlotAlign)
	}
	return total, nil
}

func expressionReservesFrameSlot(fn *ir.Function, h ir.ExpressionHandle) bool {
	switch k := fn.Expressions[h].Kind.(type) {
	case ir.ExprCompose, ir.ExprSplat, ir.ExprSwizzle:
		return true
	case ir.ExprZeroValue:
		return true
	case ir.ExprMath:
		return k.Fun == ir.MathNormalize
	case ir.ExprBinary:
		// Mirrors lowerBinary's dispatch: any shape other than
		// register-op-register materializes its result in the frame.
		return true
	case ir.ExprImageSample, ir.ExprImageLoad:
		// Both materialize a vec4<f32> texel via imageResultLayout.
		return true
	default:
		return false
	}
}

// maxOutgoingArgRegion walks a function body for direct calls and returns
// the largest ArgRegionSize among their callees' ABIs (spec.md §4.3: a
// single shared outgoing-argument region is reused across all call
// sites in a function, since calls do not nest within one frame).
func maxOutgoingArgRegion(body []ir.Statement, abis map[ir.FunctionHandle]FunctionABI) uint32 {
	var max uint32
	walkStatements(body, func(call ir.StmtCall) {
		if abi, ok := abis[call.Function]; ok && abi.ArgRegionSize > max {
			max = abi.ArgRegionSize
		}
	})
	return max
}

func walkStatements(stmts []ir.Statement, visit func(ir.StmtCall)) {
	for _, stmt := range stmts {
		switch k := stmt.Kind.(type) {
		case ir.StmtCall:
			visit(k)
		case ir.StmtBlock:
			walkStatements(k.Block, visit)
		case ir.StmtIf:
			walkStatements(k.Accept, visit)
			walkStatements(k.Reject, visit)
		case ir.StmtSwitch:
			for _, c := range k.Cases {
				walkStatements(c.Body, visit)
			}
		case ir.StmtLoop:
			walkStatements(k.Body, visit)
			walkStatements(k.Continuing, visit)
		}
	}
}

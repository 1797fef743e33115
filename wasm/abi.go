package wasm

import "github.com/gogpu/naga/ir"

// Passing describes how a single parameter or result crosses a call
// boundary in the generated module (spec.md §3, §4.2).
type Passing interface {
	passing()
}

// PassRegister passes the value directly as a stack-machine value.
type PassRegister struct {
	ValType ValType
}

func (PassRegister) passing() {}

// PassPointerInCallerFrame passes a composite value by writing it into a
// slot the caller reserves in its outgoing-argument region, then pushing
// that slot's frame offset (an i32) as the actual argument.
type PassPointerInCallerFrame struct {
	Offset uint32
	Size   uint32
}

func (PassPointerInCallerFrame) passing() {}

// PassSret is the hidden pointer argument a caller passes so a callee can
// write its composite result through it.
type PassSret struct {
	Offset uint32
	Size   uint32
}

func (PassSret) passing() {}

// FunctionABI is the per-function calling convention computed by abiOf
// (spec.md §4.2). Params is parallel to the function's declared
// arguments; Sret is set instead of Result when the function returns a
// composite value.
type FunctionABI struct {
	Params []Passing
	Result Passing // PassRegister, or nil for void/sret results
	Sret   *PassSret

	// ArgRegionSize is the total byte size of the outgoing-argument
	// sub-region a caller must reserve to call this function: the sret
	// slot (if any) plus every PointerInCallerFrame slot, in the fixed
	// relative layout this ABI assigns. Every caller of this function
	// reserves exactly this many bytes (at whatever absolute frame
	// offset the preparation pass picks for that call site).
	ArgRegionSize uint32
}

// argSlotAlign is the alignment used for composite argument slots within
// the outgoing-argument sub-region. 16 matches the frame's own alignment
// (spec.md §4.3 rounds frame sizes to 16) and is never smaller than any
// IR type's alignment (spec.md §3 caps type alignment at 16).
const argSlotAlign = 16

// abiOf computes the calling convention for a function per spec.md §4.2:
//   - scalar/pointer parameters are passed by register
//   - composite parameters are passed by PointerInCallerFrame
//   - scalar results are returned by stack-machine value
//   - composite results use a hidden SretPointer first argument
//
// Entry points do not go through abiOf; they use the stage contract in
// builtins.go instead (spec.md §4.2, §4.6).
func abiOf(module *ir.Module, fn *ir.Function, layouts *LayoutTable) (FunctionABI, error) {
	var abi FunctionABI

	var offset uint32
	if fn.Result != nil {
		resLayout, err := layouts.LayoutOf(fn.Result.Type)
		if err != nil {
			return FunctionABI{}, err
		}
		if resLayout.Residency == ResidentRegister {
			abi.Result = PassRegister{ValType: resLayout.ValType}
		} else {
			abi.Sret = &PassSret{Offset: 0, Size: resLayout.SizeBytes}
			offset = alignUp(resLayout.SizeBytes, argSlotAlign)
		}
	}

	abi.Params = make([]Passing, len(fn.Arguments))
	for i, arg := range fn.Arguments {
		argLayout, err := layouts.LayoutOf(arg.Type)
		if err != nil {
			return FunctionABI{}, err
		}
		if argLayout.Residency == ResidentRegister {
			abi.Params[i] = PassRegister{ValType: argLayout.ValType}
			continue
		}
		offset = alignUp(offset, argLayout.AlignBytes)
		abi.Params[i] = PassPointerInCallerFrame{Offset: offset, Size: argLayout.SizeBytes}
		offset += argLayout.SizeBytes
	}

	abi.ArgRegionSize = alignUp(offset, argSlotAlign)
	return abi, nil
}

package wasm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/tetratelabs/wabin/leb128"
)

// debugFuncSource is one compiled function's position for debug emission:
// its name, a deterministic line number (its declaration index, 1-based,
// across functions then entry points), and the byte offset into the code
// section's payload where its body begins.
//
// naga's ir.Module carries no per-statement source spans (unlike the
// original Rust implementation's naga::Span), so this backend cannot
// honor a true per-statement line mapping; per spec.md §9's "never
// synthesize positions", it does not guess one. Debug info here is
// function-granular: each function gets exactly the line its
// declaration position in the module gives it, which is a real,
// deterministic fact about the module, not an invented source location.
type debugFuncSource struct {
	name       string
	line       uint32
	codeOffset uint32
}

// DWARF line number program opcodes actually used here.
const (
	dwLNSCopy          = 1
	dwLNSAdvancePC     = 2
	dwLNSAdvanceLine   = 3
	dwLNEEndSequence   = 1
	dwLNESetAddress    = 2
	dwarfLineBase      = -5
	dwarfLineRange     = 14
	dwarfOpcodeBase    = 13
)

// emitDebugInfo builds the optional DWARF .debug_line custom section and
// the companion JS stub + base64 source map (spec.md §4.8), gated by
// Options.DebugInfo.
func emitDebugInfo(funcs []debugFuncSource) ([]byte, []byte, error) {
	dwarf := buildDebugLineProgram(funcs)
	stub := buildJSStub(funcs)
	return dwarf, stub, nil
}

// buildDebugLineProgram emits a minimal, structurally valid DWARF 4
// .debug_line program body (spec.md §4.8): one row per function,
// advancing the address to the function's code offset and the line to
// its declaration line, followed by a single end-of-sequence row
// covering the whole unit.
func buildDebugLineProgram(funcs []debugFuncSource) []byte {
	var fileNames []byte
	fileNames = append(fileNames, encodeDwarfString("shader")...)
	fileNames = append(fileNames, leb128.EncodeUint32(0)...) // directory index
	fileNames = append(fileNames, leb128.EncodeUint32(0)...) // mtime
	fileNames = append(fileNames, leb128.EncodeUint32(0)...) // length
	fileNames = append(fileNames, 0)                         // terminate file_names

	stdOpcodeLengths := []byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}

	var header []byte
	header = append(header, 1)                // minimum_instruction_length
	header = append(header, 1)                // maximum_operations_per_instruction
	header = append(header, 1)                // default_is_stmt
	header = append(header, byte(int8(dwarfLineBase)))
	header = append(header, byte(dwarfLineRange))
	header = append(header, byte(dwarfOpcodeBase))
	header = append(header, stdOpcodeLengths...)
	header = append(header, 0) // empty include_directories
	header = append(header, fileNames...)

	program := buildLineProgramRows(funcs)

	var body []byte
	body = append(body, 4, 0) // version = 4
	body = binary.LittleEndian.AppendUint32(body, uint32(len(header))) // header_length
	body = append(body, header...)
	body = append(body, program...)

	var section []byte
	section = binary.LittleEndian.AppendUint32(section, uint32(len(body))) // unit_length
	section = append(section, body...)
	return section
}

// buildLineProgramRows emits the line number program proper: for each
// function, DW_LNE_set_address to its code offset, DW_LNS_advance_line
// to its declaration line, DW_LNS_copy to emit the row; a trailing
// DW_LNE_end_sequence closes the unit at the last function's offset.
func buildLineProgramRows(funcs []debugFuncSource) []byte {
	var prog []byte
	var curLine int64 = 1

	for _, f := range funcs {
		// DW_LNE_set_address (extended opcode): 0x00, length, opcode, addr.
		addr := binary.LittleEndian.AppendUint32(nil, f.codeOffset)
		extLen := len(addr) + 1
		prog = append(prog, 0x00)
		prog = append(prog, leb128.EncodeUint32(uint32(extLen))...)
		prog = append(prog, dwLNESetAddress)
		prog = append(prog, addr...)

		delta := int64(f.line) - curLine
		if delta != 0 {
			prog = append(prog, dwLNSAdvanceLine)
			prog = append(prog, leb128.EncodeInt32(int32(delta))...)
			curLine = int64(f.line)
		}

		prog = append(prog, dwLNSCopy)
	}

	// DW_LNE_end_sequence.
	prog = append(prog, 0x00, 0x01, dwLNEEndSequence)
	return prog
}

func encodeDwarfString(s string) []byte {
	return append([]byte(s), 0)
}

// buildJSStub generates the companion JS "stub" (spec.md §4.8): one
// array entry per compiled function rather than per shader source line,
// since this backend has no source text to echo line-for-line; each
// entry is annotated with the function's name and calls back into the
// host's step hook, matching the original debug harness's call-site
// marker convention (original_source/src/naga_wasm_backend/debug/stub.rs)
// adapted to function-level granularity.
func buildJSStub(funcs []debugFuncSource) []byte {
	var js strings.Builder
	js.WriteString("[\n")
	for _, f := range funcs {
		fmt.Fprintf(&js, "  (...) => { /* %s */ this?.go?.(); },\n", f.name)
	}
	js.WriteString("]")

	mapJSON := buildSourceMapJSON(funcs)
	b64 := base64.StdEncoding.EncodeToString([]byte(mapJSON))
	fmt.Fprintf(&js, "\n//# sourceMappingURL=data:application/json;base64,%s\n", b64)
	return []byte(js.String())
}

// buildSourceMapJSON builds a source map whose mappings field advances
// one generated line per function and one source line per function's
// declaration line, using VLQ-encoded relative fields exactly as the
// standard source map format requires.
func buildSourceMapJSON(funcs []debugFuncSource) string {
	var mappings strings.Builder
	var prevLine int64
	for _, f := range funcs {
		lineDelta := int64(f.line) - 1 - prevLine
		prevLine = int64(f.line) - 1
		// Segment fields: [genCol, sourceFileIdx, sourceLine, sourceCol].
		mappings.WriteString(encodeVLQ(0))
		mappings.WriteString(encodeVLQ(0))
		mappings.WriteString(encodeVLQ(lineDelta))
		mappings.WriteString(encodeVLQ(0))
		mappings.WriteByte(';')
	}

	names := make([]string, len(funcs))
	for i, f := range funcs {
		names[i] = fmt.Sprintf("%q", f.name)
	}

	return fmt.Sprintf(
		`{"version":3,"file":"generated.js","sourceRoot":"","sources":["shader"],"names":[%s],"mappings":"%s","sourcesContent":[""]}`,
		strings.Join(names, ","), mappings.String(),
	)
}

const base64VLQChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// encodeVLQ encodes a signed value as a base64 VLQ, the encoding source
// maps use for delta-encoded mapping fields (zigzag sign bit in the low
// bit, 5 value bits per digit, continuation bit in the high bit).
func encodeVLQ(value int64) string {
	var v uint64
	if value < 0 {
		v = (uint64(-value) << 1) | 1
	} else {
		v = uint64(value) << 1
	}

	var out strings.Builder
	for {
		digit := v & 0x1F
		v >>= 5
		if v > 0 {
			digit |= 0x20
		}
		out.WriteByte(base64VLQChars[digit])
		if v == 0 {
			break
		}
	}
	return out.String()
}

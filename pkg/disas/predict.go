// Package disas decodes the instruction at a paused guest's current IP and
// returns the address(es) it might transfer control to next. This is
// delve's disasm_amd64.go resolveCallArg generalized from "is this a call,
// and where does it target" to "is this any control-transfer, and what are
// its one or two successors" — a conditional jump needs both the
// fallthrough and the branch target, not just the one a call has.
package disas

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"

	"github.com/openxen/xendbg/pkg/cpuregs"
	"github.com/openxen/xendbg/pkg/guestmem"
	"github.com/openxen/xendbg/pkg/xdbgerr"
)

// maxInstructionSize bounds a single x86 instruction. Callers map 2x this
// many bytes so two instructions are guaranteed to decode.
const maxInstructionSize = 16

// Successors is the predictor's return shape: primary always set,
// alternate only for a jump or call with an immediate target (primary is
// then the fallthrough and alternate the target, whether or not the jump
// is conditional).
type Successors struct {
	Primary   uint64
	Alternate *uint64
}

var jumpGroup = map[x86asm.Op]bool{
	x86asm.JMP: true, x86asm.LJMP: true,
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JCXZ: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
	x86asm.JE: true, x86asm.JG: true, x86asm.JGE: true, x86asm.JL: true,
	x86asm.JLE: true, x86asm.JNE: true, x86asm.JNO: true, x86asm.JNP: true,
	x86asm.JNS: true, x86asm.JO: true, x86asm.JP: true, x86asm.JS: true,
}

var callGroup = map[x86asm.Op]bool{
	x86asm.CALL: true, x86asm.LCALL: true,
}

var returnGroup = map[x86asm.Op]bool{
	x86asm.RET: true, x86asm.LRET: true, x86asm.IRET: true,
}

// Predict decodes the instruction at ip and the one immediately following
// it, then reports where control goes next. mem must have been mapped with
// at least 2*maxInstructionSize bytes of read permission starting at ip;
// mapping is the caller's responsibility, since it needs a guestmem.Window
// whose lifetime the caller owns.
func Predict(ctx *cpuregs.CpuContext, mem guestmem.MemoryReadWriter, ip uint64) (Successors, error) {
	buf := make([]byte, 2*maxInstructionSize)
	if _, err := mem.ReadMemory(buf, ip); err != nil {
		return Successors{}, &xdbgerr.DecodeFailed{Addr: ip, Reason: err.Error()}
	}

	mode := 64
	if ctx.Size == cpuregs.Word32 {
		mode = 32
	}

	first, err := x86asm.Decode(buf, mode)
	if err != nil {
		return Successors{}, &xdbgerr.DecodeFailed{Addr: ip, Reason: err.Error()}
	}
	fallthroughAddr := ip + uint64(first.Len)
	if _, err := x86asm.Decode(buf[first.Len:], mode); err != nil {
		return Successors{}, &xdbgerr.DecodeFailed{Addr: ip, Reason: "second instruction: " + err.Error()}
	}

	switch {
	case jumpGroup[first.Op] || callGroup[first.Op]:
		return predictBranch(ctx, mem, ip, fallthroughAddr, first)
	case returnGroup[first.Op]:
		return predictReturn(ctx, mem)
	default:
		return dedup(fallthroughAddr, nil), nil
	}
}

func predictBranch(ctx *cpuregs.CpuContext, mem guestmem.MemoryReadWriter, ip, fallthroughAddr uint64, inst x86asm.Inst) (Successors, error) {
	if len(inst.Args) == 0 || inst.Args[0] == nil {
		return Successors{}, &xdbgerr.UnsupportedOperand{Addr: ip, Kind: "no operand"}
	}
	switch arg := inst.Args[0].(type) {
	case x86asm.Rel:
		target := uint64(int64(ip) + int64(inst.Len) + int64(arg))
		return dedup(fallthroughAddr, &target), nil
	case x86asm.Imm:
		target := uint64(int64(arg))
		return dedup(fallthroughAddr, &target), nil
	case x86asm.Mem:
		if arg.Segment != 0 {
			return Successors{}, &xdbgerr.UnsupportedOperand{Addr: ip, Kind: "segmented memory operand"}
		}
		base, err := ctx.ReadByArchID(arg.Base)
		if err != nil {
			return Successors{}, &xdbgerr.UnsupportedOperand{Addr: ip, Kind: "unknown base register"}
		}
		index, err := ctx.ReadByArchID(arg.Index)
		if err != nil {
			return Successors{}, &xdbgerr.UnsupportedOperand{Addr: ip, Kind: "unknown index register"}
		}
		effective := uint64(int64(base) + int64(index)*int64(arg.Scale) + arg.Disp)
		wordBytes := make([]byte, int(ctx.Size))
		if _, err := mem.ReadMemory(wordBytes, effective); err != nil {
			return Successors{}, &xdbgerr.UnsupportedOperand{Addr: ip, Kind: "memory operand unreadable"}
		}
		var target uint64
		if ctx.Size == cpuregs.Word32 {
			target = uint64(binary.LittleEndian.Uint32(wordBytes))
		} else {
			target = binary.LittleEndian.Uint64(wordBytes)
		}
		return Successors{Primary: target}, nil
	case x86asm.Reg:
		v, err := ctx.ReadByArchID(arg)
		if err != nil {
			return Successors{}, &xdbgerr.UnsupportedOperand{Addr: ip, Kind: "unknown register operand"}
		}
		return Successors{Primary: v}, nil
	default:
		return Successors{}, &xdbgerr.UnsupportedOperand{Addr: ip, Kind: "unrecognized operand kind"}
	}
}

func predictReturn(ctx *cpuregs.CpuContext, mem guestmem.MemoryReadWriter) (Successors, error) {
	sp := ctx.SP()
	wordBytes := make([]byte, int(ctx.Size))
	if _, err := mem.ReadMemory(wordBytes, sp); err != nil {
		return Successors{}, &xdbgerr.DecodeFailed{Addr: sp, Reason: "could not read return address: " + err.Error()}
	}
	var target uint64
	if ctx.Size == cpuregs.Word32 {
		target = uint64(binary.LittleEndian.Uint32(wordBytes))
	} else {
		target = binary.LittleEndian.Uint64(wordBytes)
	}
	return Successors{Primary: target}, nil
}

// dedup drops alternate when it equals primary, since a single physical
// trap address can't distinguish the two outcomes.
func dedup(primary uint64, alternate *uint64) Successors {
	if alternate != nil && *alternate == primary {
		alternate = nil
	}
	return Successors{Primary: primary, Alternate: alternate}
}

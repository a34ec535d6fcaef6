// Package rsp encodes register snapshots, memory dumps, stop reasons, and
// host/process info into a GDB Remote Serial Protocol payload dialect.
// Framing (the "$...#xx" envelope and ack handling) is the transport
// layer's job; this package only produces and consumes the payload text
// between the '$' and '#'. Grounded on delve's
// pkg/proc/gdbserial/gdbserver_conn.go, which implements the client side
// of this same wire format.
package rsp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/openxen/xendbg/pkg/cpuregs"
	"github.com/openxen/xendbg/pkg/xdbgerr"
	"github.com/openxen/xendbg/pkg/xlogflags"
)

var log = xlogflags.RSPWireLogger()

// OK encodes the literal OK response.
func OK() string { return "OK" }

// NotSupported encodes the empty-payload "not supported" response, the
// default for any packet kind the handler has no specialised behaviour
// for.
func NotSupported() string { return "" }

// Error encodes an Exx error response.
func Error(code uint8) string {
	return fmt.Sprintf("E%02x", code)
}

// QuerySupported encodes qSupported's response: features joined by ';',
// empty payload if the list is empty.
func QuerySupported(features []string) string {
	return strings.Join(features, ";")
}

// QueryCurrentThreadId encodes qC's response. tid <= 0 means "all
// threads" or "any thread" and both encode as "-1".
func QueryCurrentThreadId(tid int64) string {
	if tid <= 0 {
		return "QC-1"
	}
	return fmt.Sprintf("QC%x", tid)
}

// QueryThreadInfo encodes qfThreadInfo's response: "m" + comma-separated
// hex ids + trailing "l". An empty list is rejected so a caller cannot
// silently emit a malformed packet.
func QueryThreadInfo(tids []uint64) (string, error) {
	if len(tids) == 0 {
		return "", fmt.Errorf("QueryThreadInfo: empty thread list")
	}
	parts := make([]string, len(tids))
	for i, tid := range tids {
		parts[i] = fmt.Sprintf("%x", tid)
	}
	return "m" + strings.Join(parts, ",") + "l", nil
}

// QueryThreadInfoEnd encodes qsThreadInfo's terminal response.
func QueryThreadInfoEnd() string { return "l" }

// RegisterRead encodes a single register value in guest byte order
// (little-endian on x86), zero-padded to width bytes.
func RegisterRead(value uint64, width int) string {
	return hexLE(value, width)
}

// MemoryRead encodes a raw memory dump: two hex digits per byte, no
// separator, in the order the bytes were read (not byte-swapped — this is
// a byte dump, not a scalar).
func MemoryRead(data []byte) string {
	return hex.EncodeToString(data)
}

// StopReasonSignal encodes a stop notification. The space after "T" is
// required when operating in ack mode.
func StopReasonSignal(sig uint8) string {
	return fmt.Sprintf("T %02x", sig)
}

// QueryHostInfo encodes qHostInfo's response.
func QueryHostInfo(wordSize cpuregs.WordSize, hostname string) string {
	return fmt.Sprintf("ostype:linux;endian:little;ptrsize:%d;hostname:%s;", int(wordSize), hostname)
}

// QueryProcessInfo encodes qProcessInfo's response.
func QueryProcessInfo(pid uint64) string {
	return fmt.Sprintf("pid:%x;", pid)
}

// RegisterInfo describes one entry of the register enumeration used by
// qRegisterInfoN, answering the whole table rather than just one
// lookup.
type RegisterInfo struct {
	Name    string
	BitSize int
	Offset  int
	GCCID   int
}

// QueryRegisterInfo encodes one qRegisterInfo response.
func QueryRegisterInfo(r RegisterInfo) string {
	return fmt.Sprintf(
		"name:%s;bitsize:%d;offset:%d;encoding:uint;format:hex;set:General Purpose Registers;gcc:%d;dwarf:%d;",
		r.Name, r.BitSize, r.Offset, r.GCCID, r.GCCID,
	)
}

// eflagsWidthBytes is a client compatibility quirk: the 64-bit batch
// dump narrows rflags to its low 32 bits.
const eflagsWidthBytes = 4

// segWidthBytes is the width used for every segment selector regardless
// of word size; segment selectors are always a 32-bit slot in the GDB
// x86 target description this client expects, even for a 64-bit guest
// (see DESIGN.md).
const segWidthBytes = 4

// GeneralRegistersBatch encodes the 'g' packet response: a fixed-order
// concatenation of hex-encoded registers. narrowEflags selects whether a
// 64-bit context's rflags is truncated to 32 bits for client
// compatibility (see DESIGN.md).
func GeneralRegistersBatch(ctx cpuregs.CpuContext, narrowEflags bool) (string, error) {
	var b strings.Builder
	if ctx.Size == cpuregs.Word32 {
		fields := []uint64{
			ctx.R32.Eax, ctx.R32.Ecx, ctx.R32.Edx, ctx.R32.Ebx,
			ctx.R32.Esp, ctx.R32.Ebp, ctx.R32.Esi, ctx.R32.Edi,
			ctx.R32.Eip, ctx.R32.Eflags,
			ctx.R32.Cs, ctx.R32.Ss, ctx.R32.Ds, ctx.R32.Es, ctx.R32.Fs, ctx.R32.Gs,
		}
		for _, v := range fields {
			b.WriteString(hexLE(v, 4))
		}
		return b.String(), nil
	}
	if ctx.Size != cpuregs.Word64 {
		return "", &xdbgerr.WordSize{Value: int(ctx.Size)}
	}
	gp := []uint64{
		ctx.R64.Rax, ctx.R64.Rbx, ctx.R64.Rcx, ctx.R64.Rdx,
		ctx.R64.Rsi, ctx.R64.Rdi, ctx.R64.Rbp, ctx.R64.Rsp,
		ctx.R64.R8, ctx.R64.R9, ctx.R64.R10, ctx.R64.R11,
		ctx.R64.R12, ctx.R64.R13, ctx.R64.R14, ctx.R64.R15,
		ctx.R64.Rip,
	}
	for _, v := range gp {
		b.WriteString(hexLE(v, 8))
	}
	eflags := ctx.R64.Rflags
	if narrowEflags {
		eflags &= 0xffffffff
		b.WriteString(hexLE(eflags, eflagsWidthBytes))
	} else {
		b.WriteString(hexLE(eflags, 8))
	}
	segs := []uint64{ctx.R64.Cs, ctx.R64.Ss, ctx.R64.Ds, ctx.R64.Es, ctx.R64.Fs, ctx.R64.Gs}
	for _, v := range segs {
		b.WriteString(hexLE(v, segWidthBytes))
	}
	return b.String(), nil
}

// hexLE renders value as width little-endian bytes, lowercase hex,
// zero-padded to twice the byte width, no separator.
func hexLE(value uint64, width int) string {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	log.WithField("width", width).Trace("encoding scalar")
	return hex.EncodeToString(buf[:width])
}

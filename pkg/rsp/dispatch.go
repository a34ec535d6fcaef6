package rsp

import (
	"context"
	"encoding/hex"

	"github.com/openxen/xendbg/pkg/breakpoint"
	"github.com/openxen/xendbg/pkg/cpuregs"
	"github.com/openxen/xendbg/pkg/stepper"
	"github.com/openxen/xendbg/pkg/xdbgerr"
	"github.com/openxen/xendbg/pkg/xenctrl"
)

// PacketKind tags a decoded client request, dispatched with an exhaustive
// match in Handle rather than an open class hierarchy of packet handlers.
type PacketKind int

const (
	KindUnknown PacketKind = iota
	KindQueryStopReason
	KindReadRegisters
	KindReadMemory
	KindWriteMemory
	KindInsertBreakpoint
	KindRemoveBreakpoint
	KindContinue
	KindStep
	KindQuerySupported
	KindQueryCurrentThread
	KindQueryThreadInfoStart
	KindQueryThreadInfoEnd
	KindQueryHostInfo
	KindQueryProcessInfo
	KindQueryRegisterInfo
)

// Packet is the payload of one client request, already stripped of the
// "$...#xx" framing by the transport layer. Only the fields relevant to
// Kind are populated.
type Packet struct {
	Kind      PacketKind
	Addr      uint64
	Len       int
	Data      []byte
	RegIndex  int
	Vcpu      xenctrl.VCPU
	ThreadIDs []uint64
}

// Handler answers Packets by driving a Controller and Manager for one
// attachment. It has no state of its own beyond what it needs to
// translate between wire format and engine calls. Z0/z0/M packets mutate
// the BreakpointTable directly rather than through the Controller, so
// their handlers pause the domain themselves before calling into it.
type Handler struct {
	Controller   *stepper.Controller
	Breakpoints  *breakpoint.Manager
	Domain       xenctrl.Domain
	Vcpu         xenctrl.VCPU
	HostName     string
	NarrowEflags bool
}

// Handle dispatches one Packet to its response text. The default arm
// (KindUnknown, or any kind this handler build has no case for) emits
// NotSupported.
func (h *Handler) Handle(ctx context.Context, p Packet) string {
	switch p.Kind {
	case KindQueryStopReason:
		return h.handleQueryStopReason()
	case KindReadRegisters:
		return h.handleReadRegisters()
	case KindReadMemory:
		return h.handleReadMemory(p)
	case KindWriteMemory:
		return h.handleWriteMemory(p)
	case KindInsertBreakpoint:
		return h.handleInsertBreakpoint(p)
	case KindRemoveBreakpoint:
		return h.handleRemoveBreakpoint(p)
	case KindContinue:
		return h.handleContinue(ctx)
	case KindStep:
		return h.handleStep(ctx)
	case KindQuerySupported:
		return QuerySupported([]string{"swbreak+", "hwbreak-", "qXfer:features:read-"})
	case KindQueryCurrentThread:
		return QueryCurrentThreadId(int64(h.Vcpu))
	case KindQueryThreadInfoStart:
		resp, err := QueryThreadInfo(p.ThreadIDs)
		if err != nil {
			return Error(1)
		}
		return resp
	case KindQueryThreadInfoEnd:
		return QueryThreadInfoEnd()
	case KindQueryHostInfo:
		return QueryHostInfo(h.Domain.WordSize(), h.HostName)
	case KindQueryProcessInfo:
		return QueryProcessInfo(uint64(h.Domain.DomID()))
	case KindQueryRegisterInfo:
		table := RegisterInfoTable(h.Domain.WordSize())
		if p.RegIndex < 0 || p.RegIndex >= len(table) {
			return Error(errNoSuchRegister)
		}
		return QueryRegisterInfo(table[p.RegIndex])
	default:
		return NotSupported()
	}
}

const errNoSuchRegister = 0x10

func (h *Handler) handleQueryStopReason() string {
	return StopReasonSignal(5) // SIGTRAP, the only stop reason this engine produces
}

func (h *Handler) handleReadRegisters() string {
	ctx, err := h.Domain.GetCPUContext(h.Vcpu)
	if err != nil {
		return Error(1)
	}
	resp, err := GeneralRegistersBatch(ctx, h.NarrowEflags)
	if err != nil {
		return Error(2)
	}
	return resp
}

func (h *Handler) handleReadMemory(p Packet) string {
	data, err := h.Breakpoints.ReadMemoryMasking(p.Addr, p.Len)
	if err != nil {
		return Error(3)
	}
	return MemoryRead(data)
}

// handleWriteMemory, handleInsertBreakpoint, and handleRemoveBreakpoint
// all mutate guest memory through the Manager, which requires the guest
// already paused. A well-behaved client only sends these while stopped,
// which this handler otherwise guarantees (handleContinue/handleStep
// never return until the guest is paused again), but each pauses
// explicitly anyway: Pause is idempotent, so this costs nothing when the
// guest was already paused and closes the gap if it wasn't.

func (h *Handler) handleWriteMemory(p Packet) string {
	if len(p.Data) != p.Len {
		return Error(4)
	}
	if err := h.Domain.Pause(); err != nil {
		return Error(5)
	}
	if err := h.Breakpoints.WriteMemoryRetaining(p.Addr, p.Len, p.Data); err != nil {
		return Error(5)
	}
	return OK()
}

func (h *Handler) handleInsertBreakpoint(p Packet) string {
	if err := h.Domain.Pause(); err != nil {
		return Error(6)
	}
	if _, err := h.Breakpoints.Create(p.Addr); err != nil {
		return Error(6)
	}
	return OK()
}

func (h *Handler) handleRemoveBreakpoint(p Packet) string {
	bp, ok := h.Breakpoints.FindByAddress(p.Addr)
	if !ok {
		return Error(7)
	}
	if err := h.Domain.Pause(); err != nil {
		return Error(8)
	}
	if err := h.Breakpoints.Delete(bp.ID); err != nil {
		return Error(8)
	}
	return OK()
}

func (h *Handler) handleContinue(ctx context.Context) string {
	if err := h.Controller.Continue(ctx); err != nil {
		return Error(9)
	}
	if _, err := h.Controller.PollForHit(ctx); err != nil {
		return Error(10)
	}
	return StopReasonSignal(5)
}

func (h *Handler) handleStep(ctx context.Context) string {
	if _, err := h.Controller.SingleStep(ctx); err != nil {
		return Error(11)
	}
	return StopReasonSignal(5)
}

// RegisterInfoTable returns the ordered register table for wordSize, used
// to answer qRegisterInfoN for every register in turn.
func RegisterInfoTable(wordSize cpuregs.WordSize) []RegisterInfo {
	if wordSize == cpuregs.Word32 {
		names := []string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "eip", "eflags", "cs", "ss", "ds", "es", "fs", "gs"}
		out := make([]RegisterInfo, len(names))
		offset := 0
		for i, n := range names {
			out[i] = RegisterInfo{Name: n, BitSize: 32, Offset: offset, GCCID: i}
			offset += 4
		}
		return out
	}
	names := []string{"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15", "rip"}
	out := make([]RegisterInfo, 0, len(names)+7)
	offset := 0
	for i, n := range names {
		out = append(out, RegisterInfo{Name: n, BitSize: 64, Offset: offset, GCCID: i})
		offset += 8
	}
	out = append(out, RegisterInfo{Name: "eflags", BitSize: 32, Offset: offset, GCCID: len(out)})
	offset += 4
	for _, n := range []string{"cs", "ss", "ds", "es", "fs", "gs"} {
		out = append(out, RegisterInfo{Name: n, BitSize: 32, Offset: offset, GCCID: len(out)})
		offset += 4
	}
	return out
}

// ParseHexBytes decodes an "m"/"M" packet's data payload (pairs of hex
// digits, no separator) the way MemoryRead's inverse would.
func ParseHexBytes(s string) ([]byte, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, &xdbgerr.PacketSize{Actual: len(s), Expected: len(s) - len(s)%2}
	}
	return data, nil
}

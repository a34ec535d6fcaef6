// Package cpuregs provides typed, value-semantics views of a guest's
// general-purpose register file, modeled on delve's per-arch Regs types
// (pkg/proc/registers_linux_amd64.go, pkg/proc/i386_arch.go) but collapsed
// into a single tagged variant since WordSize is fixed for the whole
// attachment.
package cpuregs

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/openxen/xendbg/pkg/xdbgerr"
)

// WordSize is the guest's pointer width in bytes, one of {4, 8}.
type WordSize int

const (
	Word32 WordSize = 4
	Word64 WordSize = 8
)

// Regs64 holds the general-purpose register set of a 64-bit (long mode)
// guest, laid out in the order the protocol codec emits them for
// GeneralRegistersBatch.
type Regs64 struct {
	Rax, Rbx, Rcx, Rdx    uint64
	Rsi, Rdi, Rbp, Rsp    uint64
	R8, R9, R10, R11      uint64
	R12, R13, R14, R15    uint64
	Rip, Rflags           uint64
	Cs, Ss, Ds, Es, Fs, Gs uint64
}

// Regs32 holds the general-purpose register set of a 32-bit (protected
// mode) guest, in GeneralRegistersBatch order.
type Regs32 struct {
	Eax, Ecx, Edx, Ebx uint64
	Esp, Ebp, Esi, Edi uint64
	Eip, Eflags        uint64
	Cs, Ss, Ds, Es, Fs, Gs uint64
}

// CpuContext is a tagged-variant sum type: exactly one of R32/R64 is
// populated, selected by WordSize, for the entire attachment.
type CpuContext struct {
	Size WordSize
	R32  Regs32
	R64  Regs64
}

// IP returns the instruction pointer, architecture-agnostically.
func (c *CpuContext) IP() uint64 {
	if c.Size == Word32 {
		return c.R32.Eip
	}
	return c.R64.Rip
}

// SetIP overwrites the instruction pointer.
func (c *CpuContext) SetIP(v uint64) {
	if c.Size == Word32 {
		c.R32.Eip = v
	} else {
		c.R64.Rip = v
	}
}

// SP returns the stack pointer, architecture-agnostically.
func (c *CpuContext) SP() uint64 {
	if c.Size == Word32 {
		return c.R32.Esp
	}
	return c.R64.Rsp
}

// Flags returns the flags register as a full 64-bit value; narrowing for
// the wire format is the protocol codec's job.
func (c *CpuContext) Flags() uint64 {
	if c.Size == Word32 {
		return c.R32.Eflags
	}
	return c.R64.Rflags
}

// ReadByName looks a register up by its conventional name ("rax", "eip",
// "sp", ...), case-insensitively.
func (c *CpuContext) ReadByName(name string) (uint64, error) {
	name = strings.ToLower(name)
	if c.Size == Word32 {
		switch name {
		case "eax":
			return c.R32.Eax, nil
		case "ecx":
			return c.R32.Ecx, nil
		case "edx":
			return c.R32.Edx, nil
		case "ebx":
			return c.R32.Ebx, nil
		case "esp", "sp":
			return c.R32.Esp, nil
		case "ebp":
			return c.R32.Ebp, nil
		case "esi":
			return c.R32.Esi, nil
		case "edi":
			return c.R32.Edi, nil
		case "eip", "pc", "ip":
			return c.R32.Eip, nil
		case "eflags", "flags":
			return c.R32.Eflags, nil
		case "cs":
			return c.R32.Cs, nil
		case "ss":
			return c.R32.Ss, nil
		case "ds":
			return c.R32.Ds, nil
		case "es":
			return c.R32.Es, nil
		case "fs":
			return c.R32.Fs, nil
		case "gs":
			return c.R32.Gs, nil
		}
		return 0, &xdbgerr.NoSuchRegister{Name: name}
	}
	switch name {
	case "rax":
		return c.R64.Rax, nil
	case "rbx":
		return c.R64.Rbx, nil
	case "rcx":
		return c.R64.Rcx, nil
	case "rdx":
		return c.R64.Rdx, nil
	case "rsi":
		return c.R64.Rsi, nil
	case "rdi":
		return c.R64.Rdi, nil
	case "rbp":
		return c.R64.Rbp, nil
	case "rsp", "sp":
		return c.R64.Rsp, nil
	case "r8":
		return c.R64.R8, nil
	case "r9":
		return c.R64.R9, nil
	case "r10":
		return c.R64.R10, nil
	case "r11":
		return c.R64.R11, nil
	case "r12":
		return c.R64.R12, nil
	case "r13":
		return c.R64.R13, nil
	case "r14":
		return c.R64.R14, nil
	case "r15":
		return c.R64.R15, nil
	case "rip", "pc", "ip":
		return c.R64.Rip, nil
	case "rflags", "flags":
		return c.R64.Rflags, nil
	case "cs":
		return c.R64.Cs, nil
	case "ss":
		return c.R64.Ss, nil
	case "ds":
		return c.R64.Ds, nil
	case "es":
		return c.R64.Es, nil
	case "fs":
		return c.R64.Fs, nil
	case "gs":
		return c.R64.Gs, nil
	}
	return 0, &xdbgerr.NoSuchRegister{Name: name}
}

// ReadByArchID translates a decoder (x86asm) register id into its value in
// this context, the way delve's resolveCallArg does via Regs.Get(int(reg))
// (pkg/proc/disasm_amd64.go). Used only by the instruction predictor to
// read base/index registers of a memory operand.
func (c *CpuContext) ReadByArchID(id x86asm.Reg) (uint64, error) {
	if id == 0 {
		// x86asm leaves Base/Index as the zero Reg when absent; treat an
		// absent base/index as 0.
		return 0, nil
	}
	name, ok := archRegNames[id]
	if !ok {
		return 0, &xdbgerr.NoSuchRegister{Name: id.String()}
	}
	// A 32-bit context only ever decodes 32-bit registers; widen the
	// 64-bit register name table down to the 32-bit one the context knows.
	if c.Size == Word32 {
		if n, ok := widenTo32[name]; ok {
			name = n
		}
	}
	return c.ReadByName(name)
}

// archRegNames maps the subset of x86asm general-purpose register ids the
// predictor can encounter as operands (base/index of a memory operand, or
// a bare register operand) to this package's register names.
var archRegNames = map[x86asm.Reg]string{
	x86asm.RAX: "rax", x86asm.RBX: "rbx", x86asm.RCX: "rcx", x86asm.RDX: "rdx",
	x86asm.RSI: "rsi", x86asm.RDI: "rdi", x86asm.RBP: "rbp", x86asm.RSP: "rsp",
	x86asm.R8: "r8", x86asm.R9: "r9", x86asm.R10: "r10", x86asm.R11: "r11",
	x86asm.R12: "r12", x86asm.R13: "r13", x86asm.R14: "r14", x86asm.R15: "r15",
	x86asm.RIP: "rip",
	x86asm.EAX: "eax", x86asm.EBX: "ebx", x86asm.ECX: "ecx", x86asm.EDX: "edx",
	x86asm.ESI: "esi", x86asm.EDI: "edi", x86asm.EBP: "ebp", x86asm.ESP: "esp",
	x86asm.EIP: "eip",
}

var widenTo32 = map[string]string{
	"rax": "eax", "rbx": "ebx", "rcx": "ecx", "rdx": "edx",
	"rsi": "esi", "rdi": "edi", "rbp": "ebp", "rsp": "esp", "rip": "eip",
}

package cpuregs

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func TestIPAndSPByWordSize(t *testing.T) {
	ctx64 := &CpuContext{Size: Word64, R64: Regs64{Rip: 0x401000, Rsp: 0x7ffe0000}}
	if got := ctx64.IP(); got != 0x401000 {
		t.Fatalf("IP() = %#x, want 0x401000", got)
	}
	if got := ctx64.SP(); got != 0x7ffe0000 {
		t.Fatalf("SP() = %#x, want 0x7ffe0000", got)
	}

	ctx32 := &CpuContext{Size: Word32, R32: Regs32{Eip: 0x8048000, Esp: 0xbffff000}}
	if got := ctx32.IP(); got != 0x8048000 {
		t.Fatalf("IP() = %#x, want 0x8048000", got)
	}
	if got := ctx32.SP(); got != 0xbffff000 {
		t.Fatalf("SP() = %#x, want 0xbffff000", got)
	}
}

func TestSetIP(t *testing.T) {
	ctx := &CpuContext{Size: Word64}
	ctx.SetIP(0x400500)
	if ctx.R64.Rip != 0x400500 {
		t.Fatalf("R64.Rip = %#x, want 0x400500", ctx.R64.Rip)
	}
}

func TestReadByNameAliases(t *testing.T) {
	ctx := &CpuContext{Size: Word64, R64: Regs64{Rsp: 0x1000, Rip: 0x2000}}
	v, err := ctx.ReadByName("sp")
	if err != nil || v != 0x1000 {
		t.Fatalf("ReadByName(sp) = %#x, %v, want 0x1000, nil", v, err)
	}
	v, err = ctx.ReadByName("PC")
	if err != nil || v != 0x2000 {
		t.Fatalf("ReadByName(PC) = %#x, %v, want 0x2000, nil", v, err)
	}
	if _, err := ctx.ReadByName("nosuch"); err == nil {
		t.Fatal("expected error for unknown register name")
	}
}

func TestReadByArchIDAbsentRegisterIsZero(t *testing.T) {
	ctx := &CpuContext{Size: Word64}
	v, err := ctx.ReadByArchID(0)
	if err != nil || v != 0 {
		t.Fatalf("ReadByArchID(0) = %#x, %v, want 0, nil", v, err)
	}
}

func TestReadByArchIDWidensTo32(t *testing.T) {
	ctx := &CpuContext{Size: Word32, R32: Regs32{Eax: 0x42}}
	v, err := ctx.ReadByArchID(x86asm.RAX)
	if err != nil || v != 0x42 {
		t.Fatalf("ReadByArchID(rax) on 32-bit ctx = %#x, %v, want 0x42, nil", v, err)
	}
}

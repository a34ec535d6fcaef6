package disas

import (
	"encoding/binary"
	"testing"

	"github.com/openxen/xendbg/pkg/cpuregs"
)

// flatMem is a minimal guest memory stand-in backed by one byte slice at a
// fixed base address, enough for Predict's reads.
type flatMem struct {
	base uint64
	buf  []byte
}

func newFlatMem(base uint64, size int) *flatMem {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x90 // NOP padding so any unused tail still decodes
	}
	return &flatMem{base: base, buf: buf}
}

func (m *flatMem) put(addr uint64, data []byte) {
	copy(m.buf[addr-m.base:], data)
}

func (m *flatMem) ReadMemory(buf []byte, addr uint64) (int, error) {
	return copy(buf, m.buf[addr-m.base:]), nil
}

func (m *flatMem) WriteMemory(addr uint64, data []byte) (int, error) {
	return copy(m.buf[addr-m.base:], data), nil
}

const testIP = 0x401000

func TestPredictStraightLineFallsThrough(t *testing.T) {
	mem := newFlatMem(testIP, 64)
	mem.put(testIP, []byte{0x89, 0xd8}) // mov eax, ebx

	ctx := &cpuregs.CpuContext{Size: cpuregs.Word64}
	succ, err := Predict(ctx, mem, testIP)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if succ.Primary != testIP+2 {
		t.Fatalf("Primary = %#x, want %#x", succ.Primary, testIP+2)
	}
	if succ.Alternate != nil {
		t.Fatalf("Alternate = %#x, want nil", *succ.Alternate)
	}
}

func TestPredictUnconditionalJump(t *testing.T) {
	mem := newFlatMem(testIP, 64)
	mem.put(testIP, []byte{0xeb, 0x05}) // jmp +5

	ctx := &cpuregs.CpuContext{Size: cpuregs.Word64}
	succ, err := Predict(ctx, mem, testIP)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	// An immediate jump reports the fallthrough as primary and the branch
	// target as alternate, even when the jump is unconditional.
	if succ.Primary != testIP+2 {
		t.Fatalf("Primary (fallthrough) = %#x, want %#x", succ.Primary, testIP+2)
	}
	if succ.Alternate == nil {
		t.Fatal("Alternate = nil, want jump target")
	}
	if want := uint64(testIP + 2 + 5); *succ.Alternate != want {
		t.Fatalf("Alternate = %#x, want %#x", *succ.Alternate, want)
	}
}

func TestPredictConditionalJumpHasBothSuccessors(t *testing.T) {
	mem := newFlatMem(testIP, 64)
	mem.put(testIP, []byte{0x74, 0x05}) // je +5

	ctx := &cpuregs.CpuContext{Size: cpuregs.Word64}
	succ, err := Predict(ctx, mem, testIP)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if succ.Primary != testIP+2 {
		t.Fatalf("Primary (fallthrough) = %#x, want %#x", succ.Primary, testIP+2)
	}
	if succ.Alternate == nil {
		t.Fatal("Alternate = nil, want branch target")
	}
	if want := uint64(testIP + 2 + 5); *succ.Alternate != want {
		t.Fatalf("Alternate = %#x, want %#x", *succ.Alternate, want)
	}
}

func TestPredictCall(t *testing.T) {
	mem := newFlatMem(testIP, 64)
	mem.put(testIP, []byte{0xe8, 0x10, 0x00, 0x00, 0x00}) // call +0x10

	ctx := &cpuregs.CpuContext{Size: cpuregs.Word64}
	succ, err := Predict(ctx, mem, testIP)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if succ.Primary != testIP+5 {
		t.Fatalf("Primary (fallthrough) = %#x, want %#x", succ.Primary, testIP+5)
	}
	if succ.Alternate == nil {
		t.Fatal("Alternate = nil, want call target")
	}
	if want := uint64(testIP + 5 + 0x10); *succ.Alternate != want {
		t.Fatalf("Alternate = %#x, want %#x", *succ.Alternate, want)
	}
}

func TestPredictReturnReadsStack(t *testing.T) {
	mem := newFlatMem(testIP, 0x200)
	mem.put(testIP, []byte{0xc3}) // ret

	retAddr := uint64(0x7c0041)
	var retBytes [8]byte
	binary.LittleEndian.PutUint64(retBytes[:], retAddr)
	mem.put(testIP+0x100, retBytes[:])

	ctx := &cpuregs.CpuContext{Size: cpuregs.Word64, R64: cpuregs.Regs64{Rsp: testIP + 0x100}}
	succ, err := Predict(ctx, mem, testIP)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if succ.Primary != retAddr {
		t.Fatalf("Primary = %#x, want %#x", succ.Primary, retAddr)
	}
}

func TestDedupDropsEqualAlternate(t *testing.T) {
	alt := uint64(0x1234)
	succ := dedup(0x1234, &alt)
	if succ.Alternate != nil {
		t.Fatalf("Alternate = %#x, want nil when equal to primary", *succ.Alternate)
	}

	other := uint64(0x5678)
	succ = dedup(0x1234, &other)
	if succ.Alternate == nil || *succ.Alternate != other {
		t.Fatal("Alternate should be preserved when it differs from primary")
	}
}

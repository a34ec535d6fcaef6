package xenctrl

import (
	"github.com/openxen/xendbg/pkg/cpuregs"
	"github.com/openxen/xendbg/pkg/guestmem"
	"github.com/openxen/xendbg/pkg/xlogflags"
)

var log = xlogflags.XenctrlLogger()

// FakeDomain is an in-process, in-memory stand-in for a real hypervisor
// connection. It backs the package's tests and, transitively, the tests of
// every component that consumes a Domain (breakpoint, predict, stepper),
// since the real hypervisor control-plane API is an external collaborator
// this module never links against. It also implements guestmem.FrameMapper
// directly: the machine frame of a page is its index within the flat
// backing memory, counted from memBase, which is all a fake needs.
type FakeDomain struct {
	domid    int
	wordSize cpuregs.WordSize
	paused   bool
	debug    bool
	vcpus    []VCPU
	ctx      map[VCPU]cpuregs.CpuContext
	mem      []byte // a single flat backing array addressed by guest VA directly
	memBase  uint64
}

// NewFakeDomain creates a fake guest with a flat memory region
// [memBase, memBase+len(mem)) and a single VCPU.
func NewFakeDomain(domid int, wordSize cpuregs.WordSize, memBase uint64, memSize int) *FakeDomain {
	return &FakeDomain{
		domid:    domid,
		wordSize: wordSize,
		vcpus:    []VCPU{0},
		ctx:      map[VCPU]cpuregs.CpuContext{0: {Size: wordSize}},
		mem:      make([]byte, memSize),
		memBase:  memBase,
	}
}

func (d *FakeDomain) DomID() int { return d.domid }

// Paused reports the fake's current pause state, for tests that need to
// assert a caller held the guest paused across a multi-step operation
// rather than just checking the operation's end result.
func (d *FakeDomain) Paused() bool { return d.paused }

func (d *FakeDomain) Pause() error {
	d.paused = true
	log.Debug("pause")
	return nil
}

func (d *FakeDomain) Unpause() error {
	d.paused = false
	log.Debug("unpause")
	return nil
}

func (d *FakeDomain) GetCPUContext(vcpu VCPU) (cpuregs.CpuContext, error) {
	return d.ctx[vcpu], nil
}

func (d *FakeDomain) SetCPUContext(vcpu VCPU, ctx cpuregs.CpuContext) error {
	d.ctx[vcpu] = ctx
	return nil
}

func (d *FakeDomain) MapMemory(addr uint64, length int, prot guestmem.Prot) (*guestmem.Window, error) {
	return guestmem.Map(d, addr, length, prot)
}

func (d *FakeDomain) WordSize() cpuregs.WordSize { return d.wordSize }

func (d *FakeDomain) SetDebugging(enabled bool) error {
	d.debug = enabled
	return nil
}

func (d *FakeDomain) VCPUs() []VCPU { return d.vcpus }

// TranslateFrame implements guestmem.FrameMapper: a fake has no real page
// tables, so the frame number is the page's index from memBase, and it
// reports success for every in-range page.
func (d *FakeDomain) TranslateFrame(addr uint64) (uint64, bool) {
	if addr < d.memBase || addr >= d.memBase+uint64(len(d.mem)) {
		return 0, false
	}
	return (addr - d.memBase) / 4096, true
}

func (d *FakeDomain) MapFrames(mfnStart uint64, count int, prot guestmem.Prot) ([]byte, error) {
	start := mfnStart * 4096
	end := start + uint64(count)*4096
	if end > uint64(len(d.mem)) {
		end = uint64(len(d.mem))
	}
	return d.mem[start:end], nil
}

func (d *FakeDomain) UnmapFrames(buf []byte, mfnStart uint64, count int) error {
	return nil
}

// WriteGuest is a test helper that writes directly into the flat backing
// memory, bypassing any Window, to set up fixtures.
func (d *FakeDomain) WriteGuest(addr uint64, data []byte) {
	copy(d.mem[addr-d.memBase:], data)
}

// ReadGuest is a test helper mirroring WriteGuest.
func (d *FakeDomain) ReadGuest(addr uint64, n int) []byte {
	out := make([]byte, n)
	copy(out, d.mem[addr-d.memBase:addr-d.memBase+uint64(n)])
	return out
}

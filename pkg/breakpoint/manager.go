// Package breakpoint implements the Breakpoint Manager: it owns the
// BreakpointTable, patches and restores guest bytes, and gives the rest of
// the engine a masked view of guest memory so a client reading memory
// never observes the sentinel. Modeled on delve's pkg/proc/breakpoints.go
// (Breakpoint, BreakpointExistsError) but flattened to an address-keyed,
// two-byte-sentinel model: delve plants a single architecture trap byte
// and tracks rich metadata (kind, condition, hit counts) per breakpoint;
// this engine has exactly one kind of breakpoint and one job, so
// Breakpoint here is just {id, address, original bytes}.
package breakpoint

import (
	"github.com/openxen/xendbg/pkg/guestmem"
	"github.com/openxen/xendbg/pkg/xdbgerr"
	"github.com/openxen/xendbg/pkg/xenctrl"
	"github.com/openxen/xendbg/pkg/xlogflags"
)

// Sentinel is the two-byte little-endian jmp-to-self, "EB FE": jmp -2,
// chosen because it halts the guest deterministically without requiring
// the hypervisor to deliver an exception to the debugger.
var Sentinel = [2]byte{0xEB, 0xFE}

// Breakpoint is a live software breakpoint.
type Breakpoint struct {
	ID            uint64
	Address       uint64
	OriginalBytes [2]byte
}

// Manager owns the BreakpointTable for one AttachmentState. It is not
// safe for concurrent use; the engine is single-threaded cooperative.
//
// None of its methods pause or unpause the domain themselves: every
// method that maps guest memory requires the guest to already be
// paused, and leaves the pause state exactly as it found it. Owning a
// pause/unpause pair spanning possibly-several Manager calls is the
// caller's job (the Execution Controller's stepping protocol, the REPL,
// the remote protocol handler).
type Manager struct {
	domain xenctrl.Domain
	byAddr map[uint64]*Breakpoint
	byID   map[uint64]*Breakpoint
	nextID uint64
}

var log = xlogflags.BreakpointsLogger()

// New creates an empty BreakpointTable for domain. Called on attach.
func New(domain xenctrl.Domain) *Manager {
	return &Manager{
		domain: domain,
		byAddr: make(map[uint64]*Breakpoint),
		byID:   make(map[uint64]*Breakpoint),
	}
}

// Create plants a breakpoint at addr. If addr already carries a
// breakpoint, Create is a no-op that returns the existing id and logs a
// diagnostic: original bytes are never saved twice.
//
// The guest must already be paused; Create does not pause or unpause it.
// Pause/Unpause are idempotent, not ref-counted, so a method that toggled
// them internally would resume the guest on return even when called as
// one step of a larger paused operation. Callers that span several
// mutations (planting a pair of transient traps, draining every
// breakpoint on detach) own the pause for the whole operation.
func (m *Manager) Create(addr uint64) (uint64, error) {
	if existing, ok := m.byAddr[addr]; ok {
		log.WithField("addr", addr).Warn("breakpoint already present at address, reusing id")
		return existing.ID, nil
	}

	win, err := m.domain.MapMemory(addr, 2, guestmem.ProtRead|guestmem.ProtWrite)
	if err != nil {
		return 0, err
	}
	defer win.Close()

	var orig [2]byte
	if _, err := win.ReadMemory(orig[:], addr); err != nil {
		return 0, err
	}
	if _, err := win.WriteMemory(addr, Sentinel[:]); err != nil {
		return 0, err
	}

	id := m.nextID
	m.nextID++
	bp := &Breakpoint{ID: id, Address: addr, OriginalBytes: orig}
	m.byAddr[addr] = bp
	m.byID[id] = bp
	log.WithFields(map[string]interface{}{"id": id, "addr": addr}).Debug("breakpoint created")
	return id, nil
}

// Delete restores original_bytes and removes the entry. If restoration
// fails the entry is left in the table and the error is surfaced.
//
// The guest must already be paused; see Create.
func (m *Manager) Delete(id uint64) error {
	bp, ok := m.byID[id]
	if !ok {
		return &xdbgerr.NoSuchBreakpoint{ID: id}
	}

	win, err := m.domain.MapMemory(bp.Address, 2, guestmem.ProtRead|guestmem.ProtWrite)
	if err != nil {
		return err
	}
	if _, err := win.WriteMemory(bp.Address, bp.OriginalBytes[:]); err != nil {
		win.Close()
		return err
	}
	if err := win.Close(); err != nil {
		return err
	}

	delete(m.byAddr, bp.Address)
	delete(m.byID, id)
	log.WithField("id", id).Debug("breakpoint deleted")
	return nil
}

// FindByAddress returns the breakpoint at addr, if any.
func (m *Manager) FindByAddress(addr uint64) (*Breakpoint, bool) {
	bp, ok := m.byAddr[addr]
	return bp, ok
}

// FindByID returns the breakpoint with the given id, if any.
func (m *Manager) FindByID(id uint64) (*Breakpoint, bool) {
	bp, ok := m.byID[id]
	return bp, ok
}

// Len returns the number of live breakpoints.
func (m *Manager) Len() int { return len(m.byAddr) }

// All returns every live breakpoint, order unspecified.
func (m *Manager) All() []*Breakpoint {
	out := make([]*Breakpoint, 0, len(m.byAddr))
	for _, bp := range m.byAddr {
		out = append(out, bp)
	}
	return out
}

// ReadMemoryMasking returns len bytes of guest memory at addr with every
// live patch overlaid by its original bytes, so a caller never observes
// the sentinel.
func (m *Manager) ReadMemoryMasking(addr uint64, length int) ([]byte, error) {
	win, err := m.domain.MapMemory(addr, length, guestmem.ProtRead)
	if err != nil {
		return nil, err
	}
	defer win.Close()

	out := make([]byte, length)
	if _, err := win.ReadMemory(out, addr); err != nil {
		return nil, err
	}

	rangeEnd := addr + uint64(length)
	for _, bp := range m.byAddr {
		bpEnd := bp.Address + 2
		if bp.Address >= rangeEnd || bpEnd <= addr {
			continue
		}
		for i := 0; i < 2; i++ {
			byteAddr := bp.Address + uint64(i)
			if byteAddr < addr || byteAddr >= rangeEnd {
				continue
			}
			out[byteAddr-addr] = bp.OriginalBytes[i]
		}
	}
	return out, nil
}

// WriteMemoryRetaining writes data at addr and replants the sentinel atop
// every breakpoint whose 2-byte patch lies within or half-overlaps the
// written range, so no breakpoint is lost by an overwrite. The guest
// must already be paused.
func (m *Manager) WriteMemoryRetaining(addr uint64, length int, data []byte) error {
	writeStart, writeEnd := addr, addr+uint64(length)

	for _, bp := range m.byAddr {
		if bp.Address == writeStart-1 {
			writeStart = bp.Address
		}
		if bp.Address == writeEnd-1 {
			writeEnd = bp.Address + 2
		}
	}

	win, err := m.domain.MapMemory(writeStart, int(writeEnd-writeStart), guestmem.ProtRead|guestmem.ProtWrite)
	if err != nil {
		return err
	}
	defer win.Close()

	buf := make([]byte, writeEnd-writeStart)
	if _, err := win.ReadMemory(buf, writeStart); err != nil {
		return err
	}

	copy(buf[addr-writeStart:], data)

	for _, bp := range m.byAddr {
		bpEnd := bp.Address + 2
		if bp.Address >= writeEnd || bpEnd <= writeStart {
			continue
		}
		for i := 0; i < 2; i++ {
			byteAddr := bp.Address + uint64(i)
			if byteAddr < writeStart || byteAddr >= writeEnd {
				continue
			}
			// A byte the caller wrote becomes the new original, so a
			// masked read returns the caller's data.
			if byteAddr >= addr && byteAddr < addr+uint64(length) {
				bp.OriginalBytes[i] = buf[byteAddr-writeStart]
			}
			buf[byteAddr-writeStart] = Sentinel[i]
		}
	}

	_, err = win.WriteMemory(writeStart, buf)
	return err
}

// Drain restores every live breakpoint and empties the table, since a
// BreakpointTable is destroyed on detach. Errors are collected but do not
// stop the drain; the caller (detach) logs and continues. Like Delete,
// Drain requires the guest already paused for its whole duration.
func (m *Manager) Drain() []error {
	var errs []error
	for id := range m.byID {
		if err := m.Delete(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

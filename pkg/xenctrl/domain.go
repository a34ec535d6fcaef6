// Package xenctrl is the façade over the hypervisor control plane consumed
// by the execution-control engine. The real pause/unpause/context/
// foreign-memory operations live in the hypervisor itself and are an
// external collaborator this module never links against; this package
// only defines the interface boundary and the value types that cross it,
// mirroring how delve's pkg/proc/interface.go separates "Process" from its
// OS-specific implementations (pkg/proc/native).
package xenctrl

import (
	"github.com/openxen/xendbg/pkg/cpuregs"
	"github.com/openxen/xendbg/pkg/guestmem"
)

// VCPU identifies a virtual CPU of the guest.
type VCPU int

// Domain is the Domain Handle: pause/unpause, CPU context read/write,
// foreign memory mapping, word size, VCPU enumeration and debug-mode
// toggling. Every method is only meaningful once the guest is paused,
// except Pause/Unpause/WordSize/VCPUs themselves.
type Domain interface {
	// DomID returns the guest domain id this handle is attached to.
	DomID() int

	// Pause blocks until the guest is no longer running on any VCPU.
	// Idempotent.
	Pause() error

	// Unpause releases the guest. Idempotent.
	Unpause() error

	// GetCPUContext takes a snapshot of a VCPU's registers. Only
	// meaningful while paused.
	GetCPUContext(vcpu VCPU) (cpuregs.CpuContext, error)

	// SetCPUContext writes a VCPU's registers back. Only meaningful while
	// paused.
	SetCPUContext(vcpu VCPU, ctx cpuregs.CpuContext) error

	// MapMemory maps addr..addr+len of guest memory with the requested
	// protection.
	MapMemory(addr uint64, length int, prot guestmem.Prot) (*guestmem.Window, error)

	// WordSize returns the fixed pointer width of the attached guest.
	WordSize() cpuregs.WordSize

	// SetDebugging enables or disables hypervisor-side debug support for
	// the guest; called once during attach.
	SetDebugging(enabled bool) error

	// VCPUs enumerates the guest's virtual CPUs.
	VCPUs() []VCPU
}

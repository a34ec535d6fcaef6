// Package attachment implements AttachmentState: the object that exists
// iff a domain is attached, exclusively owning the decoder handle and
// BreakpointTable, and whose absence turns every state-requiring
// operation into NotAttached. There is deliberately no process-wide
// singleton here: State is a value the caller (REPL or remote-protocol
// server) holds as a scoped resource.
package attachment

import (
	"github.com/openxen/xendbg/pkg/breakpoint"
	"github.com/openxen/xendbg/pkg/disas"
	"github.com/openxen/xendbg/pkg/stepper"
	"github.com/openxen/xendbg/pkg/symtab"
	"github.com/openxen/xendbg/pkg/xenctrl"
)

// State is the AttachmentState.
type State struct {
	Domain      xenctrl.Domain
	Decoder     *disas.Decoder
	Breakpoints *breakpoint.Manager
	Controller  *stepper.Controller
	Symbols     *symtab.Table // nil if no binary was loaded
	vcpu        xenctrl.VCPU
}

// NewState constructs an AttachmentState from already-open collaborators.
// cmd/xendbg's attach command is responsible for opening the decoder,
// pausing the domain, and calling SetDebugging before calling NewState —
// those are the side-effecting steps of the attach transition, kept out
// of this package so attachment stays a plain data owner, not an
// orchestrator (that is the Execution Controller's job).
func NewState(domain xenctrl.Domain, decoder *disas.Decoder, vcpu xenctrl.VCPU, controller *stepper.Controller, symbols *symtab.Table) *State {
	return &State{
		Domain:      domain,
		Decoder:     decoder,
		Breakpoints: controller.BreakpointManager(),
		Controller:  controller,
		Symbols:     symbols,
		vcpu:        vcpu,
	}
}

// VCPU returns the VCPU this attachment operates on.
func (s *State) VCPU() xenctrl.VCPU { return s.vcpu }

// Detach drains breakpoints, closes the decoder, and unpauses the guest.
// Drain errors are logged but never prevent detach from completing.
func (s *State) Detach() []error {
	errs := s.Controller.Detach()
	if err := s.Decoder.Close(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

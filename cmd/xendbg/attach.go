package main

import (
	"fmt"
	"net"

	"github.com/openxen/xendbg/pkg/attachment"
	"github.com/openxen/xendbg/pkg/breakpoint"
	"github.com/openxen/xendbg/pkg/cpuregs"
	"github.com/openxen/xendbg/pkg/disas"
	"github.com/openxen/xendbg/pkg/rsp"
	"github.com/openxen/xendbg/pkg/stepper"
	"github.com/openxen/xendbg/pkg/symtab"
	"github.com/openxen/xendbg/pkg/xenctrl"
)

// dialDomain opens a Domain Handle for domid. The real hypervisor control
// plane (libxenctrl and friends) is an external collaborator this module
// never links against; a production build supplies its own xenctrl.Domain
// implementation over cgo or a privileged helper process. What ships here
// is the in-memory fake, which is enough to drive a REPL or a remote
// protocol listener end to end against a synthetic guest for demonstration
// and testing.
func dialDomain(domid int) (xenctrl.Domain, error) {
	const demoMemBase = 0x400000
	const demoMemSize = 1 << 20
	dom := xenctrl.NewFakeDomain(domid, cpuregs.Word64, demoMemBase, demoMemSize)
	if err := dom.SetDebugging(true); err != nil {
		return nil, fmt.Errorf("enable debugging: %w", err)
	}
	return dom, nil
}

// runAttach wires the collaborators of one attachment together: a Domain
// Handle, a decoder, a BreakpointTable, an Execution Controller, and
// optionally a symbol table, then hands off to either the REPL or the
// remote protocol listener.
func runAttach(domid int) error {
	dom, err := dialDomain(domid)
	if err != nil {
		return fmt.Errorf("attach to domain %d: %w", domid, err)
	}

	if err := dom.Pause(); err != nil {
		return fmt.Errorf("pause domain %d: %w", domid, err)
	}

	decoder, err := disas.OpenDecoder()
	if err != nil {
		dom.Unpause()
		return fmt.Errorf("open decoder: %w", err)
	}

	vcpus := dom.VCPUs()
	if len(vcpus) == 0 {
		dom.Unpause()
		return fmt.Errorf("domain %d has no VCPUs", domid)
	}
	vcpu := vcpus[0]

	bps := breakpoint.New(dom)
	ctrl := stepper.New(dom, bps, vcpu, conf.PollInterval)

	var symbols *symtab.Table
	if symbolFile != "" {
		symbols, err = symtab.Load(symbolFile)
		if err != nil {
			return fmt.Errorf("load symbols from %s: %w", symbolFile, err)
		}
	}

	state := attachment.NewState(dom, decoder, vcpu, ctrl, symbols)
	defer func() {
		for _, derr := range state.Detach() {
			log.WithError(derr).Warn("error during detach")
		}
	}()

	vars := NewVariableStore()

	if listenAddr != "" {
		if err := serveRemote(state, listenAddr); err != nil {
			return err
		}
		if headless {
			waitForSignal()
			return nil
		}
	}

	return runREPL(state, vars)
}

// serveRemote starts the remote protocol listener in the background:
// accept loop, "$...#xx" framing (transport.go), and the rsp.Handler that
// answers already-decoded Packets.
func serveRemote(state *attachment.State, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	handler := &rsp.Handler{
		Controller:   state.Controller,
		Breakpoints:  state.Breakpoints,
		Domain:       state.Domain,
		Vcpu:         state.VCPU(),
		HostName:     conf.HostName,
		NarrowEflags: conf.NarrowEflags,
	}
	log.WithField("addr", addr).Info("remote protocol listener started")
	go acceptLoop(ln, handler)
	return nil
}

package attachment

import (
	"testing"
	"time"

	"github.com/openxen/xendbg/pkg/breakpoint"
	"github.com/openxen/xendbg/pkg/cpuregs"
	"github.com/openxen/xendbg/pkg/disas"
	"github.com/openxen/xendbg/pkg/stepper"
	"github.com/openxen/xendbg/pkg/xenctrl"
)

func TestNewStateSharesBreakpointManagerWithController(t *testing.T) {
	dom := xenctrl.NewFakeDomain(1, cpuregs.Word64, 0x400000, 0x1000)
	decoder, err := disas.OpenDecoder()
	if err != nil {
		t.Fatalf("OpenDecoder: %v", err)
	}
	bps := breakpoint.New(dom)
	ctrl := stepper.New(dom, bps, 0, time.Millisecond)

	st := NewState(dom, decoder, 0, ctrl, nil)
	if st.Breakpoints != ctrl.BreakpointManager() {
		t.Fatal("State.Breakpoints should be the same Manager the Controller drives")
	}
	if st.VCPU() != 0 {
		t.Fatalf("VCPU() = %d, want 0", st.VCPU())
	}
	if st.Symbols != nil {
		t.Fatal("Symbols should be nil when no binary was loaded")
	}
}

func TestDetachClosesDecoderAndDrainsBreakpoints(t *testing.T) {
	dom := xenctrl.NewFakeDomain(1, cpuregs.Word64, 0x400000, 0x1000)
	dom.WriteGuest(0x400100, []byte{0x90, 0x90})
	decoder, err := disas.OpenDecoder()
	if err != nil {
		t.Fatalf("OpenDecoder: %v", err)
	}
	bps := breakpoint.New(dom)
	if _, err := bps.Create(0x400100); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ctrl := stepper.New(dom, bps, 0, time.Millisecond)
	st := NewState(dom, decoder, 0, ctrl, nil)

	errs := st.Detach()
	if len(errs) != 0 {
		t.Fatalf("Detach errs = %v", errs)
	}
	if bps.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after detach", bps.Len())
	}
	if err := decoder.Close(); err != nil {
		t.Fatalf("decoder should already be closed (idempotent Close): %v", err)
	}
}

package stepper

import (
	"context"
	"testing"
	"time"

	"github.com/openxen/xendbg/pkg/breakpoint"
	"github.com/openxen/xendbg/pkg/cpuregs"
	"github.com/openxen/xendbg/pkg/xenctrl"
)

func newAttachedDomain(t *testing.T) *xenctrl.FakeDomain {
	t.Helper()
	dom := xenctrl.NewFakeDomain(1, cpuregs.Word64, 0x400000, 0x10000)
	// mov eax, ebx ; ret, at 0x401000.
	dom.WriteGuest(0x401000, []byte{0x89, 0xd8, 0xc3})
	ctx, _ := dom.GetCPUContext(0)
	ctx.R64.Rip = 0x401000
	dom.SetCPUContext(0, ctx)
	if err := dom.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	return dom
}

func TestNewControllerStartsAttachedPaused(t *testing.T) {
	dom := newAttachedDomain(t)
	bps := breakpoint.New(dom)
	c := New(dom, bps, 0, 2*time.Millisecond)
	if c.State() != AttachedPaused {
		t.Fatalf("State() = %v, want AttachedPaused", c.State())
	}
}

func TestSingleStepAdvancesPastStraightLineInstruction(t *testing.T) {
	dom := newAttachedDomain(t)
	bps := breakpoint.New(dom)
	c := New(dom, bps, 0, 2*time.Millisecond)

	// The fake domain never executes on its own: simulate the guest
	// reaching the predicted successor shortly after being unpaused, the
	// way a real VCPU would land on the transient trap this step plants.
	go simulateRunUntilPaused(dom, 0x401002)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	hit, err := c.SingleStep(ctx)
	if err != nil {
		t.Fatalf("SingleStep: %v", err)
	}
	if hit != 0x401002 {
		t.Fatalf("hit = %#x, want 0x401002", hit)
	}
	if c.State() != AttachedPaused {
		t.Fatalf("State() = %v, want AttachedPaused after step", c.State())
	}
	if bps.Len() != 0 {
		t.Fatalf("transient trap not cleaned up, Len() = %d", bps.Len())
	}
}

// TestSingleStepLeavesGuestActuallyPaused guards against a regression
// where the Manager's own Create/Delete calls toggled pause internally:
// composing them inside SingleStep would then unpause the guest the
// moment the pre-step breakpoint was removed, long before the successor
// traps were planted, and the cleanup calls at the end would leave the
// guest running even though State() reported AttachedPaused.
func TestSingleStepLeavesGuestActuallyPaused(t *testing.T) {
	dom := newAttachedDomain(t)
	bps := breakpoint.New(dom)
	c := New(dom, bps, 0, 2*time.Millisecond)

	go simulateRunUntilPaused(dom, 0x401002)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.SingleStep(ctx); err != nil {
		t.Fatalf("SingleStep: %v", err)
	}
	if c.State() != AttachedPaused {
		t.Fatalf("State() = %v, want AttachedPaused", c.State())
	}
	if !dom.Paused() {
		t.Fatalf("guest is running but State() reports AttachedPaused")
	}
}

func TestContinueStepsOverBreakpointAtIP(t *testing.T) {
	dom := newAttachedDomain(t)
	bps := breakpoint.New(dom)
	if _, err := bps.Create(0x401000); err != nil {
		t.Fatalf("Create: %v", err)
	}
	c := New(dom, bps, 0, 2*time.Millisecond)

	go simulateRunUntilPaused(dom, 0x401002)

	if err := c.Continue(context.Background()); err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if c.State() != AttachedRunning {
		t.Fatalf("State() = %v, want AttachedRunning", c.State())
	}
}

func TestDetachDrainsBreakpoints(t *testing.T) {
	dom := newAttachedDomain(t)
	bps := breakpoint.New(dom)
	if _, err := bps.Create(0x401000); err != nil {
		t.Fatalf("Create: %v", err)
	}
	c := New(dom, bps, 0, 2*time.Millisecond)

	if errs := c.Detach(); len(errs) != 0 {
		t.Fatalf("Detach errs = %v", errs)
	}
	if c.State() != Detached {
		t.Fatalf("State() = %v, want Detached", c.State())
	}
	if bps.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after detach", bps.Len())
	}
}

// TestDetachFromRunningPausesBeforeDraining exercises Detach's own
// defensive Pause: Drain's Delete calls require the guest already
// paused, and Detach must not assume its caller left it that way.
func TestDetachFromRunningPausesBeforeDraining(t *testing.T) {
	dom := newAttachedDomain(t)
	bps := breakpoint.New(dom)
	if _, err := bps.Create(0x401000); err != nil {
		t.Fatalf("Create: %v", err)
	}
	c := New(dom, bps, 0, 2*time.Millisecond)
	c.state = AttachedRunning
	if err := dom.Unpause(); err != nil {
		t.Fatalf("Unpause: %v", err)
	}

	if errs := c.Detach(); len(errs) != 0 {
		t.Fatalf("Detach errs = %v", errs)
	}
	if bps.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after detach", bps.Len())
	}
}

// simulateRunUntilPaused stands in for the guest actually executing forward
// to the address the controller planted a transient trap at: for about
// 200ms it sets the VCPU's IP to target once a millisecond. It does not
// check whether the domain is paused.
func simulateRunUntilPaused(dom *xenctrl.FakeDomain, target uint64) {
	for i := 0; i < 200; i++ {
		time.Sleep(time.Millisecond)
		ctx, _ := dom.GetCPUContext(0)
		ctx.R64.Rip = target
		dom.SetCPUContext(0, ctx)
	}
}

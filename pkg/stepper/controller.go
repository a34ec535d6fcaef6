// Package stepper implements the Execution Controller: the state machine
// and stepping protocol that orchestrate continue / single-step /
// poll-for-hit using the Domain Handle and Breakpoint Manager. Modeled on
// delve's proc.Continue/Step (pkg/proc/proc.go) and on the polling loop in
// pkg/proc/gdbserial/gdbserver.go, restructured so a controller object is
// owned by the event loop and takes explicit references to the Domain
// Handle and BreakpointTable, with the timer body a closure the loop
// re-invokes, rather than a self-pointer captured by a timer callback.
package stepper

import (
	"context"
	"time"

	"github.com/openxen/xendbg/pkg/breakpoint"
	"github.com/openxen/xendbg/pkg/cpuregs"
	"github.com/openxen/xendbg/pkg/disas"
	"github.com/openxen/xendbg/pkg/guestmem"
	"github.com/openxen/xendbg/pkg/xdbgerr"
	"github.com/openxen/xendbg/pkg/xenctrl"
	"github.com/openxen/xendbg/pkg/xlogflags"
)

// State is one of the four states of the attachment lifecycle.
type State int

const (
	Detached State = iota
	AttachedPaused
	AttachedRunning
	AttachedStepping
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case AttachedPaused:
		return "attached-paused"
	case AttachedRunning:
		return "attached-running"
	case AttachedStepping:
		return "attached-stepping"
	default:
		return "unknown"
	}
}

var log = xlogflags.SteppingLogger()

// Controller drives one attachment's state machine. It holds no
// process-wide state — the caller (REPL, or the remote protocol handler)
// owns a Controller as a scoped resource for the lifetime of one
// attachment.
type Controller struct {
	domain xenctrl.Domain
	bps    *breakpoint.Manager
	vcpu   xenctrl.VCPU

	state        State
	pollInterval time.Duration
}

// New creates a Controller in state AttachedPaused: the attach sequence
// already performed decoder-open and pause, so the Controller starts life
// already attached.
func New(domain xenctrl.Domain, bps *breakpoint.Manager, vcpu xenctrl.VCPU, pollInterval time.Duration) *Controller {
	return &Controller{
		domain:       domain,
		bps:          bps,
		vcpu:         vcpu,
		state:        AttachedPaused,
		pollInterval: pollInterval,
	}
}

// State returns the controller's current state.
func (c *Controller) State() State { return c.state }

// BreakpointManager returns the Manager this controller drives, so
// higher layers (the protocol handler, the AttachmentState) can share one
// BreakpointTable with the controller rather than constructing their own.
func (c *Controller) BreakpointManager() *breakpoint.Manager { return c.bps }

func (c *Controller) requireAttached() error {
	if c.state == Detached {
		return xdbgerr.NotAttached
	}
	return nil
}

// Continue implements the AttachedPaused -> AttachedRunning transition: if
// IP sits on a breakpoint, step over it first (so the guest doesn't
// immediately retrap on its own sentinel), then unpause.
func (c *Controller) Continue(ctx context.Context) error {
	if err := c.requireAttached(); err != nil {
		return err
	}
	cpuCtx, err := c.domain.GetCPUContext(c.vcpu)
	if err != nil {
		return err
	}
	if _, atBreakpoint := c.bps.FindByAddress(cpuCtx.IP()); atBreakpoint {
		if _, err := c.SingleStep(ctx); err != nil {
			return err
		}
	}
	c.state = AttachedRunning
	if err := c.domain.Unpause(); err != nil {
		return err
	}
	log.Debug("continue: unpaused")
	return nil
}

// PollForHit polls at the controller's configured cadence until
// check_breakpoint_hit is true, ctx is cancelled, or checking for a hit
// returns an error. It is used both by Continue's caller (to
// learn when the guest has stopped again) and internally by SingleStep.
func (c *Controller) PollForHit(ctx context.Context) (uint64, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			hitAddr, hit, err := c.checkBreakpointHit()
			if err != nil {
				return 0, err
			}
			if hit {
				if err := c.domain.Pause(); err != nil {
					return 0, err
				}
				c.state = AttachedPaused
				return hitAddr, nil
			}
		}
	}
}

// checkBreakpointHit reads the current IP's two bytes and tests them
// against the sentinel AND membership in the BreakpointTable. Both
// conditions guard against a guest program that happens to contain a
// literal EB FE of its own.
func (c *Controller) checkBreakpointHit() (uint64, bool, error) {
	cpuCtx, err := c.domain.GetCPUContext(c.vcpu)
	if err != nil {
		return 0, false, err
	}
	ip := cpuCtx.IP()
	if _, ok := c.bps.FindByAddress(ip); !ok {
		return 0, false, nil
	}
	win, err := c.domain.MapMemory(ip, 2, guestmem.ProtRead)
	if err != nil {
		return 0, false, err
	}
	defer win.Close()
	var buf [2]byte
	if _, err := win.ReadMemory(buf[:], ip); err != nil {
		return 0, false, err
	}
	return ip, buf == breakpoint.Sentinel, nil
}

// stepState tracks the bookkeeping SingleStep needs across its
// pause/predict/plant/poll/cleanup phases.
type stepState struct {
	preStepBreakpointAddr uint64
	hadPreStepBreakpoint  bool
	transientAddrs        []uint64
}

// SingleStep implements the stepping protocol that is this engine's key
// algorithm, since the platform has no native trap-based step facility
// for paravirtual guests. It plants transient traps at the predicted
// successor address(es), runs, and cleans them up when the guest halts
// at one of them.
//
// The guest stays paused from entry through the Unpause call below: the
// pre-step breakpoint removal, prediction, and trap planting are all
// memory-mutating Manager calls that require it. The single Unpause
// after planting is the only point before PollForHit where the guest
// actually runs; PollForHit re-pauses the instant it sees the hit, so
// every call after it (the two cleanup calls and the final state
// assignment) again runs against a paused guest. On every return path,
// state ends at AttachedPaused with the guest actually paused to match.
func (c *Controller) SingleStep(ctx context.Context) (uint64, error) {
	if err := c.requireAttached(); err != nil {
		return 0, err
	}
	if err := c.domain.Pause(); err != nil {
		return 0, err
	}
	c.state = AttachedStepping

	st := &stepState{}

	cpuCtx, err := c.domain.GetCPUContext(c.vcpu)
	if err != nil {
		c.state = AttachedPaused
		return 0, err
	}
	ip := cpuCtx.IP()

	if bp, ok := c.bps.FindByAddress(ip); ok {
		st.hadPreStepBreakpoint = true
		st.preStepBreakpointAddr = bp.Address
		if err := c.bps.Delete(bp.ID); err != nil {
			c.state = AttachedPaused
			return 0, err
		}
	}

	succ, err := c.predict(&cpuCtx, ip)
	if err != nil {
		// Prediction failure: guest left paused, no traps planted.
		c.state = AttachedPaused
		return 0, err
	}

	if err := c.plantTransients(st, succ); err != nil {
		c.removeTransients(st)
		c.state = AttachedPaused
		return 0, err
	}

	if err := c.domain.Unpause(); err != nil {
		c.removeTransients(st)
		c.state = AttachedPaused
		return 0, err
	}

	hitAddr, err := c.PollForHit(ctx)
	if err != nil {
		// Cancelled or polling error: pause, remove traps, surface the error.
		c.domain.Pause()
		c.removeTransients(st)
		c.restorePreStepBreakpoint(st)
		c.state = AttachedPaused
		return 0, err
	}

	c.removeTransients(st)
	c.restorePreStepBreakpoint(st)
	c.state = AttachedPaused
	log.WithField("hit", hitAddr).Debug("single step complete")
	return hitAddr, nil
}

func (c *Controller) predict(cpuCtx *cpuregs.CpuContext, ip uint64) (disas.Successors, error) {
	win, err := c.domain.MapMemory(ip, 2*16, guestmem.ProtRead)
	if err != nil {
		return disas.Successors{}, err
	}
	defer win.Close()
	return disas.Predict(cpuCtx, win, ip)
}

// plantTransients plants a transient trap at every predicted address not
// already covered by a user breakpoint.
func (c *Controller) plantTransients(st *stepState, succ disas.Successors) error {
	addrs := []uint64{succ.Primary}
	if succ.Alternate != nil {
		addrs = append(addrs, *succ.Alternate)
	}
	for _, addr := range addrs {
		if _, ok := c.bps.FindByAddress(addr); ok {
			continue
		}
		if _, err := c.bps.Create(addr); err != nil {
			return err
		}
		st.transientAddrs = append(st.transientAddrs, addr)
	}
	return nil
}

// removeTransients removes every transient trap this step planted,
// best-effort.
func (c *Controller) removeTransients(st *stepState) {
	for _, addr := range st.transientAddrs {
		if bp, ok := c.bps.FindByAddress(addr); ok {
			if err := c.bps.Delete(bp.ID); err != nil {
				log.WithError(err).WithField("addr", addr).Warn("failed to remove transient trap")
			}
		}
	}
	st.transientAddrs = nil
}

// restorePreStepBreakpoint replants the user breakpoint that SingleStep
// removed from the pre-step IP, if any.
func (c *Controller) restorePreStepBreakpoint(st *stepState) {
	if !st.hadPreStepBreakpoint {
		return
	}
	if _, err := c.bps.Create(st.preStepBreakpointAddr); err != nil {
		log.WithError(err).WithField("addr", st.preStepBreakpointAddr).Warn("failed to replant pre-step breakpoint")
	}
	st.hadPreStepBreakpoint = false
}

// Detach drains breakpoints and moves the controller to Detached.
// Draining errors are logged but do not prevent detach from completing.
// Drain requires the guest paused, which normally already holds (the
// controller only ever hands control back to its caller paused), but
// Detach pauses explicitly since it must be safe to call from any state.
func (c *Controller) Detach() []error {
	c.domain.Pause()
	errs := c.bps.Drain()
	for _, err := range errs {
		log.WithError(err).Warn("error draining breakpoint on detach")
	}
	c.domain.Unpause()
	c.state = Detached
	return errs
}

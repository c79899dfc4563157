package device

import (
	"context"
	"time"

	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

// DefaultPollInterval is the main-loop period used by [Controller.Run].
const DefaultPollInterval = 100 * time.Microsecond

// HandleEvent is the interrupt-context entry point. The channel calls it
// with the transaction-complete interrupt masked.
func (c *Controller) HandleEvent(ev hal.Event) {
	switch ev.Kind {
	case hal.EventSetup:
		c.handleSetup()

	case hal.EventTransaction:
		c.completed(ev)
		if ev.Endpoint == 0 {
			c.controlTransaction(ev)
			return
		}
		if c.state.Configuration == 0 {
			return
		}
		for _, d := range c.Drivers() {
			if d.Transaction(c, ev) {
				return
			}
		}
		pkg.LogDebug(pkg.ComponentController, "unclaimed transaction",
			"endpoint", ev.Endpoint, "direction", ev.Direction.String())

	case hal.EventReset:
		c.busReset()

	case hal.EventSuspend:
		c.suspend()

	case hal.EventResume:
		c.resume()
	}
}

// handleSetup starts a new control session. A session still in progress is
// aborted first and its callback sees pkg.ErrAborted.
func (c *Controller) handleSetup() {
	var raw [SetupPacketSize]byte
	c.hal.ReadSetup(raw[:])

	if c.ctl.stage != StageIdle {
		pkg.LogDebug(pkg.ComponentControl, "control session aborted",
			"request", c.ctl.Setup.Request, "stage", c.ctl.stage.String())
		c.ctl.finish(c.ctl.cursor, pkg.ErrAborted)
	}
	c.hal.Cancel(0, hal.In, 0)
	c.hal.Cancel(0, hal.Out, 0)
	c.hal.ClearHalt(0, hal.In)
	c.hal.ClearHalt(0, hal.Out)
	c.eps.Record(0).Halted = [2]bool{}

	c.ctl = ControlSession{stage: StageSetup}
	setup := &c.ctl.Setup
	if err := ParseSetupPacket(raw[:], setup); err != nil {
		c.StallControl()
		return
	}
	pkg.LogDebug(pkg.ComponentControl, "setup", "packet", setup.String())

	handled := false
	if setup.IsStandard() {
		handled = c.handleStandard(setup)
	}
	if !handled {
		for _, d := range c.Drivers() {
			if d.Setup(c, setup) {
				handled = true
				break
			}
		}
	}
	if !handled || c.ctl.stage == StageSetup {
		c.StallControl()
	}
}

// Task runs one pass of every class driver's deferred work. Call it from
// the main loop.
func (c *Controller) Task() {
	for _, d := range c.Drivers() {
		d.Task(c)
	}
}

// Run calls Task every interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.Task()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

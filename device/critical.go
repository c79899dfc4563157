package device

import "github.com/ardnew/sieusb/device/hal"

// Guard is a critical section over the transaction-complete interrupt.
// It is obtained from [Controller.Critical] and released with Exit:
//
//	defer c.Critical().Exit()
//
// Guards do not nest. Interrupt-context code already runs masked and must
// not take one.
type Guard struct {
	ch hal.Channel
}

// Critical masks the transaction-complete interrupt until Exit is called on
// the returned guard.
func (c *Controller) Critical() Guard {
	c.hal.Mask()
	return Guard{ch: c.hal}
}

// Exit unmasks the interrupt.
func (g Guard) Exit() {
	g.ch.Unmask()
}

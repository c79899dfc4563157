package device

import (
	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

// ControlCallback is invoked exactly once per control session.
//
// For a session started with [Controller.StartReceive], it runs when the
// data stage ends, with the number of bytes received; returning an error
// vetoes the request and the status stage is answered with STALL. For
// every other session it runs after the status stage, with the number of
// bytes sent, and its return value is ignored. err is non-nil when the
// session failed: pkg.ErrAborted (a new SETUP arrived), pkg.ErrStall,
// pkg.ErrOverrun or pkg.ErrReset.
type ControlCallback func(n int, err error) error

// Stage is the position of the control session in its state machine.
type Stage uint8

// Control session stages.
const (
	StageIdle      Stage = iota // no session
	StageSetup                  // SETUP received, request being dispatched
	StageDataIn                 // device sending data
	StageDataOut                // device receiving data
	StageStatusIn               // device sending the status ZLP
	StageStatusOut              // device waiting for the host's status ZLP
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageSetup:
		return "setup"
	case StageDataIn:
		return "data-in"
	case StageDataOut:
		return "data-out"
	case StageStatusIn:
		return "status-in"
	case StageStatusOut:
		return "status-out"
	default:
		return "unknown"
	}
}

// ControlSession is the state of the single transfer in progress on
// endpoint 0.
type ControlSession struct {
	Setup SetupPacket

	stage  Stage
	data   []byte
	cursor int
	last   int  // length of the packet in flight
	short  bool // device returns fewer bytes than wLength
	toggle bool
	cb     ControlCallback
}

// Stage returns the session's current stage.
func (s *ControlSession) Stage() Stage {
	return s.stage
}

// finish ends the session and invokes the callback, if any, exactly once.
func (s *ControlSession) finish(n int, err error) error {
	cb := s.cb
	s.cb = nil
	s.stage = StageIdle
	if cb == nil {
		return nil
	}
	return cb(n, err)
}

// Control returns the session in progress on endpoint 0.
func (c *Controller) Control() *ControlSession {
	return &c.ctl
}

// StartControlReturn answers the current request with data. The device
// sends min(len(data), hostLength) bytes in packets of at most the ep0
// packet size; when that is less than hostLength and the last packet is
// full-sized, a zero-length packet marks the end. hostLength 0 skips the
// data stage. data must stay valid until cb runs.
func (c *Controller) StartControlReturn(data []byte, hostLength int, cb ControlCallback) error {
	s := &c.ctl
	if s.stage != StageSetup {
		return pkg.ErrInvalidState
	}
	if hostLength <= 0 {
		return c.Acknowledge(cb)
	}
	n := min(len(data), hostLength)
	s.data = data[:n]
	s.cursor = 0
	s.short = n < hostLength
	s.toggle = true
	s.cb = cb
	s.stage = StageDataIn
	return c.sendControlPacket()
}

// StartReceive runs an OUT data stage into buf. The stage ends at a short
// packet or once expected bytes have arrived; cb then decides between the
// status ZLP and STALL.
func (c *Controller) StartReceive(buf []byte, expected int, cb ControlCallback) error {
	s := &c.ctl
	if s.stage != StageSetup {
		return pkg.ErrInvalidState
	}
	if len(buf) < expected {
		return pkg.ErrBufferTooSmall
	}
	s.data = buf[:expected]
	s.cursor = 0
	s.toggle = true
	s.cb = cb
	if expected == 0 {
		return c.endReceive()
	}
	s.stage = StageDataOut
	return c.armControlOut()
}

// Acknowledge answers a no-data request with the status ZLP. cb runs once
// the host has collected it.
func (c *Controller) Acknowledge(cb ControlCallback) error {
	s := &c.ctl
	if s.stage != StageSetup {
		return pkg.ErrInvalidState
	}
	s.cb = cb
	return c.sendStatusIn()
}

// StallControl rejects the current request: both directions of endpoint 0
// answer STALL until the next SETUP, and the session fails with
// pkg.ErrStall.
func (c *Controller) StallControl() {
	c.stallControl(pkg.ErrStall)
}

func (c *Controller) stallControl(err error) {
	s := &c.ctl
	c.hal.Cancel(0, hal.In, 0)
	c.hal.Cancel(0, hal.Out, 0)
	c.hal.SetHalt(0, hal.In)
	c.hal.SetHalt(0, hal.Out)
	rec := c.eps.Record(0)
	rec.Halted = [2]bool{true, true}
	pkg.LogDebug(pkg.ComponentControl, "ep0 stalled",
		"request", s.Setup.Request, "stage", s.stage.String(), "error", err)
	s.finish(s.cursor, err)
}

func (c *Controller) mps0() int {
	return int(c.eps.Record(0).MaxPacket[hal.In])
}

// sendControlPacket arms the next IN packet of the data stage.
func (c *Controller) sendControlPacket() error {
	s := &c.ctl
	chunk := min(len(s.data)-s.cursor, c.mps0())
	copy(c.ep0In[:], s.data[s.cursor:s.cursor+chunk])
	s.last = chunk
	if err := c.hal.Arm(0, hal.In, 0, c.ep0In[:], hal.NewWord(chunk, s.toggle)); err != nil {
		c.stallControl(err)
		return err
	}
	return nil
}

func (c *Controller) armControlOut() error {
	s := &c.ctl
	if err := c.hal.Arm(0, hal.Out, 0, c.ep0Out[:], hal.NewWord(c.mps0(), s.toggle)); err != nil {
		c.stallControl(err)
		return err
	}
	return nil
}

func (c *Controller) sendStatusIn() error {
	s := &c.ctl
	s.stage = StageStatusIn
	if err := c.hal.Arm(0, hal.In, 0, c.ep0In[:], hal.NewWord(0, true)); err != nil {
		c.stallControl(err)
		return err
	}
	return nil
}

// controlTransaction advances the session on an ep0 completion.
func (c *Controller) controlTransaction(ev hal.Event) {
	s := &c.ctl
	switch {
	case s.stage == StageDataIn && ev.Direction == hal.In:
		s.cursor += s.last
		s.toggle = !s.toggle
		switch {
		case s.cursor < len(s.data):
			c.sendControlPacket()
		case s.short && s.last == c.mps0():
			c.sendControlPacket()
		default:
			s.stage = StageStatusOut
			s.toggle = true
			c.armControlOut()
		}

	case s.stage == StageStatusOut && ev.Direction == hal.Out:
		if ev.Word.ByteCount() != 0 {
			c.stallControl(pkg.ErrProtocol)
			return
		}
		s.finish(s.cursor, nil)

	case s.stage == StageDataOut && ev.Direction == hal.Out:
		n := ev.Word.ByteCount()
		if n > len(s.data)-s.cursor {
			c.stallControl(pkg.ErrOverrun)
			return
		}
		copy(s.data[s.cursor:], c.ep0Out[:n])
		s.cursor += n
		s.toggle = !s.toggle
		if n < c.mps0() || s.cursor == len(s.data) {
			c.endReceive()
			return
		}
		c.armControlOut()

	case s.stage == StageStatusIn && ev.Direction == hal.In:
		s.finish(s.cursor, nil)

	default:
		pkg.LogDebug(pkg.ComponentControl, "unexpected ep0 completion",
			"stage", s.stage.String(), "direction", ev.Direction.String())
	}
}

// endReceive hands the received data to the callback and runs the status
// stage it chooses.
func (c *Controller) endReceive() error {
	s := &c.ctl
	cb := s.cb
	s.cb = nil
	if cb != nil {
		if err := cb(s.cursor, nil); err != nil {
			c.stallControl(err)
			return err
		}
	}
	return c.sendStatusIn()
}

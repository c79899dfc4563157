package msc

import (
	"github.com/ardnew/sieusb/device"
	"github.com/ardnew/sieusb/pkg"
)

// Task implements device.ClassDriver. It drains the pending-operation slot,
// making every storage driver call outside the critical section.
func (m *MSC) Task(c *device.Controller) {
	for {
		g := c.Critical()
		aborts := m.slot.takeAborts()
		op, ok := m.slot.take()
		epoch := m.epoch
		g.Exit()

		// Aborts run first: a queued command may reuse the aborted LUN.
		for lun := range uint8(MaxLUNs) {
			if aborts&(1<<lun) != 0 {
				pkg.LogDebug(pkg.ComponentStorage, "abort", "lun", lun)
				m.driver.Abort(lun)
			}
		}
		if !ok {
			if aborts == 0 {
				return
			}
			continue
		}

		switch op.kind {
		case OpCommand:
			m.command(c, &op.cbw, epoch)
		case OpReadHandled:
			if err := m.driver.ReadHandled(op.lun); err != nil {
				m.failIf(c, epoch, err)
			}
		case OpWriteData:
			if err := m.driver.WriteData(op.lun, op.n); err != nil {
				m.failIf(c, epoch, err)
			}
		case OpComplete:
			m.complete(c, op.lun, epoch)
		}
	}
}

// failIf ends the data phase with err unless the transport moved on.
func (m *MSC) failIf(c *device.Controller, epoch uint32, err error) {
	defer c.Critical().Exit()
	if m.epoch != epoch || !m.active {
		return
	}
	m.fail(c, err)
}

// complete tells the driver a read or write finished and releases the
// status phase.
func (m *MSC) complete(c *device.Controller, lun uint8, epoch uint32) {
	err := m.driver.Complete(lun)

	defer c.Critical().Exit()
	if m.epoch != epoch || !m.active {
		return
	}
	m.active = false
	if err != nil {
		pkg.LogWarn(pkg.ComponentStorage, "complete failed", "lun", lun, "error", err)
		m.status = CSWStatusFailed
		m.sense[lun] = SenseFromError(err)
	}
	m.finish(c)
}

// command interprets a CBW, classifies it against the host's declared
// transfer and starts the matching data and status phases.
func (m *MSC) command(c *device.Controller, cbw *CommandBlockWrapper, epoch uint32) {
	r := m.execute(cbw)
	cs := Classify(cbw.Intent(), cbw.DataTransferLength, r.intent, r.length)
	act := cs.Action()

	if pkg.DebugEnabled() {
		pkg.LogDebug(pkg.ComponentSCSI, "command",
			"opcode", opcodeName(cbw.CB[0]),
			"case", cs.String(),
			"status", r.status,
			"deviceLength", r.length)
	}

	status := r.status
	if act.Status != 0 {
		status = act.Status
	}
	// Sense survives INQUIRY and any command whose CSW is not GOOD.
	if status == CSWStatusGood && cbw.CB[0] != SCSIInquiry {
		m.sense[cbw.LUN] = SenseOK
	}

	// Reads and writes need the driver before the data phase can start.
	var wbuf []byte
	if act.Data && r.op == opWrite {
		buf, err := m.driver.StartWrite(cbw.LUN, r.lba, r.count, m)
		if err == nil && len(buf) == 0 {
			err = pkg.ErrBufferTooSmall
		}
		if err != nil {
			m.writeRefused(c, cbw, epoch, err)
			return
		}
		wbuf = buf
	}

	g := c.Critical()
	if m.epoch != epoch || m.state != StateCommand {
		g.Exit()
		if wbuf != nil {
			m.driver.Abort(cbw.LUN)
		}
		return
	}

	m.lun = cbw.LUN
	m.hostLen = cbw.DataTransferLength
	m.status = status

	if !act.Data {
		m.devLen = 0
		if act.StallIn || act.StallOut {
			m.stallFor(c, act.StallIn, act.StallOut)
		} else {
			m.sendCSW(c)
		}
		g.Exit()
		return
	}

	m.devLen = r.length
	m.stallAfter = act.StallIn
	switch r.op {
	case opRead:
		m.storage, m.active = true, true
		m.setState(StateDataIn)
		g.Exit()
		if err := m.driver.StartRead(cbw.LUN, r.lba, r.count, m); err != nil {
			m.failIf(c, epoch, err)
		}
		return

	case opWrite:
		m.storage, m.active = true, true
		m.dst, m.fill = wbuf, 0
		m.setState(StateDataOut)
		m.armOut(c)

	default:
		m.src, m.off = m.resp[:r.length], 0
		m.setState(StateDataIn)
		m.sendChunk(c)
	}
	g.Exit()
}

// writeRefused reports a driver that refused to start a write. No data
// moved, so bulk OUT is halted and the CSW reports FAILED.
func (m *MSC) writeRefused(c *device.Controller, cbw *CommandBlockWrapper, epoch uint32, err error) {
	pkg.LogWarn(pkg.ComponentStorage, "start failed", "lun", cbw.LUN, "error", err)
	m.sense[cbw.LUN] = SenseFromError(err)

	defer c.Critical().Exit()
	if m.epoch != epoch || m.state != StateCommand {
		return
	}
	m.lun = cbw.LUN
	m.hostLen = cbw.DataTransferLength
	m.status = CSWStatusFailed
	m.stallFor(c, false, true)
}

package msc

import (
	"fmt"

	"github.com/ardnew/sieusb/device"
	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

// Everything in this file runs in interrupt context or inside the
// controller's critical section.

// queue hands op to the main loop. A refusal means two operations were
// produced without an answer in between, which the transport never does.
func (m *MSC) queue(op pendingOp) {
	if !m.slot.post(op) {
		pkg.LogError(pkg.ComponentMSC, "operation slot occupied",
			"op", op.kind, "queued", m.slot.peek(), "state", m.state)
	}
}

// receiveCBW arms bulk OUT for the next CBW. The descriptor gets a full
// packet of room so that oversized wrappers are seen and rejected.
func (m *MSC) receiveCBW(c *device.Controller) {
	if m.mpsOut == 0 || c.Halted(m.cfg.BulkOut) {
		return
	}
	if r, dir, ok := c.Endpoints().Lookup(m.cfg.BulkOut); !ok || r.Outstanding(dir) > 0 {
		return
	}
	bank := c.NextBank(m.cfg.BulkOut)
	if err := c.Arm(m.cfg.BulkOut, m.out[bank][:], m.mpsOut); err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "arm CBW receive failed", "error", err)
	}
}

// rejectCBW halts both bulk endpoints until a class reset.
func (m *MSC) rejectCBW(c *device.Controller, err error) {
	pkg.LogWarn(pkg.ComponentMSC, "CBW rejected", "error", err, "state", m.state)
	c.Stall(m.cfg.BulkIn)
	c.Stall(m.cfg.BulkOut)
	m.setState(StateNeedsResetRecovery)
}

// outComplete handles a completed bulk OUT transaction.
func (m *MSC) outComplete(c *device.Controller, ev hal.Event) {
	bank := ev.Bank & 1
	n := ev.Word.ByteCount()

	switch m.state {
	case StateIdle:
		if err := ParseCBW(m.out[bank][:n], m.cfg.MaxLUN, &m.cbw); err != nil {
			m.rejectCBW(c, err)
			return
		}
		if pkg.DebugEnabled() {
			pkg.LogDebug(pkg.ComponentMSC, "CBW",
				"tag", m.cbw.Tag,
				"length", m.cbw.DataTransferLength,
				"in", m.cbw.IsDataIn(),
				"lun", m.cbw.LUN,
				"opcode", fmt.Sprintf("0x%02X", m.cbw.CB[0]))
		}
		m.setState(StateCommand)
		m.queue(pendingOp{kind: OpCommand, lun: m.cbw.LUN, cbw: m.cbw})

	case StateDataOut:
		m.armed[bank] = 0
		if m.draining || m.nheld > 0 {
			m.hold(held{bank: bank, n: n})
			return
		}
		if rest := m.accept(c, held{bank: bank, n: n}); rest > 0 {
			m.hold(held{bank: bank, off: n - rest, n: n})
		}
		m.armOut(c)

	default:
		// Bulk OUT is armed only in Idle and DataOut, so this needs a
		// controller that completes a transfer nobody armed.
		m.rejectCBW(c, fmt.Errorf("%w: %v", ErrCBWState, m.state))
	}
}

// hold keeps an OUT packet in its bank until the write buffer drains.
func (m *MSC) hold(p held) {
	if m.nheld < len(m.held) {
		m.held[m.nheld] = p
		m.nheld++
	}
	if pkg.DebugEnabled() {
		pkg.LogDebug(pkg.ComponentMSC, "OUT packet held",
			"bank", p.bank, "length", p.n-p.off, "held", m.nheld)
	}
}

// accept copies as much of packet p as fits into the write buffer and
// returns the bytes left over. A write buffer whose capacity is not a
// multiple of the packet size splits packets this way. The buffer goes to
// the driver once it is full or the data phase is over.
func (m *MSC) accept(c *device.Controller, p held) int {
	k := copy(m.dst[m.fill:], m.out[p.bank][p.off:p.n])
	m.fill += k
	m.xfer += uint32(k)
	rest := p.n - p.off - k
	if rest == 0 && p.n < m.mpsOut && m.xfer < m.devLen {
		// A short packet ends the data phase early. Banks armed for data
		// that will not come must not catch the next CBW.
		m.devLen = m.xfer
		c.Unarm(m.cfg.BulkOut)
		m.armed = [2]int{}
	}
	if m.fill == len(m.dst) || m.xfer >= m.devLen {
		m.draining = true
		m.queue(pendingOp{kind: OpWriteData, lun: m.lun, n: m.fill})
	}
	return rest
}

// armOut arms free OUT banks for the data still owed by the host. It never
// arms more than the data phase holds so the next CBW cannot land in a
// data buffer.
func (m *MSC) armOut(c *device.Controller) {
	for range 2 {
		owed := int(m.devLen - m.xfer)
		for i := range m.nheld {
			owed -= m.held[i].n - m.held[i].off
		}
		owed -= m.armed[0] + m.armed[1]
		if owed <= 0 {
			return
		}
		bank := c.NextBank(m.cfg.BulkOut)
		if m.armed[bank] != 0 || m.isHeld(bank) {
			return
		}
		n := min(owed, m.mpsOut)
		if err := c.Arm(m.cfg.BulkOut, m.out[bank][:], n); err != nil {
			return
		}
		m.armed[bank] = n
	}
}

func (m *MSC) isHeld(bank uint8) bool {
	for i := range m.nheld {
		if m.held[i].bank == bank {
			return true
		}
	}
	return false
}

// replay feeds held packets into the drained write buffer in arrival order.
func (m *MSC) replay(c *device.Controller) {
	for m.nheld > 0 && !m.draining {
		if rest := m.accept(c, m.held[0]); rest > 0 {
			m.held[0].off = m.held[0].n - rest
			return
		}
		m.held[0] = m.held[1]
		m.nheld--
	}
}

// inComplete handles a completed bulk IN transaction.
func (m *MSC) inComplete(c *device.Controller, ev hal.Event) {
	switch m.state {
	case StateDataIn:
		m.xfer += uint32(m.last)
		if m.staged > 0 {
			m.staged = 0
		} else {
			m.off += m.last
		}
		m.last = 0
		switch {
		case m.xfer >= m.devLen:
			m.endDataIn(c)
		case m.off >= len(m.src) && m.storage:
			m.nextBlock()
		default:
			m.sendChunk(c)
		}

	case StateCSW:
		m.resetData()
		m.setState(StateIdle)
		m.receiveCBW(c)
	}
}

// sendChunk arms the next IN packet of the current source buffer. Only the
// last packet of the data phase may be short, so a driver block ending
// mid-packet is staged and topped up from the next block.
func (m *MSC) sendChunk(c *device.Controller) {
	owed := int(m.devLen - m.xfer)
	buf := m.src[m.off:]
	if m.staged > 0 {
		need := min(m.mpsIn, owed)
		k := copy(m.stage[m.staged:need], buf)
		m.staged += k
		m.off += k
		if m.staged < need {
			m.nextBlock()
			return
		}
		buf = m.stage[:m.staged]
	} else if m.storage && len(buf) < m.mpsIn && len(buf) < owed {
		m.staged = copy(m.stage[:], buf)
		m.off += m.staged
		m.nextBlock()
		return
	}
	n := min(m.mpsIn, len(buf), owed)
	if n <= 0 {
		return
	}
	if err := c.Arm(m.cfg.BulkIn, buf, n); err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "arm IN data failed", "error", err)
		return
	}
	m.last = n
}

// nextBlock releases the current read block and asks the driver for the
// next one.
func (m *MSC) nextBlock() {
	m.src = nil
	m.queue(pendingOp{kind: OpReadHandled, lun: m.lun})
}

// endDataIn finishes an IN data phase. A driver-backed read reports
// completion to the driver before the status phase.
func (m *MSC) endDataIn(c *device.Controller) {
	if m.storage {
		m.queue(pendingOp{kind: OpComplete, lun: m.lun})
		return
	}
	m.finish(c)
}

// finish ends the data phase: case 5 halts bulk IN first, everything else
// goes straight to the CSW.
func (m *MSC) finish(c *device.Controller) {
	if m.stallAfter {
		c.Stall(m.cfg.BulkIn)
		m.setState(StateStall)
		return
	}
	m.sendCSW(c)
}

// stallFor halts the named endpoints and parks the CSW behind them.
func (m *MSC) stallFor(c *device.Controller, in, out bool) {
	if in {
		c.Stall(m.cfg.BulkIn)
	}
	if out {
		c.Stall(m.cfg.BulkOut)
	}
	m.setState(StateStall)
}

// residue is the byte count requested but not transferred.
func (m *MSC) residue() uint32 {
	if m.xfer >= m.hostLen {
		return 0
	}
	return m.hostLen - m.xfer
}

// sendCSW encodes and arms the status wrapper.
func (m *MSC) sendCSW(c *device.Controller) {
	csw := CommandStatusWrapper{
		Signature:   CSWSignature,
		Tag:         m.cbw.Tag,
		DataResidue: m.residue(),
		Status:      m.status,
	}
	csw.MarshalTo(m.csw[:])
	if pkg.DebugEnabled() {
		pkg.LogDebug(pkg.ComponentMSC, "CSW",
			"tag", csw.Tag, "residue", csw.DataResidue, "status", csw.Status)
	}
	m.setState(StateCSW)
	m.armCSW(c)
}

func (m *MSC) armCSW(c *device.Controller) {
	if err := c.Arm(m.cfg.BulkIn, m.csw[:], CSWSize); err != nil {
		pkg.LogDebug(pkg.ComponentMSC, "CSW waits", "error", err)
	}
}

// fail ends a driver-backed data phase with err. The endpoint the host is
// still using is halted and the CSW reports FAILED.
func (m *MSC) fail(c *device.Controller, err error) {
	pkg.LogWarn(pkg.ComponentStorage, "storage operation failed",
		"lun", m.lun, "transferred", m.xfer, "error", err)
	m.active = false
	m.status = CSWStatusFailed
	m.sense[m.lun] = SenseFromError(err)
	switch m.state {
	case StateDataIn:
		if m.xfer < m.hostLen {
			m.stallFor(c, true, false)
			return
		}
	case StateDataOut:
		c.Unarm(m.cfg.BulkOut)
		m.nheld = 0
		if m.xfer < m.hostLen {
			m.stallFor(c, false, true)
			return
		}
	}
	m.sendCSW(c)
}

// BlockReady implements Notifier.
func (m *MSC) BlockReady(lun uint8, data []byte) {
	c := m.ctrl
	defer c.Critical().Exit()
	if m.state != StateDataIn || !m.active || lun != m.lun || m.src != nil {
		return
	}
	if len(data) == 0 {
		m.fail(c, fmt.Errorf("empty block: %w", pkg.ErrMediumRead))
		return
	}
	m.src, m.off = data, 0
	m.sendChunk(c)
}

// WriteDrained implements Notifier.
func (m *MSC) WriteDrained(lun uint8) {
	c := m.ctrl
	defer c.Critical().Exit()
	if m.state != StateDataOut || !m.active || lun != m.lun || !m.draining {
		return
	}
	m.fill = 0
	m.draining = false
	m.replay(c)
	if !m.draining && m.xfer >= m.devLen {
		m.queue(pendingOp{kind: OpComplete, lun: m.lun})
		return
	}
	m.armOut(c)
}

// Failed implements Notifier.
func (m *MSC) Failed(lun uint8, err error) {
	c := m.ctrl
	defer c.Critical().Exit()
	if !m.active || lun != m.lun {
		return
	}
	if m.state != StateDataIn && m.state != StateDataOut {
		return
	}
	m.fail(c, err)
}

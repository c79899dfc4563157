package msc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/sieusb/pkg"
)

// dataOp names what backs a command's data phase.
type dataOp uint8

const (
	opResponse dataOp = iota // reply built in MSC.resp
	opRead                   // driver read
	opWrite                  // driver write
)

// reply is the device side of a command: what it intends to transfer and
// the status it reports.
type reply struct {
	intent Intent
	length uint32
	status uint8
	op     dataOp
	lba    uint32
	count  uint16
}

// good returns a successful reply with no data phase.
func good() reply {
	return reply{status: CSWStatusGood}
}

// respond returns a successful IN reply of n bytes from MSC.resp, truncated
// to the allocation length.
func respond(n, alloc int) reply {
	return reply{intent: IntentIn, length: uint32(min(n, alloc)), status: CSWStatusGood}
}

// execute interprets the SCSI command in cbw. It runs in the main loop and
// may call the driver for anything that does not move data. The reply's
// status is provisional until the case matrix has been applied.
func (m *MSC) execute(cbw *CommandBlockWrapper) reply {
	lun := cbw.LUN
	cb := &cbw.CB

	var r reply
	switch cb[0] {
	case SCSITestUnitReady:
		r = m.testUnitReady(lun)
	case SCSIRequestSense:
		// Reports and clears the latched sense; it never fails itself.
		n := m.sense[lun].MarshalTo(m.resp[:])
		m.sense[lun] = SenseOK
		return respond(n, int(cb[4]))
	case SCSIInquiry:
		r = m.inquiryData(lun, cb)
	case SCSIModeSense6:
		r = m.modeSense(lun, cb, false)
	case SCSIModeSense10:
		r = m.modeSense(lun, cb, true)
	case SCSIStartStopUnit:
		r = m.startStop(lun, cb)
	case SCSIPreventAllowRemoval:
		r = good()
	case SCSIReadFormatCapacities:
		r = m.readFormatCapacities(lun, cb)
	case SCSIReadCapacity10:
		r = m.readCapacity(lun)
	case SCSIRead10:
		r = m.transfer(lun, cb, false)
	case SCSIWrite10:
		r = m.transfer(lun, cb, true)
	case SCSIVerify10:
		r = m.verify(lun, cb)
	case SCSISynchronizeCache10:
		r = m.check(lun, m.driver.Sync(lun))
	default:
		pkg.LogDebug(pkg.ComponentSCSI, "unsupported command", "opcode", fmt.Sprintf("0x%02X", cb[0]))
		r = m.failWith(lun, SenseInvalidCommand)
	}
	return r
}

// failWith latches s and returns a failed reply with no data phase.
func (m *MSC) failWith(lun uint8, s Sense) reply {
	m.sense[lun] = s
	return reply{status: CSWStatusFailed}
}

// check turns a driver error into a reply.
func (m *MSC) check(lun uint8, err error) reply {
	if err != nil {
		pkg.LogDebug(pkg.ComponentSCSI, "command failed", "lun", lun, "error", err)
		return m.failWith(lun, SenseFromError(err))
	}
	return good()
}

// unitInfo returns the cached geometry of lun, asking the driver on a miss.
func (m *MSC) unitInfo(lun uint8) (Info, error) {
	u := &m.units[lun]
	if u.valid {
		return u.info, nil
	}
	info, err := m.driver.Info(lun)
	if err != nil {
		return info, err
	}
	if info.BlockSize == 0 {
		return info, fmt.Errorf("lun %d block size 0: %w", lun, pkg.ErrMediumNotPresent)
	}
	u.info, u.valid = info, true
	return info, nil
}

// invalidate drops the cached geometry of lun.
func (m *MSC) invalidate(lun uint8) {
	m.units[lun] = unit{}
}

func (m *MSC) testUnitReady(lun uint8) reply {
	if err := m.driver.UnitReady(lun); err != nil {
		m.invalidate(lun)
		return m.check(lun, err)
	}
	return good()
}

func (m *MSC) inquiryData(lun uint8, cb *[16]byte) reply {
	alloc := int(binary.BigEndian.Uint16(cb[3:5]))
	if cb[1]&InquiryEVPD == 0 {
		if cb[2] != 0 {
			return m.failWith(lun, SenseInvalidField)
		}
		// Removable is meaningful even without a medium.
		info, _ := m.driver.Info(lun)
		inq := m.inquiry
		if info.Removable {
			inq.RMB = InquiryRMB
		}
		return respond(inq.MarshalTo(m.resp[:]), alloc)
	}

	switch cb[2] {
	case VPDSupportedPages:
		return respond(marshalSupportedPages(m.resp[:]), alloc)
	case VPDUnitSerial:
		var serial string
		if sn, ok := m.driver.(SerialNumberer); ok {
			serial = sn.SerialNumber(lun)
		}
		return respond(marshalUnitSerial(m.resp[:], serial), alloc)
	}
	return m.failWith(lun, SenseInvalidField)
}

func (m *MSC) modeSense(lun uint8, cb *[16]byte, ten bool) reply {
	info, err := m.driver.Info(lun)
	if err != nil {
		return m.check(lun, err)
	}
	var h ModeParameterHeader
	if info.WriteProtected {
		h.DeviceParam = ModeParamWP
	}
	if ten {
		return respond(h.MarshalTo10(m.resp[:]), int(binary.BigEndian.Uint16(cb[7:9])))
	}
	return respond(h.MarshalTo6(m.resp[:]), int(cb[4]))
}

func (m *MSC) startStop(lun uint8, cb *[16]byte) reply {
	start := cb[4]&0x01 != 0
	eject := cb[4]&0x02 != 0
	m.invalidate(lun)
	return m.check(lun, m.driver.StartStop(lun, start, eject))
}

func (m *MSC) readFormatCapacities(lun uint8, cb *[16]byte) reply {
	alloc := int(binary.BigEndian.Uint16(cb[7:9]))
	list := FormatCapacityList{DescType: FormatCapacityNoMedium, BlockLength: DefaultBlockSize}
	if info, err := m.unitInfo(lun); err == nil {
		list = FormatCapacityList{
			BlockCount:  info.BlockCount,
			DescType:    FormatCapacityFormatted,
			BlockLength: info.BlockSize,
		}
	}
	return respond(list.MarshalTo(m.resp[:]), alloc)
}

func (m *MSC) readCapacity(lun uint8) reply {
	info, err := m.unitInfo(lun)
	if err != nil {
		return m.check(lun, err)
	}
	if info.BlockCount == 0 {
		return m.failWith(lun, SenseNoMedium)
	}
	rc := ReadCapacity10Response{LastLBA: info.BlockCount - 1, BlockLength: info.BlockSize}
	return respond(rc.MarshalTo(m.resp[:]), 8)
}

// span validates lba and count against the cached geometry.
func (m *MSC) span(lun uint8, lba uint32, count uint16) (Info, reply, bool) {
	info, err := m.unitInfo(lun)
	if err != nil {
		return info, m.check(lun, err), false
	}
	if uint64(lba)+uint64(count) > uint64(info.BlockCount) {
		return info, m.failWith(lun, SenseOutOfRange), false
	}
	return info, reply{}, true
}

// transfer prepares READ(10) and WRITE(10). The driver is started once the
// case matrix lets the data phase run.
func (m *MSC) transfer(lun uint8, cb *[16]byte, write bool) reply {
	lba, count := rw10(cb)
	if count == 0 {
		return good()
	}
	info, r, valid := m.span(lun, lba, count)
	if !valid {
		return r
	}
	if write {
		// Write protection can change without a medium change.
		cur, err := m.driver.Info(lun)
		if err != nil {
			return m.check(lun, err)
		}
		if cur.WriteProtected {
			return m.failWith(lun, SenseProtected)
		}
	}
	r = reply{
		intent: IntentIn,
		length: uint32(count) * info.BlockSize,
		status: CSWStatusGood,
		op:     opRead,
		lba:    lba,
		count:  count,
	}
	if write {
		r.intent, r.op = IntentOut, opWrite
	}
	return r
}

// verify checks the range of VERIFY(10). Byte-by-byte comparison is not
// supported.
func (m *MSC) verify(lun uint8, cb *[16]byte) reply {
	if cb[1]&0x02 != 0 {
		return m.failWith(lun, SenseInvalidField)
	}
	lba, count := rw10(cb)
	if _, r, valid := m.span(lun, lba, count); !valid {
		return r
	}
	return good()
}

// opcodeName returns a printable SCSI operation code.
func opcodeName(op byte) string {
	switch op {
	case SCSITestUnitReady:
		return "TEST UNIT READY"
	case SCSIRequestSense:
		return "REQUEST SENSE"
	case SCSIInquiry:
		return "INQUIRY"
	case SCSIModeSense6:
		return "MODE SENSE(6)"
	case SCSIModeSense10:
		return "MODE SENSE(10)"
	case SCSIStartStopUnit:
		return "START STOP UNIT"
	case SCSIPreventAllowRemoval:
		return "PREVENT ALLOW MEDIUM REMOVAL"
	case SCSIReadFormatCapacities:
		return "READ FORMAT CAPACITIES"
	case SCSIReadCapacity10:
		return "READ CAPACITY(10)"
	case SCSIRead10:
		return "READ(10)"
	case SCSIWrite10:
		return "WRITE(10)"
	case SCSIVerify10:
		return "VERIFY(10)"
	case SCSISynchronizeCache10:
		return "SYNCHRONIZE CACHE(10)"
	default:
		return fmt.Sprintf("0x%02X", op)
	}
}

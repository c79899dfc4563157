package msc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CBW validation errors. Any of them sends the transport to
// [StateNeedsResetRecovery].
var (
	ErrCBWLength        = errors.New("msc: CBW is not 31 bytes")
	ErrCBWSignature     = errors.New("msc: bad CBW signature")
	ErrCBWFlags         = errors.New("msc: reserved CBW flag bits set")
	ErrCBWCommandLength = errors.New("msc: CBW command block length out of range")
	ErrCBWLUN           = errors.New("msc: CBW LUN out of range")
	ErrCBWState         = errors.New("msc: CBW received outside Idle")
)

// CommandBlockWrapper represents a Command Block Wrapper in Bulk-Only Transport.
type CommandBlockWrapper struct {
	Signature          uint32   // Must be CBWSignature (0x43425355)
	Tag                uint32   // Command block tag
	DataTransferLength uint32   // Number of bytes to transfer in data phase
	Flags              uint8    // Direction flag (bit 7: 0=Out, 1=In)
	LUN                uint8    // Logical Unit Number (bits 0-3)
	CBLength           uint8    // Command block length (1-16)
	CB                 [16]byte // Command block (SCSI CDB)
}

// ParseCBW decodes and validates a Command Block Wrapper. data must be
// exactly one CBW; maxLUN is the highest LUN the interface exposes.
func ParseCBW(data []byte, maxLUN uint8, out *CommandBlockWrapper) error {
	if len(data) != CBWSize {
		return fmt.Errorf("%w: got %d", ErrCBWLength, len(data))
	}

	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	if out.Signature != CBWSignature {
		return ErrCBWSignature
	}

	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataTransferLength = binary.LittleEndian.Uint32(data[8:12])
	out.Flags = data[12]
	out.LUN = data[13] & 0x0F // Only bits 0-3
	out.CBLength = data[14] & 0x1F
	copy(out.CB[:], data[15:31])

	if out.Flags&^CBWFlagDataIn != 0 {
		return ErrCBWFlags
	}
	if out.CBLength < 1 || out.CBLength > CBWMaxCBLength {
		return ErrCBWCommandLength
	}
	if out.LUN > maxLUN {
		return ErrCBWLUN
	}
	return nil
}

// MarshalTo writes the wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (cbw *CommandBlockWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CBWSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], cbw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], cbw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], cbw.DataTransferLength)
	buf[12] = cbw.Flags
	buf[13] = cbw.LUN
	buf[14] = cbw.CBLength
	copy(buf[15:31], cbw.CB[:])
	return CBWSize
}

// IsDataIn returns true if the data phase is device-to-host (IN).
func (cbw *CommandBlockWrapper) IsDataIn() bool {
	return cbw.Flags&CBWFlagDataIn != 0
}

// Intent returns what the host declared it will transfer.
func (cbw *CommandBlockWrapper) Intent() Intent {
	switch {
	case cbw.DataTransferLength == 0:
		return IntentNone
	case cbw.IsDataIn():
		return IntentIn
	default:
		return IntentOut
	}
}

// CommandStatusWrapper represents a Command Status Wrapper in Bulk-Only Transport.
type CommandStatusWrapper struct {
	Signature   uint32 // Must be CSWSignature (0x53425355)
	Tag         uint32 // Must match the CBW tag
	DataResidue uint32 // Difference between expected and actual data transfer
	Status      uint8  // Command status (CSWStatus*)
}

// MarshalTo writes the Command Status Wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (csw *CommandStatusWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CSWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], csw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], csw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], csw.DataResidue)
	buf[12] = csw.Status

	return CSWSize
}

// ParseCSW decodes a Command Status Wrapper.
func ParseCSW(data []byte, out *CommandStatusWrapper) error {
	if len(data) != CSWSize {
		return fmt.Errorf("msc: CSW is %d bytes, want %d", len(data), CSWSize)
	}
	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	if out.Signature != CSWSignature {
		return fmt.Errorf("msc: bad CSW signature 0x%08X", out.Signature)
	}
	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataResidue = binary.LittleEndian.Uint32(data[8:12])
	out.Status = data[12]
	return nil
}

// Intent is the direction of a data phase as declared by the host (Hn, Hi,
// Ho) or determined by the device from the command (Dn, Di, Do).
type Intent uint8

// Data phase intents.
const (
	IntentNone Intent = iota
	IntentIn
	IntentOut
)

// Case is one of the thirteen Bulk-Only Transport host/device cases.
type Case uint8

// Bulk-Only Transport cases.
const (
	CaseHnDn   Case = 1 + iota // host none, device none
	CaseHnDi                   // host none, device sends
	CaseHnDo                   // host none, device receives
	CaseHiDn                   // host receives, device none
	CaseHiGtDi                 // host receives more than device sends
	CaseHiEqDi                 // match
	CaseHiLtDi                 // host receives less than device sends
	CaseHiDo                   // direction mismatch
	CaseHoDn                   // host sends, device none
	CaseHoDi                   // direction mismatch
	CaseHoGtDo                 // host sends more than device receives
	CaseHoEqDo                 // match
	CaseHoLtDo                 // host sends less than device receives
)

// Classify maps a host and device intent pair to its case.
func Classify(host Intent, hostLen uint32, dev Intent, devLen uint32) Case {
	if devLen == 0 {
		dev = IntentNone
	}
	if hostLen == 0 {
		host = IntentNone
	}
	switch host {
	case IntentNone:
		switch dev {
		case IntentIn:
			return CaseHnDi
		case IntentOut:
			return CaseHnDo
		}
		return CaseHnDn
	case IntentIn:
		switch {
		case dev == IntentNone:
			return CaseHiDn
		case dev == IntentOut:
			return CaseHiDo
		case hostLen > devLen:
			return CaseHiGtDi
		case hostLen == devLen:
			return CaseHiEqDi
		}
		return CaseHiLtDi
	}
	switch {
	case dev == IntentNone:
		return CaseHoDn
	case dev == IntentIn:
		return CaseHoDi
	case hostLen > devLen:
		return CaseHoGtDo
	case hostLen == devLen:
		return CaseHoEqDo
	}
	return CaseHoLtDo
}

// Action describes how the transport answers a case.
type Action struct {
	StallIn  bool  // halt bulk IN before the CSW
	StallOut bool  // halt bulk OUT before the CSW
	Data     bool  // run the data phase
	Status   uint8 // overrides the command status when non-zero
}

// actions is indexed by Case.
var actions = [...]Action{
	CaseHnDn:   {},
	CaseHnDi:   {Status: CSWStatusPhaseError},
	CaseHnDo:   {Status: CSWStatusPhaseError},
	CaseHiDn:   {StallIn: true, Status: CSWStatusFailed},
	CaseHiGtDi: {StallIn: true, Data: true},
	CaseHiEqDi: {Data: true},
	CaseHiLtDi: {StallIn: true, Status: CSWStatusPhaseError},
	CaseHiDo:   {StallIn: true, Status: CSWStatusPhaseError},
	CaseHoDn:   {StallOut: true, Status: CSWStatusFailed},
	CaseHoDi:   {StallOut: true, Status: CSWStatusPhaseError},
	CaseHoGtDo: {StallOut: true, Status: CSWStatusFailed},
	CaseHoEqDo: {Data: true},
	CaseHoLtDo: {StallOut: true, Status: CSWStatusPhaseError},
}

// Action returns the transport's response to c.
func (c Case) Action() Action {
	if int(c) >= len(actions) || c == 0 {
		return Action{Status: CSWStatusPhaseError}
	}
	return actions[c]
}

// String returns the case in Hx/Dx notation.
func (c Case) String() string {
	names := [...]string{
		"", "Hn=Dn", "Hn<Di", "Hn<Do", "Hi>Dn", "Hi>Di", "Hi=Di", "Hi<Di",
		"Hi<>Do", "Ho>Dn", "Ho<>Di", "Ho>Do", "Ho=Do", "Ho<Do",
	}
	if c == 0 || int(c) >= len(names) {
		return fmt.Sprintf("Case(%d)", c)
	}
	return fmt.Sprintf("%d (%s)", c, names[c])
}

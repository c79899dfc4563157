package hal

import (
	"context"
	"encoding/binary"
)

// Speed is the bus speed the controller negotiated after reset.
type Speed uint8

const (
	SpeedUnknown Speed = iota // detached
	SpeedLow
	SpeedFull
	SpeedHigh
)

var speedNames = [...]string{"unknown", "low (1.5 Mb/s)", "full (12 Mb/s)", "high (480 Mb/s)"}

func (s Speed) String() string {
	if int(s) < len(speedNames) {
		return speedNames[s]
	}
	return speedNames[SpeedUnknown]
}

// Direction is the data direction of an endpoint, seen from the host.
type Direction uint8

// Endpoint directions.
const (
	Out Direction = 0 // host to device
	In  Direction = 1 // device to host
)

// String returns "IN" or "OUT".
func (d Direction) String() string {
	if d == In {
		return "IN"
	}
	return "OUT"
}

// DirectionOf returns the direction encoded in bit 7 of an endpoint address.
func DirectionOf(address uint8) Direction {
	if address&0x80 != 0 {
		return In
	}
	return Out
}

// Address returns the endpoint address for endpoint number ep in direction d.
func Address(ep uint8, d Direction) uint8 {
	if d == In {
		return ep&0x0F | 0x80
	}
	return ep & 0x0F
}

// PID identifies the token of a completed transaction.
type PID uint8

// Token PIDs reported by the hardware.
const (
	PIDOut   PID = 0x1
	PIDIn    PID = 0x9
	PIDSetup PID = 0xD
)

// String returns the token name.
func (p PID) String() string {
	switch p {
	case PIDOut:
		return "OUT"
	case PIDIn:
		return "IN"
	case PIDSetup:
		return "SETUP"
	default:
		return "?"
	}
}

// Transfer types as encoded in bmAttributes bits 0-1.
const (
	TransferTypeControl     uint8 = 0x00
	TransferTypeIsochronous uint8 = 0x01
	TransferTypeBulk        uint8 = 0x02
	TransferTypeInterrupt   uint8 = 0x03
)

// EndpointConfig is what [Channel.ConfigureEndpoint] needs to program one
// endpoint direction: the fields of its endpoint descriptor plus the
// number of hardware banks to use.
type EndpointConfig struct {
	Address       uint8 // bit 7 set for IN
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
	Banks         uint8 // 1, or 2 for ping-pong buffering
}

func (e *EndpointConfig) Number() uint8        { return e.Address & 0x0F }
func (e *EndpointConfig) Direction() Direction { return DirectionOf(e.Address) }
func (e *EndpointConfig) TransferType() uint8  { return e.Attributes & 0x03 }

// SetupPacket is the 8-byte payload of a SETUP transaction, multi-byte
// fields in host order.
type SetupPacket struct {
	RequestType uint8 // bmRequestType
	Request     uint8 // bRequest
	Value       uint16
	Index       uint16
	Length      uint16 // wLength, the data stage size
}

const SetupPacketSize = 8

// ParseSetupPacket decodes data into out. It reports false, leaving out
// untouched, when data holds fewer than 8 bytes.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	le := binary.LittleEndian
	*out = SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       le.Uint16(data[2:]),
		Index:       le.Uint16(data[4:]),
		Length:      le.Uint16(data[6:]),
	}
	return true
}

// MarshalTo encodes s into buf and returns 8, or 0 when buf is short.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	b := append(buf[:0], s.RequestType, s.Request)
	b = binary.LittleEndian.AppendUint16(b, s.Value)
	b = binary.LittleEndian.AppendUint16(b, s.Index)
	b = binary.LittleEndian.AppendUint16(b, s.Length)
	return len(b)
}

// EventKind classifies a hardware event.
type EventKind uint8

// Hardware events.
const (
	EventTransaction EventKind = iota // a descriptor was handed back by the hardware
	EventSetup                        // a SETUP packet landed in the ep0 setup buffer
	EventReset                        // bus reset
	EventSuspend                      // bus idle for 3 ms
	EventResume                       // bus activity after suspend
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventTransaction:
		return "transaction"
	case EventSetup:
		return "setup"
	case EventReset:
		return "reset"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Event is delivered to the [Handler] registered on a [Channel].
//
// For EventTransaction, Word is the control word as the hardware left it:
// owner cleared, byte count holding the bytes actually moved and toggle
// holding the PID the transaction used.
type Event struct {
	Kind      EventKind
	Endpoint  uint8
	Direction Direction
	Bank      uint8
	Word      Word
}

// Handler receives hardware events. The channel calls it with the
// transaction-complete interrupt masked, so it runs mutually exclusive with
// any code holding [Channel.Mask].
type Handler func(Event)

// Channel is the hardware handoff channel: the per-endpoint buffer
// descriptors shared with the serial interface engine, plus the few
// controller-level registers the firmware touches.
//
// A descriptor armed with [Channel.Arm] belongs to the hardware until the
// matching EventTransaction is delivered; the firmware must not rearm it
// before then.
type Channel interface {
	// Init resets the controller and points it at the descriptor table.
	// The device stays detached.
	Init(ctx context.Context) error

	// Start enables the pull-up so the host sees an attach.
	Start() error

	// Stop removes the pull-up and masks all interrupts.
	Stop() error

	// SetHandler registers the interrupt-context event handler.
	SetHandler(h Handler)

	// Speed returns the negotiated bus speed.
	Speed() Speed

	// SetAddress writes the device address register.
	SetAddress(address uint8) error

	// ConfigureEndpoint enables an endpoint direction in hardware.
	ConfigureEndpoint(cfg EndpointConfig) error

	// DisableEndpoints disables every endpoint above 0 and reclaims their
	// descriptors.
	DisableEndpoints()

	// Arm hands descriptor (ep, dir, bank) to the hardware. word carries the
	// byte count (IN) or capacity (OUT) and the toggle to use; the owner bit
	// is set by Arm. Returns pkg.ErrBusy if the hardware already owns it.
	Arm(ep uint8, dir Direction, bank uint8, buf []byte, word Word) error

	// Cancel reclaims a hardware-owned descriptor without completing it.
	Cancel(ep uint8, dir Direction, bank uint8)

	// Descriptor returns the current control word of a descriptor.
	Descriptor(ep uint8, dir Direction, bank uint8) Word

	// ReadSetup copies the 8-byte SETUP buffer into out.
	ReadSetup(out []byte) int

	// SetHalt makes the endpoint answer every token with STALL.
	SetHalt(ep uint8, dir Direction)

	// ClearHalt stops the endpoint answering STALL.
	ClearHalt(ep uint8, dir Direction)

	// Mask disables the transaction-complete interrupt.
	Mask()

	// Unmask re-enables the transaction-complete interrupt.
	Unmask()
}

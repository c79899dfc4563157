package device

import (
	"fmt"

	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
	FeatureTestMode           = 0x02
)

// bmRequestType fields (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80
	RequestTypeTypeMask      = 0x60
	RequestTypeRecipientMask = 0x1F

	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
	RequestRecipientOther     = 0x03
)

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = hal.SetupPacketSize

// SetupPacket is a decoded SETUP packet as seen by the control engine and
// class drivers. It shares its layout with [hal.SetupPacket].
type SetupPacket hal.SetupPacket

// ParseSetupPacket decodes the 8-byte SETUP payload in data.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if !hal.ParseSetupPacket(data, (*hal.SetupPacket)(out)) {
		return fmt.Errorf("%d bytes: %w", len(data), pkg.ErrSetupPacketTooShort)
	}
	return nil
}

// MarshalTo encodes the packet into buf and returns 8, or 0 if buf is short.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	return (*hal.SetupPacket)(s).MarshalTo(buf)
}

// HAL returns the packet in the hardware layer's representation.
func (s *SetupPacket) HAL() hal.SetupPacket {
	return hal.SetupPacket(*s)
}

// DataDirection is the direction of the data stage, if there is one.
// A request with wLength 0 has only a status stage, which runs IN.
func (s *SetupPacket) DataDirection() hal.Direction {
	if s.RequestType&RequestTypeDirectionMask == RequestDirectionDeviceToHost {
		return hal.In
	}
	return hal.Out
}

// IsDeviceToHost reports whether the data stage runs IN.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.DataDirection() == hal.In
}

// IsHostToDevice reports whether the data stage, if any, runs OUT.
func (s *SetupPacket) IsHostToDevice() bool {
	return s.DataDirection() == hal.Out
}

// Type returns the bmRequestType type field.
func (s *SetupPacket) Type() uint8 {
	return s.RequestType & RequestTypeTypeMask
}

func (s *SetupPacket) IsStandard() bool { return s.Type() == RequestTypeStandard }
func (s *SetupPacket) IsClass() bool    { return s.Type() == RequestTypeClass }
func (s *SetupPacket) IsVendor() bool   { return s.Type() == RequestTypeVendor }

// Recipient returns the bmRequestType recipient field.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// IsInterfaceRecipient reports whether the request addresses an interface.
// Class drivers use it with wIndex to claim requests.
func (s *SetupPacket) IsInterfaceRecipient() bool {
	return s.Recipient() == RequestRecipientInterface
}

// DescriptorType and DescriptorIndex split wValue of GET_DESCRIPTOR.
func (s *SetupPacket) DescriptorType() uint8  { return uint8(s.Value >> 8) }
func (s *SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }

// InterfaceNumber returns wIndex of an interface request.
func (s *SetupPacket) InterfaceNumber() uint8 { return uint8(s.Index) }

// EndpointAddress returns wIndex of an endpoint request, direction bit
// included.
func (s *SetupPacket) EndpointAddress() uint8 { return uint8(s.Index) }

var requestNames = [...]string{
	RequestGetStatus:        "GET_STATUS",
	RequestClearFeature:     "CLEAR_FEATURE",
	RequestSetFeature:       "SET_FEATURE",
	RequestSetAddress:       "SET_ADDRESS",
	RequestGetDescriptor:    "GET_DESCRIPTOR",
	RequestSetDescriptor:    "SET_DESCRIPTOR",
	RequestGetConfiguration: "GET_CONFIGURATION",
	RequestSetConfiguration: "SET_CONFIGURATION",
	RequestGetInterface:     "GET_INTERFACE",
	RequestSetInterface:     "SET_INTERFACE",
	RequestSynchFrame:       "SYNCH_FRAME",
}

var recipientNames = [...]string{"device", "interface", "endpoint", "other"}

// String formats the packet for logs, naming standard requests.
func (s *SetupPacket) String() string {
	req := fmt.Sprintf("0x%02X", s.Request)
	if s.IsStandard() && int(s.Request) < len(requestNames) && requestNames[s.Request] != "" {
		req = requestNames[s.Request]
	}
	kind := "standard"
	switch s.Type() {
	case RequestTypeClass:
		kind = "class"
	case RequestTypeVendor:
		kind = "vendor"
	case RequestTypeStandard:
	default:
		kind = "reserved"
	}
	recip := "reserved"
	if int(s.Recipient()) < len(recipientNames) {
		recip = recipientNames[s.Recipient()]
	}
	return fmt.Sprintf("%s %s %s %s wValue=0x%04X wIndex=0x%04X wLength=%d",
		s.DataDirection(), kind, recip, req, s.Value, s.Index, s.Length)
}

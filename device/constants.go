package device

import "fmt"

// Bounds of the fixed-size tables in the controller and descriptor builder.
const (
	// MaxEndpoints is the number of endpoint numbers tracked by the
	// endpoint directory (0-15).
	MaxEndpoints = 16

	// MaxConfigurations is the maximum number of configurations per device.
	MaxConfigurations = 4

	// MaxInterfaces is the maximum number of interfaces per configuration.
	MaxInterfaces = 8

	// MaxStrings is the maximum number of string descriptors per device.
	MaxStrings = 16

	// MaxClassDrivers is the maximum number of class drivers registered on
	// one controller.
	MaxClassDrivers = 4

	// MaxPacketSize0 is the largest control endpoint packet size (USB 2.0).
	MaxPacketSize0 = 64

	// MaxConfigurationSize bounds an encoded configuration descriptor set.
	MaxConfigurationSize = 512
)

// Endpoint attribute transfer types (bmAttributes bits 0-1).
const (
	EndpointTypeControl     = 0x00
	EndpointTypeIsochronous = 0x01
	EndpointTypeBulk        = 0x02
	EndpointTypeInterrupt   = 0x03
)

// State is the Chapter 9 visible device state (USB 2.0 section 9.1).
type State uint8

// Device states. Suspended is entered from any powered state and left by
// bus activity; the controller keeps the state to return to.
const (
	StateAttached State = iota
	StatePowered
	StateDefault
	StateAddress
	StateConfigured
	StateSuspended
)

var stateNames = [...]string{
	StateAttached:   "Attached",
	StatePowered:    "Powered",
	StateDefault:    "Default",
	StateAddress:    "Address",
	StateConfigured: "Configured",
	StateSuspended:  "Suspended",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ValidMaxPacketSize0 reports whether n is a legal bMaxPacketSize0 for a
// full- or high-speed device.
func ValidMaxPacketSize0(n uint8) bool {
	return n >= 8 && n <= MaxPacketSize0 && n&(n-1) == 0
}

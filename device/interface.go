package device

import (
	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

// ClassDriver implements a USB class on top of a [Controller].
//
// Every method except Task runs in interrupt context, invoked from
// [Controller.HandleEvent]. Task runs from the main loop and must enter
// [Controller.Critical] before touching state it shares with the others.
type ClassDriver interface {
	// Setup offers a class or vendor request. A driver that recognises the
	// request starts a data or status stage on c and returns true.
	Setup(c *Controller, setup *SetupPacket) bool

	// Configured reports SET_CONFIGURATION. value is 0 when the device
	// is deconfigured.
	Configured(c *Controller, value uint8)

	// Transaction offers a completed transaction on an endpoint above 0.
	// It returns true if the driver owns the endpoint.
	Transaction(c *Controller, ev hal.Event) bool

	// HaltCleared reports CLEAR_FEATURE(ENDPOINT_HALT) on an endpoint.
	HaltCleared(c *Controller, address uint8)

	// BusReset reports a bus reset. Endpoints above 0 are already disabled.
	BusReset(c *Controller)

	// Task performs deferred work from the main loop.
	Task(c *Controller)
}

// MaxEndpointsPerInterface is the maximum number of endpoints per interface.
const MaxEndpointsPerInterface = 8

// Interface is an interface descriptor together with its endpoints and any
// class-specific descriptors that follow it.
type Interface struct {
	Descriptor InterfaceDescriptor

	// Class holds pre-encoded class-specific descriptors written between the
	// interface descriptor and its endpoints.
	Class []byte

	endpoints     [MaxEndpointsPerInterface]EndpointDescriptor
	endpointCount int
}

// AddEndpoint appends an endpoint descriptor.
func (i *Interface) AddEndpoint(ep EndpointDescriptor) error {
	if i.endpointCount >= MaxEndpointsPerInterface {
		return pkg.ErrInvalidParameter
	}
	ep.Length = EndpointDescriptorSize
	ep.DescriptorType = DescriptorTypeEndpoint
	i.endpoints[i.endpointCount] = ep
	i.endpointCount++
	i.Descriptor.NumEndpoints = uint8(i.endpointCount)
	return nil
}

// Endpoints returns the interface's endpoint descriptors.
func (i *Interface) Endpoints() []EndpointDescriptor {
	return i.endpoints[:i.endpointCount]
}

// Configuration collects the interfaces of one configuration for encoding.
type Configuration struct {
	Value       uint8 // bConfigurationValue
	StringIndex uint8 // iConfiguration
	Attributes  uint8 // bmAttributes
	MaxPower    uint8 // bMaxPower in 2 mA units

	interfaces     [MaxInterfaces]Interface
	interfaceCount int
}

// NewConfiguration creates a bus-powered configuration drawing 100 mA.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50,
	}
}

// AddInterface appends an interface numbered after the existing ones and
// returns it for endpoint setup.
func (c *Configuration) AddInterface(class, subClass, protocol uint8) (*Interface, error) {
	if c.interfaceCount >= MaxInterfaces {
		return nil, pkg.ErrInvalidParameter
	}
	iface := &c.interfaces[c.interfaceCount]
	*iface = Interface{Descriptor: InterfaceDescriptor{
		Length:            InterfaceDescriptorSize,
		DescriptorType:    DescriptorTypeInterface,
		InterfaceNumber:   uint8(c.interfaceCount),
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	}}
	c.interfaceCount++
	return iface, nil
}

// Interfaces returns the configuration's interfaces.
func (c *Configuration) Interfaces() []Interface {
	return c.interfaces[:c.interfaceCount]
}

// SetSelfPowered sets or clears the self-powered attribute.
func (c *Configuration) SetSelfPowered(selfPowered bool) {
	if selfPowered {
		c.Attributes |= ConfigAttrSelfPowered
	} else {
		c.Attributes &^= ConfigAttrSelfPowered
	}
}

// SetRemoteWakeup sets or clears the remote wakeup attribute.
func (c *Configuration) SetRemoteWakeup(enabled bool) {
	if enabled {
		c.Attributes |= ConfigAttrRemoteWakeup
	} else {
		c.Attributes &^= ConfigAttrRemoteWakeup
	}
}

func (c *Configuration) totalLength() uint16 {
	length := uint16(ConfigurationDescriptorSize)
	for idx := 0; idx < c.interfaceCount; idx++ {
		iface := &c.interfaces[idx]
		length += InterfaceDescriptorSize + uint16(len(iface.Class))
		length += uint16(iface.endpointCount) * EndpointDescriptorSize
	}
	return length
}

// MarshalTo writes the full configuration descriptor including all
// sub-descriptors to buf. Returns the number of bytes written, or 0 if buf
// is too small.
func (c *Configuration) MarshalTo(buf []byte) int {
	total := int(c.totalLength())
	if len(buf) < total {
		return 0
	}
	head := ConfigurationDescriptor{
		TotalLength:        uint16(total),
		NumInterfaces:      uint8(c.interfaceCount),
		ConfigurationValue: c.Value,
		ConfigurationIndex: c.StringIndex,
		Attributes:         c.Attributes | ConfigAttrBusPowered,
		MaxPower:           c.MaxPower,
	}
	offset := head.MarshalTo(buf)
	for idx := 0; idx < c.interfaceCount; idx++ {
		iface := &c.interfaces[idx]
		offset += iface.Descriptor.MarshalTo(buf[offset:])
		offset += copy(buf[offset:], iface.Class)
		for _, ep := range iface.Endpoints() {
			offset += ep.MarshalTo(buf[offset:])
		}
	}
	return offset
}

// walkEndpoints calls fn for every endpoint descriptor in an encoded
// configuration, passing the number of the interface it belongs to.
func walkEndpoints(config []byte, fn func(iface uint8, ep *EndpointDescriptor) error) error {
	var head ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(config, &head); err != nil {
		return err
	}
	end := min(int(head.TotalLength), len(config))
	var iface uint8
	for off := int(head.Length); off+2 <= end; {
		length := int(config[off])
		if length < 2 || off+length > end {
			return pkg.ErrDescriptorTooShort
		}
		switch config[off+1] {
		case DescriptorTypeInterface:
			iface = config[off+2]
		case DescriptorTypeEndpoint:
			var ep EndpointDescriptor
			if err := ParseEndpointDescriptor(config[off:off+length], &ep); err != nil {
				return err
			}
			if err := fn(iface, &ep); err != nil {
				return err
			}
		}
		off += length
	}
	return nil
}

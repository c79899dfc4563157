package device

import (
	"encoding/binary"

	"github.com/ardnew/sieusb/pkg"
)

// handleStandard serves a chapter-9 request. It returns false when the
// request is not recognised or not valid in the current state; the caller
// then stalls endpoint 0.
func (c *Controller) handleStandard(setup *SetupPacket) bool {
	switch setup.Recipient() {
	case RequestRecipientDevice:
		return c.deviceRequest(setup)
	case RequestRecipientInterface:
		return c.interfaceRequest(setup)
	case RequestRecipientEndpoint:
		return c.endpointRequest(setup)
	}
	return false
}

func (c *Controller) deviceRequest(setup *SetupPacket) bool {
	switch setup.Request {
	case RequestGetStatus:
		return c.returnStatus(uint16(c.deviceStatus()), setup)

	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureDeviceRemoteWakeup {
			return false
		}
		c.state.RemoteWakeup = setup.Request == RequestSetFeature
		return c.Acknowledge(nil) == nil

	case RequestSetAddress:
		if setup.Value > 127 || setup.Index != 0 || setup.Length != 0 {
			return false
		}
		if s := c.state.State; s != StateDefault && s != StateAddress {
			return false
		}
		c.state.PendingAddress = uint8(setup.Value)
		return c.Acknowledge(c.applyAddress) == nil

	case RequestGetDescriptor:
		data := c.desc.Lookup(setup.DescriptorType(), setup.DescriptorIndex())
		if data == nil {
			pkg.LogDebug(pkg.ComponentControl, "descriptor not found",
				"type", setup.DescriptorType(), "index", setup.DescriptorIndex())
			return false
		}
		return c.StartControlReturn(data, int(setup.Length), nil) == nil

	case RequestGetConfiguration:
		c.response[0] = c.state.Configuration
		return c.StartControlReturn(c.response[:1], int(setup.Length), nil) == nil

	case RequestSetConfiguration:
		if c.state.State != StateAddress && c.state.State != StateConfigured {
			return false
		}
		if err := c.configure(uint8(setup.Value)); err != nil {
			pkg.LogWarn(pkg.ComponentController, "set configuration failed",
				"configuration", setup.Value, "error", err)
			return false
		}
		return c.Acknowledge(nil) == nil
	}
	return false
}

func (c *Controller) interfaceRequest(setup *SetupPacket) bool {
	if c.state.Configuration == 0 || !c.hasInterface(setup.InterfaceNumber()) {
		return false
	}
	switch setup.Request {
	case RequestGetStatus:
		return c.returnStatus(0, setup)

	case RequestGetInterface:
		c.response[0] = 0
		return c.StartControlReturn(c.response[:1], int(setup.Length), nil) == nil

	case RequestSetInterface:
		// Only alternate setting 0 exists.
		if setup.Value != 0 {
			return false
		}
		return c.Acknowledge(nil) == nil
	}
	return false
}

func (c *Controller) endpointRequest(setup *SetupPacket) bool {
	address := setup.EndpointAddress()
	if address&0x0F != 0 && c.state.Configuration == 0 {
		return false
	}
	r, dir, ok := c.eps.Lookup(address)
	if !ok {
		return false
	}

	switch setup.Request {
	case RequestGetStatus:
		var status uint16
		if r.Halted[dir] {
			status = 1
		}
		return c.returnStatus(status, setup)

	case RequestClearFeature:
		if setup.Value != FeatureEndpointHalt {
			return false
		}
		if address&0x0F != 0 {
			c.clearHalt(address)
			for _, d := range c.Drivers() {
				d.HaltCleared(c, address)
			}
		}
		return c.Acknowledge(nil) == nil

	case RequestSetFeature:
		if setup.Value != FeatureEndpointHalt || address&0x0F == 0 {
			return false
		}
		c.Stall(address)
		return c.Acknowledge(nil) == nil
	}
	return false
}

func (c *Controller) returnStatus(status uint16, setup *SetupPacket) bool {
	binary.LittleEndian.PutUint16(c.response[:], status)
	return c.StartControlReturn(c.response[:2], int(setup.Length), nil) == nil
}

// hasInterface reports whether the active configuration declares interface
// number n.
func (c *Controller) hasInterface(n uint8) bool {
	config := c.desc.Configuration(c.state.Configuration)
	return config != nil && n < config[4]
}

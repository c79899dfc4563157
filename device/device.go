package device

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

// Config holds controller options that are not part of the descriptors.
type Config struct {
	// SelfPowered is reported in GET_STATUS(device).
	SelfPowered bool

	// DoubleBufferOut gives bulk OUT endpoints two hardware packet buffers.
	DoubleBufferOut bool
}

// DeviceState is the chapter-9 state of the device. The configuration
// value is the single source of truth for whether endpoints above 0 may be
// used.
type DeviceState struct {
	State          State
	Address        uint8
	PendingAddress uint8
	Configuration  uint8
	RemoteWakeup   bool

	previous State
}

// Controller owns everything the firmware core keeps per USB peripheral:
// the hardware channel, the endpoint directory, the control session, the
// device state, the descriptor table and the registered class drivers.
type Controller struct {
	hal  hal.Channel
	desc *Descriptors
	cfg  Config

	eps   Directory
	ctl   ControlSession
	state DeviceState

	drivers  [MaxClassDrivers]ClassDriver
	ndrivers int

	running atomic.Bool

	ep0In    [MaxPacketSize0]byte
	ep0Out   [MaxPacketSize0]byte
	response [2]byte
}

// New creates a controller serving desc over ch.
func New(ch hal.Channel, desc *Descriptors, cfg Config) (*Controller, error) {
	if ch == nil || desc == nil {
		return nil, pkg.ErrInvalidParameter
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{hal: ch, desc: desc, cfg: cfg}
	c.eps.Reset(uint16(desc.MaxPacketSize0()))
	c.state.State = StatePowered
	return c, nil
}

// Register adds a class driver. Drivers are offered requests and
// transactions in registration order.
func (c *Controller) Register(d ClassDriver) error {
	if c.running.Load() {
		return pkg.ErrAlreadyRunning
	}
	if c.ndrivers >= MaxClassDrivers {
		return pkg.ErrInvalidParameter
	}
	c.drivers[c.ndrivers] = d
	c.ndrivers++
	return nil
}

// Drivers returns the registered class drivers.
func (c *Controller) Drivers() []ClassDriver {
	return c.drivers[:c.ndrivers]
}

// Descriptors returns the descriptor table.
func (c *Controller) Descriptors() *Descriptors {
	return c.desc
}

// Channel returns the hardware channel.
func (c *Controller) Channel() hal.Channel {
	return c.hal
}

// Start initializes the hardware, installs the event handler and attaches
// to the bus.
func (c *Controller) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	if err := c.hal.Init(ctx); err != nil {
		c.running.Store(false)
		return fmt.Errorf("hal init: %w", err)
	}
	c.hal.SetHandler(c.HandleEvent)
	c.reset()
	if err := c.hal.Start(); err != nil {
		c.running.Store(false)
		return fmt.Errorf("hal start: %w", err)
	}
	pkg.LogInfo(pkg.ComponentController, "controller started",
		"speed", c.hal.Speed().String(),
		"maxPacket0", c.desc.MaxPacketSize0(),
		"drivers", c.ndrivers)
	return nil
}

// Stop detaches from the bus.
func (c *Controller) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return pkg.ErrNotRunning
	}
	if err := c.hal.Stop(); err != nil {
		return fmt.Errorf("hal stop: %w", err)
	}
	c.hal.SetHandler(nil)
	pkg.LogInfo(pkg.ComponentController, "controller stopped")
	return nil
}

// IsRunning reports whether the controller is attached.
func (c *Controller) IsRunning() bool {
	return c.running.Load()
}

// State returns a snapshot of the device state.
func (c *Controller) State() DeviceState {
	defer c.Critical().Exit()
	return c.state
}

// Configuration returns the active configuration value (0 if none).
// It must be called in interrupt context or inside [Controller.Critical].
func (c *Controller) Configuration() uint8 {
	return c.state.Configuration
}

func (c *Controller) setState(s State) {
	if c.state.State == s {
		return
	}
	pkg.LogDebug(pkg.ComponentController, "state change",
		"from", c.state.State.String(), "to", s.String())
	c.state.State = s
}

// reset rebuilds the directory and device state as after a bus reset.
func (c *Controller) reset() {
	c.eps.Reset(uint16(c.desc.MaxPacketSize0()))
	c.state = DeviceState{State: StateDefault}
	c.ctl = ControlSession{}
}

// busReset handles a bus reset in interrupt context.
func (c *Controller) busReset() {
	if c.ctl.stage != StageIdle {
		c.ctl.finish(c.ctl.cursor, pkg.ErrReset)
	}
	c.hal.DisableEndpoints()
	c.hal.Cancel(0, hal.In, 0)
	c.hal.Cancel(0, hal.Out, 0)
	c.hal.ClearHalt(0, hal.In)
	c.hal.ClearHalt(0, hal.Out)
	if err := c.hal.SetAddress(0); err != nil {
		pkg.LogWarn(pkg.ComponentController, "address reset failed", "error", err)
	}
	c.reset()
	for _, d := range c.Drivers() {
		d.BusReset(c)
	}
	pkg.LogDebug(pkg.ComponentController, "bus reset")
}

func (c *Controller) suspend() {
	if c.state.State == StateSuspended {
		return
	}
	c.state.previous = c.state.State
	c.setState(StateSuspended)
}

func (c *Controller) resume() {
	if c.state.State != StateSuspended {
		return
	}
	c.setState(c.state.previous)
}

// applyAddress runs after the SET_ADDRESS status stage.
func (c *Controller) applyAddress(n int, err error) error {
	if err != nil {
		return nil
	}
	address := c.state.PendingAddress
	if err := c.hal.SetAddress(address); err != nil {
		pkg.LogWarn(pkg.ComponentController, "set address failed", "address", address, "error", err)
		return nil
	}
	c.state.Address = address
	if address == 0 {
		c.setState(StateDefault)
	} else {
		c.setState(StateAddress)
	}
	pkg.LogDebug(pkg.ComponentController, "address assigned", "address", address)
	return nil
}

// configure activates configuration value, or deconfigures the device when
// value is 0. A configuration that cannot be activated leaves the device
// deconfigured.
func (c *Controller) configure(value uint8) error {
	c.hal.DisableEndpoints()
	c.eps.Deconfigure()
	c.state.Configuration = 0
	c.setState(StateAddress)

	var err error
	if value != 0 {
		if err = c.openEndpoints(value); err != nil {
			c.hal.DisableEndpoints()
			c.eps.Deconfigure()
			value = 0
		} else {
			c.state.Configuration = value
			c.setState(StateConfigured)
			pkg.LogDebug(pkg.ComponentController, "configured", "configuration", value)
		}
	}
	for _, d := range c.Drivers() {
		d.Configured(c, value)
	}
	return err
}

// openEndpoints configures the hardware and the directory for every
// endpoint of configuration value.
func (c *Controller) openEndpoints(value uint8) error {
	config := c.desc.Configuration(value)
	if config == nil {
		return pkg.ErrInvalidRequest
	}
	return walkEndpoints(config, func(iface uint8, ep *EndpointDescriptor) error {
		n := ep.EndpointAddress & 0x0F
		dir := hal.DirectionOf(ep.EndpointAddress)
		r := c.eps.Record(n)
		if n == 0 || r == nil {
			return pkg.ErrInvalidEndpoint
		}
		cfg := hal.EndpointConfig{
			Address:       ep.EndpointAddress,
			Attributes:    ep.Attributes,
			MaxPacketSize: ep.MaxPacketSize,
			Interval:      ep.Interval,
			Banks:         1,
		}
		if c.cfg.DoubleBufferOut && dir == hal.Out && cfg.TransferType() == EndpointTypeBulk {
			cfg.Banks = 2
		}
		if err := c.hal.ConfigureEndpoint(cfg); err != nil {
			return fmt.Errorf("endpoint 0x%02X: %w", ep.EndpointAddress, err)
		}
		r.Enabled[dir] = true
		r.Type = cfg.TransferType()
		r.Interface = iface
		r.MaxPacket[dir] = ep.MaxPacketSize
		r.Banks[dir] = cfg.Banks
		return nil
	})
}

// DeviceStatus represents the device status returned by GET_STATUS.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1
)

func (c *Controller) deviceStatus() DeviceStatus {
	var status DeviceStatus
	if c.cfg.SelfPowered {
		status |= DeviceStatusSelfPowered
	}
	if c.state.RemoteWakeup {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

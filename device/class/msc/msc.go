package msc

import (
	"fmt"

	"github.com/ardnew/sieusb/device"
	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

// Config describes one MSC interface.
type Config struct {
	InterfaceNumber uint8
	BulkIn          uint8  // IN endpoint address, e.g. 0x81
	BulkOut         uint8  // OUT endpoint address, e.g. 0x02
	MaxPacketSize   uint16 // bulk packet size; DefaultPacket when 0
	MaxLUN          uint8  // highest LUN, 0-15

	VendorID  string // INQUIRY vendor, 8 characters
	ProductID string // INQUIRY product, 16 characters
	Revision  string // INQUIRY revision, 4 characters
}

// Validate checks the endpoint addresses and LUN range.
func (cfg *Config) Validate() error {
	if cfg.BulkIn&device.EndpointDirectionIn == 0 || cfg.BulkIn&0x0F == 0 {
		return fmt.Errorf("bulk IN 0x%02X: %w", cfg.BulkIn, pkg.ErrInvalidEndpoint)
	}
	if cfg.BulkOut&device.EndpointDirectionIn != 0 || cfg.BulkOut&0x0F == 0 {
		return fmt.Errorf("bulk OUT 0x%02X: %w", cfg.BulkOut, pkg.ErrInvalidEndpoint)
	}
	if cfg.MaxLUN >= MaxLUNs {
		return fmt.Errorf("max LUN %d: %w", cfg.MaxLUN, pkg.ErrInvalidParameter)
	}
	if cfg.MaxPacketSize > MaxPacketSize {
		return fmt.Errorf("packet size %d: %w", cfg.MaxPacketSize, pkg.ErrInvalidParameter)
	}
	return nil
}

// Describe adds the MSC interface and its two bulk endpoints to the
// builder's current configuration.
func Describe(b *device.DescriptorBuilder, cfg Config) *device.DescriptorBuilder {
	mps := cfg.MaxPacketSize
	if mps == 0 {
		mps = DefaultPacket
	}
	return b.AddInterface(ClassMSC, SubclassSCSI, ProtocolBulkOnly).
		AddEndpoint(cfg.BulkIn, device.EndpointTypeBulk, mps).
		AddEndpoint(cfg.BulkOut, device.EndpointTypeBulk, mps)
}

// State is the Bulk-Only Transport state of an interface.
type State uint8

// Transport states.
const (
	StateIdle               State = iota // waiting for a CBW
	StateCommand                         // CBW accepted, awaiting interpretation
	StateDataIn                          // sending data to the host
	StateDataOut                         // receiving data from the host
	StateStall                           // CSW pending behind a halted endpoint
	StateCSW                             // CSW armed on bulk IN
	StateNeedsResetRecovery              // invalid CBW; only a class reset recovers
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCommand:
		return "Command"
	case StateDataIn:
		return "DataIn"
	case StateDataOut:
		return "DataOut"
	case StateStall:
		return "Stall"
	case StateCSW:
		return "CSW"
	case StateNeedsResetRecovery:
		return "NeedsResetRecovery"
	default:
		return "Unknown"
	}
}

// held is an OUT packet, or the tail of one, that did not fit in the write
// buffer. Its data stays in the bank's packet buffer until it is replayed.
type held struct {
	bank uint8
	off  int // bytes already copied into the write buffer
	n    int
}

// MSC implements the Mass Storage Class Bulk-Only Transport and its SCSI
// command interpreter as a [device.ClassDriver].
//
// Transaction, HaltCleared, BusReset, Configured and Setup run in
// interrupt context. Task runs every storage driver call from the main
// loop. Fields shared between the two are guarded by the controller's
// critical section.
type MSC struct {
	ctrl    *device.Controller
	driver  Driver
	cfg     Config
	inquiry InquiryResponse

	// Shared with interrupt context.
	state  State
	epoch  uint32
	slot   opSlot
	cbw    CommandBlockWrapper
	status uint8
	lun    uint8
	mpsIn  int
	mpsOut int

	hostLen    uint32 // dCBWDataTransferLength
	devLen     uint32 // bytes the device moves in the data phase
	xfer       uint32 // bytes moved so far
	stallAfter bool   // halt bulk IN once the data is sent
	storage    bool   // data phase is backed by the driver
	active     bool   // driver read or write started and not ended

	src    []byte // IN data
	off    int
	last   int
	stage  [MaxPacketSize]byte // IN packet spanning two driver blocks
	staged int

	dst      []byte // OUT write buffer
	fill     int
	draining bool
	armed    [2]int // capacity of each armed OUT bank
	held     [2]held
	nheld    int

	// Main loop only.
	sense [MaxLUNs]Sense
	units [MaxLUNs]unit

	out    [2][MaxPacketSize]byte
	csw    [CSWSize]byte
	resp   [responseSize]byte
	maxLUN [1]byte
}

// unit caches a logical unit's geometry.
type unit struct {
	info  Info
	valid bool
}

// New creates the MSC class driver for cfg, backed by d, and registers it
// with c.
func New(c *device.Controller, d Driver, cfg Config) (*MSC, error) {
	if c == nil || d == nil {
		return nil, pkg.ErrInvalidParameter
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &MSC{
		ctrl:    c,
		driver:  d,
		cfg:     cfg,
		inquiry: NewInquiryResponse(false, cfg.VendorID, cfg.ProductID, cfg.Revision),
	}
	m.maxLUN[0] = cfg.MaxLUN
	if err := c.Register(m); err != nil {
		return nil, fmt.Errorf("register msc: %w", err)
	}
	return m, nil
}

// Config returns the interface configuration.
func (m *MSC) Config() Config {
	return m.cfg
}

// State returns the transport state.
func (m *MSC) State() State {
	defer m.ctrl.Critical().Exit()
	return m.state
}

// Sense returns the sense data latched for lun. It must be called from the
// main loop.
func (m *MSC) Sense(lun uint8) Sense {
	if int(lun) >= MaxLUNs {
		return SenseOK
	}
	return m.sense[lun]
}

// Setup implements device.ClassDriver. It serves Bulk-Only Mass Storage
// Reset and Get Max LUN addressed to the interface.
func (m *MSC) Setup(c *device.Controller, setup *device.SetupPacket) bool {
	if !setup.IsClass() || !setup.IsInterfaceRecipient() || setup.Index != uint16(m.cfg.InterfaceNumber) {
		return false
	}
	if c.Configuration() == 0 {
		return false
	}

	switch setup.Request {
	case RequestBulkOnlyMassStorageReset:
		if !setup.IsHostToDevice() || setup.Value != 0 || setup.Length != 0 {
			return false
		}
		m.resetRecovery(c)
		return c.Acknowledge(nil) == nil

	case RequestGetMaxLUN:
		if !setup.IsDeviceToHost() || setup.Value != 0 || setup.Length != 1 {
			return false
		}
		return c.StartControlReturn(m.maxLUN[:], int(setup.Length), nil) == nil
	}
	return false
}

// Configured implements device.ClassDriver.
func (m *MSC) Configured(c *device.Controller, value uint8) {
	m.unwind()
	if value == 0 {
		return
	}
	m.mpsIn = c.MaxPacket(m.cfg.BulkIn)
	m.mpsOut = c.MaxPacket(m.cfg.BulkOut)
	if m.mpsIn == 0 || m.mpsOut == 0 {
		pkg.LogWarn(pkg.ComponentMSC, "bulk endpoints not in configuration",
			"configuration", value,
			"bulkIn", fmt.Sprintf("0x%02X", m.cfg.BulkIn),
			"bulkOut", fmt.Sprintf("0x%02X", m.cfg.BulkOut))
		return
	}
	pkg.LogDebug(pkg.ComponentMSC, "MSC configured",
		"bulkIn", fmt.Sprintf("0x%02X", m.cfg.BulkIn),
		"bulkOut", fmt.Sprintf("0x%02X", m.cfg.BulkOut),
		"maxPacket", m.mpsIn)
	m.receiveCBW(c)
}

// Transaction implements device.ClassDriver.
func (m *MSC) Transaction(c *device.Controller, ev hal.Event) bool {
	switch {
	case ev.Direction == hal.In && ev.Endpoint == m.cfg.BulkIn&0x0F:
		m.inComplete(c, ev)
	case ev.Direction == hal.Out && ev.Endpoint == m.cfg.BulkOut&0x0F:
		m.outComplete(c, ev)
	default:
		return false
	}
	return true
}

// HaltCleared implements device.ClassDriver.
func (m *MSC) HaltCleared(c *device.Controller, address uint8) {
	if address != m.cfg.BulkIn && address != m.cfg.BulkOut {
		return
	}
	switch m.state {
	case StateNeedsResetRecovery:
		// Only a class reset leaves this state.
		c.Stall(address)

	case StateStall:
		if !c.Halted(m.cfg.BulkIn) && !c.Halted(m.cfg.BulkOut) {
			m.sendCSW(c)
		}

	case StateCSW:
		if address == m.cfg.BulkIn {
			m.armCSW(c)
		}

	case StateIdle:
		if address == m.cfg.BulkOut {
			m.receiveCBW(c)
		}

	case StateDataIn:
		if address == m.cfg.BulkIn && m.src != nil {
			m.sendChunk(c)
		}

	case StateDataOut:
		if address == m.cfg.BulkOut {
			m.nheld = 0
			m.armed = [2]int{}
			m.armOut(c)
		}
	}
}

// BusReset implements device.ClassDriver.
func (m *MSC) BusReset(c *device.Controller) {
	m.unwind()
	m.mpsIn, m.mpsOut = 0, 0
}

// unwind returns the transport to Idle, recording an abort for a driver
// operation in flight. Endpoints are left to the caller.
func (m *MSC) unwind() {
	m.epoch++
	if m.active {
		m.slot.abort(m.lun)
	}
	m.slot.drop()
	m.active = false
	m.resetData()
	m.setState(StateIdle)
}

// resetRecovery handles Bulk-Only Mass Storage Reset. Halts are left for
// the host to clear.
func (m *MSC) resetRecovery(c *device.Controller) {
	pkg.LogDebug(pkg.ComponentMSC, "bulk-only mass storage reset", "state", m.state)
	c.Unarm(m.cfg.BulkIn)
	c.Unarm(m.cfg.BulkOut)
	m.unwind()
	m.receiveCBW(c)
}

// resetData clears the per-command fields.
func (m *MSC) resetData() {
	m.status = CSWStatusGood
	m.hostLen, m.devLen, m.xfer = 0, 0, 0
	m.stallAfter, m.storage = false, false
	m.src, m.off, m.last, m.staged = nil, 0, 0, 0
	m.dst, m.fill, m.draining = nil, 0, false
	m.armed = [2]int{}
	m.nheld = 0
}

func (m *MSC) setState(s State) {
	if m.state == s {
		return
	}
	if pkg.DebugEnabled() {
		pkg.LogDebug(pkg.ComponentMSC, "transport state", "from", m.state, "to", s)
	}
	m.state = s
}

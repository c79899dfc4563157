package device

import (
	"fmt"

	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

// Endpoint directions as encoded in bit 7 of an endpoint address.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// EndpointRecord is the firmware's view of one endpoint number in both
// directions. Index [hal.Out] and [hal.In] select the direction.
type EndpointRecord struct {
	Enabled   [2]bool
	Type      uint8
	Interface uint8
	MaxPacket [2]uint16
	Banks     [2]uint8 // hardware packet buffers; 2 when double-buffered
	Halted    [2]bool
	Toggle    [2]bool    // toggle the next armed descriptor carries
	Bank      [2]uint8   // bank the next armed descriptor uses
	Armed     [2][2]bool // descriptors handed to the hardware, by bank
}

// Outstanding returns the number of descriptors in direction d the hardware
// still owns.
func (r *EndpointRecord) Outstanding(d hal.Direction) int {
	n := 0
	for _, armed := range r.Armed[d] {
		if armed {
			n++
		}
	}
	return n
}

// advance records that the descriptor at the current bank was armed.
func (r *EndpointRecord) advance(d hal.Direction) {
	r.Armed[d][r.Bank[d]] = true
	r.Toggle[d] = !r.Toggle[d]
	if r.Banks[d] == 2 {
		r.Bank[d] ^= 1
	}
}

// rewind undoes advance for n cancelled descriptors. Cancelling leaves both
// banks with the firmware, so the hardware restarts at bank 0.
func (r *EndpointRecord) rewind(d hal.Direction, n int) {
	if n == 0 {
		return
	}
	if n%2 == 1 {
		r.Toggle[d] = !r.Toggle[d]
	}
	r.Bank[d] = 0
	r.Armed[d] = [2]bool{}
}

// Directory holds an [EndpointRecord] per endpoint number. It is created at
// controller initialisation and rebuilt at every bus reset.
type Directory struct {
	records [MaxEndpoints]EndpointRecord
}

// Reset clears every record and enables endpoint 0 with packet size mps0.
func (d *Directory) Reset(mps0 uint16) {
	d.records = [MaxEndpoints]EndpointRecord{}
	ep0 := &d.records[0]
	ep0.Enabled = [2]bool{true, true}
	ep0.Type = EndpointTypeControl
	ep0.MaxPacket = [2]uint16{mps0, mps0}
	ep0.Banks = [2]uint8{1, 1}
}

// Deconfigure clears every record above endpoint 0.
func (d *Directory) Deconfigure() {
	for n := 1; n < MaxEndpoints; n++ {
		d.records[n] = EndpointRecord{}
	}
}

// Record returns the record for endpoint number n, or nil if n is out of range.
func (d *Directory) Record(n uint8) *EndpointRecord {
	if int(n) >= MaxEndpoints {
		return nil
	}
	return &d.records[n]
}

// Lookup returns the record for an endpoint address if that direction is
// enabled.
func (d *Directory) Lookup(address uint8) (*EndpointRecord, hal.Direction, bool) {
	r := d.Record(address & 0x0F)
	dir := hal.DirectionOf(address)
	if r == nil || !r.Enabled[dir] {
		return nil, dir, false
	}
	return r, dir, true
}

// Endpoints returns the controller's endpoint directory.
func (c *Controller) Endpoints() *Directory {
	return &c.eps
}

// Arm hands buf[:n] (IN) or a receive buffer of capacity n (OUT) to the
// hardware on the endpoint's next bank with the endpoint's next toggle.
// It must be called in interrupt context or inside [Controller.Critical].
func (c *Controller) Arm(address uint8, buf []byte, n int) error {
	r, dir, ok := c.eps.Lookup(address)
	if !ok || address&0x0F == 0 {
		return pkg.ErrInvalidEndpoint
	}
	if r.Halted[dir] {
		return pkg.ErrStall
	}
	if n > int(r.MaxPacket[dir]) {
		return fmt.Errorf("arm 0x%02X: %d bytes: %w", address, n, pkg.ErrInvalidParameter)
	}
	if err := c.hal.Arm(address&0x0F, dir, r.Bank[dir], buf, hal.NewWord(n, r.Toggle[dir])); err != nil {
		return err
	}
	r.advance(dir)
	return nil
}

// NextBank returns the bank the next [Controller.Arm] on address will use.
func (c *Controller) NextBank(address uint8) uint8 {
	r, dir, ok := c.eps.Lookup(address)
	if !ok {
		return 0
	}
	return r.Bank[dir]
}

// MaxPacket returns the max packet size of an enabled endpoint, or 0.
func (c *Controller) MaxPacket(address uint8) int {
	r, dir, ok := c.eps.Lookup(address)
	if !ok {
		return 0
	}
	return int(r.MaxPacket[dir])
}

// Unarm reclaims every descriptor of the endpoint still owned by the
// hardware and rewinds the toggle so the next armed packet carries the
// toggle the host expects.
func (c *Controller) Unarm(address uint8) {
	r, dir, ok := c.eps.Lookup(address)
	if !ok {
		return
	}
	n := 0
	for bank, armed := range r.Armed[dir] {
		if armed {
			c.hal.Cancel(address&0x0F, dir, uint8(bank))
			n++
		}
	}
	r.rewind(dir, n)
}

// Stall halts an endpoint: the hardware answers every token with STALL
// until the host clears the halt. Pending descriptors are reclaimed.
func (c *Controller) Stall(address uint8) {
	r, dir, ok := c.eps.Lookup(address)
	if !ok {
		return
	}
	c.Unarm(address)
	r.Halted[dir] = true
	c.hal.SetHalt(address&0x0F, dir)
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint stalled",
		"address", fmt.Sprintf("0x%02X", address))
}

// Halted reports whether an endpoint is halted.
func (c *Controller) Halted(address uint8) bool {
	r, dir, ok := c.eps.Lookup(address)
	return ok && r.Halted[dir]
}

// clearHalt clears a halt and resets the toggle to DATA0.
func (c *Controller) clearHalt(address uint8) {
	r, dir, ok := c.eps.Lookup(address)
	if !ok {
		return
	}
	c.Unarm(address)
	r.Halted[dir] = false
	r.Toggle[dir] = false
	c.hal.ClearHalt(address&0x0F, dir)
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint halt cleared",
		"address", fmt.Sprintf("0x%02X", address))
}

// completed records that the hardware handed a descriptor back.
func (c *Controller) completed(ev hal.Event) {
	if r := c.eps.Record(ev.Endpoint); r != nil && ev.Bank < 2 {
		r.Armed[ev.Direction][ev.Bank] = false
	}
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	case EndpointTypeInterrupt:
		return "Interrupt"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

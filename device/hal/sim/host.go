package sim

import (
	"errors"
	"fmt"

	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

// Host-side errors.
var (
	// ErrNoResponse indicates a token got no handshake at all.
	ErrNoResponse = errors.New("sim: no response")

	// ErrRetries indicates an endpoint kept answering NAK.
	ErrRetries = errors.New("sim: retries exhausted")

	// ErrToggle indicates the device sent a packet with an unexpected toggle.
	ErrToggle = errors.New("sim: data toggle mismatch")
)

// DefaultRetries is the number of NAKs a host transaction tolerates.
const DefaultRetries = 10000

// Standard request codes used by the host driver.
const (
	reqGetDescriptor    = 0x06
	reqSetAddress       = 0x05
	reqSetConfiguration = 0x09
	reqClearFeature     = 0x01
)

// Host drives an [SIE] the way a host controller would: it splits transfers
// into packets, keeps its own data toggles, and retries on NAK.
//
// Idle is called every time a token is NAKed; tests use it to run the
// device's main loop between bus transactions.
type Host struct {
	SIE     *SIE
	Address uint8
	Retries int
	Idle    func()

	mps0    int
	mps     [MaxEndpoints][2]int
	toggles [MaxEndpoints][2]bool
}

// NewHost returns a host attached to s at address 0.
func NewHost(s *SIE) *Host {
	return &Host{SIE: s, Retries: DefaultRetries, mps0: 8}
}

// SetMaxPacket records the max packet size of an endpoint address.
func (h *Host) SetMaxPacket(address uint8, mps int) {
	if address&0x0F == 0 {
		h.mps0 = mps
		return
	}
	h.mps[address&0x0F][hal.DirectionOf(address)] = mps
}

// MaxPacket returns the max packet size recorded for an endpoint address.
func (h *Host) MaxPacket(address uint8) int {
	if address&0x0F == 0 {
		return h.mps0
	}
	return h.mps[address&0x0F][hal.DirectionOf(address)]
}

// ResetToggle resets the host toggle of an endpoint address to DATA0.
func (h *Host) ResetToggle(address uint8) {
	h.toggles[address&0x0F][hal.DirectionOf(address)] = false
}

func (h *Host) idle() {
	if h.Idle != nil {
		h.Idle()
	}
}

func (h *Host) retries() int {
	if h.Retries <= 0 {
		return DefaultRetries
	}
	return h.Retries
}

func handshakeErr(hs Handshake) error {
	switch hs {
	case HandshakeStall:
		return pkg.ErrStall
	case HandshakeNone:
		return ErrNoResponse
	default:
		return nil
	}
}

// in reads one packet, retrying on NAK.
func (h *Host) in(ep uint8) ([]byte, bool, error) {
	for range h.retries() {
		data, toggle, hs := h.SIE.In(h.Address, ep)
		if hs == HandshakeNAK {
			h.idle()
			continue
		}
		return data, toggle, handshakeErr(hs)
	}
	return nil, false, ErrRetries
}

// out writes one packet, retrying on NAK.
func (h *Host) out(ep uint8, data1 bool, data []byte) error {
	for range h.retries() {
		hs := h.SIE.Out(h.Address, ep, data1, data)
		if hs == HandshakeNAK {
			h.idle()
			continue
		}
		return handshakeErr(hs)
	}
	return ErrRetries
}

// Control runs a complete control transfer. For device-to-host requests the
// returned slice holds the data stage; for host-to-device requests data is
// sent as the data stage.
func (h *Host) Control(setup hal.SetupPacket, data []byte) ([]byte, error) {
	var raw [hal.SetupPacketSize]byte
	setup.MarshalTo(raw[:])
	if hs := h.SIE.Setup(h.Address, raw[:]); hs != HandshakeACK {
		return nil, fmt.Errorf("setup: %w", ErrNoResponse)
	}

	toggle := true
	var got []byte
	if setup.RequestType&0x80 != 0 && setup.Length > 0 {
		for len(got) < int(setup.Length) {
			pkt, t, err := h.in(0)
			if err != nil {
				return got, fmt.Errorf("data in: %w", err)
			}
			if t != toggle {
				return got, fmt.Errorf("data in: %w", ErrToggle)
			}
			toggle = !toggle
			got = append(got, pkt...)
			if len(pkt) < h.mps0 {
				break
			}
		}
		if err := h.out(0, true, nil); err != nil {
			return got, fmt.Errorf("status out: %w", err)
		}
		return got, nil
	}

	if len(data) > int(setup.Length) {
		data = data[:setup.Length]
	}
	for off := 0; off < len(data); {
		n := min(h.mps0, len(data)-off)
		if err := h.out(0, toggle, data[off:off+n]); err != nil {
			return nil, fmt.Errorf("data out: %w", err)
		}
		toggle = !toggle
		off += n
	}
	pkt, t, err := h.in(0)
	if err != nil {
		return nil, fmt.Errorf("status in: %w", err)
	}
	if len(pkt) != 0 || !t {
		return nil, fmt.Errorf("status in: %w", pkg.ErrProtocol)
	}
	return nil, nil
}

// BulkOut sends data to an OUT endpoint, splitting it into max-size packets.
// A transfer that is a multiple of the packet size is not terminated with a
// zero-length packet. It returns the number of bytes acknowledged.
func (h *Host) BulkOut(ep uint8, data []byte) (int, error) {
	ep &= 0x0F
	mps := h.mps[ep][hal.Out]
	if mps == 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	sent := 0
	for sent < len(data) {
		n := min(mps, len(data)-sent)
		if err := h.out(ep, h.toggles[ep][hal.Out], data[sent:sent+n]); err != nil {
			return sent, err
		}
		h.toggles[ep][hal.Out] = !h.toggles[ep][hal.Out]
		sent += n
	}
	return sent, nil
}

// BulkIn reads up to n bytes from an IN endpoint, stopping early at a short
// packet. On STALL it returns what was received together with pkg.ErrStall.
func (h *Host) BulkIn(ep uint8, n int) ([]byte, error) {
	ep &= 0x0F
	mps := h.mps[ep][hal.In]
	if mps == 0 {
		return nil, pkg.ErrInvalidEndpoint
	}
	var got []byte
	for len(got) < n {
		pkt, t, err := h.in(ep)
		if err != nil {
			return got, err
		}
		if t != h.toggles[ep][hal.In] {
			return got, ErrToggle
		}
		h.toggles[ep][hal.In] = !h.toggles[ep][hal.In]
		got = append(got, pkt...)
		if len(pkt) < mps {
			break
		}
	}
	return got, nil
}

// GetDescriptor issues GET_DESCRIPTOR.
func (h *Host) GetDescriptor(typ, index uint8, length uint16) ([]byte, error) {
	return h.Control(hal.SetupPacket{
		RequestType: 0x80,
		Request:     reqGetDescriptor,
		Value:       uint16(typ)<<8 | uint16(index),
		Length:      length,
	}, nil)
}

// SetAddress issues SET_ADDRESS and switches to the new address once the
// status stage completes.
func (h *Host) SetAddress(address uint8) error {
	if _, err := h.Control(hal.SetupPacket{Request: reqSetAddress, Value: uint16(address)}, nil); err != nil {
		return err
	}
	h.Address = address
	return nil
}

// SetConfiguration issues SET_CONFIGURATION and resets every data toggle.
func (h *Host) SetConfiguration(value uint8) error {
	if _, err := h.Control(hal.SetupPacket{Request: reqSetConfiguration, Value: uint16(value)}, nil); err != nil {
		return err
	}
	h.toggles = [MaxEndpoints][2]bool{}
	return nil
}

// ClearHalt issues CLEAR_FEATURE(ENDPOINT_HALT) and resets the host toggle.
func (h *Host) ClearHalt(address uint8) error {
	if _, err := h.Control(hal.SetupPacket{
		RequestType: 0x02,
		Request:     reqClearFeature,
		Index:       uint16(address),
	}, nil); err != nil {
		return err
	}
	h.ResetToggle(address)
	return nil
}

// Reset drives a bus reset and forgets the device address.
func (h *Host) Reset() {
	h.SIE.Reset()
	h.Address = 0
	h.toggles = [MaxEndpoints][2]bool{}
}

// Enumerate performs the usual enumeration sequence: read the device
// descriptor header to learn ep0's packet size, assign address, read the
// configuration descriptor, and select configuration 1. Endpoint packet
// sizes found in the configuration are recorded.
func (h *Host) Enumerate(address uint8) error {
	dev, err := h.GetDescriptor(0x01, 0, 8)
	if err != nil {
		return fmt.Errorf("device descriptor: %w", err)
	}
	if len(dev) < 8 {
		return fmt.Errorf("device descriptor: %w", pkg.ErrDescriptorTooShort)
	}
	h.mps0 = int(dev[7])
	if err := h.SetAddress(address); err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	head, err := h.GetDescriptor(0x02, 0, 9)
	if err != nil {
		return fmt.Errorf("configuration header: %w", err)
	}
	if len(head) < 9 {
		return fmt.Errorf("configuration header: %w", pkg.ErrDescriptorTooShort)
	}
	total := uint16(head[2]) | uint16(head[3])<<8
	cfg, err := h.GetDescriptor(0x02, 0, total)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	for off := 0; off+1 < len(cfg) && cfg[off] > 0; off += int(cfg[off]) {
		if cfg[off+1] == 0x05 && off+6 < len(cfg) {
			h.SetMaxPacket(cfg[off+2], int(cfg[off+4])|int(cfg[off+5])<<8)
		}
	}
	return h.SetConfiguration(head[5])
}

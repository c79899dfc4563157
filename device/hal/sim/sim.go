package sim

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

// MaxEndpoints is the number of endpoint numbers the engine implements (0-15).
const MaxEndpoints = 16

// Handshake is the response a host token received.
type Handshake uint8

// Handshakes seen by the host.
const (
	HandshakeNone  Handshake = iota // no response (wrong address or endpoint disabled)
	HandshakeACK                    // data accepted or delivered
	HandshakeNAK                    // descriptor not handed to hardware
	HandshakeStall                  // endpoint halted
)

// String returns the handshake name.
func (h Handshake) String() string {
	switch h {
	case HandshakeACK:
		return "ACK"
	case HandshakeNAK:
		return "NAK"
	case HandshakeStall:
		return "STALL"
	default:
		return "none"
	}
}

// Transaction is one bus transaction as recorded by the engine.
type Transaction struct {
	Endpoint  uint8
	PID       hal.PID
	Toggle    bool // DATA1 when true
	Length    int
	Handshake Handshake
}

type descriptor struct {
	buf  []byte
	word hal.Word
}

type endpoint struct {
	enabled bool
	halted  bool
	typ     uint8
	mps     uint16
	banks   uint8
	next    uint8
	desc    [2]descriptor
}

// SIE is a software serial interface engine. It owns the buffer descriptors
// the firmware arms through [hal.Channel] and completes them when the
// simulated host issues tokens.
//
// Event handlers run on the goroutine issuing the host token, with the
// interrupt mask held; [SIE.Mask] therefore excludes them.
type SIE struct {
	id    uuid.UUID
	speed hal.Speed

	// mask is the transaction-complete interrupt enable.
	mask sync.Mutex

	// regs guards everything below.
	regs    sync.Mutex
	handler hal.Handler
	started bool
	address uint8
	setup   [hal.SetupPacketSize]byte
	eps     [MaxEndpoints][2]endpoint
	trace   []Transaction
	tracing bool
}

// New creates a full-speed engine with endpoint 0 enabled at maxPacket0.
func New(maxPacket0 uint16) *SIE {
	s := &SIE{
		id:    uuid.New(),
		speed: hal.SpeedFull,
	}
	s.resetEndpoint0(maxPacket0)
	return s
}

// ID returns the engine's instance identifier.
func (s *SIE) ID() uuid.UUID {
	return s.id
}

func (s *SIE) resetEndpoint0(mps uint16) {
	for d := range s.eps[0] {
		s.eps[0][d] = endpoint{
			enabled: true,
			typ:     hal.TransferTypeControl,
			mps:     mps,
			banks:   1,
		}
	}
}

// Init implements hal.Channel.
func (s *SIE) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentHAL, "sim engine initialized", "id", s.id.String())
	return nil
}

// Start implements hal.Channel.
func (s *SIE) Start() error {
	s.regs.Lock()
	defer s.regs.Unlock()
	if s.started {
		return pkg.ErrAlreadyRunning
	}
	s.started = true
	return nil
}

// Stop implements hal.Channel.
func (s *SIE) Stop() error {
	s.regs.Lock()
	defer s.regs.Unlock()
	if !s.started {
		return pkg.ErrNotRunning
	}
	s.started = false
	return nil
}

// SetHandler implements hal.Channel.
func (s *SIE) SetHandler(h hal.Handler) {
	s.regs.Lock()
	s.handler = h
	s.regs.Unlock()
}

// Speed implements hal.Channel.
func (s *SIE) Speed() hal.Speed {
	return s.speed
}

// SetAddress implements hal.Channel.
func (s *SIE) SetAddress(address uint8) error {
	if address > 127 {
		return pkg.ErrInvalidParameter
	}
	s.regs.Lock()
	s.address = address
	s.regs.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "address register written", "address", address)
	return nil
}

// Address returns the device address register.
func (s *SIE) Address() uint8 {
	s.regs.Lock()
	defer s.regs.Unlock()
	return s.address
}

// ConfigureEndpoint implements hal.Channel.
func (s *SIE) ConfigureEndpoint(cfg hal.EndpointConfig) error {
	n := cfg.Number()
	if n == 0 || n >= MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	banks := cfg.Banks
	if banks == 0 {
		banks = 1
	}
	if banks > 2 {
		return pkg.ErrInvalidParameter
	}
	s.regs.Lock()
	s.eps[n][cfg.Direction()] = endpoint{
		enabled: true,
		typ:     cfg.TransferType(),
		mps:     cfg.MaxPacketSize,
		banks:   banks,
	}
	s.regs.Unlock()
	return nil
}

// DisableEndpoints implements hal.Channel.
func (s *SIE) DisableEndpoints() {
	s.regs.Lock()
	for n := 1; n < MaxEndpoints; n++ {
		s.eps[n] = [2]endpoint{}
	}
	s.regs.Unlock()
}

// Arm implements hal.Channel.
func (s *SIE) Arm(ep uint8, dir hal.Direction, bank uint8, buf []byte, word hal.Word) error {
	if ep >= MaxEndpoints || bank > 1 {
		return pkg.ErrInvalidEndpoint
	}
	s.regs.Lock()
	defer s.regs.Unlock()
	e := &s.eps[ep][dir]
	if !e.enabled || bank >= e.banks {
		return pkg.ErrInvalidEndpoint
	}
	d := &e.desc[bank]
	if d.word.HardwareOwned() {
		return pkg.ErrBusy
	}
	if word.ByteCount() > len(buf) {
		return pkg.ErrBufferTooSmall
	}
	d.buf = buf
	d.word = word.WithOwner(true)
	return nil
}

// Cancel implements hal.Channel.
func (s *SIE) Cancel(ep uint8, dir hal.Direction, bank uint8) {
	if ep >= MaxEndpoints || bank > 1 {
		return
	}
	s.regs.Lock()
	e := &s.eps[ep][dir]
	e.desc[bank].word = e.desc[bank].word.WithOwner(false)
	if !e.desc[0].word.HardwareOwned() && !e.desc[1].word.HardwareOwned() {
		e.next = 0
	}
	s.regs.Unlock()
}

// Descriptor implements hal.Channel.
func (s *SIE) Descriptor(ep uint8, dir hal.Direction, bank uint8) hal.Word {
	if ep >= MaxEndpoints || bank > 1 {
		return 0
	}
	s.regs.Lock()
	defer s.regs.Unlock()
	return s.eps[ep][dir].desc[bank].word
}

// ReadSetup implements hal.Channel.
func (s *SIE) ReadSetup(out []byte) int {
	s.regs.Lock()
	defer s.regs.Unlock()
	return copy(out, s.setup[:])
}

// SetHalt implements hal.Channel.
func (s *SIE) SetHalt(ep uint8, dir hal.Direction) {
	if ep >= MaxEndpoints {
		return
	}
	s.regs.Lock()
	s.eps[ep][dir].halted = true
	s.regs.Unlock()
}

// ClearHalt implements hal.Channel.
func (s *SIE) ClearHalt(ep uint8, dir hal.Direction) {
	if ep >= MaxEndpoints {
		return
	}
	s.regs.Lock()
	s.eps[ep][dir].halted = false
	s.regs.Unlock()
}

// Halted reports whether the endpoint answers STALL.
func (s *SIE) Halted(ep uint8, dir hal.Direction) bool {
	s.regs.Lock()
	defer s.regs.Unlock()
	return s.eps[ep][dir].halted
}

// Mask implements hal.Channel.
func (s *SIE) Mask() {
	s.mask.Lock()
}

// Unmask implements hal.Channel.
func (s *SIE) Unmask() {
	s.mask.Unlock()
}

// Trace starts recording transactions, discarding anything recorded so far.
func (s *SIE) Trace() {
	s.regs.Lock()
	s.trace = s.trace[:0]
	s.tracing = true
	s.regs.Unlock()
}

// Transactions returns a copy of the recorded transactions.
func (s *SIE) Transactions() []Transaction {
	s.regs.Lock()
	defer s.regs.Unlock()
	out := make([]Transaction, len(s.trace))
	copy(out, s.trace)
	return out
}

func (s *SIE) record(t Transaction) {
	if s.tracing {
		s.trace = append(s.trace, t)
	}
}

// deliver runs the handler in interrupt context.
func (s *SIE) deliver(ev hal.Event) {
	s.regs.Lock()
	h := s.handler
	s.regs.Unlock()
	if h == nil {
		return
	}
	s.mask.Lock()
	defer s.mask.Unlock()
	h(ev)
}

// Setup issues a SETUP token with an 8-byte payload to the given address.
// The engine always accepts SETUP on endpoint 0; doing so reclaims both ep0
// descriptors and clears any ep0 halt.
func (s *SIE) Setup(address uint8, packet []byte) Handshake {
	if len(packet) != hal.SetupPacketSize {
		return HandshakeNone
	}
	s.regs.Lock()
	if !s.started || address != s.address {
		s.regs.Unlock()
		return HandshakeNone
	}
	copy(s.setup[:], packet)
	for d := range s.eps[0] {
		e := &s.eps[0][d]
		e.halted = false
		e.desc[0].word = e.desc[0].word.WithOwner(false)
	}
	s.record(Transaction{PID: hal.PIDSetup, Length: len(packet), Handshake: HandshakeACK})
	s.regs.Unlock()

	s.deliver(hal.Event{Kind: hal.EventSetup})
	return HandshakeACK
}

// In issues an IN token. On ACK it returns the packet data and the toggle
// the device sent it with.
func (s *SIE) In(address, ep uint8) ([]byte, bool, Handshake) {
	s.regs.Lock()
	if !s.started || address != s.address || ep >= MaxEndpoints {
		s.regs.Unlock()
		return nil, false, HandshakeNone
	}
	e := &s.eps[ep][hal.In]
	if !e.enabled {
		s.regs.Unlock()
		return nil, false, HandshakeNone
	}
	if e.halted {
		s.record(Transaction{Endpoint: ep, PID: hal.PIDIn, Handshake: HandshakeStall})
		s.regs.Unlock()
		return nil, false, HandshakeStall
	}
	bank := e.next
	d := &e.desc[bank]
	if !d.word.HardwareOwned() {
		s.regs.Unlock()
		return nil, false, HandshakeNAK
	}
	n := d.word.ByteCount()
	data := make([]byte, n)
	copy(data, d.buf[:n])
	d.word = d.word.WithOwner(false)
	if e.banks == 2 {
		e.next ^= 1
	}
	word := d.word
	s.record(Transaction{Endpoint: ep, PID: hal.PIDIn, Toggle: word.Toggle(), Length: n, Handshake: HandshakeACK})
	s.regs.Unlock()

	s.deliver(hal.Event{Kind: hal.EventTransaction, Endpoint: ep, Direction: hal.In, Bank: bank, Word: word})
	return data, word.Toggle(), HandshakeACK
}

// Out issues an OUT token followed by a data packet sent with the given
// toggle. A packet whose toggle differs from the one the descriptor expects
// is acknowledged and discarded, as a retransmission would be.
func (s *SIE) Out(address, ep uint8, data1 bool, data []byte) Handshake {
	s.regs.Lock()
	if !s.started || address != s.address || ep >= MaxEndpoints {
		s.regs.Unlock()
		return HandshakeNone
	}
	e := &s.eps[ep][hal.Out]
	if !e.enabled || len(data) > int(e.mps) {
		s.regs.Unlock()
		return HandshakeNone
	}
	if e.halted {
		s.record(Transaction{Endpoint: ep, PID: hal.PIDOut, Toggle: data1, Length: len(data), Handshake: HandshakeStall})
		s.regs.Unlock()
		return HandshakeStall
	}
	bank := e.next
	d := &e.desc[bank]
	if !d.word.HardwareOwned() {
		s.regs.Unlock()
		return HandshakeNAK
	}
	if len(data) > d.word.ByteCount() {
		s.record(Transaction{Endpoint: ep, PID: hal.PIDOut, Toggle: data1, Length: len(data), Handshake: HandshakeNone})
		s.regs.Unlock()
		return HandshakeNone
	}
	s.record(Transaction{Endpoint: ep, PID: hal.PIDOut, Toggle: data1, Length: len(data), Handshake: HandshakeACK})
	if d.word.Toggle() != data1 {
		s.regs.Unlock()
		return HandshakeACK
	}
	n := copy(d.buf[:d.word.ByteCount()], data)
	d.word = d.word.WithByteCount(n).WithOwner(false)
	if e.banks == 2 {
		e.next ^= 1
	}
	word := d.word
	s.regs.Unlock()

	s.deliver(hal.Event{Kind: hal.EventTransaction, Endpoint: ep, Direction: hal.Out, Bank: bank, Word: word})
	return HandshakeACK
}

// Reset drives a bus reset: address 0, endpoints above 0 disabled, ep0
// descriptors reclaimed.
func (s *SIE) Reset() {
	s.regs.Lock()
	s.address = 0
	mps := s.eps[0][hal.In].mps
	for n := 1; n < MaxEndpoints; n++ {
		s.eps[n] = [2]endpoint{}
	}
	s.resetEndpoint0(mps)
	s.regs.Unlock()

	s.deliver(hal.Event{Kind: hal.EventReset})
}

// Suspend signals bus suspend.
func (s *SIE) Suspend() {
	s.deliver(hal.Event{Kind: hal.EventSuspend})
}

// Resume signals bus resume.
func (s *SIE) Resume() {
	s.deliver(hal.Event{Kind: hal.EventResume})
}

var _ hal.Channel = (*SIE)(nil)

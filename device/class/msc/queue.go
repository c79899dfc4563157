package msc

// OpKind is a unit of work handed from interrupt context to [MSC.Task].
type OpKind uint8

// Pending operation kinds.
const (
	OpNone        OpKind = iota
	OpCommand            // interpret the accepted CBW
	OpReadHandled        // the current read block was sent
	OpWriteData          // the write buffer is full
	OpComplete           // the data phase of a read or write finished
)

// String returns the operation name.
func (k OpKind) String() string {
	switch k {
	case OpNone:
		return "None"
	case OpCommand:
		return "Command"
	case OpReadHandled:
		return "ReadHandled"
	case OpWriteData:
		return "WriteData"
	case OpComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// pendingOp is one queued operation.
type pendingOp struct {
	kind OpKind
	lun  uint8
	n    int // bytes for OpWriteData
	cbw  CommandBlockWrapper
}

// opSlot is a single-slot queue between interrupt context (producer) and
// the main loop (consumer). Both sides hold the critical section.
//
// The transport never has more than one operation outstanding: each kind
// waits on an answer from the main loop before the next can be produced.
// Aborts are kept beside the slot as a LUN mask, so a reset followed by a
// new CBW before the main loop runs queues both.
type opSlot struct {
	op     pendingOp
	full   bool
	aborts uint16 // bit n: abandon the driver operation on LUN n
}

// post queues op. It reports false if the slot is occupied.
func (s *opSlot) post(op pendingOp) bool {
	if s.full {
		return false
	}
	s.op = op
	s.full = true
	return true
}

// abort records that the driver operation on lun must be abandoned.
func (s *opSlot) abort(lun uint8) {
	s.aborts |= 1 << (lun & (MaxLUNs - 1))
}

// takeAborts returns and clears the pending abort mask.
func (s *opSlot) takeAborts() uint16 {
	m := s.aborts
	s.aborts = 0
	return m
}

// drop empties the slot. Pending aborts are kept.
func (s *opSlot) drop() {
	s.op = pendingOp{}
	s.full = false
}

// take removes the queued operation.
func (s *opSlot) take() (pendingOp, bool) {
	if !s.full {
		return pendingOp{}, false
	}
	op := s.op
	s.drop()
	return op, true
}

// peek returns the kind of the queued operation, or OpNone.
func (s *opSlot) peek() OpKind {
	if !s.full {
		return OpNone
	}
	return s.op.kind
}

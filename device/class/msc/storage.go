package msc

// Info describes a logical unit's medium.
type Info struct {
	BlockSize      uint32
	BlockCount     uint32
	WriteProtected bool
	Removable      bool
}

// Capacity returns the medium size in bytes.
func (i Info) Capacity() uint64 {
	return uint64(i.BlockSize) * uint64(i.BlockCount)
}

// Driver is the block storage behind an MSC interface.
//
// Every method is called from [MSC.Task], never from interrupt context, and
// may block. Reads and writes are split into a start call followed by
// per-buffer handshakes made through the [Notifier] passed to the start
// call; a driver may make those notifications before the start call
// returns or later from the main loop.
type Driver interface {
	// Info reports the medium in a unit. When no medium is present it
	// returns pkg.ErrMediumNotPresent and an Info whose Removable field is
	// still meaningful.
	Info(lun uint8) (Info, error)

	// UnitReady reports whether the unit can transfer data.
	UnitReady(lun uint8) error

	// StartStop starts or stops the unit, ejecting the medium if eject is set.
	StartStop(lun uint8, start, eject bool) error

	// StartRead begins reading count blocks at lba. The driver hands each
	// block to n.BlockReady and reads the next one after ReadHandled.
	StartRead(lun uint8, lba uint32, count uint16, n Notifier) error

	// ReadHandled reports that the buffer last passed to BlockReady has been
	// sent and may be reused.
	ReadHandled(lun uint8) error

	// StartWrite begins writing count blocks at lba and returns the buffer
	// the transport fills with host data. Its length is the buffer capacity,
	// which need not be a multiple of the bulk packet size: a packet that
	// straddles the end of the buffer is split across two WriteData calls.
	StartWrite(lun uint8, lba uint32, count uint16, n Notifier) ([]byte, error)

	// WriteData reports that the first n bytes of the write buffer hold host
	// data. The driver stores them and calls n.WriteDrained.
	WriteData(lun uint8, n int) error

	// Sync flushes cached writes to the medium.
	Sync(lun uint8) error

	// Complete ends a read or write whose data phase finished.
	Complete(lun uint8) error

	// Abort abandons a read or write that will not finish. The driver must
	// not notify for it afterwards.
	Abort(lun uint8)
}

// Notifier receives a [Driver]'s asynchronous completions. Its methods must
// be called from the main loop.
type Notifier interface {
	// BlockReady hands the transport the next block of a read. Blocks need
	// not end on a packet boundary.
	BlockReady(lun uint8, data []byte)

	// WriteDrained reports that the write buffer was stored and may be
	// refilled.
	WriteDrained(lun uint8)

	// Failed ends the current read or write with a medium error.
	Failed(lun uint8, err error)
}

// SerialNumberer is implemented by drivers that report a unit serial number
// in INQUIRY vital product data.
type SerialNumberer interface {
	SerialNumber(lun uint8) string
}

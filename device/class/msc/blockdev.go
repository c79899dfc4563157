package msc

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ardnew/sieusb/pkg"
)

// Medium is synchronous block storage for one logical unit.
type Medium interface {
	// Info reports the medium geometry.
	Info() (Info, error)

	// ReadBlocks fills p, a whole number of blocks, starting at lba.
	ReadBlocks(lba uint32, p []byte) error

	// WriteBlocks stores p, a whole number of blocks, starting at lba.
	WriteBlocks(lba uint32, p []byte) error

	// Sync flushes cached writes.
	Sync() error
}

// Ejecter is implemented by removable media.
type Ejecter interface {
	Eject() error
	Load() error
}

// DefaultBufferBlocks is the write buffer size of a [BlockDriver] in blocks.
const DefaultBufferBlocks = 1

// BlockDriver adapts one [Medium] per LUN to the [Driver] handshake. Reads
// go out one block at a time; writes are buffered BufferBlocks at a time.
// Notifications are made before the driver call returns.
type BlockDriver struct {
	// BufferBlocks is the write buffer capacity in blocks.
	BufferBlocks int

	id    uuid.UUID
	units [MaxLUNs]Medium
	nunit int
	ops   [MaxLUNs]blockOp
}

// blockOp is the read or write in progress on a LUN.
type blockOp struct {
	active bool
	write  bool
	lba    uint32
	left   uint16 // blocks not yet sent or stored
	size   uint32 // block size
	buf    []byte
	n      Notifier
}

// NewBlockDriver returns a driver exposing each medium as a LUN, in order.
func NewBlockDriver(media ...Medium) (*BlockDriver, error) {
	if len(media) == 0 || len(media) > MaxLUNs {
		return nil, fmt.Errorf("%d logical units: %w", len(media), pkg.ErrInvalidParameter)
	}
	d := &BlockDriver{BufferBlocks: DefaultBufferBlocks, id: uuid.New()}
	for i, m := range media {
		if m == nil {
			return nil, fmt.Errorf("lun %d: %w", i, pkg.ErrInvalidParameter)
		}
		d.units[i] = m
	}
	d.nunit = len(media)
	return d, nil
}

// MaxLUN returns the highest LUN the driver serves.
func (d *BlockDriver) MaxLUN() uint8 {
	return uint8(d.nunit - 1)
}

// Medium returns the medium behind lun, or nil.
func (d *BlockDriver) Medium(lun uint8) Medium {
	if int(lun) >= d.nunit {
		return nil
	}
	return d.units[lun]
}

// SerialNumber implements SerialNumberer. Serials derive from a random
// identifier chosen when the driver is created.
func (d *BlockDriver) SerialNumber(lun uint8) string {
	id := strings.ToUpper(strings.ReplaceAll(d.id.String(), "-", ""))
	return fmt.Sprintf("%s%02d", id[:20], lun)
}

func (d *BlockDriver) medium(lun uint8) (Medium, error) {
	if int(lun) >= d.nunit {
		return nil, fmt.Errorf("lun %d: %w", lun, pkg.ErrInvalidParameter)
	}
	return d.units[lun], nil
}

// Info implements Driver.
func (d *BlockDriver) Info(lun uint8) (Info, error) {
	m, err := d.medium(lun)
	if err != nil {
		return Info{}, err
	}
	return m.Info()
}

// UnitReady implements Driver.
func (d *BlockDriver) UnitReady(lun uint8) error {
	_, err := d.Info(lun)
	return err
}

// StartStop implements Driver.
func (d *BlockDriver) StartStop(lun uint8, start, eject bool) error {
	m, err := d.medium(lun)
	if err != nil {
		return err
	}
	if !eject {
		return nil
	}
	e, ok := m.(Ejecter)
	if !ok {
		return fmt.Errorf("eject lun %d: %w", lun, pkg.ErrInvalidParameter)
	}
	if start {
		return e.Load()
	}
	d.Abort(lun)
	return e.Eject()
}

// begin validates a new operation and sizes its buffer.
func (d *BlockDriver) begin(lun uint8, lba uint32, count uint16, n Notifier, write bool) (*blockOp, Medium, error) {
	m, err := d.medium(lun)
	if err != nil {
		return nil, nil, err
	}
	op := &d.ops[lun]
	if op.active {
		return nil, nil, fmt.Errorf("lun %d: %w", lun, pkg.ErrBusy)
	}
	info, err := m.Info()
	if err != nil {
		return nil, nil, err
	}
	if uint64(lba)+uint64(count) > uint64(info.BlockCount) {
		return nil, nil, pkg.ErrOutOfRange
	}
	if write && info.WriteProtected {
		return nil, nil, pkg.ErrWriteProtected
	}
	blocks := 1
	if write {
		blocks = min(max(d.BufferBlocks, 1), int(count))
	}
	size := blocks * int(info.BlockSize)
	if cap(op.buf) < size {
		op.buf = make([]byte, size)
	}
	*op = blockOp{
		active: true,
		write:  write,
		lba:    lba,
		left:   count,
		size:   info.BlockSize,
		buf:    op.buf[:size],
		n:      n,
	}
	return op, m, nil
}

// StartRead implements Driver.
func (d *BlockDriver) StartRead(lun uint8, lba uint32, count uint16, n Notifier) error {
	op, m, err := d.begin(lun, lba, count, n, false)
	if err != nil {
		return err
	}
	return d.readNext(lun, op, m)
}

func (d *BlockDriver) readNext(lun uint8, op *blockOp, m Medium) error {
	if err := m.ReadBlocks(op.lba, op.buf); err != nil {
		op.active = false
		return fmt.Errorf("read lba %d: %w", op.lba, err)
	}
	op.n.BlockReady(lun, op.buf)
	return nil
}

// ReadHandled implements Driver.
func (d *BlockDriver) ReadHandled(lun uint8) error {
	m, err := d.medium(lun)
	if err != nil {
		return err
	}
	op := &d.ops[lun]
	if !op.active || op.write {
		return fmt.Errorf("lun %d no read: %w", lun, pkg.ErrInvalidState)
	}
	op.lba++
	op.left--
	if op.left == 0 {
		return nil
	}
	return d.readNext(lun, op, m)
}

// StartWrite implements Driver.
func (d *BlockDriver) StartWrite(lun uint8, lba uint32, count uint16, n Notifier) ([]byte, error) {
	op, _, err := d.begin(lun, lba, count, n, true)
	if err != nil {
		return nil, err
	}
	return op.buf, nil
}

// WriteData implements Driver.
func (d *BlockDriver) WriteData(lun uint8, n int) error {
	m, err := d.medium(lun)
	if err != nil {
		return err
	}
	op := &d.ops[lun]
	if !op.active || !op.write {
		return fmt.Errorf("lun %d no write: %w", lun, pkg.ErrInvalidState)
	}
	if n%int(op.size) != 0 || n > len(op.buf) || n/int(op.size) > int(op.left) {
		op.active = false
		return fmt.Errorf("write %d bytes: %w", n, pkg.ErrInvalidParameter)
	}
	if err := m.WriteBlocks(op.lba, op.buf[:n]); err != nil {
		op.active = false
		return fmt.Errorf("write lba %d: %w", op.lba, err)
	}
	blocks := n / int(op.size)
	op.lba += uint32(blocks)
	op.left -= uint16(blocks)
	op.n.WriteDrained(lun)
	return nil
}

// Sync implements Driver.
func (d *BlockDriver) Sync(lun uint8) error {
	m, err := d.medium(lun)
	if err != nil {
		return err
	}
	return m.Sync()
}

// Complete implements Driver.
func (d *BlockDriver) Complete(lun uint8) error {
	if int(lun) >= d.nunit {
		return pkg.ErrInvalidParameter
	}
	op := &d.ops[lun]
	defer func() { op.active = false }()
	if op.active && op.left != 0 && !op.write {
		// The last block is counted when the transport finishes it.
		op.left--
	}
	if op.active && op.left != 0 {
		return fmt.Errorf("lun %d: %d blocks outstanding: %w", lun, op.left, pkg.ErrProtocol)
	}
	return nil
}

// Abort implements Driver.
func (d *BlockDriver) Abort(lun uint8) {
	if int(lun) < d.nunit {
		d.ops[lun].active = false
	}
}

// Busy reports whether a read or write is in progress on lun.
func (d *BlockDriver) Busy(lun uint8) bool {
	return int(lun) < d.nunit && d.ops[lun].active
}

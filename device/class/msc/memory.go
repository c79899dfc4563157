package msc

import (
	"sync"

	"github.com/ardnew/sieusb/pkg"
)

// MemoryMedium is a [Medium] held in memory.
type MemoryMedium struct {
	data      []byte
	blockSize uint32
	readOnly  bool
	removable bool
	present   bool
	mutex     sync.RWMutex
}

// NewMemoryMedium creates a zeroed medium of blockCount blocks.
func NewMemoryMedium(blockCount, blockSize uint32) *MemoryMedium {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	return &MemoryMedium{
		data:      make([]byte, uint64(blockCount)*uint64(blockSize)),
		blockSize: blockSize,
		present:   true,
	}
}

// NewMemoryDriver returns a [BlockDriver] with one memory medium per entry
// of blockCounts, each with DefaultBlockSize blocks.
func NewMemoryDriver(blockCounts ...uint32) (*BlockDriver, error) {
	media := make([]Medium, len(blockCounts))
	for i, n := range blockCounts {
		media[i] = NewMemoryMedium(n, DefaultBlockSize)
	}
	return NewBlockDriver(media...)
}

// Info implements Medium.
func (m *MemoryMedium) Info() (Info, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.present {
		return Info{Removable: m.removable}, pkg.ErrMediumNotPresent
	}
	return Info{
		BlockSize:      m.blockSize,
		BlockCount:     uint32(uint64(len(m.data)) / uint64(m.blockSize)),
		WriteProtected: m.readOnly,
		Removable:      m.removable,
	}, nil
}

// span returns the byte range of p at lba.
func (m *MemoryMedium) span(lba uint32, p []byte) (int, int, error) {
	if !m.present {
		return 0, 0, pkg.ErrMediumNotPresent
	}
	if len(p)%int(m.blockSize) != 0 {
		return 0, 0, pkg.ErrInvalidParameter
	}
	off := uint64(lba) * uint64(m.blockSize)
	end := off + uint64(len(p))
	if end > uint64(len(m.data)) {
		return 0, 0, pkg.ErrOutOfRange
	}
	return int(off), int(end), nil
}

// ReadBlocks implements Medium.
func (m *MemoryMedium) ReadBlocks(lba uint32, p []byte) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	off, end, err := m.span(lba, p)
	if err != nil {
		return err
	}
	copy(p, m.data[off:end])
	return nil
}

// WriteBlocks implements Medium.
func (m *MemoryMedium) WriteBlocks(lba uint32, p []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.readOnly {
		return pkg.ErrWriteProtected
	}
	off, end, err := m.span(lba, p)
	if err != nil {
		return err
	}
	copy(m.data[off:end], p)
	return nil
}

// Sync is a no-op for memory.
func (m *MemoryMedium) Sync() error {
	return nil
}

// Bytes returns the medium contents. The slice aliases the medium.
func (m *MemoryMedium) Bytes() []byte {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.data
}

// SetReadOnly sets write protection.
func (m *MemoryMedium) SetReadOnly(readOnly bool) {
	m.mutex.Lock()
	m.readOnly = readOnly
	m.mutex.Unlock()
}

// SetRemovable marks the medium removable.
func (m *MemoryMedium) SetRemovable(removable bool) {
	m.mutex.Lock()
	m.removable = removable
	m.mutex.Unlock()
}

// SetPresent inserts or removes the medium.
func (m *MemoryMedium) SetPresent(present bool) {
	m.mutex.Lock()
	m.present = present
	m.mutex.Unlock()
}

// Eject implements Ejecter.
func (m *MemoryMedium) Eject() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.removable {
		return pkg.ErrInvalidRequest
	}
	m.present = false
	return nil
}

// Load implements Ejecter.
func (m *MemoryMedium) Load() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.removable {
		return pkg.ErrInvalidRequest
	}
	m.present = true
	return nil
}

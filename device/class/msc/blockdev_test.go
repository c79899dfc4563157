package msc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/sieusb/pkg"
)

// recordingNotifier keeps every notification a driver makes.
type recordingNotifier struct {
	blocks  [][]byte
	drained int
	failed  []error
}

func (n *recordingNotifier) BlockReady(lun uint8, data []byte) {
	n.blocks = append(n.blocks, append([]byte(nil), data...))
}

func (n *recordingNotifier) WriteDrained(lun uint8) {
	n.drained++
}

func (n *recordingNotifier) Failed(lun uint8, err error) {
	n.failed = append(n.failed, err)
}

func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i*7)
	}
	return p
}

func TestNewBlockDriver(t *testing.T) {
	if _, err := NewBlockDriver(); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("NewBlockDriver() error = %v, want ErrInvalidParameter", err)
	}
	if _, err := NewBlockDriver(nil); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("NewBlockDriver(nil) error = %v, want ErrInvalidParameter", err)
	}
	media := make([]Medium, MaxLUNs+1)
	for i := range media {
		media[i] = NewMemoryMedium(1, 0)
	}
	if _, err := NewBlockDriver(media...); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("NewBlockDriver(17 media) error = %v, want ErrInvalidParameter", err)
	}

	d, err := NewMemoryDriver(16, 32)
	if err != nil {
		t.Fatalf("NewMemoryDriver() error = %v", err)
	}
	if got := d.MaxLUN(); got != 1 {
		t.Errorf("MaxLUN() = %d, want 1", got)
	}
	info, err := d.Info(1)
	if err != nil {
		t.Fatalf("Info(1) error = %v", err)
	}
	if info.BlockCount != 32 || info.BlockSize != DefaultBlockSize || info.Capacity() != 32*512 {
		t.Errorf("Info(1) = %+v, want 32 blocks of 512", info)
	}
	if _, err := d.Info(2); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Info(2) error = %v, want ErrInvalidParameter", err)
	}
	if d.Medium(2) != nil {
		t.Error("Medium(2) != nil")
	}
}

func TestBlockDriverSerialNumber(t *testing.T) {
	d, err := NewMemoryDriver(1, 1)
	if err != nil {
		t.Fatalf("NewMemoryDriver() error = %v", err)
	}
	s0, s1 := d.SerialNumber(0), d.SerialNumber(1)
	if len(s0) != 22 {
		t.Errorf("SerialNumber(0) = %q, want 22 characters", s0)
	}
	if s0 == s1 || s0[:20] != s1[:20] {
		t.Errorf("SerialNumber(0), SerialNumber(1) = %q, %q, want a shared prefix", s0, s1)
	}
	other, _ := NewMemoryDriver(1)
	if other.SerialNumber(0) == s0 {
		t.Error("two drivers report the same serial number")
	}
}

func TestBlockDriverRead(t *testing.T) {
	m := NewMemoryMedium(8, 512)
	want := pattern(3*512, 1)
	if err := m.WriteBlocks(2, want); err != nil {
		t.Fatalf("WriteBlocks() error = %v", err)
	}
	d, _ := NewBlockDriver(m)
	n := &recordingNotifier{}

	if err := d.StartRead(0, 2, 3, n); err != nil {
		t.Fatalf("StartRead() error = %v", err)
	}
	if err := d.StartRead(0, 0, 1, n); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("second StartRead() error = %v, want ErrBusy", err)
	}
	for range 2 {
		if err := d.ReadHandled(0); err != nil {
			t.Fatalf("ReadHandled() error = %v", err)
		}
	}
	if err := d.Complete(0); err != nil {
		t.Errorf("Complete() error = %v", err)
	}
	if d.Busy(0) {
		t.Error("Busy() after Complete = true")
	}
	if len(n.blocks) != 3 {
		t.Fatalf("BlockReady called %d times, want 3", len(n.blocks))
	}
	if got := bytes.Join(n.blocks, nil); !bytes.Equal(got, want) {
		t.Error("blocks read do not match blocks written")
	}
}

func TestBlockDriverReadIncomplete(t *testing.T) {
	d, _ := NewMemoryDriver(8)
	n := &recordingNotifier{}
	if err := d.StartRead(0, 0, 3, n); err != nil {
		t.Fatalf("StartRead() error = %v", err)
	}
	if err := d.Complete(0); !errors.Is(err, pkg.ErrProtocol) {
		t.Errorf("Complete() after 1 of 3 blocks error = %v, want ErrProtocol", err)
	}
	if err := d.ReadHandled(0); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("ReadHandled() with no read error = %v, want ErrInvalidState", err)
	}
}

func TestBlockDriverWrite(t *testing.T) {
	m := NewMemoryMedium(8, 512)
	d, _ := NewBlockDriver(m)
	d.BufferBlocks = 2
	n := &recordingNotifier{}

	buf, err := d.StartWrite(0, 1, 3, n)
	if err != nil {
		t.Fatalf("StartWrite() error = %v", err)
	}
	if len(buf) != 1024 {
		t.Fatalf("write buffer = %d bytes, want 1024", len(buf))
	}
	data := pattern(3*512, 9)
	copy(buf, data[:1024])
	if err := d.WriteData(0, 1024); err != nil {
		t.Fatalf("WriteData(1024) error = %v", err)
	}
	copy(buf, data[1024:])
	if err := d.WriteData(0, 512); err != nil {
		t.Fatalf("WriteData(512) error = %v", err)
	}
	if err := d.Complete(0); err != nil {
		t.Errorf("Complete() error = %v", err)
	}
	if n.drained != 2 {
		t.Errorf("WriteDrained called %d times, want 2", n.drained)
	}
	if got := m.Bytes()[512 : 4*512]; !bytes.Equal(got, data) {
		t.Error("medium does not hold the written blocks")
	}
}

func TestBlockDriverWriteErrors(t *testing.T) {
	m := NewMemoryMedium(4, 512)
	d, _ := NewBlockDriver(m)
	n := &recordingNotifier{}

	if _, err := d.StartWrite(0, 3, 2, n); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("StartWrite(past end) error = %v, want ErrOutOfRange", err)
	}
	if err := d.WriteData(0, 512); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("WriteData() with no write error = %v, want ErrInvalidState", err)
	}

	if _, err := d.StartWrite(0, 0, 1, n); err != nil {
		t.Fatalf("StartWrite() error = %v", err)
	}
	if err := d.WriteData(0, 100); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("WriteData(partial block) error = %v, want ErrInvalidParameter", err)
	}
	if d.Busy(0) {
		t.Error("Busy() after failed WriteData = true")
	}

	m.SetReadOnly(true)
	if _, err := d.StartWrite(0, 0, 1, n); !errors.Is(err, pkg.ErrWriteProtected) {
		t.Errorf("StartWrite(read-only) error = %v, want ErrWriteProtected", err)
	}
}

func TestBlockDriverAbort(t *testing.T) {
	d, _ := NewMemoryDriver(4)
	n := &recordingNotifier{}
	if _, err := d.StartWrite(0, 0, 2, n); err != nil {
		t.Fatalf("StartWrite() error = %v", err)
	}
	d.Abort(0)
	if d.Busy(0) {
		t.Error("Busy() after Abort = true")
	}
	if _, err := d.StartWrite(0, 0, 2, n); err != nil {
		t.Errorf("StartWrite() after Abort error = %v", err)
	}
}

func TestBlockDriverStartStop(t *testing.T) {
	fixed := NewMemoryMedium(4, 512)
	removable := NewMemoryMedium(4, 512)
	removable.SetRemovable(true)
	d, _ := NewBlockDriver(fixed, removable)

	if err := d.StartStop(0, true, false); err != nil {
		t.Errorf("StartStop(start) error = %v", err)
	}
	if err := d.StartStop(0, false, true); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("StartStop(eject fixed) error = %v, want ErrInvalidRequest", err)
	}

	if err := d.StartStop(1, false, true); err != nil {
		t.Fatalf("StartStop(eject) error = %v", err)
	}
	info, err := d.Info(1)
	if !errors.Is(err, pkg.ErrMediumNotPresent) {
		t.Errorf("Info() after eject error = %v, want ErrMediumNotPresent", err)
	}
	if !info.Removable {
		t.Error("Info().Removable after eject = false")
	}
	if err := d.UnitReady(1); !errors.Is(err, pkg.ErrMediumNotPresent) {
		t.Errorf("UnitReady() after eject error = %v, want ErrMediumNotPresent", err)
	}

	if err := d.StartStop(1, true, true); err != nil {
		t.Fatalf("StartStop(load) error = %v", err)
	}
	if err := d.UnitReady(1); err != nil {
		t.Errorf("UnitReady() after load error = %v", err)
	}
}

func TestMemoryMedium(t *testing.T) {
	m := NewMemoryMedium(4, 0)
	info, err := m.Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.BlockSize != DefaultBlockSize || info.BlockCount != 4 {
		t.Errorf("Info() = %+v, want 4 blocks of %d", info, DefaultBlockSize)
	}

	buf := make([]byte, 512)
	if err := m.ReadBlocks(4, buf); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("ReadBlocks(4) error = %v, want ErrOutOfRange", err)
	}
	if err := m.ReadBlocks(0, buf[:100]); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("ReadBlocks(partial) error = %v, want ErrInvalidParameter", err)
	}
	if err := m.Eject(); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("Eject(fixed) error = %v, want ErrInvalidRequest", err)
	}

	m.SetPresent(false)
	if err := m.ReadBlocks(0, buf); !errors.Is(err, pkg.ErrMediumNotPresent) {
		t.Errorf("ReadBlocks(no medium) error = %v, want ErrMediumNotPresent", err)
	}
	m.SetPresent(true)

	m.SetReadOnly(true)
	if err := m.WriteBlocks(0, buf); !errors.Is(err, pkg.ErrWriteProtected) {
		t.Errorf("WriteBlocks(read-only) error = %v, want ErrWriteProtected", err)
	}
	if info, _ := m.Info(); !info.WriteProtected {
		t.Error("Info().WriteProtected = false")
	}
	if err := m.Sync(); err != nil {
		t.Errorf("Sync() error = %v", err)
	}
}

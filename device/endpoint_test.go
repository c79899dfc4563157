package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/pkg"
)

func TestDirectoryReset(t *testing.T) {
	var d Directory
	d.Reset(32)

	r, dir, ok := d.Lookup(0x80)
	if !ok || dir != hal.In {
		t.Fatalf("Lookup(0x80) = %v %v, want enabled IN", ok, dir)
	}
	if r.MaxPacket[hal.In] != 32 || r.MaxPacket[hal.Out] != 32 {
		t.Errorf("ep0 max packet = %v, want [32 32]", r.MaxPacket)
	}
	if r.Type != EndpointTypeControl {
		t.Errorf("ep0 type = %d, want control", r.Type)
	}
	if _, _, ok := d.Lookup(0x81); ok {
		t.Error("Lookup(0x81) enabled after reset")
	}
	if d.Record(MaxEndpoints) != nil {
		t.Error("Record(MaxEndpoints) != nil")
	}

	d.Record(1).Enabled[hal.In] = true
	d.Deconfigure()
	if _, _, ok := d.Lookup(0x81); ok {
		t.Error("Lookup(0x81) enabled after Deconfigure")
	}
	if _, _, ok := d.Lookup(0x00); !ok {
		t.Error("Deconfigure disabled endpoint 0")
	}
}

func TestEndpointRecordAdvanceRewind(t *testing.T) {
	tests := []struct {
		name       string
		banks      uint8
		armed      int
		wantToggle []bool
		wantBank   []uint8
	}{
		{"single bank", 1, 1, []bool{true}, []uint8{0}},
		{"double bank", 2, 2, []bool{true, false}, []uint8{1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r EndpointRecord
			r.Banks[hal.Out] = tt.banks
			for i := 0; i < tt.armed; i++ {
				r.advance(hal.Out)
				if r.Toggle[hal.Out] != tt.wantToggle[i] {
					t.Errorf("after %d advances toggle = %v, want %v", i+1, r.Toggle[hal.Out], tt.wantToggle[i])
				}
				if r.Bank[hal.Out] != tt.wantBank[i] {
					t.Errorf("after %d advances bank = %d, want %d", i+1, r.Bank[hal.Out], tt.wantBank[i])
				}
			}
			if got := r.Outstanding(hal.Out); got != tt.armed {
				t.Errorf("Outstanding() = %d, want %d", got, tt.armed)
			}

			r.rewind(hal.Out, tt.armed)
			if r.Toggle[hal.Out] {
				t.Error("toggle after rewind = DATA1, want DATA0")
			}
			if r.Bank[hal.Out] != 0 || r.Outstanding(hal.Out) != 0 {
				t.Errorf("after rewind bank = %d outstanding = %d, want 0 0", r.Bank[hal.Out], r.Outstanding(hal.Out))
			}
		})
	}
}

func TestTransferTypeName(t *testing.T) {
	tests := []struct {
		typ  uint8
		want string
	}{
		{EndpointTypeControl, "Control"},
		{EndpointTypeIsochronous, "Isochronous"},
		{EndpointTypeBulk, "Bulk"},
		{EndpointTypeInterrupt, "Interrupt"},
	}
	for _, tt := range tests {
		if got := TransferTypeName(tt.typ); got != tt.want {
			t.Errorf("TransferTypeName(%d) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestArmErrors(t *testing.T) {
	r := newRig(t, 64, Config{})
	buf := make([]byte, 128)

	if err := r.ctrl.Arm(0x81, buf, 8); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("Arm() before configuration error = %v, want ErrInvalidEndpoint", err)
	}
	r.enumerate(t)

	if err := r.ctrl.Arm(0x80, buf, 8); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("Arm(ep0) error = %v, want ErrInvalidEndpoint", err)
	}
	if err := r.ctrl.Arm(0x81, buf, 65); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Arm(65 bytes) error = %v, want ErrInvalidParameter", err)
	}
	if err := r.ctrl.Arm(0x81, buf, 64); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if err := r.ctrl.Arm(0x81, buf, 64); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("Arm() on owned descriptor error = %v, want ErrBusy", err)
	}
	r.ctrl.Stall(0x81)
	if err := r.ctrl.Arm(0x81, buf, 8); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("Arm() on halted endpoint error = %v, want ErrStall", err)
	}
}

func TestBulkInToggles(t *testing.T) {
	r := newRig(t, 64, Config{})
	r.enumerate(t)

	for i, size := range []int{64, 10} {
		payload := bytes.Repeat([]byte{byte(i + 1)}, size)
		func() {
			defer r.ctrl.Critical().Exit()
			if err := r.ctrl.Arm(0x81, payload, size); err != nil {
				t.Fatalf("Arm() error = %v", err)
			}
		}()
		got, err := r.host.BulkIn(0x81, size)
		if err != nil {
			t.Fatalf("BulkIn() error = %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("packet %d = % X, want % X", i, got, payload)
		}
	}
	if len(r.driver.transactions) != 2 {
		t.Fatalf("driver saw %d transactions, want 2", len(r.driver.transactions))
	}
	if r.driver.transactions[0].Word.Toggle() || !r.driver.transactions[1].Word.Toggle() {
		t.Error("bulk IN toggles not DATA0, DATA1")
	}
}

func TestUnarmRewindsToggle(t *testing.T) {
	r := newRig(t, 64, Config{})
	r.enumerate(t)
	buf := make([]byte, 64)

	if err := r.ctrl.Arm(0x81, buf, 4); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	r.ctrl.Unarm(0x81)
	if r.sie.Descriptor(1, hal.In, 0).HardwareOwned() {
		t.Error("descriptor still hardware owned after Unarm")
	}
	if err := r.ctrl.Arm(0x81, buf, 4); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if _, err := r.host.BulkIn(0x81, 4); err != nil {
		t.Errorf("BulkIn() error = %v, want DATA0 packet", err)
	}
}

func TestDoubleBufferedOut(t *testing.T) {
	r := newRig(t, 64, Config{DoubleBufferOut: true})
	r.enumerate(t)

	rec, _, ok := r.ctrl.Endpoints().Lookup(0x02)
	if !ok || rec.Banks[hal.Out] != 2 {
		t.Fatalf("endpoint 0x02 banks = %d, want 2", rec.Banks[hal.Out])
	}

	var bufs [2][64]byte
	for i := range bufs {
		if err := r.ctrl.Arm(0x02, bufs[i][:], 64); err != nil {
			t.Fatalf("Arm(bank %d) error = %v", i, err)
		}
	}
	if got := rec.Outstanding(hal.Out); got != 2 {
		t.Errorf("Outstanding() = %d, want 2", got)
	}

	data := append(bytes.Repeat([]byte{1}, 64), bytes.Repeat([]byte{2}, 64)...)
	if n, err := r.host.BulkOut(0x02, data); err != nil || n != len(data) {
		t.Fatalf("BulkOut() = %d, %v", n, err)
	}
	if bufs[0][0] != 1 || bufs[1][0] != 2 {
		t.Errorf("banks = %d/%d, want 1/2", bufs[0][0], bufs[1][0])
	}
	if len(r.driver.transactions) != 2 ||
		r.driver.transactions[0].Bank != 0 || r.driver.transactions[1].Bank != 1 {
		t.Errorf("transactions = %+v, want bank 0 then bank 1", r.driver.transactions)
	}
	if got := rec.Outstanding(hal.Out); got != 0 {
		t.Errorf("Outstanding() after completion = %d, want 0", got)
	}
}

func TestStallAndClearHalt(t *testing.T) {
	r := newRig(t, 64, Config{})
	r.enumerate(t)
	buf := make([]byte, 64)

	// Leave the device toggle at DATA1 so clearing the halt has work to do.
	if err := r.ctrl.Arm(0x81, buf, 1); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if _, err := r.host.BulkIn(0x81, 1); err != nil {
		t.Fatalf("BulkIn() error = %v", err)
	}

	r.ctrl.Stall(0x81)
	if !r.ctrl.Halted(0x81) {
		t.Error("Halted(0x81) = false after Stall")
	}
	if _, err := r.host.BulkIn(0x81, 1); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("BulkIn() on halted endpoint error = %v, want ErrStall", err)
	}

	if err := r.host.ClearHalt(0x81); err != nil {
		t.Fatalf("ClearHalt() error = %v", err)
	}
	if r.ctrl.Halted(0x81) {
		t.Error("Halted(0x81) = true after CLEAR_FEATURE")
	}
	if len(r.driver.cleared) != 1 || r.driver.cleared[0] != 0x81 {
		t.Errorf("driver halt cleared = %v, want [0x81]", r.driver.cleared)
	}

	// Both sides restart at DATA0.
	if err := r.ctrl.Arm(0x81, buf, 1); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if _, err := r.host.BulkIn(0x81, 1); err != nil {
		t.Errorf("BulkIn() after clear error = %v", err)
	}
}

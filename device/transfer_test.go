package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/sieusb/device/hal"
	"github.com/ardnew/sieusb/device/hal/sim"
	"github.com/ardnew/sieusb/pkg"
)

const vendorRequest = 0x42

type callbackRecord struct {
	calls int
	n     int
	err   error
}

func (r *callbackRecord) callback(ret error) ControlCallback {
	return func(n int, err error) error {
		r.calls++
		r.n = n
		r.err = err
		return ret
	}
}

// serveVendorIn answers vendorRequest with data.
func serveVendorIn(r *rig, data []byte, rec *callbackRecord) {
	r.driver.setup = func(c *Controller, s *SetupPacket) bool {
		if !s.IsVendor() || s.Request != vendorRequest {
			return false
		}
		return c.StartControlReturn(data, int(s.Length), rec.callback(nil)) == nil
	}
}

func vendorIn(length uint16) hal.SetupPacket {
	return hal.SetupPacket{RequestType: 0xC0, Request: vendorRequest, Length: length}
}

func vendorOut(length uint16) hal.SetupPacket {
	return hal.SetupPacket{RequestType: 0x40, Request: vendorRequest, Length: length}
}

func transactions(t *testing.T, got []sim.Transaction, want []sim.Transaction) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("transactions = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transaction %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestControlReturnChunking(t *testing.T) {
	r := newRig(t, 8, Config{})
	r.sie.Trace()

	got, err := r.host.GetDescriptor(DescriptorTypeDevice, 0, 64)
	if err != nil {
		t.Fatalf("GetDescriptor() error = %v", err)
	}
	if !bytes.Equal(got, r.ctrl.Descriptors().Device) {
		t.Errorf("device descriptor = % X, want % X", got, r.ctrl.Descriptors().Device)
	}
	transactions(t, r.sie.Transactions(), []sim.Transaction{
		{PID: hal.PIDSetup, Length: 8, Handshake: sim.HandshakeACK},
		{PID: hal.PIDIn, Toggle: true, Length: 8, Handshake: sim.HandshakeACK},
		{PID: hal.PIDIn, Toggle: false, Length: 8, Handshake: sim.HandshakeACK},
		{PID: hal.PIDIn, Toggle: true, Length: 2, Handshake: sim.HandshakeACK},
		{PID: hal.PIDOut, Toggle: true, Length: 0, Handshake: sim.HandshakeACK},
	})
}

func TestControlReturnTruncatedToHostLength(t *testing.T) {
	r := newRig(t, 8, Config{})
	r.sie.Trace()

	got, err := r.host.GetDescriptor(DescriptorTypeDevice, 0, 16)
	if err != nil {
		t.Fatalf("GetDescriptor() error = %v", err)
	}
	if !bytes.Equal(got, r.ctrl.Descriptors().Device[:16]) {
		t.Errorf("data = % X, want first 16 bytes of device descriptor", got)
	}
	// Exactly wLength bytes were returned, so no zero-length packet.
	transactions(t, r.sie.Transactions(), []sim.Transaction{
		{PID: hal.PIDSetup, Length: 8, Handshake: sim.HandshakeACK},
		{PID: hal.PIDIn, Toggle: true, Length: 8, Handshake: sim.HandshakeACK},
		{PID: hal.PIDIn, Toggle: false, Length: 8, Handshake: sim.HandshakeACK},
		{PID: hal.PIDOut, Toggle: true, Length: 0, Handshake: sim.HandshakeACK},
	})
}

func TestControlReturnZeroLengthPacket(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wLength uint16
		packets []int
	}{
		{"short of wLength on boundary", 16, 64, []int{8, 8, 0}},
		{"short of wLength mid packet", 12, 64, []int{8, 4}},
		{"equal to wLength on boundary", 16, 16, []int{8, 8}},
		{"empty data", 0, 64, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, 8, Config{})
			data := bytes.Repeat([]byte{0xA5}, tt.size)
			var rec callbackRecord
			serveVendorIn(r, data, &rec)
			r.sie.Trace()

			got, err := r.host.Control(vendorIn(tt.wLength), nil)
			if err != nil {
				t.Fatalf("Control() error = %v", err)
			}
			if len(got) != tt.size {
				t.Errorf("received %d bytes, want %d", len(got), tt.size)
			}

			var lengths []int
			for _, tr := range r.sie.Transactions() {
				if tr.PID == hal.PIDIn {
					lengths = append(lengths, tr.Length)
				}
			}
			if len(lengths) != len(tt.packets) {
				t.Fatalf("IN packets = %v, want %v", lengths, tt.packets)
			}
			for i := range lengths {
				if lengths[i] != tt.packets[i] {
					t.Errorf("IN packets = %v, want %v", lengths, tt.packets)
					break
				}
			}
			if rec.calls != 1 || rec.n != tt.size || rec.err != nil {
				t.Errorf("callback = %+v, want one call with n=%d err=nil", rec, tt.size)
			}
		})
	}
}

func TestControlNoDataStage(t *testing.T) {
	r := newRig(t, 8, Config{})
	var rec callbackRecord
	serveVendorIn(r, []byte{1, 2, 3}, &rec)
	r.sie.Trace()

	got, err := r.host.Control(vendorIn(0), nil)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("received %d bytes, want 0", len(got))
	}
	transactions(t, r.sie.Transactions(), []sim.Transaction{
		{PID: hal.PIDSetup, Length: 8, Handshake: sim.HandshakeACK},
		{PID: hal.PIDIn, Toggle: true, Length: 0, Handshake: sim.HandshakeACK},
	})
	if rec.calls != 1 || rec.err != nil {
		t.Errorf("callback = %+v, want one call with err=nil", rec)
	}
}

func TestControlReceive(t *testing.T) {
	tests := []struct {
		name string
		veto error
	}{
		{"accepted", nil},
		{"vetoed", pkg.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, 8, Config{})
			var buf [32]byte
			var rec callbackRecord
			r.driver.setup = func(c *Controller, s *SetupPacket) bool {
				return c.StartReceive(buf[:], int(s.Length), rec.callback(tt.veto)) == nil
			}

			payload := []byte("twenty byte payload!")
			_, err := r.host.Control(vendorOut(uint16(len(payload))), payload)
			if tt.veto == nil {
				if err != nil {
					t.Fatalf("Control() error = %v", err)
				}
			} else if !errors.Is(err, pkg.ErrStall) {
				t.Fatalf("Control() error = %v, want ErrStall", err)
			}
			if rec.calls != 1 || rec.n != len(payload) || rec.err != nil {
				t.Errorf("callback = %+v, want one call with n=%d", rec, len(payload))
			}
			if !bytes.Equal(buf[:len(payload)], payload) {
				t.Errorf("buffer = %q, want %q", buf[:len(payload)], payload)
			}
		})
	}
}

func TestControlReceiveShortPacketEndsStage(t *testing.T) {
	r := newRig(t, 8, Config{})
	var buf [32]byte
	var rec callbackRecord
	r.driver.setup = func(c *Controller, s *SetupPacket) bool {
		return c.StartReceive(buf[:], int(s.Length), rec.callback(nil)) == nil
	}

	var raw [SetupPacketSize]byte
	setup := vendorOut(20)
	setup.MarshalTo(raw[:])
	r.sie.Setup(0, raw[:])
	if hs := r.sie.Out(0, 0, true, []byte{1, 2, 3}); hs != sim.HandshakeACK {
		t.Fatalf("Out() = %v, want ACK", hs)
	}
	if rec.calls != 1 || rec.n != 3 {
		t.Errorf("callback = %+v, want one call with n=3", rec)
	}
	if _, toggle, hs := r.sie.In(0, 0); hs != sim.HandshakeACK || !toggle {
		t.Errorf("status In() = %v toggle %v, want ACK DATA1", hs, toggle)
	}
}

func TestControlReceiveOverrun(t *testing.T) {
	r := newRig(t, 8, Config{})
	var buf [32]byte
	var rec callbackRecord
	r.driver.setup = func(c *Controller, s *SetupPacket) bool {
		return c.StartReceive(buf[:], int(s.Length), rec.callback(nil)) == nil
	}

	var raw [SetupPacketSize]byte
	setup := vendorOut(4)
	setup.MarshalTo(raw[:])
	r.sie.Setup(0, raw[:])
	if hs := r.sie.Out(0, 0, true, make([]byte, 8)); hs != sim.HandshakeACK {
		t.Fatalf("Out() = %v, want ACK", hs)
	}
	if rec.calls != 1 || !errors.Is(rec.err, pkg.ErrOverrun) {
		t.Errorf("callback = %+v, want one call with ErrOverrun", rec)
	}
	if _, _, hs := r.sie.In(0, 0); hs != sim.HandshakeStall {
		t.Errorf("status In() = %v, want STALL", hs)
	}
}

func TestControlAbortedBySetup(t *testing.T) {
	r := newRig(t, 8, Config{})
	var rec callbackRecord
	serveVendorIn(r, make([]byte, 32), &rec)

	var raw [SetupPacketSize]byte
	setup := vendorIn(32)
	setup.MarshalTo(raw[:])
	r.sie.Setup(0, raw[:])
	if _, _, hs := r.sie.In(0, 0); hs != sim.HandshakeACK {
		t.Fatalf("first In() = %v, want ACK", hs)
	}

	// A new request replaces the one in progress.
	got, err := r.host.GetDescriptor(DescriptorTypeDevice, 0, 18)
	if err != nil {
		t.Fatalf("GetDescriptor() error = %v", err)
	}
	if len(got) != 18 {
		t.Errorf("device descriptor length = %d, want 18", len(got))
	}
	if rec.calls != 1 || !errors.Is(rec.err, pkg.ErrAborted) || rec.n != 8 {
		t.Errorf("callback = %+v, want one call with n=8 and ErrAborted", rec)
	}
}

func TestControlAbortedByReset(t *testing.T) {
	r := newRig(t, 8, Config{})
	var rec callbackRecord
	serveVendorIn(r, make([]byte, 32), &rec)

	var raw [SetupPacketSize]byte
	setup := vendorIn(32)
	setup.MarshalTo(raw[:])
	r.sie.Setup(0, raw[:])
	r.host.Reset()

	if rec.calls != 1 || !errors.Is(rec.err, pkg.ErrReset) {
		t.Errorf("callback = %+v, want one call with ErrReset", rec)
	}
	if got := r.ctrl.Control().Stage(); got != StageIdle {
		t.Errorf("Stage() = %v, want %v", got, StageIdle)
	}
}

func TestControlUnsupportedRequestStalls(t *testing.T) {
	r := newRig(t, 8, Config{})

	_, err := r.host.Control(hal.SetupPacket{RequestType: 0xC0, Request: 0x77, Length: 4}, nil)
	if !errors.Is(err, pkg.ErrStall) {
		t.Fatalf("Control(unknown) error = %v, want ErrStall", err)
	}
	if !r.sie.Halted(0, hal.In) || !r.sie.Halted(0, hal.Out) {
		t.Error("endpoint 0 not halted in both directions")
	}
	if got := r.ctrl.Control().Stage(); got != StageIdle {
		t.Errorf("Stage() = %v, want %v", got, StageIdle)
	}

	// The next SETUP clears the halt.
	if _, err := r.host.GetDescriptor(DescriptorTypeDevice, 0, 18); err != nil {
		t.Errorf("GetDescriptor() after stall error = %v", err)
	}
}

func TestControlHandlerMustStartStage(t *testing.T) {
	r := newRig(t, 8, Config{})
	r.driver.setup = func(c *Controller, s *SetupPacket) bool { return true }

	if _, err := r.host.Control(vendorIn(4), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("Control() error = %v, want ErrStall", err)
	}
}

func TestControlStartOutsideSetup(t *testing.T) {
	r := newRig(t, 8, Config{})
	if err := r.ctrl.StartControlReturn([]byte{1}, 1, nil); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("StartControlReturn() while idle error = %v, want ErrInvalidState", err)
	}
	if err := r.ctrl.StartReceive(make([]byte, 1), 1, nil); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("StartReceive() while idle error = %v, want ErrInvalidState", err)
	}
	if err := r.ctrl.Acknowledge(nil); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Acknowledge() while idle error = %v, want ErrInvalidState", err)
	}
}

func TestStage_String(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageIdle, "idle"},
		{StageSetup, "setup"},
		{StageDataIn, "data-in"},
		{StageDataOut, "data-out"},
		{StageStatusIn, "status-in"},
		{StageStatusOut, "status-out"},
		{Stage(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.stage.String(); got != tt.want {
			t.Errorf("Stage(%d).String() = %q, want %q", tt.stage, got, tt.want)
		}
	}
}

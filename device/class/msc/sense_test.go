package msc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ardnew/sieusb/pkg"
)

func TestSenseMarshalTo(t *testing.T) {
	buf := make([]byte, RequestSenseSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	s := Sense{Key: SenseIllegalRequest, ASC: ASCInvalidFieldInCDB, ASCQ: 0x01}
	if n := s.MarshalTo(buf); n != RequestSenseSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, RequestSenseSize)
	}
	if buf[0] != 0x70 {
		t.Errorf("response code = 0x%02X, want 0x70", buf[0])
	}
	if buf[2] != SenseIllegalRequest {
		t.Errorf("sense key = 0x%02X, want 0x%02X", buf[2], SenseIllegalRequest)
	}
	if buf[7] != 10 {
		t.Errorf("additional length = %d, want 10", buf[7])
	}
	if buf[12] != ASCInvalidFieldInCDB || buf[13] != 0x01 {
		t.Errorf("ASC/ASCQ = 0x%02X/0x%02X, want 0x24/0x01", buf[12], buf[13])
	}
	if buf[17] != 0 {
		t.Errorf("trailing byte = 0x%02X, want 0", buf[17])
	}
	if n := s.MarshalTo(buf[:17]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestSenseFromError(t *testing.T) {
	tests := []struct {
		err  error
		want Sense
	}{
		{nil, SenseOK},
		{pkg.ErrMediumNotPresent, SenseNoMedium},
		{fmt.Errorf("lun 0: %w", pkg.ErrWriteProtected), SenseProtected},
		{pkg.ErrOutOfRange, SenseOutOfRange},
		{pkg.ErrMediumRead, SenseReadError},
		{pkg.ErrMediumWrite, SenseWriteError},
		{pkg.ErrNotSupported, SenseInvalidCommand},
		{pkg.ErrInvalidParameter, SenseInvalidField},
		{pkg.ErrInvalidRequest, SenseInvalidField},
		{pkg.ErrReset, SenseCommandAborted},
		{errors.New("disk on fire"), SenseInternalFailure},
	}
	for _, tt := range tests {
		if got := SenseFromError(tt.err); got != tt.want {
			t.Errorf("SenseFromError(%v) = %+v, want %+v", tt.err, got, tt.want)
		}
	}
}

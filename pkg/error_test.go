package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelsAreDistinct(t *testing.T) {
	errs := []error{
		ErrStall, ErrAborted, ErrOverrun, ErrProtocol, ErrReset, ErrBusy,
		ErrInvalidEndpoint, ErrInvalidState, ErrInvalidRequest,
		ErrBufferTooSmall, ErrNotSupported, ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch, ErrSetupPacketTooShort,
		ErrAlreadyRunning, ErrNotRunning, ErrInvalidParameter,
		ErrMediumNotPresent, ErrWriteProtected, ErrOutOfRange,
		ErrMediumRead, ErrMediumWrite,
	}
	seen := make(map[string]int)
	for i, err := range errs {
		if j, ok := seen[err.Error()]; ok {
			t.Errorf("errs[%d] and errs[%d] share message %q", i, j, err)
		}
		seen[err.Error()] = i
		for j, other := range errs {
			if i != j && errors.Is(err, other) {
				t.Errorf("errors.Is(errs[%d], errs[%d]) = true", i, j)
			}
		}
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{fmt.Errorf("ep 0x81: %w", ErrStall), ErrStall},
		{fmt.Errorf("lun 0: read 8 blocks at 100: %w", ErrOutOfRange), ErrOutOfRange},
		{fmt.Errorf("ep0: %w", fmt.Errorf("session 3: %w", ErrAborted)), ErrAborted},
		{errors.Join(ErrMediumWrite, errors.New("short write")), ErrMediumWrite},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.want)
		}
	}
}

package msc

import (
	"errors"

	"github.com/ardnew/sieusb/pkg"
)

// Sense is the latched reason for the most recent command failure on a
// logical unit. REQUEST SENSE reports it and clears it.
type Sense struct {
	Key  uint8 // Sense key (bits 0-3)
	ASC  uint8 // Additional sense code
	ASCQ uint8 // Additional sense code qualifier
}

// Common sense values.
var (
	SenseOK              = Sense{}
	SenseInvalidCommand  = Sense{Key: SenseIllegalRequest, ASC: ASCInvalidCommand}
	SenseInvalidField    = Sense{Key: SenseIllegalRequest, ASC: ASCInvalidFieldInCDB}
	SenseOutOfRange      = Sense{Key: SenseIllegalRequest, ASC: ASCLBAOutOfRange}
	SenseNoMedium        = Sense{Key: SenseNotReady, ASC: ASCMediumNotPresent}
	SenseProtected       = Sense{Key: SenseDataProtect, ASC: ASCWriteProtected}
	SenseReadError       = Sense{Key: SenseMediumError, ASC: ASCUnrecoveredReadError}
	SenseWriteError      = Sense{Key: SenseMediumError, ASC: ASCWriteError}
	SenseInternalFailure = Sense{Key: SenseHardwareError, ASC: ASCInternalTargetFailure}
	SenseCommandAborted  = Sense{Key: SenseAbortedCommand}
)

// MarshalTo writes fixed-format current sense data to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s Sense) MarshalTo(buf []byte) int {
	if len(buf) < RequestSenseSize {
		return 0
	}
	clear(buf[:RequestSenseSize])
	buf[0] = 0x70 // current error, fixed format
	buf[2] = s.Key & 0x0F
	buf[7] = RequestSenseSize - 8 // additional sense length
	buf[12] = s.ASC
	buf[13] = s.ASCQ
	return RequestSenseSize
}

// SenseFromError maps a storage driver error onto sense data. A nil error
// maps to [SenseOK].
func SenseFromError(err error) Sense {
	switch {
	case err == nil:
		return SenseOK
	case errors.Is(err, pkg.ErrMediumNotPresent):
		return SenseNoMedium
	case errors.Is(err, pkg.ErrWriteProtected):
		return SenseProtected
	case errors.Is(err, pkg.ErrOutOfRange):
		return SenseOutOfRange
	case errors.Is(err, pkg.ErrMediumRead):
		return SenseReadError
	case errors.Is(err, pkg.ErrMediumWrite):
		return SenseWriteError
	case errors.Is(err, pkg.ErrNotSupported):
		return SenseInvalidCommand
	case errors.Is(err, pkg.ErrInvalidParameter), errors.Is(err, pkg.ErrInvalidRequest):
		return SenseInvalidField
	case errors.Is(err, pkg.ErrReset), errors.Is(err, pkg.ErrAborted):
		return SenseCommandAborted
	default:
		return SenseInternalFailure
	}
}

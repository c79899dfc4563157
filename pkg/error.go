package pkg

import "errors"

// Bus and transaction outcomes. Transfer callbacks receive these, wrapped
// with the endpoint they occurred on.
var (
	ErrStall   = errors.New("endpoint stalled")
	ErrAborted = errors.New("control transfer aborted") // superseded by a new SETUP
	ErrOverrun = errors.New("data overrun")             // host sent more than the buffer holds
	ErrReset   = errors.New("bus reset")
	ErrBusy    = errors.New("descriptor owned by hardware")

	// ErrProtocol reports a peer that broke the transfer's framing: a
	// short status stage, a CSW with the wrong tag, a block operation
	// completed before all its blocks moved.
	ErrProtocol = errors.New("protocol error")
)

// Configuration and request errors.
var (
	ErrInvalidEndpoint  = errors.New("invalid endpoint")
	ErrInvalidState     = errors.New("invalid device state")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotSupported     = errors.New("not supported")
	ErrBufferTooSmall   = errors.New("buffer too small")
	ErrAlreadyRunning   = errors.New("controller already running")
	ErrNotRunning       = errors.New("controller not running")

	ErrDescriptorTooShort     = errors.New("descriptor too short")
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")
	ErrSetupPacketTooShort    = errors.New("setup packet too short")
)

// Storage errors. The SCSI interpreter maps each onto sense data; any
// other error from a block driver reports as HARDWARE ERROR.
var (
	ErrMediumNotPresent = errors.New("medium not present")
	ErrWriteProtected   = errors.New("write protected")
	ErrOutOfRange       = errors.New("logical block address out of range")
	ErrMediumRead       = errors.New("unrecovered read error")
	ErrMediumWrite      = errors.New("write fault")
)

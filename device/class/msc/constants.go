package msc

import "github.com/ardnew/sieusb/device"

// Interface triple for a Bulk-Only SCSI transparent disk.
const (
	ClassMSC         = device.ClassMassStorage
	SubclassSCSI     = 0x06
	ProtocolBulkOnly = 0x50
)

// Class-specific requests, addressed to the interface.
const (
	RequestGetMaxLUN                = 0xFE // IN, wLength 1
	RequestBulkOnlyMassStorageReset = 0xFF // OUT, wLength 0
)

// Command block wrapper. Signature reads "USBC" on the wire.
const (
	CBWSignature   = 0x43425355
	CBWSize        = 31
	CBWFlagDataOut = 0x00
	CBWFlagDataIn  = 0x80 // bmCBWFlags bit 7
	CBWMaxCBLength = 16
)

// Command status wrapper. Signature reads "USBS" on the wire.
const (
	CSWSignature        = 0x53425355
	CSWSize             = 13
	CSWStatusGood       = 0x00
	CSWStatusFailed     = 0x01
	CSWStatusPhaseError = 0x02
)

// Operation codes the interpreter implements. Anything else fails with
// ILLEGAL REQUEST / INVALID COMMAND OPERATION CODE.
const (
	SCSITestUnitReady        = 0x00
	SCSIRequestSense         = 0x03
	SCSIInquiry              = 0x12
	SCSIModeSense6           = 0x1A
	SCSIStartStopUnit        = 0x1B
	SCSIPreventAllowRemoval  = 0x1E
	SCSIReadFormatCapacities = 0x23
	SCSIReadCapacity10       = 0x25
	SCSIRead10               = 0x28
	SCSIWrite10              = 0x2A
	SCSIVerify10             = 0x2F
	SCSISynchronizeCache10   = 0x35
	SCSIModeSense10          = 0x5A
)

// Sense keys (SPC-4 table 27) and the additional sense codes paired with
// them. ASCQ is always zero for the conditions reported here.
const (
	SenseNotReady       = 0x02
	SenseMediumError    = 0x03
	SenseHardwareError  = 0x04
	SenseIllegalRequest = 0x05
	SenseDataProtect    = 0x07
	SenseAbortedCommand = 0x0B

	ASCWriteError            = 0x0C
	ASCUnrecoveredReadError  = 0x11
	ASCInvalidCommand        = 0x20
	ASCLBAOutOfRange         = 0x21
	ASCInvalidFieldInCDB     = 0x24
	ASCWriteProtected        = 0x27
	ASCMediumNotPresent      = 0x3A
	ASCInternalTargetFailure = 0x44
)

// Standard INQUIRY data.
const (
	DeviceTypeDisk           = 0x00 // peripheral device type, direct access
	InquiryStandardSize      = 36
	InquiryVersionSPC4       = 0x06
	InquiryResponseFormatSPC = 0x02
	InquiryRMB               = 0x80 // byte 1, removable medium
	InquiryEVPD              = 0x01 // CDB byte 1
)

// Vital product data pages.
const (
	VPDSupportedPages = 0x00
	VPDUnitSerial     = 0x80
)

// Mode parameter header sizes and the write-protect bit of the device-
// specific parameter.
const (
	ModeSense6HeaderSize  = 4
	ModeSense10HeaderSize = 8
	ModeParamWP           = 0x80
)

// READ FORMAT CAPACITIES descriptor codes.
const (
	FormatCapacityFormatted = 0x02
	FormatCapacityNoMedium  = 0x03
)

// RequestSenseSize is the length of fixed-format sense data.
const RequestSenseSize = 18

// Limits.
const (
	MaxLUNs          = 16 // bCBWLUN is four bits
	DefaultBlockSize = 512
	MaxPacketSize    = 512 // high-speed bulk
	DefaultPacket    = 64  // full-speed bulk
	responseSize     = 128 // largest reply built by the interpreter
	maxSerialLength  = 64  // VPD 0x80 serial bytes
)

package msc

import "encoding/binary"

// InquiryResponse represents standard INQUIRY data.
type InquiryResponse struct {
	DeviceType uint8    // Peripheral device type
	RMB        uint8    // Removable media bit (bit 7)
	Version    uint8    // SCSI version
	VendorID   [8]byte  // Vendor identification (ASCII)
	ProductID  [16]byte // Product identification (ASCII)
	ProductRev [4]byte  // Product revision (ASCII)
}

// MarshalTo writes the INQUIRY response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}

	clear(buf[:InquiryStandardSize])
	buf[0] = r.DeviceType
	buf[1] = r.RMB
	buf[2] = r.Version
	buf[3] = InquiryResponseFormatSPC
	buf[4] = InquiryStandardSize - 5
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])

	return InquiryStandardSize
}

// NewInquiryResponse creates a standard INQUIRY response for a disk.
func NewInquiryResponse(removable bool, vendor, product, revision string) InquiryResponse {
	resp := InquiryResponse{
		DeviceType: DeviceTypeDisk,
		Version:    InquiryVersionSPC4,
	}
	if removable {
		resp.RMB = InquiryRMB
	}
	padString(resp.VendorID[:], vendor)
	padString(resp.ProductID[:], product)
	padString(resp.ProductRev[:], revision)
	return resp
}

// ReadCapacity10Response represents READ CAPACITY (10) response.
type ReadCapacity10Response struct {
	LastLBA     uint32 // Last logical block address
	BlockLength uint32 // Block length in bytes
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity10Response) MarshalTo(buf []byte) int {
	if len(buf) < 8 {
		return 0
	}

	binary.BigEndian.PutUint32(buf[0:4], r.LastLBA)
	binary.BigEndian.PutUint32(buf[4:8], r.BlockLength)

	return 8
}

// ModeParameterHeader is the header MODE SENSE returns. The transport
// reports no block descriptors and no mode pages.
type ModeParameterHeader struct {
	MediumType  uint8
	DeviceParam uint8 // ModeParamWP when write protected
}

// MarshalTo6 writes the MODE SENSE (6) form of the header.
func (h *ModeParameterHeader) MarshalTo6(buf []byte) int {
	if len(buf) < ModeSense6HeaderSize {
		return 0
	}
	buf[0] = ModeSense6HeaderSize - 1 // mode data length excludes itself
	buf[1] = h.MediumType
	buf[2] = h.DeviceParam
	buf[3] = 0 // block descriptor length
	return ModeSense6HeaderSize
}

// MarshalTo10 writes the MODE SENSE (10) form of the header.
func (h *ModeParameterHeader) MarshalTo10(buf []byte) int {
	if len(buf) < ModeSense10HeaderSize {
		return 0
	}
	clear(buf[:ModeSense10HeaderSize])
	binary.BigEndian.PutUint16(buf[0:2], ModeSense10HeaderSize-2)
	buf[2] = h.MediumType
	buf[3] = h.DeviceParam
	return ModeSense10HeaderSize
}

// FormatCapacityList is the READ FORMAT CAPACITIES response: a header and
// the current/maximum capacity descriptor.
type FormatCapacityList struct {
	BlockCount  uint32
	DescType    uint8  // FormatCapacity*
	BlockLength uint32 // 24-bit
}

// FormatCapacityListSize is the encoded length of a [FormatCapacityList].
const FormatCapacityListSize = 12

// MarshalTo writes the list to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (d *FormatCapacityList) MarshalTo(buf []byte) int {
	if len(buf) < FormatCapacityListSize {
		return 0
	}

	buf[0], buf[1], buf[2] = 0, 0, 0
	buf[3] = 8 // capacity list length
	binary.BigEndian.PutUint32(buf[4:8], d.BlockCount)
	buf[8] = d.DescType & 0x03
	// Block length is 24-bit
	buf[9] = uint8(d.BlockLength >> 16)
	buf[10] = uint8(d.BlockLength >> 8)
	buf[11] = uint8(d.BlockLength)

	return FormatCapacityListSize
}

// marshalSupportedPages writes VPD page 0x00.
func marshalSupportedPages(buf []byte) int {
	pages := [...]byte{VPDSupportedPages, VPDUnitSerial}
	if len(buf) < 4+len(pages) {
		return 0
	}
	buf[0] = DeviceTypeDisk
	buf[1] = VPDSupportedPages
	buf[2] = 0
	buf[3] = byte(len(pages))
	copy(buf[4:], pages[:])
	return 4 + len(pages)
}

// marshalUnitSerial writes VPD page 0x80.
func marshalUnitSerial(buf []byte, serial string) int {
	if len(serial) > maxSerialLength {
		serial = serial[:maxSerialLength]
	}
	if len(buf) < 4+len(serial) {
		return 0
	}
	buf[0] = DeviceTypeDisk
	buf[1] = VPDUnitSerial
	buf[2] = 0
	buf[3] = byte(len(serial))
	copy(buf[4:], serial)
	return 4 + len(serial)
}

// rw10 decodes the LBA and transfer length of a 10-byte READ, WRITE or
// VERIFY command block.
func rw10(cb *[16]byte) (lba uint32, count uint16) {
	return binary.BigEndian.Uint32(cb[2:6]), binary.BigEndian.Uint16(cb[7:9])
}

// padString copies s into dst, truncating or padding with spaces.
func padString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}

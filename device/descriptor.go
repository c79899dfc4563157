package device

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/ardnew/sieusb/pkg"
)

// Standard descriptor types (USB 2.0 Table 9-5).
const (
	DescriptorTypeDevice           = 0x01
	DescriptorTypeConfiguration    = 0x02
	DescriptorTypeString           = 0x03
	DescriptorTypeInterface        = 0x04
	DescriptorTypeEndpoint         = 0x05
	DescriptorTypeDeviceQualifier  = 0x06
	DescriptorTypeOtherSpeedConfig = 0x07
)

// Class codes used in device and interface descriptors.
const (
	ClassPerInterface = 0x00
	ClassMassStorage  = 0x08
	ClassVendor       = 0xFF
)

// Descriptor sizes in bytes.
const (
	DeviceDescriptorSize          = 18
	ConfigurationDescriptorSize   = 9
	InterfaceDescriptorSize       = 9
	EndpointDescriptorSize        = 7
	DeviceQualifierDescriptorSize = 10
)

// bmAttributes bits of a configuration descriptor.
const (
	ConfigAttrBusPowered   = 0x80 // reserved, always set
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// LangIDUSEnglish is the only language the string table advertises.
const LangIDUSEnglish = 0x0409

// maxStringUnits bounds a string descriptor to a one-byte bLength.
const maxStringUnits = (255 - 2) / 2

// header checks the bLength/bDescriptorType prefix shared by every
// descriptor. Only the minimum size is enforced; bLength may be larger.
func header(data []byte, size int, typ uint8) error {
	if len(data) < size {
		return fmt.Errorf("type 0x%02X: %d of %d bytes: %w",
			typ, len(data), size, pkg.ErrDescriptorTooShort)
	}
	if data[1] != typ {
		return fmt.Errorf("got type 0x%02X, want 0x%02X: %w",
			data[1], typ, pkg.ErrDescriptorTypeMismatch)
	}
	return nil
}

// DeviceDescriptor is the 18-byte descriptor returned for
// GET_DESCRIPTOR(DEVICE). Length and DescriptorType are filled by the
// parser and ignored by MarshalTo.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16 // bcdUSB
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // bcdDevice
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo writes d into buf and returns the number of bytes written, or 0
// if buf is shorter than [DeviceDescriptorSize].
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	b := append(buf[:0], DeviceDescriptorSize, DescriptorTypeDevice)
	b = binary.LittleEndian.AppendUint16(b, d.USBVersion)
	b = append(b, d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol, d.MaxPacketSize0)
	b = binary.LittleEndian.AppendUint16(b, d.VendorID)
	b = binary.LittleEndian.AppendUint16(b, d.ProductID)
	b = binary.LittleEndian.AppendUint16(b, d.DeviceVersion)
	b = append(b, d.ManufacturerIndex, d.ProductIndex, d.SerialNumberIndex, d.NumConfigurations)
	return len(b)
}

// ParseDeviceDescriptor decodes a device descriptor from data into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := header(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return err
	}
	le := binary.LittleEndian
	*out = DeviceDescriptor{
		Length:            data[0],
		DescriptorType:    data[1],
		USBVersion:        le.Uint16(data[2:]),
		DeviceClass:       data[4],
		DeviceSubClass:    data[5],
		DeviceProtocol:    data[6],
		MaxPacketSize0:    data[7],
		VendorID:          le.Uint16(data[8:]),
		ProductID:         le.Uint16(data[10:]),
		DeviceVersion:     le.Uint16(data[12:]),
		ManufacturerIndex: data[14],
		ProductIndex:      data[15],
		SerialNumberIndex: data[16],
		NumConfigurations: data[17],
	}
	return nil
}

// ConfigurationDescriptor is the 9-byte header of a configuration. The
// interface and endpoint descriptors follow it on the wire, and TotalLength
// covers all of them.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

// MarshalTo writes the header into buf and returns 9, or 0 if buf is short.
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	b := append(buf[:0], ConfigurationDescriptorSize, DescriptorTypeConfiguration)
	b = binary.LittleEndian.AppendUint16(b, c.TotalLength)
	b = append(b, c.NumInterfaces, c.ConfigurationValue, c.ConfigurationIndex, c.Attributes, c.MaxPower)
	return len(b)
}

// ParseConfigurationDescriptor decodes a configuration header from data.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	if err := header(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration); err != nil {
		return err
	}
	*out = ConfigurationDescriptor{
		Length:             data[0],
		DescriptorType:     data[1],
		TotalLength:        binary.LittleEndian.Uint16(data[2:]),
		NumInterfaces:      data[4],
		ConfigurationValue: data[5],
		ConfigurationIndex: data[6],
		Attributes:         data[7],
		MaxPower:           data[8],
	}
	return nil
}

// InterfaceDescriptor describes one alternate setting of an interface.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8 // not counting EP0
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// MarshalTo writes i into buf and returns 9, or 0 if buf is short.
func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < InterfaceDescriptorSize {
		return 0
	}
	b := append(buf[:0], InterfaceDescriptorSize, DescriptorTypeInterface,
		i.InterfaceNumber, i.AlternateSetting, i.NumEndpoints,
		i.InterfaceClass, i.InterfaceSubClass, i.InterfaceProtocol, i.InterfaceIndex)
	return len(b)
}

// ParseInterfaceDescriptor decodes an interface descriptor from data.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	if err := header(data, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
		return err
	}
	*out = InterfaceDescriptor{
		Length:            data[0],
		DescriptorType:    data[1],
		InterfaceNumber:   data[2],
		AlternateSetting:  data[3],
		NumEndpoints:      data[4],
		InterfaceClass:    data[5],
		InterfaceSubClass: data[6],
		InterfaceProtocol: data[7],
		InterfaceIndex:    data[8],
	}
	return nil
}

// EndpointDescriptor describes a non-control endpoint of an interface.
// EndpointAddress carries the direction in bit 7.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8 // transfer type in bits 1:0
	MaxPacketSize   uint16
	Interval        uint8
}

// MarshalTo writes e into buf and returns 7, or 0 if buf is short.
func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < EndpointDescriptorSize {
		return 0
	}
	b := append(buf[:0], EndpointDescriptorSize, DescriptorTypeEndpoint, e.EndpointAddress, e.Attributes)
	b = binary.LittleEndian.AppendUint16(b, e.MaxPacketSize)
	b = append(b, e.Interval)
	return len(b)
}

// ParseEndpointDescriptor decodes an endpoint descriptor from data.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if err := header(data, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
		return err
	}
	*out = EndpointDescriptor{
		Length:          data[0],
		DescriptorType:  data[1],
		EndpointAddress: data[2],
		Attributes:      data[3],
		MaxPacketSize:   binary.LittleEndian.Uint16(data[4:]),
		Interval:        data[6],
	}
	return nil
}

// DeviceQualifierDescriptor is what a high-speed capable device reports
// about its behavior at the other speed.
type DeviceQualifierDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	NumConfigurations uint8
}

// QualifierFor derives the qualifier from the device descriptor. The
// device reports identical capabilities at both speeds.
func QualifierFor(d *DeviceDescriptor) DeviceQualifierDescriptor {
	return DeviceQualifierDescriptor{
		USBVersion:        d.USBVersion,
		DeviceClass:       d.DeviceClass,
		DeviceSubClass:    d.DeviceSubClass,
		DeviceProtocol:    d.DeviceProtocol,
		MaxPacketSize0:    d.MaxPacketSize0,
		NumConfigurations: d.NumConfigurations,
	}
}

// MarshalTo writes q into buf and returns 10, or 0 if buf is short. The
// trailing bReserved byte is zero.
func (q *DeviceQualifierDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceQualifierDescriptorSize {
		return 0
	}
	b := append(buf[:0], DeviceQualifierDescriptorSize, DescriptorTypeDeviceQualifier)
	b = binary.LittleEndian.AppendUint16(b, q.USBVersion)
	b = append(b, q.DeviceClass, q.DeviceSubClass, q.DeviceProtocol,
		q.MaxPacketSize0, q.NumConfigurations, 0)
	return len(b)
}

// StringDescriptorTo encodes s as a UTF-16LE string descriptor into buf and
// returns its length, or 0 if buf cannot hold it. Characters outside the
// BMP become surrogate pairs. Strings longer than a descriptor can carry
// are truncated on a code unit boundary that does not split a pair.
func StringDescriptorTo(buf []byte, s string) int {
	units := utf16.Encode([]rune(s))
	if len(units) > maxStringUnits {
		n := maxStringUnits
		if utf16.IsSurrogate(rune(units[n-1])) && units[n-1] < 0xDC00 {
			n--
		}
		units = units[:n]
	}
	return putUnits(buf, units)
}

// LanguageDescriptorTo writes string descriptor zero, the table of
// supported LANGIDs, into buf and returns its length, or 0 if buf is short.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	return putUnits(buf, langIDs)
}

func putUnits(buf []byte, units []uint16) int {
	size := 2 + 2*len(units)
	if len(buf) < size {
		return 0
	}
	b := append(buf[:0], uint8(size), DescriptorTypeString)
	for _, u := range units {
		b = binary.LittleEndian.AppendUint16(b, u)
	}
	return len(b)
}

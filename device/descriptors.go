package device

import (
	"fmt"

	"github.com/ardnew/sieusb/pkg"
)

// Descriptors is the table of pre-encoded chapter-9 descriptors a
// [Controller] serves. The bytes are returned verbatim to GET_DESCRIPTOR.
type Descriptors struct {
	Device         []byte   // 18-byte device descriptor
	Qualifier      []byte   // device qualifier, nil if not high-speed capable
	Configurations [][]byte // full configuration sets, by descriptor index
	Strings        [][]byte // string descriptors; index 0 is the language table
}

// Lookup returns the descriptor GET_DESCRIPTOR(descType, index) names, or
// nil if there is none.
func (d *Descriptors) Lookup(descType, index uint8) []byte {
	switch descType {
	case DescriptorTypeDevice:
		return d.Device
	case DescriptorTypeDeviceQualifier:
		return d.Qualifier
	case DescriptorTypeConfiguration:
		if int(index) < len(d.Configurations) {
			return d.Configurations[index]
		}
	case DescriptorTypeString:
		if int(index) < len(d.Strings) {
			return d.Strings[index]
		}
	}
	return nil
}

// Configuration returns the configuration set whose bConfigurationValue is
// value.
func (d *Descriptors) Configuration(value uint8) []byte {
	for _, c := range d.Configurations {
		if len(c) >= ConfigurationDescriptorSize && c[5] == value {
			return c
		}
	}
	return nil
}

// Validate checks that the device descriptor and every configuration parse,
// and that the configuration sets are as long as they claim.
func (d *Descriptors) Validate() error {
	var dev DeviceDescriptor
	if err := ParseDeviceDescriptor(d.Device, &dev); err != nil {
		return fmt.Errorf("device descriptor: %w", err)
	}
	if !ValidMaxPacketSize0(dev.MaxPacketSize0) {
		return fmt.Errorf("device descriptor: bMaxPacketSize0 %d: %w", dev.MaxPacketSize0, pkg.ErrInvalidParameter)
	}
	if int(dev.NumConfigurations) != len(d.Configurations) {
		return fmt.Errorf("device descriptor: %d configurations declared, %d present: %w",
			dev.NumConfigurations, len(d.Configurations), pkg.ErrInvalidParameter)
	}
	for idx, c := range d.Configurations {
		var head ConfigurationDescriptor
		if err := ParseConfigurationDescriptor(c, &head); err != nil {
			return fmt.Errorf("configuration %d: %w", idx, err)
		}
		if int(head.TotalLength) != len(c) {
			return fmt.Errorf("configuration %d: wTotalLength %d, have %d bytes: %w",
				idx, head.TotalLength, len(c), pkg.ErrDescriptorTooShort)
		}
		if err := walkEndpoints(c, func(uint8, *EndpointDescriptor) error { return nil }); err != nil {
			return fmt.Errorf("configuration %d: %w", idx, err)
		}
	}
	return nil
}

// MaxPacketSize0 returns bMaxPacketSize0 from the device descriptor.
func (d *Descriptors) MaxPacketSize0() uint8 {
	if len(d.Device) < DeviceDescriptorSize {
		return 0
	}
	return d.Device[7]
}

// DescriptorBuilder provides a fluent API for building a [Descriptors]
// table.
type DescriptorBuilder struct {
	device  DeviceDescriptor
	configs [MaxConfigurations]*Configuration
	ncfg    int
	iface   *Interface
	strings [MaxStrings]string
	nstr    int
	qual    bool
	errors  []error
}

// NewDescriptorBuilder creates a builder for a USB 2.0 device with a 64-byte
// control endpoint.
func NewDescriptorBuilder() *DescriptorBuilder {
	return &DescriptorBuilder{
		device: DeviceDescriptor{
			Length:         DeviceDescriptorSize,
			DescriptorType: DescriptorTypeDevice,
			USBVersion:     0x0200,
			MaxPacketSize0: 64,
		},
		nstr: 1,
	}
}

// WithVendorProduct sets vendor and product IDs.
func (b *DescriptorBuilder) WithVendorProduct(vendorID, productID uint16) *DescriptorBuilder {
	b.device.VendorID = vendorID
	b.device.ProductID = productID
	return b
}

// WithDeviceVersion sets bcdDevice.
func (b *DescriptorBuilder) WithDeviceVersion(bcd uint16) *DescriptorBuilder {
	b.device.DeviceVersion = bcd
	return b
}

// WithMaxPacketSize0 sets bMaxPacketSize0.
func (b *DescriptorBuilder) WithMaxPacketSize0(n uint8) *DescriptorBuilder {
	if !ValidMaxPacketSize0(n) {
		b.errors = append(b.errors, fmt.Errorf("bMaxPacketSize0 %d: %w", n, pkg.ErrInvalidParameter))
		return b
	}
	b.device.MaxPacketSize0 = n
	return b
}

// WithQualifier adds a device qualifier descriptor.
func (b *DescriptorBuilder) WithQualifier() *DescriptorBuilder {
	b.qual = true
	return b
}

// AddString registers a string and returns its descriptor index, or 0 if s
// is empty or the table is full.
func (b *DescriptorBuilder) AddString(s string) uint8 {
	if s == "" {
		return 0
	}
	if b.nstr >= MaxStrings {
		b.errors = append(b.errors, fmt.Errorf("string %q: %w", s, pkg.ErrInvalidParameter))
		return 0
	}
	b.strings[b.nstr] = s
	b.nstr++
	return uint8(b.nstr - 1)
}

// WithStrings sets the manufacturer, product, and serial strings.
func (b *DescriptorBuilder) WithStrings(manufacturer, product, serial string) *DescriptorBuilder {
	b.device.ManufacturerIndex = b.AddString(manufacturer)
	b.device.ProductIndex = b.AddString(product)
	b.device.SerialNumberIndex = b.AddString(serial)
	return b
}

// AddConfiguration starts a new configuration.
func (b *DescriptorBuilder) AddConfiguration(value uint8) *DescriptorBuilder {
	if b.ncfg >= MaxConfigurations {
		b.errors = append(b.errors, pkg.ErrInvalidParameter)
		return b
	}
	b.configs[b.ncfg] = NewConfiguration(value)
	b.ncfg++
	b.iface = nil
	return b
}

// Current returns the configuration being built, or nil.
func (b *DescriptorBuilder) Current() *Configuration {
	if b.ncfg == 0 {
		return nil
	}
	return b.configs[b.ncfg-1]
}

// AddInterface adds a new interface to the current configuration.
func (b *DescriptorBuilder) AddInterface(class, subClass, protocol uint8) *DescriptorBuilder {
	config := b.Current()
	if config == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	iface, err := config.AddInterface(class, subClass, protocol)
	if err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.iface = iface
	return b
}

// AddEndpoint adds an endpoint to the current interface.
func (b *DescriptorBuilder) AddEndpoint(address uint8, transferType uint8, maxPacketSize uint16) *DescriptorBuilder {
	if b.iface == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	if err := b.iface.AddEndpoint(EndpointDescriptor{
		EndpointAddress: address,
		Attributes:      transferType,
		MaxPacketSize:   maxPacketSize,
	}); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// Build encodes the table.
func (b *DescriptorBuilder) Build() (*Descriptors, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if b.ncfg == 0 {
		return nil, fmt.Errorf("no configurations: %w", pkg.ErrInvalidState)
	}

	d := &Descriptors{}
	b.device.NumConfigurations = uint8(b.ncfg)
	d.Device = make([]byte, DeviceDescriptorSize)
	b.device.MarshalTo(d.Device)

	if b.qual {
		q := QualifierFor(&b.device)
		d.Qualifier = make([]byte, DeviceQualifierDescriptorSize)
		q.MarshalTo(d.Qualifier)
	}

	var buf [MaxConfigurationSize]byte
	for idx := 0; idx < b.ncfg; idx++ {
		n := b.configs[idx].MarshalTo(buf[:])
		if n == 0 {
			return nil, fmt.Errorf("configuration %d: %w", b.configs[idx].Value, pkg.ErrBufferTooSmall)
		}
		d.Configurations = append(d.Configurations, append([]byte(nil), buf[:n]...))
	}

	if b.nstr > 1 {
		var sbuf [256]byte
		n := LanguageDescriptorTo(sbuf[:], LangIDUSEnglish)
		d.Strings = append(d.Strings, append([]byte(nil), sbuf[:n]...))
		for idx := 1; idx < b.nstr; idx++ {
			n = StringDescriptorTo(sbuf[:], b.strings[idx])
			d.Strings = append(d.Strings, append([]byte(nil), sbuf[:n]...))
		}
	}
	return d, nil
}

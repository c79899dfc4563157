package device

import (
	"errors"
	"testing"

	"github.com/ardnew/sieusb/pkg"
)

func TestInterfaceAddEndpoint(t *testing.T) {
	config := NewConfiguration(1)
	iface, err := config.AddInterface(ClassMassStorage, 0x06, 0x50)
	if err != nil {
		t.Fatalf("AddInterface() error = %v", err)
	}
	for i := range MaxEndpointsPerInterface {
		if err := iface.AddEndpoint(EndpointDescriptor{EndpointAddress: uint8(i + 1)}); err != nil {
			t.Fatalf("AddEndpoint(%d) error = %v", i, err)
		}
	}
	if err := iface.AddEndpoint(EndpointDescriptor{EndpointAddress: 0x0F}); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("AddEndpoint() beyond limit error = %v, want ErrInvalidParameter", err)
	}
	if got := iface.Descriptor.NumEndpoints; got != MaxEndpointsPerInterface {
		t.Errorf("NumEndpoints = %d, want %d", got, MaxEndpointsPerInterface)
	}
	for _, ep := range iface.Endpoints() {
		if ep.Length != EndpointDescriptorSize || ep.DescriptorType != DescriptorTypeEndpoint {
			t.Errorf("endpoint header = %d/%d, want %d/%d",
				ep.Length, ep.DescriptorType, EndpointDescriptorSize, DescriptorTypeEndpoint)
		}
	}
}

func TestConfigurationAddInterfaceNumbers(t *testing.T) {
	config := NewConfiguration(1)
	for i := range MaxInterfaces {
		iface, err := config.AddInterface(ClassVendor, 0, 0)
		if err != nil {
			t.Fatalf("AddInterface(%d) error = %v", i, err)
		}
		if iface.Descriptor.InterfaceNumber != uint8(i) {
			t.Errorf("InterfaceNumber = %d, want %d", iface.Descriptor.InterfaceNumber, i)
		}
	}
	if _, err := config.AddInterface(ClassVendor, 0, 0); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("AddInterface() beyond limit error = %v, want ErrInvalidParameter", err)
	}
}

func TestConfigurationPowerAttributes(t *testing.T) {
	config := NewConfiguration(1)
	if config.Attributes != ConfigAttrBusPowered || config.MaxPower != 50 {
		t.Errorf("defaults = 0x%02X/%d, want 0x%02X/50", config.Attributes, config.MaxPower, ConfigAttrBusPowered)
	}
	config.SetSelfPowered(true)
	config.SetRemoteWakeup(true)
	want := uint8(ConfigAttrBusPowered | ConfigAttrSelfPowered | ConfigAttrRemoteWakeup)
	if config.Attributes != want {
		t.Errorf("Attributes = 0x%02X, want 0x%02X", config.Attributes, want)
	}
	config.SetSelfPowered(false)
	config.SetRemoteWakeup(false)
	if config.Attributes != ConfigAttrBusPowered {
		t.Errorf("Attributes = 0x%02X, want 0x%02X", config.Attributes, ConfigAttrBusPowered)
	}
}

func TestConfigurationMarshalTo(t *testing.T) {
	config := NewConfiguration(2)
	iface, _ := config.AddInterface(ClassMassStorage, 0x06, 0x50)
	iface.Class = []byte{3, 0x24, 0x00}
	iface.AddEndpoint(EndpointDescriptor{EndpointAddress: 0x81, Attributes: EndpointTypeBulk, MaxPacketSize: 64})
	iface.AddEndpoint(EndpointDescriptor{EndpointAddress: 0x02, Attributes: EndpointTypeBulk, MaxPacketSize: 64})

	var small [20]byte
	if n := config.MarshalTo(small[:]); n != 0 {
		t.Errorf("MarshalTo(small) = %d, want 0", n)
	}

	var buf [64]byte
	n := config.MarshalTo(buf[:])
	if want := 9 + 9 + 3 + 7 + 7; n != want {
		t.Fatalf("MarshalTo() = %d, want %d", n, want)
	}
	var head ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(buf[:n], &head); err != nil {
		t.Fatalf("ParseConfigurationDescriptor() error = %v", err)
	}
	if int(head.TotalLength) != n || head.NumInterfaces != 1 || head.ConfigurationValue != 2 {
		t.Errorf("header = %+v", head)
	}

	var addrs []uint8
	err := walkEndpoints(buf[:n], func(iface uint8, ep *EndpointDescriptor) error {
		if iface != 0 {
			t.Errorf("endpoint 0x%02X in interface %d, want 0", ep.EndpointAddress, iface)
		}
		addrs = append(addrs, ep.EndpointAddress)
		return nil
	})
	if err != nil {
		t.Fatalf("walkEndpoints() error = %v", err)
	}
	if len(addrs) != 2 || addrs[0] != 0x81 || addrs[1] != 0x02 {
		t.Errorf("endpoints = % X, want 81 02", addrs)
	}
}

func TestWalkEndpointsTruncated(t *testing.T) {
	desc := testDescriptors(t, 64)
	config := append([]byte(nil), desc.Configurations[0]...)
	config[len(config)-7] = 12 // endpoint length runs past wTotalLength
	err := walkEndpoints(config, func(uint8, *EndpointDescriptor) error { return nil })
	if !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("walkEndpoints() error = %v, want ErrDescriptorTooShort", err)
	}
}

func TestDescriptorBuilder(t *testing.T) {
	desc, err := NewDescriptorBuilder().
		WithVendorProduct(0xCAFE, 0x4000).
		WithDeviceVersion(0x0102).
		WithMaxPacketSize0(16).
		WithQualifier().
		WithStrings("Acme", "Disk", "").
		AddConfiguration(1).
		AddInterface(ClassMassStorage, 0x06, 0x50).
		AddEndpoint(0x81, EndpointTypeBulk, 64).
		AddEndpoint(0x02, EndpointTypeBulk, 64).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := desc.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	var dev DeviceDescriptor
	if err := ParseDeviceDescriptor(desc.Device, &dev); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	if dev.VendorID != 0xCAFE || dev.ProductID != 0x4000 || dev.DeviceVersion != 0x0102 {
		t.Errorf("ids = %04X:%04X rev %04X", dev.VendorID, dev.ProductID, dev.DeviceVersion)
	}
	if dev.MaxPacketSize0 != 16 || desc.MaxPacketSize0() != 16 {
		t.Errorf("MaxPacketSize0 = %d, want 16", dev.MaxPacketSize0)
	}
	if dev.ManufacturerIndex != 1 || dev.ProductIndex != 2 || dev.SerialNumberIndex != 0 {
		t.Errorf("string indices = %d/%d/%d, want 1/2/0",
			dev.ManufacturerIndex, dev.ProductIndex, dev.SerialNumberIndex)
	}
	if len(desc.Strings) != 3 {
		t.Errorf("len(Strings) = %d, want 3", len(desc.Strings))
	}
	if len(desc.Qualifier) != DeviceQualifierDescriptorSize {
		t.Errorf("len(Qualifier) = %d, want %d", len(desc.Qualifier), DeviceQualifierDescriptorSize)
	}
	if desc.Lookup(DescriptorTypeDeviceQualifier, 0) == nil {
		t.Error("Lookup(qualifier) = nil")
	}
	if desc.Configuration(1) == nil || desc.Configuration(2) != nil {
		t.Error("Configuration() lookup by value mismatch")
	}
}

func TestDescriptorBuilderErrors(t *testing.T) {
	tests := []struct {
		name    string
		build   func() (*Descriptors, error)
		wantErr error
	}{
		{
			name:    "no configuration",
			build:   func() (*Descriptors, error) { return NewDescriptorBuilder().Build() },
			wantErr: pkg.ErrInvalidState,
		},
		{
			name: "interface without configuration",
			build: func() (*Descriptors, error) {
				return NewDescriptorBuilder().AddInterface(ClassVendor, 0, 0).Build()
			},
			wantErr: pkg.ErrInvalidState,
		},
		{
			name: "endpoint without interface",
			build: func() (*Descriptors, error) {
				return NewDescriptorBuilder().AddConfiguration(1).AddEndpoint(0x81, EndpointTypeBulk, 64).Build()
			},
			wantErr: pkg.ErrInvalidState,
		},
		{
			name: "bad ep0 size",
			build: func() (*Descriptors, error) {
				return NewDescriptorBuilder().WithMaxPacketSize0(12).AddConfiguration(1).Build()
			},
			wantErr: pkg.ErrInvalidParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.build(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Build() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDescriptorsValidate(t *testing.T) {
	good := testDescriptors(t, 64)

	short := *good
	short.Configurations = [][]byte{good.Configurations[0][:20]}
	if err := short.Validate(); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("Validate(truncated configuration) error = %v, want ErrDescriptorTooShort", err)
	}

	missing := *good
	missing.Configurations = nil
	if err := missing.Validate(); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Validate(no configurations) error = %v, want ErrInvalidParameter", err)
	}

	badMPS := *good
	badMPS.Device = append([]byte(nil), good.Device...)
	badMPS.Device[7] = 7
	if err := badMPS.Validate(); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Validate(bMaxPacketSize0 7) error = %v, want ErrInvalidParameter", err)
	}
}

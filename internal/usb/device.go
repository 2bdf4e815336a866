// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package usb

import (
	"github.com/coreklabs/corekernel/internal/kerrno"
)

// ClassDriver is the interface§4.J's per-interface dispatch hands a newly
// configured device's interface off to.
type ClassDriver interface {
	Attach(dev *Device, interfaceNum int) kerrno.Errno
}

// DeviceDescriptor is the (trimmed) standard USB device descriptor.
type DeviceDescriptor struct {
	BMaxPacketSize0  uint8
	IDVendor         uint16
	IDProduct        uint16
	NumConfigurations uint8
}

// ConfigDescriptor names the interfaces a configuration exposes, each
// tagged with the class the §4.J dispatch table routes it to.
type ConfigDescriptor struct {
	Value      uint8
	Interfaces []InterfaceDescriptor
}

type InterfaceClass int

const (
	ClassUnknown InterfaceClass = iota
	ClassHID
	ClassHub
	ClassMassStorage
)

type InterfaceDescriptor struct {
	Number int
	Class  InterfaceClass
}

// AddressDeviceFunc issues an Address Device command with BSR set per
// bsr, per §4.J step 1/2 (BSR=1 enters Default state without fully
// addressing; a second call with BSR=0 completes addressing once the
// real bMaxPacketSize0 is known).
type AddressDeviceFunc func(slot int, bsr bool, maxPacketSize0 uint8) kerrno.Errno

// ReadDescriptorFunc reads length bytes of a descriptor via the control
// endpoint's GET_DESCRIPTOR transfer. length < 0 requests a
// configuration descriptor plus all of its interface/endpoint
// sub-descriptors (wTotalLength from the 9-byte header).
type ReadDescriptorFunc func(slot int, length int) ([]byte, kerrno.Errno)

// SetConfigurationFunc issues SET_CONFIGURATION.
type SetConfigurationFunc func(slot int, value uint8) kerrno.Errno

// Device is one enumerated USB device, tracked through the §4.J
// lifecycle state machine.
type Device struct {
	Slot  *Slot
	Tier  int
	State DeviceState

	Descriptor DeviceDescriptor
	Configs    []ConfigDescriptor
	Active     *ConfigDescriptor

	addressDevice     AddressDeviceFunc
	readDescriptor    ReadDescriptorFunc
	setConfiguration  SetConfigurationFunc
	parseConfig       func([]byte) (ConfigDescriptor, kerrno.Errno)
}

type DeviceState int

const (
	DeviceDefault DeviceState = iota
	DeviceAddressed
	DeviceConfigured
)

// optimisticMaxPacketSize0 is the value §4.J step 2 assumes before the
// first 8 bytes of the device descriptor are actually read (64, valid
// for full/high-speed; low-speed devices report 8 and trigger a re-issue).
const optimisticMaxPacketSize0 = 64

// NewDevice constructs the lifecycle driver for a freshly enabled slot.
// parseConfig decodes a raw configuration-descriptor blob; it is
// caller-supplied so this package never commits to a concrete wire
// layout for descriptors, the same modeling choice internal/acpi makes
// for pre-decoded Op streams instead of raw AML bytes.
func NewDevice(slot *Slot, tier int, addressDevice AddressDeviceFunc, readDescriptor ReadDescriptorFunc, setConfiguration SetConfigurationFunc, parseConfig func([]byte) (ConfigDescriptor, kerrno.Errno)) *Device {
	return &Device{
		Slot:             slot,
		Tier:             tier,
		State:            DeviceDefault,
		addressDevice:    addressDevice,
		readDescriptor:   readDescriptor,
		setConfiguration: setConfiguration,
		parseConfig:      parseConfig,
	}
}

// Enumerate drives the full §4.J device lifecycle: Address Device with
// BSR=1, learn bMaxPacketSize0 from the first 8 bytes and re-address if
// it differs from the optimistic guess, read the full descriptors, pick
// configuration 0, issue Set Configuration, and dispatch each interface
// to classFor.
func (d *Device) Enumerate(classFor func(InterfaceClass) ClassDriver) kerrno.Errno {
	if errno := d.addressDevice(d.Slot.ID, true, optimisticMaxPacketSize0); errno != 0 {
		return errno
	}
	d.Slot.State = SlotDefault

	first8, errno := d.readDescriptor(d.Slot.ID, 8)
	if errno != 0 {
		return errno
	}
	if len(first8) < 8 {
		return kerrno.EIO
	}
	actualMaxPacket := first8[7]
	if actualMaxPacket != optimisticMaxPacketSize0 {
		if errno := d.addressDevice(d.Slot.ID, true, actualMaxPacket); errno != 0 {
			return errno
		}
	}

	if errno := d.addressDevice(d.Slot.ID, false, actualMaxPacket); errno != 0 {
		return errno
	}
	d.Slot.State = SlotAddressed
	d.State = DeviceAddressed

	full, errno := d.readDescriptor(d.Slot.ID, 18)
	if errno != 0 {
		return errno
	}
	if len(full) < 18 {
		return kerrno.EIO
	}
	d.Descriptor = DeviceDescriptor{
		BMaxPacketSize0:   actualMaxPacket,
		IDVendor:          uint16(full[8]) | uint16(full[9])<<8,
		IDProduct:         uint16(full[10]) | uint16(full[11])<<8,
		NumConfigurations: full[17],
	}

	var chosen *ConfigDescriptor
	for i := uint8(0); i < d.Descriptor.NumConfigurations; i++ {
		raw, errno := d.readDescriptor(d.Slot.ID, -1)
		if errno != 0 {
			return errno
		}
		cfg, errno := d.parseConfig(raw)
		if errno != 0 {
			return errno
		}
		d.Configs = append(d.Configs, cfg)
		if chosen == nil {
			chosen = &d.Configs[len(d.Configs)-1]
		}
	}
	if chosen == nil {
		return kerrno.ENODEV
	}

	if errno := d.setConfiguration(d.Slot.ID, chosen.Value); errno != 0 {
		return errno
	}
	d.Active = chosen
	d.Slot.State = SlotConfigured
	d.State = DeviceConfigured

	for _, iface := range chosen.Interfaces {
		driver := classFor(iface.Class)
		if driver == nil {
			continue
		}
		if errno := driver.Attach(d, iface.Number); errno != 0 {
			return errno
		}
	}
	return 0
}

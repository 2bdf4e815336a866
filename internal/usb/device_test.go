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

package usb_test

import (
	"testing"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/usb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deviceDescriptorBytes(maxPacket uint8, numConfigs uint8) []byte {
	b := make([]byte, 18)
	b[7] = maxPacket
	b[8], b[9] = 0x34, 0x12   // idVendor = 0x1234
	b[10], b[11] = 0x78, 0x56 // idProduct = 0x5678
	b[17] = numConfigs
	return b
}

func TestDevice_EnumerateHappyPath(t *testing.T) {
	var addressCalls []bool
	addr := func(slot int, bsr bool, maxPacket uint8) kerrno.Errno {
		addressCalls = append(addressCalls, bsr)
		return 0
	}
	readCount := 0
	read := func(slot int, length int) ([]byte, kerrno.Errno) {
		readCount++
		if length == 8 {
			return deviceDescriptorBytes(64, 1)[:8], 0
		}
		return deviceDescriptorBytes(64, 1), 0
	}
	setConfig := func(slot int, value uint8) kerrno.Errno { return 0 }
	parseConfig := func(raw []byte) (usb.ConfigDescriptor, kerrno.Errno) {
		return usb.ConfigDescriptor{Value: 1, Interfaces: []usb.InterfaceDescriptor{
			{Number: 0, Class: usb.ClassHID},
		}}, 0
	}

	slot := &usb.Slot{ID: 1, State: usb.SlotEnabled}
	dev := usb.NewDevice(slot, 0, addr, read, setConfig, parseConfig)

	attached := false
	driver := usb.NewHIDDriver(usb.HIDKeyboard, func(kind usb.HIDKind, report []byte) {})
	errno := dev.Enumerate(func(class usb.InterfaceClass) usb.ClassDriver {
		if class == usb.ClassHID {
			attached = true
			return driver
		}
		return nil
	})

	require.Equal(t, kerrno.Errno(0), errno)
	assert.True(t, attached)
	assert.Equal(t, usb.DeviceConfigured, dev.State)
	assert.Equal(t, usb.SlotConfigured, slot.State)
	assert.Equal(t, uint16(0x1234), dev.Descriptor.IDVendor)
	assert.Equal(t, uint16(0x5678), dev.Descriptor.IDProduct)
}

func TestDevice_EnumerateReAddressesOnMaxPacketMismatch(t *testing.T) {
	var bsrValues []uint8
	addr := func(slot int, bsr bool, maxPacket uint8) kerrno.Errno {
		if bsr {
			bsrValues = append(bsrValues, maxPacket)
		}
		return 0
	}
	read := func(slot int, length int) ([]byte, kerrno.Errno) {
		if length == 8 {
			return deviceDescriptorBytes(8, 1)[:8], 0 // low-speed: 8, not the optimistic 64
		}
		return deviceDescriptorBytes(8, 1), 0
	}
	setConfig := func(slot int, value uint8) kerrno.Errno { return 0 }
	parseConfig := func(raw []byte) (usb.ConfigDescriptor, kerrno.Errno) {
		return usb.ConfigDescriptor{Value: 1}, 0
	}

	slot := &usb.Slot{ID: 2, State: usb.SlotEnabled}
	dev := usb.NewDevice(slot, 0, addr, read, setConfig, parseConfig)

	errno := dev.Enumerate(func(usb.InterfaceClass) usb.ClassDriver { return nil })
	require.Equal(t, kerrno.Errno(0), errno)
	// First BSR=1 call used the optimistic guess; the mismatch triggers a
	// second BSR=1 call with the real value.
	require.Len(t, bsrValues, 2)
	assert.Equal(t, uint8(64), bsrValues[0])
	assert.Equal(t, uint8(8), bsrValues[1])
}

func TestDevice_EnumeratePropagatesAddressFailure(t *testing.T) {
	addr := func(slot int, bsr bool, maxPacket uint8) kerrno.Errno { return kerrno.ETIMEDOUT }
	read := func(slot int, length int) ([]byte, kerrno.Errno) { return nil, 0 }
	setConfig := func(slot int, value uint8) kerrno.Errno { return 0 }
	parseConfig := func(raw []byte) (usb.ConfigDescriptor, kerrno.Errno) { return usb.ConfigDescriptor{}, 0 }

	slot := &usb.Slot{ID: 3, State: usb.SlotEnabled}
	dev := usb.NewDevice(slot, 0, addr, read, setConfig, parseConfig)

	errno := dev.Enumerate(func(usb.InterfaceClass) usb.ClassDriver { return nil })
	assert.Equal(t, kerrno.ETIMEDOUT, errno)
}

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

type fakeMMIO struct {
	owned      bool
	reset      bool
	dcbaa      uint64
	cmdRing    uint64
	eventRings map[int]uint64
	doorbells  []int
}

func newFakeMMIO() *fakeMMIO {
	return &fakeMMIO{eventRings: make(map[int]uint64)}
}

func (f *fakeMMIO) TakeOwnership() kerrno.Errno  { f.owned = true; return 0 }
func (f *fakeMMIO) ResetController() kerrno.Errno { f.reset = true; return 0 }
func (f *fakeMMIO) ProgramDCBAA(addr uint64) kerrno.Errno {
	f.dcbaa = addr
	return 0
}
func (f *fakeMMIO) ProgramCommandRing(addr uint64, cycle bool) kerrno.Errno {
	f.cmdRing = addr
	return 0
}
func (f *fakeMMIO) ProgramEventRing(interrupter int, addr uint64, size int) kerrno.Errno {
	f.eventRings[interrupter] = addr
	return 0
}
func (f *fakeMMIO) RingDoorbell(slot int, target int) {
	f.doorbells = append(f.doorbells, slot)
}

func TestNewController_RunsInitSequence(t *testing.T) {
	mmio := newFakeMMIO()
	c, errno := usb.NewController(mmio, 0x1000, 0x2000, 0x3000, 64)
	require.Equal(t, kerrno.Errno(0), errno)
	require.NotNil(t, c)

	assert.True(t, mmio.owned)
	assert.True(t, mmio.reset)
	assert.Equal(t, uint64(0x1000), mmio.dcbaa)
	assert.Equal(t, uint64(0x2000), mmio.cmdRing)
	assert.Equal(t, uint64(0x3000), mmio.eventRings[0])
}

type failingOwnershipMMIO struct{ fakeMMIO }

func (f *failingOwnershipMMIO) TakeOwnership() kerrno.Errno { return kerrno.EBUSY }

func TestNewController_OwnershipFailureAborts(t *testing.T) {
	mmio := &failingOwnershipMMIO{fakeMMIO: *newFakeMMIO()}
	_, errno := usb.NewController(mmio, 0, 0, 0, 0)
	assert.Equal(t, kerrno.EBUSY, errno)
}

func TestController_EnableAndDisableSlot(t *testing.T) {
	mmio := newFakeMMIO()
	c, errno := usb.NewController(mmio, 0x1000, 0x2000, 0x3000, 64)
	require.Equal(t, kerrno.Errno(0), errno)

	slot, errno := c.EnableSlot(1)
	require.Equal(t, kerrno.Errno(0), errno)
	assert.Equal(t, usb.SlotEnabled, slot.State)

	_, errno = c.EnableSlot(1)
	assert.Equal(t, kerrno.EBUSY, errno)

	require.Equal(t, kerrno.Errno(0), c.DisableSlot(1))
	_, ok := c.Slot(1)
	assert.False(t, ok)
}

func TestController_EnableSlotOutOfRange(t *testing.T) {
	mmio := newFakeMMIO()
	c, _ := usb.NewController(mmio, 0, 0, 0, 0)
	_, errno := c.EnableSlot(-1)
	assert.Equal(t, kerrno.EINVAL, errno)
}

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

// Package usb implements the xHCI controller model, device lifecycle
// state machine, and class-driver dispatch (§4.J).
package usb

import (
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
)

const maxSlots = 256

// MMIO abstracts the register accesses a real xHCI driver would perform
// directly against BAR-mapped memory. In the hosted model these are
// caller-supplied callbacks standing in for MMIO reads/writes.
type MMIO interface {
	// TakeOwnership performs the BIOS-to-OS hand-off via the extended
	// capability's HC OS Owned Semaphore bit.
	TakeOwnership() kerrno.Errno
	// ResetController pulses USBCMD.HCRST and waits for USBSTS.CNR to clear.
	ResetController() kerrno.Errno
	// ProgramDCBAA writes the Device Context Base Address Array pointer.
	ProgramDCBAA(addr uint64) kerrno.Errno
	// ProgramCommandRing writes the command ring control register.
	ProgramCommandRing(addr uint64, cycle bool) kerrno.Errno
	// ProgramEventRing configures interrupter 0's event ring segment table.
	ProgramEventRing(interrupter int, addr uint64, size int) kerrno.Errno
	// RingDoorbell signals the controller that slot has new work on its
	// endpoint target (0 = command ring doorbell on slot 0).
	RingDoorbell(slot int, target int)
}

// Controller is one xHCI host controller instance.
type Controller struct {
	mmio MMIO

	mu    sync.Mutex
	slots [maxSlots]*Slot

	cmdRing   *Ring
	eventRing *Ring
}

// Slot is xHCI's per-device slot state: the device context plus which
// stage of the lifecycle it currently occupies.
type Slot struct {
	ID    int
	State SlotState
	Dev   *Device
}

type SlotState int

const (
	SlotDisabled SlotState = iota
	SlotEnabled
	SlotDefault
	SlotAddressed
	SlotConfigured
)

// NewController performs the controller-init sequence from §4.J: BIOS
// hand-off, reset, DCBAA and command-ring programming, event ring setup
// on interrupter 0.
func NewController(mmio MMIO, dcbaaAddr, cmdRingAddr, eventRingAddr uint64, eventRingSize int) (*Controller, kerrno.Errno) {
	if errno := mmio.TakeOwnership(); errno != 0 {
		return nil, errno
	}
	if errno := mmio.ResetController(); errno != 0 {
		return nil, errno
	}
	if errno := mmio.ProgramDCBAA(dcbaaAddr); errno != 0 {
		return nil, errno
	}

	cmdRing := NewRing(cmdRingAddr, defaultRingSize)
	if errno := mmio.ProgramCommandRing(cmdRingAddr, cmdRing.cycle); errno != 0 {
		return nil, errno
	}

	eventRing := NewRing(eventRingAddr, eventRingSize)
	if errno := mmio.ProgramEventRing(0, eventRingAddr, eventRingSize); errno != 0 {
		return nil, errno
	}

	return &Controller{mmio: mmio, cmdRing: cmdRing, eventRing: eventRing}, 0
}

// EnableSlot allocates the first free slot (the real controller's Enable
// Slot command returns one; here the caller is expected to have already
// issued it and supplies the slot id the controller assigned).
func (c *Controller) EnableSlot(id int) (*Slot, kerrno.Errno) {
	if id < 0 || id >= maxSlots {
		return nil, kerrno.EINVAL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[id] != nil {
		return nil, kerrno.EBUSY
	}
	s := &Slot{ID: id, State: SlotEnabled}
	c.slots[id] = s
	return s, 0
}

// DisableSlot tears a slot down, releasing its device.
func (c *Controller) DisableSlot(id int) kerrno.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= maxSlots || c.slots[id] == nil {
		return kerrno.EINVAL
	}
	c.slots[id] = nil
	return 0
}

// RingCommandDoorbell notifies the controller of new command TRBs.
func (c *Controller) RingCommandDoorbell() {
	c.mmio.RingDoorbell(0, 0)
}

// Slot returns the slot state for id, if allocated.
func (c *Controller) Slot(id int) (*Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slots[id]
	return s, s != nil
}

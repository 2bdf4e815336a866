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

// Package trap simulates the IDT and syscall dispatch (§4.L): one entry
// per interrupt vector, traps routed to per-vector kernel handlers, IRQs
// walked through a per-vector Interruptable list, and syscalls resolved
// through sys_dispatch against a fixed syscall-number table.
package trap

import (
	"github.com/coreklabs/corekernel/internal/klog"
	"github.com/coreklabs/corekernel/internal/paging"
)

// Vector is an IDT entry index. Vectors 0-31 are CPU exceptions, 32-47
// are the legacy PIC/APIC IRQ range, 0x80 is the syscall gate in this
// simulation (the original targets differ by architecture; this core
// models one fixed gate rather than per-arch entry stubs).
type Vector int

const SyscallVector Vector = 0x80

// PageFaultVector is the CPU exception vector for a page fault (#PF),
// numbered the same as the real x86_64 IDT entry.
const PageFaultVector Vector = 14

// TrapFrame is what the IDT entry stub saves on the thread's interrupt
// stack before handing control to a Go handler: the minimal register set
// a trap or syscall handler needs, not a full architectural frame.
type TrapFrame struct {
	Vector    Vector
	ErrorCode uint64

	RIP, CS, RFlags, RSP, SS uint64

	// RAX carries the syscall number on entry and the return value on
	// exit when Vector == SyscallVector; for any other vector it is just
	// the saved general-purpose register.
	RAX, RDI, RSI, RDX, R10, R8 uint64

	// FaultAddr is CR2's contents: the faulting virtual address, valid
	// only when Vector == PageFaultVector. ErrorCode bit 1 distinguishes
	// a write fault from a read fault, matching the real #PF error code
	// layout.
	FaultAddr uint64
}

// pageFaultWriteBit is bit 1 of a #PF error code: set when the access
// that faulted was a write.
const pageFaultWriteBit = 1 << 1

// WasWrite reports whether a page-fault TrapFrame's ErrorCode marks the
// faulting access as a write.
func (f *TrapFrame) WasWrite() bool {
	return f.ErrorCode&pageFaultWriteBit != 0
}

// TrapHandler handles one CPU exception vector (divide error, page
// fault, general protection, ...); pt is the faulting thread's address
// space, passed alongside the frame since a page fault handler can do
// nothing without it.
type TrapHandler func(frame *TrapFrame, pt *paging.PageTable)

// Interruptable is one device's IRQ completion hook; HandleIRQ runs in
// interrupt context and must never block (§5 "ISRs must never block;
// they may only enqueue work and call ThreadBlocker.unblock").
type Interruptable interface {
	HandleIRQ(vector Vector)
}

// IDT is the simulated interrupt descriptor table: one trap handler per
// exception vector, and a list of Interruptable devices per IRQ vector
// (several devices can share a vector under IRQ sharing).
type IDT struct {
	traps map[Vector]TrapHandler
	irqs  map[Vector][]Interruptable
	sys   *Dispatcher
}

// NewIDT constructs an empty table driving dispatch through disp for the
// syscall vector.
func NewIDT(disp *Dispatcher) *IDT {
	return &IDT{
		traps: make(map[Vector]TrapHandler),
		irqs:  make(map[Vector][]Interruptable),
		sys:   disp,
	}
}

// InstallTrap registers the handler for a CPU exception vector,
// overwriting whatever was there before.
func (d *IDT) InstallTrap(v Vector, h TrapHandler) {
	d.traps[v] = h
}

// AddInterruptable registers dev to receive IRQ notifications on v,
// alongside any device already registered there.
func (d *IDT) AddInterruptable(v Vector, dev Interruptable) {
	d.irqs[v] = append(d.irqs[v], dev)
}

// RemoveInterruptable drops dev from v's list, called when a device is
// torn down.
func (d *IDT) RemoveInterruptable(v Vector, dev Interruptable) {
	list := d.irqs[v]
	for i, x := range list {
		if x == dev {
			d.irqs[v] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Deliver routes one interrupt: a syscall frame to the dispatcher, a
// registered trap vector to its handler, an IRQ vector to every
// registered Interruptable in turn, or an unhandled vector to klog as a
// diagnostic (a real kernel would triple-fault; this simulation logs and
// returns instead of crashing the host process).
func (d *IDT) Deliver(frame *TrapFrame, pt *paging.PageTable) {
	if frame.Vector == SyscallVector {
		frame.RAX = uint64(d.sys.Dispatch(SyscallNo(frame.RAX), pt, frame.RDI, frame.RSI, frame.RDX, frame.R10, frame.R8))
		return
	}
	if h, ok := d.traps[frame.Vector]; ok {
		h(frame, pt)
		return
	}
	if list, ok := d.irqs[frame.Vector]; ok {
		for _, dev := range list {
			dev.HandleIRQ(frame.Vector)
		}
		return
	}
	klog.Warnf("unhandled trap vector %#x (error code %#x)", int(frame.Vector), frame.ErrorCode)
}

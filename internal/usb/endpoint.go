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
	"context"
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/sched"
	"github.com/coreklabs/corekernel/ratelimit"
)

const defaultRingSize = 256

// TRB is one Transfer Request Block. Real TRBs are 16 bytes packed with
// control bits; this keeps the fields the interpreter actually needs
// (cycle bit, completion status, transfer length) without modeling the
// bit-level encoding, matching how the AML opcode stream models
// instructions rather than raw byte encodings (internal/acpi).
type TRB struct {
	Data    uint64
	Length  uint32
	Cycle   bool
	Command bool
}

// Ring is a circular TRB buffer with a single producer cycle bit, shared
// by the command ring and every endpoint's transfer ring (§4.J).
type Ring struct {
	addr  uint64
	trbs  []TRB
	cycle bool
	enq   int
}

func NewRing(addr uint64, size int) *Ring {
	if size <= 0 {
		size = defaultRingSize
	}
	return &Ring{addr: addr, trbs: make([]TRB, size), cycle: true}
}

// Enqueue writes trb at the producer cycle index, flipping the ring's
// cycle bit and wrapping to index 0 when the last (Link TRB) slot is
// reached, per xHCI's cycle-bit wraparound protocol.
func (r *Ring) Enqueue(trb TRB) {
	trb.Cycle = r.cycle
	r.trbs[r.enq] = trb
	r.enq++
	if r.enq == len(r.trbs)-1 {
		r.enq = 0
		r.cycle = !r.cycle
	}
}

func (r *Ring) Len() int { return len(r.trbs) }

// Endpoint is a non-control endpoint: its own transfer ring, cycle bit,
// and mutex (§4.J "Endpoints"). Submission enqueues TRBs, rings the
// doorbell, and blocks the calling thread until a transfer-complete
// event wakes it.
type Endpoint struct {
	mu       sync.Mutex
	ring     *Ring
	blocker  *sched.ThreadBlocker
	doorbell func()
	throttle ratelimit.Throttle

	lastCompletion kerrno.Errno
	lastLength     uint32
}

func NewEndpoint(ring *Ring, doorbell func()) *Endpoint {
	return &Endpoint{ring: ring, blocker: sched.NewThreadBlocker(), doorbell: doorbell}
}

// SetThrottle paces bulk transfer submission against t, so one endpoint
// can't monopolize the controller's bandwidth budget. A nil throttle (the
// default) leaves submission unpaced, which is correct for control and
// interrupt endpoints.
func (e *Endpoint) SetThrottle(t ratelimit.Throttle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.throttle = t
}

// Submit enqueues trbs under the endpoint mutex, rings the doorbell, and
// blocks t until CompleteTransfer is called by the interrupter's event
// handler. Returns the completion status and transferred length.
func (e *Endpoint) Submit(t *sched.Thread, trbs []TRB) (kerrno.Errno, uint32) {
	e.mu.Lock()
	throttle := e.throttle
	e.mu.Unlock()
	if throttle != nil {
		throttle.Wait(context.Background(), uint64(len(trbs)))
	}

	e.mu.Lock()
	for _, trb := range trbs {
		e.ring.Enqueue(trb)
	}
	e.doorbell()
	// BlockIndefinite drops e.mu for the duration of the wait and
	// reacquires it before returning, so the completion fields below are
	// read back under the same lock they're written under.
	e.blocker.BlockIndefinite(t, &e.mu)
	defer e.mu.Unlock()
	return e.lastCompletion, e.lastLength
}

// CompleteTransfer is invoked from the interrupter's event-ring
// processing (not modeled as a goroutine here — callers invoke it
// directly once they've decoded a Transfer Event TRB) to record the
// outcome and wake the submitting thread.
func (e *Endpoint) CompleteTransfer(t *sched.Thread, status kerrno.Errno, length uint32) {
	e.mu.Lock()
	e.lastCompletion = status
	e.lastLength = length
	e.mu.Unlock()
	e.blocker.Unblock(t)
}

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

package mm

import (
	"fmt"

	"github.com/jacobsa/syncutil"
)

// Heap is the physical frame allocator singleton (§4.A/§5 "Mutable
// globals"): it owns every usable physical range reported by the boot
// memory map, minus the kernel image, ACPI-reserved and firmware-reserved
// regions the caller has already excluded when constructing it.
type Heap struct {
	// Mu guards the slice of ranges itself (new ranges are never added
	// after boot, so in practice this only protects totalFrames
	// bookkeeping); each PhysicalRange has its own internal lock for the
	// free-list operations themselves, per the one-spinlock-per-range
	// policy.
	Mu syncutil.InvariantMutex

	ranges      []*PhysicalRange
	totalFrames int
}

// NewHeap builds a Heap over the given usable ranges.
func NewHeap(usable []Range) *Heap {
	h := &Heap{}
	h.Mu = syncutil.NewInvariantMutex(h.checkInvariants)

	for _, r := range usable {
		pr := newPhysicalRange(r)
		h.ranges = append(h.ranges, pr)
		h.totalFrames += pr.count
	}
	return h
}

func (h *Heap) checkInvariants() {
	if h.totalFrames < 0 {
		panic(fmt.Sprintf("mm: negative totalFrames %d", h.totalFrames))
	}
}

// ReservePage hands out one free frame, or Frame(0) if physical memory is
// exhausted. Never suspends.
func (h *Heap) ReservePage() Frame {
	for _, pr := range h.ranges {
		if f := pr.reservePage(); f != 0 {
			return f
		}
	}
	return 0
}

// ReleasePage returns paddr to the range that owns it.
func (h *Heap) ReleasePage(paddr Frame) {
	for _, pr := range h.ranges {
		if pr.releasePage(paddr) {
			return
		}
	}
}

// TakeFreeContiguousPages finds n contiguous free frames within a single
// range and removes them from the free list atomically. Returns Frame(0)
// on failure; the caller must not assume fragmentation means total free
// space is also insufficient elsewhere.
func (h *Heap) TakeFreeContiguousPages(n int) Frame {
	for _, pr := range h.ranges {
		if f := pr.takeFreeContiguousPages(n); f != 0 {
			return f
		}
	}
	return 0
}

// UsableMemory returns the number of bytes still free across every range,
// the quantity exercised by the "boot with a memory map" end-to-end
// scenario.
func (h *Heap) UsableMemory() uint64 {
	var frames int
	for _, pr := range h.ranges {
		frames += pr.usableFrames()
	}
	return uint64(frames) * FrameSize
}

// TotalMemory returns the total number of usable bytes this Heap was
// constructed with, free or not.
func (h *Heap) TotalMemory() uint64 {
	return uint64(h.totalFrames) * FrameSize
}

// Owns reports whether paddr falls within any range this Heap manages.
func (h *Heap) Owns(paddr Frame) bool {
	for _, pr := range h.ranges {
		if pr.contains(paddr) {
			return true
		}
	}
	return false
}

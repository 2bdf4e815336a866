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

// Package mm is the physical frame allocator (§4.A) and kernel heap
// (§4.B): the two lowest components of the memory stack, everything else
// in internal/paging and internal/region is built on top of a Frame handed
// out here.
package mm

import (
	"sync"

	"github.com/coreklabs/corekernel/cfg"
)

// Frame identifies one 4 KiB unit of physical memory by its physical
// address. Frame(0) is never reservable; it is the allocation-failure
// sentinel.
type Frame uint64

// FrameSize is the fixed size of one frame.
const FrameSize = cfg.FrameSize

// Range reports one contiguous span of usable physical memory, as the
// bootloader's memory map would describe it.
type Range struct {
	Start, End Frame // [Start, End), both frame-aligned
}

// PhysicalRange owns one contiguous run of physical memory and hands out
// single frames or contiguous runs from it. It embeds an intrusive free
// list over the frame indices it owns, mirroring the on-disk layout the
// original allocator builds inside the frames themselves: a small header
// followed by one list node per reservable frame.
type PhysicalRange struct {
	mu    sync.Mutex
	base  Frame
	count int

	// node[i] is the free-list successor of frame base+Frame(i), or -1 if
	// frame i is the tail of the free list or not currently free.
	node []int
	free []bool
	head int // index of the first free frame, or -1
	tail int

	freeCount int
}

func newPhysicalRange(r Range) *PhysicalRange {
	count := int((r.End - r.Start) / FrameSize)
	pr := &PhysicalRange{
		base:  r.Start,
		count: count,
		node:  make([]int, count),
		free:  make([]bool, count),
		head:  -1,
		tail:  -1,
	}
	for i := 0; i < count; i++ {
		if pr.base+Frame(i*FrameSize) == 0 {
			// Paddr 0 is the allocation-failure sentinel; it must never
			// actually be handed out by reservePage.
			continue
		}
		pr.pushFree(i)
	}
	return pr
}

func (pr *PhysicalRange) pushFree(i int) {
	pr.free[i] = true
	pr.node[i] = -1
	if pr.tail == -1 {
		pr.head = i
	} else {
		pr.node[pr.tail] = i
	}
	pr.tail = i
	pr.freeCount++
}

// reservePage pops the head of the free list. Returns 0 (Frame(0), never a
// valid reservable frame) if the range is exhausted.
func (pr *PhysicalRange) reservePage() Frame {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.head == -1 {
		return 0
	}
	i := pr.head
	pr.head = pr.node[i]
	if pr.head == -1 {
		pr.tail = -1
	}
	pr.free[i] = false
	pr.freeCount--
	return pr.base + Frame(i*FrameSize)
}

// releasePage pushes paddr back onto the free list. It is a no-op (not a
// panic) if paddr is not owned by this range, so callers can probe ranges
// in order without bookkeeping which one owns a given frame.
func (pr *PhysicalRange) releasePage(paddr Frame) bool {
	if paddr < pr.base {
		return false
	}
	i := int((paddr - pr.base) / FrameSize)
	if i >= pr.count {
		return false
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.free[i] {
		return true // double free is idempotent, not fatal
	}
	pr.pushFree(i)
	return true
}

// takeFreeContiguousPages scans for n frames that are all currently free
// and adjacent, removing them from the free list atomically with respect
// to other callers of this range. Returns 0 on failure.
func (pr *PhysicalRange) takeFreeContiguousPages(n int) Frame {
	if n <= 0 {
		return 0
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	for start := 0; start+n <= pr.count; start++ {
		ok := true
		for j := 0; j < n; j++ {
			if !pr.free[start+j] {
				ok = false
				start += j // skip past the frame that broke the run
				break
			}
		}
		if !ok {
			continue
		}

		pr.removeRunLocked(start, n)
		return pr.base + Frame(start*FrameSize)
	}
	return 0
}

// removeRunLocked rebuilds the free list without the given run. Called
// with pr.mu held.
func (pr *PhysicalRange) removeRunLocked(start, n int) {
	inRun := make(map[int]bool, n)
	for j := 0; j < n; j++ {
		inRun[start+j] = true
		pr.free[start+j] = false
	}
	pr.freeCount -= n

	pr.head, pr.tail = -1, -1
	cur := -1
	for i := 0; i < pr.count; i++ {
		if !pr.free[i] {
			continue
		}
		if cur == -1 {
			pr.head = i
		} else {
			pr.node[cur] = i
		}
		cur = i
	}
	pr.tail = cur
	if cur != -1 {
		pr.node[cur] = -1
	}
}

func (pr *PhysicalRange) usableFrames() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.freeCount
}

func (pr *PhysicalRange) contains(paddr Frame) bool {
	return paddr >= pr.base && paddr < pr.base+Frame(pr.count*FrameSize)
}

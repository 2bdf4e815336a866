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

// Package paging implements per-address-space virtual-to-physical mapping
// (§4.C): one PageTable per process, plus the fast page window used to
// reach physical frames that are not otherwise mapped anywhere.
package paging

import (
	"fmt"
	"sync"

	"github.com/coreklabs/corekernel/cfg"
	"github.com/coreklabs/corekernel/internal/mm"
	"github.com/jacobsa/syncutil"
)

// Page is a virtual page number: a virtual address divided by cfg.FrameSize.
type Page uint64

// PageFlags are the permission and state bits a mapping carries. They are
// a simulation of PTE bits, not real hardware protection.
type PageFlags uint32

const (
	FlagPresent PageFlags = 1 << iota
	FlagWritable
	FlagUser
	FlagNoExecute
	FlagReserved // logically reserved by reserve_page/reserve_range, not yet mapped
)

type entry struct {
	frame mm.Frame
	flags PageFlags
}

// PageTable is one address space's virtual memory mapping. The zero value
// is not usable; construct with New.
type PageTable struct {
	Mu syncutil.InvariantMutex

	heap    *mm.Heap
	entries map[Page]entry
}

// New constructs an empty PageTable backed by heap for frame reservation.
func New(heap *mm.Heap) *PageTable {
	pt := &PageTable{heap: heap, entries: make(map[Page]entry)}
	pt.Mu = syncutil.NewInvariantMutex(pt.checkInvariants)
	return pt
}

func (pt *PageTable) checkInvariants() {
	for p, e := range pt.entries {
		if e.flags&FlagPresent != 0 && e.frame == 0 {
			panic(fmt.Sprintf("paging: page %d marked present with sentinel frame 0", p))
		}
	}
}

// MapPageAt maps vpage to frame with the given flags, overwriting any prior
// mapping or reservation. The invariant binding shared-file-data frames to
// their registered physical frame (§4.C) is the caller's responsibility:
// MapPageAt itself does not consult internal/region.
func (pt *PageTable) MapPageAt(vpage Page, frame mm.Frame, flags PageFlags) {
	pt.entries[vpage] = entry{frame: frame, flags: flags | FlagPresent}
}

// MapRangeAt maps count consecutive virtual pages starting at vpage to
// count consecutive physical frames starting at frame.
func (pt *PageTable) MapRangeAt(vpage Page, frame mm.Frame, count int, flags PageFlags) {
	for i := 0; i < count; i++ {
		pt.MapPageAt(vpage+Page(i), frame+mm.Frame(i*cfg.FrameSize), flags)
	}
}

// UnmapPage removes any mapping or reservation at vpage. It does not
// release the underlying frame back to the Heap; callers that own the
// frame must call Heap.ReleasePage themselves.
func (pt *PageTable) UnmapPage(vpage Page) {
	delete(pt.entries, vpage)
}

// UnmapRange unmaps count consecutive pages starting at vpage.
func (pt *PageTable) UnmapRange(vpage Page, count int) {
	for i := 0; i < count; i++ {
		pt.UnmapPage(vpage + Page(i))
	}
}

// GetPageFlags reports the flags at vpage and whether any entry exists
// there at all (mapped or merely reserved).
func (pt *PageTable) GetPageFlags(vpage Page) (PageFlags, bool) {
	e, ok := pt.entries[vpage]
	return e.flags, ok
}

// PhysicalAddressOf returns the frame mapped at vpage, or 0 if vpage is
// unmapped or only logically reserved.
func (pt *PageTable) PhysicalAddressOf(vpage Page) mm.Frame {
	e, ok := pt.entries[vpage]
	if !ok || e.flags&FlagPresent == 0 {
		return 0
	}
	return e.frame
}

// IsPageFree reports whether vpage carries neither a mapping nor a
// reservation.
func (pt *PageTable) IsPageFree(vpage Page) bool {
	_, ok := pt.entries[vpage]
	return !ok
}

// IsRangeFree reports whether every page in [vpage, vpage+count) is free.
func (pt *PageTable) IsRangeFree(vpage Page, count int) bool {
	for i := 0; i < count; i++ {
		if !pt.IsPageFree(vpage + Page(i)) {
			return false
		}
	}
	return true
}

// ReservePage logically reserves vpage: it becomes non-free for future
// reserve_free_* calls, but carries no mapping until MapPageAt is called
// on it. Returns false if vpage was already occupied.
func (pt *PageTable) ReservePage(vpage Page) bool {
	if !pt.IsPageFree(vpage) {
		return false
	}
	pt.entries[vpage] = entry{flags: FlagReserved}
	return true
}

// ReserveRange reserves count consecutive pages starting at vpage. On
// partial failure it unwinds every reservation it made before returning
// false, leaving the page table unchanged.
func (pt *PageTable) ReserveRange(vpage Page, count int) bool {
	for i := 0; i < count; i++ {
		if !pt.ReservePage(vpage + Page(i)) {
			for j := 0; j < i; j++ {
				pt.UnmapPage(vpage + Page(j))
			}
			return false
		}
	}
	return true
}

// ReserveFreePage finds and reserves the lowest free page in [min, max),
// returning it, or 0 (an invalid Page, since the zero page is never handed
// out to user mappings) if no free page exists in range.
func (pt *PageTable) ReserveFreePage(min, max Page) Page {
	for p := min; p < max; p++ {
		if pt.ReservePage(p) {
			return p
		}
	}
	return 0
}

// ReserveFreeContiguousPages finds the lowest unreserved run of n pages
// within [min, max) and reserves all of them atomically, returning the
// run's base page, or 0 on failure.
func (pt *PageTable) ReserveFreeContiguousPages(n int, min, max Page) Page {
	if n <= 0 {
		return 0
	}
	for base := min; base+Page(n) <= max; base++ {
		ok := true
		for i := 0; i < n; i++ {
			if !pt.IsPageFree(base + Page(i)) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if !pt.ReserveRange(base, n) {
			continue
		}
		return base
	}
	return 0
}

// Load installs this page table as the active one for the current
// (simulated) CPU. In the hosted model there is no hardware CR3 to
// reload; Load exists so callers that port the original address-space
// switch path have somewhere to call into, and so tests can assert which
// table is "active" per CPU.
func (pt *PageTable) Load() {}

// DebugDump renders every present or reserved page, in ascending order,
// for crash-log style diagnostics.
func (pt *PageTable) DebugDump() string {
	pages := make([]Page, 0, len(pt.entries))
	for p := range pt.entries {
		pages = append(pages, p)
	}
	for i := 1; i < len(pages); i++ {
		for j := i; j > 0 && pages[j-1] > pages[j]; j-- {
			pages[j-1], pages[j] = pages[j], pages[j-1]
		}
	}

	out := ""
	for _, p := range pages {
		e := pt.entries[p]
		state := "reserved"
		if e.flags&FlagPresent != 0 {
			state = fmt.Sprintf("frame=%#x flags=%#x", e.frame, e.flags)
		}
		out += fmt.Sprintf("page %d: %s\n", p, state)
	}
	return out
}

// FastPage is the per-CPU transient-mapping window (§4.C): a single
// virtual slot that can be remapped to any physical frame under a
// dedicated lock, used to zero frames, copy across address spaces, and
// serve the file-cache read path without a permanent mapping. In this
// hosted model the FastPage itself holds each frame's bytes.
type FastPage struct {
	mu      sync.Mutex
	mounted mm.Frame
	frames  map[mm.Frame]*[cfg.FrameSize]byte
}

// NewFastPage constructs one fast page window. The kernel constructs one
// at boot; code that must see the same bytes for a frame has to go
// through the same FastPage.
func NewFastPage() *FastPage {
	return &FastPage{}
}

// With remaps the window onto frame for the duration of fn, which sees
// buf as that frame's contents (all zero for a frame never written). The
// caller must not retain buf past fn's return.
func (fp *FastPage) With(frame mm.Frame, fn func(buf *[cfg.FrameSize]byte)) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.frames == nil {
		fp.frames = make(map[mm.Frame]*[cfg.FrameSize]byte)
	}
	page, ok := fp.frames[frame]
	if !ok {
		page = new([cfg.FrameSize]byte)
		fp.frames[frame] = page
	}
	fp.mounted = frame
	fn(page)
	fp.mounted = 0
}

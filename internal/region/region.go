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

// Package region implements memory regions (§4.D): the address-space-level
// bookkeeping layered on top of internal/paging's page tables, including
// the file-backed page-fault algorithm and copy-on-write private mappings.
package region

import (
	"sync"

	"github.com/coreklabs/corekernel/cfg"
	"github.com/coreklabs/corekernel/internal/mm"
	"github.com/coreklabs/corekernel/internal/paging"
)

// AddressRange is the placement hint a region is carved out of.
type AddressRange struct {
	Start, End paging.Page
}

// Backing distinguishes the three concrete MemoryRegion variants.
type Backing int

const (
	MemoryBacked Backing = iota
	FileBacked
	SharedObject
)

// PageSource reads one page from whatever a FileBacked region is backed
// by (an inode, in the full system; a simple in-memory blob stands in for
// it wherever internal/vfs is not wired in yet).
type PageSource interface {
	ReadPage(pageOffset int, buf *[cfg.FrameSize]byte) error
}

// sharedFileDatum is the per-inode page cache a FileBacked region
// consults before faulting in a fresh frame, shared across every region
// mapping the same file so that a write through one mapping is visible to
// another.
type sharedFileDatum struct {
	mu    sync.Mutex
	pages map[int]mm.Frame
}

// SharedFileTable hands out the shared_file_data structure keyed by a
// caller-chosen inode identity. One table is shared across every
// PageTable in the address-space graph.
type SharedFileTable struct {
	mu   sync.Mutex
	data map[any]*sharedFileDatum
}

func NewSharedFileTable() *SharedFileTable {
	return &SharedFileTable{data: make(map[any]*sharedFileDatum)}
}

func (t *SharedFileTable) entryFor(inode any) *sharedFileDatum {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.data[inode]
	if !ok {
		d = &sharedFileDatum{pages: make(map[int]mm.Frame)}
		t.data[inode] = d
	}
	return d
}

// Region is a MemoryRegion: a contiguous run of virtual pages within one
// address space, with one of the three backing kinds.
type Region struct {
	mu sync.Mutex

	Backing  Backing
	Start    paging.Page
	Count    int
	Writable bool
	Shared   bool // shared mapping vs. private (COW on write)

	pt       *PageTable
	heap     *mm.Heap
	fastPage *paging.FastPage

	inode   any
	source  PageSource
	sftable *SharedFileTable

	physicalPageCount int
	dirtyPages        map[int]mm.Frame // private COW: page-offset -> frame, only populated once copied
}

// PageTable is an alias for paging.PageTable, the page table a region
// maps its frames into.
type PageTable = paging.PageTable

// NewMemoryBacked creates an anonymous region with no backing inode:
// every page fault simply allocates and zero-fills a frame.
func NewMemoryBacked(pt *paging.PageTable, heap *mm.Heap, fastPage *paging.FastPage, start paging.Page, count int, writable bool) *Region {
	return &Region{
		Backing:  MemoryBacked,
		Start:    start,
		Count:    count,
		Writable: writable,
		Shared:   false,
		pt:       pt,
		heap:     heap,
		fastPage: fastPage,
	}
}

// NewFileBacked creates a region backed by source, sharing pages with
// every other region mapping the same inode through sftable.
func NewFileBacked(pt *paging.PageTable, heap *mm.Heap, fastPage *paging.FastPage, sftable *SharedFileTable, inode any, source PageSource, start paging.Page, count int, writable, shared bool) *Region {
	return &Region{
		Backing:  FileBacked,
		Start:    start,
		Count:    count,
		Writable: writable,
		Shared:   shared,
		pt:       pt,
		heap:     heap,
		fastPage: fastPage,
		inode:    inode,
		source:   source,
		sftable:  sftable,
	}
}

// Contains reports whether vpage falls within this region.
func (r *Region) Contains(vpage paging.Page) bool {
	return vpage >= r.Start && vpage < r.Start+paging.Page(r.Count)
}

// Overlaps reports whether [vpage, vpage+pages) intersects this region.
func (r *Region) Overlaps(vpage paging.Page, pages int) bool {
	end := r.Start + paging.Page(r.Count)
	otherEnd := vpage + paging.Page(pages)
	return vpage < end && r.Start < otherEnd
}

// AllocatePageContaining services a page fault at vaddr. It returns
// allocatedNew=true if a fresh frame was mapped, false if the fault was a
// write-on-read-only no-op the caller should treat as a protection
// violation (segfault), and an error only for I/O failures reading a
// file-backed page.
func (r *Region) AllocatePageContaining(vaddr paging.Page, wantsWrite bool) (allocatedNew bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wantsWrite && !r.Writable {
		return false, nil
	}

	switch r.Backing {
	case MemoryBacked:
		return r.faultMemoryBacked(vaddr, wantsWrite)
	case FileBacked, SharedObject:
		return r.faultFileBacked(vaddr, wantsWrite)
	}
	return false, nil
}

func (r *Region) faultMemoryBacked(vaddr paging.Page, wantsWrite bool) (bool, error) {
	if !r.pt.IsPageFree(vaddr) && r.pt.PhysicalAddressOf(vaddr) != 0 {
		flags, _ := r.pt.GetPageFlags(vaddr)
		if !wantsWrite || r.Shared || flags&paging.FlagWritable != 0 {
			// Already writable (or not a write fault at all): nothing to
			// copy. A real CPU never re-raises #PF here; this just keeps
			// a direct AllocatePageContaining call idempotent.
			return false, nil
		}
		return r.copyOnWriteAnonymous(vaddr)
	}
	frame := r.heap.ReservePage()
	if frame == 0 {
		return false, nil
	}
	r.fastPage.With(frame, func(buf *[cfg.FrameSize]byte) {
		for i := range buf {
			buf[i] = 0
		}
	})
	flags := paging.FlagUser
	if r.Writable {
		flags |= paging.FlagWritable
	}
	r.pt.MapPageAt(vaddr, frame, flags)
	r.physicalPageCount++
	return true, nil
}

// faultFileBacked implements the algorithm from §4.D: compute
// (inode, page_offset), look up shared_file_data, fault it in on miss,
// and for a private write fault copy-on-write into a newly owned frame.
func (r *Region) faultFileBacked(vaddr paging.Page, wantsWrite bool) (bool, error) {
	offset := int(vaddr - r.Start)

	if wantsWrite && !r.Shared {
		return r.copyOnWrite(vaddr, offset)
	}

	datum := r.sftable.entryFor(r.inode)
	datum.mu.Lock()
	frame, ok := datum.pages[offset]
	datum.mu.Unlock()

	if !ok {
		f := r.heap.ReservePage()
		if f == 0 {
			return false, nil
		}
		var readErr error
		r.fastPage.With(f, func(buf *[cfg.FrameSize]byte) {
			readErr = r.source.ReadPage(offset, buf)
		})
		if readErr != nil {
			r.heap.ReleasePage(f)
			return false, readErr
		}
		datum.mu.Lock()
		if existing, raced := datum.pages[offset]; raced {
			r.heap.ReleasePage(f)
			frame = existing
		} else {
			datum.pages[offset] = f
			frame = f
		}
		datum.mu.Unlock()
	}

	flags := paging.FlagUser
	if r.Shared && r.Writable {
		flags |= paging.FlagWritable
	}
	r.pt.MapPageAt(vaddr, frame, flags)
	r.physicalPageCount++
	return !ok, nil
}

func (r *Region) copyOnWrite(vaddr paging.Page, offset int) (bool, error) {
	datum := r.sftable.entryFor(r.inode)
	datum.mu.Lock()
	shared, ok := datum.pages[offset]
	datum.mu.Unlock()
	if !ok {
		return false, nil // read fault must happen first
	}

	newFrame := r.heap.ReservePage()
	if newFrame == 0 {
		return false, nil
	}
	var snapshot [cfg.FrameSize]byte
	r.fastPage.With(shared, func(src *[cfg.FrameSize]byte) { snapshot = *src })
	r.fastPage.With(newFrame, func(dst *[cfg.FrameSize]byte) { *dst = snapshot })

	r.pt.MapPageAt(vaddr, newFrame, paging.FlagUser|paging.FlagWritable)
	if r.dirtyPages == nil {
		r.dirtyPages = make(map[int]mm.Frame)
	}
	r.dirtyPages[offset] = newFrame
	r.physicalPageCount++
	return true, nil
}

// copyOnWriteAnonymous is copyOnWrite's counterpart for private MemoryBacked
// regions, which have no inode/sftable to fault a shared page in from.
// Clone leaves the page present but read-only in both address spaces after
// fork, sharing the one frame between parent and child; the first write on
// either side lands here and copies that shared frame into a new writable
// frame of its own.
func (r *Region) copyOnWriteAnonymous(vaddr paging.Page) (bool, error) {
	offset := int(vaddr - r.Start)
	shared := r.pt.PhysicalAddressOf(vaddr)
	if shared == 0 {
		return false, nil
	}

	newFrame := r.heap.ReservePage()
	if newFrame == 0 {
		return false, nil
	}
	var snapshot [cfg.FrameSize]byte
	r.fastPage.With(shared, func(src *[cfg.FrameSize]byte) { snapshot = *src })
	r.fastPage.With(newFrame, func(dst *[cfg.FrameSize]byte) { *dst = snapshot })

	r.pt.MapPageAt(vaddr, newFrame, paging.FlagUser|paging.FlagWritable)
	if r.dirtyPages == nil {
		r.dirtyPages = make(map[int]mm.Frame)
	}
	r.dirtyPages[offset] = newFrame
	r.physicalPageCount++
	return true, nil
}

// Clone clones this region's mapping metadata into newPT. Shared regions
// re-point to the same shared-file-data or shared-object; private regions
// are prepared for COW (the parent's existing frames are remapped
// read-only in both address spaces so the next write faults and copies).
func (r *Region) Clone(newPT *paging.PageTable) *Region {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := &Region{
		Backing:  r.Backing,
		Start:    r.Start,
		Count:    r.Count,
		Writable: r.Writable,
		Shared:   r.Shared,
		pt:       newPT,
		heap:     r.heap,
		fastPage: r.fastPage,
		inode:    r.inode,
		source:   r.source,
		sftable:  r.sftable,
	}

	if r.Shared || r.Backing != MemoryBacked {
		return clone
	}

	// Private MemoryBacked: force both tables' existing mappings read-only
	// so the next write in either address space triggers copyOnWrite.
	for i := 0; i < r.Count; i++ {
		vp := r.Start + paging.Page(i)
		frame := r.pt.PhysicalAddressOf(vp)
		if frame == 0 {
			continue
		}
		r.pt.MapPageAt(vp, frame, paging.FlagUser)
		newPT.MapPageAt(vp, frame, paging.FlagUser)
	}
	return clone
}

// Msync writes back dirty pages of a file-backed shared region to source
// via a hypothetical WritePage (the source interface here only models
// reads; msync is a no-op for anything but FileBacked+Shared, matching
// the invariant that private and anonymous regions never persist).
func (r *Region) Msync() {
	if r.Backing != FileBacked || !r.Shared {
		return
	}
	// A real WritePage hook would be invoked here per dirty page; the
	// hosted model has no durable backing store below internal/block to
	// flush to yet, so this only documents the call site region-owning
	// code (internal/vfs) is expected to wire once it exists.
}

// PhysicalPageCount reports how many frames this region currently has
// mapped in, incremented by each successful AllocatePageContaining call.
func (r *Region) PhysicalPageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.physicalPageCount
}

// Unmap tears down every page-table entry this region owns, the munmap
// half of §4.D; the caller (internal/process, via RemoveRegion) is
// responsible for dropping the region from the owning process afterward.
func (r *Region) Unmap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pt.UnmapRange(r.Start, r.Count)
}

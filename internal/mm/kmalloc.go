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
	"sync"
)

// sizeClasses are the segregated-fit buckets kmalloc rounds requests up
// to, matching the classic power-of-two-ish small-object allocator shape.
var sizeClasses = []int{16, 32, 64, 128, 256, 512, 1024, 2048}

// KHeap is the kernel small-object allocator (§4.B): a segregated-fit pool
// over pages obtained from a Heap and permanently mapped into the kernel
// half. KHeap never fragments such that a same-size request fails while
// equivalent total free space exists, because each size class only ever
// serves blocks of its own fixed size.
type KHeap struct {
	mu    sync.Mutex
	heap  *Heap
	pages []Frame // pages drawn from heap, permanently owned

	// freeLists[i] holds addresses available for sizeClasses[i].
	freeLists map[int][]uintptr
	nextAddr  uintptr
}

// NewKHeap creates a KHeap backed by heap. Identity-mapped DMA allocations
// and ordinary allocations share the same backing pages in this hosted
// model; both are tracked purely as accounting, since there is no real
// physical memory behind a Frame here.
func NewKHeap(heap *Heap) *KHeap {
	return &KHeap{
		heap:      heap,
		freeLists: make(map[int][]uintptr),
		nextAddr:  1 << 32, // kernel heap carves out of a high virtual range
	}
}

func classFor(size int) (int, bool) {
	for _, c := range sizeClasses {
		if size <= c {
			return c, true
		}
	}
	return 0, false
}

// Alloc returns a kernel-heap address sized for at least size bytes, or
// zero if size exceeds the largest size class (callers needing bigger
// allocations should reserve whole pages from the Heap directly) or
// physical memory is exhausted.
func (k *KHeap) Alloc(size int) uintptr {
	class, ok := classFor(size)
	if !ok {
		return 0
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if free := k.freeLists[class]; len(free) > 0 {
		addr := free[len(free)-1]
		k.freeLists[class] = free[:len(free)-1]
		return addr
	}

	// Grow: reserve a fresh page from the backing Heap and carve it into
	// blocks of this size class.
	frame := k.heap.ReservePage()
	if frame == 0 {
		return 0
	}
	k.pages = append(k.pages, frame)

	blocksPerPage := FrameSize / class
	base := k.nextAddr
	k.nextAddr += FrameSize

	addr := base
	for i := 1; i < blocksPerPage; i++ {
		k.freeLists[class] = append(k.freeLists[class], base+uintptr(i*class))
	}
	return addr
}

// Free returns an allocation of the given size back to its size class's
// free list.
func (k *KHeap) Free(addr uintptr, size int) {
	class, ok := classFor(size)
	if !ok {
		panic(fmt.Sprintf("mm: Free called with size %d larger than any size class", size))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.freeLists[class] = append(k.freeLists[class], addr)
}

// PagesOwned reports how many physical pages this KHeap has permanently
// claimed from its backing Heap.
func (k *KHeap) PagesOwned() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.pages)
}

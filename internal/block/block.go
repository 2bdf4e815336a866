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

// Package block implements the block storage stack (§4.H): the
// BlockDevice primitive, a page-granularity disk cache with a
// present/dirty bitmask, and GUID-partition-table discovery.
package block

import (
	"context"
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/ratelimit"
)

// SectorSize is the fixed logical sector size every BlockDevice speaks.
const SectorSize = 512

// BlockDevice is the primitive I/O entry point beneath the disk cache.
type BlockDevice interface {
	ReadBlocks(firstSector int64, buf []byte) kerrno.Errno
	WriteBlocks(firstSector int64, buf []byte) kerrno.Errno
	SectorCount() int64
}

// sectorsPerPage is how many sectors a single cache page covers.
const sectorsPerPage = 8 // 8 * 512 = 4096, matches cfg.FrameSize

// pageCacheEntry mirrors §4.H: a frame plus present/dirty bitmasks over
// its sectorsPerPage sectors.
type pageCacheEntry struct {
	frame   [sectorsPerPage * SectorSize]byte
	present uint8
	dirty   uint8
}

func (e *pageCacheEntry) checkInvariant() {
	if e.dirty&^e.present != 0 {
		panic("block: dirty mask not a subset of present mask")
	}
}

// DiskCache is the page-granularity cache owned per physical device.
type DiskCache struct {
	mu           sync.Mutex
	dev          BlockDevice
	entries      map[int64]*pageCacheEntry // keyed by page index = sector/8
	writeThrough bool
	writeBack    ratelimit.Throttle
}

// NewDiskCache constructs a cache over dev.
func NewDiskCache(dev BlockDevice, writeThrough bool) *DiskCache {
	return &DiskCache{dev: dev, entries: make(map[int64]*pageCacheEntry), writeThrough: writeThrough}
}

// SetWriteBackThrottle paces Sync's and ReleasePages' writes against t, so
// a single dirty-heavy process can't monopolize the device. A nil throttle
// (the default) leaves write-back unpaced.
func (c *DiskCache) SetWriteBackThrottle(t ratelimit.Throttle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeBack = t
}

// throttleWrite blocks until sectorCount sectors may be written back, if a
// throttle is installed. Called with c.mu held (Sync holds it for its
// whole run already).
func (c *DiskCache) throttleWrite(sectorCount int) {
	if c.writeBack == nil {
		return
	}
	c.writeBack.Wait(context.Background(), uint64(sectorCount))
}

// throttleWriteUnlocked is flushEntry's counterpart: it snapshots the
// throttle under c.mu so ReleasePages (which calls flushEntry without
// holding c.mu across the device write) doesn't race SetWriteBackThrottle.
func (c *DiskCache) throttleWriteUnlocked(sectorCount int) {
	c.mu.Lock()
	t := c.writeBack
	c.mu.Unlock()
	if t == nil {
		return
	}
	t.Wait(context.Background(), uint64(sectorCount))
}

func pageIndex(sector int64) int64  { return sector / sectorsPerPage }
func sectorInPage(sector int64) int { return int(sector % sectorsPerPage) }

// ReadSectors reads n sectors starting at firstSector into buf (len(buf)
// must be n*SectorSize). Per §4.H: if all requested sectors are present,
// copy out directly; otherwise issue one page read per missing page.
func (c *DiskCache) ReadSectors(firstSector int64, n int, buf []byte) kerrno.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < n; {
		sector := firstSector + int64(i)
		pidx := pageIndex(sector)
		entry, err := c.fetchLocked(pidx)
		if err != 0 {
			return err
		}

		for sectorInPage(sector) < sectorsPerPage && i < n {
			off := sectorInPage(sector)
			copy(buf[i*SectorSize:(i+1)*SectorSize], entry.frame[off*SectorSize:(off+1)*SectorSize])
			i++
			sector++
		}
	}
	return 0
}

// fetchLocked returns the cache entry for page pidx, reading it from the
// device on miss. Called with c.mu held.
func (c *DiskCache) fetchLocked(pidx int64) (*pageCacheEntry, kerrno.Errno) {
	entry, ok := c.entries[pidx]
	if ok && entry.present == 0xFF {
		return entry, 0
	}
	if !ok {
		entry = &pageCacheEntry{}
		c.entries[pidx] = entry
	}
	if entry.present != 0xFF {
		if err := c.dev.ReadBlocks(pidx*sectorsPerPage, entry.frame[:]); err != 0 {
			return nil, err
		}
		entry.present = 0xFF
	}
	return entry, 0
}

// WriteSectors writes n sectors starting at firstSector from buf. In
// write-through mode it issues directly to the device; otherwise it
// updates the cached frame and ORs the affected sectors into both the
// dirty and present masks (§4.H).
func (c *DiskCache) WriteSectors(firstSector int64, n int, buf []byte) kerrno.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeThrough {
		return c.dev.WriteBlocks(firstSector, buf)
	}

	for i := 0; i < n; {
		sector := firstSector + int64(i)
		pidx := pageIndex(sector)
		entry, ok := c.entries[pidx]
		if !ok {
			entry = &pageCacheEntry{}
			c.entries[pidx] = entry
		}

		for sectorInPage(sector) < sectorsPerPage && i < n {
			off := sectorInPage(sector)
			copy(entry.frame[off*SectorSize:(off+1)*SectorSize], buf[i*SectorSize:(i+1)*SectorSize])
			bit := uint8(1) << uint(off)
			entry.dirty |= bit
			entry.present |= bit
			i++
			sector++
		}
		entry.checkInvariant()
	}
	return 0
}

// Sync walks dirty entries and batches adjacent dirty sectors into
// contiguous writes, per §4.H.
func (c *DiskCache) Sync() kerrno.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()

	for pidx, entry := range c.entries {
		if entry.dirty == 0 {
			continue
		}
		// Batch the contiguous run(s) of set bits in entry.dirty; for the
		// common all-dirty case this is a single page write.
		off := 0
		for off < sectorsPerPage {
			if entry.dirty&(1<<uint(off)) == 0 {
				off++
				continue
			}
			start := off
			for off < sectorsPerPage && entry.dirty&(1<<uint(off)) != 0 {
				off++
			}
			runLen := off - start
			sector := pidx*sectorsPerPage + int64(start)
			data := entry.frame[start*SectorSize : (start+runLen)*SectorSize]
			c.throttleWrite(runLen)
			if err := c.dev.WriteBlocks(sector, data); err != 0 {
				return err
			}
		}
		entry.dirty = 0
	}
	return 0
}

// ReleaseCleanPages evicts up to n entries with no dirty sectors, never
// dropping dirty data, and returns how many were actually released.
func (c *DiskCache) ReleaseCleanPages(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	released := 0
	for pidx, entry := range c.entries {
		if released >= n {
			break
		}
		if entry.dirty != 0 {
			continue
		}
		delete(c.entries, pidx)
		released++
	}
	return released
}

// ReleasePages evicts up to n entries regardless of dirty state,
// flushing each one first so no data is lost.
func (c *DiskCache) ReleasePages(n int) (released int, errno kerrno.Errno) {
	c.mu.Lock()
	keys := make([]int64, 0, len(c.entries))
	for pidx := range c.entries {
		if len(keys) >= n {
			break
		}
		keys = append(keys, pidx)
	}
	c.mu.Unlock()

	for _, pidx := range keys {
		c.mu.Lock()
		entry := c.entries[pidx]
		c.mu.Unlock()
		if entry == nil {
			continue
		}
		if entry.dirty != 0 {
			if err := c.flushEntry(pidx, entry); err != 0 {
				return released, err
			}
		}
		c.mu.Lock()
		delete(c.entries, pidx)
		c.mu.Unlock()
		released++
	}
	return released, 0
}

func (c *DiskCache) flushEntry(pidx int64, entry *pageCacheEntry) kerrno.Errno {
	c.throttleWriteUnlocked(sectorsPerPage)
	if err := c.dev.WriteBlocks(pidx*sectorsPerPage, entry.frame[:]); err != 0 {
		return err
	}
	entry.dirty = 0
	return 0
}

// Partition wraps a BlockDevice plus [firstSector, lastSector] and clamps
// every I/O to that window.
type Partition struct {
	dev                     BlockDevice
	firstSector, lastSector int64
}

func NewPartition(dev BlockDevice, firstSector, lastSector int64) *Partition {
	return &Partition{dev: dev, firstSector: firstSector, lastSector: lastSector}
}

func (p *Partition) SectorCount() int64 { return p.lastSector - p.firstSector + 1 }

func (p *Partition) ReadBlocks(sector int64, buf []byte) kerrno.Errno {
	n := int64(len(buf)) / SectorSize
	if sector < 0 || sector+n-1 > p.lastSector-p.firstSector {
		return kerrno.EINVAL
	}
	return p.dev.ReadBlocks(p.firstSector+sector, buf)
}

func (p *Partition) WriteBlocks(sector int64, buf []byte) kerrno.Errno {
	n := int64(len(buf)) / SectorSize
	if sector < 0 || sector+n-1 > p.lastSector-p.firstSector {
		return kerrno.EINVAL
	}
	return p.dev.WriteBlocks(p.firstSector+sector, buf)
}

var _ BlockDevice = (*Partition)(nil)

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

package block_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/coreklabs/corekernel/internal/block"
	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingThrottle is a ratelimit.Throttle stand-in that never actually
// waits, just records how many tokens each Wait call asked for.
type countingThrottle struct {
	mu     sync.Mutex
	claims []uint64
}

func (c *countingThrottle) Capacity() uint64 { return 1 << 20 }

func (c *countingThrottle) Wait(_ context.Context, tokens uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = append(c.claims, tokens)
	return true
}

// memDevice is an in-memory BlockDevice stand-in for tests.
type memDevice struct {
	mu     sync.Mutex
	data   []byte
	reads  int
	writes int
}

func newMemDevice(sectors int64) *memDevice {
	return &memDevice{data: make([]byte, sectors*block.SectorSize)}
}

func (m *memDevice) SectorCount() int64 { return int64(len(m.data)) / block.SectorSize }

func (m *memDevice) ReadBlocks(firstSector int64, buf []byte) kerrno.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	off := firstSector * block.SectorSize
	copy(buf, m.data[off:off+int64(len(buf))])
	return 0
}

func (m *memDevice) WriteBlocks(firstSector int64, buf []byte) kerrno.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	off := firstSector * block.SectorSize
	copy(m.data[off:off+int64(len(buf))], buf)
	return 0
}

func TestDiskCache_ReadMissesDeviceThenHitsCache(t *testing.T) {
	dev := newMemDevice(64)
	copy(dev.data[0:4], []byte{1, 2, 3, 4})
	cache := block.NewDiskCache(dev, false)

	buf := make([]byte, block.SectorSize)
	require.Zero(t, cache.ReadSectors(0, 1, buf))
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:4])
	assert.Equal(t, 1, dev.reads)

	require.Zero(t, cache.ReadSectors(0, 1, buf))
	assert.Equal(t, 1, dev.reads, "second read of the same page must hit the cache")
}

func TestDiskCache_WriteBackUpdatesDirtyAndPresent(t *testing.T) {
	dev := newMemDevice(64)
	cache := block.NewDiskCache(dev, false)

	data := make([]byte, block.SectorSize)
	for i := range data {
		data[i] = 0xAB
	}
	require.Zero(t, cache.WriteSectors(0, 1, data))
	assert.Zero(t, dev.writes, "write-back mode must not hit the device until sync")

	require.Zero(t, cache.Sync())
	assert.Equal(t, 1, dev.writes)

	read := make([]byte, block.SectorSize)
	require.Zero(t, dev.ReadBlocks(0, read))
	assert.Equal(t, data, read)
}

func TestDiskCache_WriteThroughBypassesCache(t *testing.T) {
	dev := newMemDevice(8)
	cache := block.NewDiskCache(dev, true)

	data := make([]byte, block.SectorSize)
	require.Zero(t, cache.WriteSectors(0, 1, data))
	assert.Equal(t, 1, dev.writes)
}

func TestDiskCache_ReleaseCleanPagesNeverDropsDirty(t *testing.T) {
	dev := newMemDevice(64)
	cache := block.NewDiskCache(dev, false)

	clean := make([]byte, block.SectorSize)
	require.Zero(t, cache.ReadSectors(0, 1, clean)) // page 0: clean (read-only)

	dirty := make([]byte, block.SectorSize)
	require.Zero(t, cache.WriteSectors(sectorsForPage(1), 1, dirty)) // page 1: dirty

	released := cache.ReleaseCleanPages(10)
	assert.Equal(t, 1, released, "only the clean page should be released")

	require.Zero(t, cache.Sync())
	assert.Equal(t, 1, dev.writes)
}

func sectorsForPage(page int64) int64 { return page * 8 }

func TestDiskCache_WriteBackThrottlePacesSync(t *testing.T) {
	dev := newMemDevice(64)
	cache := block.NewDiskCache(dev, false)
	throttle := &countingThrottle{}
	cache.SetWriteBackThrottle(throttle)

	data := make([]byte, block.SectorSize)
	require.Zero(t, cache.WriteSectors(0, 1, data))
	require.Zero(t, cache.Sync())

	require.Len(t, throttle.claims, 1)
	assert.Equal(t, uint64(1), throttle.claims[0])
}

func TestDiskCache_NoThrottleLeavesSyncUnpaced(t *testing.T) {
	dev := newMemDevice(64)
	cache := block.NewDiskCache(dev, false)

	data := make([]byte, block.SectorSize)
	require.Zero(t, cache.WriteSectors(0, 1, data))
	require.Zero(t, cache.Sync())
	assert.Equal(t, 1, dev.writes)
}

func TestPartition_ClampsOutOfRangeIO(t *testing.T) {
	dev := newMemDevice(100)
	part := block.NewPartition(dev, 10, 19)
	assert.Equal(t, int64(10), part.SectorCount())

	buf := make([]byte, block.SectorSize)
	assert.Zero(t, part.ReadBlocks(0, buf))
	assert.Equal(t, kerrno.EINVAL, part.ReadBlocks(10, buf))
}

func TestDiscoverGPT_ParsesEntries(t *testing.T) {
	dev := newMemDevice(40)
	header := make([]byte, block.SectorSize)
	copy(header[0:8], "EFI PART")
	binary.LittleEndian.PutUint64(header[72:80], 2) // entries start at LBA 2
	binary.LittleEndian.PutUint32(header[80:84], 1) // 1 entry
	binary.LittleEndian.PutUint32(header[84:88], 128)
	dev.WriteBlocks(1, header)

	entry := make([]byte, block.SectorSize)
	entry[0] = 0xAA // non-zero type GUID
	binary.LittleEndian.PutUint64(entry[32:40], 34)
	binary.LittleEndian.PutUint64(entry[40:48], 39)
	dev.WriteBlocks(2, entry)

	entries, errno := block.DiscoverGPT(dev)
	require.Zero(t, errno)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(34), entries[0].FirstLBA)
	assert.Equal(t, int64(39), entries[0].LastLBA)
}

func TestDiscoverGPT_RejectsBadSignature(t *testing.T) {
	dev := newMemDevice(10)
	_, errno := block.DiscoverGPT(dev)
	assert.Equal(t, kerrno.ENODEV, errno)
}

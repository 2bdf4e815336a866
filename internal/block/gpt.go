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

package block

import (
	"encoding/binary"

	"github.com/coreklabs/corekernel/internal/kerrno"
)

const gptSignature = "EFI PART"

// GPTEntry is one discovered partition table entry.
type GPTEntry struct {
	FirstLBA, LastLBA int64
	TypeGUID          [16]byte
}

// DiscoverGPT reads the protective MBR (LBA 0, ignored) and the GPT
// header (LBA 1) from dev, then its partition entry array, returning the
// non-empty entries. This runs once at device attach (§4.H).
func DiscoverGPT(dev BlockDevice) ([]GPTEntry, kerrno.Errno) {
	header := make([]byte, SectorSize)
	if err := dev.ReadBlocks(1, header); err != 0 {
		return nil, err
	}
	if string(header[0:8]) != gptSignature {
		return nil, kerrno.ENODEV
	}

	entryLBA := int64(binary.LittleEndian.Uint64(header[72:80]))
	numEntries := binary.LittleEndian.Uint32(header[80:84])
	entrySize := binary.LittleEndian.Uint32(header[84:88])
	if entrySize == 0 {
		return nil, kerrno.EINVAL
	}

	entriesPerSector := SectorSize / entrySize
	sectorsNeeded := (int64(numEntries) + int64(entriesPerSector) - 1) / int64(entriesPerSector)

	buf := make([]byte, sectorsNeeded*SectorSize)
	if err := dev.ReadBlocks(entryLBA, buf); err != 0 {
		return nil, err
	}

	var out []GPTEntry
	for i := uint32(0); i < numEntries; i++ {
		off := i * entrySize
		if int(off+entrySize) > len(buf) {
			break
		}
		var typeGUID [16]byte
		copy(typeGUID[:], buf[off:off+16])
		if allZero(typeGUID[:]) {
			continue
		}
		firstLBA := int64(binary.LittleEndian.Uint64(buf[off+32 : off+40]))
		lastLBA := int64(binary.LittleEndian.Uint64(buf[off+40 : off+48]))
		out = append(out, GPTEntry{FirstLBA: firstLBA, LastLBA: lastLBA, TypeGUID: typeGUID})
	}
	return out, 0
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

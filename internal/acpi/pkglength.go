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

// Package acpi implements ACPI table discovery, namespace construction
// and the AML bytecode interpreter (§4.I).
package acpi

import "github.com/coreklabs/corekernel/internal/kerrno"

// DecodePkgLength decodes an AML PkgLength field starting at buf[0], per
// §4.I: the top two bits of the lead byte give the count of additional
// length bytes (0..3); the total length packs 6 bits of the lead plus 8
// bits of each follow-byte; with 2+ bytes, the lead byte's upper nibble
// (bits 4-7) must be zero. Returns the decoded length (which includes the
// PkgLength field's own encoded byte count) and how many bytes were
// consumed.
func DecodePkgLength(buf []byte) (length int, consumed int, errno kerrno.Errno) {
	if len(buf) == 0 {
		return 0, 0, kerrno.EINVAL
	}
	lead := buf[0]
	followCount := int(lead >> 6)
	if followCount == 0 {
		return int(lead & 0x3F), 1, 0
	}
	if len(buf) < followCount+1 {
		return 0, 0, kerrno.EINVAL
	}
	// With 2+ bytes, the lead byte's upper nibble must be zero: bits 6-7
	// already hold followCount, so only bits 4-5 need checking.
	if lead&0x30 != 0 {
		return 0, 0, kerrno.EINVAL
	}

	n := int(lead & 0x0F)
	shift := 4
	for i := 0; i < followCount; i++ {
		n |= int(buf[1+i]) << uint(shift)
		shift += 8
	}
	return n, followCount + 1, 0
}

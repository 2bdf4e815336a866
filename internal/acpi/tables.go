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

package acpi

import (
	"encoding/binary"

	"github.com/coreklabs/corekernel/internal/kerrno"
)

// TableRef is one entry of the RSDT/XSDT: a 4-character signature plus
// the physical address the loader handed it to us at (here: an index
// into Loader.blobs, standing in for a physical address in the hosted
// model).
type TableRef struct {
	Signature string
	Paddr     uint64
}

// TableBlob is a raw ACPI table: its signature plus payload bytes.
type TableBlob struct {
	Signature string
	Data      []byte
}

// Loader discovers and maps ACPI tables. In the hosted model, "bootloader
// supplied RSDP" and "low-memory scan" both reduce to: the caller (boot
// code reading cfg.BootConfig.AcpiTablesDir) hands us the raw table
// blobs it already read from disk.
type Loader struct {
	tables map[string]*TableBlob
}

func NewLoader(blobs []TableBlob) *Loader {
	l := &Loader{tables: make(map[string]*TableBlob)}
	for i := range blobs {
		b := blobs[i]
		l.tables[b.Signature] = &b
	}
	return l
}

// Table returns the table with the given 4-character signature.
func (l *Loader) Table(signature string) (*TableBlob, bool) {
	t, ok := l.tables[signature]
	return t, ok
}

// RequireFADT validates that FADT is present, as §4.I requires ("Always
// present: FADT").
func (l *Loader) RequireFADT() kerrno.Errno {
	if _, ok := l.tables["FACP"]; !ok { // FADT's on-disk signature is "FACP"
		return kerrno.ENODEV
	}
	return 0
}

// SecondaryTables returns every loaded table other than FADT, in
// insertion order where that was preserved by the caller: DSDT first,
// then SSDTs/PSDTs in discovery order (§4.I "Namespace construction").
func (l *Loader) SecondaryTables(order []string) []*TableBlob {
	var out []*TableBlob
	for _, sig := range order {
		if t, ok := l.tables[sig]; ok {
			out = append(out, t)
		}
	}
	return out
}

// FADTResetRegister decodes the reset register's address from a raw FADT
// blob, per the fixed FADT layout (offset 116 for RESET_REG, a
// Generic_Address_Structure; offset 128 for RESET_VALUE). Real firmware
// ties this to hardware; here it is exposed so Reset() has something
// concrete to read from.
func FADTResetRegister(fadt []byte) (addr uint64, value byte, errno kerrno.Errno) {
	if len(fadt) < 129 {
		return 0, 0, kerrno.EINVAL
	}
	addr = binary.LittleEndian.Uint64(fadt[116+4 : 116+12])
	value = fadt[128]
	return addr, value, 0
}

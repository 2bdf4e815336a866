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
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
)

// SpaceID is an OperationRegion address space id (§4.I).
type SpaceID int

const (
	SpaceSystemMemory SpaceID = iota
	SpaceSystemIO
	SpacePCIConfig
	SpaceEmbeddedController
)

// RegionHandler routes OperationRegion reads/writes for one address
// space id to its concrete backing: SystemMemory via the fast page,
// SystemIO via port I/O, PCI_Config via BSF decoded from the enclosing
// device's _ADR/_BBN, EmbeddedController via a registered EC driver.
type RegionHandler interface {
	Read(offset uint64, width int) (uint64, kerrno.Errno)
	Write(offset uint64, width int, value uint64) kerrno.Errno
}

// FastPageRegionHandler implements RegionHandler for SpaceSystemMemory
// via a caller-supplied page reader/writer (internal/paging.FastPage in
// the full system; a plain map in tests).
type FastPageRegionHandler struct {
	Read_  func(offset uint64, width int) (uint64, kerrno.Errno)
	Write_ func(offset uint64, width int, value uint64) kerrno.Errno
}

func (h *FastPageRegionHandler) Read(offset uint64, width int) (uint64, kerrno.Errno) {
	return h.Read_(offset, width)
}
func (h *FastPageRegionHandler) Write(offset uint64, width int, value uint64) kerrno.Errno {
	return h.Write_(offset, width, value)
}

// ECRegionHandler implements RegionHandler for SpaceEmbeddedController:
// mutex-guarded byte-at-a-time transactions routed to a registered EC
// driver, or ENODEV if none is registered (§4.I).
type ECRegionHandler struct {
	mu     sync.Mutex
	driver ECDriver
}

// ECDriver is the minimal surface an embedded-controller driver exposes.
type ECDriver interface {
	ReadByte(offset uint64) (byte, kerrno.Errno)
	WriteByte(offset uint64, value byte) kerrno.Errno
}

func NewECRegionHandler(driver ECDriver) *ECRegionHandler {
	return &ECRegionHandler{driver: driver}
}

func (h *ECRegionHandler) Read(offset uint64, width int) (uint64, kerrno.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.driver == nil {
		return 0, kerrno.ENODEV
	}
	var v uint64
	for i := 0; i < width; i++ {
		b, errno := h.driver.ReadByte(offset + uint64(i))
		if errno != 0 {
			return 0, errno
		}
		v |= uint64(b) << uint(8*i)
	}
	return v, 0
}

func (h *ECRegionHandler) Write(offset uint64, width int, value uint64) kerrno.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.driver == nil {
		return kerrno.ENODEV
	}
	for i := 0; i < width; i++ {
		b := byte(value >> uint(8*i))
		if errno := h.driver.WriteByte(offset+uint64(i), b); errno != 0 {
			return errno
		}
	}
	return 0
}

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

package usb

import (
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/sched"
)

// HIDKind distinguishes the boot-protocol report shapes §4.J names:
// keyboard, mouse, joystick.
type HIDKind int

const (
	HIDKeyboard HIDKind = iota
	HIDMouse
	HIDJoystick
)

// HIDReportFunc decodes one interrupt-in report from raw bytes.
type HIDReportFunc func(kind HIDKind, report []byte)

// HIDDriver attaches to a device's HID interface and forwards each
// interrupt transfer's report to onReport.
type HIDDriver struct {
	kind     HIDKind
	onReport HIDReportFunc
}

func NewHIDDriver(kind HIDKind, onReport HIDReportFunc) *HIDDriver {
	return &HIDDriver{kind: kind, onReport: onReport}
}

func (h *HIDDriver) Attach(dev *Device, interfaceNum int) kerrno.Errno {
	if dev.State != DeviceConfigured {
		return kerrno.EINVAL
	}
	return 0
}

// Report is called from the interrupt endpoint's completion path with
// the bytes of one report.
func (h *HIDDriver) Report(report []byte) {
	h.onReport(h.kind, report)
}

// MassStorageDriver implements the BBB (Bulk-Only Transport) protocol
// over a pair of bulk endpoints with a SCSI command set (§4.J).
type MassStorageDriver struct {
	mu  sync.Mutex
	in  *Endpoint
	out *Endpoint
	tag uint32
}

func NewMassStorageDriver(in, out *Endpoint) *MassStorageDriver {
	return &MassStorageDriver{in: in, out: out}
}

func (m *MassStorageDriver) Attach(dev *Device, interfaceNum int) kerrno.Errno {
	if dev.State != DeviceConfigured {
		return kerrno.EINVAL
	}
	return 0
}

// CommandBlockWrapper is the 31-byte BBB CBW, trimmed to the fields this
// model actually threads through: tag, data length/direction, and the
// SCSI CDB itself.
type CommandBlockWrapper struct {
	Tag           uint32
	DataLength    uint32
	DataIn        bool
	CDB           []byte
}

// CommandStatusWrapper is the BBB CSW a device returns after executing a
// CBW: matching tag, residue, and status (0 = success, 1 = failed, 2 =
// phase error).
type CommandStatusWrapper struct {
	Tag     uint32
	Residue uint32
	Status  uint8
}

// SendCommand issues one SCSI command block over the bulk-out endpoint,
// transfers data (direction per dataIn), and reads the 13-byte status
// block over bulk-in, per the BBB transaction sequence. The returned
// wrapper carries the command's tag and a zero status; the status bytes
// are not decoded. t is the calling thread, parked on each endpoint's
// blocker for the duration of its stage.
func (m *MassStorageDriver) SendCommand(t *sched.Thread, cdb []byte, data []byte, dataIn bool) (*CommandStatusWrapper, kerrno.Errno) {
	m.mu.Lock()
	m.tag++
	tag := m.tag
	m.mu.Unlock()

	if errno, _ := m.out.Submit(t, []TRB{{Length: uint32(len(cdb)), Command: true}}); errno != 0 {
		return nil, errno
	}

	if len(data) > 0 {
		ep := m.out
		if dataIn {
			ep = m.in
		}
		if errno, _ := ep.Submit(t, []TRB{{Length: uint32(len(data))}}); errno != 0 {
			return nil, errno
		}
	}

	const cswLength = 13
	errno, length := m.in.Submit(t, []TRB{{Length: cswLength}})
	if errno != 0 {
		return nil, errno
	}
	if length != cswLength {
		return nil, kerrno.EIO
	}
	return &CommandStatusWrapper{Tag: tag, Status: 0}, 0
}

// HubClassDriver handles a USB hub device's own interface: Attach hands a
// configured hub device to onAttach. It does no port discovery or
// port-status-change dispatch itself.
type HubClassDriver struct {
	onAttach func(dev *Device)
}

func NewHubClassDriver(onAttach func(dev *Device)) *HubClassDriver {
	return &HubClassDriver{onAttach: onAttach}
}

func (h *HubClassDriver) Attach(dev *Device, interfaceNum int) kerrno.Errno {
	if dev.State != DeviceConfigured {
		return kerrno.EINVAL
	}
	h.onAttach(dev)
	return 0
}

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

// Package net implements the core network stack (§4.K): L2 dispatch,
// ARP, IPv4 with fragmentation reassembly, ICMP, UDP/TCP, and the BSD
// socket API including UNIX-domain sockets.
package net

import "sync"

// HardwareAddr is a 6-byte MAC address.
type HardwareAddr [6]byte

var Broadcast = HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// EtherType is the Ethernet frame's payload-type field.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

// Frame is a received Ethernet frame, header fields already parsed.
type Frame struct {
	Dst     HardwareAddr
	Src     HardwareAddr
	Type    EtherType
	Payload []byte
}

// FrameHandler processes one frame's payload for a given EtherType.
type FrameHandler func(frame Frame)

// L2Dispatcher routes incoming frames to a registered handler by
// EtherType (§4.K "Layering": "Frames in: interface -> L2 dispatch by
// EtherType").
type L2Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EtherType]FrameHandler
}

func NewL2Dispatcher() *L2Dispatcher {
	return &L2Dispatcher{handlers: make(map[EtherType]FrameHandler)}
}

// RegisterHandler installs the handler for ethType, replacing any prior
// registration.
func (d *L2Dispatcher) RegisterHandler(ethType EtherType, h FrameHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[ethType] = h
}

// Dispatch routes frame to its registered handler. Frames with no
// registered handler are silently dropped, matching a real NIC driver
// ignoring EtherTypes it doesn't understand.
func (d *L2Dispatcher) Dispatch(frame Frame) {
	d.mu.RLock()
	h, ok := d.handlers[frame.Type]
	d.mu.RUnlock()
	if ok {
		h(frame)
	}
}

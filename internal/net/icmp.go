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

package net

import (
	"encoding/binary"
	"sync"

	"golang.org/x/time/rate"
)

const (
	icmpTypeEchoReply   = 0
	icmpTypeEchoRequest = 8
	icmpTypeDestUnreach = 3
)

// ICMPSendFunc transmits an ICMP payload to dst via the caller's IPv4
// output path.
type ICMPSendFunc func(dst IPv4Addr, payload []byte)

// UnreachableHandler is notified when an ICMP "destination unreachable"
// arrives for a packet this host sent, keyed by the embedded original
// packet's protocol and addressing (§4.K: "surface unreachables to
// sockets").
type UnreachableHandler func(originalDst IPv4Addr, originalProto uint8)

// ICMP implements the subset of RFC 792 used by the kernel: echo
// request/reply, and relaying destination-unreachable notices to
// interested sockets.
type ICMP struct {
	send  ICMPSendFunc
	limit *rate.Limiter

	mu      sync.Mutex
	unreach []UnreachableHandler
}

func NewICMP(send ICMPSendFunc) *ICMP {
	return &ICMP{send: send}
}

// SetEchoReplyLimiter caps the rate of outgoing echo replies, the same
// defense real stacks apply to ICMP error/reply traffic so a flood of
// forged echo requests can't be amplified into an outbound flood of
// replies. A nil limiter (the default) leaves replies unpaced.
func (i *ICMP) SetEchoReplyLimiter(l *rate.Limiter) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.limit = l
}

// OnUnreachable registers h to be called whenever a destination
// unreachable notice arrives.
func (i *ICMP) OnUnreachable(h UnreachableHandler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.unreach = append(i.unreach, h)
}

// Receive handles one ICMP message arriving from src (h.Src in the IPv4
// header that carried it).
func (i *ICMP) Receive(src IPv4Addr, payload []byte) {
	if len(payload) < 8 {
		return
	}
	switch payload[0] {
	case icmpTypeEchoRequest:
		i.mu.Lock()
		limit := i.limit
		i.mu.Unlock()
		if limit != nil && !limit.Allow() {
			return
		}

		reply := make([]byte, len(payload))
		copy(reply, payload)
		reply[0] = icmpTypeEchoReply
		reply[2], reply[3] = 0, 0
		sum := Checksum(reply)
		binary.BigEndian.PutUint16(reply[2:4], sum)
		i.send(src, reply)

	case icmpTypeDestUnreach:
		// Bytes 8+ carry the IPv4 header of the packet that triggered
		// this notice; protocol is at offset 9 within it, destination
		// at offset 16.
		if len(payload) < 8+20 {
			return
		}
		orig := payload[8:]
		var dst IPv4Addr
		copy(dst[:], orig[16:20])
		proto := orig[9]

		i.mu.Lock()
		handlers := append([]UnreachableHandler(nil), i.unreach...)
		i.mu.Unlock()
		for _, h := range handlers {
			h(dst, proto)
		}
	}
}

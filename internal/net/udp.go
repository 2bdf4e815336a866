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
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
)

// UDPSendFunc hands a UDP datagram to the IPv4 output path.
type UDPSendFunc func(dst IPv4Addr, srcPort, dstPort uint16, payload []byte)

// UDP demultiplexes inbound datagrams to bound sockets by destination
// port (§4.K: "UDP: demux by 4-tuple").
type UDP struct {
	send UDPSendFunc

	mu      sync.RWMutex
	bound   map[uint16]*Socket
	nextEph uint16
}

const ephemeralPortBase = 49152

func NewUDP(send UDPSendFunc) *UDP {
	return &UDP{send: send, bound: make(map[uint16]*Socket), nextEph: ephemeralPortBase}
}

// Bind reserves port for sock, allocating an ephemeral port if port == 0.
func (u *UDP) Bind(sock *Socket, addr IPv4Addr, port uint16) (uint16, kerrno.Errno) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if port == 0 {
		for {
			port = u.nextEph
			u.nextEph++
			if u.nextEph == 0 {
				u.nextEph = ephemeralPortBase
			}
			if _, taken := u.bound[port]; !taken {
				break
			}
		}
	} else if _, taken := u.bound[port]; taken {
		return 0, kerrno.EADDRINUSE
	}

	sock.Bind(Endpoint{Addr: addr, Port: port})
	u.bound[port] = sock
	return port, 0
}

// Unbind releases port, called on socket close.
func (u *UDP) Unbind(port uint16) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.bound, port)
}

// Receive demuxes one inbound UDP datagram to its bound socket, dropping
// it silently if no socket is bound to the destination port (matching a
// real UDP stack's ICMP-port-unreachable path, which the caller is
// expected to trigger separately).
func (u *UDP) Receive(src IPv4Addr, srcPort, dstPort uint16, payload []byte) {
	u.mu.RLock()
	sock, ok := u.bound[dstPort]
	u.mu.RUnlock()
	if !ok {
		return
	}
	sock.Deliver(Endpoint{Addr: src, Port: srcPort}, payload)
}

// SendTo transmits payload from sock's bound port to (dst, dstPort).
func (u *UDP) SendTo(sock *Socket, dst IPv4Addr, dstPort uint16, payload []byte) kerrno.Errno {
	local := sock.LocalEndpoint()
	if local.Port == 0 {
		return kerrno.ENOTCONN
	}
	u.send(dst, local.Port, dstPort, payload)
	return 0
}

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
	"time"

	"github.com/coreklabs/corekernel/internal/kerrno"
)

const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// IPv4Header is an already-parsed IPv4 header.
type IPv4Header struct {
	Src         IPv4Addr
	Dst         IPv4Addr
	Protocol    uint8
	TTL         uint8
	ID          uint16
	FlagMF      bool // more fragments
	FragOffset  uint16 // in 8-byte units
	HeaderCheck uint16
	TotalLength uint16
}

// Checksum computes the Internet checksum (RFC 1071) over data: ones'
// complement sum of 16-bit words, folded and complemented.
func Checksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// VerifyChecksum reports whether header's checksum field is consistent
// with the bytes it covers (§4.K: "verify header checksum").
func VerifyChecksum(headerBytes []byte) bool {
	return Checksum(headerBytes) == 0
}

const reassemblyTimeout = 30 * time.Second

type fragmentKey struct {
	src, dst IPv4Addr
	id       uint16
	proto    uint8
}

type reassemblyEntry struct {
	fragments map[uint16][]byte // keyed by byte offset
	total     int               // total length, known once the last fragment (MF=0) arrives
	received  int
	deadline  time.Time
}

// Reassembler holds in-flight IPv4 fragment sets, dropping any that don't
// complete within reassemblyTimeout (§4.K: "reassemble if fragmented
// (dropped after timeout)").
type Reassembler struct {
	mu      sync.Mutex
	entries map[fragmentKey]*reassemblyEntry
}

func NewReassembler() *Reassembler {
	return &Reassembler{entries: make(map[fragmentKey]*reassemblyEntry)}
}

// Add feeds one fragment's payload (offset is in bytes, already
// multiplied out from the header's 8-byte FragOffset field) into the
// matching datagram's reassembly set. Returns the complete payload and
// ok=true once every fragment has arrived.
func (r *Reassembler) Add(h IPv4Header, offsetBytes int, payload []byte, now time.Time) ([]byte, bool) {
	key := fragmentKey{src: h.Src, dst: h.Dst, id: h.ID, proto: h.Protocol}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &reassemblyEntry{fragments: make(map[uint16][]byte), deadline: now.Add(reassemblyTimeout)}
		r.entries[key] = e
	}

	if _, dup := e.fragments[uint16(offsetBytes)]; !dup {
		e.fragments[uint16(offsetBytes)] = payload
		e.received += len(payload)
	}
	if !h.FlagMF {
		e.total = offsetBytes + len(payload)
	}

	if e.total == 0 || e.received < e.total {
		return nil, false
	}

	out := make([]byte, e.total)
	for off, frag := range e.fragments {
		copy(out[off:], frag)
	}
	delete(r.entries, key)
	return out, true
}

// Sweep drops any reassembly set whose deadline has passed, simulating
// the reassembly timer's expiry (§4.K).
func (r *Reassembler) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if now.After(e.deadline) {
			delete(r.entries, key)
		}
	}
}

// ProtocolHandler processes one fully-reassembled IPv4 payload.
type ProtocolHandler func(h IPv4Header, payload []byte)

// IPv4Input is the IPv4 receive path (§4.K): checksum verification,
// reassembly, then dispatch by protocol number.
type IPv4Input struct {
	reassembler *Reassembler

	mu       sync.RWMutex
	handlers map[uint8]ProtocolHandler
}

func NewIPv4Input() *IPv4Input {
	return &IPv4Input{reassembler: NewReassembler(), handlers: make(map[uint8]ProtocolHandler)}
}

func (in *IPv4Input) RegisterHandler(proto uint8, h ProtocolHandler) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.handlers[proto] = h
}

// Receive processes one IPv4 datagram. headerBytes is the raw header
// (used for the checksum check only); h is its already-parsed form.
func (in *IPv4Input) Receive(headerBytes []byte, h IPv4Header, offsetBytes int, payload []byte, now time.Time) kerrno.Errno {
	if !VerifyChecksum(headerBytes) {
		return kerrno.EINVAL
	}

	full := payload
	if h.FlagMF || offsetBytes != 0 {
		var ok bool
		full, ok = in.reassembler.Add(h, offsetBytes, payload, now)
		if !ok {
			return 0 // held pending more fragments
		}
	}

	in.mu.RLock()
	handler, ok := in.handlers[h.Protocol]
	in.mu.RUnlock()
	if !ok {
		return kerrno.ENOSYS
	}
	handler(h, full)
	return 0
}

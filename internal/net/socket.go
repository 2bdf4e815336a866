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
	"github.com/coreklabs/corekernel/internal/sched"
)

// SockType names the socket's delivery semantics (§4.K: "BSD socket
// API").
type SockType int

const (
	SockDgram SockType = iota
	SockStream
	SockSeqpacket
)

// Endpoint identifies one transport-layer 4-tuple half: an address and
// port.
type Endpoint struct {
	Addr IPv4Addr
	Port uint16
}

// datagram is one buffered inbound message: UDP frames and SEQPACKET
// unix messages both need message-boundary-preserving queues, unlike
// STREAM/TCP's byte-stream semantics.
type datagram struct {
	from    Endpoint
	payload []byte
}

// SocketFlags mirror the subset of fcntl/recv flags the kernel
// implements.
type SocketFlags int

const (
	FlagNonblock SocketFlags = 1 << iota
)

// Socket is the common receive-queue/blocking machinery shared by UDP
// and datagram-mode UNIX sockets: a bounded FIFO of whole messages, with
// a blocking receiver parked on a ThreadBlocker per §5's suspension-point
// contract and an EAGAIN fast path for non-blocking sockets.
type Socket struct {
	mu      sync.Mutex
	queue   []datagram
	maxLen  int
	blocker *sched.ThreadBlocker
	waiter  *sched.Thread // at most one blocked receiver; a socket is owned by one fd
	closed  bool

	local Endpoint
	typ   SockType
}

const defaultSocketQueueLen = 128

func NewSocket(typ SockType) *Socket {
	return &Socket{
		maxLen:  defaultSocketQueueLen,
		blocker: sched.NewThreadBlocker(),
		typ:     typ,
	}
}

func (s *Socket) Bind(local Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = local
}

func (s *Socket) LocalEndpoint() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Deliver enqueues one message for a blocked or future receiver, dropping
// it if the socket's queue is full (§4.K: datagram sockets never block
// the sender; overflow is silently dropped like a real UDP stack).
func (s *Socket) Deliver(from Endpoint, payload []byte) {
	s.mu.Lock()
	if s.closed || len(s.queue) >= s.maxLen {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, datagram{from: from, payload: payload})
	waiter := s.waiter
	s.mu.Unlock()
	if waiter != nil {
		s.blocker.Unblock(waiter)
	}
}

// Receive pops the oldest buffered message. If flags has FlagNonblock
// set and the queue is empty, returns EAGAIN immediately; otherwise the
// calling thread blocks until a message arrives or the socket closes.
func (s *Socket) Receive(t *sched.Thread, buf []byte, flags SocketFlags) (int, Endpoint, kerrno.Errno) {
	s.mu.Lock()
	for len(s.queue) == 0 && !s.closed {
		if flags&FlagNonblock != 0 {
			s.mu.Unlock()
			return 0, Endpoint{}, kerrno.EAGAIN
		}
		s.waiter = t
		s.blocker.BlockIndefinite(t, &s.mu)
		s.waiter = nil
	}
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return 0, Endpoint{}, kerrno.ESHUTDOWN
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	n := copy(buf, d.payload)
	return n, d.from, 0
}

// Close marks the socket shut down, waking any blocked receiver with
// ESHUTDOWN.
func (s *Socket) Close() {
	s.mu.Lock()
	s.closed = true
	waiter := s.waiter
	s.mu.Unlock()
	if waiter != nil {
		s.blocker.Unblock(waiter)
	}
}

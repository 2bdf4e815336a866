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
	"github.com/coreklabs/corekernel/internal/vfs"
)

// UnixAddr is an abstract-namespace or path-bound UNIX domain socket
// address. The kernel never touches a filesystem inode for these; a
// bind just reserves the string in a UnixRegistry (§4.K: "UNIX domain
// sockets: STREAM and SEQPACKET, addressed by an abstract path").
type UnixAddr string

// UnixConn is a connected STREAM pair's one end: two vfs.Pipe buffers
// cross-wired with the peer, reusing the pipe's existing blocking byte
// buffer instead of a new one (it was already built general enough for
// this).
type UnixConn struct {
	mu     sync.Mutex
	local  UnixAddr
	remote UnixAddr
	recv   *vfs.Pipe // this end reads from here
	send   *vfs.Pipe // this end writes here; the peer's recv
	closed bool
}

// newUnixConnPair builds two cross-wired STREAM ends: a's send is b's
// recv and vice versa.
func newUnixConnPair(clientAddr, serverAddr UnixAddr) (client, server *UnixConn) {
	clientToServer := vfs.NewPipe(defaultRecvBytes)
	serverToClient := vfs.NewPipe(defaultRecvBytes)
	client = &UnixConn{local: clientAddr, remote: serverAddr, recv: serverToClient, send: clientToServer}
	server = &UnixConn{local: serverAddr, remote: clientAddr, recv: clientToServer, send: serverToClient}
	return client, server
}

func (c *UnixConn) Write(payload []byte) (int, kerrno.Errno) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, kerrno.EPIPE
	}
	return c.send.Write(payload)
}

func (c *UnixConn) Read(buf []byte) (int, kerrno.Errno) {
	return c.recv.Read(buf)
}

// Close shuts down both directions: the peer's next Read sees EOF and
// any further Write from this end fails with EPIPE.
func (c *UnixConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.send.CloseWriter()
	c.recv.CloseReader()
}

// UnixListener is a bound STREAM socket in the listening state, queuing
// accepted connections the way TCPConn's acceptQueue does for passive
// open.
type UnixListener struct {
	addr UnixAddr

	mu            sync.Mutex
	backlog       []*UnixConn
	acceptBlocker *sched.ThreadBlocker
	acceptWaiter  *sched.Thread
	closed        bool
}

func newUnixListener(addr UnixAddr) *UnixListener {
	return &UnixListener{addr: addr, acceptBlocker: sched.NewThreadBlocker()}
}

// connect is called by a dialer: it builds the connected pair, queues
// the server end for Accept, and hands the client end back.
func (l *UnixListener) connect(clientAddr UnixAddr) (*UnixConn, kerrno.Errno) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, kerrno.ECONNREFUSED
	}
	client, server := newUnixConnPair(clientAddr, l.addr)
	l.backlog = append(l.backlog, server)
	waiter := l.acceptWaiter
	l.mu.Unlock()

	if waiter != nil {
		l.acceptBlocker.Unblock(waiter)
	}
	return client, 0
}

// Accept blocks t until a pending connection is queued.
func (l *UnixListener) Accept(t *sched.Thread, mu sync.Locker) (*UnixConn, kerrno.Errno) {
	mu.Lock()
	l.mu.Lock()
	for len(l.backlog) == 0 {
		if l.closed {
			l.mu.Unlock()
			mu.Unlock()
			return nil, kerrno.EINVAL
		}
		l.acceptWaiter = t
		l.mu.Unlock()
		l.acceptBlocker.BlockIndefinite(t, mu)
		l.mu.Lock()
	}
	conn := l.backlog[0]
	l.backlog = l.backlog[1:]
	l.mu.Unlock()
	mu.Unlock()
	return conn, 0
}

func (l *UnixListener) Close() {
	l.mu.Lock()
	l.closed = true
	waiter := l.acceptWaiter
	l.mu.Unlock()
	if waiter != nil {
		l.acceptBlocker.Unblock(waiter)
	}
}

// unixMessage is one buffered SEQPACKET datagram, message-boundary
// preserving like Socket's UDP queue but addressed by UnixAddr instead
// of an IPv4 Endpoint.
type unixMessage struct {
	from    UnixAddr
	payload []byte
}

// UnixDgramSocket is the SEQPACKET counterpart of Socket: the same
// bounded-FIFO-plus-single-waiter design, rebuilt here rather than
// reused directly because Socket's queue is keyed by IPv4 Endpoint and
// a UNIX socket has no IP address to report.
type UnixDgramSocket struct {
	mu      sync.Mutex
	local   UnixAddr
	queue   []unixMessage
	maxLen  int
	blocker *sched.ThreadBlocker
	waiter  *sched.Thread
	closed  bool
}

func NewUnixDgramSocket() *UnixDgramSocket {
	return &UnixDgramSocket{maxLen: defaultSocketQueueLen, blocker: sched.NewThreadBlocker()}
}

func (s *UnixDgramSocket) Deliver(from UnixAddr, payload []byte) {
	s.mu.Lock()
	if s.closed || len(s.queue) >= s.maxLen {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, unixMessage{from: from, payload: payload})
	waiter := s.waiter
	s.mu.Unlock()
	if waiter != nil {
		s.blocker.Unblock(waiter)
	}
}

func (s *UnixDgramSocket) Receive(t *sched.Thread, buf []byte, flags SocketFlags) (int, UnixAddr, kerrno.Errno) {
	s.mu.Lock()
	for len(s.queue) == 0 && !s.closed {
		if flags&FlagNonblock != 0 {
			s.mu.Unlock()
			return 0, "", kerrno.EAGAIN
		}
		s.waiter = t
		s.blocker.BlockIndefinite(t, &s.mu)
		s.waiter = nil
	}
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return 0, "", kerrno.ESHUTDOWN
	}
	m := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	n := copy(buf, m.payload)
	return n, m.from, 0
}

func (s *UnixDgramSocket) Close() {
	s.mu.Lock()
	s.closed = true
	waiter := s.waiter
	s.mu.Unlock()
	if waiter != nil {
		s.blocker.Unblock(waiter)
	}
}

// UnixRegistry is the kernel-global bind table for UNIX domain sockets:
// one namespace for STREAM listeners, another for SEQPACKET sockets,
// mirroring the map-keyed-by-address demux pattern UDP and TCPStack
// already use for their own bind tables.
type UnixRegistry struct {
	mu      sync.Mutex
	streams map[UnixAddr]*UnixListener
	dgrams  map[UnixAddr]*UnixDgramSocket
}

func NewUnixRegistry() *UnixRegistry {
	return &UnixRegistry{
		streams: make(map[UnixAddr]*UnixListener),
		dgrams:  make(map[UnixAddr]*UnixDgramSocket),
	}
}

// ListenStream binds and starts listening on addr for SOCK_STREAM.
func (r *UnixRegistry) ListenStream(addr UnixAddr) (*UnixListener, kerrno.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.streams[addr]; taken {
		return nil, kerrno.EADDRINUSE
	}
	l := newUnixListener(addr)
	r.streams[addr] = l
	return l, 0
}

// UnlistenStream removes addr's listener, called on its Close.
func (r *UnixRegistry) UnlistenStream(addr UnixAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, addr)
}

// DialStream connects clientAddr to whatever is listening on addr.
func (r *UnixRegistry) DialStream(clientAddr, addr UnixAddr) (*UnixConn, kerrno.Errno) {
	r.mu.Lock()
	l, ok := r.streams[addr]
	r.mu.Unlock()
	if !ok {
		return nil, kerrno.ECONNREFUSED
	}
	return l.connect(clientAddr)
}

// BindDgram reserves addr for a SOCK_SEQPACKET socket.
func (r *UnixRegistry) BindDgram(addr UnixAddr, sock *UnixDgramSocket) kerrno.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.dgrams[addr]; taken {
		return kerrno.EADDRINUSE
	}
	sock.local = addr
	r.dgrams[addr] = sock
	return 0
}

func (r *UnixRegistry) UnbindDgram(addr UnixAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dgrams, addr)
}

// SendToDgram delivers payload from one bound SEQPACKET socket to the
// socket bound at dst.
func (r *UnixRegistry) SendToDgram(from UnixAddr, dst UnixAddr, payload []byte) kerrno.Errno {
	r.mu.Lock()
	sock, ok := r.dgrams[dst]
	r.mu.Unlock()
	if !ok {
		return kerrno.ECONNREFUSED
	}
	sock.Deliver(from, payload)
	return 0
}

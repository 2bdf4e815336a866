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

	"github.com/coreklabs/corekernel/cfg"
	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/kmetrics"
	"github.com/coreklabs/corekernel/internal/sched"
	"github.com/coreklabs/corekernel/internal/vfs"
)

// TCPState is one of RFC 793's 11 connection states.
type TCPState int

const (
	TCPClosed TCPState = iota
	TCPListen
	TCPSynSent
	TCPSynReceived
	TCPEstablished
	TCPFinWait1
	TCPFinWait2
	TCPCloseWait
	TCPClosing
	TCPLastAck
	TCPTimeWait
)

func (s TCPState) String() string {
	switch s {
	case TCPClosed:
		return "CLOSED"
	case TCPListen:
		return "LISTEN"
	case TCPSynSent:
		return "SYN_SENT"
	case TCPSynReceived:
		return "SYN_RECEIVED"
	case TCPEstablished:
		return "ESTABLISHED"
	case TCPFinWait1:
		return "FIN_WAIT_1"
	case TCPFinWait2:
		return "FIN_WAIT_2"
	case TCPCloseWait:
		return "CLOSE_WAIT"
	case TCPClosing:
		return "CLOSING"
	case TCPLastAck:
		return "LAST_ACK"
	case TCPTimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

// TCPFlags mirrors the control-bit octet of a TCP header.
type TCPFlags uint8

const (
	TCPFlagFIN TCPFlags = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
)

// TCPSegment is an already-parsed TCP segment.
type TCPSegment struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   TCPFlags
	Window  uint16
	Payload []byte
}

// TCPSendFunc hands a segment addressed to dst to the IPv4 output path.
type TCPSendFunc func(dst IPv4Addr, seg TCPSegment)

// AfterFunc schedules fire to run after d, returning a cancel function —
// the kernel-timer equivalent threaded through so connections don't
// depend on a specific clock source (§4.K retransmit and 2MSL timers).
type AfterFunc func(d time.Duration, fire func()) (cancel func())

const (
	delayedACKDelay  = 200 * time.Millisecond
	defaultRecvBytes = 64 * 1024
	defaultSendBytes = 64 * 1024
	initialRTOMillis = 1000
)

// retransSegment is one unacknowledged outbound segment awaiting ACK or
// retransmission.
type retransSegment struct {
	seq      uint32
	flags    TCPFlags
	payload  []byte
	sentAt   time.Time
	attempts int
}

// TCPConn is one RFC 793 transmission control block.
type TCPConn struct {
	mu    sync.Mutex
	state TCPState

	local, remote Endpoint
	send          TCPSendFunc
	after         AfterFunc

	sndUna uint32
	sndNxt uint32
	sndWnd uint16
	iss    uint32

	rcvNxt uint32
	rcvWnd uint16
	irs    uint32

	// recvBuf delivers in-order application bytes to Read; sendBuf queues
	// bytes Write has accepted but the segmenter hasn't yet put on the wire.
	recvBuf *vfs.Pipe
	sendBuf *vfs.Pipe

	// outOfOrder holds segments that arrived ahead of rcvNxt, keyed by
	// their starting sequence number, until the gap is filled (§4.K:
	// "out-of-order segments in a per-socket ordered map keyed by
	// sequence number").
	outOfOrder map[uint32][]byte

	retransQueue []*retransSegment
	srtt         time.Duration
	rttvar       time.Duration
	rto          time.Duration
	rtoTimer     func()
	hasSRTT      bool

	nodelay    bool
	unacked    int // bytes sent, not yet acked, used for Nagle's outstanding-data check
	delayedACK func()

	connectBlocker *sched.ThreadBlocker
	connectWaiter  *sched.Thread
	connectErrno   kerrno.Errno
	connectDone    bool

	acceptQueue   []*TCPConn
	acceptBlocker *sched.ThreadBlocker
	acceptWaiter  *sched.Thread

	// onChild, if set, is called (without c.mu held) whenever a passive
	// open on this listener spawns a child control block, so a
	// demultiplexer can index it under its own 4-tuple.
	onChild func(child *TCPConn)

	timeWaitCancel func()
}

func clampRTO(d time.Duration) time.Duration {
	if d < time.Duration(cfg.MinTCPRTOMillis)*time.Millisecond {
		return time.Duration(cfg.MinTCPRTOMillis) * time.Millisecond
	}
	if d > time.Duration(cfg.MaxTCPRTOMillis)*time.Millisecond {
		return time.Duration(cfg.MaxTCPRTOMillis) * time.Millisecond
	}
	return d
}

// NewTCPConn constructs an idle (CLOSED) control block. iss seeds the
// initial send sequence number; a real kernel derives it from a clock,
// the caller supplies it here instead.
func NewTCPConn(send TCPSendFunc, after AfterFunc, iss uint32) *TCPConn {
	return &TCPConn{
		state:          TCPClosed,
		send:           send,
		after:          after,
		iss:            iss,
		sndUna:         iss,
		sndNxt:         iss,
		rcvWnd:         defaultRecvBytes,
		recvBuf:        vfs.NewPipe(defaultRecvBytes),
		sendBuf:        vfs.NewPipe(defaultSendBytes),
		outOfOrder:     make(map[uint32][]byte),
		rto:            time.Duration(initialRTOMillis) * time.Millisecond,
		connectBlocker: sched.NewThreadBlocker(),
		acceptBlocker:  sched.NewThreadBlocker(),
	}
}

// SetNoDelay toggles TCP_NODELAY, disabling Nagle's algorithm per §4.K.
func (c *TCPConn) SetNoDelay(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodelay = v
}

func (c *TCPConn) State() TCPState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Listen moves the connection into LISTEN, the passive-open starting
// state.
func (c *TCPConn) Listen(local Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = local
	c.state = TCPListen
}

// Connect performs the active open: sends the initial SYN and blocks t
// until the handshake completes or times out.
func (c *TCPConn) Connect(t *sched.Thread, mu sync.Locker, local, remote Endpoint, timeout time.Duration) kerrno.Errno {
	c.mu.Lock()
	c.local, c.remote = local, remote
	c.state = TCPSynSent
	c.enqueueControlLocked(TCPFlagSYN)
	c.mu.Unlock()

	mu.Lock()
	c.mu.Lock()
	if c.connectDone {
		errno := c.connectErrno
		c.mu.Unlock()
		mu.Unlock()
		return errno
	}
	c.connectWaiter = t
	c.mu.Unlock()

	result := c.connectBlocker.BlockWithTimeoutNs(t, mu, timeout.Nanoseconds(), func(fire func()) { c.after(timeout, fire) })
	mu.Unlock()

	if result == sched.WaitTimedOut {
		c.mu.Lock()
		c.state = TCPClosed
		if c.rtoTimer != nil {
			c.rtoTimer()
			c.rtoTimer = nil
		}
		c.mu.Unlock()
		return kerrno.ETIMEDOUT
	}

	c.mu.Lock()
	errno := c.connectErrno
	c.mu.Unlock()
	return errno
}

// Accept blocks t until a fully-established connection from the LISTEN
// queue is available.
func (c *TCPConn) Accept(t *sched.Thread, mu sync.Locker) (*TCPConn, kerrno.Errno) {
	mu.Lock()
	c.mu.Lock()
	for len(c.acceptQueue) == 0 {
		c.acceptWaiter = t
		c.mu.Unlock()
		c.acceptBlocker.BlockIndefinite(t, mu)
		c.mu.Lock()
	}
	conn := c.acceptQueue[0]
	c.acceptQueue = c.acceptQueue[1:]
	c.mu.Unlock()
	mu.Unlock()
	return conn, 0
}

func (c *TCPConn) enqueueControlLocked(flags TCPFlags) {
	seg := &retransSegment{seq: c.sndNxt, flags: flags, sentAt: time.Now()}
	c.sndNxt++
	c.retransQueue = append(c.retransQueue, seg)
	c.transmitLocked(seg)
	c.armRTOLocked()
}

func (c *TCPConn) transmitLocked(seg *retransSegment) {
	seg.attempts++
	seg.sentAt = time.Now()
	ack := uint32(0)
	flags := seg.flags
	if c.state != TCPClosed && c.state != TCPListen {
		flags |= TCPFlagACK
		ack = c.rcvNxt
	}
	c.send(c.remote.Addr, TCPSegment{
		SrcPort: c.local.Port, DstPort: c.remote.Port,
		Seq: seg.seq, Ack: ack, Flags: flags, Window: c.rcvWnd, Payload: seg.payload,
	})
}

func (c *TCPConn) armRTOLocked() {
	if c.rtoTimer != nil || c.after == nil {
		return
	}
	rto := c.rto
	c.rtoTimer = c.after(rto, func() { c.onRTOExpire() })
}

// onRTOExpire retransmits the oldest unacked segment and doubles the
// timeout, per the classic Karn/Jacobson back-off (§4.K).
func (c *TCPConn) onRTOExpire() {
	c.mu.Lock()
	c.rtoTimer = nil
	if len(c.retransQueue) == 0 {
		c.mu.Unlock()
		return
	}
	c.rto = clampRTO(c.rto * 2)
	oldest := c.retransQueue[0]
	if c.state == TCPSynSent && oldest.attempts >= 2 {
		// oldest.attempts counts transmitLocked calls: 1 for the original
		// SYN, 2 once this handler has already retransmitted it once.
		// The next timeout after that gives up, matching §4.K's "returns
		// ETIMEDOUT after exactly one SYN retransmit" example.
		c.state = TCPClosed
		waiter := c.connectWaiter
		c.connectErrno = kerrno.ETIMEDOUT
		c.connectDone = true
		c.mu.Unlock()
		if waiter != nil {
			c.connectBlocker.Unblock(waiter)
		}
		return
	}
	kmetrics.TCPRetransmits.WithLabelValues("rto").Inc()
	c.transmitLocked(oldest)
	c.armRTOLocked()
	c.mu.Unlock()
}

// updateRTOLocked applies Jacobson/Karels SRTT and RTTVAR smoothing
// (RFC 6298 §2) to one fresh RTT sample.
func (c *TCPConn) updateRTOLocked(sample time.Duration) {
	if !c.hasSRTT {
		c.srtt = sample
		c.rttvar = sample / 2
		c.hasSRTT = true
	} else {
		diff := c.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		c.rttvar = (3*c.rttvar + diff) / 4
		c.srtt = (7*c.srtt + sample) / 8
	}
	c.rto = clampRTO(c.srtt + 4*c.rttvar)
}

// ackLocked drops every retransmit-queue entry fully covered by ack,
// stopping the RTO timer once the queue drains and sampling RTT from any
// segment that was never retransmitted (Karn's algorithm: retransmitted
// segments don't yield a usable RTT sample).
func (c *TCPConn) ackLocked(ack uint32) {
	for len(c.retransQueue) > 0 {
		seg := c.retransQueue[0]
		end := seg.seq + uint32(len(seg.payload))
		if seg.flags&(TCPFlagSYN|TCPFlagFIN) != 0 {
			end++
		}
		if seqLE(end, ack) {
			if seg.attempts == 1 {
				c.updateRTOLocked(time.Since(seg.sentAt))
			}
			if c.unacked >= len(seg.payload) {
				c.unacked -= len(seg.payload)
			}
			c.retransQueue = c.retransQueue[1:]
			continue
		}
		break
	}
	if seqGT(ack, c.sndUna) {
		c.sndUna = ack
	}
	if len(c.retransQueue) == 0 && c.rtoTimer != nil {
		c.rtoTimer()
		c.rtoTimer = nil
	}
}

func seqLE(a, b uint32) bool { return int32(a-b) <= 0 }
func seqGT(a, b uint32) bool { return int32(a-b) > 0 }

// Write segments payload for transmission, respecting Nagle's algorithm
// unless TCP_NODELAY is set: a small segment is held back while data is
// still unacked, coalescing with whatever Write sends next.
func (c *TCPConn) Write(payload []byte) (int, kerrno.Errno) {
	c.mu.Lock()
	if c.state != TCPEstablished && c.state != TCPCloseWait {
		c.mu.Unlock()
		return 0, kerrno.ENOTCONN
	}
	if !c.nodelay && c.unacked > 0 && len(payload) < 536 {
		n, errno := c.sendBuf.Write(payload)
		c.mu.Unlock()
		return n, errno
	}
	seg := &retransSegment{seq: c.sndNxt, flags: TCPFlagPSH, payload: append([]byte(nil), payload...)}
	c.sndNxt += uint32(len(payload))
	c.unacked += len(payload)
	c.retransQueue = append(c.retransQueue, seg)
	c.transmitLocked(seg)
	c.armRTOLocked()
	c.mu.Unlock()
	return len(payload), 0
}

// Read drains reassembled in-order application data.
func (c *TCPConn) Read(buf []byte) (int, kerrno.Errno) {
	return c.recvBuf.Read(buf)
}

// deliverDataLocked folds seg's payload into rcvNxt-ordered delivery,
// holding anything past a gap in outOfOrder until the gap fills.
func (c *TCPConn) deliverDataLocked(seg TCPSegment) {
	if len(seg.Payload) == 0 {
		return
	}
	if seg.Seq != c.rcvNxt {
		if seqGT(seg.Seq, c.rcvNxt) {
			c.outOfOrder[seg.Seq] = seg.Payload
		}
		return
	}
	c.recvBuf.Write(seg.Payload)
	c.rcvNxt += uint32(len(seg.Payload))
	for {
		next, ok := c.outOfOrder[c.rcvNxt]
		if !ok {
			break
		}
		delete(c.outOfOrder, c.rcvNxt)
		c.recvBuf.Write(next)
		c.rcvNxt += uint32(len(next))
	}
}

// scheduleDelayedACKLocked defers a bare ACK by delayedACKDelay, coalescing
// with whatever else arrives in that window (§4.K "delayed ACKs").
func (c *TCPConn) scheduleDelayedACKLocked() {
	if c.delayedACK != nil || c.after == nil {
		return
	}
	c.delayedACK = c.after(delayedACKDelay, func() {
		c.mu.Lock()
		c.delayedACK = nil
		c.transmitLocked(&retransSegment{seq: c.sndNxt})
		c.mu.Unlock()
	})
}

// Receive processes one inbound segment against this control block,
// implementing the RFC 793 state-transition table's documented edges.
func (c *TCPConn) Receive(remote IPv4Addr, seg TCPSegment) {
	c.mu.Lock()

	if seg.Flags&TCPFlagRST != 0 {
		c.state = TCPClosed
		c.mu.Unlock()
		return
	}

	switch c.state {
	case TCPListen:
		if seg.Flags&TCPFlagSYN != 0 {
			child := NewTCPConn(c.send, c.after, c.iss+1)
			child.local = c.local
			child.remote = Endpoint{Addr: remote, Port: seg.SrcPort}
			child.irs = seg.Seq
			child.rcvNxt = seg.Seq + 1
			child.state = TCPSynReceived
			child.enqueueControlLocked(TCPFlagSYN)
			c.acceptQueue = append(c.acceptQueue, child)
			waiter := c.acceptWaiter
			onChild := c.onChild
			c.mu.Unlock()
			if onChild != nil {
				onChild(child)
			}
			if waiter != nil {
				c.acceptBlocker.Unblock(waiter)
			}
			return
		}

	case TCPSynSent:
		if seg.Flags&TCPFlagSYN != 0 {
			c.irs = seg.Seq
			c.rcvNxt = seg.Seq + 1
			if seg.Flags&TCPFlagACK != 0 {
				c.ackLocked(seg.Ack)
				c.state = TCPEstablished
				c.transmitLocked(&retransSegment{seq: c.sndNxt})
				waiter := c.connectWaiter
				c.connectErrno = 0
				c.connectDone = true
				c.mu.Unlock()
				if waiter != nil {
					c.connectBlocker.Unblock(waiter)
				}
				return
			}
			c.state = TCPSynReceived
		}

	case TCPSynReceived:
		if seg.Flags&TCPFlagACK != 0 {
			c.ackLocked(seg.Ack)
			c.state = TCPEstablished
		}

	case TCPEstablished:
		c.deliverDataLocked(seg)
		if seg.Flags&TCPFlagACK != 0 {
			c.ackLocked(seg.Ack)
		}
		if seg.Flags&TCPFlagFIN != 0 {
			c.rcvNxt++
			c.recvBuf.CloseWriter()
			c.transmitLocked(&retransSegment{seq: c.sndNxt})
			c.state = TCPCloseWait
		} else if len(seg.Payload) > 0 {
			c.scheduleDelayedACKLocked()
		}

	case TCPFinWait1:
		c.deliverDataLocked(seg)
		if seg.Flags&TCPFlagACK != 0 {
			c.ackLocked(seg.Ack)
			c.state = TCPFinWait2
		}
		if seg.Flags&TCPFlagFIN != 0 {
			c.rcvNxt++
			c.recvBuf.CloseWriter()
			c.transmitLocked(&retransSegment{seq: c.sndNxt})
			if c.state == TCPFinWait2 {
				c.enterTimeWaitLocked()
			} else {
				c.state = TCPClosing
			}
		}

	case TCPFinWait2:
		c.deliverDataLocked(seg)
		if seg.Flags&TCPFlagFIN != 0 {
			c.rcvNxt++
			c.recvBuf.CloseWriter()
			c.transmitLocked(&retransSegment{seq: c.sndNxt})
			c.enterTimeWaitLocked()
		}

	case TCPClosing:
		if seg.Flags&TCPFlagACK != 0 {
			c.ackLocked(seg.Ack)
			c.enterTimeWaitLocked()
		}

	case TCPLastAck:
		if seg.Flags&TCPFlagACK != 0 {
			c.ackLocked(seg.Ack)
			c.state = TCPClosed
		}
	}

	c.mu.Unlock()
}

// enterTimeWaitLocked starts the 2*MSL timer that finally retires the
// connection (§4.K "MSL=30s for TIME_WAIT").
func (c *TCPConn) enterTimeWaitLocked() {
	c.state = TCPTimeWait
	if c.after == nil {
		return
	}
	msl := time.Duration(cfg.TCPMSLSeconds) * time.Second
	c.timeWaitCancel = c.after(2*msl, func() {
		c.mu.Lock()
		c.state = TCPClosed
		c.mu.Unlock()
	})
}

// Close performs the active-close half of the state machine, sending a
// FIN and transitioning toward TIME_WAIT or LAST_ACK depending on
// whether the peer already closed its half.
func (c *TCPConn) Close() kerrno.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case TCPEstablished:
		c.enqueueControlLocked(TCPFlagFIN)
		c.state = TCPFinWait1
	case TCPCloseWait:
		c.enqueueControlLocked(TCPFlagFIN)
		c.state = TCPLastAck
	case TCPSynSent, TCPListen:
		c.state = TCPClosed
	default:
		return kerrno.ENOTCONN
	}
	return 0
}

// tcpTuple is the (local port, remote addr, remote port) key a TCPStack
// demuxes established connections by; the local address is implied by
// the single interface the stack is bound to.
type tcpTuple struct {
	localPort  uint16
	remoteAddr IPv4Addr
	remotePort uint16
}

// TCPStack demuxes inbound segments by local port to either a listener
// or an established connection's 4-tuple (§4.K: "UDP/TCP: demux by
// (local-ip, local-port, remote-ip, remote-port) onto sockets").
type TCPStack struct {
	send  TCPSendFunc
	after AfterFunc

	mu        sync.Mutex
	listeners map[uint16]*TCPConn
	conns     map[tcpTuple]*TCPConn
	nextEph   uint16
	nextISS   uint32
}

func NewTCPStack(send TCPSendFunc, after AfterFunc) *TCPStack {
	return &TCPStack{
		send:      send,
		after:     after,
		listeners: make(map[uint16]*TCPConn),
		conns:     make(map[tcpTuple]*TCPConn),
		nextEph:   ephemeralPortBase,
		nextISS:   1,
	}
}

func (s *TCPStack) allocISS() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss := s.nextISS
	s.nextISS += 64000
	return iss
}

// Listen registers a new passive-open socket on port, returning EADDRINUSE
// if something is already listening there.
func (s *TCPStack) Listen(addr IPv4Addr, port uint16) (*TCPConn, kerrno.Errno) {
	iss := s.allocISS() // takes s.mu itself, so it runs before the lock below
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.listeners[port]; taken {
		return nil, kerrno.EADDRINUSE
	}
	conn := NewTCPConn(s.send, s.after, iss)
	conn.Listen(Endpoint{Addr: addr, Port: port})
	conn.onChild = func(child *TCPConn) { s.Register(child) }
	s.listeners[port] = conn
	return conn, 0
}

// Dial allocates an ephemeral local port and a fresh control block for an
// active-open connection to (dst, dstPort); the caller still calls
// Connect on the result to run the handshake.
func (s *TCPStack) Dial(localAddr IPv4Addr) (*TCPConn, uint16) {
	s.mu.Lock()
	port := s.nextEph
	s.nextEph++
	if s.nextEph == 0 {
		s.nextEph = ephemeralPortBase
	}
	s.mu.Unlock()
	return NewTCPConn(s.send, s.after, s.allocISS()), port
}

// Connect allocates an ephemeral local port, indexes the new control
// block under its 4-tuple, and runs the active-open handshake. The
// 4-tuple must be registered before the SYN goes out: a same-host
// deployment can loop a reply back into Receive before Connect itself
// returns, and an unregistered connection would have nowhere to route it.
func (s *TCPStack) Connect(t *sched.Thread, mu sync.Locker, localAddr IPv4Addr, remote Endpoint, timeout time.Duration) (*TCPConn, kerrno.Errno) {
	conn, port := s.Dial(localAddr)
	local := Endpoint{Addr: localAddr, Port: port}

	conn.mu.Lock()
	conn.local, conn.remote = local, remote
	conn.mu.Unlock()
	s.Register(conn)

	errno := conn.Connect(t, mu, local, remote, timeout)
	if errno != 0 {
		s.Unregister(conn)
	}
	return conn, errno
}

// Register indexes conn under its current 4-tuple so Receive can find it;
// called once a connection leaves LISTEN (either via Dial+Connect or via
// a listener accepting a new child).
func (s *TCPStack) Register(conn *TCPConn) {
	conn.mu.Lock()
	tuple := tcpTuple{localPort: conn.local.Port, remoteAddr: conn.remote.Addr, remotePort: conn.remote.Port}
	conn.mu.Unlock()

	s.mu.Lock()
	s.conns[tuple] = conn
	s.mu.Unlock()
}

// Unregister removes conn's 4-tuple entry, called once it reaches CLOSED.
func (s *TCPStack) Unregister(conn *TCPConn) {
	conn.mu.Lock()
	tuple := tcpTuple{localPort: conn.local.Port, remoteAddr: conn.remote.Addr, remotePort: conn.remote.Port}
	conn.mu.Unlock()

	s.mu.Lock()
	delete(s.conns, tuple)
	s.mu.Unlock()
}

// Receive dispatches one inbound segment to its established connection,
// falling back to the listener on that local port for a fresh SYN.
func (s *TCPStack) Receive(remote IPv4Addr, seg TCPSegment) {
	tuple := tcpTuple{localPort: seg.DstPort, remoteAddr: remote, remotePort: seg.SrcPort}

	s.mu.Lock()
	conn, ok := s.conns[tuple]
	if !ok {
		conn, ok = s.listeners[seg.DstPort]
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	conn.Receive(remote, seg)
}

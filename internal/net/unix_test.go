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

package net_test

import (
	"sync"
	"testing"
	"time"

	"github.com/coreklabs/corekernel/internal/kerrno"
	netstack "github.com/coreklabs/corekernel/internal/net"
	"github.com/coreklabs/corekernel/internal/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnixRegistry_DialWithoutListenerIsRefused(t *testing.T) {
	r := netstack.NewUnixRegistry()
	_, errno := r.DialStream("/tmp/client", "/tmp/nothing")
	assert.Equal(t, kerrno.ECONNREFUSED, errno)
}

func TestUnixRegistry_ListenAddressConflict(t *testing.T) {
	r := netstack.NewUnixRegistry()
	_, errno := r.ListenStream("/tmp/srv")
	require.Equal(t, kerrno.Errno(0), errno)

	_, errno = r.ListenStream("/tmp/srv")
	assert.Equal(t, kerrno.EADDRINUSE, errno)
}

func TestUnixStream_ConnectAcceptThenDataBothWays(t *testing.T) {
	r := netstack.NewUnixRegistry()
	listener, errno := r.ListenStream("/tmp/srv")
	require.Equal(t, kerrno.Errno(0), errno)

	var amu sync.Mutex
	acceptTh := sched.NewThread(0, nil)
	acceptDone := make(chan struct{})
	var server *netstack.UnixConn
	go func() {
		server, _ = listener.Accept(acceptTh, &amu)
		close(acceptDone)
	}()

	time.Sleep(10 * time.Millisecond)
	client, errno := r.DialStream("/tmp/client", "/tmp/srv")
	require.Equal(t, kerrno.Errno(0), errno)
	<-acceptDone
	require.NotNil(t, server)

	n, errno := client.Write([]byte("ping"))
	require.Equal(t, kerrno.Errno(0), errno)
	assert.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, errno = server.Read(buf)
	require.Equal(t, kerrno.Errno(0), errno)
	assert.Equal(t, "ping", string(buf[:n]))

	n, errno = server.Write([]byte("pong"))
	require.Equal(t, kerrno.Errno(0), errno)
	assert.Equal(t, 4, n)

	n, errno = client.Read(buf)
	require.Equal(t, kerrno.Errno(0), errno)
	assert.Equal(t, "pong", string(buf[:n]))
}

func TestUnixStream_CloseYieldsEOFToPeer(t *testing.T) {
	r := netstack.NewUnixRegistry()
	listener, _ := r.ListenStream("/tmp/srv2")

	var amu sync.Mutex
	acceptTh := sched.NewThread(0, nil)
	acceptDone := make(chan struct{})
	var server *netstack.UnixConn
	go func() {
		server, _ = listener.Accept(acceptTh, &amu)
		close(acceptDone)
	}()

	time.Sleep(10 * time.Millisecond)
	client, _ := r.DialStream("/tmp/client2", "/tmp/srv2")
	<-acceptDone

	client.Close()

	buf := make([]byte, 16)
	n, errno := server.Read(buf)
	require.Equal(t, kerrno.Errno(0), errno)
	assert.Equal(t, 0, n, "EOF: peer closed its write half")
}

func TestUnixDgramSocket_BindSendReceive(t *testing.T) {
	r := netstack.NewUnixRegistry()
	a := netstack.NewUnixDgramSocket()
	b := netstack.NewUnixDgramSocket()

	require.Equal(t, kerrno.Errno(0), r.BindDgram("/tmp/a.sock", a))
	require.Equal(t, kerrno.Errno(0), r.BindDgram("/tmp/b.sock", b))

	errno := r.SendToDgram("/tmp/a.sock", "/tmp/b.sock", []byte("hi"))
	require.Equal(t, kerrno.Errno(0), errno)

	th := sched.NewThread(0, nil)
	buf := make([]byte, 16)
	n, from, errno := b.Receive(th, buf, netstack.FlagNonblock)
	require.Equal(t, kerrno.Errno(0), errno)
	assert.Equal(t, "hi", string(buf[:n]))
	assert.EqualValues(t, "/tmp/a.sock", from)
}

func TestUnixDgramSocket_SendToUnboundAddressRefused(t *testing.T) {
	r := netstack.NewUnixRegistry()
	errno := r.SendToDgram("/tmp/a.sock", "/tmp/nothing", []byte("x"))
	assert.Equal(t, kerrno.ECONNREFUSED, errno)
}

func TestUnixDgramSocket_ReceiveBlocksThenWakesOnDeliver(t *testing.T) {
	s := netstack.NewUnixDgramSocket()
	th := sched.NewThread(0, nil)

	done := make(chan struct{})
	var n int
	var errno kerrno.Errno
	buf := make([]byte, 16)
	go func() {
		n, _, errno = s.Receive(th, buf, 0)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, sched.Blocked, th.State())

	s.Deliver("/tmp/peer", []byte{1, 2, 3})
	<-done

	assert.Equal(t, kerrno.Errno(0), errno)
	assert.Equal(t, 3, n)
}

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
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreklabs/corekernel/internal/kerrno"
	netstack "github.com/coreklabs/corekernel/internal/net"
	"github.com/coreklabs/corekernel/internal/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// afterNs schedules fire after ns nanoseconds, matching ThreadBlocker's
// `after func(func())` timer-registration hook.
func afterNs(ns int64) func(func()) {
	return func(fire func()) {
		time.AfterFunc(time.Duration(ns), fire)
	}
}

func TestARPCache_ResolveCacheHit(t *testing.T) {
	c := netstack.NewARPCache()
	addr := netstack.IPv4Addr{10, 0, 0, 1}
	mac := netstack.HardwareAddr{1, 2, 3, 4, 5, 6}
	c.Update(addr, mac)

	var mu sync.Mutex
	th := sched.NewThread(0, nil)
	mac2, errno := c.Resolve(th, &mu, addr, func(netstack.IPv4Addr) { t.Fatal("should not broadcast on a cache hit") }, time.Second, nil)
	require.Equal(t, kerrno.Errno(0), errno)
	assert.Equal(t, mac, mac2)
}

func TestARPCache_ResolveMissBroadcastsThenResolvesOnUpdate(t *testing.T) {
	c := netstack.NewARPCache()
	addr := netstack.IPv4Addr{10, 0, 0, 2}
	mac := netstack.HardwareAddr{6, 5, 4, 3, 2, 1}

	var requests int32
	sendRequest := func(a netstack.IPv4Addr) { atomic.AddInt32(&requests, 1) }

	var mu sync.Mutex
	th := sched.NewThread(0, nil)

	done := make(chan struct{})
	var gotMAC netstack.HardwareAddr
	var gotErrno kerrno.Errno
	go func() {
		gotMAC, gotErrno = c.Resolve(th, &mu, addr, sendRequest, time.Second, afterNs(time.Second.Nanoseconds()))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, sched.Blocked, th.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))

	c.Update(addr, mac)
	<-done

	assert.Equal(t, kerrno.Errno(0), gotErrno)
	assert.Equal(t, mac, gotMAC)
}

func TestARPCache_ResolveTimesOutWithoutReply(t *testing.T) {
	c := netstack.NewARPCache()
	addr := netstack.IPv4Addr{10, 0, 0, 3}

	var mu sync.Mutex
	th := sched.NewThread(0, nil)

	mac, errno := c.Resolve(th, &mu, addr, func(netstack.IPv4Addr) {}, 10*time.Millisecond, afterNs((10 * time.Millisecond).Nanoseconds()))

	assert.Equal(t, kerrno.ETIMEDOUT, errno)
	assert.Zero(t, mac)
}

func TestARPCache_ConcurrentResolversShareOneBroadcast(t *testing.T) {
	c := netstack.NewARPCache()
	addr := netstack.IPv4Addr{10, 0, 0, 4}
	mac := netstack.HardwareAddr{9, 9, 9, 9, 9, 9}

	var requests int32
	sendRequest := func(netstack.IPv4Addr) { atomic.AddInt32(&requests, 1) }

	var mu1, mu2 sync.Mutex
	th1 := sched.NewThread(0, nil)
	th2 := sched.NewThread(0, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = c.Resolve(th1, &mu1, addr, sendRequest, time.Second, afterNs(time.Second.Nanoseconds()))
	}()
	go func() {
		defer wg.Done()
		_, _ = c.Resolve(th2, &mu2, addr, sendRequest, time.Second, afterNs(time.Second.Nanoseconds()))
	}()

	time.Sleep(20 * time.Millisecond)
	c.Update(addr, mac)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))
}

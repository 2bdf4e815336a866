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

package usb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/sched"
	"github.com/coreklabs/corekernel/internal/usb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingThrottle is a ratelimit.Throttle stand-in that never actually
// waits, just records how many tokens each Wait call asked for.
type countingThrottle struct {
	mu     sync.Mutex
	claims []uint64
}

func (c *countingThrottle) Capacity() uint64 { return 1 << 20 }

func (c *countingThrottle) Wait(_ context.Context, tokens uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = append(c.claims, tokens)
	return true
}

func TestRing_EnqueueThroughWrapKeepsSize(t *testing.T) {
	r := usb.NewRing(0x1000, 4)
	for i := 0; i < 3; i++ {
		r.Enqueue(usb.TRB{Length: uint32(i)})
	}
	assert.Equal(t, 4, r.Len())
}

func TestEndpoint_SubmitBlocksUntilCompletion(t *testing.T) {
	ring := usb.NewRing(0x4000, 8)
	doorbells := 0
	ep := usb.NewEndpoint(ring, func() { doorbells++ })

	th := sched.NewThread(0, nil)

	done := make(chan struct{})
	var gotErrno kerrno.Errno
	var gotLen uint32
	go func() {
		gotErrno, gotLen = ep.Submit(th, []usb.TRB{{Length: 512}})
		close(done)
	}()

	// Give the submitting goroutine time to park before completing.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, sched.Blocked, th.State())

	ep.CompleteTransfer(th, 0, 512)
	<-done

	assert.Equal(t, kerrno.Errno(0), gotErrno)
	assert.Equal(t, uint32(512), gotLen)
	assert.Equal(t, 1, doorbells)
}

func TestEndpoint_SubmitPropagatesErrorStatus(t *testing.T) {
	ep := usb.NewEndpoint(usb.NewRing(0x5000, 8), func() {})
	th := sched.NewThread(0, nil)

	done := make(chan struct{})
	var gotErrno kerrno.Errno
	go func() {
		gotErrno, _ = ep.Submit(th, []usb.TRB{{Length: 8}})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	ep.CompleteTransfer(th, kerrno.EIO, 0)
	<-done

	assert.Equal(t, kerrno.EIO, gotErrno)
}

func TestEndpoint_ThrottleClaimsOneTokenPerTRB(t *testing.T) {
	ep := usb.NewEndpoint(usb.NewRing(0x6000, 8), func() {})
	throttle := &countingThrottle{}
	ep.SetThrottle(throttle)
	th := sched.NewThread(0, nil)

	done := make(chan struct{})
	go func() {
		ep.Submit(th, []usb.TRB{{Length: 512}, {Length: 512}})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	ep.CompleteTransfer(th, 0, 1024)
	<-done

	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	require.Len(t, throttle.claims, 1)
	assert.Equal(t, uint64(2), throttle.claims[0])
}
